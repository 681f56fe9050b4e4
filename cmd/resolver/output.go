package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/rendis/resolver/pkg/schema"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // an entry point reported a ResolverError
	ExitCommandError = 2 // bad flags, unreadable files, unusable config
)

// ExitError carries the process exit code for a failed command.
type ExitError struct {
	Code     int
	Err      error
	Reported bool // already written to the error stream
}

func (e *ExitError) Error() string { return e.Err.Error() }

func (e *ExitError) Unwrap() error { return e.Err }

func commandError(err error) error {
	return &ExitError{Code: ExitCommandError, Err: err}
}

// reported tells whether err was already printed by a command.
func reported(err error) bool {
	var exitErr *ExitError
	return errors.As(err, &exitErr) && exitErr.Reported
}

// exitCode maps an error to a process exit code. Resolver errors are ordinary
// failures; everything else is a command error.
func exitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	var rerr *schema.ResolverError
	if errors.As(err, &rerr) {
		return ExitFailure
	}
	return ExitCommandError
}

// printer writes command results in the selected format.
type printer struct {
	format string // "json" | "text"
	out    io.Writer
	errOut io.Writer
}

// result prints v. In text mode strings and bools are printed bare.
func (p *printer) result(v any) error {
	if p.format == "text" {
		switch t := v.(type) {
		case string:
			_, err := fmt.Fprintln(p.out, t)
			return err
		case bool:
			_, err := fmt.Fprintln(p.out, t)
			return err
		}
	}
	enc := json.NewEncoder(p.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// failure prints err to the error stream, as JSON for resolver errors in json
// mode, and returns it so cobra reports a non-zero exit.
func (p *printer) failure(err error) error {
	var rerr *schema.ResolverError
	if p.format == "json" && errors.As(err, &rerr) {
		enc := json.NewEncoder(p.errOut)
		enc.SetIndent("", "  ")
		_ = enc.Encode(map[string]any{"error": rerr})
	} else {
		fmt.Fprintln(p.errOut, "error:", err)
	}
	return &ExitError{Code: exitCode(err), Err: err, Reported: true}
}
