package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rendis/resolver/internal/logging"
	"github.com/rendis/resolver/pkg/schema"
)

// rootOptions holds flags that are not part of Config.
type rootOptions struct {
	Format  string
	JobID   string
	CycleID string
}

// execFlags override the exec section of a job file.
type execFlags struct {
	BlockHeight uint64
	Timestamp   uint64
	ChainID     string
}

func (f *execFlags) register(cmd *cobra.Command) {
	cmd.Flags().Uint64Var(&f.BlockHeight, "block-height", 0, "current block height")
	cmd.Flags().Uint64Var(&f.Timestamp, "timestamp", 0, "current block time (unix seconds)")
	cmd.Flags().StringVar(&f.ChainID, "chain-id", "", "chain identifier")
}

func (f *execFlags) apply(cmd *cobra.Command, exec schema.ExecContext) schema.ExecContext {
	if cmd.Flags().Changed("block-height") {
		exec.BlockHeight = f.BlockHeight
	}
	if cmd.Flags().Changed("timestamp") {
		exec.Timestamp = f.Timestamp
	}
	if cmd.Flags().Changed("chain-id") {
		exec.ChainID = f.ChainID
	}
	return exec
}

// NewRootCommand creates the resolver CLI.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "resolver",
		Short: "Variable resolution and condition evaluation for warp jobs",
		Long: `resolver validates job definitions, resolves $warp.variable placeholders,
evaluates job conditions and hydrates instruction templates.

Job files are JSON or YAML documents with condition, terminate_condition,
vars, msgs, external_inputs and exec fields.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.Format != "json" && opts.Format != "text" {
				return commandError(fmt.Errorf("invalid format %q: must be json or text", opts.Format))
			}
			return nil
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&opts.Format, "format", "json", "output format (json|text)")
	pf.StringVar(&opts.JobID, "job-id", "", "job ID attached to logs and the evaluation log")
	pf.StringVar(&opts.CycleID, "cycle-id", "", "evaluation cycle ID (generated when empty)")
	pf.String("log-level", "", "log level (debug|info|warn|error)")
	pf.String("query-mode", "", "where queries are answered (none|live|record|replay|static)")
	pf.String("endpoint", "", "query endpoint URL")
	pf.String("method", "", "query HTTP method (GET|POST)")
	pf.String("timeout", "", "query timeout, e.g. 10s")
	pf.String("fixtures", "", "query fixtures file for static mode")
	pf.String("db", "", "snapshot database path")
	pf.Bool("audit", false, "record every entry point call in the evaluation log")
	pf.Bool("compare-encoded", false, "compare encoded variables by their encoded text in conditions")

	cmd.AddCommand(newValidateCommand(opts))
	cmd.AddCommand(newHydrateVarsCommand(opts))
	cmd.AddCommand(newResolveConditionCommand(opts))
	cmd.AddCommand(newApplyVarFnCommand(opts))
	cmd.AddCommand(newHydrateMsgsCommand(opts))
	cmd.AddCommand(newSimulateQueryCommand(opts))
	cmd.AddCommand(newEvaluateCommand(opts))
	cmd.AddCommand(newMigrateCommand(opts))
	cmd.AddCommand(newSnapshotsCommand(opts))
	cmd.AddCommand(newCycleCommand(opts))
	cmd.AddCommand(newServeCommand())
	cmd.AddCommand(newVersionCommand())

	return cmd
}

// session is what an entry point command needs: a runtime, a printer and a
// context carrying the correlation IDs.
type session struct {
	rt  *runtime
	out *printer
	ctx context.Context
}

func startSession(cmd *cobra.Command, opts *rootOptions) (*session, error) {
	cfg, err := loadConfig(cmd.Flags())
	if err != nil {
		return nil, commandError(err)
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	rt, err := newRuntime(ctx, cfg, cmd.ErrOrStderr())
	if err != nil {
		return nil, commandError(err)
	}
	return &session{
		rt:  rt,
		out: &printer{format: opts.Format, out: cmd.OutOrStdout(), errOut: cmd.ErrOrStderr()},
		ctx: logging.WithIDs(ctx, opts.JobID, opts.CycleID),
	}, nil
}

func (s *session) loadJob(cmd *cobra.Command, path string) (*job, error) {
	j, err := loadJob(path, cmd.InOrStdin())
	if err != nil {
		return nil, commandError(err)
	}
	return j, nil
}

func newValidateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <job-file>",
		Short: "Validate a job definition before creation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := startSession(cmd, opts)
			if err != nil {
				return err
			}
			defer s.rt.Close()

			j, err := s.loadJob(cmd, args[0])
			if err != nil {
				return err
			}
			if err := s.rt.resolver.ValidateJobCreation(s.ctx, j.Definition); err != nil {
				return s.out.failure(err)
			}
			return s.out.result(map[string]bool{"valid": true})
		},
	}
}

func newHydrateVarsCommand(opts *rootOptions) *cobra.Command {
	var ef execFlags
	cmd := &cobra.Command{
		Use:   "hydrate-vars <job-file>",
		Short: "Resolve every variable of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := startSession(cmd, opts)
			if err != nil {
				return err
			}
			defer s.rt.Close()

			j, err := s.loadJob(cmd, args[0])
			if err != nil {
				return err
			}
			out, err := s.rt.resolver.HydrateVars(s.ctx, j.Definition.Vars, j.ExternalInputs, ef.apply(cmd, j.Exec))
			if err != nil {
				return s.out.failure(err)
			}
			return s.out.result(out)
		},
	}
	ef.register(cmd)
	return cmd
}

func newResolveConditionCommand(opts *rootOptions) *cobra.Command {
	var (
		ef      execFlags
		hydrate bool
	)
	cmd := &cobra.Command{
		Use:   "resolve-condition <job-file>",
		Short: "Evaluate a job condition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := startSession(cmd, opts)
			if err != nil {
				return err
			}
			defer s.rt.Close()

			j, err := s.loadJob(cmd, args[0])
			if err != nil {
				return err
			}
			exec := ef.apply(cmd, j.Exec)
			vars := j.Definition.Vars
			if hydrate {
				if vars, err = s.rt.resolver.HydrateVars(s.ctx, vars, j.ExternalInputs, exec); err != nil {
					return s.out.failure(err)
				}
			}
			ok, err := s.rt.resolver.ResolveCondition(s.ctx, j.Definition.Condition, vars, exec)
			if err != nil {
				return s.out.failure(err)
			}
			return s.out.result(ok)
		},
	}
	ef.register(cmd)
	cmd.Flags().BoolVar(&hydrate, "hydrate", false, "hydrate vars before evaluating")
	return cmd
}

func newApplyVarFnCommand(opts *rootOptions) *cobra.Command {
	var (
		ef     execFlags
		status string
	)
	cmd := &cobra.Command{
		Use:   "apply-var-fn <job-file>",
		Short: "Apply variable update functions for a job status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := startSession(cmd, opts)
			if err != nil {
				return err
			}
			defer s.rt.Close()

			j, err := s.loadJob(cmd, args[0])
			if err != nil {
				return err
			}
			out, err := s.rt.resolver.ApplyVarFn(s.ctx, j.Definition.Vars, schema.JobStatus(status), ef.apply(cmd, j.Exec))
			if err != nil {
				return s.out.failure(err)
			}
			return s.out.result(out)
		},
	}
	ef.register(cmd)
	cmd.Flags().StringVar(&status, "status", "", "job status (pending|executed|failed|cancelled|evicted)")
	_ = cmd.MarkFlagRequired("status")
	return cmd
}

func newHydrateMsgsCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "hydrate-msgs <job-file>",
		Short: "Substitute variable values into instruction templates",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := startSession(cmd, opts)
			if err != nil {
				return err
			}
			defer s.rt.Close()

			j, err := s.loadJob(cmd, args[0])
			if err != nil {
				return err
			}
			out, err := s.rt.resolver.HydrateMsgs(s.ctx, j.Definition.Msgs, j.Definition.Vars)
			if err != nil {
				return s.out.failure(err)
			}
			return s.out.result(out)
		},
	}
}

func newSimulateQueryCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "simulate-query <query-json | @file>",
		Short: "Run a raw state query and print the whole response",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := startSession(cmd, opts)
			if err != nil {
				return err
			}
			defer s.rt.Close()

			q, err := inlineOrFile(args[0], cmd.InOrStdin())
			if err != nil {
				return commandError(err)
			}
			resp, err := s.rt.resolver.SimulateQuery(s.ctx, q)
			if err != nil {
				return s.out.failure(err)
			}
			if s.out.format == "text" {
				return s.out.result(resp.Response)
			}
			return s.out.result(resp)
		},
	}
}
