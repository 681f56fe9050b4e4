package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

// Query modes select where state queries are answered.
const (
	ModeNone   = "none"   // query variables fail with QUERY_FAILED
	ModeLive   = "live"   // HTTP endpoint
	ModeRecord = "record" // HTTP endpoint, responses saved to the snapshot DB
	ModeReplay = "replay" // snapshot DB only
	ModeStatic = "static" // fixtures file
)

var queryModes = []string{ModeNone, ModeLive, ModeRecord, ModeReplay, ModeStatic}

// Config holds all resolver CLI configuration.
// Priority: flags > env vars > settings.json > defaults.
type Config struct {
	LogLevel       string `json:"log_level"`
	QueryMode      string `json:"query_mode"`
	QueryEndpoint  string `json:"query_endpoint"`
	QueryMethod    string `json:"query_method"`
	QueryTimeout   string `json:"query_timeout"`
	Fixtures       string `json:"fixtures"`
	DBPath         string `json:"db_path"`
	Audit          bool   `json:"audit"`
	CompareEncoded bool   `json:"compare_encoded"`
}

func defaultConfig() Config {
	return Config{
		LogLevel:     "info",
		QueryMethod:  "POST",
		QueryTimeout: "30s",
		DBPath:       filepath.Join(resolverDir(), "resolver.db"),
	}
}

func resolverDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".resolver"
	}
	return filepath.Join(home, ".resolver")
}

func settingsPath() string {
	return filepath.Join(resolverDir(), "settings.json")
}

// loadConfig layers settings.json, RESOLVER_* variables and the flags that
// were explicitly set over the defaults.
func loadConfig(flags *pflag.FlagSet) (Config, error) {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", settingsPath(), err)
		}
	}

	// Layer 3: env vars override.
	envString("RESOLVER_LOG_LEVEL", &cfg.LogLevel)
	envString("RESOLVER_QUERY_MODE", &cfg.QueryMode)
	envString("RESOLVER_QUERY_ENDPOINT", &cfg.QueryEndpoint)
	envString("RESOLVER_QUERY_METHOD", &cfg.QueryMethod)
	envString("RESOLVER_QUERY_TIMEOUT", &cfg.QueryTimeout)
	envString("RESOLVER_FIXTURES", &cfg.Fixtures)
	envString("RESOLVER_DB_PATH", &cfg.DBPath)
	envBool("RESOLVER_AUDIT", &cfg.Audit)
	envBool("RESOLVER_COMPARE_ENCODED", &cfg.CompareEncoded)

	// Layer 4: flags the user actually passed.
	if flags != nil {
		flagString(flags, "log-level", &cfg.LogLevel)
		flagString(flags, "query-mode", &cfg.QueryMode)
		flagString(flags, "endpoint", &cfg.QueryEndpoint)
		flagString(flags, "method", &cfg.QueryMethod)
		flagString(flags, "timeout", &cfg.QueryTimeout)
		flagString(flags, "fixtures", &cfg.Fixtures)
		flagString(flags, "db", &cfg.DBPath)
		flagBool(flags, "audit", &cfg.Audit)
		flagBool(flags, "compare-encoded", &cfg.CompareEncoded)
	}

	// Derive the mode from what is configured when none is given.
	if cfg.QueryMode == "" {
		switch {
		case cfg.QueryEndpoint != "":
			cfg.QueryMode = ModeLive
		case cfg.Fixtures != "":
			cfg.QueryMode = ModeStatic
		default:
			cfg.QueryMode = ModeNone
		}
	}

	return cfg, cfg.validate()
}

func (c Config) validate() error {
	if _, err := c.slogLevel(); err != nil {
		return err
	}
	if _, err := c.timeout(); err != nil {
		return err
	}
	valid := false
	for _, m := range queryModes {
		if c.QueryMode == m {
			valid = true
		}
	}
	if !valid {
		return fmt.Errorf("invalid query mode %q: must be one of %s", c.QueryMode, strings.Join(queryModes, ", "))
	}
	switch c.QueryMode {
	case ModeLive, ModeRecord:
		if c.QueryEndpoint == "" {
			return fmt.Errorf("query mode %s requires a query endpoint", c.QueryMode)
		}
	case ModeStatic:
		if c.Fixtures == "" {
			return fmt.Errorf("query mode %s requires a fixtures file", c.QueryMode)
		}
	}
	return nil
}

// needsStore reports whether the snapshot DB must be opened.
func (c Config) needsStore() bool {
	return c.Audit || c.QueryMode == ModeRecord || c.QueryMode == ModeReplay
}

func (c Config) slogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("invalid log level %q", c.LogLevel)
	}
	return lvl, nil
}

func (c Config) timeout() (time.Duration, error) {
	d, err := time.ParseDuration(c.QueryTimeout)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid query timeout %q", c.QueryTimeout)
	}
	return d, nil
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func flagString(flags *pflag.FlagSet, name string, dst *string) {
	if f := flags.Lookup(name); f != nil && f.Changed {
		*dst = f.Value.String()
	}
}

func flagBool(flags *pflag.FlagSet, name string, dst *bool) {
	if f := flags.Lookup(name); f != nil && f.Changed {
		*dst = f.Value.String() == "true"
	}
}
