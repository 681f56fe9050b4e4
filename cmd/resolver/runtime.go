package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/rendis/resolver/internal/logging"
	"github.com/rendis/resolver/internal/query"
	"github.com/rendis/resolver/internal/resolver"
	"github.com/rendis/resolver/internal/store"
)

// runtime is the wired set of components one command works with.
type runtime struct {
	cfg      Config
	logger   *slog.Logger
	store    *store.LibSQLStore // nil unless the config needs it
	evals    *store.EvaluationLog
	resolver *resolver.Resolver
}

func newLogger(cfg Config, w io.Writer) (*slog.Logger, error) {
	lvl, err := cfg.slogLevel()
	if err != nil {
		return nil, err
	}
	return slog.New(logging.NewCorrelationHandler(
		slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}),
	)), nil
}

// openStore opens and migrates the snapshot DB, creating its directory.
func openStore(ctx context.Context, path string) (*store.LibSQLStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	s, err := store.NewLibSQLStore("file:" + path)
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func newRuntime(ctx context.Context, cfg Config, logOut io.Writer) (*runtime, error) {
	logger, err := newLogger(cfg, logOut)
	if err != nil {
		return nil, err
	}
	rt := &runtime{cfg: cfg, logger: logger}

	if cfg.needsStore() {
		s, err := openStore(ctx, cfg.DBPath)
		if err != nil {
			return nil, err
		}
		rt.store = s
		rt.evals = store.NewEvaluationLog(s)
	}

	querier, err := rt.querier()
	if err != nil {
		rt.Close()
		return nil, err
	}

	rcfg := resolver.Config{
		Querier:        querier,
		Logger:         logger,
		CompareEncoded: cfg.CompareEncoded,
	}
	if cfg.Audit {
		rcfg.Auditor = rt.evals
	}
	rt.resolver, err = resolver.New(rcfg)
	if err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

// querier builds the query capability for the configured mode.
func (rt *runtime) querier() (resolver.QueryCapability, error) {
	switch rt.cfg.QueryMode {
	case ModeLive, ModeRecord:
		timeout, err := rt.cfg.timeout()
		if err != nil {
			return nil, err
		}
		live, err := query.NewHTTPQuerier(query.HTTPConfig{
			Endpoint: rt.cfg.QueryEndpoint,
			Method:   rt.cfg.QueryMethod,
			Timeout:  timeout,
		})
		if err != nil {
			return nil, err
		}
		if rt.cfg.QueryMode == ModeRecord {
			return query.NewRecordingQuerier(live, rt.store, rt.logger), nil
		}
		return live, nil
	case ModeReplay:
		return rt.store, nil
	case ModeStatic:
		fixtures, err := loadFixtures(rt.cfg.Fixtures)
		if err != nil {
			return nil, err
		}
		return query.NewStaticQuerier(fixtures...)
	}
	return nil, nil
}

func (rt *runtime) Close() {
	if rt.store != nil {
		_ = rt.store.Close()
	}
}
