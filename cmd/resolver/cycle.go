package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/rendis/resolver/internal/logging"
	"github.com/rendis/resolver/internal/migrate"
	"github.com/rendis/resolver/internal/store"
	"github.com/rendis/resolver/pkg/mcp"
)

// cycleResult is the outcome of one evaluate run.
type cycleResult struct {
	CycleID    string `json:"cycle_id"`
	Terminated bool   `json:"terminated"`
	Condition  bool   `json:"condition"`
	Vars       string `json:"vars"`
	Msgs       string `json:"msgs,omitempty"`
}

// newEvaluateCommand runs the per-cycle sequence a keeper performs: hydrate
// vars, check the termination condition, evaluate the condition and, when it
// holds, hydrate the instructions. All calls share one cycle ID.
func newEvaluateCommand(opts *rootOptions) *cobra.Command {
	var ef execFlags
	cmd := &cobra.Command{
		Use:   "evaluate <job-file>",
		Short: "Run a full evaluation cycle for a job",
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
			ctx := s.ctx
			if logging.CycleID(ctx) == "" {
				ctx = logging.WithCycleID(ctx, uuid.New().String())
			}
			exec := ef.apply(cmd, j.Exec)
			res := cycleResult{CycleID: logging.CycleID(ctx)}

			res.Vars, err = s.rt.resolver.HydrateVars(ctx, j.Definition.Vars, j.ExternalInputs, exec)
			if err != nil {
				return s.out.failure(err)
			}
			if j.Definition.TerminateCondition != "" {
				res.Terminated, err = s.rt.resolver.ResolveCondition(ctx, j.Definition.TerminateCondition, res.Vars, exec)
				if err != nil {
					return s.out.failure(err)
				}
				if res.Terminated {
					return s.out.result(res)
				}
			}
			res.Condition, err = s.rt.resolver.ResolveCondition(ctx, j.Definition.Condition, res.Vars, exec)
			if err != nil {
				return s.out.failure(err)
			}
			if res.Condition {
				if res.Msgs, err = s.rt.resolver.HydrateMsgs(ctx, j.Definition.Msgs, res.Vars); err != nil {
					return s.out.failure(err)
				}
			}
			return s.out.result(res)
		},
	}
	ef.register(cmd)
	return cmd
}

// migrateResult is printed by the migrate command.
type migrateResult struct {
	Job    *migrate.Job    `json:"job"`
	Report *migrate.Report `json:"report"`
}

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	var skipValidate bool
	cmd := &cobra.Command{
		Use:   "migrate <legacy-job-file>",
		Short: "Convert a legacy job to the current shape",
		Long: `Convert a legacy job (single condition and msgs, static variables with a
plain value) to the current shape. The converted executions are validated
unless --skip-validate is set.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := startSession(cmd, opts)
			if err != nil {
				return err
			}
			defer s.rt.Close()

			data, err := readSource(args[0], cmd.InOrStdin())
			if err != nil {
				return commandError(err)
			}
			if data, err = toJSON(args[0], data); err != nil {
				return commandError(err)
			}
			old, err := migrate.ParseLegacyJob(data)
			if err != nil {
				return s.out.failure(err)
			}
			converted, report, err := migrate.ConvertJob(old)
			if err != nil {
				return s.out.failure(err)
			}
			if !skipValidate {
				for _, def := range converted.Definitions() {
					if err := s.rt.resolver.ValidateJobCreation(s.ctx, def); err != nil {
						return s.out.failure(err)
					}
				}
			}
			return s.out.result(migrateResult{Job: converted, Report: report})
		},
	}
	cmd.Flags().BoolVar(&skipValidate, "skip-validate", false, "do not validate the converted job")
	return cmd
}

// storeSession opens the snapshot DB named by the config, whatever the mode.
func storeSession(cmd *cobra.Command, opts *rootOptions) (*store.LibSQLStore, *printer, error) {
	cfg, err := loadConfig(cmd.Flags())
	if err != nil {
		return nil, nil, commandError(err)
	}
	s, err := openStore(cmd.Context(), cfg.DBPath)
	if err != nil {
		return nil, nil, commandError(err)
	}
	return s, &printer{format: opts.Format, out: cmd.OutOrStdout(), errOut: cmd.ErrOrStderr()}, nil
}

func newSnapshotsCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshots",
		Short: "Inspect recorded query snapshots",
	}

	var (
		limit int
		since time.Duration
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List recorded snapshots, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, out, err := storeSession(cmd, opts)
			if err != nil {
				return err
			}
			defer s.Close()

			filter := store.SnapshotFilter{Limit: limit}
			if since > 0 {
				t := time.Now().Add(-since)
				filter.Since = &t
			}
			snaps, err := s.ListSnapshots(cmd.Context(), filter)
			if err != nil {
				return out.failure(err)
			}
			if snaps == nil {
				snaps = []*store.Snapshot{}
			}
			return out.result(snaps)
		},
	}
	list.Flags().IntVar(&limit, "limit", 50, "maximum snapshots to list")
	list.Flags().DurationVar(&since, "since", 0, "only snapshots recorded within this duration")

	del := &cobra.Command{
		Use:   "delete <hash>",
		Short: "Delete a snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, out, err := storeSession(cmd, opts)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.DeleteSnapshot(cmd.Context(), args[0]); err != nil {
				return out.failure(err)
			}
			return out.result(map[string]any{"deleted": args[0]})
		},
	}

	cmd.AddCommand(list, del)
	return cmd
}

func newCycleCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cycle <cycle-id>",
		Short: "Summarize the logged calls of an evaluation cycle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, out, err := storeSession(cmd, opts)
			if err != nil {
				return err
			}
			defer s.Close()

			summary, err := store.NewEvaluationLog(s).Summarize(cmd.Context(), args[0])
			if err != nil {
				return out.failure(err)
			}
			return out.result(summary)
		},
	}
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the resolver tools over MCP stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd.Flags())
			if err != nil {
				return commandError(err)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			// stdout carries the MCP protocol, so logs go to stderr.
			rt, err := newRuntime(ctx, cfg, cmd.ErrOrStderr())
			if err != nil {
				return commandError(err)
			}
			defer rt.Close()

			srv := mcp.NewResolverServer(mcp.ResolverServerDeps{
				Resolver:    rt.resolver,
				Evaluations: rt.evals,
				Logger:      rt.logger,
				Version:     version,
			})
			rt.logger.Info("serving MCP on stdio", "query_mode", cfg.QueryMode, "audit", cfg.Audit)
			if err := srv.Serve(ctx); err != nil && ctx.Err() == nil {
				return fmt.Errorf("mcp serve: %w", err)
			}
			return nil
		},
	}
}
