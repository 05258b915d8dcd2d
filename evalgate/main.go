package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/animus-labs/modelgate/internal/domain"
	"github.com/animus-labs/modelgate/internal/platform/httpserver"
	"github.com/animus-labs/modelgate/internal/platform/objectstore"
	"github.com/animus-labs/modelgate/internal/repo/postgres"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := newRootCommand(logger).ExecuteContext(ctx)
	stop()
	os.Exit(exitCode(logger, err))
}

func exitCode(logger *slog.Logger, err error) int {
	if err == nil {
		return exitApproved
	}
	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			logger.Error("evalgate failed", "error", ee.err)
		}
		return ee.code
	}
	logger.Error("evalgate failed", "error", err)
	return exitFailed
}

func newRootCommand(logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "evalgate",
		Short: "Candidate model evaluation gate",
		Long: `evalgate runs the fixed banking evaluation suite against a candidate model,
records the unanimous-pass decision and signals approved models downstream.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(
		newServeCommand(logger),
		newRunCommand(logger),
		newRelayCommand(logger),
		newMigrateCommand(logger),
	)
	return cmd
}

func loadServiceConfig() (serviceConfig, error) {
	cfg, err := serviceConfigFromEnv()
	if err != nil {
		return serviceConfig{}, configError("service", err)
	}
	return cfg, nil
}

func newServeCommand(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the trigger API and run the outbox relay",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadServiceConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := newApp(ctx, logger, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			startupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err = objectstore.CheckBuckets(startupCtx, a.store, a.storeCfg)
			cancel()
			if err != nil {
				return unavailable("object store", err)
			}

			go a.relayLoop(ctx)

			mux := http.NewServeMux()
			mux.HandleFunc("/healthz", httpserver.Healthz(serviceName))
			mux.HandleFunc("/readyz", httpserver.ReadyzWithChecks(serviceName,
				httpserver.ReadinessCheck{
					Name: "postgres",
					Check: func(ctx context.Context) error {
						checkCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
						defer cancel()
						return a.db.PingContext(checkCtx)
					},
				},
				httpserver.ReadinessCheck{
					Name: "minio",
					Check: func(ctx context.Context) error {
						checkCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
						defer cancel()
						return objectstore.CheckBuckets(checkCtx, a.store, a.storeCfg)
					},
				},
			))
			mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
			newEvalAPI(logger, a.orchestrator, a.runs, a.pointers).register(mux)

			srvCfg := httpserver.Config{Service: serviceName, Addr: cfg.Addr, ShutdownTimeout: cfg.ShutdownTimeout}
			if err := httpserver.Run(ctx, logger, srvCfg, httpserver.Wrap(logger, mux)); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server failed: %w", err)
			}
			return nil
		},
	}
}

func (a *app) relayLoop(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.RelayInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			delivered, err := a.relay.Sweep(ctx, a.cfg.RelayBatch)
			if err != nil {
				a.logger.Warn("relay sweep incomplete", "delivered", delivered, "error", err)
			} else if delivered > 0 {
				a.logger.Info("relay sweep", "delivered", delivered)
			}
		}
	}
}

func newRunCommand(logger *slog.Logger) *cobra.Command {
	var modelID, runID, rulesFile string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Evaluate one candidate model and exit with its decision",
		Long: `Runs one evaluation workflow and prints the outcome as JSON.
Exit status: 0 approved, 3 rejected, 1 execution failed, 2 invalid configuration.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadServiceConfig()
			if err != nil {
				return err
			}
			if rulesFile != "" {
				cfg.RulesFile = rulesFile
			}
			ctx := httpserver.WithRequestID(cmd.Context(), uuid.NewString())
			a, err := newApp(ctx, logger, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			res := a.orchestrator.Execute(ctx, domain.Trigger{ModelID: modelID, RunID: runID})
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(outcomeFromResult(res)); err != nil {
				return err
			}
			switch res.State {
			case domain.RunStateApproved:
				return nil
			case domain.RunStateRejected:
				return &exitError{code: exitRejected}
			default:
				return &exitError{code: exitFailed, err: res.Err}
			}
		},
	}
	cmd.Flags().StringVar(&modelID, "model", "", "candidate model id (defaults to EVALGATE_DEFAULT_MODEL_ID)")
	cmd.Flags().StringVar(&runID, "run-id", "", "run id to reuse for a replay")
	cmd.Flags().StringVar(&rulesFile, "rules-file", "", "local prompt rule document instead of the object store pointer")
	return cmd
}

func newRelayCommand(logger *slog.Logger) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Re-deliver pending approval signals once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadServiceConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), logger, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			if limit <= 0 {
				limit = cfg.RelayBatch
			}
			delivered, err := a.relay.Sweep(cmd.Context(), limit)
			logger.Info("relay sweep", "delivered", delivered)
			if err != nil {
				return &exitError{code: exitFailed, err: err}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum signals to deliver (defaults to EVALGATE_RELAY_BATCH)")
	return cmd
}

func newMigrateCommand(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the evaluation tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := openDB(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()
			if err := postgres.Migrate(cmd.Context(), db); err != nil {
				return unavailable("database", err)
			}
			logger.Info("schema applied")
			return nil
		},
	}
}
