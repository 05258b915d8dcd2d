package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/animus-labs/modelgate/internal/aggregator"
	"github.com/animus-labs/modelgate/internal/evaluator"
	"github.com/animus-labs/modelgate/internal/events"
	"github.com/animus-labs/modelgate/internal/inference"
	"github.com/animus-labs/modelgate/internal/orchestrator"
	"github.com/animus-labs/modelgate/internal/platform/auditlog"
	"github.com/animus-labs/modelgate/internal/platform/objectstore"
	platformpg "github.com/animus-labs/modelgate/internal/platform/postgres"
	"github.com/animus-labs/modelgate/internal/promptwrap"
	"github.com/animus-labs/modelgate/internal/repo/postgres"
	"github.com/animus-labs/modelgate/internal/selector"
)

const (
	exitApproved  = 0
	exitFailed    = 1
	exitBadConfig = 2
	exitRejected  = 3
	serviceName   = "evalgate"
)

// exitError carries the process exit code out of a cobra command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func configError(what string, err error) error {
	return &exitError{code: exitBadConfig, err: fmt.Errorf("invalid %s config: %w", what, err)}
}

func unavailable(what string, err error) error {
	return &exitError{code: exitFailed, err: fmt.Errorf("%s unavailable: %w", what, err)}
}

func openDB(ctx context.Context) (*sql.DB, error) {
	dbCfg, err := platformpg.ConfigFromEnv()
	if err != nil {
		return nil, configError("database", err)
	}
	db, err := platformpg.Open(ctx, dbCfg)
	if err != nil {
		return nil, unavailable("database", err)
	}
	return db, nil
}

type app struct {
	logger       *slog.Logger
	cfg          serviceConfig
	db           *sql.DB
	store        *minio.Client
	storeCfg     objectstore.Config
	runs         *postgres.RunStore
	pointers     *postgres.PointerStore
	orchestrator *orchestrator.Orchestrator
	relay        *aggregator.Relay
	registry     *prometheus.Registry
}

func (a *app) Close() {
	if a.db != nil {
		_ = a.db.Close()
	}
}

func newApp(ctx context.Context, logger *slog.Logger, cfg serviceConfig) (*app, error) {
	db, err := openDB(ctx)
	if err != nil {
		return nil, err
	}
	a := &app{logger: logger, cfg: cfg, db: db}
	if err := a.wire(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire() error {
	storeCfg, err := objectstore.ConfigFromEnv()
	if err != nil {
		return configError("object store", err)
	}
	client, err := objectstore.NewMinIOClient(storeCfg)
	if err != nil {
		return configError("object store", err)
	}
	reader, err := objectstore.NewReader(client)
	if err != nil {
		return configError("object store", err)
	}
	a.store, a.storeCfg = client, storeCfg

	var loader promptwrap.Loader = promptwrap.ObjectStoreLoader{
		Reader:        reader,
		PointerBucket: storeCfg.BucketConfig,
		PointerKey:    a.cfg.RulesPointerKey,
	}
	if path := strings.TrimSpace(a.cfg.RulesFile); path != "" {
		loader = promptwrap.FileLoader{Path: path}
	}
	wrapper := promptwrap.New(loader)

	sel := selector.New(reader, storeCfg.BucketDatasets,
		selector.WithPrefix(a.cfg.DatasetPrefix),
		selector.WithMaxKeys(a.cfg.DatasetMaxKeys),
	)

	infCfg, err := inference.ConfigFromEnv()
	if err != nil {
		return configError("inference", err)
	}
	invoker, err := inference.NewOpenAIClient(infCfg)
	if err != nil {
		return configError("inference", err)
	}
	suite := evaluator.Suite(evaluator.SuiteConfig{
		Candidate:    invoker,
		Judge:        invoker,
		Wrapper:      wrapper,
		JudgeModelID: a.cfg.JudgeModelID,
		LatencyRuns:  a.cfg.LatencyRuns,
		LatencySLA:   a.cfg.LatencySLA,
		Logger:       a.logger,
	})

	publisher, err := a.publisher()
	if err != nil {
		return configError("event sink", err)
	}
	a.runs = postgres.NewRunStore(a.db)
	a.pointers = postgres.NewPointerStore(a.db, a.cfg.PointerName)
	agg := aggregator.New(a.runs, publisher, a.pointers, a.logger)
	a.relay = aggregator.NewRelay(a.runs, publisher, a.pointers, a.logger)

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	orch, err := orchestrator.New(sel, suite, agg, a.cfg.orchestratorConfig(), a.logger,
		orchestrator.WithMetrics(orchestrator.NewMetrics(a.registry)),
		orchestrator.WithAuditor(auditlog.NewTransitionRecorder(a.db, serviceName)),
	)
	if err != nil {
		return configError("orchestrator", err)
	}
	a.orchestrator = orch
	return nil
}

func (a *app) publisher() (aggregator.Publisher, error) {
	switch a.cfg.EventSink {
	case sinkWebhook:
		return events.NewWebhookPublisher(a.cfg.WebhookURL, a.cfg.WebhookTimeout)
	case sinkPGNotify:
		return events.NewPGNotifyPublisher(a.db, a.cfg.NotifyChannel)
	default:
		return nil, errors.New("unknown event sink " + a.cfg.EventSink)
	}
}
