package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/animus-labs/modelgate/internal/evaluator"
	"github.com/animus-labs/modelgate/internal/events"
	"github.com/animus-labs/modelgate/internal/orchestrator"
	"github.com/animus-labs/modelgate/internal/platform/env"
	"github.com/animus-labs/modelgate/internal/repo/postgres"
	"github.com/animus-labs/modelgate/internal/selector"
)

const (
	sinkPGNotify = "pgnotify"
	sinkWebhook  = "webhook"
)

type serviceConfig struct {
	Addr            string
	ShutdownTimeout time.Duration

	DefaultModelID string
	JudgeModelID   string
	LatencyRuns    int
	LatencySLA     time.Duration

	BranchTimeout     time.Duration
	BranchMaxAttempts int
	BranchBackoff     time.Duration
	RunTimeout        time.Duration

	DatasetPrefix  string
	DatasetMaxKeys int

	// RulesFile, when set, replaces the object-store rule pointer.
	RulesFile       string
	RulesPointerKey string

	EventSink      string
	NotifyChannel  string
	WebhookURL     string
	WebhookTimeout time.Duration
	PointerName    string

	RelayInterval time.Duration
	RelayBatch    int
}

func serviceConfigFromEnv() (serviceConfig, error) {
	var errs []error
	duration := func(key string, def time.Duration) time.Duration {
		v, err := env.Duration(key, def)
		errs = append(errs, err)
		return v
	}
	integer := func(key string, def int) int {
		v, err := env.Int(key, def)
		errs = append(errs, err)
		return v
	}

	cfg := serviceConfig{
		Addr:              env.String("EVALGATE_HTTP_ADDR", ":8090"),
		ShutdownTimeout:   duration("EVALGATE_SHUTDOWN_TIMEOUT", 10*time.Second),
		DefaultModelID:    env.String("EVALGATE_DEFAULT_MODEL_ID", "anthropic.claude-3-haiku-20240307-v1:0"),
		JudgeModelID:      env.String("EVALGATE_JUDGE_MODEL_ID", evaluator.DefaultJudgeModelID),
		LatencyRuns:       integer("EVALGATE_LATENCY_RUNS", evaluator.DefaultLatencyRuns),
		LatencySLA:        duration("EVALGATE_LATENCY_SLA", evaluator.DefaultLatencySLA),
		BranchTimeout:     duration("EVALGATE_BRANCH_TIMEOUT", orchestrator.DefaultBranchTimeout),
		BranchMaxAttempts: integer("EVALGATE_BRANCH_MAX_ATTEMPTS", orchestrator.DefaultMaxAttempts),
		BranchBackoff:     duration("EVALGATE_BRANCH_BACKOFF", orchestrator.DefaultBackoff),
		RunTimeout:        duration("EVALGATE_RUN_TIMEOUT", orchestrator.DefaultRunTimeout),
		DatasetPrefix:     env.String("EVALGATE_DATASET_PREFIX", ""),
		DatasetMaxKeys:    integer("EVALGATE_DATASET_MAX_KEYS", selector.DefaultMaxKeys),
		RulesFile:         env.String("EVALGATE_RULES_FILE", ""),
		RulesPointerKey:   env.String("EVALGATE_RULES_POINTER_KEY", "prompt-rules/current.json"),
		EventSink:         strings.ToLower(env.String("EVALGATE_EVENT_SINK", sinkPGNotify)),
		NotifyChannel:     env.String("EVALGATE_NOTIFY_CHANNEL", events.DefaultChannel),
		WebhookURL:        env.String("EVALGATE_WEBHOOK_URL", ""),
		WebhookTimeout:    duration("EVALGATE_WEBHOOK_TIMEOUT", 10*time.Second),
		PointerName:       env.String("EVALGATE_APPROVED_POINTER", postgres.DefaultPointerName),
		RelayInterval:     duration("EVALGATE_RELAY_INTERVAL", time.Minute),
		RelayBatch:        integer("EVALGATE_RELAY_BATCH", 50),
	}
	if err := errors.Join(errs...); err != nil {
		return serviceConfig{}, err
	}
	if err := cfg.Validate(); err != nil {
		return serviceConfig{}, err
	}
	return cfg, nil
}

func (c serviceConfig) Validate() error {
	if strings.TrimSpace(c.DefaultModelID) == "" {
		return errors.New("EVALGATE_DEFAULT_MODEL_ID is required")
	}
	if c.LatencyRuns < 1 {
		return errors.New("EVALGATE_LATENCY_RUNS must be >= 1")
	}
	if c.LatencySLA <= 0 {
		return errors.New("EVALGATE_LATENCY_SLA must be positive")
	}
	if c.BranchTimeout <= 0 || c.RunTimeout <= 0 {
		return errors.New("EVALGATE_BRANCH_TIMEOUT and EVALGATE_RUN_TIMEOUT must be positive")
	}
	if c.BranchMaxAttempts < 1 {
		return errors.New("EVALGATE_BRANCH_MAX_ATTEMPTS must be >= 1")
	}
	if c.BranchBackoff < 0 {
		return errors.New("EVALGATE_BRANCH_BACKOFF must be >= 0")
	}
	if c.DatasetMaxKeys < 1 {
		return errors.New("EVALGATE_DATASET_MAX_KEYS must be >= 1")
	}
	if strings.TrimSpace(c.RulesFile) == "" && strings.TrimSpace(c.RulesPointerKey) == "" {
		return errors.New("EVALGATE_RULES_FILE or EVALGATE_RULES_POINTER_KEY is required")
	}
	switch c.EventSink {
	case sinkPGNotify:
	case sinkWebhook:
		if strings.TrimSpace(c.WebhookURL) == "" {
			return errors.New("EVALGATE_WEBHOOK_URL is required for the webhook sink")
		}
	default:
		return fmt.Errorf("EVALGATE_EVENT_SINK must be %s or %s", sinkPGNotify, sinkWebhook)
	}
	if c.RelayInterval <= 0 || c.RelayBatch < 1 {
		return errors.New("EVALGATE_RELAY_INTERVAL and EVALGATE_RELAY_BATCH must be positive")
	}
	return nil
}

func (c serviceConfig) orchestratorConfig() orchestrator.Config {
	return orchestrator.Config{
		DefaultModelID: c.DefaultModelID,
		Branch: orchestrator.RetryPolicy{
			Timeout:     c.BranchTimeout,
			MaxAttempts: c.BranchMaxAttempts,
			Backoff:     c.BranchBackoff,
		},
		RunTimeout: c.RunTimeout,
	}
}
