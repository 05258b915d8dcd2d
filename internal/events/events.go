// Package events publishes ModelApproved notifications for downstream
// deployment.
package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/animus-labs/modelgate/internal/domain"
)

const (
	Source         = "evaluator"
	TypeApproved   = "ModelApproved"
	DefaultChannel = "model_approved"
	maxNotifyBytes = 8000
)

type Envelope struct {
	Source string                `json:"source"`
	Type   string                `json:"type"`
	Detail domain.ApprovalSignal `json:"detail"`
}

func NewEnvelope(signal domain.ApprovalSignal) Envelope {
	return Envelope{Source: Source, Type: TypeApproved, Detail: signal}
}

// Execer is satisfied by *sql.DB and *sql.Tx.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// PGNotifyPublisher sends the envelope as a NOTIFY payload on channel.
type PGNotifyPublisher struct {
	db      Execer
	channel string
}

func NewPGNotifyPublisher(db Execer, channel string) (*PGNotifyPublisher, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	channel = strings.TrimSpace(channel)
	if channel == "" {
		channel = DefaultChannel
	}
	return &PGNotifyPublisher{db: db, channel: channel}, nil
}

func (p *PGNotifyPublisher) Publish(ctx context.Context, signal domain.ApprovalSignal) error {
	payload, err := json.Marshal(NewEnvelope(signal))
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if len(payload) >= maxNotifyBytes {
		return fmt.Errorf("envelope for run %s is %d bytes, over the notify limit", signal.RunID, len(payload))
	}
	if _, err := p.db.ExecContext(ctx, `SELECT pg_notify($1, $2)`, p.channel, string(payload)); err != nil {
		return fmt.Errorf("pg_notify %s: %w", p.channel, err)
	}
	return nil
}
