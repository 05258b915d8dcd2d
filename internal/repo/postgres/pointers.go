package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/animus-labs/modelgate/internal/domain"
)

const DefaultPointerName = "/modelops/approved/current"

const (
	upsertPointerQuery = `INSERT INTO approved_pointers (name, run_id, payload, updated_at)
	VALUES ($1,$2,$3,$4)
	ON CONFLICT (name) DO UPDATE SET
		run_id = EXCLUDED.run_id,
		payload = EXCLUDED.payload,
		updated_at = EXCLUDED.updated_at`

	selectPointerQuery = `SELECT payload, updated_at FROM approved_pointers WHERE name = $1`
)

type ApprovedPointer struct {
	Name      string                `json:"name"`
	Signal    domain.ApprovalSignal `json:"signal"`
	UpdatedAt time.Time             `json:"updatedAt"`
}

// PointerStore holds the single named "current approved model" slot.
type PointerStore struct {
	db   DB
	name string
	now  func() time.Time
}

func NewPointerStore(db DB, name string) *PointerStore {
	if db == nil {
		return nil
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultPointerName
	}
	return &PointerStore{db: db, name: name, now: time.Now}
}

func (s *PointerStore) Name() string { return s.name }

func (s *PointerStore) SetApproved(ctx context.Context, signal domain.ApprovalSignal) error {
	if s == nil || s.db == nil {
		return errors.New("pointer store not initialized")
	}
	if strings.TrimSpace(signal.RunID) == "" {
		return errors.New("run id is required")
	}
	payload, err := json.Marshal(signal)
	if err != nil {
		return fmt.Errorf("marshal pointer payload: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, upsertPointerQuery, s.name, signal.RunID, payload, s.now().UTC()); err != nil {
		return fmt.Errorf("update approved pointer %s: %w", s.name, err)
	}
	return nil
}

func (s *PointerStore) GetApproved(ctx context.Context) (ApprovedPointer, error) {
	if s == nil || s.db == nil {
		return ApprovedPointer{}, errors.New("pointer store not initialized")
	}
	var (
		payload   []byte
		updatedAt time.Time
	)
	if err := s.db.QueryRowContext(ctx, selectPointerQuery, s.name).Scan(&payload, &updatedAt); err != nil {
		return ApprovedPointer{}, handleNotFound(err)
	}
	out := ApprovedPointer{Name: s.name, UpdatedAt: updatedAt.UTC()}
	if err := json.Unmarshal(payload, &out.Signal); err != nil {
		return ApprovedPointer{}, fmt.Errorf("decode approved pointer: %w", err)
	}
	return out, nil
}
