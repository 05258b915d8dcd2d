package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/animus-labs/modelgate/internal/domain"
)

// DefaultPendingMinAge keeps the relay away from outbox rows the aggregator
// may still be delivering inline.
const DefaultPendingMinAge = time.Minute

type RunStore struct {
	db            TxDB
	now           func() time.Time
	pendingMinAge time.Duration
}

const (
	insertRunQuery = `INSERT INTO evaluation_runs (
		run_id,
		model_id,
		created_at,
		approved,
		results,
		integrity_sha256
	) VALUES ($1,$2,$3,$4,$5,$6)
	ON CONFLICT (run_id) DO NOTHING
	RETURNING run_id`

	selectRunIntegrityQuery = `SELECT integrity_sha256 FROM evaluation_runs WHERE run_id = $1`

	insertOutboxQuery = `INSERT INTO approval_outbox (run_id, payload, created_at)
	VALUES ($1,$2,$3)
	ON CONFLICT (run_id) DO NOTHING`

	selectRunQuery = `SELECT run_id, model_id, created_at, approved, results, integrity_sha256
	 FROM evaluation_runs
	 WHERE run_id = $1`

	listRunsQuery = `SELECT run_id, model_id, created_at, approved, results, integrity_sha256
	 FROM evaluation_runs
	 ORDER BY created_at DESC, run_id
	 LIMIT $1`

	pendingSignalsQuery = `SELECT payload
	 FROM approval_outbox
	 WHERE delivered_at IS NULL
	   AND created_at < $2
	 ORDER BY created_at ASC, run_id
	 LIMIT $1`

	markDeliveredQuery = `UPDATE approval_outbox
	 SET delivered_at = $2
	 WHERE run_id = $1 AND delivered_at IS NULL`
)

func NewRunStore(db TxDB) *RunStore {
	if db == nil {
		return nil
	}
	return &RunStore{db: db, now: time.Now, pendingMinAge: DefaultPendingMinAge}
}

// SaveRun writes the run and, for an approved run, its outbox row in one
// transaction. The first write for a run id wins.
func (s *RunStore) SaveRun(ctx context.Context, run domain.Run) (bool, error) {
	if s == nil || s.db == nil {
		return false, errors.New("run store not initialized")
	}
	if err := run.Validate(); err != nil {
		return false, err
	}
	resultsJSON, err := json.Marshal(run.Results)
	if err != nil {
		return false, fmt.Errorf("marshal results: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin save run: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var insertedID string
	err = tx.QueryRowContext(
		ctx,
		insertRunQuery,
		run.ID,
		strings.TrimSpace(run.ModelID),
		run.CreatedAt.UTC(),
		run.Approved,
		resultsJSON,
		run.IntegritySHA256,
	).Scan(&insertedID)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return false, fmt.Errorf("insert run: %w", err)
		}
		var stored string
		if err := tx.QueryRowContext(ctx, selectRunIntegrityQuery, run.ID).Scan(&stored); err != nil {
			return false, fmt.Errorf("load stored run: %w", err)
		}
		if stored != run.IntegritySHA256 {
			return false, domain.ErrRunConflict
		}
		return false, nil
	}

	if run.Approved {
		payload, err := json.Marshal(run.Signal())
		if err != nil {
			return false, fmt.Errorf("marshal approval signal: %w", err)
		}
		if _, err := tx.ExecContext(ctx, insertOutboxQuery, run.ID, payload, run.CreatedAt.UTC()); err != nil {
			return false, fmt.Errorf("insert outbox: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit save run: %w", err)
	}
	return true, nil
}

func (s *RunStore) GetRun(ctx context.Context, runID string) (domain.Run, error) {
	if s == nil || s.db == nil {
		return domain.Run{}, errors.New("run store not initialized")
	}
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return domain.Run{}, errors.New("run id is required")
	}
	run, err := scanRun(s.db.QueryRowContext(ctx, selectRunQuery, runID))
	if err != nil {
		return domain.Run{}, handleNotFound(err)
	}
	return run, nil
}

func (s *RunStore) ListRuns(ctx context.Context, limit int) ([]domain.Run, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("run store not initialized")
	}
	rows, err := s.db.QueryContext(ctx, listRunsQuery, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	out := []domain.Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func (s *RunStore) PendingSignals(ctx context.Context, limit int) ([]domain.ApprovalSignal, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("run store not initialized")
	}
	rows, err := s.db.QueryContext(ctx, pendingSignalsQuery, clampLimit(limit), s.pendingCutoff())
	if err != nil {
		return nil, fmt.Errorf("list pending signals: %w", err)
	}
	defer rows.Close()

	out := []domain.ApprovalSignal{}
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var signal domain.ApprovalSignal
		if err := json.Unmarshal(payload, &signal); err != nil {
			return nil, fmt.Errorf("decode outbox payload: %w", err)
		}
		out = append(out, signal)
	}
	return out, rows.Err()
}

// pendingCutoff is the newest outbox created_at the relay may claim.
func (s *RunStore) pendingCutoff() time.Time {
	return s.now().UTC().Add(-s.pendingMinAge)
}

func (s *RunStore) MarkSignalDelivered(ctx context.Context, runID string) error {
	if s == nil || s.db == nil {
		return errors.New("run store not initialized")
	}
	if _, err := s.db.ExecContext(ctx, markDeliveredQuery, runID, s.now().UTC()); err != nil {
		return fmt.Errorf("mark signal delivered: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (domain.Run, error) {
	var (
		run         domain.Run
		resultsJSON []byte
	)
	if err := row.Scan(&run.ID, &run.ModelID, &run.CreatedAt, &run.Approved, &resultsJSON, &run.IntegritySHA256); err != nil {
		return domain.Run{}, err
	}
	if err := json.Unmarshal(resultsJSON, &run.Results); err != nil {
		return domain.Run{}, fmt.Errorf("decode results for run %s: %w", run.ID, err)
	}
	run.CreatedAt = run.CreatedAt.UTC()
	return run, nil
}
