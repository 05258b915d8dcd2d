package postgres

import (
	"database/sql"
	"strings"
	"testing"
	"time"
)

func TestRunInsertQueryIsFirstWriteWins(t *testing.T) {
	if !strings.Contains(insertRunQuery, "ON CONFLICT (run_id) DO NOTHING") {
		t.Fatalf("expected run id conflict clause in insert query")
	}
	if !strings.Contains(insertRunQuery, "RETURNING run_id") {
		t.Fatalf("expected insert to report whether a row was created")
	}
	if !strings.Contains(selectRunIntegrityQuery, "run_id = $1") {
		t.Fatalf("expected run id predicate in integrity lookup")
	}
}

func TestOutboxQueries(t *testing.T) {
	if !strings.Contains(insertOutboxQuery, "ON CONFLICT (run_id) DO NOTHING") {
		t.Fatalf("expected idempotent outbox insert")
	}
	if !strings.Contains(pendingSignalsQuery, "delivered_at IS NULL") || !strings.Contains(pendingSignalsQuery, "LIMIT $1") {
		t.Fatalf("expected pending filter and limit, got %s", pendingSignalsQuery)
	}
	if !strings.Contains(pendingSignalsQuery, "created_at < $2") {
		t.Fatalf("expected minimum-age filter, got %s", pendingSignalsQuery)
	}
	if !strings.Contains(pendingSignalsQuery, "ORDER BY created_at ASC") {
		t.Fatalf("expected oldest-first ordering, got %s", pendingSignalsQuery)
	}
	if !strings.Contains(markDeliveredQuery, "delivered_at IS NULL") {
		t.Fatalf("expected mark delivered to leave delivered rows untouched")
	}
}

func TestPointerUpsertOverwritesSlot(t *testing.T) {
	if !strings.Contains(upsertPointerQuery, "ON CONFLICT (name) DO UPDATE") {
		t.Fatalf("expected upsert on pointer name")
	}
	for _, col := range []string{"run_id = EXCLUDED.run_id", "payload = EXCLUDED.payload", "updated_at = EXCLUDED.updated_at"} {
		if !strings.Contains(upsertPointerQuery, col) {
			t.Fatalf("expected %q in pointer upsert", col)
		}
	}
}

func TestSchemaStatements(t *testing.T) {
	stmts := schemaStatements()
	if len(stmts) == 0 {
		t.Fatalf("expected schema statements")
	}
	tables := map[string]bool{}
	for _, stmt := range stmts {
		if !strings.Contains(stmt, "IF NOT EXISTS") {
			t.Fatalf("statement is not idempotent: %s", stmt)
		}
		if strings.HasPrefix(stmt, "CREATE TABLE IF NOT EXISTS ") {
			name := strings.Fields(strings.TrimPrefix(stmt, "CREATE TABLE IF NOT EXISTS "))[0]
			tables[name] = true
		}
	}
	for _, want := range []string{"evaluation_runs", "approval_outbox", "approved_pointers", "audit_events"} {
		if !tables[want] {
			t.Fatalf("missing table %s in schema", want)
		}
	}
}

func TestClampLimit(t *testing.T) {
	cases := map[int]int{0: defaultListLimit, -3: defaultListLimit, 10: 10, maxListLimit + 1: maxListLimit}
	for in, want := range cases {
		if got := clampLimit(in); got != want {
			t.Fatalf("clampLimit(%d)=%d want %d", in, got, want)
		}
	}
}

func TestNilDBConstructors(t *testing.T) {
	if NewRunStore(nil) != nil {
		t.Fatalf("expected nil run store for nil db")
	}
	if NewPointerStore(nil, "") != nil {
		t.Fatalf("expected nil pointer store for nil db")
	}
}

func TestPendingCutoffSkipsFreshRows(t *testing.T) {
	fixed := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	store := &RunStore{now: func() time.Time { return fixed }, pendingMinAge: DefaultPendingMinAge}
	if got, want := store.pendingCutoff(), fixed.Add(-time.Minute); !got.Equal(want) {
		t.Fatalf("cutoff=%s want %s", got, want)
	}
	if NewRunStore(new(sql.DB)).pendingMinAge != DefaultPendingMinAge {
		t.Fatalf("expected default minimum age on new store")
	}
}
