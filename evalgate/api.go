package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/animus-labs/modelgate/internal/domain"
	"github.com/animus-labs/modelgate/internal/orchestrator"
	"github.com/animus-labs/modelgate/internal/platform/httpserver"
	"github.com/animus-labs/modelgate/internal/repo/postgres"
)

type executor interface {
	Execute(ctx context.Context, trigger domain.Trigger) orchestrator.Result
}

type runReader interface {
	GetRun(ctx context.Context, runID string) (domain.Run, error)
	ListRuns(ctx context.Context, limit int) ([]domain.Run, error)
}

type pointerReader interface {
	GetApproved(ctx context.Context) (postgres.ApprovedPointer, error)
}

type evalAPI struct {
	logger   *slog.Logger
	exec     executor
	runs     runReader
	pointers pointerReader
}

func newEvalAPI(logger *slog.Logger, exec executor, runs runReader, pointers pointerReader) *evalAPI {
	return &evalAPI{logger: logger, exec: exec, runs: runs, pointers: pointers}
}

func (api *evalAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("POST /runs", api.handleTrigger)
	mux.HandleFunc("GET /runs", api.handleListRuns)
	mux.HandleFunc("GET /runs/{run_id}", api.handleGetRun)
	mux.HandleFunc("GET /approved", api.handleGetApproved)
}

// triggerRequest accepts a flat {modelId, runId} body or an event envelope
// carrying the same fields under detail.
type triggerRequest struct {
	ModelID string          `json:"modelId"`
	RunID   string          `json:"runId"`
	Detail  *domain.Trigger `json:"detail"`
}

func (r triggerRequest) trigger() domain.Trigger {
	if r.Detail != nil {
		return domain.Trigger{ModelID: strings.TrimSpace(r.Detail.ModelID), RunID: strings.TrimSpace(r.Detail.RunID)}
	}
	return domain.Trigger{ModelID: strings.TrimSpace(r.ModelID), RunID: strings.TrimSpace(r.RunID)}
}

type runOutcome struct {
	RunID        string               `json:"runId"`
	ModelID      string               `json:"modelId,omitempty"`
	Status       domain.RunState      `json:"status"`
	Approved     bool                 `json:"approved"`
	Checks       []domain.CheckResult `json:"checks,omitempty"`
	Error        string               `json:"error,omitempty"`
	PublishError string               `json:"publishError,omitempty"`
}

func outcomeFromResult(res orchestrator.Result) runOutcome {
	out := runOutcome{
		RunID:    res.RunID,
		ModelID:  res.ModelID,
		Status:   res.State,
		Approved: res.Approved,
		Checks:   res.Checks,
	}
	if res.Err != nil {
		out.Error = res.Err.Error()
	}
	if res.PublishErr != nil {
		out.PublishError = res.PublishErr.Error()
	}
	return out
}

func (api *evalAPI) handleTrigger(w http.ResponseWriter, r *http.Request) {
	var req triggerRequest
	if err := decodeTrigger(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	// The run outlives the caller's connection; the request id stays attached.
	res := api.exec.Execute(context.WithoutCancel(r.Context()), req.trigger())
	status := http.StatusOK
	if res.State == domain.RunStateFailed {
		status = http.StatusBadGateway
	}
	httpserver.WriteJSON(w, status, outcomeFromResult(res))
}

func (api *evalAPI) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			api.writeError(w, r, http.StatusBadRequest, "invalid_limit")
			return
		}
		limit = n
	}
	runs, err := api.runs.ListRuns(r.Context(), limit)
	if err != nil {
		api.logger.Error("list runs failed", "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (api *evalAPI) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := strings.TrimSpace(r.PathValue("run_id"))
	if runID == "" {
		api.writeError(w, r, http.StatusBadRequest, "run_id_required")
		return
	}
	run, err := api.runs.GetRun(r.Context(), runID)
	if err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			api.writeError(w, r, http.StatusNotFound, "not_found")
			return
		}
		api.logger.Error("get run failed", "run_id", runID, "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, run)
}

func (api *evalAPI) handleGetApproved(w http.ResponseWriter, r *http.Request) {
	ptr, err := api.pointers.GetApproved(r.Context())
	if err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			api.writeError(w, r, http.StatusNotFound, "no_approved_model")
			return
		}
		api.logger.Error("get approved pointer failed", "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, ptr)
}

// decodeTrigger tolerates unknown fields: envelopes from event buses carry
// routing metadata this service ignores.
func decodeTrigger(r *http.Request, dst *triggerRequest) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("multiple JSON values")
	}
	return nil
}

func (api *evalAPI) writeError(w http.ResponseWriter, r *http.Request, status int, code string) {
	httpserver.WriteJSON(w, status, map[string]any{
		"error":      code,
		"request_id": r.Header.Get("X-Request-Id"),
	})
}
