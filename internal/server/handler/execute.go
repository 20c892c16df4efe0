package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/cadencefi/dcad/internal/domain"
	"github.com/cadencefi/dcad/internal/engine"
	"github.com/cadencefi/dcad/internal/server/middleware"
)

// ExecutionService is the engine surface the execute handler requires.
type ExecutionService interface {
	Execute(ctx context.Context, caller common.Address, id uint64) (engine.Result, error)
	IsEligible(ctx context.Context, id uint64) (bool, domain.SkipReason)
}

// PendingLister reports the positions currently due for execution.
type PendingLister interface {
	PendingExecutions(now time.Time) []uint64
}

// ExecuteHandler serves on-demand execution and eligibility probes.
type ExecuteHandler struct {
	engine  ExecutionService
	pending PendingLister
	logger  *slog.Logger
}

// NewExecuteHandler creates an ExecuteHandler.
func NewExecuteHandler(eng ExecutionService, pending PendingLister, logger *slog.Logger) *ExecuteHandler {
	return &ExecuteHandler{
		engine:  eng,
		pending: pending,
		logger:  logger.With(slog.String("handler", "execute")),
	}
}

// resultView is the JSON rendering of one execution attempt.
type resultView struct {
	PositionID uint64     `json:"position_id"`
	Executed   bool       `json:"executed"`
	Reason     string     `json:"reason,omitempty"`
	Spent      uint64     `json:"spent,string"`
	Received   uint64     `json:"received,string"`
	Fees       uint64     `json:"fees,string"`
	Venue      string     `json:"venue,omitempty"`
	NextExecAt *time.Time `json:"next_exec_at,omitempty"`
}

func renderResult(res engine.Result) resultView {
	v := resultView{
		PositionID: res.PositionID,
		Executed:   res.Executed,
		Reason:     string(res.Reason),
		Spent:      res.Spent,
		Received:   res.Received,
		Fees:       res.Fees,
		Venue:      string(res.Venue),
	}
	if !res.NextExecAt.IsZero() {
		v.NextExecAt = &res.NextExecAt
	}
	return v
}

// Execute runs one execution attempt for the position with the caller as the
// executor. A skipped attempt is a 200 with executed=false, not an error.
// POST /api/positions/{id}/execute
func (h *ExecuteHandler) Execute(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	caller := middleware.Principal(r.Context())
	res, err := h.engine.Execute(r.Context(), caller, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, renderResult(res))
}

// Eligibility reports whether the position would execute right now, and the
// first failing guard when it would not. Side-effect free.
// GET /api/positions/{id}/eligibility
func (h *ExecuteHandler) Eligibility(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ok, reason := h.engine.IsEligible(r.Context(), id)
	writeJSON(w, http.StatusOK, map[string]any{
		"position_id": id,
		"eligible":    ok,
		"reason":      string(reason),
	})
}

// Pending lists the ids that are due, unpaused, and funded right now. The
// per-position guards (oracle, gas, breaker) are not consulted; callers probe
// those through the eligibility endpoint.
// GET /api/executions/pending
func (h *ExecuteHandler) Pending(w http.ResponseWriter, _ *http.Request) {
	ids := h.pending.PendingExecutions(time.Now())
	if ids == nil {
		ids = []uint64{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":     len(ids),
		"positions": ids,
	})
}
