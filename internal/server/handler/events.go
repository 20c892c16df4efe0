package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/cadencefi/dcad/internal/domain"
)

// EventsHandler serves the telemetry journal.
type EventsHandler struct {
	events domain.EventStore
	logger *slog.Logger
}

// NewEventsHandler creates an EventsHandler over the journal.
func NewEventsHandler(events domain.EventStore, logger *slog.Logger) *EventsHandler {
	return &EventsHandler{
		events: events,
		logger: logger.With(slog.String("handler", "events")),
	}
}

// List returns journal entries, newest first. Supports limit, offset, since,
// until, and an optional position filter.
// GET /api/events?position_id=42&since=...&limit=100
func (h *EventsHandler) List(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	var positionID uint64
	if v := r.URL.Query().Get("position_id"); v != "" {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid position_id")
			return
		}
		positionID = id
	}

	events, err := h.events.List(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list events failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}

	if positionID != 0 {
		filtered := events[:0]
		for _, ev := range events {
			if ev.PositionID == positionID {
				filtered = append(filtered, ev)
			}
		}
		events = filtered
	}
	if events == nil {
		events = []domain.Event{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}
