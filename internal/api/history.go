package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BitFlexFinTech/profit-accelerator-sub002/internal/eventlog"
	"github.com/BitFlexFinTech/profit-accelerator-sub002/internal/history"
)

// HistoryHandler serves the audit side of the API: failover events and
// health samples, newest first. Read-only by construction.
type HistoryHandler struct {
	events  eventlog.Store
	samples history.Store
	logger  *zap.Logger
}

// NewHistoryHandler creates the history query handler.
func NewHistoryHandler(events eventlog.Store, samples history.Store, logger *zap.Logger) *HistoryHandler {
	return &HistoryHandler{events: events, samples: samples, logger: logger}
}

// Routes builds the chi sub-router mounted under /api/v1/history.
func (h *HistoryHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/events", h.SearchEvents)
	r.Get("/events/{id}", h.GetEvent)
	r.Get("/samples", h.GetSamples)
	r.Get("/stats/overview", h.GetOverviewStats)
	return r
}

// SearchEvents filters failover events. All filters are optional; results
// come back newest first.
func (h *HistoryHandler) SearchEvents(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	q := &eventlog.Query{
		Provider: query.Get("provider"),
		Limit:    parseLimit(query.Get("limit"), 50),
	}

	if v := query.Get("reason"); v != "" {
		reason := eventlog.Reason(v)
		q.Reason = &reason
	}
	if v := query.Get("result"); v != "" {
		result := eventlog.Result(v)
		q.Result = &result
	}
	if v := query.Get("automatic"); v != "" {
		automatic, err := strconv.ParseBool(v)
		if err != nil {
			h.respondError(w, http.StatusBadRequest, errors.New("automatic must be a boolean"))
			return
		}
		q.IsAutomatic = &automatic
	}
	if v := query.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			h.respondError(w, http.StatusBadRequest, errors.New("since must be RFC3339"))
			return
		}
		q.Since = &since
	}

	events, err := h.events.Find(r.Context(), q)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, err)
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"count":  len(events),
	})
}

// GetEvent retrieves a single failover event by ID.
func (h *HistoryHandler) GetEvent(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, http.StatusBadRequest, errors.New("id must be a UUID"))
		return
	}

	event, err := h.events.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, eventlog.ErrEventNotFound) {
			h.respondError(w, http.StatusNotFound, err)
			return
		}
		h.respondError(w, http.StatusInternalServerError, err)
		return
	}
	h.respondJSON(w, http.StatusOK, event)
}

// GetSamples returns recent health samples for one provider.
func (h *HistoryHandler) GetSamples(w http.ResponseWriter, r *http.Request) {
	provider := r.URL.Query().Get("provider")
	if provider == "" {
		h.respondError(w, http.StatusBadRequest, errors.New("provider is required"))
		return
	}
	limit := parseLimit(r.URL.Query().Get("limit"), 100)

	samples, err := h.samples.Recent(r.Context(), provider, limit)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, err)
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"provider": provider,
		"samples":  samples,
		"count":    len(samples),
	})
}

// GetOverviewStats summarizes the event log by outcome.
func (h *HistoryHandler) GetOverviewStats(w http.ResponseWriter, r *http.Request) {
	counts, err := h.events.CountByResult(r.Context())
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, err)
		return
	}

	total := 0
	byResult := make(map[string]int, len(counts))
	for result, n := range counts {
		byResult[string(result)] = n
		total += n
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"total_events": total,
		"by_result":    byResult,
	})
}

func parseLimit(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return fallback
	}
	return limit
}

func (h *HistoryHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("encode JSON response", zap.Error(err))
	}
}

func (h *HistoryHandler) respondError(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		h.logger.Error("history API error", zap.Int("status", status), zap.Error(err))
	}
	h.respondJSON(w, status, map[string]string{"error": err.Error()})
}
