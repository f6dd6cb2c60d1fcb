package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/XavierBriggs/fortuna/services/results-service/internal/logging"
	"github.com/XavierBriggs/fortuna/services/results-service/internal/query"
	"github.com/XavierBriggs/fortuna/services/results-service/internal/scheduler"
	"github.com/XavierBriggs/fortuna/services/results-service/pkg/contracts"
)

// ErrorResponse represents an API error
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code"`
}

// Scraper is the control surface of the scrape scheduler
type Scraper interface {
	Start()
	Stop()
	RunOnce(ctx context.Context) (*scheduler.CycleStats, error)
	Status() scheduler.Status
}

// HubStats is implemented by the websocket hub
type HubStats interface {
	GetMetrics() map[string]interface{}
}

// Handler contains dependencies for HTTP handlers
type Handler struct {
	engine  *query.Engine
	store   contracts.EventStore
	scraper Scraper
	hub     HubStats // optional
}

// NewHandler creates a new handler with dependencies
func NewHandler(engine *query.Engine, store contracts.EventStore, scraper Scraper, hub HubStats) *Handler {
	return &Handler{
		engine:  engine,
		store:   store,
		scraper: scraper,
		hub:     hub,
	}
}

// HealthCheck returns the health status of the service
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	stats, err := h.store.Stats(ctx)
	if err != nil {
		respondError(w, r, http.StatusServiceUnavailable, "store unhealthy", err)
		return
	}

	status := h.scraper.Status()
	respondJSON(w, r, http.StatusOK, map[string]interface{}{
		"status":               "healthy",
		"timestamp":            time.Now().UTC(),
		"service":              "results-service",
		"store_backend":        stats.Backend,
		"events":               stats.Events,
		"scraper_state":        status.State,
		"last_success_time":    status.LastSuccessTime,
		"consecutive_failures": status.ConsecutiveFailures,
	})
}

// GetResults returns events matching the filters as a JSON array
// Query params: hours, sport, keyword, from_date, to_date (YYYY-MM-DD)
func (h *Handler) GetResults(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	req, err := parseResultsRequest(r)
	if err != nil {
		respondError(w, r, http.StatusBadRequest, err.Error(), nil)
		return
	}

	results, err := h.engine.Execute(ctx, req)
	if err != nil {
		if errors.Is(err, query.ErrInvalidFilter) {
			respondError(w, r, http.StatusBadRequest, err.Error(), nil)
			return
		}
		respondError(w, r, http.StatusInternalServerError, "failed to query results", err)
		return
	}

	respondJSON(w, r, http.StatusOK, results)
}

// parseResultsRequest maps query parameters to a query request
func parseResultsRequest(r *http.Request) (query.Request, error) {
	q := r.URL.Query()
	req := query.Request{
		Sport:   q.Get("sport"),
		Keyword: q.Get("keyword"),
	}

	if raw := strings.TrimSpace(q.Get("hours")); raw != "" {
		hours, err := strconv.Atoi(raw)
		switch {
		case errors.Is(err, strconv.ErrRange) && !strings.HasPrefix(raw, "-"):
			hours = math.MaxInt
		case err != nil:
			return req, &query.InvalidFilterError{Field: "hours", Reason: "must be a positive integer"}
		}
		req.Hours = &hours

		// hours wins over the date range, which is then not parsed at all
		return req, nil
	}

	from, err := query.ParseDate("from_date", q.Get("from_date"), false)
	if err != nil {
		return req, err
	}
	to, err := query.ParseDate("to_date", q.Get("to_date"), true)
	if err != nil {
		return req, err
	}
	req.From, req.To = from, to

	return req, nil
}

// Helper functions

func respondJSON(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log := logging.FromContext(r.Context())
		log.Warn().Err(err).Msg("Error encoding response")
	}
}

func respondError(w http.ResponseWriter, r *http.Request, status int, message string, err error) {
	log := logging.FromContext(r.Context())
	if err != nil {
		var event *zerolog.Event
		if status >= http.StatusInternalServerError {
			event = log.Error()
		} else {
			event = log.Warn()
		}
		event.Err(err).Msg(message)
	}

	respondJSON(w, r, status, ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
		Code:    status,
	})
}
