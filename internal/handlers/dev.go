package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/XavierBriggs/fortuna/services/results-service/internal/logging"
	"github.com/XavierBriggs/fortuna/services/results-service/internal/scheduler"
)

// ScraperStatus returns the scheduler status
func (h *Handler) ScraperStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, r, http.StatusOK, h.scraper.Status())
}

// StartScraper starts the scrape loop (no-op when running)
func (h *Handler) StartScraper(w http.ResponseWriter, r *http.Request) {
	h.scraper.Start()
	log := logging.FromContext(r.Context())
	log.Info().Msg("Scraper started via dev endpoint")
	respondJSON(w, r, http.StatusOK, h.scraper.Status())
}

// StopScraper stops the scrape loop, waiting for a running reconciliation
func (h *Handler) StopScraper(w http.ResponseWriter, r *http.Request) {
	h.scraper.Stop()
	log := logging.FromContext(r.Context())
	log.Info().Msg("Scraper stopped via dev endpoint")
	respondJSON(w, r, http.StatusOK, h.scraper.Status())
}

// RunScraper runs one cycle now and returns its summary
func (h *Handler) RunScraper(w http.ResponseWriter, r *http.Request) {
	stats, err := h.scraper.RunOnce(r.Context())
	switch {
	case errors.Is(err, scheduler.ErrCycleInProgress):
		respondError(w, r, http.StatusConflict, err.Error(), nil)
		return
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		respondError(w, r, http.StatusServiceUnavailable, "scrape cycle cancelled", err)
		return
	case err != nil:
		respondError(w, r, http.StatusBadGateway, err.Error(), err)
		return
	}

	respondJSON(w, r, http.StatusOK, stats)
}

type logStatus struct {
	Level string `json:"level"`
	Debug bool   `json:"debug"`
}

func currentLogStatus() logStatus {
	level := logging.CurrentLevel()
	return logStatus{Level: level.String(), Debug: level <= zerolog.DebugLevel}
}

// LogStatus returns the active log level
func (h *Handler) LogStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, r, http.StatusOK, currentLogStatus())
}

// ToggleLogs flips between debug and info logging
func (h *Handler) ToggleLogs(w http.ResponseWriter, r *http.Request) {
	level := logging.ToggleDebug()
	log := logging.FromContext(r.Context())
	log.Info().Str("level", level.String()).Msg("Log level changed")
	respondJSON(w, r, http.StatusOK, currentLogStatus())
}

// StoreStatus returns store diagnostics and websocket hub counters
func (h *Handler) StoreStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	stats, err := h.store.Stats(ctx)
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, "failed to read store stats", err)
		return
	}

	body := map[string]interface{}{
		"store": stats,
	}
	if h.hub != nil {
		body["websocket"] = h.hub.GetMetrics()
	}

	respondJSON(w, r, http.StatusOK, body)
}
