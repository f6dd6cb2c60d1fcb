package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/XavierBriggs/fortuna/services/results-service/internal/middleware"
)

// RouterOptions wires the optional endpoints
type RouterOptions struct {
	Logger      zerolog.Logger
	CORSOrigins []string
	Metrics     http.Handler // GET /metrics when set
	WebSocket   http.Handler // GET /v1/ws/results when set
}

// NewRouter builds the HTTP routes
func NewRouter(h *Handler, opts RouterOptions) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger(opts.Logger))
	r.Use(chimiddleware.Recoverer)

	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", h.HealthCheck)
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		// The websocket must not sit behind the request timeout
		if opts.WebSocket != nil {
			r.Method(http.MethodGet, "/ws/results", opts.WebSocket)
		}

		r.Group(func(r chi.Router) {
			r.Use(chimiddleware.Timeout(30 * time.Second))

			r.Get("/get_results", h.GetResults)

			r.Route("/dev", func(r chi.Router) {
				r.Get("/scraper", h.ScraperStatus)
				r.Post("/scraper/start", h.StartScraper)
				r.Post("/scraper/stop", h.StopScraper)
				r.Post("/scraper/run", h.RunScraper)

				r.Get("/logs", h.LogStatus)
				r.Patch("/logs", h.ToggleLogs)

				r.Get("/store", h.StoreStatus)
			})
		})
	})

	return r
}
