// Package api provides the HTTP REST API server for papertrader.
//
// It exposes the paper account, order entry, market data ingestion and a
// WebSocket stream of ledger events.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/seenimoa/papertrader/internal/config"
	"github.com/seenimoa/papertrader/internal/ledger"
	"github.com/seenimoa/papertrader/internal/risk"
	"github.com/seenimoa/papertrader/pkg/utils"
)

const (
	requestTimeout  = 30 * time.Second
	shutdownTimeout = 15 * time.Second
)

// Options configures a Server. Ledger is required.
type Options struct {
	Ledger *ledger.Ledger

	// Sink receives order entry. Defaults to Ledger; serve passes a
	// risk.Gate so API orders are checked like strategy orders.
	Sink ledger.OrderSink

	Risk    *risk.Manager  // optional, enables GET /risk
	Config  *config.Config // optional, enables GET /config
	Version string
	Logger  *slog.Logger
}

// Server is the HTTP API server.
type Server struct {
	router  chi.Router
	ledger  *ledger.Ledger
	sink    ledger.OrderSink
	risk    *risk.Manager
	cfg     *config.Config
	hub     *Hub
	version string
	logger  *slog.Logger
}

// NewServer creates a configured API server with all routes and middleware.
// The event hub is not subscribed to the ledger; callers decide how events
// reach it (directly or through an eventbus.Async).
func NewServer(opts Options) (*Server, error) {
	if opts.Ledger == nil {
		return nil, errors.New("api: ledger is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sink := opts.Sink
	if sink == nil {
		sink = opts.Ledger
	}

	s := &Server{
		ledger:  opts.Ledger,
		sink:    sink,
		risk:    opts.Risk,
		cfg:     opts.Config,
		version: opts.Version,
		logger:  logger.With("component", "api"),
	}
	s.hub = NewHub(s.logger)
	s.router = s.buildRouter()
	return s, nil
}

// Router returns the chi router for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// Hub returns the WebSocket event hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully. The event hub runs for the lifetime of the call.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	httpSrv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	go s.hub.Run(hubCtx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api server listening", "addr", addr)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down api server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

// buildRouter configures all routes and middleware.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))

	// CORS
	origins := []string{"*"}
	if s.cfg != nil && len(s.cfg.API.CORSOrigins) > 0 {
		origins = s.cfg.API.CORSOrigins
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/ws", s.handleWebSocket)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		// Account
		r.Get("/account", s.handleAccount)
		r.Get("/stats", s.handleStats)
		r.Get("/positions", s.handlePositions)
		r.Post("/reset", s.handleReset)

		// Orders
		r.Get("/orders", s.handleGetOrders)
		r.Post("/orders", s.handlePlaceOrder)
		r.Get("/orders/{id}", s.handleGetOrderByID)
		r.Delete("/orders/{id}", s.handleCancelOrder)

		r.Get("/trades", s.handleTrades)

		// Market data
		r.Post("/ticks", s.handleTicks)

		// Risk & configuration
		r.Get("/risk", s.handleRisk)
		r.Get("/config", s.handleGetConfig)
		r.Get("/config/secrets", s.handleGetSecrets)

		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// APIResponse is the standard JSON envelope.
type APIResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status     string `json:"status"`
	Version    string `json:"version,omitempty"`
	MarketOpen bool   `json:"market_open"`
	TimeCST    string `json:"time_cst"`
	WSClients  int    `json:"ws_clients"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	now := utils.NowCST()
	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data: HealthResponse{
			Status:     "ok",
			Version:    s.version,
			MarketOpen: utils.IsMarketOpenAt(now),
			TimeCST:    utils.FormatDateTimeCST(now),
			WSClients:  s.hub.ClientCount(),
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to write JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, APIResponse{
		Success: false,
		Error:   msg,
	})
}
