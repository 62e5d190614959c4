package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"stratvault/internal/domain"
	"stratvault/internal/server/handler"
	"stratvault/internal/server/middleware"
	"stratvault/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled

	// Rate limiting, applied per client IP when a limiter is provided.
	RateLimit       int
	RateLimitWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health *handler.HealthHandler
	Trades *handler.TradeHandler
	DCA    *handler.DCAHandler
	Swap   *handler.SwapHandler
	Bridge *handler.BridgeHandler
	Prices *handler.PriceHandler
	Admin  *handler.AdminHandler
}

// Server is the headless HTTP + WebSocket API for the execution engine.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (logging, CORS, auth, rate limiting) and attaches
// the WebSocket hub. limiter may be nil to disable rate limiting.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// --- Register routes ---

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Conditional order endpoints.
	mux.HandleFunc("POST /api/trades", handlers.Trades.CreateTrade)
	mux.HandleFunc("GET /api/trades", handlers.Trades.ListTrades)
	mux.HandleFunc("GET /api/trades/{id}", handlers.Trades.GetTrade)
	mux.HandleFunc("DELETE /api/trades/{id}", handlers.Trades.CancelTrade)

	// Recurring order endpoints.
	mux.HandleFunc("POST /api/dca", handlers.DCA.CreateDCAPlan)
	mux.HandleFunc("GET /api/dca", handlers.DCA.ListDCAPlans)
	mux.HandleFunc("GET /api/dca/{id}", handlers.DCA.GetDCAPlan)
	mux.HandleFunc("DELETE /api/dca/{id}", handlers.DCA.CancelDCAPlan)

	// Immediate swap endpoint.
	mux.HandleFunc("POST /api/swap", handlers.Swap.ExecuteSwap)

	// Bridge endpoints.
	mux.HandleFunc("POST /api/bridge", handlers.Bridge.BridgeTokens)
	mux.HandleFunc("POST /api/bridge/fee", handlers.Bridge.GetFeeEstimate)
	mux.HandleFunc("GET /api/bridge/chains/{selector}", handlers.Bridge.GetChainSupport)
	mux.HandleFunc("GET /api/bridge/volume", handlers.Bridge.GetVolume)

	// Price feed endpoints.
	mux.HandleFunc("GET /api/prices", handlers.Prices.ListFeeds)
	mux.HandleFunc("GET /api/prices/{symbol}", handlers.Prices.GetPrice)

	// Statistics and operator endpoints.
	mux.HandleFunc("GET /api/stats", handlers.Admin.GetStats)
	mux.HandleFunc("PUT /api/admin/pause", handlers.Admin.SetPaused)
	mux.HandleFunc("PUT /api/admin/slippage", handlers.Admin.SetSlippage)
	mux.HandleFunc("PUT /api/admin/staleness", handlers.Admin.SetStaleness)
	mux.HandleFunc("PUT /api/admin/feeds", handlers.Admin.SetFeeds)
	mux.HandleFunc("PUT /api/admin/chains", handlers.Admin.SetChain)

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain.
	var h http.Handler = mux

	// Apply auth middleware (skips if APIKey is empty).
	h = middleware.Auth(cfg.APIKey)(h)

	// Apply per-client rate limiting when a limiter is configured.
	if limiter != nil && cfg.RateLimit > 0 {
		window := cfg.RateLimitWindow
		if window <= 0 {
			window = time.Second
		}
		h = middleware.RateLimit(limiter, cfg.RateLimit, window)(h)
	}

	// Apply request logging middleware.
	h = middleware.Logging(logger)(h)

	// Apply CORS middleware.
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
