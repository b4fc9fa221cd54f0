package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/krshsl/interview-engine/cache"
	"github.com/krshsl/interview-engine/repository"
	ws "github.com/krshsl/interview-engine/websocket"
)

// Server holds all server dependencies
type Server struct {
	config           *Config
	repo             *repository.GORMRepository
	store            *cache.RedisStore
	ledger           *CreditLedger
	sessions         *SessionService
	pairing          *PairingBroker
	reconciler       *PaymentReconciler
	authService      *AuthService
	authEndpoints    *AuthEndpoints
	sessionEndpoints *SessionEndpoints
	paymentEndpoints *PaymentEndpoints
	wsHub            *ws.Hub
	upgrader         websocket.Upgrader
}

// NewServer creates a new server instance over already opened stores.
func NewServer(config *Config, repo *repository.GORMRepository, store *cache.RedisStore) *Server {
	return &Server{
		config: config,
		repo:   repo,
		store:  store,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return CheckOrigin(r, config.WebSocket.AllowedOrigins)
			},
		},
	}
}

// InitializeServices wires the core services and their endpoints.
func (s *Server) InitializeServices() error {
	if s.repo == nil || s.store == nil {
		return errors.New("database and redis are required")
	}
	if s.config.JWT.Secret == "" {
		return errors.New("JWT_SECRET is required")
	}

	s.wsHub = ws.NewHub()
	go s.wsHub.Run()

	s.ledger = NewCreditLedger(s.repo)
	s.sessions = NewSessionService(s.repo, s.ledger, s.store, s.wsHub)
	s.pairing = NewPairingBroker(s.repo, s.store, s.sessions)
	if s.config.Pairing.TokenTTL > 0 {
		s.pairing.ttl = s.config.Pairing.TokenTTL
	}

	var gateways []Gateway
	payments := s.config.Payments
	if payments.StripeSecretKey != "" {
		gateways = append(gateways, NewStripeGateway(payments.StripeSecretKey, payments.StripeWebhookSecret, payments.StripeAPIBase))
		slog.Info("Stripe gateway initialized")
	}
	if payments.CashfreeAppID != "" && payments.CashfreeSecretKey != "" {
		gateways = append(gateways, NewCashfreeGateway(payments.CashfreeAppID, payments.CashfreeSecretKey, payments.CashfreeAPIVersion, payments.CashfreeAPIBase))
		slog.Info("Cashfree gateway initialized")
	}
	if len(gateways) == 0 {
		slog.Warn("No payment processors configured, purchases are disabled")
	}
	s.reconciler = NewPaymentReconciler(s.repo, s.ledger, s.wsHub, gateways...)

	s.authService = NewAuthService(s.repo, s.config.JWT.Secret, s.config.IsProduction())
	s.authEndpoints = NewAuthEndpoints(s.authService)
	s.sessionEndpoints = NewSessionEndpoints(s.sessions, s.pairing, NewIPRateLimiter(s.config.Pairing.RateLimit, s.config.Pairing.RateBurst))
	s.paymentEndpoints = NewPaymentEndpoints(s.reconciler, s.ledger)

	slog.Info("Services initialized")
	return nil
}

// Seed loads the package catalogue and demo users.
func (s *Server) Seed(ctx context.Context) error {
	return NewDatabaseSeeder(s.repo, s.ledger).SeedDatabase(ctx)
}

// SetupRoutes configures all HTTP routes
func (s *Server) SetupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	if s.config.Server.TrustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.healthHandler)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", s.apiV1Handler)

		s.authEndpoints.RegisterRoutes(r)
		s.sessionEndpoints.RegisterPublicRoutes(r)
		s.paymentEndpoints.RegisterWebhookRoutes(r)

		r.Group(func(r chi.Router) {
			r.Use(s.authService.Middleware)
			r.Get("/ws", s.websocketHandlerFunc)
			s.sessionEndpoints.RegisterRoutes(r)
			s.paymentEndpoints.RegisterRoutes(r)
		})
	})

	return r
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	port := s.config.Server.Port
	if port == "" {
		port = "8080"
	}

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           s.SetupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting server", "port", port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}
	s.wsHub.Stop()

	slog.Info("Server exited")
	return nil
}

// CheckOrigin validates the origin of WebSocket connections to prevent CSRF attacks
func CheckOrigin(r *http.Request, allowedOriginsStr string) bool {
	origin := r.Header.Get("Origin")

	// If no allowed origins are configured, deny all requests for security
	if allowedOriginsStr == "" {
		slog.Warn("WebSocket connection rejected: no allowed origins configured", "origin", origin)
		return false
	}

	for _, allowed := range strings.Split(allowedOriginsStr, ",") {
		if strings.TrimSpace(allowed) == origin {
			return true
		}
	}

	slog.Warn("WebSocket connection rejected: origin not allowed", "origin", origin, "allowed_origins", allowedOriginsStr)
	return false
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status, code := "ok", http.StatusOK
	dbStatus, redisStatus := "up", "up"

	if err := s.repo.Ping(ctx); err != nil {
		slog.Error("Database health check failed", "error", err)
		dbStatus, status, code = "down", "degraded", http.StatusServiceUnavailable
	}
	if err := s.store.Ping(ctx); err != nil {
		slog.Error("Redis health check failed", "error", err)
		redisStatus, status, code = "down", "degraded", http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]string{
		"status":   status,
		"database": dbStatus,
		"redis":    redisStatus,
	})
}

func (s *Server) apiV1Handler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "API v1", "version": "1.0.0"})
}

// websocketHandlerFunc streams the caller's session events.
func (s *Server) websocketHandlerFunc(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("WebSocket upgrade failed", "error", err)
		return
	}

	slog.Info("WebSocket connection established", "user_id", user.ID)

	client := s.wsHub.RegisterClient(conn, user.ID)
	go client.WritePump()
	go client.ReadPump()
}
