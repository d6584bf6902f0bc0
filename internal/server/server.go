// Package server exposes the storefront API, the payment webhook and the
// admin endpoints over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/digkill/figureshop/internal/ratelimit"
	"github.com/digkill/figureshop/internal/service"
)

type Pinger interface {
	PingContext(ctx context.Context) error
}

type Config struct {
	Addr         string
	WriteTimeout time.Duration

	AdminUsername     string
	AdminPassword     string
	AdminPasswordHash string

	MaxImages     int
	MaxImageBytes int64
}

type Server struct {
	cfg        Config
	log        *slog.Logger
	db         Pinger
	codes      *service.CodeService
	orders     *service.OrderService
	settlement *service.SettlementService
	generation *service.GenerationService
	limiter    *ratelimit.Limiter
	router     *chi.Mux
}

func NewServer(cfg Config, log *slog.Logger, db Pinger, codes *service.CodeService, orders *service.OrderService, settlement *service.SettlementService, generation *service.GenerationService, limiter *ratelimit.Limiter) *Server {
	if cfg.MaxImages <= 0 {
		cfg.MaxImages = 4
	}
	if cfg.MaxImageBytes <= 0 {
		cfg.MaxImageBytes = 5 << 20
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 7 * time.Minute
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	s := &Server{
		cfg:        cfg,
		log:        log,
		db:         db,
		codes:      codes,
		orders:     orders,
		settlement: settlement,
		generation: generation,
		limiter:    limiter,
		router:     r,
	}

	r.Get("/healthz", s.handleHealth)
	r.Route("/api", func(api chi.Router) {
		api.Get("/packages", s.handlePackages)
		api.With(limiter.Middleware("purchase")).Post("/purchase", s.handlePurchase)
		api.Post("/webhook/payment", s.handlePaymentWebhook)
		api.Get("/webhook/payment", s.handlePaymentWebhook)
		api.Group(func(poll chi.Router) {
			poll.Use(limiter.Middleware("poll"))
			poll.Post("/orders/status", s.handleOrderStatus)
			poll.Get("/orders/{orderID}", s.handleOrderStatus)
		})
		api.Post("/codes/verify", s.handleVerifyCode)
		api.Post("/generate", s.handleGenerate)
		api.Get("/gallery", s.handleGallery)
	})
	r.Route("/admin", func(admin chi.Router) {
		admin.Use(s.basicAuthMiddleware())
		admin.Get("/codes", s.handleListCodes)
		admin.Post("/codes", s.handleMintCodes)
		admin.Get("/orders", s.handleListOrders)
		admin.Post("/orders/repair", s.handleRepairAll)
		admin.Post("/orders/{orderID}/repair", s.handleRepairOrder)
	})
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       2 * time.Minute,
		WriteTimeout:      s.cfg.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Error("http shutdown error", "err", err)
		}
	}()

	s.log.Info("http server listening", "addr", s.cfg.Addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http listen: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	if err := s.db.PingContext(ctx); err != nil {
		s.log.Error("health check: database ping", "err", err)
		http.Error(w, "database unavailable", http.StatusServiceUnavailable)
		return
	}
	_, _ = w.Write([]byte("ok"))
}
