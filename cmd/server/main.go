package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/digkill/figureshop/internal/config"
	"github.com/digkill/figureshop/internal/database"
	"github.com/digkill/figureshop/internal/imagegen"
	"github.com/digkill/figureshop/internal/pricing"
	"github.com/digkill/figureshop/internal/repository"
	"github.com/digkill/figureshop/internal/server"
	"github.com/digkill/figureshop/internal/service"
	"github.com/digkill/figureshop/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logr := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Connect(ctx, cfg.DBDriver, cfg.DatabaseDSN)
	if err != nil {
		log.Fatalf("database connect: %v", err)
	}
	defer db.Close()

	if err := database.Migrate(ctx, db); err != nil {
		log.Fatalf("database migrate: %v", err)
	}

	ladder, err := pricing.ParseLadder(cfg.PriceLadder, "")
	if err != nil {
		log.Fatalf("price ladder: %v", err)
	}

	gateway, err := newGateway(cfg)
	if err != nil {
		log.Fatalf("payment gateway: %v", err)
	}

	vendor, err := imagegen.New(imagegen.Config{
		Vendor:  cfg.GenerationVendor,
		APIKey:  cfg.VendorAPIKey,
		BaseURL: cfg.VendorBaseURL,
		Model:   cfg.VendorModel,
	}, logr)
	if err != nil {
		log.Fatalf("generation vendor: %v", err)
	}

	store, err := newStore(cfg)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}

	alerter, err := newAlerter(cfg, logr)
	if err != nil {
		log.Fatalf("alerts: %v", err)
	}

	limiter, closeLimiter := newLimiter(cfg, logr)
	defer closeLimiter()

	userRepo := repository.NewUserRepository(db)
	orderRepo := repository.NewOrderRepository(db)
	codeRepo := repository.NewCodeRepository(db)
	generationRepo := repository.NewGenerationRepository(db)

	userService := service.NewUserService(userRepo)
	codeService := service.NewCodeService(codeRepo, userService)
	orderService := service.NewOrderService(orderRepo, codeRepo)
	settlementService := service.NewSettlementService(service.SettlementConfig{
		Title:     cfg.PaymentTitle,
		NotifyURL: cfg.PublicBaseURL + "/api/webhook/payment",
		ReturnURL: cfg.FrontendURL + "/payment/result",
		CodeTTL:   time.Duration(cfg.CodeTTLDays) * 24 * time.Hour,
	}, logr, gateway, orderRepo, codeRepo, userService, ladder, alerter)
	generationService := service.NewGenerationService(service.GenerationConfig{
		Prompt:            cfg.GenerationPrompt,
		AllowCustomPrompt: cfg.AllowCustomPrompt,
		MaxImages:         cfg.MaxImages,
		MaxImageBytes:     cfg.MaxImageBytes,
	}, logr, codeService, codeRepo, generationRepo, service.NewAttemptLogger(generationRepo, logr), vendor, store)

	srv := server.NewServer(server.Config{
		Addr:              cfg.ListenAddr,
		WriteTimeout:      cfg.WriteTimeout,
		AdminUsername:     cfg.AdminUsername,
		AdminPassword:     cfg.AdminPassword,
		AdminPasswordHash: cfg.AdminPasswordHash,
		MaxImages:         cfg.MaxImages,
		MaxImageBytes:     cfg.MaxImageBytes,
	}, logr, db, codeService, orderService, settlementService, generationService, limiter)

	logr.Info("figureshop starting",
		"db_driver", cfg.DBDriver,
		"payment", gateway.Name(),
		"vendor", vendor.Name(),
		"storage", cfg.StorageProvider,
		"ladder_version", ladder.Version,
	)

	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logr.Error("http server stopped", "err", err)
	}
}
