package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog"

	httpapi "github.com/match-authority/match-authority/internal/api/http"
	"github.com/match-authority/match-authority/internal/application/alert"
	appchain "github.com/match-authority/match-authority/internal/application/chain"
	appidem "github.com/match-authority/match-authority/internal/application/idempotency"
	appmatch "github.com/match-authority/match-authority/internal/application/match"
	"github.com/match-authority/match-authority/internal/application/reconciler"
	"github.com/match-authority/match-authority/internal/config"
	"github.com/match-authority/match-authority/internal/infrastructure/authz"
	"github.com/match-authority/match-authority/internal/infrastructure/postgres"
	"github.com/match-authority/match-authority/internal/infrastructure/soroban"
	"github.com/match-authority/match-authority/internal/infrastructure/ws"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db error: %v", err)
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool, "internal/migrations"); err != nil {
		log.Fatalf("migration error: %v", err)
	}

	// repositories
	matchRepo := postgres.NewMatchRepository(pool)
	transitionRepo := postgres.NewTransitionRepository(pool)
	chainRepo := postgres.NewChainOperationRepository(pool)
	reconRepo := postgres.NewReconciliationRepository(pool)
	idemRepo := postgres.NewIdempotencyRepository(pool)

	// infrastructure
	hub := ws.NewHub(logger)
	chainClient := soroban.NewClient(soroban.Config{
		RPCURL:            cfg.SorobanRPCURL,
		NetworkPassphrase: cfg.SorobanNetworkPassphrase,
		ContractID:        cfg.MatchContractID,
		SignerSecret:      cfg.ProtocolSignerSecret,
	}, logger)

	var authorizer authz.Authorizer = authz.AllowAll{}
	if cfg.OperatorToken != "" {
		tokenAuth, err := authz.NewTokenAuthorizer(cfg.OperatorToken)
		if err != nil {
			log.Fatalf("authz error: %v", err)
		}
		authorizer = tokenAuth
	}

	// services
	alerts, err := alert.NewEvaluator(cfg.AlertCondition, logger)
	if err != nil {
		log.Fatalf("alert condition error: %v", err)
	}
	guard := appidem.NewGuard(idemRepo, logger)
	coordinator := appchain.NewCoordinator(chainRepo, matchRepo, chainClient, alerts, logger,
		appchain.WithRetryPolicy(cfg.ChainMaxAttempts, cfg.ChainInitialBackoff, cfg.ChainMaxBackoff))
	reconSvc := reconciler.NewService(reconRepo, matchRepo, chainClient, alerts, logger)
	matchSvc := appmatch.NewService(matchRepo, transitionRepo, hub, coordinator, authorizer, guard, logger)

	// API server
	apiServer := httpapi.NewServer(matchSvc, coordinator, reconSvc, hub, logger)

	httpServer := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      apiServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// background loops
	go func() {
		ticker := time.NewTicker(cfg.ChainPollInterval)
		defer ticker.Stop()
		for range ticker.C {
			if _, err := coordinator.ProcessPending(context.Background(), 50); err != nil {
				logger.Error().Err(err).Msg("chain sweep failed")
			}
		}
	}()

	sched, err := gocron.NewScheduler()
	if err != nil {
		log.Fatalf("scheduler error: %v", err)
	}
	_, err = sched.NewJob(
		gocron.DurationJob(cfg.ReconcileInterval),
		gocron.NewTask(func() {
			if _, _, err := reconSvc.Sweep(context.Background(), 100); err != nil {
				logger.Error().Err(err).Msg("reconciliation sweep failed")
			}
		}),
	)
	if err != nil {
		log.Fatalf("scheduler job error: %v", err)
	}
	sched.Start()

	// start server
	go func() {
		logger.Info().Str("addr", cfg.ServerAddr).Msg("http server started")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	// graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(ctxShutdown)
	_ = sched.Shutdown()
	hub.Stop()
}
