package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/corebank/transaction-orchestrator/internal/accounts"
	accountsmemory "github.com/corebank/transaction-orchestrator/internal/accounts/memory"
	"github.com/corebank/transaction-orchestrator/internal/api"
	cachememory "github.com/corebank/transaction-orchestrator/internal/cache/memory"
	cacheredis "github.com/corebank/transaction-orchestrator/internal/cache/redis"
	"github.com/corebank/transaction-orchestrator/internal/config"
	"github.com/corebank/transaction-orchestrator/internal/events/kafka"
	"github.com/corebank/transaction-orchestrator/internal/guard"
	"github.com/corebank/transaction-orchestrator/internal/interfaces"
	"github.com/corebank/transaction-orchestrator/internal/logging"
	"github.com/corebank/transaction-orchestrator/internal/metrics"
	"github.com/corebank/transaction-orchestrator/internal/models"
	"github.com/corebank/transaction-orchestrator/internal/orchestrator"
	"github.com/corebank/transaction-orchestrator/internal/storage/cached"
	storagememory "github.com/corebank/transaction-orchestrator/internal/storage/memory"
	storagepostgres "github.com/corebank/transaction-orchestrator/internal/storage/postgres"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()

	logger, err := logging.NewFromEnv()
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.New("orchestrator", registry)

	// Transaction ledger
	var store interfaces.LedgerStore
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("failed to open postgres", zap.Error(err))
		}
		defer db.Close()
		if err := db.Ping(); err != nil {
			logger.Fatal("failed to ping postgres", zap.Error(err))
		}
		store = storagepostgres.NewLedgerStore(db)
		logger.Info("ledger store: postgres")
	} else {
		store = storagememory.NewLedgerStore()
		logger.Info("ledger store: memory")
	}

	// Read-side transaction cache
	var txCache interfaces.TransactionCache
	if cfg.RedisAddr != "" {
		redisCache, err := cacheredis.New(cfg.RedisAddr, logger)
		if err != nil {
			logger.Fatal("failed to connect to redis", zap.Error(err))
		}
		defer redisCache.Close()
		txCache = redisCache
		logger.Info("transaction cache: redis", zap.String("addr", cfg.RedisAddr))
	} else {
		txCache = cachememory.New()
		logger.Info("transaction cache: memory")
	}
	store = cached.New(store, txCache, 5*time.Minute, collector)

	// Account ledger client
	var accountClient interfaces.AccountStateClient
	if cfg.AccountsBaseURL != "" {
		accountClient = accounts.NewHTTPClient(accounts.ClientConfig{
			BaseURL:     cfg.AccountsBaseURL,
			CallTimeout: cfg.AccountCallTimeout,
			Retries:     cfg.AccountRetries,
			Logger:      logger,
		})
		logger.Info("account ledger: http", zap.String("base_url", cfg.AccountsBaseURL))
	} else {
		svc := accountsmemory.NewAccountService()
		seedDemoAccounts(svc)
		accountClient = svc
		logger.Warn("account ledger: in-memory demo service")
	}

	balanceGuard := guard.New(accountClient, guard.Config{
		MaxRetries: cfg.GuardRetries,
		Metrics:    collector,
		Logger:     logger,
	})

	var publisher interfaces.EventPublisher
	if len(cfg.KafkaBrokers) > 0 {
		kafkaPublisher := kafka.NewPublisher(cfg.KafkaBrokers)
		defer kafkaPublisher.Close()
		publisher = kafkaPublisher
		logger.Info("event publisher: kafka", zap.Strings("brokers", cfg.KafkaBrokers))
	}

	txOrchestrator := orchestrator.New(orchestrator.Config{
		Accounts:  accountClient,
		Guard:     balanceGuard,
		Store:     store,
		Publisher: publisher,
		Metrics:   collector,
		Logger:    logger,
	})

	server := api.NewServer(txOrchestrator, logger, registry)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      server.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("server stopped")
}

func seedDemoAccounts(svc *accountsmemory.AccountService) {
	svc.Seed(models.Account{ID: "acc-1", Balance: decimal.NewFromInt(1000), Currency: "USD"})
	svc.Seed(models.Account{ID: "acc-2", Balance: decimal.NewFromInt(500), Currency: "USD"})
}
