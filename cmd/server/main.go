// Package main is the entry point for the webhook trading gateway. It wires
// configuration, storage, the exchange registry, and the gateway/executor/
// reconciler services, then serves HTTP until signalled to stop.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aristath/signalbridge/internal/archival"
	"github.com/aristath/signalbridge/internal/breaker"
	"github.com/aristath/signalbridge/internal/config"
	"github.com/aristath/signalbridge/internal/database"
	"github.com/aristath/signalbridge/internal/domain"
	"github.com/aristath/signalbridge/internal/events"
	"github.com/aristath/signalbridge/internal/exchange"
	"github.com/aristath/signalbridge/internal/executor"
	"github.com/aristath/signalbridge/internal/gateway"
	"github.com/aristath/signalbridge/internal/health"
	"github.com/aristath/signalbridge/internal/queue"
	"github.com/aristath/signalbridge/internal/ratelimit"
	"github.com/aristath/signalbridge/internal/reconciler"
	"github.com/aristath/signalbridge/internal/repository"
	"github.com/aristath/signalbridge/internal/server"
	"github.com/aristath/signalbridge/internal/stats"
	"github.com/aristath/signalbridge/internal/vault"
	"github.com/aristath/signalbridge/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("failed to load configuration")
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})
	log.Info().Msg("starting signalbridge")

	db, err := database.New(database.Config{DSN: cfg.DatabaseDSN})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := db.Migrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate database")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Msg("failed to reach redis")
	}

	v, err := vault.New(cfg.MasterKey)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize credential vault")
	}

	breakers := breaker.NewRegistry(breaker.DefaultConfig())
	bus := events.NewBus(log)

	registry := exchange.NewRegistry()
	registry.Register(domain.ExchangeBinance, exchange.NewBinanceFactory())
	registry.Register(domain.ExchangeBybit, exchange.NewBybitFactory())
	registry.Register(domain.ExchangeOKX, exchange.NewOKXFactory())
	registry.Register(domain.ExchangeCoinbase, exchange.NewCoinbaseFactory())
	registry.Register(domain.ExchangeBitget, exchange.NewBitgetFactory())

	webhooks := repository.NewWebhookRepository(db)
	accounts := repository.NewAccountRepository(db)
	jobs := repository.NewJobRepository(db)
	orders := repository.NewOrderRepository(db)
	positions := repository.NewPositionRepository(db)
	trades := repository.NewTradeRepository(db)
	pnl := repository.NewPnLRepository(db)

	limiter := ratelimit.New(rdb)
	q := queue.New(rdb, log)

	gatewayHandler := gateway.NewHandler(log, webhooks, accounts, jobs, limiter, q, bus)

	worker := executor.NewWorker(log, q, v, registry, breakers, accounts, jobs, orders, positions)
	worker.Concurrency = cfg.ExecutorConcurrency

	scheduler := queue.NewScheduler(q, accounts, log, cfg.ReconcileInterval)
	rc := reconciler.New(log, q, scheduler, v, registry, breakers, accounts, orders, trades, positions, pnl, bus)

	statsCalc := stats.NewCalculator(trades)
	healthChecker := health.NewChecker(db, rdb, registry, breakers, statsCalc)

	exchangePings, err := buildExchangePings(ctx, accounts, v)
	if err != nil {
		log.Warn().Err(err).Msg("failed to build exchange health pings, /health will skip exchange probes")
	}

	var exporter *archival.Exporter
	if cfg.ArchiveBucket != "" {
		store, err := archival.NewStore(ctx, archival.StoreConfig{
			Bucket:          cfg.ArchiveBucket,
			Region:          cfg.ArchiveRegion,
			Endpoint:        cfg.ArchiveEndpoint,
			AccessKeyID:     cfg.ArchiveAccessKeyID,
			SecretAccessKey: cfg.ArchiveSecretAccessKey,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize archival store")
		}
		exporter = archival.NewExporter(log, store, orders)
		if err := scheduler.AddCronJob("0 3 * * *", func() {
			if err := exporter.Run(ctx); err != nil {
				log.Error().Err(err).Msg("archival export failed")
			}
		}); err != nil {
			log.Fatal().Err(err).Msg("failed to register archival cron job")
		}
		log.Info().Str("bucket", cfg.ArchiveBucket).Msg("archival export scheduled")
	} else {
		log.Warn().Msg("ARCHIVE_BUCKET not configured, audit archival disabled")
	}

	srv := server.New(server.Config{
		Log:            log,
		Port:           cfg.Port,
		DevMode:        cfg.DevMode,
		GatewayHandler: gatewayHandler,
		HealthChecker:  healthChecker,
		ExchangePings:  exchangePings,
		Accounts:       accounts,
	})

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()
	log.Info().Int("port", cfg.Port).Msg("server started")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		worker.Run(ctx)
	}()
	log.Info().Int("concurrency", cfg.ExecutorConcurrency).Msg("execution worker started")

	go func() {
		defer wg.Done()
		rc.Run(ctx)
	}()
	log.Info().Msg("reconciler started")

	scheduler.Start(ctx)
	log.Info().Msg("scheduler started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutdown signal received")

	cancel()
	scheduler.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	drained := make(chan struct{})
	go func() {
		wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-shutdownCtx.Done():
		log.Warn().Msg("worker/reconciler drain deadline exceeded, exiting anyway")
	}

	log.Info().Msg("server stopped")
}

// buildExchangePings picks one active account per exchange tag and decrypts
// its credentials, giving the /health exchange probes something to ping
// without pinging every account on every request.
func buildExchangePings(ctx context.Context, accounts *repository.AccountRepository, v *vault.Vault) ([]health.ExchangePing, error) {
	active, err := accounts.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[domain.ExchangeTag]bool)
	var pings []health.ExchangePing
	for _, a := range active {
		if seen[a.Exchange] {
			continue
		}
		creds, err := v.DecryptCredentials(a.APIKeyCipher, a.SecretCipher, a.PassphraseCipher)
		if err != nil {
			continue
		}
		seen[a.Exchange] = true
		pings = append(pings, health.ExchangePing{
			Exchange: a.Exchange,
			Creds:    exchange.Credentials{APIKey: creds.APIKey, Secret: creds.Secret, Passphrase: creds.Passphrase},
			Testnet:  a.Testnet,
		})
	}
	return pings, nil
}
