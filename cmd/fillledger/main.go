package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"FillLedger/internal/cache"
	"FillLedger/internal/config"
	"FillLedger/internal/dedup"
	"FillLedger/internal/ingest"
	"FillLedger/internal/integrity"
	"FillLedger/internal/observability"
	"FillLedger/internal/persistence"
	"FillLedger/internal/position"
	"FillLedger/internal/rebuild"
	"FillLedger/internal/service"
)

func main() {
	log := observability.NewLogger("fillledger")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.Postgres.DSN())
	if err != nil {
		log.Fatal().Err(err).Msg("postgres open")
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.Postgres.MaxConns)
	db.SetMaxIdleConns(cfg.Postgres.MaxConns / 2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		log.Fatal().Err(err).Msg("postgres ping")
	}
	log.Info().Msg("postgres connected")

	migrator := persistence.NewMigrator(db, "migrations", log)
	if err := migrator.Up(ctx); err != nil {
		log.Fatal().Err(err).Msg("run migrations")
	}

	// --- Redis ---
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Msg("redis ping")
	}
	log.Info().Msg("redis connected")

	// --- NATS ---
	nc, err := nats.Connect(cfg.NATS.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("nats connect")
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		log.Fatal().Err(err).Msg("jetstream init")
	}
	log.Info().Msg("nats connected")

	if err := ingest.EnsureIngestStream(ctx, js, cfg.NATS.IngestStream); err != nil {
		log.Fatal().Err(err).Msg("ensure ingest stream")
	}
	if err := cache.EnsureRebuiltStream(ctx, js); err != nil {
		log.Fatal().Err(err).Msg("ensure rebuilt stream")
	}

	// --- Observability ---
	metrics := observability.NewMetrics()
	health := observability.NewHealthChecker()

	// --- Stores ---
	execStore := persistence.NewExecutionStore(db)
	posStore := persistence.NewPositionStore(db)
	issueStore := persistence.NewIssueStore(db)

	// --- Dedup ledger ---
	ledger := dedup.NewTieredLedger(cfg.Dedup.LRUCapacity, dedup.NewRedisLedger(rdb), metrics)

	// --- Derivation ---
	builder := position.NewBuilder(parseMultipliers(cfg.Rebuild.ContractMultipliers, log))
	publisher := cache.NewPublisher(js)
	invalidator := cache.NewInvalidator(rdb, publisher, metrics, log)
	coordinator := rebuild.NewCoordinator(execStore, posStore, builder, invalidator, metrics, log, cfg.Rebuild.MaxParallel)

	// --- Application ---
	ingestor := ingest.NewIngestor(ledger, execStore, cfg.Dedup.TTL, metrics, log)
	validator := integrity.NewValidator(execStore, posStore, issueStore, metrics, log)
	repairer := integrity.NewRepairer(issueStore, execStore, posStore, builder, coordinator, metrics, log)
	svc := service.New(ingestor, coordinator, validator, repairer, log)

	// --- Ingest consumer ---
	consumer := ingest.NewConsumer(js, cfg.NATS.IngestStream, cfg.NATS.Durable, svc, log)

	errChan := make(chan error, 2)
	go func() {
		errChan <- consumer.Run(ctx)
	}()

	// --- HTTP: probes + metrics ---
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", health.LivenessHandler)
	mux.HandleFunc("/readyz", health.ReadinessHandler)
	mux.Handle("/metrics", promhttp.Handler())

	httpServer := &http.Server{Addr: cfg.App.HTTPAddr, Handler: mux}
	go func() {
		log.Info().Str("addr", cfg.App.HTTPAddr).Msg("http listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	health.SetReady(true)
	log.Info().Str("env", cfg.App.Env).Msg("fillledger ready")

	select {
	case sig := <-sigChan:
		log.Info().Stringer("signal", sig).Msg("shutting down")
	case err := <-errChan:
		log.Error().Err(err).Msg("fatal error, shutting down")
	}

	health.SetReady(false)
	cancel()

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutCancel()
	httpServer.Shutdown(shutCtx)

	log.Info().Msg("shutdown complete")
}

// parseMultipliers converts the configured instrument:multiplier map into
// decimals, skipping unparseable entries with a warning.
func parseMultipliers(raw map[string]string, log zerolog.Logger) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(raw))
	for instrument, v := range raw {
		m, err := decimal.NewFromString(v)
		if err != nil {
			log.Warn().Str("instrument", instrument).Str("value", v).Msg("skipping invalid contract multiplier")
			continue
		}
		out[instrument] = m
	}
	return out
}
