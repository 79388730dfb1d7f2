package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/tiagoc-santos/DataBase-Project/internal/api"
	"github.com/tiagoc-santos/DataBase-Project/internal/appointment"
	"github.com/tiagoc-santos/DataBase-Project/internal/config"
	"github.com/tiagoc-santos/DataBase-Project/internal/db"
	"github.com/tiagoc-santos/DataBase-Project/internal/logging"
	"github.com/tiagoc-santos/DataBase-Project/internal/metrics"
	redisclient "github.com/tiagoc-santos/DataBase-Project/internal/redis"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logging.New("info", "prod")
		bootLog.Fatal().Err(err).Msg("config load error")
	}

	log := logging.New(cfg.LogLevel, cfg.Env).With().Str("service", "api-server").Logger()
	log.Info().Str("env", cfg.Env).Str("http_port", cfg.HTTPPort).Str("version", version).Msg("api-server starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
	})
	cancelPg()
	if err != nil {
		log.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	log.Info().Int32("max_conns", cfg.DBMaxConns).Msg("connected to Postgres")

	if err := db.Migrate(rootCtx, pgPool, log); err != nil {
		log.Fatal().Err(err).Msg("migrations failed")
	}

	// Connect Redis
	var locker redisclient.Locker = redisclient.NoopLocker{}
	var redisHealth api.Pinger
	if cfg.RedisEnabled {
		rdb, err := redisclient.NewRedisClient(rootCtx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
		if err != nil {
			log.Fatal().Err(err).Msg("redis connection error")
		}
		defer closeRedis(rdb, log)
		log.Info().Str("addr", cfg.RedisAddr).Msg("connected to Redis")

		locker = redisclient.NewRedisSlotLocker(rdb, cfg.LockTTL)
		redisHealth = api.RedisPinger{Client: rdb}
	} else {
		log.Warn().Msg("redis disabled, slot lock falls back to database constraints only")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)
	metrics.RegisterPoolStats(reg, pgPool)

	store := appointment.NewPgStore(pgPool, cfg.DBAcquireTimeout)
	svc := appointment.NewService(store, locker, cfg, log)

	router := api.NewRouter(api.RouterConfig{
		Service:         svc,
		Health:          api.NewHealthHandler(pgPool, redisHealth, cfg.Env, version),
		Metrics:         m,
		Gatherer:        reg,
		Logger:          log,
		RateLimitPerMin: cfg.RateLimitPerMin,
	})

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-rootCtx.Done()
		log.Info().Msg("shutting down api-server")
		ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("graceful shutdown failed")
		}
	}()

	log.Info().Str("addr", server.Addr).Msg("listening")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Msg("http server error")
		stop()
		os.Exit(1)
	}
}

func closeRedis(rdb *redis.Client, log zerolog.Logger) {
	if err := rdb.Close(); err != nil {
		log.Error().Err(err).Msg("error closing redis")
	}
}
