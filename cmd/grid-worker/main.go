package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/tiagoc-santos/DataBase-Project/internal/appointment"
	"github.com/tiagoc-santos/DataBase-Project/internal/config"
	"github.com/tiagoc-santos/DataBase-Project/internal/db"
	"github.com/tiagoc-santos/DataBase-Project/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logging.New("info", "prod")
		bootLog.Fatal().Err(err).Msg("config load error")
	}

	log := logging.New(cfg.LogLevel, cfg.Env).With().Str("service", "grid-worker").Logger()
	log.Info().
		Str("env", cfg.Env).
		Dur("interval", cfg.WorkerInterval).
		Int("horizon_days", cfg.GridHorizonDays).
		Dur("step", cfg.GridStep).
		Msg("grid-worker starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{MaxConns: 2, MinConns: 1})
	cancelPg()
	if err != nil {
		log.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	log.Info().Msg("connected to Postgres")

	if err := db.Migrate(rootCtx, pgPool, log); err != nil {
		log.Fatal().Err(err).Msg("migrations failed")
	}

	spec := appointment.DefaultGridSpec()
	spec.Step = cfg.GridStep
	if err := spec.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid grid spec")
	}

	maintainer := appointment.NewGridMaintainer(
		appointment.NewPgRepository(pgPool),
		spec,
		cfg.GridHorizonDays,
		appointment.WallClock(cfg.Location),
		log,
	)

	// Run once at startup
	runOnce(rootCtx, maintainer, log)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			log.Info().Msg("shutdown signal received, stopping grid worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, maintainer, log)
		}
	}
}

func runOnce(ctx context.Context, m *appointment.GridMaintainer, log zerolog.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	start := time.Now()
	if _, err := m.Extend(runCtx); err != nil {
		log.Error().Err(err).Msg("grid run error")
		return
	}
	log.Info().Dur("took", time.Since(start)).Msg("grid run complete")
}
