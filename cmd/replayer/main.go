package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"guild-rewards-bot/internal/adapters/discord"
	"guild-rewards-bot/internal/infra/bootstrap"
	"guild-rewards-bot/internal/infra/config"
	applog "guild-rewards-bot/internal/infra/log"
	"guild-rewards-bot/internal/infra/metrics"
	"guild-rewards-bot/internal/usecase/ingest"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := bootstrap.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("replayer: нет подключения к хранилищу")
	}
	defer deps.Close()

	session, err := discord.NewSession(cfg.Discord.Token)
	if err != nil {
		logger.Fatal().Err(err).Msg("replayer: не удалось создать сессию discord")
	}

	opts := ingest.ReplayOptions{
		Interval:        cfg.Replay.Interval,
		MaxAttempts:     cfg.Replay.MaxAttempts,
		BatchSize:       cfg.Replay.BatchSize,
		DeliveryTimeout: cfg.Delivery.Timeout,
		Logger:          logger,
	}
	if deps.Wakeups != nil {
		opts.Wakeups = deps.Wakeups
	}
	replayer := ingest.NewReplayer(deps.Store, deps.Store, discord.NewSink(session), opts)

	metrics.StartServer(ctx, logger.With().Str("component", "metrics").Logger(), cfg.MetricsAddr)
	logger.Info().Msg("replayer: старт")
	if err := replayer.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error().Err(err).Msg("replayer: остановлен с ошибкой")
	}
	logger.Info().Msg("replayer: остановка")
}
