package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"guild-rewards-bot/internal/adapters/bot"
	"guild-rewards-bot/internal/adapters/discord"
	"guild-rewards-bot/internal/infra/bootstrap"
	"guild-rewards-bot/internal/infra/config"
	"guild-rewards-bot/internal/infra/log"
	"guild-rewards-bot/internal/infra/metrics"
	"guild-rewards-bot/internal/usecase/cooldown"
	"guild-rewards-bot/internal/usecase/media"
	"guild-rewards-bot/internal/usecase/points"
	"guild-rewards-bot/internal/usecase/starboard"
	"guild-rewards-bot/internal/usecase/voice"
)

func main() {
	cfg := config.Load()
	logger := log.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := bootstrap.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("не удалось подключиться к хранилищу")
	}
	defer deps.Close()

	session, err := discord.NewSession(cfg.Discord.Token)
	if err != nil {
		logger.Fatal().Err(err).Msg("не удалось создать сессию discord")
	}
	sink := discord.NewSink(session)

	ledger := points.NewLedger(deps.Store)
	tracker := voice.NewTracker(deps.Store, deps.Store, ledger, deps.Locker, nil, logger)
	gate := media.NewGate(deps.Store, deps.Store, cooldown.NewGate(deps.Store), ledger, nil, logger)
	aggregator := starboard.NewAggregator(deps.Store, sink, deps.Locker, nil, logger)

	listener := discord.NewListener(tracker, gate, aggregator, sink, logger)
	listener.Register(session)

	if err := session.Open(); err != nil {
		logger.Fatal().Err(err).Msg("не удалось подключиться к gateway")
	}
	defer session.Close()

	if cfg.Discord.ApplicationID != "" {
		if _, err := session.ApplicationCommandBulkOverwrite(cfg.Discord.ApplicationID, "", bot.Commands()); err != nil {
			logger.Error().Err(err).Msg("не удалось зарегистрировать slash-команды")
		}
	}

	metrics.StartServer(ctx, logger.With().Str("component", "metrics").Logger(), cfg.MetricsAddr)
	logger.Info().Msg("бот-гейтвей запущен")
	<-ctx.Done()
	logger.Info().Msg("остановка бота")
}
