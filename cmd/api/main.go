package main

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"guild-rewards-bot/internal/adapters/bot"
	"guild-rewards-bot/internal/adapters/discord"
	"guild-rewards-bot/internal/adapters/signature"
	"guild-rewards-bot/internal/infra/bootstrap"
	"guild-rewards-bot/internal/infra/config"
	httpinfra "guild-rewards-bot/internal/infra/http"
	applog "guild-rewards-bot/internal/infra/log"
	"guild-rewards-bot/internal/infra/metrics"
	"guild-rewards-bot/internal/usecase/cooldown"
	"guild-rewards-bot/internal/usecase/guildconfig"
	"guild-rewards-bot/internal/usecase/ingest"
	"guild-rewards-bot/internal/usecase/media"
	"guild-rewards-bot/internal/usecase/points"
	"guild-rewards-bot/internal/usecase/voice"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := bootstrap.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: нет подключения к хранилищу")
	}
	defer deps.Close()

	session, err := discord.NewSession(cfg.Discord.Token)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: не удалось создать сессию discord")
	}
	sink := discord.NewSink(session)

	var publicKey ed25519.PublicKey
	if cfg.Discord.PublicKey != "" {
		publicKey, err = signature.ParseEd25519PublicKey(cfg.Discord.PublicKey)
		if err != nil {
			logger.Fatal().Err(err).Msg("api: некорректный DISCORD_PUBLIC_KEY")
		}
	} else {
		logger.Warn().Msg("api: DISCORD_PUBLIC_KEY не задан, interactions будут отклоняться")
	}
	if cfg.GitHub.WebhookSecret == "" {
		logger.Warn().Msg("api: GITHUB_WEBHOOK_SECRET не задан, webhook будет отклоняться")
	}
	verifier := signature.NewVerifier(
		signature.WithHMACSecret(cfg.GitHub.WebhookSecret),
		signature.WithPublicKey(publicKey),
		signature.WithMaxSkew(cfg.Delivery.InteractionMaxSkew),
	)

	pipeline := ingest.NewPipeline(verifier, deps.Store, deps.Store, deps.Deduper, sink, ingest.Options{
		DeliveryTimeout: cfg.Delivery.Timeout,
		Logger:          logger,
		Signal:          deps.Signal,
	})

	ledger := points.NewLedger(deps.Store)
	handler := bot.NewHandler(verifier, bot.Services{
		Config: guildconfig.NewService(deps.Store, sink, nil, logger),
		Ledger: ledger,
		Voice:  voice.NewTracker(deps.Store, deps.Store, ledger, deps.Locker, nil, logger),
		Media:  media.NewGate(deps.Store, deps.Store, cooldown.NewGate(deps.Store), ledger, nil, logger),
	}, logger)

	srv := httpinfra.NewServer(logger)
	srv.MountGitHubWebhook(pipeline)
	srv.MountInteractions(handler)

	metrics.StartServer(ctx, logger.With().Str("component", "metrics").Logger(), cfg.MetricsAddr)
	go func() {
		logger.Info().Msg("api: старт")
		if err := srv.Start(fmt.Sprintf(":%d", cfg.Port)); err != nil {
			logger.Error().Err(err).Msg("api: сервер остановлен")
			stop()
		}
	}()
	<-ctx.Done()
	logger.Info().Msg("api: остановка")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}
