package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	IngestOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_outcomes_total",
		Help: "Результаты приёма подписанных событий",
	}, []string{"source", "outcome"})

	ReplayAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "replay_attempts_total",
		Help: "Попытки повторной доставки отложенных событий",
	}, []string{"result"})

	RewardsGranted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rewards_granted_total",
		Help: "Начисленные награды по видам",
	}, []string{"kind"})

	RewardPoints = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reward_points_total",
		Help: "Сумма начисленных очков по видам",
	}, []string{"kind"})

	StarboardActions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "starboard_actions_total",
		Help: "Решения старборда по изменениям реакций",
	}, []string{"action"})

	SinkSendErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sink_send_errors_total",
		Help: "Ошибки отправки сообщений в каналы",
	})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 15, 30, 60},
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество сетевых запросов",
	}, []string{"component", "operation", "target", "status"})
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		IngestOutcomes,
		ReplayAttempts,
		RewardsGranted,
		RewardPoints,
		StarboardActions,
		SinkSendErrors,
		NetworkRequestDuration,
		NetworkRequestTotal,
	)
}

// StartServer запускает HTTP сервер с эндпоинтом /metrics.
func StartServer(ctx context.Context, logger zerolog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: graceful shutdown failed")
		}
	}()

	go func() {
		logger.Info().Str("addr", addr).Msg("metrics: server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: server stopped")
		}
	}()
}

// ObserveNetworkRequest записывает длительность и статус сетевого запроса.
func ObserveNetworkRequest(component, operation, target string, start time.Time, err error) {
	if component == "" {
		component = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	if target == "" {
		target = "unknown"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	NetworkRequestDuration.WithLabelValues(component, operation, target, status).Observe(time.Since(start).Seconds())
	NetworkRequestTotal.WithLabelValues(component, operation, target, status).Inc()
}

// IncIngestOutcome учитывает результат приёма события.
func IncIngestOutcome(source, outcome string) {
	IngestOutcomes.WithLabelValues(source, outcome).Inc()
}

// IncReplayAttempt учитывает попытку повторной доставки.
func IncReplayAttempt(result string) {
	ReplayAttempts.WithLabelValues(result).Inc()
}

// ObserveReward учитывает начисленную награду.
func ObserveReward(kind string, points int64) {
	RewardsGranted.WithLabelValues(kind).Inc()
	if points > 0 {
		RewardPoints.WithLabelValues(kind).Add(float64(points))
	}
}

// IncStarboardAction учитывает решение старборда.
func IncStarboardAction(action string) {
	StarboardActions.WithLabelValues(action).Inc()
}
