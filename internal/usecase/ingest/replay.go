package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"guild-rewards-bot/internal/domain"
	"guild-rewards-bot/internal/infra/metrics"
)

const (
	DefaultReplayInterval    = 30 * time.Second
	DefaultReplayMaxAttempts = 10
	DefaultReplayBatchSize   = 50
)

// WakeupSource блокирующе ждёт сигнал о новом отложенном событии.
type WakeupSource interface {
	Pop(ctx context.Context) (string, error)
}

// ReplayOptions — параметры повторной доставки.
type ReplayOptions struct {
	Interval        time.Duration
	MaxAttempts     int
	BatchSize       int
	DeliveryTimeout time.Duration
	Clock           domain.Clock
	Logger          zerolog.Logger
	// Wakeups ускоряет обход после постановки события в очередь; может быть nil.
	Wakeups WakeupSource
}

// SweepResult — итог одного обхода очереди.
type SweepResult struct {
	Delivered int
	Failed    int
	Skipped   int
}

// Replayer повторно доставляет отложенные события. Каждая попытка сначала увеличивает
// счётчик, потом доставляет и только после успеха отмечает событие обработанным,
// поэтому остановка посреди обхода не портит записи.
type Replayer struct {
	pending domain.PendingEventRepo
	subs    domain.SubscriptionRepo
	sink    domain.MessagingSink
	opts    ReplayOptions
	log     zerolog.Logger
}

// NewReplayer создаёт процесс повторной доставки.
func NewReplayer(pending domain.PendingEventRepo, subs domain.SubscriptionRepo, sink domain.MessagingSink, opts ReplayOptions) *Replayer {
	if opts.Interval <= 0 {
		opts.Interval = DefaultReplayInterval
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultReplayMaxAttempts
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultReplayBatchSize
	}
	if opts.DeliveryTimeout <= 0 {
		opts.DeliveryTimeout = DefaultDeliveryTimeout
	}
	if opts.Clock == nil {
		opts.Clock = domain.SystemClock{}
	}
	return &Replayer{
		pending: pending,
		subs:    subs,
		sink:    sink,
		opts:    opts,
		log:     opts.Logger.With().Str("component", "replayer").Logger(),
	}
}

// Run обходит очередь по таймеру и по сигналам, пока ctx не отменён.
func (r *Replayer) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.opts.Interval)
	defer ticker.Stop()

	wake := make(chan struct{}, 1)
	if r.opts.Wakeups != nil {
		go r.listen(ctx, wake)
	}

	r.log.Info().Dur("interval", r.opts.Interval).Int("max_attempts", r.opts.MaxAttempts).Msg("replayer: started")
	for {
		if _, err := r.Sweep(ctx); err != nil && ctx.Err() == nil {
			r.log.Error().Err(err).Msg("replayer: sweep failed")
		}
		select {
		case <-ctx.Done():
			r.log.Info().Msg("replayer: stopped")
			return ctx.Err()
		case <-ticker.C:
		case <-wake:
		}
	}
}

func (r *Replayer) listen(ctx context.Context, wake chan<- struct{}) {
	for {
		id, err := r.opts.Wakeups.Pop(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			r.log.Warn().Err(err).Msg("replayer: wake-up queue error")
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		r.log.Debug().Str("pending", id).Msg("replayer: woken up")
		select {
		case wake <- struct{}{}:
		default:
		}
	}
}

// Sweep делает один проход по необработанным событиям с attempts < MaxAttempts.
// События, исчерпавшие попытки, не трогаются и остаются для ручного разбора.
func (r *Replayer) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	rows, err := r.pending.ListPendingEvents(ctx, r.opts.MaxAttempts, r.opts.BatchSize)
	if err != nil {
		return res, fmt.Errorf("получение отложенных событий: %w", err)
	}
	for _, ev := range rows {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		outcome, err := r.replay(ctx, ev)
		if err != nil {
			return res, err
		}
		switch outcome {
		case replayDelivered:
			res.Delivered++
		case replaySkipped:
			res.Skipped++
		default:
			res.Failed++
		}
		metrics.IncReplayAttempt(string(outcome))
	}
	if len(rows) > 0 {
		r.log.Info().Int("delivered", res.Delivered).Int("failed", res.Failed).Int("skipped", res.Skipped).Msg("replayer: sweep done")
	}
	return res, nil
}

type replayOutcome string

const (
	replayDelivered replayOutcome = "delivered"
	replayFailed    replayOutcome = "failed"
	replaySkipped   replayOutcome = "skipped"
)

func (r *Replayer) replay(ctx context.Context, ev domain.PendingExternalEvent) (replayOutcome, error) {
	log := r.log.With().Str("pending", ev.ID).Str("repository", ev.RoutingKey).Str("event", ev.EventKind).Logger()

	attempts, err := r.pending.IncrementPendingAttempts(ctx, ev.ID)
	if err != nil {
		return "", fmt.Errorf("учёт попытки %s: %w", ev.ID, err)
	}

	sub, err := r.subs.FindSubscription(ctx, ev.RoutingKey)
	if errors.Is(err, domain.ErrNotFound) || (err == nil && !sub.Allows(ev.EventKind)) {
		// Подписку удалили или сузили, пока событие ждало: доставлять некуда.
		log.Info().Msg("replayer: subscription gone, marking processed")
		if err := r.pending.MarkPendingProcessed(ctx, ev.ID, r.opts.Clock.Now()); err != nil {
			return "", fmt.Errorf("отметка события %s: %w", ev.ID, err)
		}
		return replaySkipped, nil
	}
	if err != nil {
		r.recordError(ctx, log, ev.ID, err)
		return replayFailed, nil
	}

	fields, err := decodePayload(ev.Payload)
	if err != nil {
		r.recordError(ctx, log, ev.ID, err)
		return replayFailed, nil
	}

	sendCtx, cancel := context.WithTimeout(ctx, r.opts.DeliveryTimeout)
	_, err = r.sink.Send(sendCtx, sub.ChannelID, FormatEvent(ev.EventKind, fields))
	cancel()
	if err != nil {
		metrics.SinkSendErrors.Inc()
		r.recordError(ctx, log, ev.ID, err)
		if attempts >= r.opts.MaxAttempts {
			log.Error().Int("attempts", attempts).Msg("replayer: attempts exhausted, left for inspection")
		}
		return replayFailed, nil
	}

	if err := r.pending.MarkPendingProcessed(ctx, ev.ID, r.opts.Clock.Now()); err != nil {
		return "", fmt.Errorf("отметка события %s: %w", ev.ID, err)
	}
	log.Info().Int("attempts", attempts).Msg("replayer: delivered")
	return replayDelivered, nil
}

func (r *Replayer) recordError(ctx context.Context, log zerolog.Logger, id string, cause error) {
	log.Warn().Err(cause).Msg("replayer: delivery failed")
	if err := r.pending.RecordPendingError(ctx, id, cause.Error()); err != nil {
		log.Error().Err(err).Msg("replayer: record error failed")
	}
}

func decodePayload(raw []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("разбор сохранённого события: %w", err)
	}
	return fields, nil
}
