// Package ingest принимает подписанные события репозиториев, доставляет уведомления
// в каналы и откладывает недоставленные события для повторной отправки.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"guild-rewards-bot/internal/adapters/signature"
	"guild-rewards-bot/internal/domain"
	"guild-rewards-bot/internal/infra/metrics"
)

// DefaultDeliveryTimeout ограничивает живую доставку, чтобы не держать запрос источника.
const DefaultDeliveryTimeout = 3 * time.Second

// Verifier проверяет подпись тела запроса.
type Verifier interface {
	Verify(rawBody []byte, headers http.Header, scheme signature.Scheme) (signature.ParsedEvent, error)
}

// Options — параметры конвейера.
type Options struct {
	DeliveryTimeout time.Duration
	Clock           domain.Clock
	Logger          zerolog.Logger
	// Signal будит процесс повторной доставки; может быть nil.
	Signal domain.ReplaySignal
}

// Pipeline реализует приём событий GitHub.
type Pipeline struct {
	verifier Verifier
	subs     domain.SubscriptionRepo
	pending  domain.PendingEventRepo
	dedupe   domain.DeliveryDeduper
	sink     domain.MessagingSink
	signal   domain.ReplaySignal
	timeout  time.Duration
	clock    domain.Clock
	log      zerolog.Logger
}

// NewPipeline создаёт конвейер.
func NewPipeline(verifier Verifier, subs domain.SubscriptionRepo, pending domain.PendingEventRepo, dedupe domain.DeliveryDeduper, sink domain.MessagingSink, opts Options) *Pipeline {
	if opts.DeliveryTimeout <= 0 {
		opts.DeliveryTimeout = DefaultDeliveryTimeout
	}
	if opts.Clock == nil {
		opts.Clock = domain.SystemClock{}
	}
	return &Pipeline{
		verifier: verifier,
		subs:     subs,
		pending:  pending,
		dedupe:   dedupe,
		sink:     sink,
		signal:   opts.Signal,
		timeout:  opts.DeliveryTimeout,
		clock:    opts.Clock,
		log:      opts.Logger.With().Str("component", "ingest").Logger(),
	}
}

// IngestGitHub проверяет подпись и маршрутизирует событие репозитория.
// Ошибка возвращается только если событие не принято: domain.ErrAuth,
// domain.ErrMissingRouting или сбой сохранения в очередь.
func (p *Pipeline) IngestGitHub(ctx context.Context, rawBody []byte, headers http.Header) (domain.DeliveryOutcome, error) {
	ev, err := p.verifier.Verify(rawBody, headers, signature.SchemeHMACSHA256)
	if err != nil {
		return "", err
	}
	eventKind := strings.TrimSpace(headers.Get(signature.HeaderGitHubEvent))
	if eventKind == "" {
		return "", fmt.Errorf("%w: missing event kind", domain.ErrMissingRouting)
	}
	repository := strings.ToLower(strings.TrimSpace(ev.String("repository.full_name")))
	if repository == "" {
		return "", fmt.Errorf("%w: missing repository", domain.ErrMissingRouting)
	}
	deliveryID := strings.TrimSpace(headers.Get(signature.HeaderGitHubDelivery))
	log := p.log.With().Str("repository", repository).Str("event", eventKind).Str("delivery", deliveryID).Logger()

	outcome, err := p.route(ctx, log, ev, repository, eventKind, deliveryID)
	if err == nil {
		metrics.IncIngestOutcome(domain.SourceGitHub, string(outcome))
	}
	return outcome, err
}

func (p *Pipeline) route(ctx context.Context, log zerolog.Logger, ev signature.ParsedEvent, repository, eventKind, deliveryID string) (domain.DeliveryOutcome, error) {
	sub, err := p.subs.FindSubscription(ctx, repository)
	if errors.Is(err, domain.ErrNotFound) {
		log.Info().Msg("ingest: no subscription for repository")
		return domain.OutcomeIgnored, nil
	}
	if err != nil {
		// Без подписки нельзя понять, куда доставлять: откладываем событие целиком.
		log.Error().Err(err).Msg("ingest: subscription lookup failed")
		dedupeKey, duplicate := p.claim(ctx, log, deliveryID)
		if duplicate {
			return domain.OutcomeDuplicate, nil
		}
		return p.enqueueClaimed(ctx, log, ev.Raw, repository, eventKind, deliveryID, dedupeKey, err)
	}
	if !sub.Allows(eventKind) {
		log.Info().Str("events", sub.Events).Msg("ingest: event kind not subscribed")
		return domain.OutcomeIgnored, nil
	}

	dedupeKey, duplicate := p.claim(ctx, log, deliveryID)
	if duplicate {
		return domain.OutcomeDuplicate, nil
	}

	sendErr := p.deliver(ctx, sub, eventKind, ev.Fields)
	if sendErr == nil {
		log.Info().Str("channel", sub.ChannelID).Msg("ingest: delivered")
		return domain.OutcomeDelivered, nil
	}
	metrics.SinkSendErrors.Inc()
	log.Warn().Err(sendErr).Str("channel", sub.ChannelID).Msg("ingest: live delivery failed, queueing")

	return p.enqueueClaimed(ctx, log, ev.Raw, repository, eventKind, deliveryID, dedupeKey, sendErr)
}

// claim занимает ключ доставки. Пустой ключ означает, что снимать нечего:
// идентификатора нет или хранилище дедупликации недоступно.
func (p *Pipeline) claim(ctx context.Context, log zerolog.Logger, deliveryID string) (string, bool) {
	if deliveryID == "" {
		return "", false
	}
	key := domain.SourceGitHub + ":" + deliveryID
	fresh, err := p.dedupe.Claim(ctx, key)
	switch {
	case err != nil:
		log.Warn().Err(err).Msg("ingest: dedupe unavailable, accepting delivery")
		return "", false
	case !fresh:
		log.Info().Msg("ingest: duplicate delivery dropped")
		return "", true
	}
	return key, false
}

// enqueueClaimed сохраняет событие и снимает ключ доставки, если сохранить не удалось,
// чтобы повтор источника был принят.
func (p *Pipeline) enqueueClaimed(ctx context.Context, log zerolog.Logger, raw []byte, repository, eventKind, deliveryID, dedupeKey string, cause error) (domain.DeliveryOutcome, error) {
	outcome, err := p.enqueue(ctx, log, raw, repository, eventKind, deliveryID, cause)
	if err != nil && dedupeKey != "" {
		if relErr := p.dedupe.Release(context.WithoutCancel(ctx), dedupeKey); relErr != nil {
			log.Error().Err(relErr).Msg("ingest: release dedupe key failed")
		}
	}
	return outcome, err
}

// deliver отправляет уведомление с ограничением по времени.
func (p *Pipeline) deliver(ctx context.Context, sub domain.RepoSubscription, eventKind string, fields map[string]any) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if _, err := p.sink.Send(ctx, sub.ChannelID, FormatEvent(eventKind, fields)); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrTransientDelivery, err)
	}
	return nil
}

func (p *Pipeline) enqueue(ctx context.Context, log zerolog.Logger, raw []byte, repository, eventKind, deliveryID string, cause error) (domain.DeliveryOutcome, error) {
	// Запрос источника может быть уже отменён, а событие нужно сохранить.
	ctx = context.WithoutCancel(ctx)
	ev := domain.PendingExternalEvent{
		ID:         uuid.NewString(),
		SourceKind: domain.SourceGitHub,
		RoutingKey: repository,
		EventKind:  eventKind,
		DeliveryID: deliveryID,
		Payload:    raw,
		ReceivedAt: p.clock.Now(),
	}
	if cause != nil {
		ev.LastError = cause.Error()
	}
	if err := p.pending.EnqueuePendingEvent(ctx, ev); err != nil {
		log.Error().Err(err).Msg("ingest: enqueue pending event failed")
		return "", fmt.Errorf("сохранение отложенного события: %w", err)
	}
	if p.signal != nil {
		if err := p.signal.Notify(ctx, ev.ID); err != nil {
			log.Warn().Err(err).Str("pending", ev.ID).Msg("ingest: replay wake-up failed")
		}
	}
	log.Info().Str("pending", ev.ID).Msg("ingest: event queued")
	return domain.OutcomeQueued, nil
}
