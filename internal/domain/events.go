package domain

import (
	"context"
	"time"
)

// SourceGitHub — источник событий репозитория.
const SourceGitHub = "github"

// PendingExternalEvent хранит подписанное событие, которое не удалось доставить сразу.
type PendingExternalEvent struct {
	ID          string
	SourceKind  string
	RoutingKey  string
	EventKind   string
	DeliveryID  string
	Payload     []byte
	ReceivedAt  time.Time
	Processed   bool
	ProcessedAt *time.Time
	Attempts    int
	LastError   string
}

// DeliveryOutcome — результат приёма входящего события.
type DeliveryOutcome string

const (
	// OutcomeIgnored — источник не настроен или тип события не разрешён.
	OutcomeIgnored DeliveryOutcome = "ignored"
	// OutcomeDuplicate — событие с тем же delivery id уже принималось.
	OutcomeDuplicate DeliveryOutcome = "duplicate"
	// OutcomeDelivered — уведомление доставлено сразу.
	OutcomeDelivered DeliveryOutcome = "delivered"
	// OutcomeQueued — доставка не удалась, событие сохранено для повтора.
	OutcomeQueued DeliveryOutcome = "queued"
)

// PendingEventRepo управляет очередью отложенных событий.
type PendingEventRepo interface {
	EnqueuePendingEvent(ctx context.Context, ev PendingExternalEvent) error
	// ListPendingEvents возвращает необработанные события с attempts < maxAttempts
	// в порядке поступления.
	ListPendingEvents(ctx context.Context, maxAttempts, limit int) ([]PendingExternalEvent, error)
	GetPendingEvent(ctx context.Context, id string) (PendingExternalEvent, error)
	// IncrementPendingAttempts увеличивает счётчик попыток и возвращает новое значение.
	IncrementPendingAttempts(ctx context.Context, id string) (int, error)
	MarkPendingProcessed(ctx context.Context, id string, at time.Time) error
	RecordPendingError(ctx context.Context, id, message string) error
}

// DeliveryDeduper отсекает повторную доставку одного и того же события.
type DeliveryDeduper interface {
	// Claim возвращает true, если ключ встретился впервые.
	Claim(ctx context.Context, key string) (bool, error)
	// Release снимает отметку, если событие не удалось принять, чтобы повтор источника прошёл.
	Release(ctx context.Context, key string) error
}

// ReplaySignal будит процесс повторной доставки после постановки события в очередь.
type ReplaySignal interface {
	Notify(ctx context.Context, eventID string) error
}
