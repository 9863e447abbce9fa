package domain

import "errors"

var (
	// ErrNotFound возвращается, когда запись отсутствует в хранилище или у платформы.
	ErrNotFound = errors.New("not found")

	// ErrConflict возвращается при нарушении уникальности (например, вторая открытая сессия).
	ErrConflict = errors.New("conflict")

	// ErrAuth объединяет все ошибки проверки подписи. Наружу отдаётся только 401.
	ErrAuth = errors.New("authentication failed")

	// ErrMissingRouting возвращается, если в событии нет данных для маршрутизации.
	ErrMissingRouting = errors.New("missing routing metadata")

	// ErrTransientDelivery — временная ошибка доставки в канал, событие уходит в очередь.
	ErrTransientDelivery = errors.New("transient delivery failure")

	// ErrInvalidAmount возвращается для неположительных сумм начислений и списаний.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInvalidConfig возвращается для некорректных настроек сервера.
	ErrInvalidConfig = errors.New("invalid configuration")
)
