package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized возвращается, когда у участника нет прав на действие.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrNotFound возвращается, когда целевое сообщение не удалось сопоставить с логическим.
	ErrNotFound = errors.New("message not found")
	// ErrStore оборачивает любые сбои хранилища.
	ErrStore = errors.New("store failure")
	// ErrDuplicateOrigin сигнализирует о нарушении инварианта: корневая запись уже существует.
	ErrDuplicateOrigin = errors.New("duplicate origin")
	// ErrDuplicateDelivery — у получателя уже есть копия этого логического сообщения.
	ErrDuplicateDelivery = errors.New("duplicate delivery")
	// ErrBanned возвращается при попытке изменить состояние заблокированного участника.
	ErrBanned = errors.New("participant is banned")
	// ErrInvalidTransition — переход не предусмотрен машиной состояний допуска.
	ErrInvalidTransition = errors.New("invalid admission transition")
	ErrParticipantNotFound = errors.New("participant not found")
	// ErrInvalidDisplayName — имя содержит недопустимые символы или слишком длинное.
	ErrInvalidDisplayName = errors.New("invalid display name")
)

// NotAdmittedReason объясняет, почему участник не допущен.
type NotAdmittedReason string

const (
	ReasonPending       NotAdmittedReason = "pending"
	ReasonBanned        NotAdmittedReason = "banned"
	ReasonDisabled      NotAdmittedReason = "disabled"
	ReasonNoDisplayName NotAdmittedReason = "no_display_name"
)

// NotAdmittedError возвращается шлюзом допуска. Ошибка всегда устранима
// самим пользователем (дождаться одобрения, задать имя), кроме блокировки.
type NotAdmittedError struct {
	Participant int64
	Reason      NotAdmittedReason
}

func (e *NotAdmittedError) Error() string {
	return fmt.Sprintf("participant %d not admitted: %s", e.Participant, e.Reason)
}

// NotAdmittedReasonOf извлекает причину отказа в допуске из цепочки ошибок.
func NotAdmittedReasonOf(err error) (NotAdmittedReason, bool) {
	var na *NotAdmittedError
	if errors.As(err, &na) {
		return na.Reason, true
	}
	return "", false
}

// DeliveryFailure описывает неудачную доставку одному получателю.
type DeliveryFailure struct {
	Recipient int64
	Err       error
}

// FanoutReport агрегирует результат рассылки одного логического сообщения.
// Skipped — получатели без копии (например, вступившие позже), это не ошибка.
type FanoutReport struct {
	Origin     OriginID
	Recipients int
	Delivered  int
	Skipped    int
	Failures   []DeliveryFailure
}

// Failed сообщает, была ли хотя бы одна неудачная доставка.
func (r *FanoutReport) Failed() bool {
	return r != nil && len(r.Failures) > 0
}
