package domain

import (
	"fmt"
	"time"
)

// Role определяет роль участника в группе.
type Role string

const (
	RoleMember    Role = "member"
	RoleModerator Role = "moderator"
)

// Valid сообщает, является ли роль допустимой.
func (r Role) Valid() bool {
	return r == RoleMember || r == RoleModerator
}

// AdmissionState — состояние допуска участника к группе.
type AdmissionState string

const (
	StatePending  AdmissionState = "pending"
	StateActive   AdmissionState = "active"
	StateDisabled AdmissionState = "disabled"
	StateBanned   AdmissionState = "banned"
)

// Valid сообщает, является ли состояние допустимым.
func (s AdmissionState) Valid() bool {
	switch s {
	case StatePending, StateActive, StateDisabled, StateBanned:
		return true
	}
	return false
}

// Participant представляет участника закрытой группы.
// ID совпадает с идентификатором пользователя Telegram (и его приватного чата с ботом).
type Participant struct {
	ID          int64          `json:"id"`
	DisplayName string         `json:"display_name"`
	Username    string         `json:"username"`
	Role        Role           `json:"role"`
	State       AdmissionState `json:"state"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// IsModerator сообщает, является ли участник модератором.
func (p *Participant) IsModerator() bool {
	return p.Role == RoleModerator
}

// CanRelay сообщает, может ли участник отправлять и получать пересылаемые сообщения.
// Активный участник без отображаемого имени не участвует в рассылке.
func (p *Participant) CanRelay() bool {
	return p.State == StateActive && p.DisplayName != ""
}

// Handle возвращает @-имя пользователя или его числовой ID, если имени нет.
func (p *Participant) Handle() string {
	if p.Username != "" {
		return "@" + p.Username
	}
	return fmt.Sprintf("id%d", p.ID)
}

// ArtifactRef адресует одну конкретную копию сообщения на стороне транспорта.
// Идентификаторы сообщений Telegram уникальны только в пределах чата,
// поэтому глобально уникальна только пара (ChatID, MessageID).
type ArtifactRef struct {
	ChatID    int64 `json:"chat_id"`
	MessageID int   `json:"message_id"`
}

// IsZero сообщает, что ссылка не задана.
func (a ArtifactRef) IsZero() bool {
	return a.ChatID == 0 && a.MessageID == 0
}

func (a ArtifactRef) String() string {
	return fmt.Sprintf("%d/%d", a.ChatID, a.MessageID)
}

// OriginID идентифицирует логическое сообщение: это ссылка на исходное
// сообщение отправителя в его чате с ботом.
type OriginID = ArtifactRef

// RecordKind различает виды записей о доставке.
type RecordKind string

const (
	// KindRoot — якорная запись логического сообщения: Artifact == Origin, Recipient — автор.
	KindRoot RecordKind = "root"
	// KindCopy — копия содержимого, доставленная получателю.
	KindCopy RecordKind = "copy"
	// KindHeader — декоративный заголовок с именем перед медиа, без получателя.
	KindHeader RecordKind = "header"
)

// DeliveryRecord связывает логическое сообщение с одной его копией.
// Recipient равен 0 для заголовков.
type DeliveryRecord struct {
	Origin    OriginID
	Artifact  ArtifactRef
	Recipient int64
	Kind      RecordKind
	CreatedAt time.Time
}

// NewRootRecord создает якорную запись логического сообщения.
func NewRootRecord(origin OriginID, owner int64) DeliveryRecord {
	return DeliveryRecord{Origin: origin, Artifact: origin, Recipient: owner, Kind: KindRoot}
}

// NewCopyRecord создает запись о копии, доставленной получателю.
func NewCopyRecord(origin OriginID, artifact ArtifactRef, recipient int64) DeliveryRecord {
	return DeliveryRecord{Origin: origin, Artifact: artifact, Recipient: recipient, Kind: KindCopy}
}

// NewHeaderRecord создает запись о заголовке медиа-сообщения.
func NewHeaderRecord(origin OriginID, artifact ArtifactRef) DeliveryRecord {
	return DeliveryRecord{Origin: origin, Artifact: artifact, Kind: KindHeader}
}
