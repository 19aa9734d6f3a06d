package ports

import (
	"context"

	"secret-lounge/internal/domain"
)

// ParticipantStore определяет постоянное хранилище участников.
type ParticipantStore interface {
	// Register создает участника в состоянии pending, если его еще нет, и возвращает актуальную запись.
	Register(ctx context.Context, id int64) (*domain.Participant, error)
	Get(ctx context.Context, id int64) (*domain.Participant, error)
	SetDisplayName(ctx context.Context, id int64, name string) error
	SetUsername(ctx context.Context, id int64, username string) error
	SetRole(ctx context.Context, id int64, role domain.Role) error
	// TransitionState атомарно переводит участника в состояние to, только если
	// текущее состояние входит в from. Возвращает состояние после операции и
	// признак того, что переход был применен.
	TransitionState(ctx context.Context, id int64, to domain.AdmissionState, from ...domain.AdmissionState) (domain.AdmissionState, bool, error)
	ListActive(ctx context.Context) ([]domain.Participant, error)
	ListModerators(ctx context.Context) ([]domain.Participant, error)
	ListAll(ctx context.Context) ([]domain.Participant, error)
	Remove(ctx context.Context, id int64) error
}

// DeliveryStore хранит соответствие логических сообщений и их копий у получателей.
type DeliveryStore interface {
	CreateRoot(ctx context.Context, origin domain.OriginID, owner int64) error
	CreateCopy(ctx context.Context, origin domain.OriginID, artifact domain.ArtifactRef, recipient int64) error
	CreateHeader(ctx context.Context, origin domain.OriginID, artifact domain.ArtifactRef) error
	// ResolveOrigin находит логическое сообщение по любой его копии.
	// Без корневой записи сообщение считается неразрешимым.
	ResolveOrigin(ctx context.Context, artifact domain.ArtifactRef) (domain.OriginID, bool, error)
	// ResolveRecipientArtifact возвращает копию логического сообщения у конкретного получателя.
	ResolveRecipientArtifact(ctx context.Context, origin domain.OriginID, recipient int64) (domain.ArtifactRef, bool, error)
	Owner(ctx context.Context, origin domain.OriginID) (int64, bool, error)
	// Records возвращает все записи логического сообщения, включая заголовки.
	Records(ctx context.Context, origin domain.OriginID) ([]domain.DeliveryRecord, error)
	DeleteOrigin(ctx context.Context, origin domain.OriginID) error
	DeleteByOwner(ctx context.Context, owner int64) error
}

// TextOptions задает оформление текстовой копии.
type TextOptions struct {
	// BoldPrefixLength — длина жирного префикса с именем в единицах UTF-16.
	BoldPrefixLength int
	Entities         []domain.Entity
	ReplyTo          *domain.ArtifactRef
}

// Choice — интерактивная кнопка в уведомлении.
type Choice struct {
	Label string
	Data  string
}

// Notifier отправляет служебные уведомления, в том числе с кнопками выбора.
// Текст уведомления размечен HTML.
type Notifier interface {
	Notify(ctx context.Context, recipient int64, text string, choices ...Choice) error
}

// Transport доставляет сообщения участникам. Получатель адресуется
// идентификатором участника, совпадающим с его приватным чатом.
type Transport interface {
	Notifier
	SendText(ctx context.Context, recipient int64, text string, opts TextOptions) (domain.ArtifactRef, error)
	SendMediaHeader(ctx context.Context, recipient int64, text string, boldPrefixLength int) (domain.ArtifactRef, error)
	CopyMedia(ctx context.Context, recipient int64, source domain.ArtifactRef, replyTo *domain.ArtifactRef) (domain.ArtifactRef, error)
	EditText(ctx context.Context, target domain.ArtifactRef, text string, opts TextOptions) error
	EditMedia(ctx context.Context, target domain.ArtifactRef, media domain.MediaDescriptor) error
	DeleteArtifact(ctx context.Context, target domain.ArtifactRef) error
}

// Exporter формирует выгрузку списка участников.
type Exporter interface {
	Export(participants []domain.Participant) ([]byte, error)
}
