package services

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"unicode"

	"github.com/mattn/go-runewidth"

	"secret-lounge/internal/domain"
	"secret-lounge/internal/ports"
)

// DefaultMaxNameWidth — максимальная ширина отображаемого имени в колонках терминала.
const DefaultMaxNameWidth = 32

// displayNameRegexp допускает латиницу, цифры, пробел и стандартную пунктуацию.
var displayNameRegexp = regexp.MustCompile("^[-A-Za-z0-9 ()\\\\/_.,!?@\"'`~#$%^&*]+$")

// tagRegexp находит HTML-теги, которые вырезаются из пользовательского ввода.
var tagRegexp = regexp.MustCompile(`<!--[\s\S]*?-->|</?[a-zA-Z][a-zA-Z0-9]*\b[^>]*>`)

// SanitizeInput обрезает пробелы, вырезает HTML-теги и управляющие символы.
func SanitizeInput(s string) string {
	s = tagRegexp.ReplaceAllString(strings.TrimSpace(s), "")
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(s)
}

// ValidateDisplayName очищает имя и проверяет набор символов и ширину.
func ValidateDisplayName(name string, maxWidth int) (string, error) {
	name = SanitizeInput(name)
	if name == "" || !displayNameRegexp.MatchString(name) {
		return "", domain.ErrInvalidDisplayName
	}
	if maxWidth > 0 && runewidth.StringWidth(name) > maxWidth {
		return "", fmt.Errorf("%w: longer than %d columns", domain.ErrInvalidDisplayName, maxWidth)
	}
	return name, nil
}

// Registry — реестр участников. Авторизацию выполняют вызывающие сервисы.
type Registry struct {
	store        ports.ParticipantStore
	maxNameWidth int
	log          *slog.Logger
}

// NewRegistry создает реестр поверх хранилища участников.
func NewRegistry(store ports.ParticipantStore, maxNameWidth int, logger *slog.Logger) *Registry {
	if maxNameWidth <= 0 {
		maxNameWidth = DefaultMaxNameWidth
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		store:        store,
		maxNameWidth: maxNameWidth,
		log:          logger.With(slog.String("component", "registry")),
	}
}

// Register идемпотентно регистрирует участника.
func (r *Registry) Register(ctx context.Context, id int64) (*domain.Participant, error) {
	return r.store.Register(ctx, id)
}

func (r *Registry) Get(ctx context.Context, id int64) (*domain.Participant, error) {
	return r.store.Get(ctx, id)
}

// SetDisplayName валидирует и сохраняет отображаемое имя. Возвращает сохраненное имя.
func (r *Registry) SetDisplayName(ctx context.Context, id int64, name string) (string, error) {
	clean, err := ValidateDisplayName(name, r.maxNameWidth)
	if err != nil {
		return "", err
	}
	if err := r.store.SetDisplayName(ctx, id, clean); err != nil {
		return "", err
	}
	r.log.Debug("display name updated", slog.Int64("participant_id", id))
	return clean, nil
}

func (r *Registry) SetUsername(ctx context.Context, id int64, username string) error {
	return r.store.SetUsername(ctx, id, username)
}

func (r *Registry) SetRole(ctx context.Context, id int64, role domain.Role) error {
	return r.store.SetRole(ctx, id, role)
}

// SetAdmissionState переводит участника в состояние state из любого незаблокированного
// состояния. Заблокированного участника этот путь не меняет.
func (r *Registry) SetAdmissionState(ctx context.Context, id int64, state domain.AdmissionState) error {
	from := []domain.AdmissionState{domain.StatePending, domain.StateActive, domain.StateDisabled}
	current, applied, err := r.store.TransitionState(ctx, id, state, from...)
	if err != nil {
		return err
	}
	if !applied && current != state {
		return fmt.Errorf("set state %s for participant %d: %w", state, id, domain.ErrBanned)
	}
	return nil
}

// Transition применяет условный переход состояния.
func (r *Registry) Transition(ctx context.Context, id int64, to domain.AdmissionState, from ...domain.AdmissionState) (domain.AdmissionState, bool, error) {
	return r.store.TransitionState(ctx, id, to, from...)
}

// ListActive возвращает активных участников: модераторы, затем остальные, по имени.
func (r *Registry) ListActive(ctx context.Context) ([]domain.Participant, error) {
	return r.store.ListActive(ctx)
}

func (r *Registry) ListModerators(ctx context.Context) ([]domain.Participant, error) {
	return r.store.ListModerators(ctx)
}

func (r *Registry) ListAll(ctx context.Context) ([]domain.Participant, error) {
	return r.store.ListAll(ctx)
}

// ListRelayable возвращает участников, которые получают пересылаемые сообщения,
// исключая except.
func (r *Registry) ListRelayable(ctx context.Context, except int64) ([]domain.Participant, error) {
	active, err := r.store.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Participant, 0, len(active))
	for _, p := range active {
		if p.ID == except || !p.CanRelay() {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// Remove удаляет участника из реестра. Записи о доставке не затрагиваются.
func (r *Registry) Remove(ctx context.Context, id int64) error {
	return r.store.Remove(ctx, id)
}
