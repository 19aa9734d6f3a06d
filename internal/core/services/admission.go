package services

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strconv"
	"strings"

	"secret-lounge/internal/domain"
	"secret-lounge/internal/metrics"
	"secret-lounge/internal/ports"
)

// Decision — решение модератора о допуске участника.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionDeny    Decision = "deny"
	DecisionBan     Decision = "ban"
	DecisionDismiss Decision = "remove"
)

type transition struct {
	to   domain.AdmissionState
	from []domain.AdmissionState
}

// transitions описывает машину состояний допуска. В banned нет ни одного
// исходящего перехода, поэтому блокировка необратима.
var transitions = map[Decision]transition{
	DecisionApprove: {to: domain.StateActive, from: []domain.AdmissionState{domain.StatePending, domain.StateDisabled}},
	DecisionDeny:    {to: domain.StateDisabled, from: []domain.AdmissionState{domain.StatePending}},
	DecisionBan:     {to: domain.StateBanned, from: []domain.AdmissionState{domain.StatePending, domain.StateActive, domain.StateDisabled}},
	DecisionDismiss: {to: domain.StateDisabled, from: []domain.AdmissionState{domain.StateActive}},
}

// Callback-префиксы кнопок запроса на вступление.
const (
	CallbackApprove = "approve"
	CallbackDeny    = "deny"
	CallbackBan     = "ban"
)

// DeliveryPurger удаляет все логические сообщения автора.
type DeliveryPurger interface {
	DeleteByOwner(ctx context.Context, owner int64) error
}

// AdmissionOption — функциональная опция для настройки Admission.
type AdmissionOption func(*Admission)

// WithAdmissionLogger устанавливает логгер.
func WithAdmissionLogger(l *slog.Logger) AdmissionOption {
	return func(a *Admission) {
		if l != nil {
			a.log = l
		}
	}
}

// WithAdmissionMetrics включает учет решений модераторов.
func WithAdmissionMetrics(m *metrics.Metrics) AdmissionOption {
	return func(a *Admission) {
		a.metrics = m
	}
}

// Admission — шлюз допуска и машина состояний решений модераторов.
type Admission struct {
	registry *Registry
	purger   DeliveryPurger
	notifier ports.Notifier
	metrics  *metrics.Metrics
	log      *slog.Logger
}

// NewAdmission создает контроль допуска.
func NewAdmission(registry *Registry, purger DeliveryPurger, notifier ports.Notifier, opts ...AdmissionOption) *Admission {
	a := &Admission{
		registry: registry,
		purger:   purger,
		notifier: notifier,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.log = a.log.With(slog.String("component", "admission"))
	return a
}

// Admit — единственный шлюз, через который проходит любое действие участника.
// Неизвестный участник регистрируется в состоянии pending.
func (a *Admission) Admit(ctx context.Context, id int64) (*domain.Participant, error) {
	p, err := a.registry.Get(ctx, id)
	if errors.Is(err, domain.ErrParticipantNotFound) {
		if _, err := a.registry.Register(ctx, id); err != nil {
			return nil, err
		}
		a.log.Info("participant registered", slog.Int64("participant_id", id))
		return nil, &domain.NotAdmittedError{Participant: id, Reason: domain.ReasonPending}
	}
	if err != nil {
		return nil, err
	}

	switch p.State {
	case domain.StateBanned:
		return nil, &domain.NotAdmittedError{Participant: id, Reason: domain.ReasonBanned}
	case domain.StatePending:
		return nil, &domain.NotAdmittedError{Participant: id, Reason: domain.ReasonPending}
	case domain.StateActive:
	default:
		return nil, &domain.NotAdmittedError{Participant: id, Reason: domain.ReasonDisabled}
	}
	if p.DisplayName == "" {
		return nil, &domain.NotAdmittedError{Participant: id, Reason: domain.ReasonNoDisplayName}
	}
	return p, nil
}

// authorize проверяет, что actor — активный модератор и действует не на себя.
func (a *Admission) authorize(ctx context.Context, actor, target int64) (*domain.Participant, error) {
	if actor == target {
		return nil, fmt.Errorf("participant %d acting on self: %w", actor, domain.ErrUnauthorized)
	}
	p, err := a.registry.Get(ctx, actor)
	if errors.Is(err, domain.ErrParticipantNotFound) {
		return nil, fmt.Errorf("unknown actor %d: %w", actor, domain.ErrUnauthorized)
	}
	if err != nil {
		return nil, err
	}
	if p.State != domain.StateActive || !p.IsModerator() {
		return nil, fmt.Errorf("participant %d is not a moderator: %w", actor, domain.ErrUnauthorized)
	}
	return p, nil
}

// Approve допускает участника в группу.
func (a *Admission) Approve(ctx context.Context, actor, target int64) (*domain.Participant, error) {
	return a.Decide(ctx, actor, target, DecisionApprove, "")
}

// Deny отклоняет запрос на вступление.
func (a *Admission) Deny(ctx context.Context, actor, target int64) (*domain.Participant, error) {
	return a.Decide(ctx, actor, target, DecisionDeny, "")
}

// Ban блокирует участника навсегда.
func (a *Admission) Ban(ctx context.Context, actor, target int64, reason string) (*domain.Participant, error) {
	return a.Decide(ctx, actor, target, DecisionBan, reason)
}

// Dismiss исключает активного участника из группы.
func (a *Admission) Dismiss(ctx context.Context, actor, target int64, reason string) (*domain.Participant, error) {
	return a.Decide(ctx, actor, target, DecisionDismiss, reason)
}

// Decide применяет решение модератора и рассылает уведомления.
// Переход в banned монотонен: поздний approve после ban возвращает ErrBanned
// и не меняет состояние.
func (a *Admission) Decide(ctx context.Context, actor, target int64, d Decision, reason string) (*domain.Participant, error) {
	rule, ok := transitions[d]
	if !ok {
		return nil, fmt.Errorf("unknown decision %q: %w", d, domain.ErrInvalidTransition)
	}
	logger := a.log.With(slog.String("decision", string(d)), slog.Int64("actor_id", actor), slog.Int64("target_id", target))

	moderator, err := a.authorize(ctx, actor, target)
	if err != nil {
		a.metrics.Decision(string(d), "unauthorized")
		return nil, err
	}

	state, applied, err := a.registry.Transition(ctx, target, rule.to, rule.from...)
	if err != nil {
		a.metrics.Decision(string(d), metrics.OutcomeFailed)
		return nil, err
	}
	if !applied {
		a.metrics.Decision(string(d), "rejected")
		if state == domain.StateBanned {
			logger.Info("decision rejected, participant already banned")
			return nil, fmt.Errorf("%s participant %d: %w", d, target, domain.ErrBanned)
		}
		return nil, fmt.Errorf("%s participant %d from %s: %w", d, target, state, domain.ErrInvalidTransition)
	}
	a.metrics.Decision(string(d), metrics.OutcomeOK)
	logger.Info("admission decision applied", slog.String("state", string(state)))

	p, err := a.registry.Get(ctx, target)
	if err != nil {
		return nil, err
	}
	a.notifyDecision(ctx, moderator, p, d, reason)
	return p, nil
}

func (a *Admission) notifyDecision(ctx context.Context, moderator, target *domain.Participant, d Decision, reason string) {
	by := html.EscapeString(moderator.DisplayName)
	who := html.EscapeString(describe(target))
	suffix := ""
	if reason = SanitizeInput(reason); reason != "" {
		suffix = " " + html.EscapeString(reason)
	}

	var toTarget, toModerators string
	switch d {
	case DecisionApprove:
		toTarget = "Your request to join was approved! Please use the /name command to set your display name before sending messages."
		toModerators = fmt.Sprintf("Access for %s approved by <b>%s</b>.", who, by)
	case DecisionDeny:
		toTarget = "Your request to join was denied."
		toModerators = fmt.Sprintf("Access for %s denied by <b>%s</b>.", who, by)
	case DecisionBan:
		toTarget = fmt.Sprintf("You were permanently banned from the group by <b>%s</b>.%s", by, suffix)
		toModerators = fmt.Sprintf("%s was permanently banned by <b>%s</b>.", who, by)
	case DecisionDismiss:
		toTarget = fmt.Sprintf("You were removed from the group by <b>%s</b>.%s", by, suffix)
		toModerators = fmt.Sprintf("%s was removed from the group by <b>%s</b>.", who, by)
	}

	if err := a.notifier.Notify(ctx, target.ID, toTarget); err != nil {
		a.log.Warn("failed to notify participant", slog.Int64("participant_id", target.ID), slog.String("error", err.Error()))
	}
	a.NotifyModerators(ctx, moderator.ID, toModerators)
}

// NotifyModerators рассылает уведомление всем активным модераторам, кроме except.
func (a *Admission) NotifyModerators(ctx context.Context, except int64, text string, choices ...ports.Choice) {
	moderators, err := a.registry.ListModerators(ctx)
	if err != nil {
		a.log.Error("failed to list moderators", slog.String("error", err.Error()))
		return
	}
	for _, m := range moderators {
		if m.ID == except {
			continue
		}
		if err := a.notifier.Notify(ctx, m.ID, text, choices...); err != nil {
			a.log.Warn("failed to notify moderator", slog.Int64("moderator_id", m.ID), slog.String("error", err.Error()))
		}
	}
}

// RequestJoin уведомляет модераторов о запросе на вступление с кнопками решения.
// fullName — имя из профиля Telegram, видимое только модераторам.
func (a *Admission) RequestJoin(ctx context.Context, p *domain.Participant, fullName string) {
	id := strconv.FormatInt(p.ID, 10)
	text := fmt.Sprintf("%s %s is requesting to join.",
		html.EscapeString(strings.TrimSpace(fullName)), html.EscapeString(p.Handle()))
	a.NotifyModerators(ctx, p.ID, strings.TrimSpace(text),
		ports.Choice{Label: "Approve", Data: CallbackApprove + ":" + id},
		ports.Choice{Label: "Deny", Data: CallbackDeny + ":" + id},
		ports.Choice{Label: "Permanently Ban", Data: CallbackBan + ":" + id},
	)
	a.log.Info("join request sent to moderators", slog.Int64("participant_id", p.ID))
}

// SetRole меняет роль активного участника. Доступно только модераторам.
func (a *Admission) SetRole(ctx context.Context, actor, target int64, role domain.Role) (*domain.Participant, error) {
	moderator, err := a.authorize(ctx, actor, target)
	if err != nil {
		return nil, err
	}
	p, err := a.registry.Get(ctx, target)
	if err != nil {
		return nil, err
	}
	if p.State != domain.StateActive {
		return nil, fmt.Errorf("set role of %s participant %d: %w", p.State, target, domain.ErrInvalidTransition)
	}
	if err := a.registry.SetRole(ctx, target, role); err != nil {
		return nil, err
	}
	p.Role = role
	a.log.Info("role changed", slog.Int64("actor_id", actor), slog.Int64("target_id", target), slog.String("role", string(role)))

	by := html.EscapeString(moderator.DisplayName)
	text := fmt.Sprintf("You were promoted to moderator by <b>%s</b>.", by)
	if role == domain.RoleMember {
		text = fmt.Sprintf("You were demoted from moderator by <b>%s</b>.", by)
	}
	if err := a.notifier.Notify(ctx, target, text); err != nil {
		a.log.Warn("failed to notify participant", slog.Int64("participant_id", target), slog.String("error", err.Error()))
	}
	return p, nil
}

// Leave удаляет участника по его собственному запросу вместе со всеми
// логическими сообщениями, автором которых он является.
func (a *Admission) Leave(ctx context.Context, id int64) (*domain.Participant, error) {
	p, err := a.Admit(ctx, id)
	if err != nil {
		return nil, err
	}
	// Сообщения удаляются раньше участника: у оставшихся записей всегда есть живой автор.
	if err := a.purger.DeleteByOwner(ctx, id); err != nil {
		return nil, err
	}
	if err := a.registry.Remove(ctx, id); err != nil {
		return nil, err
	}
	a.log.Info("participant left", slog.Int64("participant_id", id))
	a.NotifyModerators(ctx, id, fmt.Sprintf("<b>%s</b> %s has left the group.",
		html.EscapeString(p.DisplayName), html.EscapeString(p.Handle())))
	return p, nil
}

// Bootstrap делает перечисленных участников активными модераторами.
// Заблокированные участники пропускаются.
func (a *Admission) Bootstrap(ctx context.Context, ids []int64) error {
	for _, id := range ids {
		if _, err := a.registry.Register(ctx, id); err != nil {
			return err
		}
		if err := a.registry.SetAdmissionState(ctx, id, domain.StateActive); err != nil {
			if errors.Is(err, domain.ErrBanned) {
				a.log.Warn("bootstrap moderator is banned, skipping", slog.Int64("participant_id", id))
				continue
			}
			return err
		}
		if err := a.registry.SetRole(ctx, id, domain.RoleModerator); err != nil {
			return err
		}
		a.log.Info("moderator bootstrapped", slog.Int64("participant_id", id))
	}
	return nil
}

// describe возвращает имя участника для служебных сообщений модераторам.
func describe(p *domain.Participant) string {
	if p.DisplayName != "" {
		return p.DisplayName + " (" + p.Handle() + ")"
	}
	return p.Handle()
}
