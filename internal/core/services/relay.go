package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"secret-lounge/internal/domain"
	"secret-lounge/internal/metrics"
	"secret-lounge/internal/ports"
)

// Операции ретранслятора (метка operation в метриках).
const (
	OpPublish  = "publish"
	OpEdit     = "edit"
	OpDelete   = "delete"
	OpAnnounce = "announce"
)

// RelayConfig хранит конфигурацию ретранслятора.
type RelayConfig struct {
	// FanoutWorkers — сколько получателей обслуживается одновременно.
	FanoutWorkers int
	// ModeratorMarker добавляется к имени модератора.
	ModeratorMarker string
}

// RelayOption — функциональная опция для настройки Relay.
type RelayOption func(*Relay)

// WithFanoutWorkers устанавливает число одновременных доставок.
func WithFanoutWorkers(n int) RelayOption {
	return func(r *Relay) {
		if n > 0 {
			r.config.FanoutWorkers = n
		}
	}
}

// WithModeratorMarker задает отметку модератора.
func WithModeratorMarker(marker string) RelayOption {
	return func(r *Relay) {
		r.config.ModeratorMarker = marker
	}
}

// WithRelayLogger устанавливает логгер.
func WithRelayLogger(l *slog.Logger) RelayOption {
	return func(r *Relay) {
		if l != nil {
			r.log = l
		}
	}
}

// WithRelayMetrics включает метрики рассылки.
func WithRelayMetrics(m *metrics.Metrics) RelayOption {
	return func(r *Relay) {
		r.metrics = m
	}
}

// Relay рассылает сообщения участникам и поддерживает соответствие копий.
// Сервис не хранит состояние между вызовами и безопасен для одновременного использования.
type Relay struct {
	admission  *Admission
	registry   *Registry
	deliveries ports.DeliveryStore
	transport  ports.Transport
	config     RelayConfig
	metrics    *metrics.Metrics
	log        *slog.Logger
}

// NewRelay создает ретранслятор.
func NewRelay(admission *Admission, registry *Registry, deliveries ports.DeliveryStore, transport ports.Transport, opts ...RelayOption) *Relay {
	r := &Relay{
		admission:  admission,
		registry:   registry,
		deliveries: deliveries,
		transport:  transport,
		config: RelayConfig{
			FanoutWorkers:   8,
			ModeratorMarker: DefaultModeratorMarker,
		},
		log: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.With(slog.String("component", "relay"))
	return r
}

// deliveryFunc обслуживает одного получателя. done=false без ошибки означает,
// что получатель пропущен.
type deliveryFunc func(ctx context.Context, recipient int64) (done bool, err error)

type recipientResult struct {
	done bool
	err  error
}

// fanout выполняет fn для каждого получателя с ограниченным параллелизмом.
// Ошибка одного получателя не мешает остальным; результаты собираются после
// завершения всех доставок.
func (r *Relay) fanout(ctx context.Context, op string, recipients []domain.Participant, fn deliveryFunc) *domain.FanoutReport {
	started := time.Now()
	defer r.metrics.ObserveFanout(op, started)

	results := make([]recipientResult, len(recipients))
	g := new(errgroup.Group)
	g.SetLimit(r.config.FanoutWorkers)
	for i, p := range recipients {
		i, p := i, p
		g.Go(func() error {
			done, err := fn(ctx, p.ID)
			results[i] = recipientResult{done: done, err: err}
			return nil
		})
	}
	_ = g.Wait()

	report := &domain.FanoutReport{Recipients: len(recipients)}
	for i, res := range results {
		switch {
		case res.err != nil:
			report.Failures = append(report.Failures, domain.DeliveryFailure{Recipient: recipients[i].ID, Err: res.err})
			r.metrics.Delivery(op, metrics.OutcomeFailed)
			r.log.Warn("delivery failed",
				slog.String("operation", op),
				slog.Int64("recipient_id", recipients[i].ID),
				slog.String("error", res.err.Error()))
		case res.done:
			report.Delivered++
			r.metrics.Delivery(op, metrics.OutcomeOK)
		default:
			report.Skipped++
			r.metrics.Delivery(op, metrics.OutcomeSkipped)
		}
	}
	return report
}

// threadTo возвращает копию логического сообщения origin у получателя, если она есть.
func (r *Relay) threadTo(ctx context.Context, origin *domain.OriginID, recipient int64) *domain.ArtifactRef {
	if origin == nil {
		return nil
	}
	ref, ok, err := r.deliveries.ResolveRecipientArtifact(ctx, *origin, recipient)
	if err != nil {
		r.log.Warn("failed to resolve reply target, sending without thread",
			slog.Int64("recipient_id", recipient), slog.String("error", err.Error()))
		return nil
	}
	if !ok {
		return nil
	}
	return &ref
}

// Publish рассылает новое сообщение отправителя всем допущенным участникам.
// Корневая запись создается последней, после всех копий.
func (r *Relay) Publish(ctx context.Context, sender int64, msg domain.InboundMessage) (*domain.FanoutReport, error) {
	p, err := r.admission.Admit(ctx, sender)
	if err != nil {
		return nil, err
	}
	// Начатая рассылка доводится до конца независимо от отмены обновления.
	ctx = context.WithoutCancel(ctx)
	logger := r.log.With(slog.Int64("sender_id", sender), slog.String("origin", msg.Ref.String()))

	var origin *domain.OriginID
	if !msg.ReplyTo.IsZero() {
		resolved, ok, err := r.deliveries.ResolveOrigin(ctx, msg.ReplyTo)
		if err != nil {
			return nil, err
		}
		if ok {
			origin = &resolved
		} else {
			logger.Debug("reply target is not a relayed message, sending as a plain post",
				slog.String("reply_to", msg.ReplyTo.String()))
		}
	}

	recipients, err := r.registry.ListRelayable(ctx, sender)
	if err != nil {
		return nil, err
	}

	name := decorateName(p, r.config.ModeratorMarker)
	var deliver deliveryFunc
	if msg.Content.IsText() {
		text, opts := composeText(name, msg.Content.Text, msg.Content.Entities)
		deliver = func(ctx context.Context, recipient int64) (bool, error) {
			opts := opts
			opts.ReplyTo = r.threadTo(ctx, origin, recipient)
			artifact, err := r.transport.SendText(ctx, recipient, text, opts)
			if err != nil {
				return false, fmt.Errorf("send text: %w", err)
			}
			if err := r.deliveries.CreateCopy(ctx, msg.Ref, artifact, recipient); err != nil {
				return false, err
			}
			return true, nil
		}
	} else {
		header, boldLen := composeHeader(name)
		deliver = func(ctx context.Context, recipient int64) (bool, error) {
			var errs []error
			if artifact, err := r.transport.SendMediaHeader(ctx, recipient, header, boldLen); err != nil {
				errs = append(errs, fmt.Errorf("send header: %w", err))
			} else if err := r.deliveries.CreateHeader(ctx, msg.Ref, artifact); err != nil {
				errs = append(errs, err)
			}

			replyTo := r.threadTo(ctx, origin, recipient)
			if artifact, err := r.transport.CopyMedia(ctx, recipient, msg.Ref, replyTo); err != nil {
				errs = append(errs, fmt.Errorf("copy media: %w", err))
			} else if err := r.deliveries.CreateCopy(ctx, msg.Ref, artifact, recipient); err != nil {
				errs = append(errs, err)
			}
			if len(errs) > 0 {
				return false, errors.Join(errs...)
			}
			return true, nil
		}
	}

	report := r.fanout(ctx, OpPublish, recipients, deliver)
	report.Origin = msg.Ref

	if err := r.deliveries.CreateRoot(ctx, msg.Ref, sender); err != nil {
		if errors.Is(err, domain.ErrDuplicateOrigin) {
			logger.Error("root record already exists for a new message", slog.String("error", err.Error()))
		}
		return report, err
	}

	logger.Info("message relayed",
		slog.Int("recipients", report.Recipients),
		slog.Int("delivered", report.Delivered),
		slog.Int("failed", len(report.Failures)))
	return report, nil
}

// PropagateEdit применяет правку сообщения ко всем его копиям. Получатели
// без копии пропускаются.
func (r *Relay) PropagateEdit(ctx context.Context, editor int64, edited domain.ArtifactRef, content domain.Content) (*domain.FanoutReport, error) {
	p, err := r.admission.Admit(ctx, editor)
	if err != nil {
		return nil, err
	}
	ctx = context.WithoutCancel(ctx)

	origin, ok, err := r.deliveries.ResolveOrigin(ctx, edited)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("edit %s: %w", edited, domain.ErrNotFound)
	}
	owner, ok, err := r.deliveries.Owner(ctx, origin)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("edit %s: %w", edited, domain.ErrNotFound)
	}
	if owner != editor {
		return nil, fmt.Errorf("edit %s by %d: %w", origin, editor, domain.ErrUnauthorized)
	}

	recipients, err := r.registry.ListRelayable(ctx, editor)
	if err != nil {
		return nil, err
	}

	var apply func(ctx context.Context, target domain.ArtifactRef) error
	if content.IsText() {
		text, opts := composeText(decorateName(p, r.config.ModeratorMarker), content.Text, content.Entities)
		apply = func(ctx context.Context, target domain.ArtifactRef) error {
			return r.transport.EditText(ctx, target, text, opts)
		}
	} else {
		media, ok := mediaForEdit(content)
		if !ok {
			return nil, fmt.Errorf("edit %s: unsupported media", edited)
		}
		apply = func(ctx context.Context, target domain.ArtifactRef) error {
			return r.transport.EditMedia(ctx, target, media)
		}
	}

	report := r.fanout(ctx, OpEdit, recipients, func(ctx context.Context, recipient int64) (bool, error) {
		target, ok, err := r.deliveries.ResolveRecipientArtifact(ctx, origin, recipient)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
		if err := apply(ctx, target); err != nil {
			return false, fmt.Errorf("edit %s: %w", target, err)
		}
		return true, nil
	})
	report.Origin = origin
	return report, nil
}

// DeleteLogical удаляет логическое сообщение у всех участников. Удалять
// может автор или модератор. command — сообщение с командой удаления, которое
// тоже убирается из чата запросившего.
func (r *Relay) DeleteLogical(ctx context.Context, requester int64, target domain.ArtifactRef, command *domain.ArtifactRef) (*domain.FanoutReport, error) {
	p, err := r.admission.Admit(ctx, requester)
	if err != nil {
		return nil, err
	}
	ctx = context.WithoutCancel(ctx)

	origin, ok, err := r.deliveries.ResolveOrigin(ctx, target)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("delete %s: %w", target, domain.ErrNotFound)
	}
	owner, ok, err := r.deliveries.Owner(ctx, origin)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("delete %s: %w", target, domain.ErrNotFound)
	}
	if owner != requester && !p.IsModerator() {
		return nil, fmt.Errorf("delete %s by %d: %w", origin, requester, domain.ErrUnauthorized)
	}

	active, err := r.registry.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	records, err := r.deliveries.Records(ctx, origin)
	if err != nil {
		return nil, err
	}

	report := r.fanout(ctx, OpDelete, active, func(ctx context.Context, recipient int64) (bool, error) {
		artifact, ok, err := r.deliveries.ResolveRecipientArtifact(ctx, origin, recipient)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
		if err := r.transport.DeleteArtifact(ctx, artifact); err != nil {
			return false, fmt.Errorf("delete %s: %w", artifact, err)
		}
		return true, nil
	})
	report.Origin = origin

	for _, rec := range records {
		if rec.Kind != domain.KindHeader {
			continue
		}
		if err := r.transport.DeleteArtifact(ctx, rec.Artifact); err != nil {
			r.log.Debug("failed to delete media header", slog.String("artifact", rec.Artifact.String()), slog.String("error", err.Error()))
		}
	}

	if err := r.deliveries.DeleteOrigin(ctx, origin); err != nil {
		return report, err
	}

	if command != nil && !command.IsZero() && *command != target {
		if err := r.transport.DeleteArtifact(ctx, *command); err != nil {
			r.log.Debug("failed to delete command message", slog.String("error", err.Error()))
		}
	}

	r.log.Info("logical message deleted",
		slog.String("origin", origin.String()),
		slog.Int64("requester_id", requester),
		slog.Int("deleted", report.Delivered))
	return report, nil
}

// Announce рассылает служебное сообщение всем участникам, кроме except.
func (r *Relay) Announce(ctx context.Context, except int64, text string) *domain.FanoutReport {
	ctx = context.WithoutCancel(ctx)
	recipients, err := r.registry.ListRelayable(ctx, except)
	if err != nil {
		r.log.Error("failed to list recipients for announcement", slog.String("error", err.Error()))
		return &domain.FanoutReport{}
	}
	return r.fanout(ctx, OpAnnounce, recipients, func(ctx context.Context, recipient int64) (bool, error) {
		if err := r.transport.Notify(ctx, recipient, text); err != nil {
			return false, err
		}
		return true, nil
	})
}

// Owner возвращает автора логического сообщения, к которому относится artifact.
func (r *Relay) Owner(ctx context.Context, artifact domain.ArtifactRef) (int64, error) {
	origin, ok, err := r.deliveries.ResolveOrigin(ctx, artifact)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("owner of %s: %w", artifact, domain.ErrNotFound)
	}
	owner, ok, err := r.deliveries.Owner(ctx, origin)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("owner of %s: %w", artifact, domain.ErrNotFound)
	}
	return owner, nil
}
