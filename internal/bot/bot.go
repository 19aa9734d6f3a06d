// Package bot связывает обновления Telegram с сервисами группы: командами,
// кнопками решений и пересылкой сообщений.
package bot

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"

	"secret-lounge/internal/adapters/exporter"
	"secret-lounge/internal/cache"
	"secret-lounge/internal/core/services"
	"secret-lounge/internal/domain"
	"secret-lounge/internal/pkg/config"
	"secret-lounge/internal/ports"
	"secret-lounge/internal/telegram"
)

// UpdateSource поставляет обновления Telegram (реализуется *tgbotapi.BotAPI).
type UpdateSource interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Messenger отправляет ответы бота (реализуется *telegram.Transport).
type Messenger interface {
	SendHTML(ctx context.Context, chatID int64, text string, replyTo int, choices ...ports.Choice) (domain.ArtifactRef, error)
	ClearChoices(ctx context.Context, target domain.ArtifactRef, text string) error
	AnswerCallback(ctx context.Context, callbackID, text string) error
	SendDocument(ctx context.Context, chatID int64, name string, data []byte, caption string) error
}

// Services — сервисы группы, которые использует бот.
type Services struct {
	Admission *services.Admission
	Relay     *services.Relay
	Registry  *services.Registry
}

// Bot представляет собой основной объект Telegram-бота.
type Bot struct {
	api          UpdateSource
	out          Messenger
	cfg          config.Bot
	exchangeTTL  time.Duration
	maxNameWidth int

	admission *services.Admission
	relay     *services.Relay
	registry  *services.Registry
	exchange  *cache.ExchangeStore

	table  ports.Exporter
	roster ports.Exporter
	texts  Texts
	queue  *chatQueue
	logger *slog.Logger
}

// NewBot создает бота поверх источника обновлений и транспорта.
func NewBot(cfg *config.Config, api UpdateSource, out Messenger, svc Services, exchange *cache.ExchangeStore, logger *slog.Logger) *Bot {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "bot"))
	maxNameWidth := cfg.Relay.MaxNameWidth
	if maxNameWidth <= 0 {
		maxNameWidth = services.DefaultMaxNameWidth
	}
	return &Bot{
		api:          api,
		out:          out,
		cfg:          cfg.Bot,
		exchangeTTL:  cfg.Exchange.RequestTTL,
		maxNameWidth: maxNameWidth,
		admission:    svc.Admission,
		relay:        svc.Relay,
		registry:     svc.Registry,
		exchange:     exchange,
		table:        exporter.NewTableExporter(cfg.Bot.Render.Name, cfg.Bot.Render.Role),
		roster:       exporter.NewExcelExporter(),
		texts:        LoadTexts(cfg.Bot.TextsDir, logger),
		queue:        newChatQueue(),
		logger:       logger,
	}
}

// Start запускает основной цикл обработки обновлений от Telegram и
// возвращается после отмены ctx, дождавшись начатых обработчиков.
func (b *Bot) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = b.cfg.PollTimeoutSeconds
	u.AllowedUpdates = []string{"message", "edited_message", "callback_query"}

	updates := b.api.GetUpdatesChan(u)

	limit := b.cfg.MaxConcurrentUpdates
	if limit <= 0 {
		limit = config.DefaultMaxConcurrentUpdates
	}
	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("context cancelled, stopping bot", slog.Int("busy_chats", b.queue.Len()))
			b.api.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				b.logger.Info("updates channel closed")
				return
			}
			chatID, ok := chatOf(update)
			if !ok {
				continue
			}
			if !b.queue.Push(chatID, update) {
				continue
			}
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				b.logger.Warn("shutdown while waiting for a free worker, update dropped", slog.Int("telegram_update_id", update.UpdateID))
				b.api.StopReceivingUpdates()
				return
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer func() { <-sem }()
				b.drain(context.WithoutCancel(ctx), chatID)
			}()
		}
	}
}

// drain обрабатывает очередь одного чата, пока она не опустеет.
func (b *Bot) drain(ctx context.Context, chatID int64) {
	for {
		update, ok := b.queue.Next(chatID)
		if !ok {
			return
		}
		b.handleUpdate(ctx, update)
	}
}

// chatOf возвращает чат, к которому относится обновление.
func chatOf(update tgbotapi.Update) (int64, bool) {
	switch {
	case update.Message != nil && update.Message.Chat != nil:
		return update.Message.Chat.ID, true
	case update.EditedMessage != nil && update.EditedMessage.Chat != nil:
		return update.EditedMessage.Chat.ID, true
	case update.CallbackQuery != nil && update.CallbackQuery.From != nil:
		return update.CallbackQuery.From.ID, true
	}
	return 0, false
}

// handleUpdate обрабатывает одно обновление. Паника в обработчике не
// останавливает бота.
func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	logger := b.logger.With(
		slog.String("update_id", uuid.NewString()),
		slog.Int("telegram_update_id", update.UpdateID),
	)
	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic while handling update", slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
		}
	}()

	switch {
	case update.Message != nil:
		b.handleMessage(ctx, logger, update.Message)
	case update.EditedMessage != nil:
		b.handleEdit(ctx, logger, update.EditedMessage)
	case update.CallbackQuery != nil:
		b.handleCallback(ctx, logger, update.CallbackQuery)
	}
}

// handleMessage обрабатывает входящее сообщение.
func (b *Bot) handleMessage(ctx context.Context, logger *slog.Logger, msg *tgbotapi.Message) {
	if msg.From == nil || msg.Chat == nil || !msg.Chat.IsPrivate() {
		return
	}
	logger = logger.With(slog.Int64("chat_id", msg.Chat.ID))

	if msg.IsCommand() {
		b.handleCommand(ctx, logger, msg)
		return
	}

	in, ok := telegram.Inbound(msg)
	if !ok {
		logger.Debug("message without relayable content skipped")
		return
	}
	report, err := b.relay.Publish(ctx, msg.From.ID, in)
	if err != nil && report == nil {
		b.fail(ctx, logger, msg.Chat.ID, err, "")
		return
	}
	if err != nil {
		// Копии уже разосланы, повторная отправка продублирует их у всех.
		logger.Error("message relayed but not recorded",
			slog.Int("delivered", report.Delivered),
			slog.String("error", err.Error()))
		b.sendReply(ctx, logger, msg.Chat.ID, msg.MessageID, notRecordedText)
	}
	if report.Failed() {
		b.sendReply(ctx, logger, msg.Chat.ID, msg.MessageID, fmt.Sprintf(deliveryFailed, len(report.Failures)))
	}
}

// handleEdit переносит правку исходного сообщения на все копии.
func (b *Bot) handleEdit(ctx context.Context, logger *slog.Logger, msg *tgbotapi.Message) {
	if msg.From == nil || msg.Chat == nil || !msg.Chat.IsPrivate() {
		return
	}
	content, ok := telegram.ContentOf(msg)
	if !ok {
		return
	}
	report, err := b.relay.PropagateEdit(ctx, msg.From.ID, telegram.RefOf(msg), content)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		logger.Debug("edited message is not relayed, ignoring", slog.Int("message_id", msg.MessageID))
	case err != nil:
		b.fail(ctx, logger, msg.Chat.ID, err, "")
	case report.Failed():
		logger.Warn("edit was not applied everywhere", slog.Int("failed", len(report.Failures)))
		b.sendReply(ctx, logger, msg.Chat.ID, msg.MessageID, fmt.Sprintf(editFailed, len(report.Failures)))
	}
}

// errorText переводит ошибку в текст для пользователя с учетом настроек бота.
func (b *Bot) errorText(err error) (string, bool) {
	return errorText(err, b.maxNameWidth)
}

// fail сообщает пользователю об ошибке. unauthorized заменяет общий текст
// для ErrUnauthorized.
func (b *Bot) fail(ctx context.Context, logger *slog.Logger, chatID int64, err error, unauthorized string) {
	text, known := b.errorText(err)
	if !known {
		logger.Error("request failed", slog.String("error", err.Error()))
	} else {
		logger.Debug("request rejected", slog.String("error", err.Error()))
	}
	if unauthorized != "" && errors.Is(err, domain.ErrUnauthorized) {
		text = unauthorized
	}
	b.send(ctx, logger, chatID, text)
}

func (b *Bot) send(ctx context.Context, logger *slog.Logger, chatID int64, text string) {
	b.sendReply(ctx, logger, chatID, 0, text)
}

func (b *Bot) sendReply(ctx context.Context, logger *slog.Logger, chatID int64, replyTo int, text string) {
	if _, err := b.out.SendHTML(ctx, chatID, text, replyTo); err != nil {
		logger.Error("failed to send message", slog.String("error", err.Error()))
	}
}

func (b *Bot) sendf(ctx context.Context, logger *slog.Logger, chatID int64, format string, names ...string) {
	args := make([]any, len(names))
	for i, n := range names {
		args[i] = html.EscapeString(n)
	}
	b.send(ctx, logger, chatID, fmt.Sprintf(format, args...))
}
