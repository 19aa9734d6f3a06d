package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"secret-lounge/internal/domain"
	"secret-lounge/internal/ports"
)

var (
	// ErrFloodWait возвращается, когда Telegram просит подождать перед следующим запросом.
	ErrFloodWait = errors.New("telegram flood wait")
	// ErrRecipientUnavailable означает, что участник заблокировал бота или удалил аккаунт.
	ErrRecipientUnavailable = errors.New("recipient unavailable")
	// ErrUnsupportedMedia возвращается для медиа, которое нельзя подставить при редактировании.
	ErrUnsupportedMedia = errors.New("unsupported media type")
)

// botAPI — подмножество методов tgbotapi.BotAPI, которые использует транспорт.
// Позволяет подменять API в тестах.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	CopyMessage(config tgbotapi.CopyMessageConfig) (tgbotapi.MessageID, error)
}

// Option определяет функциональную опцию для конфигурации транспорта.
type Option func(*Transport)

// WithLogger устанавливает логгер для транспорта.
func WithLogger(l *slog.Logger) Option {
	return func(t *Transport) {
		if l != nil {
			t.log = l
		}
	}
}

// Transport реализует ports.Transport поверх Bot API. Получатель адресуется
// идентификатором участника, который совпадает с идентификатором приватного чата.
type Transport struct {
	api botAPI
	log *slog.Logger
}

var _ ports.Transport = (*Transport)(nil)

// NewTransport создает транспорт поверх клиента Bot API.
func NewTransport(api botAPI, opts ...Option) *Transport {
	t := &Transport{
		api: api,
		log: slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.log = t.log.With(slog.String("component", "transport"))
	return t
}

// SendText отправляет текст с жирным префиксом имени и разметкой из opts.
func (t *Transport) SendText(ctx context.Context, recipient int64, text string, opts ports.TextOptions) (domain.ArtifactRef, error) {
	if err := ctx.Err(); err != nil {
		return domain.ArtifactRef{}, err
	}
	msg := tgbotapi.NewMessage(recipient, text)
	msg.Entities = withBoldPrefix(opts.BoldPrefixLength, opts.Entities)
	msg.DisableWebPagePreview = true
	if opts.ReplyTo != nil {
		msg.ReplyToMessageID = opts.ReplyTo.MessageID
		msg.AllowSendingWithoutReply = true
	}
	sent, err := t.api.Send(msg)
	if err != nil {
		return domain.ArtifactRef{}, classify(err)
	}
	return domain.ArtifactRef{ChatID: recipient, MessageID: sent.MessageID}, nil
}

// SendMediaHeader отправляет заголовок "<имя>:" перед копией медиа.
func (t *Transport) SendMediaHeader(ctx context.Context, recipient int64, text string, boldPrefixLength int) (domain.ArtifactRef, error) {
	return t.SendText(ctx, recipient, text, ports.TextOptions{BoldPrefixLength: boldPrefixLength})
}

// CopyMedia копирует исходное сообщение в чат получателя без указания автора.
func (t *Transport) CopyMedia(ctx context.Context, recipient int64, source domain.ArtifactRef, replyTo *domain.ArtifactRef) (domain.ArtifactRef, error) {
	if err := ctx.Err(); err != nil {
		return domain.ArtifactRef{}, err
	}
	cfg := tgbotapi.NewCopyMessage(recipient, source.ChatID, source.MessageID)
	if replyTo != nil {
		cfg.ReplyToMessageID = replyTo.MessageID
		cfg.AllowSendingWithoutReply = true
	}
	id, err := t.api.CopyMessage(cfg)
	if err != nil {
		return domain.ArtifactRef{}, classify(err)
	}
	return domain.ArtifactRef{ChatID: recipient, MessageID: id.MessageID}, nil
}

// EditText заменяет текст копии. Отсутствие изменений ошибкой не считается.
func (t *Transport) EditText(ctx context.Context, target domain.ArtifactRef, text string, opts ports.TextOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cfg := tgbotapi.NewEditMessageText(target.ChatID, target.MessageID, text)
	cfg.Entities = withBoldPrefix(opts.BoldPrefixLength, opts.Entities)
	cfg.DisableWebPagePreview = true
	return t.request(cfg)
}

// EditMedia заменяет медиа и подпись копии.
func (t *Transport) EditMedia(ctx context.Context, target domain.ArtifactRef, media domain.MediaDescriptor) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	input, err := inputMedia(media)
	if err != nil {
		return err
	}
	cfg := tgbotapi.EditMessageMediaConfig{
		BaseEdit: tgbotapi.BaseEdit{ChatID: target.ChatID, MessageID: target.MessageID},
		Media:    input,
	}
	return t.request(cfg)
}

// DeleteArtifact удаляет сообщение. Уже удаленное сообщение ошибкой не считается.
func (t *Transport) DeleteArtifact(ctx context.Context, target domain.ArtifactRef) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := t.request(tgbotapi.NewDeleteMessage(target.ChatID, target.MessageID))
	if err != nil && isMessageGone(err) {
		t.log.Debug("artifact already deleted", slog.String("artifact", target.String()))
		return nil
	}
	return err
}

// Notify отправляет служебное HTML-сообщение. Каждый вариант выбора
// становится отдельной строкой inline-клавиатуры.
func (t *Transport) Notify(ctx context.Context, recipient int64, text string, choices ...ports.Choice) error {
	_, err := t.SendHTML(ctx, recipient, text, 0, choices...)
	return err
}

// SendHTML отправляет HTML-сообщение, при необходимости ответом на replyTo.
func (t *Transport) SendHTML(ctx context.Context, chatID int64, text string, replyTo int, choices ...ports.Choice) (domain.ArtifactRef, error) {
	if err := ctx.Err(); err != nil {
		return domain.ArtifactRef{}, err
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	if replyTo != 0 {
		msg.ReplyToMessageID = replyTo
		msg.AllowSendingWithoutReply = true
	}
	if len(choices) > 0 {
		msg.ReplyMarkup = keyboard(choices)
	}
	sent, err := t.api.Send(msg)
	if err != nil {
		return domain.ArtifactRef{}, classify(err)
	}
	return domain.ArtifactRef{ChatID: chatID, MessageID: sent.MessageID}, nil
}

// ClearChoices убирает inline-клавиатуру с сообщения и заменяет его текст.
func (t *Transport) ClearChoices(ctx context.Context, target domain.ArtifactRef, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cfg := tgbotapi.NewEditMessageText(target.ChatID, target.MessageID, text)
	cfg.ParseMode = tgbotapi.ModeHTML
	return t.request(cfg)
}

// AnswerCallback подтверждает нажатие кнопки.
func (t *Transport) AnswerCallback(ctx context.Context, callbackID, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := t.api.Request(tgbotapi.NewCallback(callbackID, text))
	if err != nil {
		return classify(err)
	}
	return nil
}

// SendDocument отправляет файл из памяти.
func (t *Transport) SendDocument(ctx context.Context, chatID int64, name string, data []byte, caption string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	doc := tgbotapi.NewDocument(chatID, tgbotapi.FileBytes{Name: name, Bytes: data})
	doc.Caption = caption
	if _, err := t.api.Send(doc); err != nil {
		return classify(err)
	}
	return nil
}

func (t *Transport) request(c tgbotapi.Chattable) error {
	if _, err := t.api.Request(c); err != nil {
		if isNotModified(err) {
			return nil
		}
		return classify(err)
	}
	return nil
}

func keyboard(choices []ports.Choice) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(choices))
	for _, c := range choices {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(c.Label, c.Data)))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

// withBoldPrefix добавляет жирное выделение первых n единиц UTF-16 перед остальной разметкой.
func withBoldPrefix(n int, entities []domain.Entity) []tgbotapi.MessageEntity {
	out := make([]tgbotapi.MessageEntity, 0, len(entities)+1)
	if n > 0 {
		out = append(out, tgbotapi.MessageEntity{Type: "bold", Offset: 0, Length: n})
	}
	out = append(out, entitiesToAPI(entities)...)
	if len(out) == 0 {
		return nil
	}
	return out
}

func inputMedia(media domain.MediaDescriptor) (interface{}, error) {
	file := tgbotapi.FileID(media.FileID)
	base := tgbotapi.BaseInputMedia{
		Type:            media.Type,
		Media:           file,
		Caption:         media.Caption,
		CaptionEntities: entitiesToAPI(media.CaptionEntities),
	}
	switch media.Type {
	case "photo":
		return tgbotapi.InputMediaPhoto{BaseInputMedia: base}, nil
	case "video":
		return tgbotapi.InputMediaVideo{BaseInputMedia: base}, nil
	case "audio":
		return tgbotapi.InputMediaAudio{BaseInputMedia: base}, nil
	case "document", "animation":
		// tgbotapi не сериализует InputMediaAnimation в editMessageMedia,
		// поэтому анимация передается через структуру документа с type=animation.
		return tgbotapi.InputMediaDocument{BaseInputMedia: base}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedMedia, media.Type)
	}
}

// classify оборачивает ошибки Bot API в ошибки транспорта.
func classify(err error) error {
	var apiErr *tgbotapi.Error
	if !errors.As(err, &apiErr) {
		return err
	}
	switch {
	case apiErr.RetryAfter > 0:
		return fmt.Errorf("%w: retry after %s: %w", ErrFloodWait, time.Duration(apiErr.RetryAfter)*time.Second, err)
	case apiErr.Code == 403:
		return fmt.Errorf("%w: %w", ErrRecipientUnavailable, err)
	default:
		return err
	}
}

func isNotModified(err error) bool {
	return strings.Contains(err.Error(), "message is not modified")
}

func isMessageGone(err error) bool {
	return strings.Contains(err.Error(), "message to delete not found")
}
