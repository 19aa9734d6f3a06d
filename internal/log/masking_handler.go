package log

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
)

const mask = "***masked***"

// minSecretLen защищает от замены коротких строк, встречающихся в обычном тексте.
const minSecretLen = 8

// маскируем токены в формате botID:token, где ID - числа, token - буквенно-цифровой
var telegramTokenRegex = regexp.MustCompile(`\b(bot)?\d+:[A-Za-z0-9_-]{35,}`)

// MaskingHandler — обертка для slog.Handler, которая вырезает из записей
// токены Bot API и явно переданные секреты.
type MaskingHandler struct {
	handler slog.Handler
	secrets []string
}

// NewMaskingHandler создает обработчик с маскировкой. Секреты короче
// minSecretLen игнорируются.
func NewMaskingHandler(handler slog.Handler, secrets ...string) *MaskingHandler {
	h := &MaskingHandler{handler: handler}
	for _, s := range secrets {
		if len(s) >= minSecretLen {
			h.secrets = append(h.secrets, s)
		}
	}
	return h
}

func (h *MaskingHandler) mask(text string) string {
	for _, s := range h.secrets {
		text = strings.ReplaceAll(text, s, mask)
	}
	return telegramTokenRegex.ReplaceAllString(text, mask)
}

// Enabled реализует интерфейс slog.Handler
func (h *MaskingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

// Handle реализует интерфейс slog.Handler
func (h *MaskingHandler) Handle(ctx context.Context, record slog.Record) error {
	// Новая запись без атрибутов: исходную slog может переиспользовать.
	r := slog.NewRecord(record.Time, record.Level, h.mask(record.Message), record.PC)
	record.Attrs(func(a slog.Attr) bool {
		r.AddAttrs(h.maskAttr(a))
		return true
	})
	return h.handler.Handle(ctx, r)
}

// WithAttrs реализует интерфейс slog.Handler
func (h *MaskingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	masked := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		masked[i] = h.maskAttr(a)
	}
	return &MaskingHandler{handler: h.handler.WithAttrs(masked), secrets: h.secrets}
}

// WithGroup реализует интерфейс slog.Handler
func (h *MaskingHandler) WithGroup(name string) slog.Handler {
	return &MaskingHandler{handler: h.handler.WithGroup(name), secrets: h.secrets}
}

func (h *MaskingHandler) maskAttr(a slog.Attr) slog.Attr {
	return slog.Attr{Key: a.Key, Value: h.maskValue(a.Value)}
}

// maskValue рекурсивно маскирует значения атрибутов
func (h *MaskingHandler) maskValue(value slog.Value) slog.Value {
	switch value.Kind() {
	case slog.KindString:
		return slog.StringValue(h.mask(value.String()))
	case slog.KindAny:
		if err, ok := value.Any().(error); ok {
			return slog.StringValue(h.mask(err.Error()))
		}
		return value
	case slog.KindGroup:
		group := value.Group()
		masked := make([]slog.Attr, len(group))
		for i, a := range group {
			masked[i] = h.maskAttr(a)
		}
		return slog.GroupValue(masked...)
	case slog.KindLogValuer:
		return h.maskValue(value.Resolve())
	default:
		return value
	}
}
