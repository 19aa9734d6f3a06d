package bot

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"secret-lounge/internal/core/services"
	"secret-lounge/internal/telegram"
)

// decisionAnswers — ответы на нажатие кнопок запроса на вступление.
var decisionAnswers = map[services.Decision]struct {
	answer  string
	outcome string
}{
	services.DecisionApprove: {answer: "Access approved!", outcome: "approved"},
	services.DecisionDeny:    {answer: "Access denied.", outcome: "denied"},
	services.DecisionBan:     {answer: "Access denied. Participant banned.", outcome: "denied. Participant permanently banned"},
}

// handleCallback обрабатывает нажатия inline-кнопок.
func (b *Bot) handleCallback(ctx context.Context, logger *slog.Logger, cb *tgbotapi.CallbackQuery) {
	if cb.From == nil {
		return
	}
	action, value, _ := strings.Cut(cb.Data, ":")
	logger = logger.With(slog.String("callback", action), slog.Int64("chat_id", cb.From.ID))

	switch action {
	case services.CallbackApprove:
		b.onDecision(ctx, logger, cb, services.DecisionApprove, value)
	case services.CallbackDeny:
		b.onDecision(ctx, logger, cb, services.DecisionDeny, value)
	case services.CallbackBan:
		b.onDecision(ctx, logger, cb, services.DecisionBan, value)
	case callbackShare:
		b.onShare(ctx, logger, cb, value)
	case callbackDecline:
		b.onDecline(ctx, logger, cb, value)
	default:
		logger.Warn("unknown callback", slog.String("data", cb.Data))
		b.answer(ctx, logger, cb, "")
	}
}

// onDecision применяет решение модератора по запросу на вступление.
func (b *Bot) onDecision(ctx context.Context, logger *slog.Logger, cb *tgbotapi.CallbackQuery, d services.Decision, value string) {
	target, err := parseID(value)
	if err != nil {
		logger.Warn("malformed callback data", slog.String("data", cb.Data))
		b.answer(ctx, logger, cb, genericErrorText)
		return
	}

	p, err := b.admission.Decide(ctx, cb.From.ID, target, d, "")
	if err != nil {
		text, known := b.errorText(err)
		if !known {
			logger.Error("admission decision failed", slog.String("error", err.Error()))
		}
		b.answer(ctx, logger, cb, text)
		return
	}

	texts := decisionAnswers[d]
	b.answer(ctx, logger, cb, texts.answer)
	b.clear(ctx, logger, cb, fmt.Sprintf("Access for %s %s.", html.EscapeString(p.Handle()), texts.outcome))
}

// onShare раскрывает @-имена обоих участников обмена.
func (b *Bot) onShare(ctx context.Context, logger *slog.Logger, cb *tgbotapi.CallbackQuery, requestID string) {
	if cb.From.UserName == "" {
		b.answer(ctx, logger, cb, noHandleText)
		return
	}
	responder, err := b.admission.Admit(ctx, cb.From.ID)
	if err != nil {
		text, _ := b.errorText(err)
		b.answer(ctx, logger, cb, text)
		return
	}
	req, ok := b.exchange.Take(requestID, responder.ID)
	if !ok {
		b.answer(ctx, logger, cb, requestExpired)
		b.clear(ctx, logger, cb, requestExpired)
		return
	}
	if err := b.registry.SetUsername(ctx, responder.ID, cb.From.UserName); err != nil {
		logger.Warn("failed to store username", slog.String("error", err.Error()))
	}
	requester, err := b.registry.Get(ctx, req.From)
	if err != nil {
		text, _ := b.errorText(err)
		b.answer(ctx, logger, cb, text)
		return
	}

	b.answer(ctx, logger, cb, "Telegram handle sent!")
	b.clear(ctx, logger, cb, handleShared(requester.DisplayName, requester.Handle()))
	b.send(ctx, logger, requester.ID, handleShared(responder.DisplayName, "@"+cb.From.UserName))
	logger.Info("handles exchanged", slog.String("request_id", req.ID))
}

// onDecline отклоняет запрос на обмен контактами.
func (b *Bot) onDecline(ctx context.Context, logger *slog.Logger, cb *tgbotapi.CallbackQuery, requestID string) {
	req, ok := b.exchange.Take(requestID, cb.From.ID)
	if !ok {
		b.answer(ctx, logger, cb, requestExpired)
		b.clear(ctx, logger, cb, requestExpired)
		return
	}
	requester, err := b.registry.Get(ctx, req.From)
	if err != nil {
		text, _ := b.errorText(err)
		b.answer(ctx, logger, cb, text)
		return
	}
	responder, err := b.registry.Get(ctx, req.To)
	if err != nil {
		text, _ := b.errorText(err)
		b.answer(ctx, logger, cb, text)
		return
	}

	b.answer(ctx, logger, cb, "Request declined.")
	b.clear(ctx, logger, cb, fmt.Sprintf("Request to share handles with <b>%s</b> was declined.",
		html.EscapeString(requester.DisplayName)))
	b.sendf(ctx, logger, requester.ID, "Your request to share handles with <b>%s</b> was declined.", responder.DisplayName)
}

func handleShared(name, handle string) string {
	return fmt.Sprintf("<b>Handle shared with you:\n%s</b> %s", html.EscapeString(name), html.EscapeString(handle))
}

func (b *Bot) answer(ctx context.Context, logger *slog.Logger, cb *tgbotapi.CallbackQuery, text string) {
	if err := b.out.AnswerCallback(ctx, cb.ID, text); err != nil {
		logger.Warn("failed to answer callback", slog.String("error", err.Error()))
	}
}

// clear заменяет текст сообщения с кнопками и убирает сами кнопки.
func (b *Bot) clear(ctx context.Context, logger *slog.Logger, cb *tgbotapi.CallbackQuery, text string) {
	ref := telegram.RefOf(cb.Message)
	if ref.IsZero() {
		return
	}
	if err := b.out.ClearChoices(ctx, ref, text); err != nil {
		logger.Warn("failed to clear choices", slog.String("error", err.Error()))
	}
}
