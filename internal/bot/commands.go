package bot

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"secret-lounge/internal/core/services"
	"secret-lounge/internal/domain"
	"secret-lounge/internal/ports"
	"secret-lounge/internal/telegram"
)

// Команды бота.
const (
	startCommand   = "start"
	stopCommand    = "stop"
	helpCommand    = "help"
	rulesCommand   = "rules"
	nameCommand    = "name"
	deleteCommand  = "delete"
	membersCommand = "members"
	shareIDCommand = "shareid"
	promoteCommand = "promote"
	demoteCommand  = "demote"
	removeCommand  = "remove"
	banCommand     = "ban"
	rosterCommand  = "roster"
)

// Callback-префиксы обмена контактами.
const (
	callbackShare   = "share"
	callbackDecline = "decline"
)

// moderation описывает команду модератора, применяемую к автору сообщения,
// на которое отвечает команда.
type moderation struct {
	hint         string
	unauthorized string
	done         string
	apply        func(ctx context.Context, actor, target int64, reason string) (*domain.Participant, error)
}

func (b *Bot) moderation(command string) (moderation, bool) {
	switch command {
	case promoteCommand:
		return moderation{
			hint:         "You must reply to a message from the participant you wish to promote.",
			unauthorized: "You must be a moderator to promote other participants.",
			done:         "Promoted <b>%s</b> to moderator.",
			apply: func(ctx context.Context, actor, target int64, _ string) (*domain.Participant, error) {
				return b.admission.SetRole(ctx, actor, target, domain.RoleModerator)
			},
		}, true
	case demoteCommand:
		return moderation{
			hint:         "You must reply to a message from the participant you wish to demote.",
			unauthorized: "You must be a moderator to demote other participants.",
			done:         "Demoted <b>%s</b> from moderator.",
			apply: func(ctx context.Context, actor, target int64, _ string) (*domain.Participant, error) {
				return b.admission.SetRole(ctx, actor, target, domain.RoleMember)
			},
		}, true
	case removeCommand:
		return moderation{
			hint:         "You must reply to a message from the participant you wish to remove.",
			unauthorized: "You must be a moderator to remove other participants.",
			done:         "Removed <b>%s</b>.",
			apply:        b.admission.Dismiss,
		}, true
	case banCommand:
		return moderation{
			hint:         "You must reply to a message from the participant you wish to permanently ban.",
			unauthorized: "You must be a moderator to permanently ban participants.",
			done:         "Banned <b>%s</b>.",
			apply:        b.admission.Ban,
		}, true
	}
	return moderation{}, false
}

// handleCommand обрабатывает команды.
func (b *Bot) handleCommand(ctx context.Context, logger *slog.Logger, msg *tgbotapi.Message) {
	command := msg.Command()
	logger = logger.With(slog.String("command", command))
	logger.Debug("command received")

	switch command {
	case startCommand:
		b.cmdStart(ctx, logger, msg)
	case stopCommand:
		b.cmdStop(ctx, logger, msg)
	case helpCommand:
		b.cmdText(ctx, logger, msg, b.texts.Help)
	case rulesCommand:
		b.cmdText(ctx, logger, msg, b.texts.Rules)
	case nameCommand:
		b.cmdName(ctx, logger, msg)
	case deleteCommand:
		b.cmdDelete(ctx, logger, msg)
	case membersCommand:
		b.cmdMembers(ctx, logger, msg)
	case shareIDCommand:
		b.cmdShareID(ctx, logger, msg)
	case rosterCommand:
		b.cmdRoster(ctx, logger, msg)
	default:
		if m, ok := b.moderation(command); ok {
			b.cmdModerate(ctx, logger, msg, m)
			return
		}
		b.send(ctx, logger, msg.Chat.ID, unknownCommand)
	}
}

// cmdStart регистрирует пользователя и отправляет модераторам запрос на вступление.
func (b *Bot) cmdStart(ctx context.Context, logger *slog.Logger, msg *tgbotapi.Message) {
	from := msg.From
	if from.UserName == "" {
		b.send(ctx, logger, msg.Chat.ID, noHandleText)
		return
	}

	_, err := b.admission.Admit(ctx, from.ID)
	if err == nil {
		b.send(ctx, logger, msg.Chat.ID, b.texts.Welcome)
		return
	}
	reason, ok := domain.NotAdmittedReasonOf(err)
	if !ok {
		b.fail(ctx, logger, msg.Chat.ID, err, "")
		return
	}
	if err := b.registry.SetUsername(ctx, from.ID, from.UserName); err != nil {
		logger.Warn("failed to store username", slog.String("error", err.Error()))
	}

	if reason == domain.ReasonPending || reason == domain.ReasonDisabled {
		p, err := b.registry.Get(ctx, from.ID)
		if err != nil {
			b.fail(ctx, logger, msg.Chat.ID, err, "")
			return
		}
		b.admission.RequestJoin(ctx, p, fullName(from))
	}
	b.send(ctx, logger, msg.Chat.ID, notAdmittedText(reason))
}

// cmdStop удаляет участника и все его сообщения.
func (b *Bot) cmdStop(ctx context.Context, logger *slog.Logger, msg *tgbotapi.Message) {
	if _, err := b.admission.Leave(ctx, msg.From.ID); err != nil {
		b.fail(ctx, logger, msg.Chat.ID, err, "")
		return
	}
	b.send(ctx, logger, msg.Chat.ID, leftGroupText)
}

// cmdText отправляет допущенному участнику статический текст.
func (b *Bot) cmdText(ctx context.Context, logger *slog.Logger, msg *tgbotapi.Message, text string) {
	if _, err := b.admission.Admit(ctx, msg.From.ID); err != nil {
		b.fail(ctx, logger, msg.Chat.ID, err, "")
		return
	}
	b.send(ctx, logger, msg.Chat.ID, text)
}

// cmdName показывает или меняет отображаемое имя. Участник без имени
// допускается к этой команде, иначе он не смог бы его задать.
func (b *Bot) cmdName(ctx context.Context, logger *slog.Logger, msg *tgbotapi.Message) {
	p, err := b.admission.Admit(ctx, msg.From.ID)
	if err != nil {
		if reason, ok := domain.NotAdmittedReasonOf(err); !ok || reason != domain.ReasonNoDisplayName {
			b.fail(ctx, logger, msg.Chat.ID, err, "")
			return
		}
		if p, err = b.registry.Get(ctx, msg.From.ID); err != nil {
			b.fail(ctx, logger, msg.Chat.ID, err, "")
			return
		}
	}

	requested := services.SanitizeInput(msg.CommandArguments())
	if requested == "" {
		if p.DisplayName == "" {
			b.send(ctx, logger, msg.Chat.ID, noDisplayNameText)
			return
		}
		b.sendf(ctx, logger, msg.Chat.ID, "Display name currently set to <b>%s</b>.", p.DisplayName)
		return
	}

	previous := p.DisplayName
	name, err := b.registry.SetDisplayName(ctx, p.ID, requested)
	if err != nil {
		b.fail(ctx, logger, msg.Chat.ID, err, "")
		return
	}
	if msg.From.UserName != "" {
		if err := b.registry.SetUsername(ctx, p.ID, msg.From.UserName); err != nil {
			logger.Warn("failed to store username", slog.String("error", err.Error()))
		}
	}

	switch {
	case previous == "":
		b.send(ctx, logger, msg.Chat.ID, b.texts.Welcome)
		report := b.relay.Announce(ctx, p.ID, fmt.Sprintf("<b>%s</b> has joined the group!", html.EscapeString(name)))
		logger.Info("participant joined", slog.Int("announced", report.Delivered))
	case previous != name:
		b.admission.NotifyModerators(ctx, p.ID, fmt.Sprintf("<b>%s</b> has changed their name to <b>%s</b>.",
			html.EscapeString(previous), html.EscapeString(name)))
	}
	b.sendf(ctx, logger, msg.Chat.ID, "Display name set to <b>%s</b>.", name)
}

// cmdDelete удаляет логическое сообщение, на которое отвечает команда.
func (b *Bot) cmdDelete(ctx context.Context, logger *slog.Logger, msg *tgbotapi.Message) {
	if msg.ReplyToMessage == nil {
		if _, err := b.admission.Admit(ctx, msg.From.ID); err != nil {
			b.fail(ctx, logger, msg.Chat.ID, err, "")
			return
		}
		b.send(ctx, logger, msg.Chat.ID, "You must reply to a message to delete it.")
		return
	}

	command := telegram.RefOf(msg)
	report, err := b.relay.DeleteLogical(ctx, msg.From.ID, telegram.RefOf(msg.ReplyToMessage), &command)
	if err != nil {
		b.fail(ctx, logger, msg.Chat.ID, err, "You must be a moderator to delete other participants' messages.")
		return
	}
	if report.Failed() {
		logger.Warn("message was not deleted everywhere", slog.Int("failed", len(report.Failures)))
		b.send(ctx, logger, msg.Chat.ID, fmt.Sprintf(deleteFailed, len(report.Failures)))
	}
}

// cmdMembers отправляет список активных участников. Большой список
// отправляется xlsx-файлом.
func (b *Bot) cmdMembers(ctx context.Context, logger *slog.Logger, msg *tgbotapi.Message) {
	if _, err := b.admission.Admit(ctx, msg.From.ID); err != nil {
		b.fail(ctx, logger, msg.Chat.ID, err, "")
		return
	}
	active, err := b.registry.ListActive(ctx)
	if err != nil {
		b.fail(ctx, logger, msg.Chat.ID, err, "")
		return
	}
	members := make([]domain.Participant, 0, len(active))
	for _, p := range active {
		if p.CanRelay() {
			members = append(members, p)
		}
	}

	if b.cfg.RosterExcelThreshold > 0 && len(members) >= b.cfg.RosterExcelThreshold {
		logger.Info("member count is over threshold, sending excel file", slog.Int("members", len(members)))
		b.sendRoster(ctx, logger, msg.Chat.ID, "lounge_members", members)
		return
	}

	out, err := b.table.Export(members)
	if err != nil {
		b.fail(ctx, logger, msg.Chat.ID, err, "")
		return
	}
	b.send(ctx, logger, msg.Chat.ID, "<b>Current Active Members</b>\n"+string(out))
}

// cmdRoster выгружает модератору всех участников, включая ожидающих и заблокированных.
func (b *Bot) cmdRoster(ctx context.Context, logger *slog.Logger, msg *tgbotapi.Message) {
	p, err := b.admission.Admit(ctx, msg.From.ID)
	if err != nil {
		b.fail(ctx, logger, msg.Chat.ID, err, "")
		return
	}
	if !p.IsModerator() {
		b.send(ctx, logger, msg.Chat.ID, "You must be a moderator to export the roster.")
		return
	}
	all, err := b.registry.ListAll(ctx)
	if err != nil {
		b.fail(ctx, logger, msg.Chat.ID, err, "")
		return
	}
	b.sendRoster(ctx, logger, msg.Chat.ID, "lounge_roster", all)
}

func (b *Bot) sendRoster(ctx context.Context, logger *slog.Logger, chatID int64, prefix string, participants []domain.Participant) {
	data, err := b.roster.Export(participants)
	if err != nil {
		b.fail(ctx, logger, chatID, err, "")
		return
	}
	name := fmt.Sprintf("%s_%s.xlsx", prefix, time.Now().Format("2006-01-02_15-04-05"))
	caption := fmt.Sprintf("%d participants.", len(participants))
	if err := b.out.SendDocument(ctx, chatID, name, data, caption); err != nil {
		logger.Error("failed to send roster", slog.String("error", err.Error()))
		b.send(ctx, logger, chatID, "Unable to generate the roster file.")
	}
}

// cmdShareID предлагает автору сообщения обменяться @-именами.
func (b *Bot) cmdShareID(ctx context.Context, logger *slog.Logger, msg *tgbotapi.Message) {
	p, err := b.admission.Admit(ctx, msg.From.ID)
	if err != nil {
		b.fail(ctx, logger, msg.Chat.ID, err, "")
		return
	}
	if msg.From.UserName == "" {
		b.send(ctx, logger, msg.Chat.ID, noHandleText)
		return
	}
	target, ok := b.replyTarget(ctx, logger, msg, "You must reply to a message from the participant you wish to share your handle with.")
	if !ok {
		return
	}
	if !target.CanRelay() {
		b.send(ctx, logger, msg.Chat.ID, notMemberText)
		return
	}
	if err := b.registry.SetUsername(ctx, p.ID, msg.From.UserName); err != nil {
		b.fail(ctx, logger, msg.Chat.ID, err, "")
		return
	}

	req := b.exchange.Put(p.ID, target.ID, b.exchangeTTL)
	_, err = b.out.SendHTML(ctx, target.ID,
		fmt.Sprintf("<b>%s</b> would like to share their Telegram handle with you. Would you like to share yours in return?",
			html.EscapeString(p.DisplayName)),
		0,
		ports.Choice{Label: "Accept & Share", Data: callbackShare + ":" + req.ID},
		ports.Choice{Label: "Decline", Data: callbackDecline + ":" + req.ID},
	)
	if err != nil {
		b.fail(ctx, logger, msg.Chat.ID, err, "")
		return
	}
	logger.Info("handle exchange requested", slog.String("request_id", req.ID), slog.Int64("target_id", target.ID))
	b.sendf(ctx, logger, msg.Chat.ID, "Request sent to <b>%s</b>.", target.DisplayName)
}

// cmdModerate применяет команду модератора к автору сообщения, на которое
// отвечает команда. Текст после команды передается как причина.
func (b *Bot) cmdModerate(ctx context.Context, logger *slog.Logger, msg *tgbotapi.Message, m moderation) {
	if _, err := b.admission.Admit(ctx, msg.From.ID); err != nil {
		b.fail(ctx, logger, msg.Chat.ID, err, "")
		return
	}
	target, ok := b.replyTarget(ctx, logger, msg, m.hint)
	if !ok {
		return
	}
	reason := services.SanitizeInput(msg.CommandArguments())
	p, err := m.apply(ctx, msg.From.ID, target.ID, reason)
	if err != nil {
		b.fail(ctx, logger, msg.Chat.ID, err, m.unauthorized)
		return
	}
	name := p.DisplayName
	if name == "" {
		name = p.Handle()
	}
	b.sendf(ctx, logger, msg.Chat.ID, m.done, name)
}

// replyTarget находит автора логического сообщения, на которое отвечает команда.
// Ответ на собственное сообщение считается ошибкой и сопровождается подсказкой hint.
func (b *Bot) replyTarget(ctx context.Context, logger *slog.Logger, msg *tgbotapi.Message, hint string) (*domain.Participant, bool) {
	if msg.ReplyToMessage == nil {
		b.send(ctx, logger, msg.Chat.ID, hint)
		return nil, false
	}
	owner, err := b.relay.Owner(ctx, telegram.RefOf(msg.ReplyToMessage))
	if err != nil {
		b.fail(ctx, logger, msg.Chat.ID, err, "")
		return nil, false
	}
	if owner == msg.From.ID {
		b.send(ctx, logger, msg.Chat.ID, hint)
		return nil, false
	}
	p, err := b.registry.Get(ctx, owner)
	if err != nil {
		b.fail(ctx, logger, msg.Chat.ID, err, "")
		return nil, false
	}
	return p, true
}

// fullName возвращает имя из профиля Telegram.
func fullName(u *tgbotapi.User) string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// parseID разбирает идентификатор участника из данных кнопки.
func parseID(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}
