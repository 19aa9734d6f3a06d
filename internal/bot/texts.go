package bot

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"secret-lounge/internal/domain"
	"secret-lounge/internal/telegram"
)

// Файлы статических текстов в каталоге texts_dir.
const (
	welcomeFile = "welcome.html"
	helpFile    = "help.html"
	rulesFile   = "rules.html"
)

const (
	genericErrorText  = "Something went wrong. Please try again later."
	unknownCommand    = "Unknown command. Use /help to see what I can do."
	noHandleText      = "Please set a @-handle on your Telegram account, first."
	notMemberText     = "You must reply to a message from an active group member."
	noDisplayNameText = "You have not yet set your display name. Please use the /name command to do so."
	leftGroupText     = "You have left the group. Your data has been removed. To rejoin, use /start and wait for a moderator to approve you."
	deliveryFailed    = "Unable to deliver this message to %d participant(s). Please try again."
	requestExpired    = "This request has expired."
	invalidNameText   = "Invalid display name. Only letters, digits, spaces and standard punctuation are permitted, at most %d columns wide."
	editFailed        = "Unable to apply this edit for %d participant(s)."
	deleteFailed      = "Unable to delete this message for %d participant(s)."
	notRecordedText   = "Your message was delivered, but it can not be replied to, edited or deleted. Please do not send it again."
)

// Texts — статические HTML-тексты бота.
type Texts struct {
	Welcome string
	Help    string
	Rules   string
}

func defaultTexts() Texts {
	return Texts{
		Welcome: "Welcome!",
		Help: "<b>Commands</b>\n" +
			"/name <i>name</i> set your display name\n" +
			"/rules show the group rules\n" +
			"/members list active members\n" +
			"/delete reply to a message to delete it\n" +
			"/shareid reply to a message to exchange handles\n" +
			"/stop leave the group",
		Rules: "There was an error obtaining the group rules. Please contact a moderator for help!",
	}
}

// LoadTexts читает тексты из каталога dir. Отсутствующий файл заменяется
// текстом по умолчанию.
func LoadTexts(dir string, logger *slog.Logger) Texts {
	texts := defaultTexts()
	if dir == "" {
		return texts
	}
	for name, dst := range map[string]*string{
		welcomeFile: &texts.Welcome,
		helpFile:    &texts.Help,
		rulesFile:   &texts.Rules,
	} {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			logger.Warn("unable to read text file, using default", slog.String("file", name), slog.String("error", err.Error()))
			continue
		}
		if text := strings.TrimSpace(string(data)); text != "" {
			*dst = text
		}
	}
	return texts
}

// notAdmittedText объясняет участнику, почему он не может пользоваться группой.
func notAdmittedText(reason domain.NotAdmittedReason) string {
	switch reason {
	case domain.ReasonBanned:
		return "You were permanently banned from this group."
	case domain.ReasonPending:
		return "Your request to join is waiting for a moderator. You will be notified once it is reviewed."
	case domain.ReasonNoDisplayName:
		return noDisplayNameText
	default:
		return "You do not have access to this group. Please contact a moderator for access."
	}
}

// errorText переводит ошибку сервисов в текст для пользователя. maxNameWidth —
// допустимая ширина отображаемого имени в колонках.
// known=false означает, что ошибка не предназначена пользователю и должна быть залогирована.
func errorText(err error, maxNameWidth int) (text string, known bool) {
	if reason, ok := domain.NotAdmittedReasonOf(err); ok {
		return notAdmittedText(reason), true
	}
	switch {
	case errors.Is(err, domain.ErrInvalidDisplayName):
		return fmt.Sprintf(invalidNameText, maxNameWidth), true
	case errors.Is(err, domain.ErrNotFound):
		return notMemberText, true
	case errors.Is(err, domain.ErrUnauthorized):
		return "You are not allowed to do that.", true
	case errors.Is(err, domain.ErrBanned):
		return "This participant is permanently banned.", true
	case errors.Is(err, domain.ErrInvalidTransition):
		return "This request was already handled.", true
	case errors.Is(err, domain.ErrParticipantNotFound):
		return "This participant is no longer in the group.", true
	case errors.Is(err, telegram.ErrRecipientUnavailable):
		return "This participant can not be reached right now.", true
	}
	return genericErrorText, false
}
