package log

import (
	"fmt"
	"log/slog"
	"strings"
)

// TGBotAPIAdapter адаптирует slog.Logger под интерфейс tgbotapi.BotLogger.
type TGBotAPIAdapter struct {
	logger *slog.Logger
}

// NewTGBotAPIAdapter создает адаптер. Сообщения библиотеки пишутся на уровне
// debug: при ошибках сети она повторяет их на каждой итерации опроса.
func NewTGBotAPIAdapter(l *slog.Logger) *TGBotAPIAdapter {
	return &TGBotAPIAdapter{logger: l.With(slog.String("component", "tgbotapi"))}
}

// Println реализует метод интерфейса tgbotapi.BotLogger.
func (a *TGBotAPIAdapter) Println(v ...interface{}) {
	a.logger.Debug(strings.TrimSpace(fmt.Sprintln(v...)))
}

// Printf реализует метод интерфейса tgbotapi.BotLogger.
func (a *TGBotAPIAdapter) Printf(format string, v ...interface{}) {
	a.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)))
}
