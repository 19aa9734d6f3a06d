package exporter

import (
	"fmt"
	"html"
	"strings"
	"unicode"

	"github.com/mattn/go-runewidth"

	"secret-lounge/internal/domain"
	"secret-lounge/internal/ports"
)

// Отметки ролей в списке участников.
const (
	ModeratorMark = "★"
	MemberMark    = "•"
)

// TableExporter формирует список участников в виде моноширинной HTML-таблицы
// для сообщения Telegram.
type TableExporter struct {
	nameWidth int
	roleWidth int
}

// NewTableExporter создает новый экземпляр TableExporter.
func NewTableExporter(nameWidth, roleWidth int) ports.Exporter {
	return &TableExporter{nameWidth: nameWidth, roleWidth: roleWidth}
}

// Export выводит участников с отметкой роли и итоговым числом.
func (e *TableExporter) Export(participants []domain.Participant) ([]byte, error) {
	var sb strings.Builder
	if len(participants) == 0 {
		sb.WriteString("There are no participants yet.")
		return []byte(sb.String()), nil
	}

	sb.WriteString("<pre>")
	sb.WriteString(fmt.Sprintf("  %s%s | %s%s\n",
		"Name", generatePadding("Name", e.nameWidth),
		"Role", generatePadding("Role", e.roleWidth)))
	sb.WriteString(fmt.Sprintf("--%s-|-%s\n",
		strings.Repeat("-", e.nameWidth),
		strings.Repeat("-", e.roleWidth)))

	for _, p := range participants {
		mark := MemberMark
		if p.IsModerator() {
			mark = ModeratorMark
		}
		name := strings.ReplaceAll(strings.ToValidUTF8(p.DisplayName, ""), "\n", " ")
		nameLines := wrapString(name, e.nameWidth)
		role := string(p.Role)

		for i, line := range nameLines {
			prefix, rolePart := " ", ""
			if i == 0 {
				prefix, rolePart = mark, role
			}
			// Экранирование после выравнивания: ширина считается по видимому тексту.
			sb.WriteString(fmt.Sprintf("%s %s%s | %s\n",
				prefix,
				html.EscapeString(line), generatePadding(line, e.nameWidth),
				rolePart))
		}
	}
	sb.WriteString("</pre>")
	sb.WriteString(fmt.Sprintf("%d participants", len(participants)))
	return []byte(sb.String()), nil
}

// generatePadding вычисляет отступ для строки с учетом поправки на CJK-символы.
func generatePadding(s string, colWidth int) string {
	paddingNeeded := colWidth - runewidth.StringWidth(s)

	// Некоторые клиенты рендерят CJK-символы шире, чем считает runewidth.
	for _, r := range s {
		if unicode.In(r, unicode.Han, unicode.Hangul, unicode.Hiragana, unicode.Katakana) {
			if paddingNeeded >= 0 {
				paddingNeeded++
			}
			break
		}
	}

	if paddingNeeded > 0 {
		return strings.Repeat(" ", paddingNeeded)
	}
	return ""
}

// wrapString переносит строку по словам так, чтобы каждая часть занимала
// не больше width колонок. Слово длиннее width разрывается.
func wrapString(s string, width int) []string {
	if width <= 0 || runewidth.StringWidth(s) <= width {
		return []string{s}
	}

	var lines []string
	var current strings.Builder
	flush := func() {
		if current.Len() > 0 {
			lines = append(lines, current.String())
			current.Reset()
		}
	}

	for _, word := range strings.Fields(s) {
		wordWidth := runewidth.StringWidth(word)
		if wordWidth > width {
			flush()
			lines = append(lines, breakWord(word, width)...)
			continue
		}
		lineWidth := runewidth.StringWidth(current.String())
		if lineWidth > 0 && lineWidth+1+wordWidth > width {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString(" ")
		}
		current.WriteString(word)
	}
	flush()

	if len(lines) == 0 {
		return []string{""}
	}
	return lines
}

func breakWord(word string, width int) []string {
	var parts []string
	runes := []rune(word)
	for len(runes) > 0 {
		i, w := 0, 0
		for i < len(runes) {
			rw := runewidth.RuneWidth(runes[i])
			if w+rw > width && i > 0 {
				break
			}
			w += rw
			i++
		}
		parts = append(parts, string(runes[:i]))
		runes = runes[i:]
	}
	return parts
}
