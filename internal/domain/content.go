package domain

import "unicode/utf16"

// ContentKind различает текстовые и медиа-сообщения.
type ContentKind int

const (
	ContentText ContentKind = iota
	ContentMedia
)

// Entity — элемент разметки сообщения (жирный текст, ссылка, упоминание и т.д.).
// Offset и Length измеряются в единицах UTF-16, как в Bot API.
type Entity struct {
	Type     string
	Offset   int
	Length   int
	URL      string
	Language string
}

// MediaVariant — один из вариантов разрешения медиа-файла.
type MediaVariant struct {
	FileID   string
	FileSize int
	Width    int
	Height   int
}

// MediaDescriptor описывает медиа-вложение для редактирования копий.
type MediaDescriptor struct {
	// Type — один из animation, audio, document, photo, video.
	Type            string
	FileID          string
	Caption         string
	CaptionEntities []Entity
}

// Content — содержимое входящего сообщения.
type Content struct {
	Kind     ContentKind
	Text     string
	Entities []Entity
	// Media и Variants заполняются только для ContentMedia.
	Media    *MediaDescriptor
	Variants []MediaVariant
}

// IsText сообщает, что содержимое текстовое.
func (c Content) IsText() bool {
	return c.Kind == ContentText
}

// InboundMessage — сообщение участника, поступившее боту.
type InboundMessage struct {
	// Ref — ссылка на сообщение в чате отправителя; становится OriginID.
	Ref ArtifactRef
	// ReplyTo — ссылка на сообщение, на которое отвечает участник (может быть пустой).
	ReplyTo ArtifactRef
	Content Content
}

// LargestVariant возвращает вариант с наибольшим размером файла.
// При равных размерах выбирается вариант с большей площадью.
func LargestVariant(variants []MediaVariant) (MediaVariant, bool) {
	if len(variants) == 0 {
		return MediaVariant{}, false
	}
	best := variants[0]
	for _, v := range variants[1:] {
		if v.FileSize > best.FileSize ||
			(v.FileSize == best.FileSize && v.Width*v.Height > best.Width*best.Height) {
			best = v
		}
	}
	return best, true
}

// UTF16Len возвращает длину строки в единицах UTF-16.
func UTF16Len(s string) int {
	n := 0
	for _, r := range s {
		n += len(utf16.Encode([]rune{r}))
	}
	return n
}

// ShiftEntities возвращает копию разметки, сдвинутую на offset единиц UTF-16.
func ShiftEntities(entities []Entity, offset int) []Entity {
	if len(entities) == 0 {
		return nil
	}
	shifted := make([]Entity, len(entities))
	for i, e := range entities {
		e.Offset += offset
		shifted[i] = e
	}
	return shifted
}
