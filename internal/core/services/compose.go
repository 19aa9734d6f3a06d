package services

import (
	"secret-lounge/internal/domain"
	"secret-lounge/internal/ports"
)

// DefaultModeratorMarker добавляется к имени модератора в пересылаемых сообщениях.
const DefaultModeratorMarker = " ★"

// nameSeparator отделяет имя отправителя от текста.
const nameSeparator = ":\n"

// decorateName возвращает имя отправителя в том виде, в каком его видят получатели.
func decorateName(p *domain.Participant, marker string) string {
	if p.IsModerator() {
		return p.DisplayName + marker
	}
	return p.DisplayName
}

// composeText строит текст копии "<имя>:\n<текст>". Имя выделяется жирным,
// разметка исходного текста сдвигается на длину префикса в единицах UTF-16.
func composeText(name, text string, entities []domain.Entity) (string, ports.TextOptions) {
	prefix := name + nameSeparator
	return prefix + text, ports.TextOptions{
		BoldPrefixLength: domain.UTF16Len(name),
		Entities:         domain.ShiftEntities(entities, domain.UTF16Len(prefix)),
	}
}

// composeHeader строит заголовок "<имя>:" перед медиа-копией.
func composeHeader(name string) (string, int) {
	return name + ":", domain.UTF16Len(name)
}

// mediaForEdit готовит описание медиа для редактирования копий. Для фото
// выбирается вариант наибольшего размера.
func mediaForEdit(content domain.Content) (domain.MediaDescriptor, bool) {
	if content.Media == nil {
		return domain.MediaDescriptor{}, false
	}
	desc := *content.Media
	if v, ok := domain.LargestVariant(content.Variants); ok {
		desc.FileID = v.FileID
	}
	if desc.FileID == "" {
		return domain.MediaDescriptor{}, false
	}
	return desc, true
}
