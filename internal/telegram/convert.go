package telegram

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"secret-lounge/internal/domain"
)

// RefOf возвращает ссылку на сообщение Bot API.
func RefOf(msg *tgbotapi.Message) domain.ArtifactRef {
	if msg == nil || msg.Chat == nil {
		return domain.ArtifactRef{}
	}
	return domain.ArtifactRef{ChatID: msg.Chat.ID, MessageID: msg.MessageID}
}

// Inbound преобразует сообщение участника во входящее сообщение ретранслятора.
// ok=false для служебных сообщений, которые нечего пересылать.
func Inbound(msg *tgbotapi.Message) (domain.InboundMessage, bool) {
	content, ok := ContentOf(msg)
	if !ok {
		return domain.InboundMessage{}, false
	}
	return domain.InboundMessage{
		Ref:     RefOf(msg),
		ReplyTo: RefOf(msg.ReplyToMessage),
		Content: content,
	}, true
}

// ContentOf извлекает содержимое сообщения. Любое нетекстовое сообщение,
// которое можно скопировать, считается медиа.
func ContentOf(msg *tgbotapi.Message) (domain.Content, bool) {
	if msg == nil {
		return domain.Content{}, false
	}
	if msg.Text != "" {
		return domain.Content{
			Kind:     domain.ContentText,
			Text:     msg.Text,
			Entities: entitiesFromAPI(msg.Entities),
		}, true
	}

	media := &domain.MediaDescriptor{
		Caption:         msg.Caption,
		CaptionEntities: entitiesFromAPI(msg.CaptionEntities),
	}
	content := domain.Content{Kind: domain.ContentMedia, Media: media}
	switch {
	case len(msg.Photo) > 0:
		media.Type = "photo"
		content.Variants = make([]domain.MediaVariant, 0, len(msg.Photo))
		for _, p := range msg.Photo {
			content.Variants = append(content.Variants, domain.MediaVariant{
				FileID: p.FileID, FileSize: p.FileSize, Width: p.Width, Height: p.Height,
			})
		}
		if v, ok := domain.LargestVariant(content.Variants); ok {
			media.FileID = v.FileID
		}
	case msg.Animation != nil:
		media.Type, media.FileID = "animation", msg.Animation.FileID
	case msg.Video != nil:
		media.Type, media.FileID = "video", msg.Video.FileID
	case msg.Audio != nil:
		media.Type, media.FileID = "audio", msg.Audio.FileID
	case msg.Document != nil:
		media.Type, media.FileID = "document", msg.Document.FileID
	case msg.Voice != nil:
		media.Type, media.FileID = "voice", msg.Voice.FileID
	case msg.VideoNote != nil:
		media.Type, media.FileID = "video_note", msg.VideoNote.FileID
	case msg.Sticker != nil:
		media.Type, media.FileID = "sticker", msg.Sticker.FileID
	case msg.Contact != nil:
		media.Type = "contact"
	case msg.Venue != nil:
		media.Type = "venue"
	case msg.Location != nil:
		media.Type = "location"
	case msg.Poll != nil:
		media.Type = "poll"
	case msg.Dice != nil:
		media.Type = "dice"
	default:
		return domain.Content{}, false
	}
	return content, true
}

// entitiesFromAPI копирует разметку. text_mention пропускается, так как
// без вложенного пользователя Bot API ее не примет.
func entitiesFromAPI(entities []tgbotapi.MessageEntity) []domain.Entity {
	if len(entities) == 0 {
		return nil
	}
	out := make([]domain.Entity, 0, len(entities))
	for _, e := range entities {
		if e.Type == "text_mention" {
			continue
		}
		out = append(out, domain.Entity{
			Type:     e.Type,
			Offset:   e.Offset,
			Length:   e.Length,
			URL:      e.URL,
			Language: e.Language,
		})
	}
	return out
}

func entitiesToAPI(entities []domain.Entity) []tgbotapi.MessageEntity {
	if len(entities) == 0 {
		return nil
	}
	out := make([]tgbotapi.MessageEntity, len(entities))
	for i, e := range entities {
		out[i] = tgbotapi.MessageEntity{
			Type:     e.Type,
			Offset:   e.Offset,
			Length:   e.Length,
			URL:      e.URL,
			Language: e.Language,
		}
	}
	return out
}
