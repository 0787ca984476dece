// Package normalize converts inbound platform messages into message.Message.
package normalize

import (
	"relaybot/internal/message"
	"relaybot/internal/transport"
)

// mentionEntity carries a platform user identity and is never re-sent.
const mentionEntity = "text_mention"

// Normalize returns nil for unsupported content: service messages, polls,
// paid media and anything without a supported payload. Content fields are
// inspected in a fixed precedence order.
func Normalize(in *transport.Message) *message.Message {
	if in == nil || in.PaidMedia {
		return nil
	}
	content := contentOf(in)
	if content == nil {
		return nil
	}
	m := &message.Message{
		SourceChatID:    in.Chat.ID,
		SourceMessageID: in.ID,
		MediaGroupID:    in.MediaGroupID,
		Content:         content,
	}
	if in.From != nil {
		m.SourceUserID = in.From.ID
	}
	return m
}

func contentOf(in *transport.Message) message.Content {
	caption := message.Caption{
		Caption:         in.Caption,
		CaptionEntities: Entities(in.CaptionEntities),
		CaptionAbove:    in.CaptionAboveMedia,
	}
	switch {
	case in.Text != "":
		return message.Text{Body: in.Text, Entities: Entities(in.Entities)}
	case len(in.Photo) > 0:
		p := LargestPhoto(in.Photo)
		return message.Photo{
			FileRef: ref(p.File),
			Caption: caption,
			Width:   p.Width,
			Height:  p.Height,
			Spoiler: in.HasMediaSpoiler,
		}
	case in.Video != nil:
		v := in.Video
		return message.Video{
			FileRef:   ref(v.File),
			Caption:   caption,
			Duration:  v.Duration,
			Width:     v.Width,
			Height:    v.Height,
			Spoiler:   in.HasMediaSpoiler,
			Streaming: true,
		}
	case in.Animation != nil:
		a := in.Animation
		return message.Animation{
			FileRef:  ref(a.File),
			Caption:  caption,
			Duration: a.Duration,
			Width:    a.Width,
			Height:   a.Height,
			Spoiler:  in.HasMediaSpoiler,
		}
	case in.Audio != nil:
		a := in.Audio
		return message.Audio{
			FileRef:   ref(a.File),
			Caption:   caption,
			Duration:  a.Duration,
			Performer: a.Performer,
			Title:     a.Title,
			FileName:  a.FileName,
		}
	case in.Document != nil:
		return message.Document{FileRef: ref(in.Document.File), Caption: caption, FileName: in.Document.FileName}
	case in.Voice != nil:
		return message.Voice{FileRef: ref(in.Voice.File), Caption: caption, Duration: in.Voice.Duration}
	case in.VideoNote != nil:
		vn := in.VideoNote
		return message.VideoNote{FileRef: ref(vn.File), Duration: vn.Duration, Length: vn.Length}
	case in.Sticker != nil:
		return message.Sticker{FileRef: ref(in.Sticker.File)}
	}
	return nil
}

// LargestPhoto picks the size with the largest reported byte size. The first
// of equal sizes wins, which keeps fingerprints stable.
func LargestPhoto(sizes []transport.PhotoSize) transport.PhotoSize {
	best := sizes[0]
	for _, p := range sizes[1:] {
		if p.FileSize > best.FileSize {
			best = p
		}
	}
	return best
}

// Entities rebuilds formatting spans, dropping user mentions.
func Entities(in []transport.Entity) []message.Entity {
	var out []message.Entity
	for _, e := range in {
		if e.Type == mentionEntity || e.User != nil {
			continue
		}
		out = append(out, message.Entity{
			Type:          e.Type,
			Offset:        e.Offset,
			Length:        e.Length,
			URL:           e.URL,
			Language:      e.Language,
			CustomEmojiID: e.CustomEmojiID,
		})
	}
	return out
}

func ref(f transport.File) message.FileRef {
	return message.FileRef{FileID: f.FileID, FileUniqueID: f.FileUniqueID}
}
