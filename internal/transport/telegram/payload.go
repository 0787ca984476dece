package telegram

import (
	"relaybot/internal/message"
	"relaybot/internal/sender"
)

// Outbound Bot API payloads. Media is always re-sent by file id so the copy
// carries no forwarding header.

type replyParameters struct {
	MessageID                int  `json:"message_id"`
	AllowSendingWithoutReply bool `json:"allow_sending_without_reply"`
}

type entity struct {
	Type          string `json:"type"`
	Offset        int    `json:"offset"`
	Length        int    `json:"length"`
	URL           string `json:"url,omitempty"`
	Language      string `json:"language,omitempty"`
	CustomEmojiID string `json:"custom_emoji_id,omitempty"`
}

type captioned struct {
	Caption         string   `json:"caption,omitempty"`
	CaptionEntities []entity `json:"caption_entities,omitempty"`
	CaptionAbove    bool     `json:"show_caption_above_media,omitempty"`
}

// payload is one send* call. Exactly one media field is set, or none for
// sendMessage.
type payload struct {
	ChatID  int64            `json:"chat_id"`
	Reply   *replyParameters `json:"reply_parameters,omitempty"`
	captioned

	Text     string   `json:"text,omitempty"`
	Entities []entity `json:"entities,omitempty"`

	Photo     string `json:"photo,omitempty"`
	Video     string `json:"video,omitempty"`
	Animation string `json:"animation,omitempty"`
	Audio     string `json:"audio,omitempty"`
	Document  string `json:"document,omitempty"`
	Voice     string `json:"voice,omitempty"`
	VideoNote string `json:"video_note,omitempty"`
	Sticker   string `json:"sticker,omitempty"`

	Duration          int    `json:"duration,omitempty"`
	Width             int    `json:"width,omitempty"`
	Height            int    `json:"height,omitempty"`
	Length            int    `json:"length,omitempty"`
	Performer         string `json:"performer,omitempty"`
	Title             string `json:"title,omitempty"`
	HasSpoiler        bool   `json:"has_spoiler,omitempty"`
	SupportsStreaming bool   `json:"supports_streaming,omitempty"`
}

type inputMedia struct {
	Type  string `json:"type"`
	Media string `json:"media"`
	captioned

	Duration          int    `json:"duration,omitempty"`
	Width             int    `json:"width,omitempty"`
	Height            int    `json:"height,omitempty"`
	Performer         string `json:"performer,omitempty"`
	Title             string `json:"title,omitempty"`
	HasSpoiler        bool   `json:"has_spoiler,omitempty"`
	SupportsStreaming bool   `json:"supports_streaming,omitempty"`
}

type mediaGroupPayload struct {
	ChatID int64            `json:"chat_id"`
	Reply  *replyParameters `json:"reply_parameters,omitempty"`
	Media  []inputMedia     `json:"media"`
}

func replyTo(id int) *replyParameters {
	if id == 0 {
		return nil
	}
	return &replyParameters{MessageID: id, AllowSendingWithoutReply: true}
}

func entitiesOut(in []message.Entity) []entity {
	if len(in) == 0 {
		return nil
	}
	out := make([]entity, 0, len(in))
	for _, e := range in {
		out = append(out, entity{Type: e.Type, Offset: e.Offset, Length: e.Length, URL: e.URL, Language: e.Language, CustomEmojiID: e.CustomEmojiID})
	}
	return out
}

func decoratedCaption(c message.Caption, signature, alias string) captioned {
	d := sender.Decorate(c.Caption, c.CaptionEntities, signature, alias, sender.CaptionLimit)
	return captioned{Caption: d.Text, CaptionEntities: entitiesOut(d.Entities), CaptionAbove: c.CaptionAbove}
}

// buildSingle returns the API method and payload for one non-group message.
// ok is false for kinds that cannot be sent on their own.
func buildSingle(m *message.Message, chatID int64, signature, alias string, reply int) (string, payload, bool) {
	p := payload{ChatID: chatID, Reply: replyTo(reply)}
	switch c := m.Content.(type) {
	case message.Text:
		d := sender.Decorate(c.Body, c.Entities, signature, alias, sender.TextLimit)
		p.Text, p.Entities = d.Text, entitiesOut(d.Entities)
		return "sendMessage", p, true
	case message.Photo:
		p.Photo = c.FileID
		p.captioned = decoratedCaption(c.Caption, signature, alias)
		p.HasSpoiler = c.Spoiler
		return "sendPhoto", p, true
	case message.Video:
		p.Video = c.FileID
		p.captioned = decoratedCaption(c.Caption, signature, alias)
		p.Duration, p.Width, p.Height = c.Duration, c.Width, c.Height
		p.HasSpoiler, p.SupportsStreaming = c.Spoiler, c.Streaming
		return "sendVideo", p, true
	case message.Animation:
		p.Animation = c.FileID
		p.captioned = decoratedCaption(c.Caption, signature, alias)
		p.Duration, p.Width, p.Height = c.Duration, c.Width, c.Height
		p.HasSpoiler = c.Spoiler
		return "sendAnimation", p, true
	case message.Audio:
		p.Audio = c.FileID
		p.captioned = decoratedCaption(c.Caption, signature, alias)
		p.Duration, p.Performer, p.Title = c.Duration, c.Performer, c.Title
		return "sendAudio", p, true
	case message.Document:
		p.Document = c.FileID
		p.captioned = decoratedCaption(c.Caption, signature, alias)
		return "sendDocument", p, true
	case message.Voice:
		p.Voice = c.FileID
		p.captioned = decoratedCaption(c.Caption, signature, alias)
		p.Duration = c.Duration
		return "sendVoice", p, true
	case message.VideoNote:
		p.VideoNote = c.FileID
		p.Duration, p.Length = c.Duration, c.Length
		return "sendVideoNote", p, true
	case message.Sticker:
		p.Sticker = c.FileID
		return "sendSticker", p, true
	}
	return "", payload{}, false
}

// buildAlbum returns the sendMediaGroup payload for one album batch. Only
// the first item may carry a caption: lead, decorated with signature and
// alias. Later items go out bare.
func buildAlbum(items []*message.Message, chatID int64, lead message.Caption, signature, alias string, reply int) mediaGroupPayload {
	out := mediaGroupPayload{ChatID: chatID, Reply: replyTo(reply), Media: make([]inputMedia, 0, len(items))}
	for i, it := range items {
		im := inputMediaOf(it)
		if i == 0 {
			im.captioned = decoratedCaption(lead, signature, alias)
		}
		out.Media = append(out.Media, im)
	}
	return out
}

// withCaption returns a copy of m carrying c instead of its own caption.
// Kinds without a caption are returned unchanged.
func withCaption(m *message.Message, c message.Caption) *message.Message {
	cp := *m
	switch v := m.Content.(type) {
	case message.Photo:
		v.Caption = c
		cp.Content = v
	case message.Video:
		v.Caption = c
		cp.Content = v
	case message.Animation:
		v.Caption = c
		cp.Content = v
	case message.Audio:
		v.Caption = c
		cp.Content = v
	case message.Document:
		v.Caption = c
		cp.Content = v
	case message.Voice:
		v.Caption = c
		cp.Content = v
	default:
		return m
	}
	return &cp
}

func inputMediaOf(m *message.Message) inputMedia {
	switch c := m.Content.(type) {
	case message.Photo:
		return inputMedia{Type: "photo", Media: c.FileID, HasSpoiler: c.Spoiler}
	case message.Video:
		return inputMedia{Type: "video", Media: c.FileID, Duration: c.Duration, Width: c.Width, Height: c.Height, HasSpoiler: c.Spoiler, SupportsStreaming: c.Streaming}
	case message.Animation:
		return inputMedia{Type: "animation", Media: c.FileID, Duration: c.Duration, Width: c.Width, Height: c.Height, HasSpoiler: c.Spoiler}
	case message.Audio:
		return inputMedia{Type: "audio", Media: c.FileID, Duration: c.Duration, Performer: c.Performer, Title: c.Title}
	case message.Document:
		return inputMedia{Type: "document", Media: c.FileID}
	}
	return inputMedia{}
}
