package telegram

import (
	"encoding/json"

	"relaybot/internal/transport"
)

// Inbound Bot API shapes, decoded from getUpdates. Only the fields the relay
// reads are declared.

type wireUpdate struct {
	ID                int               `json:"update_id"`
	Message           *wireMessage      `json:"message"`
	EditedMessage     *wireMessage      `json:"edited_message"`
	ChannelPost       *wireMessage      `json:"channel_post"`
	EditedChannelPost *wireMessage      `json:"edited_channel_post"`
	MyChatMember      *wireMemberUpdate `json:"my_chat_member"`
}

type wireChat struct {
	ID       int64  `json:"id"`
	Type     string `json:"type"`
	Title    string `json:"title"`
	Username string `json:"username"`
}

type wireUser struct {
	ID       int64  `json:"id"`
	IsBot    bool   `json:"is_bot"`
	Username string `json:"username"`
}

type wireEntity struct {
	Type          string    `json:"type"`
	Offset        int       `json:"offset"`
	Length        int       `json:"length"`
	URL           string    `json:"url"`
	User          *wireUser `json:"user"`
	Language      string    `json:"language"`
	CustomEmojiID string    `json:"custom_emoji_id"`
}

type wireFile struct {
	FileID       string `json:"file_id"`
	FileUniqueID string `json:"file_unique_id"`
	FileSize     int64  `json:"file_size"`
}

type wirePhotoSize struct {
	wireFile
	Width  int `json:"width"`
	Height int `json:"height"`
}

type wireMedia struct {
	wireFile
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Duration  int    `json:"duration"`
	Length    int    `json:"length"`
	Performer string `json:"performer"`
	Title     string `json:"title"`
	FileName  string `json:"file_name"`
}

type wireMessage struct {
	MessageID         int             `json:"message_id"`
	Chat              wireChat        `json:"chat"`
	From              *wireUser       `json:"from"`
	ReplyTo           *wireMessage    `json:"reply_to_message"`
	MediaGroupID      string          `json:"media_group_id"`
	Text              string          `json:"text"`
	Entities          []wireEntity    `json:"entities"`
	Caption           string          `json:"caption"`
	CaptionEntities   []wireEntity    `json:"caption_entities"`
	CaptionAboveMedia bool            `json:"show_caption_above_media"`
	HasMediaSpoiler   bool            `json:"has_media_spoiler"`
	Photo             []wirePhotoSize `json:"photo"`
	Video             *wireMedia      `json:"video"`
	Animation         *wireMedia      `json:"animation"`
	Audio             *wireMedia      `json:"audio"`
	Document          *wireMedia      `json:"document"`
	Voice             *wireMedia      `json:"voice"`
	VideoNote         *wireMedia      `json:"video_note"`
	Sticker           *wireMedia      `json:"sticker"`
	PaidMedia         json.RawMessage `json:"paid_media"`
	MigrateToChatID   int64           `json:"migrate_to_chat_id"`
}

type wireMemberUpdate struct {
	Chat          wireChat `json:"chat"`
	NewChatMember struct {
		Status string `json:"status"`
	} `json:"new_chat_member"`
}

// convert maps one Bot API update to the relay's update. ok is false for
// update types the relay ignores.
func convert(u wireUpdate) (transport.Update, bool) {
	switch {
	case u.Message != nil:
		return messageUpdate(u.Message, false), true
	case u.ChannelPost != nil:
		return messageUpdate(u.ChannelPost, false), true
	case u.EditedMessage != nil:
		return messageUpdate(u.EditedMessage, true), true
	case u.EditedChannelPost != nil:
		return messageUpdate(u.EditedChannelPost, true), true
	case u.MyChatMember != nil:
		return transport.Update{
			Kind: transport.UpdateMembership,
			Membership: &transport.Membership{
				Chat:   chatOf(u.MyChatMember.Chat),
				Status: u.MyChatMember.NewChatMember.Status,
			},
		}, true
	}
	return transport.Update{}, false
}

func messageUpdate(m *wireMessage, edited bool) transport.Update {
	if m.MigrateToChatID != 0 {
		return transport.Update{
			Kind:      transport.UpdateMigration,
			Migration: &transport.Migration{From: m.Chat.ID, To: m.MigrateToChatID},
		}
	}
	kind := transport.UpdateMessage
	if edited {
		kind = transport.UpdateEdited
	}
	return transport.Update{Kind: kind, Message: messageOf(m)}
}

func messageOf(m *wireMessage) *transport.Message {
	if m == nil {
		return nil
	}
	out := &transport.Message{
		ID:                m.MessageID,
		Chat:              chatOf(m.Chat),
		From:              userOf(m.From),
		ReplyTo:           messageOf(m.ReplyTo),
		MediaGroupID:      m.MediaGroupID,
		Text:              m.Text,
		Entities:          entitiesOf(m.Entities),
		Caption:           m.Caption,
		CaptionEntities:   entitiesOf(m.CaptionEntities),
		CaptionAboveMedia: m.CaptionAboveMedia,
		HasMediaSpoiler:   m.HasMediaSpoiler,
		PaidMedia:         len(m.PaidMedia) > 0 && string(m.PaidMedia) != "null",
	}
	for _, p := range m.Photo {
		out.Photo = append(out.Photo, transport.PhotoSize{File: fileOf(p.wireFile), Width: p.Width, Height: p.Height})
	}
	if v := m.Video; v != nil {
		out.Video = &transport.Video{File: fileOf(v.wireFile), Width: v.Width, Height: v.Height, Duration: v.Duration}
	}
	if v := m.Animation; v != nil {
		out.Animation = &transport.Animation{File: fileOf(v.wireFile), Width: v.Width, Height: v.Height, Duration: v.Duration}
	}
	if v := m.Audio; v != nil {
		out.Audio = &transport.Audio{File: fileOf(v.wireFile), Duration: v.Duration, Performer: v.Performer, Title: v.Title, FileName: v.FileName}
	}
	if v := m.Document; v != nil {
		out.Document = &transport.Document{File: fileOf(v.wireFile), FileName: v.FileName}
	}
	if v := m.Voice; v != nil {
		out.Voice = &transport.Voice{File: fileOf(v.wireFile), Duration: v.Duration}
	}
	if v := m.VideoNote; v != nil {
		out.VideoNote = &transport.VideoNote{File: fileOf(v.wireFile), Length: v.Length, Duration: v.Duration}
	}
	if v := m.Sticker; v != nil {
		out.Sticker = &transport.Sticker{File: fileOf(v.wireFile)}
	}
	return out
}

func chatOf(c wireChat) transport.Chat {
	return transport.Chat{ID: c.ID, Type: c.Type, Title: c.Title, Username: c.Username}
}

func userOf(u *wireUser) *transport.User {
	if u == nil {
		return nil
	}
	return &transport.User{ID: u.ID, IsBot: u.IsBot, Username: u.Username}
}

func fileOf(f wireFile) transport.File {
	return transport.File{FileID: f.FileID, FileUniqueID: f.FileUniqueID, FileSize: f.FileSize}
}

func entitiesOf(in []wireEntity) []transport.Entity {
	if len(in) == 0 {
		return nil
	}
	out := make([]transport.Entity, 0, len(in))
	for _, e := range in {
		out = append(out, transport.Entity{
			Type:          e.Type,
			Offset:        e.Offset,
			Length:        e.Length,
			URL:           e.URL,
			User:          userOf(e.User),
			Language:      e.Language,
			CustomEmojiID: e.CustomEmojiID,
		})
	}
	return out
}
