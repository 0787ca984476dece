package message

import (
	"encoding/json"
	"errors"
	"fmt"
)

var ErrUnknownKind = errors.New("message: unknown kind")

type envelope struct {
	Kind         string          `json:"kind"`
	SourceChat   int64           `json:"src_chat"`
	SourceMsg    int             `json:"src_msg"`
	SourceUser   int64           `json:"src_user,omitempty"`
	MediaGroupID string          `json:"media_group_id,omitempty"`
	ReplyChat    int64           `json:"reply_chat,omitempty"`
	ReplyMsg     int             `json:"reply_msg,omitempty"`
	Payload      json.RawMessage `json:"payload"`
}

// Encode serializes m for the media-group buffer. Group items are never
// serialized: a decoded media group has no items.
func Encode(m *Message) ([]byte, error) {
	if m == nil || m.Content == nil {
		return nil, ErrUnknownKind
	}
	var content any = m.Content
	if _, ok := m.Content.(Group); ok {
		content = struct{}{}
	}
	payload, err := json.Marshal(content)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", m.Kind(), err)
	}
	return json.Marshal(envelope{
		Kind:         m.Kind().String(),
		SourceChat:   m.SourceChatID,
		SourceMsg:    m.SourceMessageID,
		SourceUser:   m.SourceUserID,
		MediaGroupID: m.MediaGroupID,
		ReplyChat:    m.replyChatID,
		ReplyMsg:     m.replyMessageID,
		Payload:      payload,
	})
}

func Decode(b []byte) (*Message, error) {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	kind, ok := ParseKind(env.Kind)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, env.Kind)
	}
	content, err := decodeContent(kind, env.Payload)
	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", kind, err)
	}
	return &Message{
		SourceChatID:    env.SourceChat,
		SourceMessageID: env.SourceMsg,
		SourceUserID:    env.SourceUser,
		MediaGroupID:    env.MediaGroupID,
		Content:         content,
		replyChatID:     env.ReplyChat,
		replyMessageID:  env.ReplyMsg,
	}, nil
}

func decodeContent(kind Kind, raw json.RawMessage) (Content, error) {
	switch kind {
	case KindText:
		return unmarshalAs[Text](raw)
	case KindPhoto:
		return unmarshalAs[Photo](raw)
	case KindVideo:
		return unmarshalAs[Video](raw)
	case KindAnimation:
		return unmarshalAs[Animation](raw)
	case KindAudio:
		return unmarshalAs[Audio](raw)
	case KindDocument:
		return unmarshalAs[Document](raw)
	case KindVoice:
		return unmarshalAs[Voice](raw)
	case KindVideoNote:
		return unmarshalAs[VideoNote](raw)
	case KindSticker:
		return unmarshalAs[Sticker](raw)
	case KindMediaGroup:
		return Group{}, nil
	}
	return nil, ErrUnknownKind
}

func unmarshalAs[T Content](raw json.RawMessage) (Content, error) {
	var v T
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
	}
	return v, nil
}
