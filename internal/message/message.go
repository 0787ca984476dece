// Package message defines the unit of work that flows through the relay
// pipeline: a normalized inbound item with exactly one content payload.
package message

// Kind is the closed set of content kinds the relay understands.
type Kind uint8

const (
	KindText Kind = iota + 1
	KindPhoto
	KindVideo
	KindAnimation
	KindAudio
	KindDocument
	KindVoice
	KindVideoNote
	KindSticker
	KindMediaGroup
)

var kindNames = map[Kind]string{
	KindText:       "text",
	KindPhoto:      "photo",
	KindVideo:      "video",
	KindAnimation:  "animation",
	KindAudio:      "audio",
	KindDocument:   "document",
	KindVoice:      "voice",
	KindVideoNote:  "video_note",
	KindSticker:    "sticker",
	KindMediaGroup: "media_group",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, bool) {
	for k, name := range kindNames {
		if name == s {
			return k, true
		}
	}
	return 0, false
}

// Visual kinds may share one album with each other.
func (k Kind) Visual() bool {
	return k == KindPhoto || k == KindVideo || k == KindAnimation
}

// Entity is a formatting span. Offsets and lengths are in UTF-16 code units.
type Entity struct {
	Type          string `json:"type"`
	Offset        int    `json:"offset"`
	Length        int    `json:"length"`
	URL           string `json:"url,omitempty"`
	Language      string `json:"language,omitempty"`
	CustomEmojiID string `json:"custom_emoji_id,omitempty"`
}

// Content is implemented only by the payload types of this package.
type Content interface {
	Kind() Kind
	sealed()
}

// FileRef is a content-addressed media reference. FileUniqueID is stable
// across bots and re-uploads; FileID is what gets re-sent.
type FileRef struct {
	FileID       string `json:"file_id"`
	FileUniqueID string `json:"file_unique_id"`
}

// Caption is the optional text attached to media.
type Caption struct {
	Caption         string   `json:"caption,omitempty"`
	CaptionEntities []Entity `json:"caption_entities,omitempty"`
	CaptionAbove    bool     `json:"caption_above,omitempty"`
}

type Text struct {
	Body     string   `json:"text"`
	Entities []Entity `json:"entities,omitempty"`
}

type Photo struct {
	FileRef
	Caption
	Width   int  `json:"width,omitempty"`
	Height  int  `json:"height,omitempty"`
	Spoiler bool `json:"spoiler,omitempty"`
}

type Video struct {
	FileRef
	Caption
	Duration  int  `json:"duration,omitempty"`
	Width     int  `json:"width,omitempty"`
	Height    int  `json:"height,omitempty"`
	Spoiler   bool `json:"spoiler,omitempty"`
	Streaming bool `json:"streaming,omitempty"`
}

type Animation struct {
	FileRef
	Caption
	Duration int  `json:"duration,omitempty"`
	Width    int  `json:"width,omitempty"`
	Height   int  `json:"height,omitempty"`
	Spoiler  bool `json:"spoiler,omitempty"`
}

type Audio struct {
	FileRef
	Caption
	Duration  int    `json:"duration,omitempty"`
	Performer string `json:"performer,omitempty"`
	Title     string `json:"title,omitempty"`
	FileName  string `json:"file_name,omitempty"`
}

type Document struct {
	FileRef
	Caption
	FileName string `json:"file_name,omitempty"`
}

type Voice struct {
	FileRef
	Caption
	Duration int `json:"duration,omitempty"`
}

type VideoNote struct {
	FileRef
	Duration int `json:"duration,omitempty"`
	Length   int `json:"length,omitempty"`
}

type Sticker struct {
	FileRef
}

// Group is an album reassembled from its parts, ordered by source message id.
type Group struct {
	Items []*Message `json:"-"`
}

func (Text) Kind() Kind      { return KindText }
func (Photo) Kind() Kind     { return KindPhoto }
func (Video) Kind() Kind     { return KindVideo }
func (Animation) Kind() Kind { return KindAnimation }
func (Audio) Kind() Kind     { return KindAudio }
func (Document) Kind() Kind  { return KindDocument }
func (Voice) Kind() Kind     { return KindVoice }
func (VideoNote) Kind() Kind { return KindVideoNote }
func (Sticker) Kind() Kind   { return KindSticker }
func (Group) Kind() Kind     { return KindMediaGroup }

func (Text) sealed()      {}
func (Photo) sealed()     {}
func (Video) sealed()     {}
func (Animation) sealed() {}
func (Audio) sealed()     {}
func (Document) sealed()  {}
func (Voice) sealed()     {}
func (VideoNote) sealed() {}
func (Sticker) sealed()   {}
func (Group) sealed()     {}

// Message is one normalized inbound item.
//
// Everything except the reply source is fixed at construction. The reply
// source is filled at most once, before the message is handed to the
// distributor.
type Message struct {
	SourceChatID    int64
	SourceMessageID int
	SourceUserID    int64 // 0 for anonymous channel posts
	MediaGroupID    string

	Content Content

	replyChatID    int64
	replyMessageID int
}

func (m *Message) Kind() Kind {
	if m == nil || m.Content == nil {
		return 0
	}
	return m.Content.Kind()
}

// File returns the media reference of single-item kinds.
func (m *Message) File() (FileRef, bool) {
	switch c := m.Content.(type) {
	case Photo:
		return c.FileRef, true
	case Video:
		return c.FileRef, true
	case Animation:
		return c.FileRef, true
	case Audio:
		return c.FileRef, true
	case Document:
		return c.FileRef, true
	case Voice:
		return c.FileRef, true
	case VideoNote:
		return c.FileRef, true
	case Sticker:
		return c.FileRef, true
	}
	return FileRef{}, false
}

// CaptionOf returns the caption of media kinds that support one.
func (m *Message) CaptionOf() (Caption, bool) {
	switch c := m.Content.(type) {
	case Photo:
		return c.Caption, true
	case Video:
		return c.Caption, true
	case Animation:
		return c.Caption, true
	case Audio:
		return c.Caption, true
	case Document:
		return c.Caption, true
	case Voice:
		return c.Caption, true
	}
	return Caption{}, false
}

// Items returns the album parts of a media group, nil for other kinds.
func (m *Message) Items() []*Message {
	if g, ok := m.Content.(Group); ok {
		return g.Items
	}
	return nil
}

// ReplySource returns the original coordinates of the message this one replies to.
func (m *Message) ReplySource() (chatID int64, messageID int, ok bool) {
	if m.replyChatID == 0 || m.replyMessageID == 0 {
		return 0, 0, false
	}
	return m.replyChatID, m.replyMessageID, true
}

// SetReplySource records the reply source. It reports false when the
// source was already set or the coordinates are incomplete.
func (m *Message) SetReplySource(chatID int64, messageID int) bool {
	if chatID == 0 || messageID == 0 {
		return false
	}
	if _, _, set := m.ReplySource(); set {
		return false
	}
	m.replyChatID = chatID
	m.replyMessageID = messageID
	return true
}
