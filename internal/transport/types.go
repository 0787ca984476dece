// Package transport holds the platform-neutral shapes exchanged between the
// messaging adapter and the relay pipeline.
package transport

type UpdateKind string

const (
	UpdateMessage    UpdateKind = "message"
	UpdateEdited     UpdateKind = "edited"
	UpdateMembership UpdateKind = "membership"
	UpdateMigration  UpdateKind = "migration"
)

type Update struct {
	Kind       UpdateKind
	Message    *Message
	Membership *Membership
	Migration  *Migration
}

// Chat types as reported by the platform.
const (
	ChatPrivate    = "private"
	ChatGroup      = "group"
	ChatSupergroup = "supergroup"
	ChatChannel    = "channel"
)

type Chat struct {
	ID       int64
	Type     string
	Title    string
	Username string
}

type User struct {
	ID       int64
	IsBot    bool
	Username string
}

type Entity struct {
	Type          string
	Offset        int
	Length        int
	URL           string
	User          *User
	Language      string
	CustomEmojiID string
}

type File struct {
	FileID       string
	FileUniqueID string
	FileSize     int64
}

type PhotoSize struct {
	File
	Width  int
	Height int
}

type Video struct {
	File
	Width    int
	Height   int
	Duration int
}

type Animation struct {
	File
	Width    int
	Height   int
	Duration int
}

type Audio struct {
	File
	Duration  int
	Performer string
	Title     string
	FileName  string
}

type Document struct {
	File
	FileName string
}

type Voice struct {
	File
	Duration int
}

type VideoNote struct {
	File
	Length   int
	Duration int
}

type Sticker struct {
	File
}

// Message is an inbound message or channel post. At most one content field
// is populated by the platform.
type Message struct {
	ID           int
	Chat         Chat
	From         *User // nil for anonymous channel posts
	ReplyTo      *Message
	MediaGroupID string

	Text              string
	Entities          []Entity
	Caption           string
	CaptionEntities   []Entity
	CaptionAboveMedia bool
	HasMediaSpoiler   bool

	Photo     []PhotoSize
	Video     *Video
	Animation *Animation
	Audio     *Audio
	Document  *Document
	Voice     *Voice
	VideoNote *VideoNote
	Sticker   *Sticker
	PaidMedia bool
}

// Membership statuses of the bot itself in a chat.
const (
	StatusMember        = "member"
	StatusAdministrator = "administrator"
	StatusKicked        = "kicked"
	StatusLeft          = "left"
)

// Membership reports a change of the bot's own status in a chat.
type Membership struct {
	Chat   Chat
	Status string
}

// Migration reports a group upgraded to a supergroup with a new identity.
type Migration struct {
	From int64
	To   int64
}
