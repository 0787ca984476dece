package storage

import (
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrNotFound = errors.New("storage: not found")
)

// Config configures storage.
//
// Driver values:
//   - "postgres": DSN is a lib/pq connection string or URL
//   - "sqlite": DSN is a database file path
type Config struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	BusyTimeout     time.Duration // sqlite only; 0 means default
}

// Chat is one registered chat.
type Chat struct {
	ID            int64     `db:"chat_id"`
	Type          string    `db:"chat_type"`
	Title         string    `db:"title"`
	Username      string    `db:"username"`
	AllowSelfSend bool      `db:"allow_self_send"`
	Active        bool      `db:"active"`
	IsSource      bool      `db:"is_source"`
	IsDestination bool      `db:"is_destination"`
	RegisteredAt  time.Time `db:"registered_at"`
}

// SendRecord links a source message to its copy in one destination.
type SendRecord struct {
	SourceChatID    int64     `db:"source_chat_id"`
	SourceMessageID int       `db:"source_message_id"`
	SourceUserID    int64     `db:"source_user_id"`
	DestChatID      int64     `db:"dest_chat_id"`
	DestMessageID   int       `db:"dest_message_id"`
	SentAt          time.Time `db:"sent_at"`
}

type Subscription struct {
	ID        int64     `db:"id"`
	ChatID    int64     `db:"chat_id"`
	UserID    int64     `db:"user_id"`
	Plan      string    `db:"plan"`
	StartsAt  time.Time `db:"starts_at"`
	ExpiresAt time.Time `db:"expires_at"`
	ChargeID  string    `db:"charge_id"`
	CreatedAt time.Time `db:"created_at"`
}

// Restriction kinds.
const (
	RestrictMute = "mute"
	RestrictBan  = "ban"
)

type Restriction struct {
	ID           int64      `db:"id"`
	UserID       int64      `db:"user_id"`
	Kind         string     `db:"kind"`
	RestrictedBy int64      `db:"restricted_by"`
	RestrictedAt time.Time  `db:"restricted_at"`
	ExpiresAt    *time.Time `db:"expires_at"` // nil is permanent
	Active       bool       `db:"active"`
}
