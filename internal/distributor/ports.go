package distributor

import (
	"context"
	"time"

	"relaybot/internal/storage"
)

// Registry is the chat registry view the distributor needs.
type Registry interface {
	ActiveDestinations(ctx context.Context) ([]storage.Chat, error)
	Deactivate(ctx context.Context, chatID int64) error
	RemapIdentity(ctx context.Context, oldID, newID int64) error
}

// SendLog maps source messages to their per-destination copies.
type SendLog interface {
	Record(ctx context.Context, rec storage.SendRecord) error
	ResolveDest(ctx context.Context, sourceChatID int64, sourceMessageID int, destChatID int64) (int, bool, error)
}

// Entitlements decides which destinations may receive cross-chat content.
type Entitlements interface {
	IsEntitled(ctx context.Context, chat storage.Chat) (bool, error)
	// RecordMissed counts a withheld message and reports whether a nudge is due.
	RecordMissed(ctx context.Context, chatID int64) (missed int64, nudge bool, err error)
	Nudge(ctx context.Context, chatID int64, missed int64) error
}

type Settings interface {
	Paused(ctx context.Context) (bool, error)
	// Signature returns the signature to append, empty for none.
	Signature(ctx context.Context) (string, error)
}

type Aliases interface {
	Alias(ctx context.Context, userID int64) (string, error)
}

// Limiter is satisfied by *ratelimit.Limiter.
type Limiter interface {
	Acquire(ctx context.Context, chatID int64, chatType string) error
	ReportSuccess(chatID int64)
	ReportError(chatID int64)
	Report429(retryAfter time.Duration)
}

// Recorder observes the queue and send outcomes.
type Recorder interface {
	QueueSize(n int)
	SendOutcome(outcome string)
}

type nopRecorder struct{}

func (nopRecorder) QueueSize(int)      {}
func (nopRecorder) SendOutcome(string) {}
