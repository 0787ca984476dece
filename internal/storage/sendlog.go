package storage

import (
	"context"
	"errors"
	"time"
)

// SendLogRetention is how long send records stay resolvable.
const SendLogRetention = 48 * time.Hour

type SendLogRepo struct{ base }

func (r *SendLogRepo) Record(ctx context.Context, rec SendRecord) error {
	if rec.SentAt.IsZero() {
		rec.SentAt = r.now()
	}
	_, err := r.g.exec(ctx, `
		INSERT INTO send_log (source_chat_id, source_message_id, source_user_id, dest_chat_id, dest_message_id, sent_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rec.SourceChatID, rec.SourceMessageID, rec.SourceUserID, rec.DestChatID, rec.DestMessageID, rec.SentAt.UTC(),
	)
	return err
}

// ResolveDest finds the copy of a source message in one destination.
func (r *SendLogRepo) ResolveDest(ctx context.Context, sourceChatID int64, sourceMessageID int, destChatID int64) (int, bool, error) {
	var id int
	err := r.g.get(ctx, &id, `
		SELECT dest_message_id FROM send_log
		WHERE source_chat_id = ? AND source_message_id = ? AND dest_chat_id = ?
		ORDER BY id DESC LIMIT 1`,
		sourceChatID, sourceMessageID, destChatID)
	return found(id, err)
}

// ReverseLookup maps a message the bot sent back to its source coordinates.
func (r *SendLogRepo) ReverseLookup(ctx context.Context, destChatID int64, destMessageID int) (chatID int64, messageID int, ok bool, err error) {
	var row struct {
		ChatID    int64 `db:"source_chat_id"`
		MessageID int   `db:"source_message_id"`
	}
	err = r.g.get(ctx, &row, `
		SELECT source_chat_id, source_message_id FROM send_log
		WHERE dest_chat_id = ? AND dest_message_id = ?
		LIMIT 1`,
		destChatID, destMessageID)
	if errors.Is(err, ErrNotFound) {
		return 0, 0, false, nil
	}
	if err != nil {
		return 0, 0, false, err
	}
	return row.ChatID, row.MessageID, true, nil
}

// PruneBefore deletes records sent before cutoff and returns how many went.
func (r *SendLogRepo) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return r.g.exec(ctx, `DELETE FROM send_log WHERE sent_at < ?`, cutoff.UTC())
}

func found[T any](v T, err error) (T, bool, error) {
	var zero T
	if errors.Is(err, ErrNotFound) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, err
	}
	return v, true, nil
}
