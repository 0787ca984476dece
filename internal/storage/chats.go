package storage

import (
	"context"
	"errors"

	"github.com/jmoiron/sqlx"
)

type ChatRepo struct{ base }

const chatColumns = `chat_id, chat_type, title, username, allow_self_send, active, is_source, is_destination, registered_at`

// Upsert registers a chat or reactivates and refreshes a known one. The
// registration time and the routing flags of a known chat are kept.
func (r *ChatRepo) Upsert(ctx context.Context, c Chat) error {
	now := r.now()
	if c.RegisteredAt.IsZero() {
		c.RegisteredAt = now
	}
	_, err := r.g.exec(ctx, `
		INSERT INTO chats (chat_id, chat_type, title, username, allow_self_send, active, is_source, is_destination, registered_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (chat_id) DO UPDATE SET
			chat_type = excluded.chat_type,
			title = excluded.title,
			username = excluded.username,
			active = excluded.active,
			updated_at = excluded.updated_at`,
		c.ID, c.Type, c.Title, c.Username, false, true, true, true, c.RegisteredAt, now,
	)
	return err
}

func (r *ChatRepo) Get(ctx context.Context, chatID int64) (Chat, error) {
	var c Chat
	err := r.g.get(ctx, &c, `SELECT `+chatColumns+` FROM chats WHERE chat_id = ?`, chatID)
	return c, err
}

// Deactivate soft-deletes a chat.
func (r *ChatRepo) Deactivate(ctx context.Context, chatID int64) error {
	_, err := r.g.exec(ctx, `UPDATE chats SET active = ?, updated_at = ? WHERE chat_id = ?`, false, r.now(), chatID)
	return err
}

func (r *ChatRepo) ActiveDestinations(ctx context.Context) ([]Chat, error) {
	var out []Chat
	err := r.g.sel(ctx, &out, `SELECT `+chatColumns+` FROM chats WHERE active = ? AND is_destination = ? ORDER BY chat_id`, true, true)
	return out, err
}

// ListActive returns every active chat, sources and destinations alike.
func (r *ChatRepo) ListActive(ctx context.Context) ([]Chat, error) {
	var out []Chat
	err := r.g.sel(ctx, &out, `SELECT `+chatColumns+` FROM chats WHERE active = ? ORDER BY chat_id`, true)
	return out, err
}

func (r *ChatRepo) IsActiveSource(ctx context.Context, chatID int64) (bool, error) {
	var id int64
	err := r.g.get(ctx, &id, `SELECT chat_id FROM chats WHERE chat_id = ? AND active = ? AND is_source = ?`, chatID, true, true)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// SetAllowSelfSend toggles whether a chat receives its own content back.
func (r *ChatRepo) SetAllowSelfSend(ctx context.Context, chatID int64, allow bool) error {
	n, err := r.g.exec(ctx, `UPDATE chats SET allow_self_send = ?, updated_at = ? WHERE chat_id = ?`, allow, r.now(), chatID)
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return err
}

// RemapIdentity follows a chat that moved to a new id. When the new id is
// already registered the old record is deactivated; otherwise the old record
// is renamed and becomes a supergroup.
func (r *ChatRepo) RemapIdentity(ctx context.Context, oldID, newID int64) error {
	if oldID == newID {
		return nil
	}
	now := r.now()
	return r.g.tx(ctx, func(tx *sqlx.Tx) error {
		var n int
		if err := tx.GetContext(ctx, &n, tx.Rebind(`SELECT COUNT(*) FROM chats WHERE chat_id = ?`), newID); err != nil {
			return err
		}
		if n > 0 {
			_, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE chats SET active = ?, updated_at = ? WHERE chat_id = ?`), false, now, oldID)
			return err
		}
		_, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE chats SET chat_id = ?, chat_type = ?, updated_at = ? WHERE chat_id = ?`),
			newID, "supergroup", now, oldID)
		return err
	})
}
