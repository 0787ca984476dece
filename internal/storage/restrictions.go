package storage

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
)

type RestrictionRepo struct{ base }

// Active returns the most severe live restriction of a user: a ban before a
// mute, ignoring expired rows.
func (r *RestrictionRepo) Active(ctx context.Context, userID int64) (Restriction, bool, error) {
	var rs Restriction
	err := r.g.get(ctx, &rs, `
		SELECT id, user_id, kind, restricted_by, restricted_at, expires_at, active
		FROM user_restrictions
		WHERE user_id = ? AND active = ? AND (expires_at IS NULL OR expires_at > ?)
		ORDER BY kind ASC, id DESC LIMIT 1`,
		userID, true, r.now())
	return found(rs, err)
}

// Restrict replaces any active restriction of the same kind.
func (r *RestrictionRepo) Restrict(ctx context.Context, userID int64, kind string, by int64, expiresAt *time.Time) error {
	now := r.now()
	return r.g.tx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE user_restrictions SET active = ? WHERE user_id = ? AND kind = ? AND active = ?`),
			false, userID, kind, true); err != nil {
			return err
		}
		var exp any
		if expiresAt != nil {
			exp = expiresAt.UTC()
		}
		_, err := tx.ExecContext(ctx, tx.Rebind(`
			INSERT INTO user_restrictions (user_id, kind, restricted_by, restricted_at, expires_at, active)
			VALUES (?, ?, ?, ?, ?, ?)`),
			userID, kind, by, now, exp, true)
		return err
	})
}

// Lift deactivates every active restriction of kind. It reports whether any was lifted.
func (r *RestrictionRepo) Lift(ctx context.Context, userID int64, kind string) (bool, error) {
	n, err := r.g.exec(ctx, `UPDATE user_restrictions SET active = ? WHERE user_id = ? AND kind = ? AND active = ?`,
		false, userID, kind, true)
	return n > 0, err
}
