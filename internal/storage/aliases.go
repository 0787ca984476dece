package storage

import "context"

type AliasRepo struct{ base }

func (r *AliasRepo) Get(ctx context.Context, userID int64) (string, bool, error) {
	var a string
	err := r.g.get(ctx, &a, `SELECT alias FROM user_aliases WHERE user_id = ?`, userID)
	return found(a, err)
}

// Owner returns the user behind an alias.
func (r *AliasRepo) Owner(ctx context.Context, alias string) (int64, bool, error) {
	var id int64
	err := r.g.get(ctx, &id, `SELECT user_id FROM user_aliases WHERE alias = ?`, alias)
	return found(id, err)
}

// Claim stores alias for userID unless the user already has one. It reports
// false when nothing was written.
func (r *AliasRepo) Claim(ctx context.Context, userID int64, alias string) (bool, error) {
	n, err := r.g.exec(ctx, `
		INSERT INTO user_aliases (user_id, alias, created_at) VALUES (?, ?, ?)
		ON CONFLICT DO NOTHING`,
		userID, alias, r.now())
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// IsTaken reports whether alias belongs to anyone.
func (r *AliasRepo) IsTaken(ctx context.Context, alias string) (bool, error) {
	_, ok, err := r.Owner(ctx, alias)
	return ok, err
}
