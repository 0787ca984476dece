package storage

import (
	"context"
	"time"
)

type SubscriptionRepo struct{ base }

const subColumns = `id, chat_id, user_id, plan, starts_at, expires_at, charge_id, created_at`

// Active returns the latest unexpired subscription of a chat.
func (r *SubscriptionRepo) Active(ctx context.Context, chatID int64) (Subscription, bool, error) {
	var s Subscription
	err := r.g.get(ctx, &s, `
		SELECT `+subColumns+` FROM subscriptions
		WHERE chat_id = ? AND expires_at > ?
		ORDER BY expires_at DESC LIMIT 1`,
		chatID, r.now())
	return found(s, err)
}

// Grant adds days of subscription. A grant on top of an active subscription
// starts when that one expires.
func (r *SubscriptionRepo) Grant(ctx context.Context, chatID, userID int64, plan string, days int, chargeID string) (Subscription, error) {
	now := r.now()
	start := now
	cur, ok, err := r.Active(ctx, chatID)
	if err != nil {
		return Subscription{}, err
	}
	if ok && cur.ExpiresAt.After(now) {
		start = cur.ExpiresAt.UTC()
	}
	s := Subscription{
		ChatID:    chatID,
		UserID:    userID,
		Plan:      plan,
		StartsAt:  start,
		ExpiresAt: start.Add(time.Duration(days) * 24 * time.Hour),
		ChargeID:  chargeID,
		CreatedAt: now,
	}
	_, err = r.g.exec(ctx, `
		INSERT INTO subscriptions (chat_id, user_id, plan, starts_at, expires_at, charge_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.ChatID, s.UserID, s.Plan, s.StartsAt, s.ExpiresAt, s.ChargeID, s.CreatedAt)
	return s, err
}

// Revoke expires every active subscription of a chat now.
func (r *SubscriptionRepo) Revoke(ctx context.Context, chatID int64) (bool, error) {
	now := r.now()
	n, err := r.g.exec(ctx, `UPDATE subscriptions SET expires_at = ? WHERE chat_id = ? AND expires_at > ?`, now, chatID, now)
	return n > 0, err
}

// ExpiringTrials lists active chats without a subscription whose trial of
// trialDays ends within the day that starts daysBefore days from now.
func (r *SubscriptionRepo) ExpiringTrials(ctx context.Context, trialDays, daysBefore int) ([]Chat, error) {
	now := r.now()
	target := now.Add(time.Duration(daysBefore) * 24 * time.Hour)
	upper := target.Add(-time.Duration(trialDays) * 24 * time.Hour)
	lower := upper.Add(-24 * time.Hour)
	var out []Chat
	err := r.g.sel(ctx, &out, `
		SELECT `+chatColumns+` FROM chats c
		WHERE c.active = ? AND c.registered_at > ? AND c.registered_at <= ?
		AND NOT EXISTS (SELECT 1 FROM subscriptions s WHERE s.chat_id = c.chat_id AND s.expires_at > ?)
		ORDER BY c.chat_id`,
		true, lower, upper, now)
	return out, err
}
