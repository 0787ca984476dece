package cache

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	keyDedup       = "dedup:"
	keyDedupGroup  = "dedup:mg:"
	keyGroupBuffer = "mgbuf:"
	keyGroupLock   = "mglock:"
	keyGlobalRate  = "rate:global"
	keyChatRate    = "rate:chat:"
	keyMissed      = "missed:"
	keyNudge       = "nudge:"
	keyEntitlement = "sub:"
	keyAlias       = "alias:"
	keyRestriction = "restrict:"
	keyTrialRemind = "trial_remind:"
)

// MissedTTL keeps a day's missed counter around for the next day's nudge copy.
const MissedTTL = 48 * time.Hour

// cooldownGrace keeps a chat's last slot readable a little past its gap.
const cooldownGrace = 2 * time.Second

// Cache exposes the relay's cache operations. All key formats live here.
type Cache struct {
	b      Backend
	prefix string
}

// New wraps a backend. prefix namespaces every key, e.g. "relay:".
func New(b Backend, prefix string) *Cache {
	return &Cache{b: b, prefix: prefix}
}

func (c *Cache) k(parts ...string) string {
	return c.prefix + strings.Join(parts, "")
}

func id64(v int64) string { return strconv.FormatInt(v, 10) }

func (c *Cache) Ping(ctx context.Context) error { return c.b.Ping(ctx) }

func (c *Cache) Close() error { return c.b.Close() }

// MarkFingerprint reports whether fp was seen for the first time within ttl.
func (c *Cache) MarkFingerprint(ctx context.Context, fp string, ttl time.Duration) (first bool, err error) {
	return c.b.SetNX(ctx, c.k(keyDedup, fp), "1", ttl)
}

// MarkMediaGroup reports whether the album id was seen for the first time within ttl.
func (c *Cache) MarkMediaGroup(ctx context.Context, groupID string, ttl time.Duration) (first bool, err error) {
	return c.b.SetNX(ctx, c.k(keyDedupGroup, groupID), "1", ttl)
}

// BufferGroupItem appends an encoded album part and renews the group's
// activity lock.
func (c *Cache) BufferGroupItem(ctx context.Context, groupID string, item []byte, bufferTTL, lockTTL time.Duration) error {
	if err := c.b.Append(ctx, c.k(keyGroupBuffer, groupID), string(item), bufferTTL); err != nil {
		return err
	}
	return c.b.Set(ctx, c.k(keyGroupLock, groupID), "1", lockTTL)
}

// PendingGroups lists album ids that still have buffered parts.
func (c *Cache) PendingGroups(ctx context.Context) ([]string, error) {
	prefix := c.k(keyGroupBuffer)
	keys, err := c.b.Scan(ctx, prefix+"*")
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		ids = append(ids, strings.TrimPrefix(k, prefix))
	}
	return ids, nil
}

// GroupActive reports whether a part of the album arrived within the lock ttl.
func (c *Cache) GroupActive(ctx context.Context, groupID string) (bool, error) {
	return c.b.Exists(ctx, c.k(keyGroupLock, groupID))
}

// PopGroup takes every buffered part of the album and clears the buffer.
func (c *Cache) PopGroup(ctx context.Context, groupID string) ([][]byte, error) {
	raw, err := c.b.PopAll(ctx, c.k(keyGroupBuffer, groupID))
	if err != nil {
		return nil, err
	}
	out := make([][]byte, 0, len(raw))
	for _, r := range raw {
		out = append(out, []byte(r))
	}
	return out, nil
}

// AcquireGlobalToken tries to take one slot of the process-shared sliding
// window. When refused it returns the time the oldest slot was taken.
func (c *Cache) AcquireGlobalToken(ctx context.Context, now time.Time, window time.Duration, limit int) (bool, time.Time, error) {
	return c.b.WindowAdd(ctx, c.k(keyGlobalRate), uuid.NewString(), now, window, limit)
}

// ReserveSend claims the chat's next send slot at least gap after the
// previous claim. Concurrent callers get distinct slots.
func (c *Cache) ReserveSend(ctx context.Context, chatID int64, now time.Time, gap time.Duration) (time.Time, error) {
	return c.b.Reserve(ctx, c.k(keyChatRate, id64(chatID)), now, gap, gap+cooldownGrace)
}

func dayKey(day time.Time) string { return day.UTC().Format("20060102") }

// IncrMissed bumps the chat's missed counter for the UTC day of at.
func (c *Cache) IncrMissed(ctx context.Context, chatID int64, at time.Time) (int64, error) {
	return c.b.Incr(ctx, c.k(keyMissed, id64(chatID), ":", dayKey(at)), MissedTTL)
}

func (c *Cache) Missed(ctx context.Context, chatID int64, at time.Time) (int64, error) {
	v, err := c.b.Get(ctx, c.k(keyMissed, id64(chatID), ":", dayKey(at)))
	if errors.Is(err, ErrMiss) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(v, 10, 64)
}

// MarkNudge reports whether no nudge was sent to the chat within ttl, and
// claims the slot when so.
func (c *Cache) MarkNudge(ctx context.Context, chatID int64, ttl time.Duration) (bool, error) {
	return c.b.SetNX(ctx, c.k(keyNudge, id64(chatID)), "1", ttl)
}

// Entitlement returns the cached entitlement decision for a chat.
func (c *Cache) Entitlement(ctx context.Context, chatID int64) (entitled, cached bool, err error) {
	v, err := c.b.Get(ctx, c.k(keyEntitlement, id64(chatID)))
	if errors.Is(err, ErrMiss) {
		return false, false, nil
	}
	if err != nil {
		return false, false, err
	}
	return v == "1", true, nil
}

func (c *Cache) SetEntitlement(ctx context.Context, chatID int64, entitled bool, ttl time.Duration) error {
	v := "0"
	if entitled {
		v = "1"
	}
	return c.b.Set(ctx, c.k(keyEntitlement, id64(chatID)), v, ttl)
}

func (c *Cache) InvalidateEntitlement(ctx context.Context, chatID int64) error {
	return c.b.Del(ctx, c.k(keyEntitlement, id64(chatID)))
}

func (c *Cache) Alias(ctx context.Context, userID int64) (string, bool, error) {
	v, err := c.b.Get(ctx, c.k(keyAlias, id64(userID)))
	if errors.Is(err, ErrMiss) {
		return "", false, nil
	}
	return v, err == nil, err
}

func (c *Cache) SetAlias(ctx context.Context, userID int64, alias string, ttl time.Duration) error {
	return c.b.Set(ctx, c.k(keyAlias, id64(userID)), alias, ttl)
}

// Restriction returns the cached restriction label ("muted", "banned" or "none").
func (c *Cache) Restriction(ctx context.Context, userID int64) (string, bool, error) {
	v, err := c.b.Get(ctx, c.k(keyRestriction, id64(userID)))
	if errors.Is(err, ErrMiss) {
		return "", false, nil
	}
	return v, err == nil, err
}

func (c *Cache) SetRestriction(ctx context.Context, userID int64, label string, ttl time.Duration) error {
	return c.b.Set(ctx, c.k(keyRestriction, id64(userID)), label, ttl)
}

func (c *Cache) InvalidateRestriction(ctx context.Context, userID int64) error {
	return c.b.Del(ctx, c.k(keyRestriction, id64(userID)))
}

// MarkTrialReminder claims the reminder for (chat, daysLeft) once within ttl.
func (c *Cache) MarkTrialReminder(ctx context.Context, chatID int64, daysLeft int, ttl time.Duration) (bool, error) {
	return c.b.SetNX(ctx, c.k(keyTrialRemind, id64(chatID), ":", strconv.Itoa(daysLeft)), "1", ttl)
}
