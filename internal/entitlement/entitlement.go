// Package entitlement decides which chats may receive content from other
// chats, and handles the missed-message nudges and trial reminders for the
// ones that may not.
package entitlement

import (
	"context"
	"fmt"
	"slices"
	"time"

	"relaybot/internal/sender"
	"relaybot/internal/storage"
	"relaybot/pkg/logx"
)

const (
	DefaultTrialDays     = 30
	DefaultCacheTTL      = 5 * time.Minute
	DefaultNudgeCooldown = 24 * time.Hour
	reminderTTL          = 48 * time.Hour
)

// ReminderDays are the remaining trial days on which a reminder goes out.
var ReminderDays = []int{7, 3, 1}

type Cache interface {
	Entitlement(ctx context.Context, chatID int64) (entitled, cached bool, err error)
	SetEntitlement(ctx context.Context, chatID int64, entitled bool, ttl time.Duration) error
	InvalidateEntitlement(ctx context.Context, chatID int64) error
	IncrMissed(ctx context.Context, chatID int64, at time.Time) (int64, error)
	MarkNudge(ctx context.Context, chatID int64, ttl time.Duration) (bool, error)
	MarkTrialReminder(ctx context.Context, chatID int64, daysLeft int, ttl time.Duration) (bool, error)
}

type Subscriptions interface {
	Active(ctx context.Context, chatID int64) (storage.Subscription, bool, error)
	ExpiringTrials(ctx context.Context, trialDays, daysBefore int) ([]storage.Chat, error)
}

type Config struct {
	TrialDays     int
	AdminIDs      []int64
	CacheTTL      time.Duration
	NudgeCooldown time.Duration
}

type Service struct {
	cfg    Config
	cache  Cache
	subs   Subscriptions
	notify sender.Text
	log    logx.Logger
	now    func() time.Time
}

func New(cfg Config, cache Cache, subs Subscriptions, notify sender.Text, log logx.Logger) *Service {
	if cfg.TrialDays <= 0 {
		cfg.TrialDays = DefaultTrialDays
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if cfg.NudgeCooldown <= 0 {
		cfg.NudgeCooldown = DefaultNudgeCooldown
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, cache: cache, subs: subs, notify: notify, log: log, now: time.Now}
}

func (s *Service) isAdmin(chatID int64) bool { return slices.Contains(s.cfg.AdminIDs, chatID) }

// IsEntitled reports whether chat may receive cross-chat content: admins
// always, others during the trial or with an active subscription.
func (s *Service) IsEntitled(ctx context.Context, chat storage.Chat) (bool, error) {
	if s.isAdmin(chat.ID) {
		return true, nil
	}
	if ok, cached, err := s.cache.Entitlement(ctx, chat.ID); err != nil {
		s.log.Debug("entitlement cache read failed", logx.Int64("chat_id", chat.ID), logx.Err(err))
	} else if cached {
		return ok, nil
	}

	entitled := s.inTrial(chat.RegisteredAt)
	if !entitled {
		_, active, err := s.subs.Active(ctx, chat.ID)
		if err != nil {
			return false, err
		}
		entitled = active
	}
	if err := s.cache.SetEntitlement(ctx, chat.ID, entitled, s.cfg.CacheTTL); err != nil {
		s.log.Debug("entitlement cache write failed", logx.Int64("chat_id", chat.ID), logx.Err(err))
	}
	return entitled, nil
}

func (s *Service) inTrial(registeredAt time.Time) bool {
	if registeredAt.IsZero() {
		return false
	}
	return s.now().Before(registeredAt.Add(s.trial()))
}

func (s *Service) trial() time.Duration { return time.Duration(s.cfg.TrialDays) * 24 * time.Hour }

// TrialDaysRemaining is the number of whole trial days left, 0 once expired.
func (s *Service) TrialDaysRemaining(registeredAt time.Time) int {
	left := registeredAt.Add(s.trial()).Sub(s.now())
	if left <= 0 {
		return 0
	}
	return int(left / (24 * time.Hour))
}

// Invalidate drops the cached decision, e.g. after a grant.
func (s *Service) Invalidate(ctx context.Context, chatID int64) error {
	return s.cache.InvalidateEntitlement(ctx, chatID)
}

// RecordMissed counts one withheld message for today and reports whether the
// chat is due a nudge. The nudge gate is taken here, so a true result must be
// followed by Nudge.
func (s *Service) RecordMissed(ctx context.Context, chatID int64) (int64, bool, error) {
	n, err := s.cache.IncrMissed(ctx, chatID, s.now())
	if err != nil {
		return 0, false, err
	}
	due, err := s.cache.MarkNudge(ctx, chatID, s.cfg.NudgeCooldown)
	if err != nil {
		return n, false, err
	}
	return n, due, nil
}

func (s *Service) Nudge(ctx context.Context, chatID int64, missed int64) error {
	if s.notify == nil {
		return nil
	}
	return s.notify.SendText(ctx, chatID, NudgeText(missed))
}

// NudgeText tells a chat how much it missed today.
func NudgeText(missed int64) string {
	noun := "messages"
	if missed == 1 {
		noun = "message"
	}
	return fmt.Sprintf("🔒 You missed %d %s from your network today.\n\n"+
		"Premium includes cross-chat content, reply threading and sender aliases.", missed, noun)
}

// RemindTrials sends each chat whose trial ends in one of ReminderDays a
// reminder, at most once per chat and day count. It returns how many were sent.
func (s *Service) RemindTrials(ctx context.Context) (int, error) {
	sent := 0
	for _, days := range ReminderDays {
		chats, err := s.subs.ExpiringTrials(ctx, s.cfg.TrialDays, days)
		if err != nil {
			return sent, err
		}
		for _, c := range chats {
			if s.isAdmin(c.ID) {
				continue
			}
			first, err := s.cache.MarkTrialReminder(ctx, c.ID, days, reminderTTL)
			if err != nil {
				s.log.Warn("trial reminder gate failed", logx.Int64("chat_id", c.ID), logx.Err(err))
				continue
			}
			if !first || s.notify == nil {
				continue
			}
			if err := s.notify.SendText(ctx, c.ID, ReminderText(days)); err != nil {
				s.log.Debug("trial reminder failed", logx.Int64("chat_id", c.ID), logx.Err(err))
				continue
			}
			sent++
			s.log.Info("trial reminder sent", logx.Int64("chat_id", c.ID), logx.Int("days_left", days))
		}
	}
	return sent, nil
}

func ReminderText(daysLeft int) string {
	switch daysLeft {
	case 1:
		return "Last day of free access.\n\nAfter today, messages from other chats will pause. Your own messages keep flowing."
	case 3:
		return "Your free access ends in 3 days.\n\nAfter that you can still sync your own messages. Premium keeps your full network connected."
	default:
		return fmt.Sprintf("Heads up: your free access wraps up in %d days.\n\nEverything still works right now.", daysLeft)
	}
}
