// Package ratelimit gates outbound sends.
//
// Acquire passes three layers in order: the circuit breaker (process-wide
// and per-destination pauses), the cache-backed global sliding window, and
// the per-destination cooldown. Failure reports from the caller feed the
// breaker.
package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"relaybot/internal/transport"
	"relaybot/pkg/logx"
)

const (
	DefaultGlobalLimit     = 25
	DefaultWindow          = time.Second
	DefaultGroupCooldown   = 3 * time.Second
	DefaultPrivateCooldown = time.Second
	DefaultMinWait         = 50 * time.Millisecond
)

// Store holds the state shared across processes.
type Store interface {
	AcquireGlobalToken(ctx context.Context, now time.Time, window time.Duration, limit int) (bool, time.Time, error)
	// ReserveSend claims the chat's next send slot, at least gap after the
	// previous claim, and returns it.
	ReserveSend(ctx context.Context, chatID int64, now time.Time, gap time.Duration) (time.Time, error)
}

type Config struct {
	GlobalLimit     int
	Window          time.Duration
	GroupCooldown   time.Duration
	PrivateCooldown time.Duration
	MinWait         time.Duration
	Breaker         BreakerConfig
}

func (c Config) withDefaults() Config {
	if c.GlobalLimit <= 0 {
		c.GlobalLimit = DefaultGlobalLimit
	}
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	if c.GroupCooldown <= 0 {
		c.GroupCooldown = DefaultGroupCooldown
	}
	if c.PrivateCooldown <= 0 {
		c.PrivateCooldown = DefaultPrivateCooldown
	}
	if c.MinWait <= 0 {
		c.MinWait = DefaultMinWait
	}
	c.Breaker = c.Breaker.withDefaults()
	return c
}

type Limiter struct {
	cfg     Config
	store   Store
	log     logx.Logger
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
	limit   atomic.Int64
	breaker *Breaker

	// local paces sends while the shared window is unreachable.
	local *rate.Limiter

	mu    sync.Mutex
	slots map[int64]time.Time // cooldown claims while the cache is unreachable
}

type Option func(*Limiter)

// WithClock replaces the time source and the sleep function. Tests use it
// to run the limiter on simulated time.
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
		if sleep != nil {
			l.sleep = sleep
		}
	}
}

func New(cfg Config, store Store, log logx.Logger, opts ...Option) *Limiter {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	l := &Limiter{cfg: cfg, store: store, log: log, now: time.Now, sleep: sleepCtx, slots: map[int64]time.Time{}}
	for _, o := range opts {
		o(l)
	}
	l.limit.Store(int64(cfg.GlobalLimit))
	l.local = rate.NewLimiter(l.localRate(cfg.GlobalLimit), 1)
	l.breaker = newBreaker(cfg.Breaker, l.now)
	return l
}

// SetGlobalLimit changes the global cap at runtime. Non-positive values are ignored.
func (l *Limiter) SetGlobalLimit(n int) {
	if n <= 0 {
		return
	}
	if old := l.limit.Swap(int64(n)); old != int64(n) {
		l.local.SetLimit(l.localRate(n))
		l.log.Info("global rate limit changed", logx.Int64("from", old), logx.Int("to", n))
	}
}

func (l *Limiter) localRate(limit int) rate.Limit {
	return rate.Every(l.cfg.Window / time.Duration(limit))
}

func (l *Limiter) GlobalLimit() int { return int(l.limit.Load()) }

// Cooldown is the minimum gap between two sends to a chat of the given type.
func (l *Limiter) Cooldown(chatType string) time.Duration {
	switch chatType {
	case transport.ChatGroup, transport.ChatSupergroup:
		return l.cfg.GroupCooldown
	default:
		return l.cfg.PrivateCooldown
	}
}

// Acquire blocks until a send to chatID is permitted. It only returns an
// error when ctx ends.
func (l *Limiter) Acquire(ctx context.Context, chatID int64, chatType string) error {
	if err := l.waitBreaker(ctx, chatID); err != nil {
		return err
	}
	if err := l.acquireGlobal(ctx); err != nil {
		return err
	}
	return l.waitCooldown(ctx, chatID, l.Cooldown(chatType))
}

func (l *Limiter) waitBreaker(ctx context.Context, chatID int64) error {
	if until, ok := l.breaker.globalPause(); ok {
		if d := until.Sub(l.now()); d > 0 {
			l.log.Debug("global pause active", logx.Duration("wait", d))
			if err := l.sleep(ctx, d); err != nil {
				return err
			}
		}
	}
	if until, ok := l.breaker.destPause(chatID); ok {
		if d := until.Sub(l.now()); d > 0 {
			l.log.Debug("destination paused", logx.Int64("chat_id", chatID), logx.Duration("wait", d))
			if err := l.sleep(ctx, d); err != nil {
				return err
			}
		}
	}
	return nil
}

func (l *Limiter) acquireGlobal(ctx context.Context) error {
	for {
		now := l.now()
		ok, oldest, err := l.store.AcquireGlobalToken(ctx, now, l.cfg.Window, l.GlobalLimit())
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// cache outage: every worker shares one in-process limiter
			l.log.Warn("global window unavailable", logx.Err(err))
			return l.local.Wait(ctx)
		}
		if ok {
			return nil
		}
		wait := l.cfg.Window - now.Sub(oldest)
		if wait < l.cfg.MinWait {
			wait = l.cfg.MinWait
		}
		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// waitCooldown claims the chat's next send slot and sleeps until it. Each
// claim is at least gap after the previous one, so workers sending to the
// same chat are admitted one gap apart.
func (l *Limiter) waitCooldown(ctx context.Context, chatID int64, gap time.Duration) error {
	now := l.now()
	slot, err := l.store.ReserveSend(ctx, chatID, now, gap)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		l.log.Warn("cooldown claim failed; using local slots", logx.Int64("chat_id", chatID), logx.Err(err))
		slot = l.reserveLocal(chatID, now, gap)
	}
	if d := slot.Sub(now); d > 0 {
		return l.sleep(ctx, d)
	}
	return nil
}

func (l *Limiter) reserveLocal(chatID int64, now time.Time, gap time.Duration) time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	slot := now
	if next := l.slots[chatID].Add(gap); next.After(slot) {
		slot = next
	}
	l.slots[chatID] = slot
	for id, at := range l.slots {
		if now.Sub(at) > time.Minute {
			delete(l.slots, id)
		}
	}
	return slot
}

// ReportSuccess clears the destination's consecutive error count.
func (l *Limiter) ReportSuccess(chatID int64) { l.breaker.success(chatID) }

// ReportError counts one failed send and pauses the destination once it trips.
func (l *Limiter) ReportError(chatID int64) {
	if until, tripped := l.breaker.failure(chatID); tripped {
		l.log.Warn("destination paused after repeated errors", logx.Int64("chat_id", chatID), logx.Time("until", until))
	}
}

// Report429 records one platform throttle signal.
func (l *Limiter) Report429(retryAfter time.Duration) {
	if until, tripped := l.breaker.throttled(); tripped {
		l.log.Warn("global pause after repeated throttling", logx.Duration("retry_after", retryAfter), logx.Time("until", until))
	}
}

// Paused reports whether the process-wide pause is active.
func (l *Limiter) Paused() bool {
	_, ok := l.breaker.globalPause()
	return ok
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
