package ratelimit

import (
	"sync"
	"time"
)

type BreakerConfig struct {
	// ErrorTrip consecutive errors pause a destination for DestPause.
	ErrorTrip int
	DestPause time.Duration
	// ThrottleTrip throttle signals within ThrottleWindow pause everything for GlobalPause.
	ThrottleTrip   int
	ThrottleWindow time.Duration
	GlobalPause    time.Duration
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.ErrorTrip <= 0 {
		c.ErrorTrip = 3
	}
	if c.DestPause <= 0 {
		c.DestPause = 5 * time.Minute
	}
	if c.ThrottleTrip <= 0 {
		c.ThrottleTrip = 5
	}
	if c.ThrottleWindow <= 0 {
		c.ThrottleWindow = time.Minute
	}
	if c.GlobalPause <= 0 {
		c.GlobalPause = 30 * time.Second
	}
	return c
}

// destState tracks consecutive failures for one destination.
type destState struct {
	fails     int
	openUntil time.Time
}

// Breaker is process-local. Its state is lost on restart.
type Breaker struct {
	cfg BreakerConfig
	now func() time.Time

	mu          sync.Mutex
	dests       map[int64]*destState
	throttles   []time.Time
	pausedUntil time.Time
}

func newBreaker(cfg BreakerConfig, now func() time.Time) *Breaker {
	return &Breaker{cfg: cfg.withDefaults(), now: now, dests: make(map[int64]*destState)}
}

func (b *Breaker) globalPause() (time.Time, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.pausedUntil.IsZero() && b.now().Before(b.pausedUntil) {
		return b.pausedUntil, true
	}
	return time.Time{}, false
}

func (b *Breaker) destPause(chatID int64) (time.Time, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := b.dests[chatID]
	if st == nil || st.openUntil.IsZero() {
		return time.Time{}, false
	}
	if !b.now().Before(st.openUntil) {
		st.openUntil = time.Time{}
		if st.fails == 0 {
			delete(b.dests, chatID)
		}
		return time.Time{}, false
	}
	return st.openUntil, true
}

func (b *Breaker) success(chatID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if st := b.dests[chatID]; st != nil {
		st.fails = 0
		if st.openUntil.IsZero() {
			delete(b.dests, chatID)
		}
	}
}

func (b *Breaker) failure(chatID int64) (time.Time, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := b.dests[chatID]
	if st == nil {
		st = &destState{}
		b.dests[chatID] = st
	}
	st.fails++
	if st.fails < b.cfg.ErrorTrip {
		return time.Time{}, false
	}
	st.fails = 0
	st.openUntil = b.now().Add(b.cfg.DestPause)
	return st.openUntil, true
}

func (b *Breaker) throttled() (time.Time, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	cutoff := now.Add(-b.cfg.ThrottleWindow)
	kept := b.throttles[:0]
	for _, t := range b.throttles {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	b.throttles = append(kept, now)
	if len(b.throttles) < b.cfg.ThrottleTrip {
		return time.Time{}, false
	}
	b.throttles = b.throttles[:0]
	b.pausedUntil = now.Add(b.cfg.GlobalPause)
	return b.pausedUntil, true
}

// snapshot returns the consecutive error count and pause deadline for a destination.
func (b *Breaker) snapshot(chatID int64) (int, time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if st := b.dests[chatID]; st != nil {
		return st.fails, st.openUntil
	}
	return 0, time.Time{}
}
