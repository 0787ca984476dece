// Package moderation answers whether a user is muted or banned from relaying.
package moderation

import (
	"context"
	"time"

	"relaybot/internal/storage"
	"relaybot/pkg/logx"
)

type State string

const (
	None   State = "none"
	Muted  State = "muted"
	Banned State = "banned"
)

const DefaultCacheTTL = 5 * time.Minute

// Blocked reports whether content from the user must not be relayed.
func (s State) Blocked() bool { return s == Muted || s == Banned }

type Cache interface {
	Restriction(ctx context.Context, userID int64) (string, bool, error)
	SetRestriction(ctx context.Context, userID int64, label string, ttl time.Duration) error
	InvalidateRestriction(ctx context.Context, userID int64) error
}

type Repo interface {
	Active(ctx context.Context, userID int64) (storage.Restriction, bool, error)
	Restrict(ctx context.Context, userID int64, kind string, by int64, expiresAt *time.Time) error
	Lift(ctx context.Context, userID int64, kind string) (bool, error)
}

type Service struct {
	cache Cache
	repo  Repo
	ttl   time.Duration
	log   logx.Logger
}

func New(cache Cache, repo Repo, ttl time.Duration, log logx.Logger) *Service {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cache: cache, repo: repo, ttl: ttl, log: log}
}

func (s *Service) Restriction(ctx context.Context, userID int64) (State, error) {
	if v, ok, err := s.cache.Restriction(ctx, userID); err != nil {
		s.log.Debug("restriction cache read failed", logx.Int64("user_id", userID), logx.Err(err))
	} else if ok {
		return State(v), nil
	}

	r, ok, err := s.repo.Active(ctx, userID)
	if err != nil {
		return None, err
	}
	st := None
	if ok {
		st = stateOf(r.Kind)
	}
	if err := s.cache.SetRestriction(ctx, userID, string(st), s.ttl); err != nil {
		s.log.Debug("restriction cache write failed", logx.Int64("user_id", userID), logx.Err(err))
	}
	return st, nil
}

func stateOf(kind string) State {
	switch kind {
	case storage.RestrictBan:
		return Banned
	case storage.RestrictMute:
		return Muted
	}
	return None
}

// Mute restricts a user; a zero duration is permanent.
func (s *Service) Mute(ctx context.Context, userID, by int64, d time.Duration) error {
	return s.restrict(ctx, userID, storage.RestrictMute, by, d)
}

func (s *Service) Ban(ctx context.Context, userID, by int64) error {
	return s.restrict(ctx, userID, storage.RestrictBan, by, 0)
}

func (s *Service) restrict(ctx context.Context, userID int64, kind string, by int64, d time.Duration) error {
	var exp *time.Time
	if d > 0 {
		t := time.Now().UTC().Add(d)
		exp = &t
	}
	if err := s.repo.Restrict(ctx, userID, kind, by, exp); err != nil {
		return err
	}
	s.log.Info("user restricted", logx.Int64("user_id", userID), logx.String("kind", kind), logx.Int64("by", by))
	return s.cache.InvalidateRestriction(ctx, userID)
}

// Lift removes a restriction of the given kind. It reports false when none was active.
func (s *Service) Lift(ctx context.Context, userID int64, kind string) (bool, error) {
	ok, err := s.repo.Lift(ctx, userID, kind)
	if err != nil || !ok {
		return ok, err
	}
	return true, s.cache.InvalidateRestriction(ctx, userID)
}
