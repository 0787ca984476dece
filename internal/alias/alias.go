// Package alias assigns every sender a stable, readable pseudonym.
package alias

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"relaybot/pkg/logx"
)

const (
	DefaultCacheTTL = time.Hour
	maxAttempts     = 10
)

type Cache interface {
	Alias(ctx context.Context, userID int64) (string, bool, error)
	SetAlias(ctx context.Context, userID int64, alias string, ttl time.Duration) error
}

type Repo interface {
	Get(ctx context.Context, userID int64) (string, bool, error)
	Claim(ctx context.Context, userID int64, alias string) (bool, error)
}

type Resolver struct {
	cache Cache
	repo  Repo
	ttl   time.Duration
	log   logx.Logger
	pick  func(n int) int
}

func New(cache Cache, repo Repo, ttl time.Duration, log logx.Logger) *Resolver {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Resolver{cache: cache, repo: repo, ttl: ttl, log: log, pick: rand.Intn}
}

// Alias returns the user's pseudonym, creating one on first use.
func (r *Resolver) Alias(ctx context.Context, userID int64) (string, error) {
	if a, ok, err := r.cache.Alias(ctx, userID); err != nil {
		r.log.Debug("alias cache read failed", logx.Int64("user_id", userID), logx.Err(err))
	} else if ok {
		return a, nil
	}

	a, err := r.getOrCreate(ctx, userID)
	if err != nil {
		return "", err
	}
	if err := r.cache.SetAlias(ctx, userID, a, r.ttl); err != nil {
		r.log.Debug("alias cache write failed", logx.Int64("user_id", userID), logx.Err(err))
	}
	return a, nil
}

func (r *Resolver) getOrCreate(ctx context.Context, userID int64) (string, error) {
	if a, ok, err := r.repo.Get(ctx, userID); err != nil || ok {
		return a, err
	}
	for i := 0; i < maxAttempts; i++ {
		a := r.generate()
		ok, err := r.repo.Claim(ctx, userID, a)
		if err != nil {
			return "", err
		}
		if ok {
			r.log.Debug("alias assigned", logx.Int64("user_id", userID), logx.String("alias", a))
			return a, nil
		}
		// lost a race for this user, or the alias is taken
		if cur, ok, err := r.repo.Get(ctx, userID); err != nil || ok {
			return cur, err
		}
	}

	a := fmt.Sprintf("%s_%d", adjectives[r.pick(len(adjectives))], userID%9999)
	ok, err := r.repo.Claim(ctx, userID, a)
	if err != nil {
		return "", err
	}
	if !ok {
		cur, found, err := r.repo.Get(ctx, userID)
		if err != nil {
			return "", err
		}
		if !found {
			return "", fmt.Errorf("alias: no free pseudonym for user %d", userID)
		}
		return cur, nil
	}
	return a, nil
}

func (r *Resolver) generate() string {
	return adjectives[r.pick(len(adjectives))] + "_" + nouns[r.pick(len(nouns))]
}
