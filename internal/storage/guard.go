package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sony/gobreaker"

	"relaybot/pkg/logx"
)

// ErrUnavailable is returned while the database breaker is open.
var ErrUnavailable = errors.New("storage: database unavailable")

type GuardConfig struct {
	MaxRequests uint32
	Interval    time.Duration
	Timeout     time.Duration
	// MinRequests failures in a row open the breaker.
	MinRequests uint32
}

func (c GuardConfig) withDefaults() GuardConfig {
	if c.MaxRequests == 0 {
		c.MaxRequests = 3
	}
	if c.Interval <= 0 {
		c.Interval = time.Minute
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MinRequests == 0 {
		c.MinRequests = 5
	}
	return c
}

// guard runs database calls through a gobreaker circuit. Missing rows are
// a result, not a failure, and never count against the breaker.
type guard struct {
	db *sqlx.DB
	cb *gobreaker.CircuitBreaker
}

func newGuard(db *sqlx.DB, cfg GuardConfig, log logx.Logger) *guard {
	cfg = cfg.withDefaults()
	st := gobreaker.Settings{
		Name:        "database",
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= cfg.MinRequests
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("database breaker state changed", logx.String("from", from.String()), logx.String("to", to.String()))
		},
	}
	return &guard{db: db, cb: gobreaker.NewCircuitBreaker(st)}
}

func (g *guard) run(fn func() error) error {
	var notFound bool
	_, err := g.cb.Execute(func() (interface{}, error) {
		err := fn()
		if errors.Is(err, sql.ErrNoRows) {
			notFound = true
			return nil, nil
		}
		return nil, err
	})
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return ErrUnavailable
	case err != nil:
		return err
	case notFound:
		return ErrNotFound
	}
	return nil
}

func (g *guard) get(ctx context.Context, dest any, q string, args ...any) error {
	return g.run(func() error { return g.db.GetContext(ctx, dest, g.db.Rebind(q), args...) })
}

func (g *guard) sel(ctx context.Context, dest any, q string, args ...any) error {
	return g.run(func() error { return g.db.SelectContext(ctx, dest, g.db.Rebind(q), args...) })
}

func (g *guard) exec(ctx context.Context, q string, args ...any) (int64, error) {
	var n int64
	err := g.run(func() error {
		res, err := g.db.ExecContext(ctx, g.db.Rebind(q), args...)
		if err != nil {
			return err
		}
		n, _ = res.RowsAffected()
		return nil
	})
	return n, err
}

// tx runs fn in one transaction, rolled back on error.
func (g *guard) tx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	return g.run(func() error {
		tx, err := g.db.BeginTxx(ctx, nil)
		if err != nil {
			return err
		}
		if err := fn(tx); err != nil {
			_ = tx.Rollback()
			return err
		}
		return tx.Commit()
	})
}

func (g *guard) state() gobreaker.State { return g.cb.State() }
