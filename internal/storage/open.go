package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sony/gobreaker"

	"relaybot/pkg/logx"
)

// Store owns the connection pool and exposes one repository per table.
type Store struct {
	db     *sqlx.DB
	g      *guard
	driver string
	log    logx.Logger

	Chats         *ChatRepo
	SendLog       *SendLogRepo
	Subscriptions *SubscriptionRepo
	Restrictions  *RestrictionRepo
	Aliases       *AliasRepo
	Settings      *SettingsRepo
}

// Open connects to the configured database. It does not migrate.
func Open(ctx context.Context, cfg Config, guardCfg GuardConfig, log logx.Logger) (*Store, error) {
	driver := normalizeDriver(cfg.Driver)
	if driver == "" {
		return nil, ErrDisabled
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	var (
		db  *sqlx.DB
		err error
	)
	switch driver {
	case "postgres":
		db, err = openPostgres(ctx, cfg)
	case "sqlite":
		db, err = openSQLite(ctx, cfg)
	default:
		return nil, errors.New("unknown storage driver: " + cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	log.Info("database connected", logx.String("driver", driver))
	return newStore(db, driver, guardCfg, log), nil
}

// NewWithDB wraps an existing connection. driver selects the SQL dialect.
func NewWithDB(db *sql.DB, driver string, guardCfg GuardConfig, log logx.Logger) *Store {
	driver = normalizeDriver(driver)
	if log.IsZero() {
		log = logx.Nop()
	}
	return newStore(sqlx.NewDb(db, driver), driver, guardCfg, log)
}

func newStore(db *sqlx.DB, driver string, guardCfg GuardConfig, log logx.Logger) *Store {
	g := newGuard(db, guardCfg, log)
	b := base{g: g, now: func() time.Time { return time.Now().UTC() }}
	return &Store{
		db:            db,
		g:             g,
		driver:        driver,
		log:           log,
		Chats:         &ChatRepo{base: b},
		SendLog:       &SendLogRepo{base: b},
		Subscriptions: &SubscriptionRepo{base: b},
		Restrictions:  &RestrictionRepo{base: b},
		Aliases:       &AliasRepo{base: b},
		Settings:      &SettingsRepo{base: b},
	}
}

func normalizeDriver(d string) string {
	switch strings.ToLower(strings.TrimSpace(d)) {
	case "", "none":
		return ""
	case "postgres", "postgresql", "pq":
		return "postgres"
	case "sqlite", "sqlite3":
		return "sqlite"
	default:
		return strings.ToLower(strings.TrimSpace(d))
	}
}

func (s *Store) Driver() string { return s.driver }

func (s *Store) Ping(ctx context.Context) error {
	return s.g.run(func() error { return s.db.PingContext(ctx) })
}

// Healthy reports whether the database breaker is closed.
func (s *Store) Healthy() bool { return s.g.state() != gobreaker.StateOpen }

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// base is shared by every repository.
type base struct {
	g   *guard
	now func() time.Time
}
