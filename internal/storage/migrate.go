package storage

import (
	"context"
	"embed"
	"fmt"

	"relaybot/pkg/logx"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrate applies the schema for the store's driver. It is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations/" + s.driver + ".sql")
	if err != nil {
		return fmt.Errorf("no schema for driver %q: %w", s.driver, err)
	}
	if _, err := s.db.ExecContext(ctx, string(b)); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	s.log.Info("schema applied", logx.String("driver", s.driver))
	return nil
}
