// Package localstore keeps device-local state in a SQLite file:
// the encrypted refresh token and a few settings.
package localstore

import (
	"context"
	"embed"
	"fmt"

	"github.com/dkeye/Beacon/internal/core"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
	migrate "github.com/rubenv/sql-migrate"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type Store struct {
	db     *sqlx.DB
	sealer *sealer
}

var _ core.SessionStore = (*Store)(nil)

// Open creates or migrates the database at path. secret keys the at-rest encryption.
func Open(ctx context.Context, path, secret string) (*Store, error) {
	sl, err := newSealer(secret)
	if err != nil {
		return nil, err
	}
	db, err := sqlx.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping store: %w", err)
	}

	migrations := &migrate.EmbedFileSystemMigrationSource{
		FileSystem: migrationsFS,
		Root:       "migrations",
	}
	n, err := migrate.Exec(db.DB, "sqlite3", migrations, migrate.Up)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate store: %w", err)
	}
	log.Info().Str("module", "adapters.localstore").Str("path", path).Int("applied", n).Msg("store ready")
	return &Store{db: db, sealer: sl}, nil
}

func (s *Store) Close() error { return s.db.Close() }
