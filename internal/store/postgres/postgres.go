// Package postgres provides PostgreSQL-backed implementations of the store
// contracts, used when a database DSN is configured.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/whisperline/whisperline/internal/store/postgres/migrations"
)

// Stores bundles the database-backed store implementations over one pool.
type Stores struct {
	db         *sql.DB
	Messages   *MessageStore
	Keys       *KeyStore
	Membership *Membership
}

// Open connects to the database, applies pending migrations, and builds the
// store implementations.
func Open(ctx context.Context, dsn string) (*Stores, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	goose.SetBaseFS(migrations.Migrations)
	if err := goose.UpContext(ctx, db, "."); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Stores{
		db:         db,
		Messages:   &MessageStore{db: db},
		Keys:       &KeyStore{db: db},
		Membership: &Membership{db: db},
	}, nil
}

// Close releases the connection pool.
func (s *Stores) Close() error {
	return s.db.Close()
}
