// Package db provides PostgreSQL persistence for ingested plays and their
// enrichment data.
package db

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Common errors.
var (
	ErrNotFound = errors.New("not found")
)

//go:embed schema.sql
var schemaSQL string

// DB wraps a PostgreSQL connection pool.
type DB struct {
	pool *pgxpool.Pool
}

// New creates a new database connection pool.
func New(ctx context.Context, databaseURL string) (*DB, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing database URL: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return &DB{pool: pool}, nil
}

// Close closes the database connection pool.
func (db *DB) Close() {
	db.pool.Close()
}

// Pool returns the underlying connection pool for advanced operations.
func (db *DB) Pool() *pgxpool.Pool {
	return db.pool
}

// EnsureSchema applies the embedded schema. Every statement is idempotent.
func (db *DB) EnsureSchema(ctx context.Context) error {
	if _, err := db.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}
	return nil
}

// Users returns a UserRepository.
func (db *DB) Users() *UserRepository {
	return &UserRepository{pool: db.pool}
}

// Connections returns a ConnectionRepository.
func (db *DB) Connections() *ConnectionRepository {
	return &ConnectionRepository{pool: db.pool}
}

// Plays returns a PlayRepository.
func (db *DB) Plays() *PlayRepository {
	return &PlayRepository{pool: db.pool}
}

// Producers returns a ProducerRepository.
func (db *DB) Producers() *ProducerRepository {
	return &ProducerRepository{pool: db.pool}
}

// Genres returns a GenreRepository.
func (db *DB) Genres() *GenreRepository {
	return &GenreRepository{pool: db.pool}
}

// ArtistImages returns an ArtistImageRepository.
func (db *DB) ArtistImages() *ArtistImageRepository {
	return &ArtistImageRepository{pool: db.pool}
}

// Notifications returns a NotificationRepository.
func (db *DB) Notifications() *NotificationRepository {
	return &NotificationRepository{pool: db.pool}
}

// ProducerLookups returns a ProducerLookupRepository.
func (db *DB) ProducerLookups() *ProducerLookupRepository {
	return &ProducerLookupRepository{pool: db.pool}
}
