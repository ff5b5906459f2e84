package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// GenreRepository handles genre database operations.
type GenreRepository struct {
	pool *pgxpool.Pool
}

// FindOrCreate returns the genre with the given name, creating it if needed.
// Safe under concurrent ingestion runs racing to create the same name.
func (r *GenreRepository) FindOrCreate(ctx context.Context, name string) (*Genre, error) {
	// The DO UPDATE no-op makes RETURNING yield the row on conflict too.
	query := `
		INSERT INTO genres (name)
		VALUES ($1)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id, name
	`
	var g Genre
	if err := r.pool.QueryRow(ctx, query, name).Scan(&g.ID, &g.Name); err != nil {
		return nil, fmt.Errorf("finding or creating genre: %w", err)
	}
	return &g, nil
}
