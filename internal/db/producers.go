package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ProducerRepository handles producer database operations.
type ProducerRepository struct {
	pool *pgxpool.Pool
}

// Upsert creates or updates a producer by name. Names are case-sensitive
// unique keys; fuzzy matching happens only during lookup, never at storage.
// Concurrent upserts for the same name are last-writer-wins on image_url.
func (r *ProducerRepository) Upsert(ctx context.Context, name string, imageURL *string) (*Producer, error) {
	query := `
		INSERT INTO producers (name, image_url)
		VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET
			image_url = COALESCE(EXCLUDED.image_url, producers.image_url)
		RETURNING id, name, image_url
	`
	var p Producer
	err := r.pool.QueryRow(ctx, query, name, imageURL).Scan(&p.ID, &p.Name, &p.ImageURL)
	if err != nil {
		return nil, fmt.Errorf("upserting producer: %w", err)
	}
	return &p, nil
}

// Get retrieves a producer by ID.
func (r *ProducerRepository) Get(ctx context.Context, id int64) (*Producer, error) {
	query := `SELECT id, name, image_url FROM producers WHERE id = $1`
	var p Producer
	err := r.pool.QueryRow(ctx, query, id).Scan(&p.ID, &p.Name, &p.ImageURL)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying producer: %w", err)
	}
	return &p, nil
}
