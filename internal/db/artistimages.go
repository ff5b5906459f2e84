package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ArtistImageRepository handles the artist image cache.
type ArtistImageRepository struct {
	pool *pgxpool.Pool
}

// Get returns the cached image for an exact artist name, or ErrNotFound.
func (r *ArtistImageRepository) Get(ctx context.Context, artistName string) (*ArtistImage, error) {
	query := `SELECT artist_name, image_url, created_at FROM artist_images WHERE artist_name = $1`
	var img ArtistImage
	err := r.pool.QueryRow(ctx, query, artistName).Scan(&img.ArtistName, &img.ImageURL, &img.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying artist image: %w", err)
	}
	return &img, nil
}

// Exists reports whether a cache row exists for the exact artist name.
// A lookup is skipped entirely when one does, regardless of staleness.
func (r *ArtistImageRepository) Exists(ctx context.Context, artistName string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM artist_images WHERE artist_name = $1)`
	var exists bool
	if err := r.pool.QueryRow(ctx, query, artistName).Scan(&exists); err != nil {
		return false, fmt.Errorf("checking artist image: %w", err)
	}
	return exists, nil
}

// Put caches a resolved image. The cache is write-once per name: a row that
// already exists is left untouched, so concurrent runs cannot flip a result.
func (r *ArtistImageRepository) Put(ctx context.Context, artistName, imageURL string) error {
	query := `
		INSERT INTO artist_images (artist_name, image_url)
		VALUES ($1, $2)
		ON CONFLICT (artist_name) DO NOTHING
	`
	if _, err := r.pool.Exec(ctx, query, artistName, imageURL); err != nil {
		return fmt.Errorf("caching artist image: %w", err)
	}
	return nil
}
