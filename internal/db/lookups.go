package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ProducerLookupRepository caches metadata-API producer search results by
// (track_name, artist_name).
type ProducerLookupRepository struct {
	pool *pgxpool.Pool
}

// Get returns the cached lookup for a (track, artist) pair, or ErrNotFound.
// Staleness is the caller's concern; the row keeps its fetched_at.
func (r *ProducerLookupRepository) Get(ctx context.Context, trackName, artistName string) (*ProducerLookup, error) {
	query := `
		SELECT track_name, artist_name, producers, fetched_at
		FROM producer_lookups
		WHERE track_name = $1 AND artist_name = $2
	`
	var l ProducerLookup
	err := r.pool.QueryRow(ctx, query, trackName, artistName).Scan(
		&l.TrackName,
		&l.ArtistName,
		&l.Producers,
		&l.FetchedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying producer lookup: %w", err)
	}
	return &l, nil
}

// Put records the outcome of a lookup, replacing any prior entry and
// resetting fetched_at.
func (r *ProducerLookupRepository) Put(ctx context.Context, l *ProducerLookup) error {
	query := `
		INSERT INTO producer_lookups (track_name, artist_name, producers, fetched_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (track_name, artist_name) DO UPDATE SET
			producers = EXCLUDED.producers,
			fetched_at = NOW()
		RETURNING fetched_at
	`
	err := r.pool.QueryRow(ctx, query, l.TrackName, l.ArtistName, l.Producers).Scan(&l.FetchedAt)
	if err != nil {
		return fmt.Errorf("upserting producer lookup: %w", err)
	}
	return nil
}
