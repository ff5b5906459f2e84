package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PlayRepository handles play-record database operations.
type PlayRepository struct {
	pool *pgxpool.Pool
}

const playColumns = `id, user_id, source, track_id, track_name, artist_name, album_name,
	played_at, track_data, popularity_data, fetch_session_id, position_in_fetch, created_at`

func scanPlay(row pgx.Row) (*Play, error) {
	var p Play
	err := row.Scan(
		&p.ID,
		&p.UserID,
		&p.Source,
		&p.TrackID,
		&p.TrackName,
		&p.ArtistName,
		&p.AlbumName,
		&p.PlayedAt,
		&p.TrackData,
		&p.PopularityData,
		&p.FetchSessionID,
		&p.PositionInFetch,
		&p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// InsertBatch persists one fetch batch inside a single transaction, in
// ascending position order. IDs and created_at are filled in on the passed
// slice. A mid-batch failure rolls the whole batch back so no play is left
// visible without having gone through enrichment dispatch.
func (r *PlayRepository) InsertBatch(ctx context.Context, plays []*Play) error {
	if len(plays) == 0 {
		return nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO plays (user_id, source, track_id, track_name, artist_name, album_name,
			played_at, track_data, popularity_data, fetch_session_id, position_in_fetch)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at
	`
	for _, p := range plays {
		trackData := p.TrackData
		if trackData == nil {
			trackData = json.RawMessage(`{}`)
		}
		err := tx.QueryRow(ctx, query,
			p.UserID,
			p.Source,
			p.TrackID,
			p.TrackName,
			p.ArtistName,
			p.AlbumName,
			p.PlayedAt,
			trackData,
			p.PopularityData,
			p.FetchSessionID,
			p.PositionInFetch,
		).Scan(&p.ID, &p.CreatedAt)
		if err != nil {
			return fmt.Errorf("inserting play %q: %w", p.TrackID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing play batch: %w", err)
	}
	return nil
}

// RecentBySource returns up to limit plays for a user and source, most
// recently inserted first.
func (r *PlayRepository) RecentBySource(ctx context.Context, userID string, source Source, limit int) ([]Play, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM plays
		WHERE user_id = $1 AND source = $2
		ORDER BY created_at DESC, position_in_fetch ASC
		LIMIT $3
	`, playColumns)
	rows, err := r.pool.Query(ctx, query, userID, source, limit)
	if err != nil {
		return nil, fmt.Errorf("querying recent plays: %w", err)
	}
	defer rows.Close()

	var plays []Play
	for rows.Next() {
		p, err := scanPlay(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning play: %w", err)
		}
		plays = append(plays, *p)
	}
	return plays, rows.Err()
}

// MostRecentPlayedAt returns the newest played_at for a user and source.
// Returns ErrNotFound when the user has no plays for that source.
func (r *PlayRepository) MostRecentPlayedAt(ctx context.Context, userID string, source Source) (time.Time, error) {
	query := `
		SELECT played_at
		FROM plays
		WHERE user_id = $1 AND source = $2
		ORDER BY played_at DESC
		LIMIT 1
	`
	var playedAt time.Time
	err := r.pool.QueryRow(ctx, query, userID, source).Scan(&playedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, ErrNotFound
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("querying most recent play: %w", err)
	}
	return playedAt, nil
}

// FindNear returns an existing play for the same user, track, and source
// whose played_at falls within the window around playedAt, or ErrNotFound.
func (r *PlayRepository) FindNear(ctx context.Context, userID, trackID string, source Source, playedAt time.Time, window time.Duration) (*Play, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM plays
		WHERE user_id = $1 AND track_id = $2 AND source = $3
		  AND played_at BETWEEN $4 AND $5
		ORDER BY played_at DESC
		LIMIT 1
	`, playColumns)
	p, err := scanPlay(r.pool.QueryRow(ctx, query, userID, trackID, source, playedAt.Add(-window), playedAt.Add(window)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying near-duplicate play: %w", err)
	}
	return p, nil
}

// RecentByTrack returns plays of one track for a user created since the
// given time, newest first. Used by the Apple Music insert guards.
func (r *PlayRepository) RecentByTrack(ctx context.Context, userID, trackID string, source Source, since time.Time) ([]Play, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM plays
		WHERE user_id = $1 AND track_id = $2 AND source = $3 AND created_at >= $4
		ORDER BY created_at DESC
	`, playColumns)
	rows, err := r.pool.Query(ctx, query, userID, trackID, source, since)
	if err != nil {
		return nil, fmt.Errorf("querying recent plays of track: %w", err)
	}
	defer rows.Close()

	var plays []Play
	for rows.Next() {
		p, err := scanPlay(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning play: %w", err)
		}
		plays = append(plays, *p)
	}
	return plays, rows.Err()
}

// RecentFetchSessions returns the distinct fetch-session ids used for a user
// and source since the given time, newest session first.
func (r *PlayRepository) RecentFetchSessions(ctx context.Context, userID string, source Source, since time.Time, limit int) ([]string, error) {
	query := `
		SELECT fetch_session_id::text
		FROM plays
		WHERE user_id = $1 AND source = $2 AND created_at >= $3
		GROUP BY fetch_session_id
		ORDER BY MAX(created_at) DESC
		LIMIT $4
	`
	rows, err := r.pool.Query(ctx, query, userID, source, since, limit)
	if err != nil {
		return nil, fmt.Errorf("querying recent fetch sessions: %w", err)
	}
	defer rows.Close()

	var sessions []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("scanning fetch session: %w", err)
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// AttachProducer links a producer to a play. Safe to repeat.
func (r *PlayRepository) AttachProducer(ctx context.Context, playID, producerID int64) error {
	query := `
		INSERT INTO play_producers (play_id, producer_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`
	if _, err := r.pool.Exec(ctx, query, playID, producerID); err != nil {
		return fmt.Errorf("attaching producer: %w", err)
	}
	return nil
}

// AttachGenre links a genre to a play. Safe to repeat.
func (r *PlayRepository) AttachGenre(ctx context.Context, playID, genreID int64) error {
	query := `
		INSERT INTO play_genres (play_id, genre_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`
	if _, err := r.pool.Exec(ctx, query, playID, genreID); err != nil {
		return fmt.Errorf("attaching genre: %w", err)
	}
	return nil
}

// UsersWithProducer returns the distinct users, excluding excludeUserID, who
// have at least one play associated with the producer.
func (r *PlayRepository) UsersWithProducer(ctx context.Context, producerID int64, excludeUserID string) ([]string, error) {
	query := `
		SELECT DISTINCT p.user_id
		FROM plays p
		JOIN play_producers pp ON pp.play_id = p.id
		WHERE pp.producer_id = $1 AND p.user_id <> $2
	`
	rows, err := r.pool.Query(ctx, query, producerID, excludeUserID)
	if err != nil {
		return nil, fmt.Errorf("querying users with producer: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning user id: %w", err)
		}
		users = append(users, id)
	}
	return users, rows.Err()
}

// SetPopularityData attaches cross-referenced popularity info to a play.
func (r *PlayRepository) SetPopularityData(ctx context.Context, playID int64, data json.RawMessage) error {
	query := `UPDATE plays SET popularity_data = $2 WHERE id = $1`
	result, err := r.pool.Exec(ctx, query, playID, data)
	if err != nil {
		return fmt.Errorf("setting popularity data: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
