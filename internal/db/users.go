package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// UserRepository handles user database operations.
type UserRepository struct {
	pool *pgxpool.Pool
}

// Upsert creates or updates a user.
func (r *UserRepository) Upsert(ctx context.Context, user *User) error {
	query := `
		INSERT INTO users (id, display_name)
		VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET display_name = EXCLUDED.display_name
		RETURNING created_at
	`
	if err := r.pool.QueryRow(ctx, query, user.ID, user.DisplayName).Scan(&user.CreatedAt); err != nil {
		return fmt.Errorf("upserting user: %w", err)
	}
	return nil
}

// Get retrieves a user by ID.
func (r *UserRepository) Get(ctx context.Context, id string) (*User, error) {
	query := `SELECT id, display_name, created_at FROM users WHERE id = $1`
	var user User
	err := r.pool.QueryRow(ctx, query, id).Scan(&user.ID, &user.DisplayName, &user.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}
	return &user, nil
}

// ConnectionRepository handles provider connection database operations.
type ConnectionRepository struct {
	pool *pgxpool.Pool
}

// Get retrieves a user's connection for one source, or ErrNotFound.
func (r *ConnectionRepository) Get(ctx context.Context, userID string, source Source) (*Connection, error) {
	query := `
		SELECT user_id, source, access_token, refresh_token, token_expiry, music_user_token, updated_at
		FROM connections
		WHERE user_id = $1 AND source = $2
	`
	var c Connection
	err := r.pool.QueryRow(ctx, query, userID, source).Scan(
		&c.UserID,
		&c.Source,
		&c.AccessToken,
		&c.RefreshToken,
		&c.TokenExpiry,
		&c.MusicUserToken,
		&c.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying connection: %w", err)
	}
	return &c, nil
}

// Upsert stores or refreshes a connection's tokens.
func (r *ConnectionRepository) Upsert(ctx context.Context, c *Connection) error {
	query := `
		INSERT INTO connections (user_id, source, access_token, refresh_token, token_expiry, music_user_token, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (user_id, source) DO UPDATE SET
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			token_expiry = EXCLUDED.token_expiry,
			music_user_token = EXCLUDED.music_user_token,
			updated_at = NOW()
		RETURNING updated_at
	`
	err := r.pool.QueryRow(ctx, query,
		c.UserID,
		c.Source,
		c.AccessToken,
		c.RefreshToken,
		c.TokenExpiry,
		c.MusicUserToken,
	).Scan(&c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upserting connection: %w", err)
	}
	return nil
}

// UpdateTokens stores refreshed tokens for a connection.
func (r *ConnectionRepository) UpdateTokens(ctx context.Context, userID string, source Source, accessToken, refreshToken string, expiry time.Time) error {
	query := `
		UPDATE connections
		SET access_token = $3, refresh_token = $4, token_expiry = $5, updated_at = NOW()
		WHERE user_id = $1 AND source = $2
	`
	result, err := r.pool.Exec(ctx, query, userID, source, accessToken, refreshToken, expiry)
	if err != nil {
		return fmt.Errorf("updating connection tokens: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AllWithConnections returns ids of users that have at least one provider
// connection, for the periodic ingestion scheduler.
func (r *ConnectionRepository) AllWithConnections(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT user_id FROM connections`)
	if err != nil {
		return nil, fmt.Errorf("querying connected users: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning user id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
