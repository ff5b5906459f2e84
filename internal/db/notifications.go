package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// NotificationRepository handles notification database operations.
type NotificationRepository struct {
	pool *pgxpool.Pool
}

// Create inserts a notification. The ID is generated when unset.
func (r *NotificationRepository) Create(ctx context.Context, n *Notification) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	query := `
		INSERT INTO notifications (id, user_id, play_id, played_by_user_id,
			track_name, artist_name, producer_name)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`
	err := r.pool.QueryRow(ctx, query,
		n.ID,
		n.UserID,
		n.PlayID,
		n.PlayedByUserID,
		n.TrackName,
		n.ArtistName,
		n.ProducerName,
	).Scan(&n.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting notification: %w", err)
	}
	return nil
}

// CountForUser returns the number of notifications addressed to a user.
func (r *NotificationRepository) CountForUser(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM notifications WHERE user_id = $1`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting notifications: %w", err)
	}
	return count, nil
}
