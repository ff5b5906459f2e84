// Package notify fans out collaboration notifications: when a user plays a
// track credited to a producer that other users have also listened to, each
// of those users gets a notification.
package notify

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/soundprint/soundprint/internal/db"
)

// Store is the persistence surface the notifier needs.
type Store interface {
	UsersWithProducer(ctx context.Context, producerID int64, excludeUserID string) ([]string, error)
	CreateNotification(ctx context.Context, n *db.Notification) error
}

// Collaborations creates producer-overlap notifications.
type Collaborations struct {
	store Store
	log   *logrus.Logger
}

// NewCollaborations creates the collaboration notifier.
func NewCollaborations(store Store, log *logrus.Logger) *Collaborations {
	return &Collaborations{store: store, log: log}
}

// Fanout notifies every other listener of the play's attached producers.
// Track, artist, and producer names are snapshotted onto the notification so
// it stays readable if the underlying rows change. Repeat plays notify
// again; there is no dedup window.
func (c *Collaborations) Fanout(ctx context.Context, play db.Play, producers []db.Producer) error {
	for _, producer := range producers {
		listeners, err := c.store.UsersWithProducer(ctx, producer.ID, play.UserID)
		if err != nil {
			return fmt.Errorf("finding listeners of producer %q: %w", producer.Name, err)
		}
		for _, userID := range listeners {
			n := &db.Notification{
				UserID:         userID,
				PlayID:         play.ID,
				PlayedByUserID: play.UserID,
				TrackName:      play.TrackName,
				ArtistName:     play.ArtistName,
				ProducerName:   producer.Name,
			}
			if err := c.store.CreateNotification(ctx, n); err != nil {
				return fmt.Errorf("creating notification for %q: %w", userID, err)
			}
			c.log.WithFields(logrus.Fields{
				"component": "notify",
				"recipient": userID,
				"producer":  producer.Name,
				"play_id":   play.ID,
			}).Debug("collaboration notification created")
		}
	}
	return nil
}

// NewStore adapts *db.DB to the notifier's Store interface.
func NewStore(database *db.DB) Store {
	return &dbStore{database: database}
}

type dbStore struct {
	database *db.DB
}

func (s *dbStore) UsersWithProducer(ctx context.Context, producerID int64, excludeUserID string) ([]string, error) {
	return s.database.Plays().UsersWithProducer(ctx, producerID, excludeUserID)
}

func (s *dbStore) CreateNotification(ctx context.Context, n *db.Notification) error {
	return s.database.Notifications().Create(ctx, n)
}
