package ingest

import (
	"context"
	"time"

	"github.com/soundprint/soundprint/internal/db"
)

// dbStore adapts *db.DB's repositories to the Store interface.
type dbStore struct {
	database *db.DB
}

// NewStore wraps the database for use by the ingestion service.
func NewStore(database *db.DB) Store {
	return &dbStore{database: database}
}

func (s *dbStore) Connection(ctx context.Context, userID string, source db.Source) (*db.Connection, error) {
	return s.database.Connections().Get(ctx, userID, source)
}

func (s *dbStore) UpdateConnectionTokens(ctx context.Context, userID string, source db.Source, access, refresh string, expiry time.Time) error {
	return s.database.Connections().UpdateTokens(ctx, userID, source, access, refresh, expiry)
}

func (s *dbStore) MostRecentPlayedAt(ctx context.Context, userID string, source db.Source) (time.Time, error) {
	return s.database.Plays().MostRecentPlayedAt(ctx, userID, source)
}

func (s *dbStore) RecentPlays(ctx context.Context, userID string, source db.Source, limit int) ([]db.Play, error) {
	return s.database.Plays().RecentBySource(ctx, userID, source, limit)
}

func (s *dbStore) FindNearPlay(ctx context.Context, userID, trackID string, source db.Source, playedAt time.Time, window time.Duration) (*db.Play, error) {
	return s.database.Plays().FindNear(ctx, userID, trackID, source, playedAt, window)
}

func (s *dbStore) RecentPlaysOfTrack(ctx context.Context, userID, trackID string, source db.Source, since time.Time) ([]db.Play, error) {
	return s.database.Plays().RecentByTrack(ctx, userID, trackID, source, since)
}

func (s *dbStore) RecentFetchSessions(ctx context.Context, userID string, source db.Source, since time.Time, limit int) ([]string, error) {
	return s.database.Plays().RecentFetchSessions(ctx, userID, source, since, limit)
}

func (s *dbStore) InsertPlays(ctx context.Context, plays []*db.Play) error {
	return s.database.Plays().InsertBatch(ctx, plays)
}
