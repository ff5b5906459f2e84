// Package ingest orchestrates a full fetch-and-ingest cycle per user:
// pulling recent plays from each connected source, deduplicating against
// stored history, persisting new play records, and handing them to the
// enrichment dispatcher.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"github.com/soundprint/soundprint/internal/applemusic"
	"github.com/soundprint/soundprint/internal/db"
	"github.com/soundprint/soundprint/internal/dedupe"
	"github.com/soundprint/soundprint/internal/spotify"
	"github.com/soundprint/soundprint/internal/trackdata"
)

// appleHistoryDepth is how many stored plays the overlap scan compares
// against, matching the provider's window size.
const appleHistoryDepth = 50

// Store is the persistence surface the ingestor needs. *db.DB satisfies it
// through the adapter in store.go; tests use an in-memory fake.
type Store interface {
	Connection(ctx context.Context, userID string, source db.Source) (*db.Connection, error)
	UpdateConnectionTokens(ctx context.Context, userID string, source db.Source, access, refresh string, expiry time.Time) error
	MostRecentPlayedAt(ctx context.Context, userID string, source db.Source) (time.Time, error)
	RecentPlays(ctx context.Context, userID string, source db.Source, limit int) ([]db.Play, error)
	FindNearPlay(ctx context.Context, userID, trackID string, source db.Source, playedAt time.Time, window time.Duration) (*db.Play, error)
	RecentPlaysOfTrack(ctx context.Context, userID, trackID string, source db.Source, since time.Time) ([]db.Play, error)
	RecentFetchSessions(ctx context.Context, userID string, source db.Source, since time.Time, limit int) ([]string, error)
	InsertPlays(ctx context.Context, plays []*db.Play) error
}

// SpotifySource fetches a user's recent Spotify plays.
type SpotifySource interface {
	RecentlyPlayedAfter(ctx context.Context, after time.Time, limit int) ([]spotify.Played, error)
}

// AppleSource fetches a user's Apple Music recently-played window.
type AppleSource interface {
	RecentTracks(ctx context.Context, musicUserToken string) ([]applemusic.Track, error)
}

// Dispatcher receives each newly persisted play for enrichment. Dispatch
// must not block; the play batch is already committed when it is called.
type Dispatcher interface {
	Dispatch(ctx context.Context, play db.Play)
}

// Service runs ingestion cycles.
type Service struct {
	store      Store
	newSpotify func(ctx context.Context, token *oauth2.Token) SpotifySource
	refresh    func(ctx context.Context, refreshToken string) (*oauth2.Token, error)
	apple      AppleSource
	dispatcher Dispatcher
	log        *logrus.Logger
	now        func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithSpotifyFactory overrides how per-user Spotify clients are built.
func WithSpotifyFactory(f func(ctx context.Context, token *oauth2.Token) SpotifySource) Option {
	return func(s *Service) { s.newSpotify = f }
}

// WithTokenRefresher overrides the Spotify refresh-token flow.
func WithTokenRefresher(f func(ctx context.Context, refreshToken string) (*oauth2.Token, error)) Option {
	return func(s *Service) { s.refresh = f }
}

// New creates an ingestion service. clientID and clientSecret are the
// Spotify app credentials used for token refresh.
func New(store Store, apple AppleSource, dispatcher Dispatcher, clientID, clientSecret string, log *logrus.Logger, opts ...Option) *Service {
	s := &Service{
		store: store,
		newSpotify: func(ctx context.Context, token *oauth2.Token) SpotifySource {
			return spotify.New(ctx, token)
		},
		refresh: func(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
			return spotify.RefreshToken(ctx, clientID, clientSecret, refreshToken)
		},
		apple:      apple,
		dispatcher: dispatcher,
		log:        log,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Result summarizes one ingestion run. A nil error with a zero count means
// the source was either not connected or had nothing new.
type Result struct {
	SpotifyNew int
	AppleNew   int
	SpotifyErr error
	AppleErr   error
}

// Run executes one ingestion cycle for a user. The two source flows are
// isolated: a failure in one is recorded on the Result and the other still
// runs. Re-running with no new remote plays persists nothing.
func (s *Service) Run(ctx context.Context, userID string) *Result {
	res := &Result{}

	res.SpotifyNew, res.SpotifyErr = s.runSpotify(ctx, userID)
	if res.SpotifyErr != nil {
		s.log.WithFields(logrus.Fields{
			"component": "ingest",
			"source":    db.SourceSpotify,
			"user_id":   userID,
		}).WithError(res.SpotifyErr).Warn("spotify ingestion failed")
	}

	res.AppleNew, res.AppleErr = s.runAppleMusic(ctx, userID)
	if res.AppleErr != nil {
		s.log.WithFields(logrus.Fields{
			"component": "ingest",
			"source":    db.SourceAppleMusic,
			"user_id":   userID,
		}).WithError(res.AppleErr).Warn("apple music ingestion failed")
	}

	return res
}

// runSpotify fetches plays newer than the most recent stored play and
// persists the ones that survive the residual duplicate window.
func (s *Service) runSpotify(ctx context.Context, userID string) (int, error) {
	conn, err := s.store.Connection(ctx, userID, db.SourceSpotify)
	if errors.Is(err, db.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("loading spotify connection: %w", err)
	}

	after, err := s.store.MostRecentPlayedAt(ctx, userID, db.SourceSpotify)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		return 0, fmt.Errorf("loading most recent play: %w", err)
	}

	client := s.newSpotify(ctx, connToken(conn))
	fetched, err := client.RecentlyPlayedAfter(ctx, after, spotify.RecentlyPlayedLimit)
	if errors.Is(err, spotify.ErrUnauthorized) {
		client, err = s.refreshSpotifyClient(ctx, conn)
		if err != nil {
			return 0, err
		}
		fetched, err = client.RecentlyPlayedAfter(ctx, after, spotify.RecentlyPlayedLimit)
	}
	if err != nil {
		return 0, fmt.Errorf("fetching recent plays: %w", err)
	}
	if len(fetched) == 0 {
		return 0, nil
	}

	sessionID := uuid.New()
	var batch []*db.Play
	for i, item := range fetched {
		dup, err := s.isSpotifyDuplicate(ctx, userID, item, batch)
		if err != nil {
			return 0, err
		}
		if dup {
			continue
		}

		data, err := json.Marshal(trackdata.Normalize(item.Raw, trackdata.SourceSpotify))
		if err != nil {
			return 0, fmt.Errorf("marshaling track data: %w", err)
		}
		batch = append(batch, &db.Play{
			UserID:          userID,
			Source:          db.SourceSpotify,
			TrackID:         item.TrackID,
			TrackName:       item.TrackName,
			ArtistName:      item.ArtistName,
			AlbumName:       item.AlbumName,
			PlayedAt:        item.PlayedAt,
			TrackData:       data,
			FetchSessionID:  sessionID,
			PositionInFetch: i,
		})
	}

	return s.persistAndDispatch(ctx, batch)
}

// isSpotifyDuplicate applies the residual ±5s window against both stored
// history and earlier entries of the current batch.
func (s *Service) isSpotifyDuplicate(ctx context.Context, userID string, item spotify.Played, batch []*db.Play) (bool, error) {
	for _, accepted := range batch {
		if accepted.TrackID == item.TrackID && dedupe.WithinSpotifyWindow(accepted.PlayedAt, item.PlayedAt) {
			return true, nil
		}
	}
	_, err := s.store.FindNearPlay(ctx, userID, item.TrackID, db.SourceSpotify, item.PlayedAt, dedupe.SpotifyWindow)
	if errors.Is(err, db.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking duplicate window: %w", err)
	}
	return true, nil
}

// refreshSpotifyClient performs the single allowed token refresh for this
// run and persists the new tokens.
func (s *Service) refreshSpotifyClient(ctx context.Context, conn *db.Connection) (SpotifySource, error) {
	if conn.RefreshToken == "" {
		return nil, fmt.Errorf("unauthorized and no refresh token stored: %w", spotify.ErrUnauthorized)
	}
	token, err := s.refresh(ctx, conn.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("refreshing token: %w", err)
	}
	if err := s.store.UpdateConnectionTokens(ctx, conn.UserID, conn.Source, token.AccessToken, token.RefreshToken, token.Expiry); err != nil {
		return nil, fmt.Errorf("storing refreshed token: %w", err)
	}
	conn.AccessToken = token.AccessToken
	conn.RefreshToken = token.RefreshToken
	conn.TokenExpiry = token.Expiry
	return s.newSpotify(ctx, token), nil
}

// runAppleMusic reconstructs the new-play boundary from positional overlap
// with recent history, then persists the new head of the window.
func (s *Service) runAppleMusic(ctx context.Context, userID string) (int, error) {
	conn, err := s.store.Connection(ctx, userID, db.SourceAppleMusic)
	if errors.Is(err, db.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("loading apple music connection: %w", err)
	}
	if conn.MusicUserToken == nil || *conn.MusicUserToken == "" {
		return 0, nil
	}

	fetched, err := s.apple.RecentTracks(ctx, *conn.MusicUserToken)
	if err != nil {
		// Music user tokens have no refresh flow; unauthorized aborts
		// this source for the run.
		return 0, fmt.Errorf("fetching recent tracks: %w", err)
	}
	if len(fetched) == 0 {
		return 0, nil
	}

	prior, err := s.store.RecentPlays(ctx, userID, db.SourceAppleMusic, appleHistoryDepth)
	if err != nil {
		return 0, fmt.Errorf("loading prior plays: %w", err)
	}

	now := s.now()
	var mostRecentAge time.Duration
	if len(prior) > 0 {
		mostRecentAge = now.Sub(prior[0].CreatedAt)
	}

	ids := make([]string, len(fetched))
	for i, t := range fetched {
		ids[i] = t.ID
	}
	boundary := dedupe.OverlapBoundary(toPriorPlays(prior), ids, mostRecentAge)

	sessionID := uuid.New()
	var batch []*db.Play
	for i := 0; i < boundary; i++ {
		track := fetched[i]

		skip, err := s.isAppleRepeat(ctx, userID, track.ID, i, now)
		if err != nil {
			return 0, err
		}
		if skip {
			continue
		}

		data, err := json.Marshal(trackdata.Normalize(track.Raw(), trackdata.SourceAppleMusic))
		if err != nil {
			return 0, fmt.Errorf("marshaling track data: %w", err)
		}
		batch = append(batch, &db.Play{
			UserID:     userID,
			Source:     db.SourceAppleMusic,
			TrackID:    track.ID,
			TrackName:  track.Attributes.Name,
			ArtistName: track.Attributes.ArtistName,
			AlbumName:  track.Attributes.AlbumName,
			// The provider returns no play timestamp; played_at is
			// ingestion time and Apple Music trends are approximate.
			PlayedAt:        now,
			TrackData:       data,
			FetchSessionID:  sessionID,
			PositionInFetch: i,
		})
	}

	return s.persistAndDispatch(ctx, batch)
}

// isAppleRepeat applies the per-candidate insert guards: repeat appearances
// across recent fetch sessions, and re-appearance near the same position.
func (s *Service) isAppleRepeat(ctx context.Context, userID, trackID string, position int, now time.Time) (bool, error) {
	recent, err := s.store.RecentPlaysOfTrack(ctx, userID, trackID, db.SourceAppleMusic, now.Add(-15*time.Minute))
	if err != nil {
		return false, fmt.Errorf("loading recent plays of track: %w", err)
	}
	if len(recent) == 0 {
		return false, nil
	}

	sessions, err := s.store.RecentFetchSessions(ctx, userID, db.SourceAppleMusic, now.Add(-15*time.Minute), 3)
	if err != nil {
		return false, fmt.Errorf("loading recent fetch sessions: %w", err)
	}

	priorOfTrack := toPriorPlays(recent)
	if dedupe.IsSessionRepeat(priorOfTrack, sessions, now) {
		return true, nil
	}
	return dedupe.IsPositionRepeat(priorOfTrack, position, now), nil
}

// persistAndDispatch commits the batch in one transaction, then hands each
// play to the enrichment dispatcher.
func (s *Service) persistAndDispatch(ctx context.Context, batch []*db.Play) (int, error) {
	if len(batch) == 0 {
		return 0, nil
	}
	if err := s.store.InsertPlays(ctx, batch); err != nil {
		return 0, fmt.Errorf("persisting play batch: %w", err)
	}
	if s.dispatcher != nil {
		for _, p := range batch {
			s.dispatcher.Dispatch(ctx, *p)
		}
	}
	return len(batch), nil
}

func toPriorPlays(plays []db.Play) []dedupe.PriorPlay {
	out := make([]dedupe.PriorPlay, len(plays))
	for i, p := range plays {
		out[i] = dedupe.PriorPlay{
			TrackID:         p.TrackID,
			FetchSessionID:  p.FetchSessionID.String(),
			PositionInFetch: p.PositionInFetch,
			CreatedAt:       p.CreatedAt,
		}
	}
	return out
}

func connToken(conn *db.Connection) *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  conn.AccessToken,
		RefreshToken: conn.RefreshToken,
		Expiry:       conn.TokenExpiry,
		TokenType:    "Bearer",
	}
}
