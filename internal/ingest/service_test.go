package ingest

import (
	"context"
	"io"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"github.com/soundprint/soundprint/internal/applemusic"
	"github.com/soundprint/soundprint/internal/db"
	"github.com/soundprint/soundprint/internal/spotify"
)

type fakeStore struct {
	conns         map[db.Source]*db.Connection
	plays         []db.Play
	nextID        int64
	now           time.Time
	tokensUpdated int
}

func newFakeStore(now time.Time) *fakeStore {
	return &fakeStore{conns: make(map[db.Source]*db.Connection), now: now}
}

func (s *fakeStore) seed(p db.Play) {
	s.nextID++
	p.ID = s.nextID
	s.plays = append(s.plays, p)
}

func (s *fakeStore) Connection(_ context.Context, userID string, source db.Source) (*db.Connection, error) {
	c, ok := s.conns[source]
	if !ok || c.UserID != userID {
		return nil, db.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *fakeStore) UpdateConnectionTokens(_ context.Context, _ string, source db.Source, access, refresh string, expiry time.Time) error {
	c, ok := s.conns[source]
	if !ok {
		return db.ErrNotFound
	}
	c.AccessToken = access
	c.RefreshToken = refresh
	c.TokenExpiry = expiry
	s.tokensUpdated++
	return nil
}

func (s *fakeStore) MostRecentPlayedAt(_ context.Context, userID string, source db.Source) (time.Time, error) {
	var newest time.Time
	found := false
	for _, p := range s.plays {
		if p.UserID == userID && p.Source == source && p.PlayedAt.After(newest) {
			newest = p.PlayedAt
			found = true
		}
	}
	if !found {
		return time.Time{}, db.ErrNotFound
	}
	return newest, nil
}

func (s *fakeStore) RecentPlays(_ context.Context, userID string, source db.Source, limit int) ([]db.Play, error) {
	var out []db.Play
	for _, p := range s.plays {
		if p.UserID == userID && p.Source == source {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].PositionInFetch < out[j].PositionInFetch
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeStore) FindNearPlay(_ context.Context, userID, trackID string, source db.Source, playedAt time.Time, window time.Duration) (*db.Play, error) {
	for i := range s.plays {
		p := &s.plays[i]
		if p.UserID != userID || p.TrackID != trackID || p.Source != source {
			continue
		}
		d := p.PlayedAt.Sub(playedAt)
		if d < 0 {
			d = -d
		}
		if d <= window {
			return p, nil
		}
	}
	return nil, db.ErrNotFound
}

func (s *fakeStore) RecentPlaysOfTrack(_ context.Context, userID, trackID string, source db.Source, since time.Time) ([]db.Play, error) {
	var out []db.Play
	for _, p := range s.plays {
		if p.UserID == userID && p.TrackID == trackID && p.Source == source && !p.CreatedAt.Before(since) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *fakeStore) RecentFetchSessions(_ context.Context, userID string, source db.Source, since time.Time, limit int) ([]string, error) {
	latest := make(map[string]time.Time)
	for _, p := range s.plays {
		if p.UserID != userID || p.Source != source || p.CreatedAt.Before(since) {
			continue
		}
		id := p.FetchSessionID.String()
		if p.CreatedAt.After(latest[id]) {
			latest[id] = p.CreatedAt
		}
	}
	var sessions []string
	for id := range latest {
		sessions = append(sessions, id)
	}
	sort.Slice(sessions, func(i, j int) bool {
		return latest[sessions[i]].After(latest[sessions[j]])
	})
	if len(sessions) > limit {
		sessions = sessions[:limit]
	}
	return sessions, nil
}

func (s *fakeStore) InsertPlays(_ context.Context, plays []*db.Play) error {
	for _, p := range plays {
		s.nextID++
		p.ID = s.nextID
		p.CreatedAt = s.now
		s.plays = append(s.plays, *p)
	}
	return nil
}

type fakeSpotify struct {
	plays            []spotify.Played
	err              error
	unauthorizedOnce bool
	calls            int
}

func (f *fakeSpotify) RecentlyPlayedAfter(_ context.Context, after time.Time, _ int) ([]spotify.Played, error) {
	f.calls++
	if f.unauthorizedOnce && f.calls == 1 {
		return nil, spotify.ErrUnauthorized
	}
	if f.err != nil {
		return nil, f.err
	}
	var out []spotify.Played
	for _, p := range f.plays {
		if p.PlayedAt.After(after) {
			out = append(out, p)
		}
	}
	return out, nil
}

type fakeApple struct {
	tracks []applemusic.Track
	err    error
}

func (f *fakeApple) RecentTracks(context.Context, string) ([]applemusic.Track, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.tracks, nil
}

type fakeDispatcher struct {
	plays []db.Play
}

func (f *fakeDispatcher) Dispatch(_ context.Context, play db.Play) {
	f.plays = append(f.plays, play)
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func newTestService(store Store, sp *fakeSpotify, ap *fakeApple, disp *fakeDispatcher, now time.Time) *Service {
	return New(store, ap, disp, "id", "secret", quietLogger(),
		WithClock(func() time.Time { return now }),
		WithSpotifyFactory(func(context.Context, *oauth2.Token) SpotifySource { return sp }),
		WithTokenRefresher(func(context.Context, string) (*oauth2.Token, error) {
			return &oauth2.Token{AccessToken: "fresh", RefreshToken: "fresh-refresh", Expiry: now.Add(time.Hour)}, nil
		}),
	)
}

func spotifyConn(now time.Time) *db.Connection {
	return &db.Connection{
		UserID:       "u1",
		Source:       db.SourceSpotify,
		AccessToken:  "tok",
		RefreshToken: "refresh",
		TokenExpiry:  now.Add(time.Hour),
	}
}

func appleConn() *db.Connection {
	mut := "music-user-token"
	return &db.Connection{UserID: "u1", Source: db.SourceAppleMusic, MusicUserToken: &mut}
}

func appleTrack(id, name string) applemusic.Track {
	return applemusic.Track{ID: id, Attributes: applemusic.TrackAttributes{
		Name:       name,
		ArtistName: "Artist",
		AlbumName:  "Album",
	}}
}

func TestRunSpotifyPersistsNewPlays(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newFakeStore(now)
	store.conns[db.SourceSpotify] = spotifyConn(now)

	sp := &fakeSpotify{plays: []spotify.Played{
		{TrackID: "t1", TrackName: "One", ArtistName: "A", PlayedAt: now.Add(-10 * time.Minute)},
		{TrackID: "t2", TrackName: "Two", ArtistName: "B", PlayedAt: now.Add(-7 * time.Minute)},
		{TrackID: "t3", TrackName: "Three", ArtistName: "C", PlayedAt: now.Add(-4 * time.Minute)},
	}}
	disp := &fakeDispatcher{}
	svc := newTestService(store, sp, &fakeApple{}, disp, now)

	res := svc.Run(context.Background(), "u1")
	if res.SpotifyErr != nil {
		t.Fatalf("unexpected error: %v", res.SpotifyErr)
	}
	if res.SpotifyNew != 3 {
		t.Fatalf("SpotifyNew = %d, want 3", res.SpotifyNew)
	}
	if len(disp.plays) != 3 {
		t.Fatalf("dispatched %d plays, want 3", len(disp.plays))
	}

	session := store.plays[0].FetchSessionID
	if session == uuid.Nil {
		t.Error("fetch session id not assigned")
	}
	for i, p := range store.plays {
		if p.Source != db.SourceSpotify {
			t.Errorf("plays[%d].Source = %q", i, p.Source)
		}
		if p.FetchSessionID != session {
			t.Errorf("plays[%d] has a different fetch session", i)
		}
		if p.PositionInFetch != i {
			t.Errorf("plays[%d].PositionInFetch = %d", i, p.PositionInFetch)
		}
	}
}

func TestRunSpotifyIdempotent(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newFakeStore(now)
	store.conns[db.SourceSpotify] = spotifyConn(now)

	sp := &fakeSpotify{plays: []spotify.Played{
		{TrackID: "t1", TrackName: "One", PlayedAt: now.Add(-10 * time.Minute)},
		{TrackID: "t2", TrackName: "Two", PlayedAt: now.Add(-5 * time.Minute)},
	}}
	svc := newTestService(store, sp, &fakeApple{}, &fakeDispatcher{}, now)

	if res := svc.Run(context.Background(), "u1"); res.SpotifyNew != 2 {
		t.Fatalf("first run SpotifyNew = %d, want 2", res.SpotifyNew)
	}
	if res := svc.Run(context.Background(), "u1"); res.SpotifyNew != 0 {
		t.Errorf("second run SpotifyNew = %d, want 0", res.SpotifyNew)
	}
	if len(store.plays) != 2 {
		t.Errorf("stored %d plays, want 2", len(store.plays))
	}
}

func TestRunSpotifySkipsResidualDuplicate(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newFakeStore(now)
	store.conns[db.SourceSpotify] = spotifyConn(now)
	base := now.Add(-10 * time.Minute)
	store.seed(db.Play{
		UserID: "u1", Source: db.SourceSpotify, TrackID: "t1",
		PlayedAt: base, CreatedAt: base, FetchSessionID: uuid.New(),
	})

	// Same track 3s later: inside the residual window, a repeat of the
	// same real-world play.
	sp := &fakeSpotify{plays: []spotify.Played{
		{TrackID: "t1", TrackName: "One", PlayedAt: base.Add(3 * time.Second)},
	}}
	svc := newTestService(store, sp, &fakeApple{}, &fakeDispatcher{}, now)

	res := svc.Run(context.Background(), "u1")
	if res.SpotifyErr != nil {
		t.Fatalf("unexpected error: %v", res.SpotifyErr)
	}
	if res.SpotifyNew != 0 {
		t.Errorf("SpotifyNew = %d, want 0", res.SpotifyNew)
	}
}

func TestRunSpotifyRefreshesTokenOnce(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newFakeStore(now)
	store.conns[db.SourceSpotify] = spotifyConn(now)

	sp := &fakeSpotify{
		unauthorizedOnce: true,
		plays: []spotify.Played{
			{TrackID: "t1", TrackName: "One", PlayedAt: now.Add(-time.Minute)},
		},
	}
	svc := newTestService(store, sp, &fakeApple{}, &fakeDispatcher{}, now)

	res := svc.Run(context.Background(), "u1")
	if res.SpotifyErr != nil {
		t.Fatalf("unexpected error: %v", res.SpotifyErr)
	}
	if res.SpotifyNew != 1 {
		t.Errorf("SpotifyNew = %d, want 1", res.SpotifyNew)
	}
	if store.tokensUpdated != 1 {
		t.Errorf("tokensUpdated = %d, want 1", store.tokensUpdated)
	}
	if store.conns[db.SourceSpotify].AccessToken != "fresh" {
		t.Errorf("AccessToken = %q, want refreshed token stored", store.conns[db.SourceSpotify].AccessToken)
	}
	if sp.calls != 2 {
		t.Errorf("fetch calls = %d, want exactly one retry", sp.calls)
	}
}

func TestRunNoConnections(t *testing.T) {
	now := time.Now()
	store := newFakeStore(now)
	svc := newTestService(store, &fakeSpotify{}, &fakeApple{}, &fakeDispatcher{}, now)

	res := svc.Run(context.Background(), "u1")
	if res.SpotifyErr != nil || res.AppleErr != nil {
		t.Fatalf("errors = %v / %v, want none for unconnected user", res.SpotifyErr, res.AppleErr)
	}
	if res.SpotifyNew != 0 || res.AppleNew != 0 {
		t.Errorf("counts = %d / %d, want 0 / 0", res.SpotifyNew, res.AppleNew)
	}
}

func TestRunAppleOverlapBoundary(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newFakeStore(now)
	store.conns[db.SourceAppleMusic] = appleConn()

	// Stored window head [T5 T4 T3 T2 T1] from a fetch two minutes ago.
	prevSession := uuid.New()
	seeded := now.Add(-12 * time.Minute)
	for i, id := range []string{"T5", "T4", "T3", "T2", "T1"} {
		store.seed(db.Play{
			UserID: "u1", Source: db.SourceAppleMusic, TrackID: id,
			PlayedAt: seeded, CreatedAt: now.Add(-2 * time.Minute),
			FetchSessionID: prevSession, PositionInFetch: i,
		})
	}

	ap := &fakeApple{tracks: []applemusic.Track{
		appleTrack("T7", "Seven"),
		appleTrack("T6", "Six"),
		appleTrack("T5", "Five"),
		appleTrack("T4", "Four"),
		appleTrack("T3", "Three"),
	}}
	disp := &fakeDispatcher{}
	svc := newTestService(store, &fakeSpotify{}, ap, disp, now)

	res := svc.Run(context.Background(), "u1")
	if res.AppleErr != nil {
		t.Fatalf("unexpected error: %v", res.AppleErr)
	}
	if res.AppleNew != 2 {
		t.Fatalf("AppleNew = %d, want 2", res.AppleNew)
	}
	if len(disp.plays) != 2 {
		t.Fatalf("dispatched %d plays, want 2", len(disp.plays))
	}
	if disp.plays[0].TrackID != "T7" || disp.plays[1].TrackID != "T6" {
		t.Errorf("persisted %q and %q, want T7 and T6", disp.plays[0].TrackID, disp.plays[1].TrackID)
	}
	if !disp.plays[0].PlayedAt.Equal(now) {
		t.Errorf("PlayedAt = %v, want ingestion time", disp.plays[0].PlayedAt)
	}
}

func TestRunAppleIdenticalWindow(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newFakeStore(now)
	store.conns[db.SourceAppleMusic] = appleConn()

	prevSession := uuid.New()
	ids := []string{"T5", "T4", "T3", "T2", "T1"}
	for i, id := range ids {
		store.seed(db.Play{
			UserID: "u1", Source: db.SourceAppleMusic, TrackID: id,
			PlayedAt: now.Add(-2 * time.Minute), CreatedAt: now.Add(-2 * time.Minute),
			FetchSessionID: prevSession, PositionInFetch: i,
		})
	}

	var tracks []applemusic.Track
	for _, id := range ids {
		tracks = append(tracks, appleTrack(id, id))
	}
	svc := newTestService(store, &fakeSpotify{}, &fakeApple{tracks: tracks}, &fakeDispatcher{}, now)

	res := svc.Run(context.Background(), "u1")
	if res.AppleErr != nil {
		t.Fatalf("unexpected error: %v", res.AppleErr)
	}
	if res.AppleNew != 0 {
		t.Errorf("AppleNew = %d, want 0 for identical window", res.AppleNew)
	}
}

func TestRunAppleSessionRepeatGuard(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newFakeStore(now)
	store.conns[db.SourceAppleMusic] = appleConn()

	// T1 already landed in two recent sessions. The overlap scan alone is
	// too weak to place a one-track overlap, so the guard has to catch it.
	for i, age := range []time.Duration{8 * time.Minute, 2 * time.Minute} {
		store.seed(db.Play{
			UserID: "u1", Source: db.SourceAppleMusic, TrackID: "T1",
			PlayedAt: now.Add(-age), CreatedAt: now.Add(-age),
			FetchSessionID: uuid.New(), PositionInFetch: i,
		})
	}

	ap := &fakeApple{tracks: []applemusic.Track{
		appleTrack("T1", "One"),
		appleTrack("T2", "Two"),
	}}
	svc := newTestService(store, &fakeSpotify{}, ap, &fakeDispatcher{}, now)

	res := svc.Run(context.Background(), "u1")
	if res.AppleErr != nil {
		t.Fatalf("unexpected error: %v", res.AppleErr)
	}
	if res.AppleNew != 1 {
		t.Fatalf("AppleNew = %d, want only the genuinely new track", res.AppleNew)
	}
	last := store.plays[len(store.plays)-1]
	if last.TrackID != "T2" {
		t.Errorf("persisted %q, want T2", last.TrackID)
	}
}

func TestRunIsolatesSourceFailures(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newFakeStore(now)
	store.conns[db.SourceSpotify] = spotifyConn(now)
	store.conns[db.SourceAppleMusic] = appleConn()

	sp := &fakeSpotify{err: context.DeadlineExceeded}
	ap := &fakeApple{tracks: []applemusic.Track{appleTrack("T1", "One")}}
	svc := newTestService(store, sp, ap, &fakeDispatcher{}, now)

	res := svc.Run(context.Background(), "u1")
	if res.SpotifyErr == nil {
		t.Error("expected spotify error to be reported")
	}
	if res.AppleErr != nil {
		t.Fatalf("apple error = %v, want sibling source unaffected", res.AppleErr)
	}
	if res.AppleNew != 1 {
		t.Errorf("AppleNew = %d, want 1", res.AppleNew)
	}
}
