package enrich

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/soundprint/soundprint/internal/db"
	"github.com/soundprint/soundprint/internal/discogs"
	"github.com/soundprint/soundprint/internal/names"
	"github.com/soundprint/soundprint/internal/spotify"
	"github.com/soundprint/soundprint/internal/trackdata"
)

// GenreStore is the persistence surface for genre enrichment.
type GenreStore interface {
	FindOrCreateGenre(ctx context.Context, name string) (*db.Genre, error)
	AttachGenre(ctx context.Context, playID, genreID int64) error
}

// ArtistCatalog is the provider surface used to resolve genres and artist
// images by name. The service-credential Spotify client satisfies it.
type ArtistCatalog interface {
	SearchArtist(ctx context.Context, name string, limit int) ([]spotify.FoundArtist, error)
	ArtistGenres(ctx context.Context, artistID string) ([]string, error)
}

// ReleaseCatalog is the fallback genre source. *discogs.Client satisfies it.
type ReleaseCatalog interface {
	SearchReleases(ctx context.Context, track, artist string) ([]discogs.Release, error)
}

// Genres resolves and attaches genre names to plays.
type Genres struct {
	store    GenreStore
	catalog  ArtistCatalog
	releases ReleaseCatalog
	limiter  *rate.Limiter
	log      *logrus.Logger
}

// NewGenres creates the genre enrichment worker.
func NewGenres(store GenreStore, catalog ArtistCatalog, releases ReleaseCatalog, limiter *rate.Limiter, log *logrus.Logger) *Genres {
	return &Genres{store: store, catalog: catalog, releases: releases, limiter: limiter, log: log}
}

// Attach resolves the play's genres and links them. Spotify plays take
// genres from the credited artists' catalog entries; Apple Music plays carry
// genre names in the normalized payload. When the primary source yields
// nothing, the release database is searched as a fallback.
func (g *Genres) Attach(ctx context.Context, play db.Play) error {
	var genreNames []string
	switch play.Source {
	case db.SourceAppleMusic:
		genreNames = appleGenres(play)
	default:
		genreNames = g.spotifyGenres(ctx, play)
	}

	if len(genreNames) == 0 {
		genreNames = g.fallbackGenres(ctx, play)
	}
	if len(genreNames) == 0 {
		g.log.WithFields(logrus.Fields{
			"component": "enrich.genres",
			"play_id":   play.ID,
		}).Debug("no genres found")
		return nil
	}

	// Individual association failures cost one genre, not the play.
	for _, name := range genreNames {
		if err := g.attach(ctx, play.ID, name); err != nil {
			g.log.WithFields(logrus.Fields{
				"component": "enrich.genres",
				"play_id":   play.ID,
				"genre":     name,
			}).WithError(err).Warn("genre association failed")
		}
	}
	return nil
}

func (g *Genres) attach(ctx context.Context, playID int64, name string) error {
	genre, err := g.store.FindOrCreateGenre(ctx, name)
	if err != nil {
		return fmt.Errorf("finding genre %q: %w", name, err)
	}
	if err := g.store.AttachGenre(ctx, playID, genre.ID); err != nil {
		return fmt.Errorf("attaching genre %q: %w", name, err)
	}
	return nil
}

// spotifyGenres collects the genre lists of every credited artist. Each
// artist lookup is isolated so one failure does not drop the rest.
func (g *Genres) spotifyGenres(ctx context.Context, play db.Play) []string {
	seen := make(map[string]bool)
	var out []string
	for _, artistName := range names.SplitArtists(play.ArtistName) {
		genres, err := g.artistGenres(ctx, artistName)
		if err != nil {
			g.log.WithFields(logrus.Fields{
				"component": "enrich.genres",
				"artist":    artistName,
			}).WithError(err).Debug("artist genre lookup failed")
			continue
		}
		for _, name := range genres {
			if name != "" && !seen[name] {
				seen[name] = true
				out = append(out, name)
			}
		}
	}
	return out
}

func (g *Genres) artistGenres(ctx context.Context, artistName string) ([]string, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	found, err := g.catalog.SearchArtist(ctx, artistName, 5)
	if err != nil {
		return nil, fmt.Errorf("searching artist: %w", err)
	}
	for _, f := range found {
		if !names.IsSimilar(f.Name, artistName) {
			continue
		}
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		genres, err := g.catalog.ArtistGenres(ctx, f.ID)
		if err != nil {
			return nil, fmt.Errorf("fetching artist genres: %w", err)
		}
		return genres, nil
	}
	return nil, nil
}

// appleGenres reads the genre names the provider delivered with the track.
func appleGenres(play db.Play) []string {
	var data trackdata.Data
	if err := json.Unmarshal(play.TrackData, &data); err != nil {
		return nil
	}
	var out []string
	for _, name := range data.GenreNames {
		// The provider pads every track with a catch-all entry.
		if name != "" && name != "Music" {
			out = append(out, name)
		}
	}
	return out
}

// fallbackGenres merges genre and style names across release search results.
func (g *Genres) fallbackGenres(ctx context.Context, play db.Play) []string {
	primary := names.SplitArtists(play.ArtistName)[0]
	if err := g.limiter.Wait(ctx); err != nil {
		return nil
	}
	releases, err := g.releases.SearchReleases(ctx, play.TrackName, primary)
	if err != nil {
		g.log.WithFields(logrus.Fields{
			"component": "enrich.genres",
			"play_id":   play.ID,
		}).WithError(err).Debug("release search fallback failed")
		return nil
	}
	return discogs.MergedGenres(releases)
}
