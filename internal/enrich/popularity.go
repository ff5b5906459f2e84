package enrich

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/soundprint/soundprint/internal/db"
	"github.com/soundprint/soundprint/internal/names"
	"github.com/soundprint/soundprint/internal/spotify"
)

// PopularityStore is the persistence surface for popularity data.
type PopularityStore interface {
	SetPopularityData(ctx context.Context, playID int64, data json.RawMessage) error
}

// TrackCatalog searches the provider's track catalog. The service-credential
// Spotify client satisfies it.
type TrackCatalog interface {
	SearchTrack(ctx context.Context, trackName, artistName string) (*spotify.TrackInfo, string, error)
}

// Popularity cross-references Apple Music plays against the Spotify catalog
// so plays from a provider without popularity metrics still carry them.
type Popularity struct {
	store   PopularityStore
	catalog TrackCatalog
	limiter *rate.Limiter
	log     *logrus.Logger
}

// NewPopularity creates the popularity cross-reference worker.
func NewPopularity(store PopularityStore, catalog TrackCatalog, limiter *rate.Limiter, log *logrus.Logger) *Popularity {
	return &Popularity{store: store, catalog: catalog, limiter: limiter, log: log}
}

// Attach looks the play's track up in the catalog and stores the popularity
// payload when the top hit is the same track. Spotify plays already carry
// this data and are skipped.
func (p *Popularity) Attach(ctx context.Context, play db.Play) error {
	if play.Source != db.SourceAppleMusic {
		return nil
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}
	info, matchedName, err := p.catalog.SearchTrack(ctx, play.TrackName, play.ArtistName)
	if err != nil {
		return fmt.Errorf("searching track catalog: %w", err)
	}
	if info == nil || !names.IsSimilar(matchedName, play.TrackName) {
		p.log.WithFields(logrus.Fields{
			"component": "enrich.popularity",
			"play_id":   play.ID,
		}).Debug("no catalog match for popularity data")
		return nil
	}

	payload, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("marshaling popularity data: %w", err)
	}
	if err := p.store.SetPopularityData(ctx, play.ID, payload); err != nil {
		return fmt.Errorf("storing popularity data: %w", err)
	}
	return nil
}
