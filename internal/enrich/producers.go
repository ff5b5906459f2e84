// Package enrich attaches metadata to persisted plays: producer credits,
// genres, cached artist images, and cross-referenced popularity data. Each
// worker is isolated; a failure in one never aborts the others, and a play
// with partial enrichment stays valid.
package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/soundprint/soundprint/internal/db"
	"github.com/soundprint/soundprint/internal/genius"
	"github.com/soundprint/soundprint/internal/names"
)

// producerLookupTTL is how long a cached producer search stays fresh.
const producerLookupTTL = 7 * 24 * time.Hour

// MetadataAPI is the song-metadata surface the producer and image workers
// consume. *genius.Client satisfies it.
type MetadataAPI interface {
	Search(ctx context.Context, query string) ([]genius.Hit, error)
	SongProducers(ctx context.Context, songID int64) ([]genius.Producer, error)
	ArtistImage(ctx context.Context, artistID int64) (string, error)
}

// ProducerStore is the persistence surface for producer enrichment.
type ProducerStore interface {
	CachedLookup(ctx context.Context, trackName, artistName string) (*db.ProducerLookup, error)
	PutLookup(ctx context.Context, l *db.ProducerLookup) error
	UpsertProducer(ctx context.Context, name string, imageURL *string) (*db.Producer, error)
	AttachProducer(ctx context.Context, playID, producerID int64) error
}

// Producers resolves and attaches producer credits to plays.
type Producers struct {
	store   ProducerStore
	api     MetadataAPI
	limiter *rate.Limiter
	log     *logrus.Logger
	now     func() time.Time
}

// NewProducers creates the producer enrichment worker.
func NewProducers(store ProducerStore, api MetadataAPI, limiter *rate.Limiter, log *logrus.Logger) *Producers {
	return &Producers{store: store, api: api, limiter: limiter, log: log, now: time.Now}
}

// Attach resolves the play's producer credits and links them, returning the
// attached producers for the collaboration notifier. A fresh cache entry
// short-circuits every network call, including cached no-match outcomes.
func (p *Producers) Attach(ctx context.Context, play db.Play) ([]db.Producer, error) {
	cached, err := p.store.CachedLookup(ctx, play.TrackName, play.ArtistName)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		return nil, fmt.Errorf("reading producer lookup cache: %w", err)
	}
	if cached != nil && p.now().Sub(cached.FetchedAt) < producerLookupTTL {
		return p.attachCached(ctx, play, cached)
	}

	credits, err := p.resolve(ctx, play)
	if err != nil {
		return nil, err
	}

	attached := p.attachCredits(ctx, play, credits)

	payload, err := json.Marshal(credits)
	if err != nil {
		return nil, fmt.Errorf("marshaling producer cache entry: %w", err)
	}
	if err := p.store.PutLookup(ctx, &db.ProducerLookup{
		TrackName:  play.TrackName,
		ArtistName: play.ArtistName,
		Producers:  payload,
	}); err != nil {
		return nil, fmt.Errorf("writing producer lookup cache: %w", err)
	}
	return attached, nil
}

// attachCached replays a cached lookup without any network calls.
func (p *Producers) attachCached(ctx context.Context, play db.Play, cached *db.ProducerLookup) ([]db.Producer, error) {
	var credits []db.CachedProducer
	if err := json.Unmarshal(cached.Producers, &credits); err != nil {
		return nil, fmt.Errorf("parsing cached producers: %w", err)
	}
	return p.attachCredits(ctx, play, credits), nil
}

// attachCredits upserts and links each credit. An individual association
// failure costs that producer, not the rest of the set.
func (p *Producers) attachCredits(ctx context.Context, play db.Play, credits []db.CachedProducer) []db.Producer {
	var attached []db.Producer
	for _, c := range credits {
		producer, err := p.store.UpsertProducer(ctx, c.Name, c.ImageURL)
		if err == nil {
			err = p.store.AttachProducer(ctx, play.ID, producer.ID)
		}
		if err != nil {
			p.log.WithFields(logrus.Fields{
				"component": "enrich.producers",
				"play_id":   play.ID,
				"producer":  c.Name,
			}).WithError(err).Warn("producer association failed")
			continue
		}
		attached = append(attached, *producer)
	}
	return attached
}

// resolve searches the metadata API for the play's song and collects its
// producer credits. An empty result is a normal outcome and is cached so the
// miss is not re-queried for a week.
func (p *Producers) resolve(ctx context.Context, play db.Play) ([]db.CachedProducer, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	hits, err := p.api.Search(ctx, play.TrackName+" "+play.ArtistName)
	if err != nil {
		return nil, fmt.Errorf("searching song metadata: %w", err)
	}

	hit := matchHit(hits, play.TrackName, play.ArtistName)
	if hit == nil {
		p.log.WithFields(logrus.Fields{
			"component": "enrich.producers",
			"track":     play.TrackName,
			"artist":    play.ArtistName,
		}).Debug("no matching song found")
		return nil, nil
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	producers, err := p.api.SongProducers(ctx, hit.SongID)
	if err != nil {
		return nil, fmt.Errorf("fetching song producers: %w", err)
	}

	credits := make([]db.CachedProducer, 0, len(producers))
	for _, pr := range producers {
		credit := db.CachedProducer{Name: pr.Name}
		imageURL := pr.ImageURL
		if imageURL == "" {
			// Credit entries often omit the image; the artist record
			// usually has one. Failure here costs only the image.
			if err := p.limiter.Wait(ctx); err != nil {
				return nil, err
			}
			imageURL, err = p.api.ArtistImage(ctx, pr.ID)
			if err != nil {
				p.log.WithFields(logrus.Fields{
					"component": "enrich.producers",
					"producer":  pr.Name,
				}).WithError(err).Debug("producer image lookup failed")
				imageURL = ""
			}
		}
		if imageURL != "" {
			credit.ImageURL = &imageURL
		}
		credits = append(credits, credit)
	}
	return credits, nil
}

// matchHit picks the search hit that actually is the played song. Strict
// acceptance requires the cleaned titles to match and the primary artist to
// match one of the split credited artists; when nothing passes, a single
// lenient pass accepts a reasonably close hit rather than none at all.
func matchHit(hits []genius.Hit, trackName, artistName string) *genius.Hit {
	credited := names.SplitArtists(artistName)

	for i := range hits {
		if titleMatches(hits[i].Title, trackName) && artistMatches(hits[i].PrimaryArtistName, credited, names.MatchThreshold) {
			return &hits[i]
		}
	}
	for i := range hits {
		if names.Matches(hits[i].Title, trackName, names.LenientThreshold) &&
			artistMatches(hits[i].PrimaryArtistName, credited, names.LenientThreshold) {
			return &hits[i]
		}
	}
	return nil
}

func titleMatches(hitTitle, trackName string) bool {
	return names.Exact(hitTitle, trackName) || names.CleanedMatch(hitTitle, trackName)
}

func artistMatches(hitArtist string, credited []string, threshold int) bool {
	for _, name := range credited {
		if names.Matches(hitArtist, name, threshold) {
			return true
		}
	}
	return false
}
