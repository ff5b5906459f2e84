package enrich

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/soundprint/soundprint/internal/names"
)

// ImageStore is the persistence surface for the artist image cache.
type ImageStore interface {
	HasArtistImage(ctx context.Context, artistName string) (bool, error)
	PutArtistImage(ctx context.Context, artistName, imageURL string) error
}

// ErrNoImage is returned when no source could produce an image for the
// artist. The miss is not cached; a later run may succeed.
var ErrNoImage = errors.New("no artist image found")

// Images caches artist images by exact artist name. The cache is write-once:
// the first resolved URL wins and misses are never recorded.
type Images struct {
	store   ImageStore
	api     MetadataAPI
	catalog ArtistCatalog
	limiter *rate.Limiter
	log     *logrus.Logger
}

// NewImages creates the artist image worker.
func NewImages(store ImageStore, api MetadataAPI, catalog ArtistCatalog, limiter *rate.Limiter, log *logrus.Logger) *Images {
	return &Images{store: store, api: api, catalog: catalog, limiter: limiter, log: log}
}

// Cache resolves and stores an image for the artist unless one is already
// cached. The metadata API is tried first, then the provider catalog under
// the service credential.
func (im *Images) Cache(ctx context.Context, artistName string) error {
	cached, err := im.store.HasArtistImage(ctx, artistName)
	if err != nil {
		return fmt.Errorf("checking artist image cache: %w", err)
	}
	if cached {
		return nil
	}

	imageURL, err := im.fromMetadata(ctx, artistName)
	if err != nil {
		im.log.WithFields(logrus.Fields{
			"component": "enrich.images",
			"artist":    artistName,
		}).WithError(err).Debug("metadata image lookup failed")
	}
	if imageURL == "" {
		imageURL, err = im.fromCatalog(ctx, artistName)
		if err != nil {
			return fmt.Errorf("catalog image lookup: %w", err)
		}
	}
	if imageURL == "" {
		return ErrNoImage
	}
	return im.store.PutArtistImage(ctx, artistName, imageURL)
}

// fromMetadata takes the metadata API's image for an exactly matching
// primary artist, or the top hit when it clears the similar tier.
func (im *Images) fromMetadata(ctx context.Context, artistName string) (string, error) {
	if err := im.limiter.Wait(ctx); err != nil {
		return "", err
	}
	hits, err := im.api.Search(ctx, artistName)
	if err != nil {
		return "", fmt.Errorf("searching metadata: %w", err)
	}
	for _, h := range hits {
		if names.Exact(h.PrimaryArtistName, artistName) && h.ArtistImageURL != "" {
			return h.ArtistImageURL, nil
		}
	}
	if len(hits) > 0 && names.IsSimilar(hits[0].PrimaryArtistName, artistName) {
		return hits[0].ArtistImageURL, nil
	}
	return "", nil
}

func (im *Images) fromCatalog(ctx context.Context, artistName string) (string, error) {
	if err := im.limiter.Wait(ctx); err != nil {
		return "", err
	}
	found, err := im.catalog.SearchArtist(ctx, artistName, 5)
	if err != nil {
		return "", fmt.Errorf("searching artist catalog: %w", err)
	}
	for _, f := range found {
		if names.IsSimilar(f.Name, artistName) && f.ImageURL != "" {
			return f.ImageURL, nil
		}
	}
	return "", nil
}
