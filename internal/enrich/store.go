package enrich

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/soundprint/soundprint/internal/db"
	"github.com/soundprint/soundprint/internal/spotify"
)

// dbStore adapts *db.DB's repositories to the enrichment store interfaces.
type dbStore struct {
	database *db.DB
}

// NewStore wraps the database for use by the enrichment workers. The result
// satisfies ProducerStore, GenreStore, ImageStore, and PopularityStore.
func NewStore(database *db.DB) *dbStore {
	return &dbStore{database: database}
}

func (s *dbStore) CachedLookup(ctx context.Context, trackName, artistName string) (*db.ProducerLookup, error) {
	return s.database.ProducerLookups().Get(ctx, trackName, artistName)
}

func (s *dbStore) PutLookup(ctx context.Context, l *db.ProducerLookup) error {
	return s.database.ProducerLookups().Put(ctx, l)
}

func (s *dbStore) UpsertProducer(ctx context.Context, name string, imageURL *string) (*db.Producer, error) {
	return s.database.Producers().Upsert(ctx, name, imageURL)
}

func (s *dbStore) AttachProducer(ctx context.Context, playID, producerID int64) error {
	return s.database.Plays().AttachProducer(ctx, playID, producerID)
}

func (s *dbStore) FindOrCreateGenre(ctx context.Context, name string) (*db.Genre, error) {
	return s.database.Genres().FindOrCreate(ctx, name)
}

func (s *dbStore) AttachGenre(ctx context.Context, playID, genreID int64) error {
	return s.database.Plays().AttachGenre(ctx, playID, genreID)
}

func (s *dbStore) HasArtistImage(ctx context.Context, artistName string) (bool, error) {
	return s.database.ArtistImages().Exists(ctx, artistName)
}

func (s *dbStore) PutArtistImage(ctx context.Context, artistName, imageURL string) error {
	return s.database.ArtistImages().Put(ctx, artistName, imageURL)
}

func (s *dbStore) SetPopularityData(ctx context.Context, playID int64, data json.RawMessage) error {
	return s.database.Plays().SetPopularityData(ctx, playID, data)
}

// ServiceCatalog adapts a service-account credential to the ArtistCatalog
// and TrackCatalog interfaces, refreshing the token exactly once when the
// provider rejects it.
type ServiceCatalog struct {
	account *spotify.ServiceAccount
}

// NewServiceCatalog wraps a service account for catalog lookups.
func NewServiceCatalog(account *spotify.ServiceAccount) *ServiceCatalog {
	return &ServiceCatalog{account: account}
}

func (c *ServiceCatalog) SearchArtist(ctx context.Context, name string, limit int) ([]spotify.FoundArtist, error) {
	var found []spotify.FoundArtist
	err := c.withClient(ctx, func(client *spotify.Client) error {
		var err error
		found, err = client.SearchArtist(ctx, name, limit)
		return err
	})
	return found, err
}

func (c *ServiceCatalog) ArtistGenres(ctx context.Context, artistID string) ([]string, error) {
	var genres []string
	err := c.withClient(ctx, func(client *spotify.Client) error {
		var err error
		genres, err = client.ArtistGenres(ctx, artistID)
		return err
	})
	return genres, err
}

func (c *ServiceCatalog) SearchTrack(ctx context.Context, trackName, artistName string) (*spotify.TrackInfo, string, error) {
	var (
		info    *spotify.TrackInfo
		matched string
	)
	err := c.withClient(ctx, func(client *spotify.Client) error {
		var err error
		info, matched, err = client.SearchTrack(ctx, trackName, artistName)
		return err
	})
	return info, matched, err
}

func (c *ServiceCatalog) withClient(ctx context.Context, call func(*spotify.Client) error) error {
	client, err := c.account.Client(ctx)
	if err != nil {
		return err
	}
	err = call(client)
	if !errors.Is(err, spotify.ErrUnauthorized) {
		return err
	}
	client, err = c.account.Refresh(ctx)
	if err != nil {
		return err
	}
	return call(client)
}
