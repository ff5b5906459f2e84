// Package spotify wraps the Spotify Web API for recently-played ingestion
// and the artist lookups used by enrichment.
package spotify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	spotifyapi "github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2"
)

// ErrUnauthorized is returned when the provider rejects the current token.
// The caller is expected to refresh exactly once and retry.
var ErrUnauthorized = errors.New("spotify: unauthorized")

// RecentlyPlayedLimit is the provider's maximum recently-played page size.
const RecentlyPlayedLimit = 50

// ArtistRef identifies one credited artist on a played track.
type ArtistRef struct {
	ID   string
	Name string
}

// Played is one recently-played entry, shaped for ingestion. Raw carries the
// provider's track payload for the normalizer.
type Played struct {
	TrackID    string
	TrackName  string
	ArtistName string // composite credit string, artists joined by ", "
	AlbumName  string
	PlayedAt   time.Time
	Artists    []ArtistRef
	Raw        json.RawMessage
}

// Client wraps an authenticated Spotify API client.
type Client struct {
	api *spotifyapi.Client
}

// New creates a client from an OAuth token. The token is used as-is; refresh
// is the caller's decision so the one-refresh-per-run policy stays explicit.
func New(ctx context.Context, token *oauth2.Token) *Client {
	httpClient := oauth2.NewClient(ctx, oauth2.StaticTokenSource(token))
	return &Client{api: spotifyapi.New(httpClient)}
}

// NewFromAPI wraps an existing API client. Used by tests.
func NewFromAPI(api *spotifyapi.Client) *Client {
	return &Client{api: api}
}

// RecentlyPlayedAfter fetches plays strictly newer than the given timestamp.
// A zero after fetches the provider's full current window.
func (c *Client) RecentlyPlayedAfter(ctx context.Context, after time.Time, limit int) ([]Played, error) {
	if limit <= 0 || limit > RecentlyPlayedLimit {
		limit = RecentlyPlayedLimit
	}
	opts := spotifyapi.RecentlyPlayedOptions{Limit: spotifyapi.Numeric(limit)}
	if !after.IsZero() {
		opts.AfterEpochMs = after.UnixMilli()
	}

	items, err := c.api.PlayerRecentlyPlayedOpt(ctx, &opts)
	if err != nil {
		return nil, wrapErr("fetching recently played", err)
	}

	plays := make([]Played, 0, len(items))
	for _, item := range items {
		p, err := convertPlayed(item)
		if err != nil {
			return nil, fmt.Errorf("converting recently played item: %w", err)
		}
		plays = append(plays, p)
	}
	return plays, nil
}

// ArtistGenres returns the provider's genre list for one artist.
func (c *Client) ArtistGenres(ctx context.Context, artistID string) ([]string, error) {
	artist, err := c.api.GetArtist(ctx, spotifyapi.ID(artistID))
	if err != nil {
		return nil, wrapErr("fetching artist", err)
	}
	return artist.Genres, nil
}

// FoundArtist is a search hit from the artist search endpoint.
type FoundArtist struct {
	ID       string
	Name     string
	ImageURL string
}

// SearchArtist returns ranked artist search results for a free-text name.
func (c *Client) SearchArtist(ctx context.Context, name string, limit int) ([]FoundArtist, error) {
	if limit <= 0 {
		limit = 5
	}
	result, err := c.api.Search(ctx, name, spotifyapi.SearchTypeArtist, spotifyapi.Limit(limit))
	if err != nil {
		return nil, wrapErr("searching artists", err)
	}
	if result.Artists == nil {
		return nil, nil
	}

	found := make([]FoundArtist, 0, len(result.Artists.Artists))
	for _, a := range result.Artists.Artists {
		f := FoundArtist{ID: string(a.ID), Name: a.Name}
		if len(a.Images) > 0 {
			f.ImageURL = a.Images[0].URL
		}
		found = append(found, f)
	}
	return found, nil
}

// TrackInfo is the cross-reference payload from a track search, used to
// populate popularity data for plays from providers that do not expose it.
type TrackInfo struct {
	Popularity int    `json:"popularity"`
	Explicit   bool   `json:"explicit"`
	PreviewURL string `json:"preview_url,omitempty"`
}

// SearchTrack returns the top track hit for "track artist", or nil when the
// search has no results.
func (c *Client) SearchTrack(ctx context.Context, trackName, artistName string) (*TrackInfo, string, error) {
	q := strings.TrimSpace(trackName + " " + artistName)
	result, err := c.api.Search(ctx, q, spotifyapi.SearchTypeTrack, spotifyapi.Limit(1))
	if err != nil {
		return nil, "", wrapErr("searching tracks", err)
	}
	if result.Tracks == nil || len(result.Tracks.Tracks) == 0 {
		return nil, "", nil
	}
	top := result.Tracks.Tracks[0]
	return &TrackInfo{
		Popularity: int(top.Popularity),
		Explicit:   top.Explicit,
		PreviewURL: top.PreviewURL,
	}, top.Name, nil
}

func convertPlayed(item spotifyapi.RecentlyPlayedItem) (Played, error) {
	names := make([]string, len(item.Track.Artists))
	refs := make([]ArtistRef, len(item.Track.Artists))
	for i, a := range item.Track.Artists {
		names[i] = a.Name
		refs[i] = ArtistRef{ID: string(a.ID), Name: a.Name}
	}

	raw, err := json.Marshal(item.Track)
	if err != nil {
		return Played{}, fmt.Errorf("marshaling track payload: %w", err)
	}

	return Played{
		TrackID:    string(item.Track.ID),
		TrackName:  item.Track.Name,
		ArtistName: strings.Join(names, ", "),
		AlbumName:  item.Track.Album.Name,
		PlayedAt:   item.PlayedAt,
		Artists:    refs,
		Raw:        raw,
	}, nil
}

// wrapErr translates provider 401s into ErrUnauthorized and wraps the rest.
func wrapErr(op string, err error) error {
	var se spotifyapi.Error
	if errors.As(err, &se) && se.Status == http.StatusUnauthorized {
		return fmt.Errorf("%s: %w", op, ErrUnauthorized)
	}
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil && re.Response.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%s: %w", op, ErrUnauthorized)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// RefreshToken performs one refresh-token grant and returns the new token.
func RefreshToken(ctx context.Context, clientID, clientSecret, refreshToken string) (*oauth2.Token, error) {
	cfg := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:  spotifyauth.AuthURL,
			TokenURL: spotifyauth.TokenURL,
		},
	}
	token, err := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, fmt.Errorf("refreshing token: %w", err)
	}
	// Spotify does not always return a new refresh token; keep the old one.
	if token.RefreshToken == "" {
		token.RefreshToken = refreshToken
	}
	return token, nil
}
