// Package applemusic provides a client for the Apple Music API's
// recently-played endpoint.
package applemusic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	defaultBaseURL = "https://api.music.apple.com/v1"
	userAgent      = "soundprint/1.0"
)

// Sentinel errors.
var (
	// ErrUnauthorized is returned when either token is rejected.
	ErrUnauthorized = errors.New("apple music: unauthorized")

	// ErrRateLimited is returned on HTTP 429 after retries are exhausted.
	ErrRateLimited = errors.New("apple music: rate limited")
)

// Track is one entry of the recently-played window. The provider returns no
// play timestamp and no cursor; the window is fixed-size and
// reverse-chronological.
type Track struct {
	ID         string          `json:"id"`
	Attributes TrackAttributes `json:"attributes"`
	raw        json.RawMessage
}

// TrackAttributes are the display fields ingestion reads directly.
type TrackAttributes struct {
	Name       string `json:"name"`
	ArtistName string `json:"artistName"`
	AlbumName  string `json:"albumName"`
}

// Raw returns the provider's full JSON payload for the track, for the
// normalizer.
func (t Track) Raw() json.RawMessage {
	return t.raw
}

// Client calls the Apple Music API with a developer token plus a per-user
// music user token.
type Client struct {
	developerToken string
	httpClient     *http.Client
	baseURL        string
}

// NewClient creates an Apple Music client with the given developer token.
func NewClient(developerToken string) *Client {
	return &Client{
		developerToken: developerToken,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		baseURL: defaultBaseURL,
	}
}

// WithBaseURL overrides the API base URL. Used by tests.
func (c *Client) WithBaseURL(u string) *Client {
	c.baseURL = u
	return c
}

// RecentTracks fetches the user's recently-played window, most recent
// first. The musicUserToken authorizes access to that user's history.
func (c *Client) RecentTracks(ctx context.Context, musicUserToken string) ([]Track, error) {
	reqURL := c.baseURL + "/me/recent/played/tracks"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.developerToken)
	req.Header.Set("Music-User-Token", musicUserToken)
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, ErrUnauthorized
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, ErrRateLimited
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("recently played request failed: %s", resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	// Decode twice: typed for the fields ingestion needs, raw so each
	// track keeps its full payload for normalization.
	var typed struct {
		Data []Track `json:"data"`
	}
	if err := json.Unmarshal(body, &typed); err != nil {
		return nil, fmt.Errorf("parsing recently played response: %w", err)
	}
	var raw struct {
		Data []json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("parsing recently played payloads: %w", err)
	}
	for i := range typed.Data {
		if i < len(raw.Data) {
			typed.Data[i].raw = raw.Data[i]
		}
	}
	return typed.Data, nil
}
