// Package genius provides a client for the song-metadata API used to
// resolve producer credits and artist images.
package genius

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const (
	defaultBaseURL = "https://api.genius.com"
	userAgent      = "soundprint/1.0"
)

// Sentinel errors.
var (
	// ErrRateLimited is returned on HTTP 429 after retries are exhausted.
	ErrRateLimited = errors.New("genius: rate limited")

	// ErrNotFound is returned when a song or artist id does not exist.
	ErrNotFound = errors.New("genius: not found")
)

// Hit is one search result.
type Hit struct {
	SongID            int64
	Title             string
	PrimaryArtistName string
	PrimaryArtistID   int64
	ArtistImageURL    string
}

// Producer is one credited producer on a song.
type Producer struct {
	ID       int64
	Name     string
	ImageURL string
}

// Client calls the metadata API with a bearer access token.
type Client struct {
	accessToken string
	httpClient  *http.Client
	baseURL     string
}

// NewClient creates a metadata-API client.
func NewClient(accessToken string) *Client {
	return &Client{
		accessToken: accessToken,
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

// Search returns ranked hits for a free-text query.
func (c *Client) Search(ctx context.Context, query string) ([]Hit, error) {
	params := url.Values{"q": {query}}
	body, err := c.get(ctx, "/search", params)
	if err != nil {
		return nil, fmt.Errorf("searching songs: %w", err)
	}

	var resp struct {
		Response struct {
			Hits []struct {
				Result struct {
					ID            int64  `json:"id"`
					Title         string `json:"title"`
					PrimaryArtist struct {
						ID       int64  `json:"id"`
						Name     string `json:"name"`
						ImageURL string `json:"image_url"`
					} `json:"primary_artist"`
				} `json:"result"`
			} `json:"hits"`
		} `json:"response"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parsing search response: %w", err)
	}

	hits := make([]Hit, 0, len(resp.Response.Hits))
	for _, h := range resp.Response.Hits {
		hits = append(hits, Hit{
			SongID:            h.Result.ID,
			Title:             h.Result.Title,
			PrimaryArtistName: h.Result.PrimaryArtist.Name,
			PrimaryArtistID:   h.Result.PrimaryArtist.ID,
			ArtistImageURL:    h.Result.PrimaryArtist.ImageURL,
		})
	}
	return hits, nil
}

// SongProducers returns the producers credited on a song's detail record.
func (c *Client) SongProducers(ctx context.Context, songID int64) ([]Producer, error) {
	body, err := c.get(ctx, "/songs/"+strconv.FormatInt(songID, 10), nil)
	if err != nil {
		return nil, fmt.Errorf("fetching song %d: %w", songID, err)
	}

	var resp struct {
		Response struct {
			Song struct {
				ProducerArtists []struct {
					ID       int64  `json:"id"`
					Name     string `json:"name"`
					ImageURL string `json:"image_url"`
				} `json:"producer_artists"`
			} `json:"song"`
		} `json:"response"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parsing song response: %w", err)
	}

	producers := make([]Producer, 0, len(resp.Response.Song.ProducerArtists))
	for _, p := range resp.Response.Song.ProducerArtists {
		producers = append(producers, Producer{ID: p.ID, Name: p.Name, ImageURL: p.ImageURL})
	}
	return producers, nil
}

// ArtistImage returns an artist's representative image URL, which may be
// empty when the artist has none.
func (c *Client) ArtistImage(ctx context.Context, artistID int64) (string, error) {
	body, err := c.get(ctx, "/artists/"+strconv.FormatInt(artistID, 10), nil)
	if err != nil {
		return "", fmt.Errorf("fetching artist %d: %w", artistID, err)
	}

	var resp struct {
		Response struct {
			Artist struct {
				ImageURL string `json:"image_url"`
			} `json:"artist"`
		} `json:"response"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("parsing artist response: %w", err)
	}
	return resp.Response.Artist.ImageURL, nil
}

// get performs a GET with bounded retry on rate limits and server errors.
// Retries twice with a fixed backoff.
var retryDelays = []time.Duration{2 * time.Second, 4 * time.Second}

func (c *Client) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	reqURL := c.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	var lastErr error
	for attempt := 0; attempt <= len(retryDelays); attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(retryDelays[attempt-1]):
			}
		}

		body, err := c.getOnce(ctx, reqURL)
		if err == nil {
			return body, nil
		}
		if !retryable(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

func (c *Client) getOnce(ctx context.Context, reqURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, ErrRateLimited
	case resp.StatusCode >= 500:
		return nil, &serverError{status: resp.Status}
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("request failed: %s", resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	return body, nil
}

type serverError struct {
	status string
}

func (e *serverError) Error() string {
	return "server error: " + e.status
}

func retryable(err error) bool {
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	var se *serverError
	if errors.As(err, &se) {
		return true
	}
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}
