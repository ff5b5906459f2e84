// Package discogs provides a client for the release-metadata search API
// used as the genre fallback source.
package discogs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const (
	defaultBaseURL = "https://api.discogs.com"
	userAgent      = "soundprint/1.0"
)

// ErrRateLimited is returned on HTTP 429.
var ErrRateLimited = errors.New("discogs: rate limited")

// Release is one search result with its genre metadata.
type Release struct {
	Title  string   `json:"title"`
	Genres []string `json:"genre"`
	Styles []string `json:"style"`
}

// Client calls the release database with key/secret credentials.
type Client struct {
	key        string
	secret     string
	httpClient *http.Client
	baseURL    string
}

// NewClient creates a release-metadata client.
func NewClient(key, secret string) *Client {
	return &Client{
		key:    key,
		secret: secret,
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

// SearchReleases searches releases by track and artist and returns the raw
// results; callers merge genre and style fields across matches.
func (c *Client) SearchReleases(ctx context.Context, track, artist string) ([]Release, error) {
	params := url.Values{
		"q":      {track},
		"artist": {artist},
		"type":   {"release"},
		"key":    {c.key},
		"secret": {c.secret},
	}
	reqURL := c.baseURL + "/database/search?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, ErrRateLimited
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("release search failed: %s", resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	var parsed struct {
		Results []Release `json:"results"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parsing release search response: %w", err)
	}
	return parsed.Results, nil
}

// MergedGenres collects the distinct genre and style names across releases,
// preserving first-seen order.
func MergedGenres(releases []Release) []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range releases {
		for _, g := range r.Genres {
			if g != "" && !seen[g] {
				seen[g] = true
				out = append(out, g)
			}
		}
		for _, s := range r.Styles {
			if s != "" && !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	return out
}
