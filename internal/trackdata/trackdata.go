// Package trackdata normalizes raw provider track payloads into one
// canonical record. Every read path in the system consumes the normalized
// fields; nothing re-derives duration or artwork from raw payloads.
package trackdata

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

// Source identifies which provider produced a payload.
type Source string

const (
	SourceSpotify    Source = "spotify"
	SourceAppleMusic Source = "apple_music"
)

// Image is a single artwork rendition.
type Image struct {
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// Data is the canonical track payload stored on a play record. GenreNames
// is only populated for Apple Music payloads, which carry genres at the
// track level; Spotify genres come from artist lookups instead.
type Data struct {
	DurationMs  int      `json:"duration_ms"`
	Images      []Image  `json:"images,omitempty"`
	PreviewURL  string   `json:"preview_url,omitempty"`
	ExternalURL string   `json:"external_url,omitempty"`
	Explicit    bool     `json:"explicit"`
	ReleaseDate string   `json:"release_date,omitempty"`
	GenreNames  []string `json:"genre_names,omitempty"`
}

// Apple Music artwork URLs carry {w}/{h} placeholders; these are the sizes
// substituted into the template.
var appleArtworkSizes = []int{300, 640}

var durationInMillisRe = regexp.MustCompile(`"durationInMillis"\s*:\s*(\d+)`)

// Normalize converts a raw provider payload into canonical track data.
// Structured field access is always preferred; when the expected key path is
// absent the serialized payload is regex-scanned instead, so undocumented
// shape drift degrades a field to its zero value rather than failing the
// ingestion of the record.
func Normalize(raw json.RawMessage, source Source) Data {
	switch source {
	case SourceAppleMusic:
		return normalizeAppleMusic(raw)
	default:
		return normalizeSpotify(raw)
	}
}

type spotifyPayload struct {
	DurationMs int `json:"duration_ms"`
	Album      struct {
		Images      []Image `json:"images"`
		ReleaseDate string  `json:"release_date"`
	} `json:"album"`
	ExternalURLs map[string]string `json:"external_urls"`
	PreviewURL   string            `json:"preview_url"`
	Explicit     bool              `json:"explicit"`
}

func normalizeSpotify(raw json.RawMessage) Data {
	var p spotifyPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Data{DurationMs: scanDuration(raw, `"duration_ms"\s*:\s*(\d+)`)}
	}

	d := Data{
		DurationMs:  p.DurationMs,
		Images:      p.Album.Images,
		PreviewURL:  p.PreviewURL,
		ExternalURL: p.ExternalURLs["spotify"],
		Explicit:    p.Explicit,
		ReleaseDate: p.Album.ReleaseDate,
	}
	if d.DurationMs == 0 {
		d.DurationMs = scanDuration(raw, `"duration_ms"\s*:\s*(\d+)`)
	}
	return d
}

type appleAttributes struct {
	DurationInMillis int      `json:"durationInMillis"`
	GenreNames       []string `json:"genreNames"`
	ContentRating    string   `json:"contentRating"`
	ReleaseDate      string   `json:"releaseDate"`
	URL              string   `json:"url"`
	Artwork          struct {
		URL    string `json:"url"`
		Width  int    `json:"width"`
		Height int    `json:"height"`
	} `json:"artwork"`
	Previews []struct {
		URL string `json:"url"`
	} `json:"previews"`
}

type applePayload struct {
	Attributes appleAttributes `json:"attributes"`
	Data       []struct {
		Attributes appleAttributes `json:"attributes"`
	} `json:"data"`
}

func normalizeAppleMusic(raw json.RawMessage) Data {
	var p applePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Data{DurationMs: scanDuration(raw, durationInMillisRe.String())}
	}

	attrs := p.Attributes
	if attrs.DurationInMillis == 0 && len(p.Data) > 0 {
		attrs = p.Data[0].Attributes
	}

	d := Data{
		DurationMs:  attrs.DurationInMillis,
		Explicit:    attrs.ContentRating == "explicit",
		ExternalURL: attrs.URL,
		ReleaseDate: attrs.ReleaseDate,
		GenreNames:  attrs.GenreNames,
	}
	if d.DurationMs == 0 {
		d.DurationMs = scanDuration(raw, durationInMillisRe.String())
	}
	if len(attrs.Previews) > 0 {
		d.PreviewURL = attrs.Previews[0].URL
	}
	if attrs.Artwork.URL != "" {
		for _, size := range appleArtworkSizes {
			d.Images = append(d.Images, Image{
				URL:    expandArtworkTemplate(attrs.Artwork.URL, size, size),
				Width:  size,
				Height: size,
			})
		}
	}
	return d
}

// expandArtworkTemplate substitutes concrete pixel sizes into an artwork
// URL template containing {w} and {h} placeholders.
func expandArtworkTemplate(template string, w, h int) string {
	s := strings.ReplaceAll(template, "{w}", strconv.Itoa(w))
	return strings.ReplaceAll(s, "{h}", strconv.Itoa(h))
}

// scanDuration regex-scans a serialized payload for a duration key. Returns
// 0 when no match is found.
func scanDuration(raw json.RawMessage, pattern string) int {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return 0
	}
	m := re.FindSubmatch(raw)
	if m == nil {
		return 0
	}
	n, err := strconv.Atoi(string(m[1]))
	if err != nil {
		return 0
	}
	return n
}
