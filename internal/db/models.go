package db

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Source identifies the streaming provider a play was ingested from.
type Source string

const (
	SourceSpotify    Source = "spotify"
	SourceAppleMusic Source = "apple_music"
)

// User is a registered listener.
type User struct {
	ID          string
	DisplayName string
	CreatedAt   time.Time
}

// Connection holds a user's credentials for one streaming provider.
// MusicUserToken is only set for Apple Music connections.
type Connection struct {
	UserID         string
	Source         Source
	AccessToken    string
	RefreshToken   string
	TokenExpiry    time.Time
	MusicUserToken *string
	UpdatedAt      time.Time
}

// Play is one listening event: (user, track, timestamp).
//
// For Apple Music, PlayedAt is the ingestion wall-clock time rather than a
// true play timestamp; the provider does not return one. Listening-time
// analytics for Apple Music are therefore approximate by construction.
type Play struct {
	ID              int64
	UserID          string
	Source          Source
	TrackID         string
	TrackName       string
	ArtistName      string // raw composite credit string, never pre-split
	AlbumName       string
	PlayedAt        time.Time
	TrackData       json.RawMessage
	PopularityData  json.RawMessage // nullable
	FetchSessionID  uuid.UUID
	PositionInFetch int
	CreatedAt       time.Time
}

// Producer is a global producer credit, upserted by name.
type Producer struct {
	ID       int64
	Name     string
	ImageURL *string
}

// Genre is a global genre name, find-or-created.
type Genre struct {
	ID   int64
	Name string
}

// ArtistImage is a write-once cache row mapping an exact artist name to a
// resolved image URL. Absence means "not yet attempted or failed", not "no
// image exists".
type ArtistImage struct {
	ArtistName string
	ImageURL   string
	CreatedAt  time.Time
}

// Notification tells a user that someone else played a track credited to a
// producer they have also listened to. The name fields are a snapshot taken
// at creation time; the row is immutable apart from the read flag.
type Notification struct {
	ID             uuid.UUID
	UserID         string // recipient
	PlayID         int64
	PlayedByUserID string
	TrackName      string
	ArtistName     string
	ProducerName   string
	Read           bool
	CreatedAt      time.Time
}

// ProducerLookup caches the outcome of a metadata-API producer search for a
// (track, artist) pair. Producers holds the resolved credits as JSON so a
// cache hit can re-attach without any network calls.
type ProducerLookup struct {
	TrackName  string
	ArtistName string
	Producers  json.RawMessage
	FetchedAt  time.Time
}

// CachedProducer is one entry in ProducerLookup.Producers.
type CachedProducer struct {
	Name     string  `json:"name"`
	ImageURL *string `json:"image_url,omitempty"`
}
