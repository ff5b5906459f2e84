package genius

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestSearch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("q"); got != "Alright Kendrick Lamar" {
			t.Errorf("q = %q", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q", got)
		}
		w.Write([]byte(`{"response": {"hits": [
			{"result": {"id": 42, "title": "Alright",
				"primary_artist": {"id": 7, "name": "Kendrick Lamar", "image_url": "https://img/k"}}}
		]}}`))
	}))
	defer server.Close()

	client := NewClient("tok").WithBaseURL(server.URL)
	hits, err := client.Search(context.Background(), "Alright Kendrick Lamar")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("got %d hits, want 1", len(hits))
	}
	h := hits[0]
	if h.SongID != 42 || h.Title != "Alright" || h.PrimaryArtistName != "Kendrick Lamar" {
		t.Errorf("hit = %+v", h)
	}
	if h.ArtistImageURL != "https://img/k" {
		t.Errorf("ArtistImageURL = %q", h.ArtistImageURL)
	}
}

func TestSongProducers(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/songs/42" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		w.Write([]byte(`{"response": {"song": {"producer_artists": [
			{"id": 1, "name": "Pharrell Williams", "image_url": "https://img/p"},
			{"id": 2, "name": "Sounwave"}
		]}}}`))
	}))
	defer server.Close()

	client := NewClient("tok").WithBaseURL(server.URL)
	producers, err := client.SongProducers(context.Background(), 42)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(producers) != 2 {
		t.Fatalf("got %d producers, want 2", len(producers))
	}
	if producers[0].Name != "Pharrell Williams" || producers[0].ImageURL != "https://img/p" {
		t.Errorf("producers[0] = %+v", producers[0])
	}
}

func TestArtistImage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/artists/7" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		w.Write([]byte(`{"response": {"artist": {"image_url": "https://img/a"}}}`))
	}))
	defer server.Close()

	client := NewClient("tok").WithBaseURL(server.URL)
	img, err := client.ArtistImage(context.Background(), 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if img != "https://img/a" {
		t.Errorf("image = %q", img)
	}
}

func TestGetRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"response": {"artist": {"image_url": "https://img/a"}}}`))
	}))
	defer server.Close()

	client := NewClient("tok").WithBaseURL(server.URL)
	img, err := client.ArtistImage(context.Background(), 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if img != "https://img/a" {
		t.Errorf("image = %q", img)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}

func TestGetNotFoundIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := NewClient("tok").WithBaseURL(server.URL)
	_, err := client.SongProducers(context.Background(), 999)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}
