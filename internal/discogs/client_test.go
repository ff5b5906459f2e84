package discogs

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
)

func TestSearchReleases(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/database/search" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("q") != "Alright" || q.Get("artist") != "Kendrick Lamar" {
			t.Errorf("query = %v", q)
		}
		if q.Get("type") != "release" || q.Get("key") != "k" || q.Get("secret") != "s" {
			t.Errorf("credentials/type = %v", q)
		}
		w.Write([]byte(`{"results": [
			{"title": "To Pimp a Butterfly", "genre": ["Hip Hop"], "style": ["Conscious", "Jazzy Hip-Hop"]},
			{"title": "Alright Single", "genre": ["Hip Hop", "Funk / Soul"], "style": []}
		]}`))
	}))
	defer server.Close()

	client := NewClient("k", "s").WithBaseURL(server.URL)
	releases, err := client.SearchReleases(context.Background(), "Alright", "Kendrick Lamar")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(releases) != 2 {
		t.Fatalf("got %d releases, want 2", len(releases))
	}

	got := MergedGenres(releases)
	want := []string{"Hip Hop", "Conscious", "Jazzy Hip-Hop", "Funk / Soul"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("MergedGenres = %v, want %v", got, want)
	}
}

func TestSearchReleasesRateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewClient("k", "s").WithBaseURL(server.URL)
	_, err := client.SearchReleases(context.Background(), "x", "y")
	if !errors.Is(err, ErrRateLimited) {
		t.Errorf("err = %v, want ErrRateLimited", err)
	}
}
