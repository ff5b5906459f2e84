package notify

import (
	"context"
	"io"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/soundprint/soundprint/internal/db"
)

type fakeStore struct {
	listeners map[int64][]string
	created   []db.Notification
}

func (f *fakeStore) UsersWithProducer(_ context.Context, producerID int64, excludeUserID string) ([]string, error) {
	var out []string
	for _, id := range f.listeners[producerID] {
		if id != excludeUserID {
			out = append(out, id)
		}
	}
	return out, nil
}

func (f *fakeStore) CreateNotification(_ context.Context, n *db.Notification) error {
	f.created = append(f.created, *n)
	return nil
}

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func TestFanoutNotifiesOtherListeners(t *testing.T) {
	store := &fakeStore{listeners: map[int64][]string{
		1: {"alice", "bob", "carol"},
	}}
	c := NewCollaborations(store, testLogger())

	play := db.Play{ID: 42, UserID: "carol", TrackName: "Sicko Mode", ArtistName: "Travis Scott"}
	producers := []db.Producer{{ID: 1, Name: "Hit-Boy"}}

	if err := c.Fanout(context.Background(), play, producers); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(store.created) != 2 {
		t.Fatalf("created %d notifications, want one each for alice and bob", len(store.created))
	}
	for _, n := range store.created {
		if n.UserID == "carol" {
			t.Error("the player notified themselves")
		}
		if n.PlayedByUserID != "carol" || n.PlayID != 42 {
			t.Errorf("notification = %+v, want play snapshot", n)
		}
		if n.TrackName != "Sicko Mode" || n.ProducerName != "Hit-Boy" {
			t.Errorf("snapshot fields = %q / %q", n.TrackName, n.ProducerName)
		}
	}
}

func TestFanoutNoProducersNoListeners(t *testing.T) {
	store := &fakeStore{listeners: map[int64][]string{}}
	c := NewCollaborations(store, testLogger())

	play := db.Play{ID: 1, UserID: "alice"}
	if err := c.Fanout(context.Background(), play, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := c.Fanout(context.Background(), play, []db.Producer{{ID: 9, Name: "Unknown"}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(store.created) != 0 {
		t.Errorf("created %d notifications, want none", len(store.created))
	}
}
