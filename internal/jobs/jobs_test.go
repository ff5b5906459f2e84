package jobs

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/soundprint/soundprint/internal/db"
	"github.com/soundprint/soundprint/internal/ingest"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

type fakeProducers struct {
	mu       sync.Mutex
	attached []db.Producer
	err      error
	calls    int
}

func (f *fakeProducers) Attach(context.Context, db.Play) ([]db.Producer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.attached, f.err
}

func (f *fakeProducers) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeGenres struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeGenres) Attach(context.Context, db.Play) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return nil
}

type fakeImages struct {
	mu      sync.Mutex
	artists []string
}

func (f *fakeImages) Cache(_ context.Context, artistName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.artists = append(f.artists, artistName)
	return nil
}

type fakePopularity struct {
	mu    sync.Mutex
	calls int
}

func (f *fakePopularity) Attach(context.Context, db.Play) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return nil
}

type fakeNotifier struct {
	plays     []db.Play
	producers [][]db.Producer
}

func (f *fakeNotifier) Fanout(_ context.Context, play db.Play, producers []db.Producer) error {
	f.plays = append(f.plays, play)
	f.producers = append(f.producers, producers)
	return nil
}

func TestEnrichPlayRunsAllWorkers(t *testing.T) {
	producers := &fakeProducers{attached: []db.Producer{{ID: 1, Name: "Hit-Boy"}}}
	genres := &fakeGenres{}
	images := &fakeImages{}
	popularity := &fakePopularity{}
	notifier := &fakeNotifier{}

	e := NewEnrichment(producers, genres, images, popularity, notifier, testLogger())
	e.EnrichPlay(context.Background(), db.Play{ID: 1, TrackName: "X", ArtistName: "Drake, Future"})

	if producers.calls != 1 || genres.calls != 1 || popularity.calls != 1 {
		t.Errorf("worker calls = %d/%d/%d, want 1 each", producers.calls, genres.calls, popularity.calls)
	}
	if len(images.artists) != 2 {
		t.Errorf("image caching ran for %v, want both split artists", images.artists)
	}
	if len(notifier.plays) != 1 || len(notifier.producers[0]) != 1 {
		t.Errorf("notifier called %d times", len(notifier.plays))
	}
}

func TestEnrichPlayIsolatesFailures(t *testing.T) {
	producers := &fakeProducers{err: errors.New("metadata api down")}
	genres := &fakeGenres{}
	notifier := &fakeNotifier{}

	e := NewEnrichment(producers, genres, &fakeImages{}, &fakePopularity{}, notifier, testLogger())
	e.EnrichPlay(context.Background(), db.Play{ID: 2, TrackName: "X", ArtistName: "Y"})

	if genres.calls != 1 {
		t.Error("producer failure aborted genre enrichment")
	}
	if len(notifier.plays) != 0 {
		t.Error("notifier ran without attached producers")
	}
}

func TestDispatcherProcessesQueuedPlays(t *testing.T) {
	producers := &fakeProducers{}
	genres := &fakeGenres{}
	e := NewEnrichment(producers, genres, &fakeImages{}, &fakePopularity{}, &fakeNotifier{}, testLogger())
	d := NewDispatcher(e, 2, time.Second, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)

	for i := 0; i < 5; i++ {
		d.Dispatch(ctx, db.Play{ID: int64(i), ArtistName: "A"})
	}
	d.Stop()

	if n := producers.callCount(); n != 5 {
		t.Errorf("enriched %d plays, want 5", n)
	}
}

type fakeIngestor struct {
	mu   sync.Mutex
	runs []string
}

func (f *fakeIngestor) Run(_ context.Context, userID string) *ingest.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, userID)
	return &ingest.Result{}
}

type fakeUsers struct {
	ids []string
}

func (f *fakeUsers) AllWithConnections(context.Context) ([]string, error) {
	return f.ids, nil
}

func TestRunnerSchedulesConnectedUsers(t *testing.T) {
	ingestor := &fakeIngestor{}
	r := NewRunner(ingestor, &fakeUsers{ids: []string{"alice", "bob"}}, testLogger(),
		WithWorkers(2), WithInterval(time.Hour), WithUnitTimeout(time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	r.Start(ctx)

	deadline := time.After(2 * time.Second)
	for {
		ingestor.mu.Lock()
		n := len(ingestor.runs)
		ingestor.mu.Unlock()
		if n >= 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("scheduler ran %d units, want 2", n)
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	r.Stop()
}

func TestRunnerEnqueueDropsWhenFull(t *testing.T) {
	r := NewRunner(&fakeIngestor{}, &fakeUsers{}, testLogger())
	// Workers never started; fill the queue to its capacity.
	filled := 0
	for r.Enqueue("user") {
		filled++
		if filled > 100000 {
			t.Fatal("queue never filled")
		}
	}
	if filled == 0 {
		t.Fatal("no enqueue succeeded")
	}
}
