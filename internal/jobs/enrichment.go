// Package jobs runs the background pipeline: a periodic scheduler and worker
// pool for per-user ingestion units, and the enrichment dispatcher that
// processes newly persisted plays.
package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/soundprint/soundprint/internal/db"
	"github.com/soundprint/soundprint/internal/names"
)

// Enrichment worker surfaces. The concrete implementations live in
// internal/enrich and internal/notify.
type (
	ProducerEnricher interface {
		Attach(ctx context.Context, play db.Play) ([]db.Producer, error)
	}
	GenreEnricher interface {
		Attach(ctx context.Context, play db.Play) error
	}
	ImageCacher interface {
		Cache(ctx context.Context, artistName string) error
	}
	PopularityEnricher interface {
		Attach(ctx context.Context, play db.Play) error
	}
	Notifier interface {
		Fanout(ctx context.Context, play db.Play, producers []db.Producer) error
	}
)

// Enrichment runs every enrichment worker against one play. Workers are
// isolated: a failure is logged and the rest still run, so a play keeps
// whatever enrichment succeeded.
type Enrichment struct {
	producers  ProducerEnricher
	genres     GenreEnricher
	images     ImageCacher
	popularity PopularityEnricher
	notifier   Notifier
	log        *logrus.Logger
}

// NewEnrichment wires the enrichment workers and the notifier.
func NewEnrichment(producers ProducerEnricher, genres GenreEnricher, images ImageCacher, popularity PopularityEnricher, notifier Notifier, log *logrus.Logger) *Enrichment {
	return &Enrichment{
		producers:  producers,
		genres:     genres,
		images:     images,
		popularity: popularity,
		notifier:   notifier,
		log:        log,
	}
}

// EnrichPlay processes one persisted play end to end.
func (e *Enrichment) EnrichPlay(ctx context.Context, play db.Play) {
	attached, err := e.producers.Attach(ctx, play)
	if err != nil {
		e.warn(play, "producer enrichment failed", err)
	}

	if err := e.genres.Attach(ctx, play); err != nil {
		e.warn(play, "genre enrichment failed", err)
	}

	for _, artistName := range names.SplitArtists(play.ArtistName) {
		if err := e.images.Cache(ctx, artistName); err != nil {
			e.log.WithFields(logrus.Fields{
				"component": "jobs.enrichment",
				"play_id":   play.ID,
				"artist":    artistName,
			}).WithError(err).Debug("artist image caching failed")
		}
	}

	if err := e.popularity.Attach(ctx, play); err != nil {
		e.warn(play, "popularity cross-reference failed", err)
	}

	if len(attached) > 0 {
		if err := e.notifier.Fanout(ctx, play, attached); err != nil {
			e.warn(play, "collaboration fan-out failed", err)
		}
	}
}

func (e *Enrichment) warn(play db.Play, msg string, err error) {
	e.log.WithFields(logrus.Fields{
		"component": "jobs.enrichment",
		"play_id":   play.ID,
		"track":     play.TrackName,
	}).WithError(err).Warn(msg)
}

// Dispatcher queues persisted plays for enrichment so ingestion never waits
// on metadata APIs. The queue is bounded; under sustained backpressure a
// play's enrichment is dropped and logged rather than blocking a persist.
type Dispatcher struct {
	enrichment *Enrichment
	queue      chan db.Play
	workers    int
	timeout    time.Duration
	log        *logrus.Logger
	wg         sync.WaitGroup
}

// NewDispatcher creates an enrichment dispatcher with the given worker count
// and per-play timeout.
func NewDispatcher(enrichment *Enrichment, workers int, timeout time.Duration, log *logrus.Logger) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	return &Dispatcher{
		enrichment: enrichment,
		queue:      make(chan db.Play, 256),
		workers:    workers,
		timeout:    timeout,
		log:        log,
	}
}

// Start launches the enrichment workers. They drain the queue until Stop.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for play := range d.queue {
				unitCtx, cancel := context.WithTimeout(ctx, d.timeout)
				d.enrichment.EnrichPlay(unitCtx, play)
				cancel()
			}
		}()
	}
}

// Dispatch enqueues a play for enrichment without blocking.
func (d *Dispatcher) Dispatch(_ context.Context, play db.Play) {
	select {
	case d.queue <- play:
	default:
		d.log.WithFields(logrus.Fields{
			"component": "jobs.dispatcher",
			"play_id":   play.ID,
		}).Warn("enrichment queue full, skipping play")
	}
}

// Stop closes the queue and waits for in-flight enrichment to finish.
func (d *Dispatcher) Stop() {
	close(d.queue)
	d.wg.Wait()
}
