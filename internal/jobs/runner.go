package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/soundprint/soundprint/internal/ingest"
)

// Retry policy for ingestion units. Transient provider failures usually
// clear within a fetch cycle; anything longer waits for the next schedule.
const (
	unitAttempts = 3
	retryBackoff = 20 * time.Second
)

// Ingestor runs one ingestion cycle for a user.
type Ingestor interface {
	Run(ctx context.Context, userID string) *ingest.Result
}

// UserSource lists the users eligible for periodic ingestion.
type UserSource interface {
	AllWithConnections(ctx context.Context) ([]string, error)
}

// Runner schedules and executes per-user ingestion units on a worker pool.
type Runner struct {
	ingestor Ingestor
	users    UserSource
	log      *logrus.Logger

	interval    time.Duration
	unitTimeout time.Duration
	workers     int

	queue       chan string
	workerWg    sync.WaitGroup
	schedulerWg sync.WaitGroup
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithWorkers sets the ingestion worker count.
func WithWorkers(n int) RunnerOption {
	return func(r *Runner) {
		if n > 0 {
			r.workers = n
		}
	}
}

// WithInterval sets the periodic scheduling interval.
func WithInterval(d time.Duration) RunnerOption {
	return func(r *Runner) { r.interval = d }
}

// WithUnitTimeout sets the wall-clock budget for one ingestion unit. Plays
// committed before the deadline survive; only unfinished work is abandoned.
func WithUnitTimeout(d time.Duration) RunnerOption {
	return func(r *Runner) { r.unitTimeout = d }
}

// NewRunner creates an ingestion job runner.
func NewRunner(ingestor Ingestor, users UserSource, log *logrus.Logger, opts ...RunnerOption) *Runner {
	r := &Runner{
		ingestor:    ingestor,
		users:       users,
		log:         log,
		interval:    15 * time.Minute,
		unitTimeout: 5 * time.Minute,
		workers:     4,
		queue:       make(chan string, 128),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start launches the worker pool and the periodic scheduler. It returns
// immediately; workers drain until Stop.
func (r *Runner) Start(ctx context.Context) {
	for i := 0; i < r.workers; i++ {
		r.workerWg.Add(1)
		go func() {
			defer r.workerWg.Done()
			for userID := range r.queue {
				r.runUnit(ctx, userID)
			}
		}()
	}

	r.schedulerWg.Add(1)
	go func() {
		defer r.schedulerWg.Done()
		r.scheduleAll(ctx)
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.scheduleAll(ctx)
			}
		}
	}()
}

// Enqueue schedules one user for ingestion, dropping the request when the
// queue is saturated; the periodic scheduler will pick the user up anyway.
func (r *Runner) Enqueue(userID string) bool {
	select {
	case r.queue <- userID:
		return true
	default:
		r.log.WithFields(logrus.Fields{
			"component": "jobs.runner",
			"user_id":   userID,
		}).Warn("ingestion queue full, dropping request")
		return false
	}
}

// Stop waits for the scheduler, closes the queue, and drains in-flight
// units. The context passed to Start must be cancelled first so the
// scheduler exits.
func (r *Runner) Stop() {
	r.schedulerWg.Wait()
	close(r.queue)
	r.workerWg.Wait()
}

func (r *Runner) scheduleAll(ctx context.Context) {
	userIDs, err := r.users.AllWithConnections(ctx)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"component": "jobs.runner",
		}).WithError(err).Error("listing connected users failed")
		return
	}
	for _, id := range userIDs {
		r.Enqueue(id)
	}
}

// runUnit executes one ingestion unit with a wall-clock budget and bounded
// retries on transient failure.
func (r *Runner) runUnit(ctx context.Context, userID string) {
	for attempt := 1; attempt <= unitAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(retryBackoff):
			}
		}

		unitCtx, cancel := context.WithTimeout(ctx, r.unitTimeout)
		res := r.ingestor.Run(unitCtx, userID)
		cancel()

		if res.SpotifyErr == nil && res.AppleErr == nil {
			if res.SpotifyNew > 0 || res.AppleNew > 0 {
				r.log.WithFields(logrus.Fields{
					"component":   "jobs.runner",
					"user_id":     userID,
					"spotify_new": res.SpotifyNew,
					"apple_new":   res.AppleNew,
				}).Info("ingestion unit complete")
			}
			return
		}

		r.log.WithFields(logrus.Fields{
			"component": "jobs.runner",
			"user_id":   userID,
			"attempt":   attempt,
		}).Warn("ingestion unit had failures")
	}
}
