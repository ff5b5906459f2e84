package web

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
)

type fakeScheduler struct {
	enqueued []string
	full     bool
}

func (f *fakeScheduler) Enqueue(userID string) bool {
	if f.full {
		return false
	}
	f.enqueued = append(f.enqueued, userID)
	return true
}

func testServer(scheduler Scheduler) *Server {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return NewServer("127.0.0.1:0", scheduler, log)
}

func TestHealthz(t *testing.T) {
	s := testServer(&fakeScheduler{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestIngestEnqueues(t *testing.T) {
	scheduler := &fakeScheduler{}
	s := testServer(scheduler)

	req := httptest.NewRequest(http.MethodPost, "/ingest/alice", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Errorf("status = %d, want 202", rec.Code)
	}
	if len(scheduler.enqueued) != 1 || scheduler.enqueued[0] != "alice" {
		t.Errorf("enqueued = %v", scheduler.enqueued)
	}
}

func TestIngestQueueFull(t *testing.T) {
	s := testServer(&fakeScheduler{full: true})

	req := httptest.NewRequest(http.MethodPost, "/ingest/alice", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}
