package stream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"scenebatch/internal/domain"
)

type fakeJobs struct {
	mu    sync.Mutex
	state *domain.JobState
	err   error
}

func (f *fakeJobs) Get(context.Context, string) (*domain.JobState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	copied := *f.state
	return &copied, nil
}

func (f *fakeJobs) set(state domain.JobState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = &state
}

func newStreamer(jobs JobReader) *Streamer {
	return New(jobs, zerolog.Nop()).WithIntervals(2*time.Millisecond, 5*time.Millisecond)
}

func runningState(progress float64) domain.JobState {
	return domain.JobState{
		BatchID:   "b1",
		UserID:    "u1",
		Status:    domain.BatchStatusRunning,
		Progress:  progress,
		UpdatedAt: time.Now().UTC(),
	}
}

func TestStreamUnknownBatchIs404(t *testing.T) {
	s := newStreamer(&fakeJobs{err: domain.ErrNotFound})
	rec := httptest.NewRecorder()
	s.ServeProgress(rec, httptest.NewRequest(http.MethodGet, "/v1/batches/nope/events", nil), "nope")

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestStreamTerminalBatchClosesAfterSnapshot(t *testing.T) {
	state := runningState(1)
	state.Status = domain.BatchStatusCompleted
	jobs := &fakeJobs{}
	jobs.set(state)

	rec := httptest.NewRecorder()
	newStreamer(jobs).ServeProgress(rec, httptest.NewRequest(http.MethodGet, "/v1/batches/b1/events", nil), "b1")

	body := rec.Body.String()
	if rec.Header().Get("Content-Type") != "text/event-stream" {
		t.Fatalf("content type = %q", rec.Header().Get("Content-Type"))
	}
	if !strings.Contains(body, "event: progress") {
		t.Fatalf("missing progress event in %q", body)
	}
	if !strings.Contains(body, "event: done") {
		t.Fatalf("missing done event in %q", body)
	}
}

func TestStreamFollowsProgressToCompletion(t *testing.T) {
	jobs := &fakeJobs{}
	jobs.set(runningState(0))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/batches/b1/events", nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		newStreamer(jobs).ServeProgress(rec, req, "b1")
	}()

	time.Sleep(10 * time.Millisecond)
	jobs.set(runningState(0.5))
	time.Sleep(10 * time.Millisecond)
	final := runningState(1)
	final.Status = domain.BatchStatusCompleted
	jobs.set(final)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not close after terminal state")
	}

	body := rec.Body.String()
	if got := strings.Count(body, "event: progress"); got < 2 {
		t.Fatalf("want at least 2 progress events, got %d in %q", got, body)
	}
	if !strings.Contains(body, `"status":"completed"`) {
		t.Fatalf("missing terminal snapshot in %q", body)
	}
	if !strings.Contains(body, "event: done") {
		t.Fatalf("missing done event in %q", body)
	}
}

func TestStreamStopsOnClientDisconnect(t *testing.T) {
	jobs := &fakeJobs{}
	jobs.set(runningState(0))

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/v1/batches/b1/events", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		defer close(done)
		newStreamer(jobs).ServeProgress(rec, req, "b1")
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not stop after disconnect")
	}
}

func TestStreamSendsHeartbeatsWhileIdle(t *testing.T) {
	jobs := &fakeJobs{}
	jobs.set(runningState(0))

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/v1/batches/b1/events", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		defer close(done)
		newStreamer(jobs).ServeProgress(rec, req, "b1")
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()
	<-done

	if !strings.Contains(rec.Body.String(), ": heartbeat") {
		t.Fatalf("no heartbeat in %q", rec.Body.String())
	}
}
