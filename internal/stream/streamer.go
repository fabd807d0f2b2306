// Package stream serves batch progress over Server-Sent Events. The streamer
// polls the job ledger rather than subscribing to the orchestrator, so it
// works unchanged when the batch runs in another process.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"scenebatch/internal/domain"
)

const (
	DefaultPollInterval      = 2 * time.Second
	DefaultHeartbeatInterval = 30 * time.Second
)

// JobReader is the slice of the ledger the streamer needs.
type JobReader interface {
	Get(ctx context.Context, batchID string) (*domain.JobState, error)
}

// Streamer writes one SSE event per observed progress change, a heartbeat
// comment while nothing changes, and closes after the terminal snapshot.
type Streamer struct {
	jobs              JobReader
	pollInterval      time.Duration
	heartbeatInterval time.Duration
	logger            zerolog.Logger
}

func New(jobs JobReader, logger zerolog.Logger) *Streamer {
	return &Streamer{
		jobs:              jobs,
		pollInterval:      DefaultPollInterval,
		heartbeatInterval: DefaultHeartbeatInterval,
		logger:            logger,
	}
}

// WithIntervals overrides the poll and heartbeat cadence. Zero keeps the
// current value.
func (s *Streamer) WithIntervals(poll, heartbeat time.Duration) *Streamer {
	if poll > 0 {
		s.pollInterval = poll
	}
	if heartbeat > 0 {
		s.heartbeatInterval = heartbeat
	}
	return s
}

// ServeProgress streams the batch until it reaches a terminal status or the
// client disconnects. An unknown batch id is a plain 404; the SSE handshake
// only happens once the first snapshot loaded.
func (s *Streamer) ServeProgress(w http.ResponseWriter, r *http.Request, batchID string) {
	ctx := r.Context()

	state, err := s.jobs.Get(ctx, batchID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			http.Error(w, "batch not found", http.StatusNotFound)
			return
		}
		s.logger.Error().Err(err).Str("batch_id", batchID).Msg("stream: initial snapshot failed")
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if err := writeEvent(w, flusher, "progress", state); err != nil {
		return
	}
	if state.Terminal() {
		writeDone(w, flusher, state)
		return
	}
	lastSent := state.UpdatedAt

	poll := time.NewTicker(s.pollInterval)
	defer poll.Stop()
	heartbeat := time.NewTicker(s.heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()

		case <-poll.C:
			state, err := s.jobs.Get(ctx, batchID)
			if err != nil {
				if errors.Is(err, domain.ErrNotFound) {
					// Ledger entry vanished mid-stream; tell the client
					// instead of heartbeating forever.
					writeEvent(w, flusher, "error", map[string]string{"error": "batch record disappeared"})
					return
				}
				s.logger.Warn().Err(err).Str("batch_id", batchID).Msg("stream: poll failed")
				continue
			}
			if !state.UpdatedAt.After(lastSent) {
				continue
			}
			lastSent = state.UpdatedAt
			if err := writeEvent(w, flusher, "progress", state); err != nil {
				return
			}
			if state.Terminal() {
				writeDone(w, flusher, state)
				return
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, flusher http.Flusher, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

func writeDone(w http.ResponseWriter, flusher http.Flusher, state *domain.JobState) {
	writeEvent(w, flusher, "done", map[string]string{
		"batch_id": state.BatchID,
		"status":   string(state.Status),
	})
}
