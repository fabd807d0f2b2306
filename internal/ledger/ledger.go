// Package ledger owns the durable per-batch progress record and the
// append-only cost log. The job ledger is the single source of truth for
// batch progress: the orchestrator writes it after every item transition and
// everyone else only reads.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"scenebatch/internal/domain"
)

// ObjectStore is the slice of the external store the ledger needs.
type ObjectStore interface {
	Write(ctx context.Context, key string, data []byte) (string, error)
	Read(ctx context.Context, key string) ([]byte, error)
	Append(ctx context.Context, key string, data []byte) error
}

// Ledger persists job state keyed by batch id so that a process restart or a
// second server instance can still answer status queries.
type Ledger struct {
	store  ObjectStore
	logger zerolog.Logger

	now func() time.Time
}

func New(store ObjectStore, logger zerolog.Logger) *Ledger {
	return &Ledger{store: store, logger: logger, now: time.Now}
}

// CreateJob writes the initial running state with every item pending.
func (l *Ledger) CreateJob(ctx context.Context, batchID, userID string, items []domain.BatchItem) (*domain.JobState, error) {
	now := l.now().UTC()
	state := &domain.JobState{
		BatchID:   batchID,
		UserID:    userID,
		Status:    domain.BatchStatusRunning,
		Items:     make([]domain.ItemState, 0, len(items)),
		StartedAt: now,
		UpdatedAt: now,
	}
	for _, item := range items {
		state.Items = append(state.Items, domain.ItemState{
			SceneID: item.SceneID,
			Status:  domain.ItemStatusPending,
		})
	}
	if err := l.put(ctx, state); err != nil {
		return nil, err
	}
	return state, nil
}

// Get loads the job state for a batch id, or domain.ErrNotFound.
func (l *Ledger) Get(ctx context.Context, batchID string) (*domain.JobState, error) {
	data, err := l.store.Read(ctx, jobKey(batchID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("ledger: read job %s: %w", batchID, err)
	}
	var state domain.JobState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("ledger: decode job %s: %w", batchID, err)
	}
	return &state, nil
}

// UpdateItem applies one item transition to the state owned by the caller,
// recomputes progress and persists. Progress only counts items that reached
// a terminal status, so it is monotonically non-decreasing.
func (l *Ledger) UpdateItem(ctx context.Context, state *domain.JobState, sceneID string, status domain.ItemStatus, errMsg string, imageKeys []string) error {
	item := state.Item(sceneID)
	if item == nil {
		return fmt.Errorf("ledger: batch %s has no item %s", state.BatchID, sceneID)
	}
	item.Status = status
	item.Error = errMsg
	if len(imageKeys) > 0 {
		item.ImageKeys = imageKeys
	}
	l.refresh(state)
	return l.put(ctx, state)
}

// Finalize writes the terminal batch status. Every item must already be
// terminal; an item left pending or running would mean abandoned work.
func (l *Ledger) Finalize(ctx context.Context, state *domain.JobState, status domain.BatchStatus) error {
	if state.Terminal() {
		return fmt.Errorf("ledger: batch %s already finalized as %s", state.BatchID, state.Status)
	}
	for _, item := range state.Items {
		if !item.Terminal() {
			return fmt.Errorf("ledger: batch %s item %s is not terminal", state.BatchID, item.SceneID)
		}
	}
	state.Status = status
	l.refresh(state)
	return l.put(ctx, state)
}

func (l *Ledger) refresh(state *domain.JobState) {
	terminal := 0
	for _, item := range state.Items {
		if item.Terminal() {
			terminal++
		}
	}
	if len(state.Items) > 0 {
		if p := float64(terminal) / float64(len(state.Items)); p > state.Progress {
			state.Progress = p
		}
	}
	state.UpdatedAt = l.now().UTC()
}

func (l *Ledger) put(ctx context.Context, state *domain.JobState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("ledger: encode job %s: %w", state.BatchID, err)
	}
	if _, err := l.store.Write(ctx, jobKey(state.BatchID), data); err != nil {
		return fmt.Errorf("ledger: write job %s: %w", state.BatchID, err)
	}
	return nil
}

func jobKey(batchID string) string {
	return "jobs/" + batchID + ".json"
}
