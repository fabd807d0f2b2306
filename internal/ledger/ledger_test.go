package ledger

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"scenebatch/internal/domain"
)

// memStore is an in-memory ObjectStore for tests.
type memStore struct {
	objects map[string][]byte
}

func newMemStore() *memStore { return &memStore{objects: map[string][]byte{}} }

func (m *memStore) Write(_ context.Context, key string, data []byte) (string, error) {
	m.objects[key] = append([]byte(nil), data...)
	return key, nil
}

func (m *memStore) Read(_ context.Context, key string) ([]byte, error) {
	data, ok := m.objects[key]
	if !ok {
		return nil, os.ErrNotExist
	}
	return data, nil
}

func (m *memStore) Append(_ context.Context, key string, data []byte) error {
	m.objects[key] = append(m.objects[key], data...)
	return nil
}

func items(scenes ...string) []domain.BatchItem {
	out := make([]domain.BatchItem, 0, len(scenes))
	for _, s := range scenes {
		out = append(out, domain.BatchItem{SceneID: s, Prompt: "p", Variants: 1})
	}
	return out
}

func TestCreateJobInitialState(t *testing.T) {
	l := New(newMemStore(), zerolog.New(io.Discard))
	state, err := l.CreateJob(context.Background(), "b1", "u1", items("a", "b"))
	require.NoError(t, err)

	require.Equal(t, domain.BatchStatusRunning, state.Status)
	require.Zero(t, state.Progress)
	require.Len(t, state.Items, 2)
	for _, item := range state.Items {
		require.Equal(t, domain.ItemStatusPending, item.Status)
	}

	got, err := l.Get(context.Background(), "b1")
	require.NoError(t, err)
	require.Equal(t, state.BatchID, got.BatchID)
}

func TestGetMissingIsNotFound(t *testing.T) {
	l := New(newMemStore(), zerolog.New(io.Discard))
	_, err := l.Get(context.Background(), "nope")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestProgressMonotonicAcrossTransitions(t *testing.T) {
	l := New(newMemStore(), zerolog.New(io.Discard))
	ctx := context.Background()
	state, err := l.CreateJob(ctx, "b1", "u1", items("a", "b", "c", "d"))
	require.NoError(t, err)

	var seen []float64
	step := func(scene string, status domain.ItemStatus) {
		require.NoError(t, l.UpdateItem(ctx, state, scene, status, "", nil))
		seen = append(seen, state.Progress)
	}

	step("a", domain.ItemStatusRunning)
	step("a", domain.ItemStatusCompleted)
	step("b", domain.ItemStatusRunning)
	step("b", domain.ItemStatusFailed)
	step("c", domain.ItemStatusCompleted)
	step("d", domain.ItemStatusCompleted)

	for i := 1; i < len(seen); i++ {
		require.GreaterOrEqual(t, seen[i], seen[i-1], "progress dipped at step %d: %v", i, seen)
	}
	require.Equal(t, 1.0, state.Progress)
}

func TestFinalizeRequiresTerminalItems(t *testing.T) {
	l := New(newMemStore(), zerolog.New(io.Discard))
	ctx := context.Background()
	state, err := l.CreateJob(ctx, "b1", "u1", items("a", "b"))
	require.NoError(t, err)

	require.NoError(t, l.UpdateItem(ctx, state, "a", domain.ItemStatusCompleted, "", nil))
	require.Error(t, l.Finalize(ctx, state, domain.BatchStatusCompleted), "item b is still pending")

	require.NoError(t, l.UpdateItem(ctx, state, "b", domain.ItemStatusFailed, "boom", nil))
	require.NoError(t, l.Finalize(ctx, state, domain.BatchStatusCompleted))
	require.True(t, state.Terminal())

	require.Error(t, l.Finalize(ctx, state, domain.BatchStatusFailed), "finalize must happen exactly once")
}

func TestCostLogAppendsParseableLines(t *testing.T) {
	store := newMemStore()
	log := NewCostLog(store)
	now := time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)
	log.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, log.Append(ctx, CostLine{UserID: "u1", BatchID: "b1", PromptSummary: "2 scenes", ImageCount: 3, CostUSD: "0.12"}))
	require.NoError(t, log.Append(ctx, CostLine{UserID: "u2", BatchID: "b2", ImageCount: 1, CostUSD: "0.04"}))

	data, err := store.Read(ctx, "costlog/2026-03-01.jsonl")
	require.NoError(t, err)

	var lines []CostLine
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		var line CostLine
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &line))
		lines = append(lines, line)
	}
	require.Len(t, lines, 2)
	require.NotEmpty(t, lines[0].ID)
	require.Equal(t, "b1", lines[0].BatchID)
	require.Equal(t, 3, lines[0].ImageCount)
	require.Equal(t, "0.04", lines[1].CostUSD)
}
