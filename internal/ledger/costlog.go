package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CostLine is the audit record appended once per completed batch. Lines are
// never mutated and never consulted for control decisions; they exist for
// reconciliation against the provider's invoice.
type CostLine struct {
	ID            string    `json:"id"`
	Timestamp     time.Time `json:"timestamp"`
	UserID        string    `json:"user_id"`
	BatchID       string    `json:"batch_id"`
	PromptSummary string    `json:"prompt_summary"`
	ImageCount    int       `json:"image_count"`
	CostUSD       string    `json:"cost_usd"`
}

// CostLog appends one JSON line per completed batch to a day-partitioned log.
type CostLog struct {
	store ObjectStore

	now func() time.Time
}

func NewCostLog(store ObjectStore) *CostLog {
	return &CostLog{store: store, now: time.Now}
}

// Append writes the line into today's partition, filling in ID and timestamp
// when the caller left them empty.
func (c *CostLog) Append(ctx context.Context, line CostLine) error {
	if line.ID == "" {
		line.ID = uuid.NewString()
	}
	if line.Timestamp.IsZero() {
		line.Timestamp = c.now().UTC()
	}
	data, err := json.Marshal(line)
	if err != nil {
		return fmt.Errorf("costlog: encode line: %w", err)
	}
	key := CostLogKey(line.Timestamp)
	if err := c.store.Append(ctx, key, append(data, '\n')); err != nil {
		return fmt.Errorf("costlog: append to %s: %w", key, err)
	}
	return nil
}

// CostLogKey returns the partition key for the given instant.
func CostLogKey(ts time.Time) string {
	return "costlog/" + ts.UTC().Format("2006-01-02") + ".jsonl"
}
