package domain

import "time"

// BatchStatus enumerates batch lifecycle states.
type BatchStatus string

const (
	BatchStatusRunning   BatchStatus = "running"
	BatchStatusCompleted BatchStatus = "completed"
	BatchStatusFailed    BatchStatus = "failed"
)

// ItemStatus enumerates per-item lifecycle states within a batch.
type ItemStatus string

const (
	ItemStatusPending   ItemStatus = "pending"
	ItemStatusRunning   ItemStatus = "running"
	ItemStatusCompleted ItemStatus = "completed"
	ItemStatusFailed    ItemStatus = "failed"
)

// BatchItem is a single generation unit submitted by the caller: one scene,
// N variants.
type BatchItem struct {
	SceneID  string `json:"scene_id"`
	Prompt   string `json:"prompt"`
	Variants int    `json:"variants"`
}

// ItemState tracks one item's progress inside a job.
type ItemState struct {
	SceneID   string     `json:"scene_id"`
	Status    ItemStatus `json:"status"`
	Error     string     `json:"error,omitempty"`
	ImageKeys []string   `json:"image_keys,omitempty"`
}

// Terminal reports whether the item has reached a final status.
func (s ItemState) Terminal() bool {
	return s.Status == ItemStatusCompleted || s.Status == ItemStatusFailed
}

// JobState is the durable per-batch progress record. It is owned exclusively
// by the orchestrator driving the batch; streamers and status queries only
// read it.
type JobState struct {
	BatchID   string      `json:"batch_id"`
	UserID    string      `json:"user_id"`
	Status    BatchStatus `json:"status"`
	Progress  float64     `json:"progress"`
	Items     []ItemState `json:"items"`
	StartedAt time.Time   `json:"started_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// Terminal reports whether the batch has reached a final status.
func (s *JobState) Terminal() bool {
	return s.Status == BatchStatusCompleted || s.Status == BatchStatusFailed
}

// Item returns a pointer to the item with the given scene id, or nil.
func (s *JobState) Item(sceneID string) *ItemState {
	for i := range s.Items {
		if s.Items[i].SceneID == sceneID {
			return &s.Items[i]
		}
	}
	return nil
}
