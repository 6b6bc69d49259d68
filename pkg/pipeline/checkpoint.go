package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"walktour/pkg/store"
)

const checkpointPrefix = "checkpoint:"

// CheckpointKey is the state-store key of a session's checkpoint.
func CheckpointKey(sessionID string) string { return checkpointPrefix + sessionID }

// Checkpoint is the last completed node of a session.
type Checkpoint struct {
	SessionID string    `json:"session_id"`
	TourID    string    `json:"tour_id"`
	Node      string    `json:"node"`
	Phase     Phase     `json:"phase"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Checkpoints persists per-step progress in the state store.
type Checkpoints struct {
	st store.StateStore
}

// NewCheckpoints wraps st. A nil st disables checkpointing.
func NewCheckpoints(st store.StateStore) *Checkpoints {
	return &Checkpoints{st: st}
}

// Save records cp. Failures are logged; checkpoints are advisory.
func (c *Checkpoints) Save(ctx context.Context, cp Checkpoint) {
	if c == nil || c.st == nil {
		return
	}
	cp.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(cp)
	if err != nil {
		return
	}
	if err := c.st.SetState(ctx, CheckpointKey(cp.SessionID), string(data)); err != nil {
		slog.Warn("Pipeline: checkpoint write failed", "session", cp.SessionID, "error", err)
	}
}

// Load returns the checkpoint of sessionID.
func (c *Checkpoints) Load(ctx context.Context, sessionID string) (Checkpoint, bool) {
	if c == nil || c.st == nil {
		return Checkpoint{}, false
	}
	raw, ok := c.st.GetState(ctx, CheckpointKey(sessionID))
	if !ok {
		return Checkpoint{}, false
	}
	var cp Checkpoint
	if err := json.Unmarshal([]byte(raw), &cp); err != nil {
		slog.Warn("Pipeline: undecodable checkpoint", "session", sessionID, "error", err)
		return Checkpoint{}, false
	}
	return cp, true
}

// Prune removes checkpoints older than ttl, if the store supports it.
func (c *Checkpoints) Prune(ctx context.Context, ttl time.Duration) (int64, error) {
	if c == nil {
		return 0, nil
	}
	sw, ok := c.st.(store.StateSweeper)
	if !ok {
		return 0, nil
	}
	return sw.PruneState(ctx, checkpointPrefix, ttl)
}
