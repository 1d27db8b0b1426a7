package reindexer

import (
	"time"

	"github.com/syntrixbase/reindexer/internal/clock"
)

// CheckpointPolicy defines when cursor updates are persisted.
type CheckpointPolicy struct {
	// Count-based: checkpoint every N cursor updates
	EveryN int

	// Time-based: checkpoint at least this often
	Interval time.Duration
}

// DefaultCheckpointPolicy returns sensible defaults.
func DefaultCheckpointPolicy() CheckpointPolicy {
	return CheckpointPolicy{
		EveryN:   128,
		Interval: 10 * time.Second,
	}
}

// checkpointTracker tracks when to persist a cursor based on policy.
type checkpointTracker struct {
	policy         CheckpointPolicy
	clock          clock.Clock
	lastCheckpoint time.Time
	updatesSince   int
}

func newCheckpointTracker(policy CheckpointPolicy, clk clock.Clock) *checkpointTracker {
	return &checkpointTracker{
		policy:         policy,
		clock:          clk,
		lastCheckpoint: clk.Now(),
	}
}

// Record counts a cursor update and returns true if it should be persisted now.
func (t *checkpointTracker) Record() bool {
	t.updatesSince++

	if t.policy.EveryN > 0 && t.updatesSince >= t.policy.EveryN {
		return true
	}

	if t.policy.Interval > 0 && t.clock.Now().Sub(t.lastCheckpoint) >= t.policy.Interval {
		return true
	}

	return false
}

// Mark notes that the cursor was persisted.
func (t *checkpointTracker) Mark() {
	t.lastCheckpoint = t.clock.Now()
	t.updatesSince = 0
}

// Dirty reports whether updates were recorded since the last checkpoint.
func (t *checkpointTracker) Dirty() bool {
	return t.updatesSince > 0
}
