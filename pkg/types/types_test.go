package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// TestPriorityWeight verifies queue ordering weights and the unknown-hint
// fallback
func TestPriorityWeight(t *testing.T) {
	assert.Equal(t, 3, PriorityUrgent.Weight())
	assert.Equal(t, 2, PriorityHigh.Weight())
	assert.Equal(t, 1, PriorityNormal.Weight())
	assert.Equal(t, 0, PriorityLow.Weight())
	assert.Equal(t, 1, Priority("mystery").Weight())
	assert.Equal(t, 1, Priority("").Weight())
}

// TestTerminal verifies the terminal-state predicate
func TestTerminal(t *testing.T) {
	assert.True(t, TaskStateCompleted.Terminal())
	assert.True(t, TaskStateFailed.Terminal())
	assert.True(t, TaskStateCancelled.Terminal())
	assert.False(t, TaskStatePending.Terminal())
	assert.False(t, TaskStateRunning.Terminal())
	assert.False(t, TaskStateSuspended.Terminal())
}

// TestSnapshotExpired verifies the closed-interval TTL boundary
func TestSnapshotExpired(t *testing.T) {
	now := time.Now()
	snap := &TaskSnapshot{TTLExpiresAt: now}

	assert.True(t, snap.Expired(now), "exactly at expiry is expired")
	assert.True(t, snap.Expired(now.Add(time.Second)))
	assert.False(t, snap.Expired(now.Add(-time.Second)))
}

// TestHealthRank verifies ordering for minimum-health queries
func TestHealthRank(t *testing.T) {
	assert.Greater(t, HealthHealthy.Rank(), HealthDegraded.Rank())
	assert.Greater(t, HealthDegraded.Rank(), HealthUnhealthy.Rank())
	assert.True(t, HealthHealthy.Valid())
	assert.False(t, HealthState("zombie").Valid())
}

// TestHasCapabilities verifies the subset check
func TestHasCapabilities(t *testing.T) {
	w := &Worker{Capabilities: map[string]string{"code": "", "test": "go"}}

	assert.True(t, w.HasCapabilities(nil))
	assert.True(t, w.HasCapabilities([]string{"code"}))
	assert.True(t, w.HasCapabilities([]string{"code", "test"}))
	assert.False(t, w.HasCapabilities([]string{"code", "gpu"}))
}
