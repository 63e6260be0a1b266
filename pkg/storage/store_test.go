package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortexops/drover/pkg/errdefs"
	"github.com/cortexops/drover/pkg/types"
)

// stores runs a subtest against both backends.
func stores(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Helper()

	t.Run("memory", func(t *testing.T) {
		fn(t, NewMemoryStore())
	})
	t.Run("bolt", func(t *testing.T) {
		s, err := NewBoltStore(t.TempDir())
		require.NoError(t, err)
		defer s.Close()
		fn(t, s)
	})
}

func testSnapshot(taskID string, version int, ttl time.Duration) *types.TaskSnapshot {
	now := time.Now()
	return &types.TaskSnapshot{
		TaskID:  taskID,
		Version: version,
		Data: types.SnapshotData{
			Checkpoint: "stage",
			Progress:   0.5,
			Timestamp:  now,
		},
		TTLExpiresAt: now.Add(ttl),
		CreatedAt:    now,
	}
}

// TestWorkerRoundTrip verifies save, get, list and delete of worker rows
func TestWorkerRoundTrip(t *testing.T) {
	stores(t, func(t *testing.T, s Store) {
		worker := &types.Worker{
			ID:            "w1",
			Capabilities:  map[string]string{"code": ""},
			Health:        types.HealthHealthy,
			Saturation:    0.4,
			LastHeartbeat: time.Now(),
			CreatedAt:     time.Now(),
		}
		require.NoError(t, s.SaveWorker(worker))

		got, err := s.GetWorker("w1")
		require.NoError(t, err)
		assert.Equal(t, worker.ID, got.ID)
		assert.Equal(t, worker.Saturation, got.Saturation)
		assert.Contains(t, got.Capabilities, "code")

		list, err := s.ListWorkers()
		require.NoError(t, err)
		assert.Len(t, list, 1)

		require.NoError(t, s.DeleteWorker("w1"))
		_, err = s.GetWorker("w1")
		assert.True(t, errdefs.IsNotFound(err))
	})
}

// TestInsertSnapshotConflict verifies (taskID, version) uniqueness
func TestInsertSnapshotConflict(t *testing.T) {
	stores(t, func(t *testing.T, s Store) {
		require.NoError(t, s.InsertSnapshot(testSnapshot("t1", 1, time.Hour)))

		err := s.InsertSnapshot(testSnapshot("t1", 1, time.Hour))
		assert.True(t, errdefs.IsVersionConflict(err))

		// Same version under another task is fine
		require.NoError(t, s.InsertSnapshot(testSnapshot("t2", 1, time.Hour)))
	})
}

// TestListSnapshotsOrder verifies newest-first ordering and task isolation
func TestListSnapshotsOrder(t *testing.T) {
	stores(t, func(t *testing.T, s Store) {
		for _, v := range []int{2, 1, 3} {
			require.NoError(t, s.InsertSnapshot(testSnapshot("t1", v, time.Hour)))
		}
		require.NoError(t, s.InsertSnapshot(testSnapshot("t2", 9, time.Hour)))

		list, err := s.ListSnapshots("t1")
		require.NoError(t, err)
		require.Len(t, list, 3)
		assert.Equal(t, 3, list[0].Version)
		assert.Equal(t, 2, list[1].Version)
		assert.Equal(t, 1, list[2].Version)

		maxVersion, err := s.MaxSnapshotVersion("t1")
		require.NoError(t, err)
		assert.Equal(t, 3, maxVersion)

		maxVersion, err = s.MaxSnapshotVersion("unknown")
		require.NoError(t, err)
		assert.Equal(t, 0, maxVersion)
	})
}

// TestDeleteSnapshots verifies per-task deletion
func TestDeleteSnapshots(t *testing.T) {
	stores(t, func(t *testing.T, s Store) {
		require.NoError(t, s.InsertSnapshot(testSnapshot("t1", 1, time.Hour)))
		require.NoError(t, s.InsertSnapshot(testSnapshot("t2", 1, time.Hour)))

		require.NoError(t, s.DeleteSnapshots("t1"))

		list, err := s.ListSnapshots("t1")
		require.NoError(t, err)
		assert.Empty(t, list)

		list, err = s.ListSnapshots("t2")
		require.NoError(t, err)
		assert.Len(t, list, 1)
	})
}

// TestDeleteExpiredSnapshots verifies the closed-interval TTL boundary
func TestDeleteExpiredSnapshots(t *testing.T) {
	stores(t, func(t *testing.T, s Store) {
		now := time.Now()

		expired := testSnapshot("t1", 1, time.Hour)
		expired.TTLExpiresAt = now.Add(-time.Minute)
		require.NoError(t, s.InsertSnapshot(expired))

		boundary := testSnapshot("t2", 1, time.Hour)
		boundary.TTLExpiresAt = now
		require.NoError(t, s.InsertSnapshot(boundary))

		live := testSnapshot("t3", 1, time.Hour)
		require.NoError(t, s.InsertSnapshot(live))

		// Exactly-at-expiry counts as expired
		affected, err := s.DeleteExpiredSnapshots(now)
		require.NoError(t, err)
		assert.Equal(t, []string{"t1", "t2"}, affected)

		list, err := s.ListSnapshots("t3")
		require.NoError(t, err)
		assert.Len(t, list, 1)
	})
}

// TestPruneSnapshots verifies the oldest versions are dropped first
func TestPruneSnapshots(t *testing.T) {
	stores(t, func(t *testing.T, s Store) {
		for v := 1; v <= 7; v++ {
			require.NoError(t, s.InsertSnapshot(testSnapshot("t1", v, time.Hour)))
		}

		require.NoError(t, s.PruneSnapshots("t1", 5))

		list, err := s.ListSnapshots("t1")
		require.NoError(t, err)
		require.Len(t, list, 5)
		assert.Equal(t, 7, list[0].Version)
		assert.Equal(t, 3, list[4].Version)

		// Pruning under the cap is a no-op
		require.NoError(t, s.PruneSnapshots("t1", 5))
		list, err = s.ListSnapshots("t1")
		require.NoError(t, err)
		assert.Len(t, list, 5)
	})
}

// TestPruneSnapshotsWideVersions verifies oldest-first pruning holds when
// version numbers cross a digit boundary
func TestPruneSnapshotsWideVersions(t *testing.T) {
	stores(t, func(t *testing.T, s Store) {
		for _, v := range []int{99999999, 100000000, 100000001} {
			require.NoError(t, s.InsertSnapshot(testSnapshot("t1", v, time.Hour)))
		}

		require.NoError(t, s.PruneSnapshots("t1", 2))

		list, err := s.ListSnapshots("t1")
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, 100000001, list[0].Version)
		assert.Equal(t, 100000000, list[1].Version)
	})
}
