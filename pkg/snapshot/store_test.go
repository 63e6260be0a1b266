package snapshot

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortexops/drover/pkg/errdefs"
	"github.com/cortexops/drover/pkg/storage"
	"github.com/cortexops/drover/pkg/types"
)

func newTestStore(opts ...Option) *Store {
	return NewStore(storage.NewMemoryStore(), nil, opts...)
}

// TestCheckpointVersioning walks the checkpoint save/restore cycle
func TestCheckpointVersioning(t *testing.T) {
	s := newTestStore()

	first, err := s.SaveCheckpoint("t1", Checkpoint{Stage: "a", Progress: 0.25, State: map[string]int{}})
	require.NoError(t, err)
	assert.Equal(t, 1, first.Version)

	second, err := s.SaveCheckpoint("t1", Checkpoint{Stage: "b", Progress: 0.5, State: map[string]int{}})
	require.NoError(t, err)
	assert.Equal(t, 2, second.Version)

	restored, err := s.Restore("t1")
	require.NoError(t, err)
	require.NotNil(t, restored)
	assert.Equal(t, 2, restored.Version)
	assert.Equal(t, "b", restored.Data.Checkpoint)

	history, err := s.History("t1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 2, history[0].Version)
	assert.Equal(t, 1, history[1].Version)
}

// TestExplicitVersionConflict verifies duplicate explicit versions fail
func TestExplicitVersionConflict(t *testing.T) {
	s := newTestStore()

	_, err := s.Save(SaveRequest{TaskID: "t1", Version: 3})
	require.NoError(t, err)

	_, err = s.Save(SaveRequest{TaskID: "t1", Version: 3})
	assert.True(t, errdefs.IsVersionConflict(err))

	// Auto-assignment continues above the explicit version
	snap, err := s.Save(SaveRequest{TaskID: "t1"})
	require.NoError(t, err)
	assert.Equal(t, 4, snap.Version)
}

// TestRestoreSkipsExpired verifies the newest live version wins
func TestRestoreSkipsExpired(t *testing.T) {
	s := newTestStore()

	_, err := s.Save(SaveRequest{TaskID: "t1", Data: types.SnapshotData{Checkpoint: "old"}, TTL: time.Hour})
	require.NoError(t, err)
	_, err = s.Save(SaveRequest{TaskID: "t1", Data: types.SnapshotData{Checkpoint: "new"}, TTL: -time.Minute})
	require.NoError(t, err)

	restored, err := s.Restore("t1")
	require.NoError(t, err)
	require.NotNil(t, restored)
	assert.Equal(t, "old", restored.Data.Checkpoint)
}

// TestRestoreNothingLive verifies nil when every version is expired
func TestRestoreNothingLive(t *testing.T) {
	s := newTestStore()

	_, err := s.Save(SaveRequest{TaskID: "t1", TTL: -time.Minute})
	require.NoError(t, err)

	restored, err := s.Restore("t1")
	require.NoError(t, err)
	assert.Nil(t, restored)

	restored, err = s.Restore("never-saved")
	require.NoError(t, err)
	assert.Nil(t, restored)
}

// TestHistoryCap verifies the per-task cap prunes oldest-first on insert
func TestHistoryCap(t *testing.T) {
	s := newTestStore(WithMaxPerTask(5))

	for i := 0; i < 7; i++ {
		_, err := s.Save(SaveRequest{TaskID: "t1"})
		require.NoError(t, err)
	}

	history, err := s.History("t1")
	require.NoError(t, err)
	require.Len(t, history, 5)
	assert.Equal(t, 7, history[0].Version)
	assert.Equal(t, 3, history[4].Version)
}

// TestConcurrentSavesDistinctVersions verifies per-task serialization
func TestConcurrentSavesDistinctVersions(t *testing.T) {
	s := newTestStore(WithMaxPerTask(100))

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Save(SaveRequest{TaskID: "t1"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	history, err := s.History("t1")
	require.NoError(t, err)
	require.Len(t, history, n)

	seen := make(map[int]bool)
	for _, snap := range history {
		assert.False(t, seen[snap.Version], "duplicate version %d", snap.Version)
		seen[snap.Version] = true
	}
}

// TestCleanupExpired verifies TTL cleanup reports affected tasks
func TestCleanupExpired(t *testing.T) {
	s := newTestStore()

	_, err := s.Save(SaveRequest{TaskID: "t1", TTL: -time.Minute})
	require.NoError(t, err)
	_, err = s.Save(SaveRequest{TaskID: "t2", TTL: time.Hour})
	require.NoError(t, err)

	affected, err := s.CleanupExpired()
	require.NoError(t, err)
	assert.Equal(t, []string{"t1"}, affected)

	history, err := s.History("t2")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

// TestDelete verifies all versions drop together
func TestDelete(t *testing.T) {
	s := newTestStore()

	_, err := s.Save(SaveRequest{TaskID: "t1"})
	require.NoError(t, err)
	_, err = s.Save(SaveRequest{TaskID: "t1"})
	require.NoError(t, err)

	require.NoError(t, s.Delete("t1"))

	history, err := s.History("t1")
	require.NoError(t, err)
	assert.Empty(t, history)

	// Versioning restarts after deletion
	snap, err := s.Save(SaveRequest{TaskID: "t1"})
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Version)
}

// TestMetadata verifies payload-free descriptors
func TestMetadata(t *testing.T) {
	s := newTestStore()

	_, err := s.SaveCheckpoint("t1", Checkpoint{Stage: "a", Progress: 0.25, State: map[string]string{"k": "v"}})
	require.NoError(t, err)

	meta, err := s.Metadata("t1")
	require.NoError(t, err)
	require.Len(t, meta, 1)
	assert.Equal(t, "a", meta[0].Checkpoint)
	assert.Equal(t, 0.25, meta[0].Progress)
	assert.Equal(t, 1, meta[0].Version)
}

// TestSaveCheckpointValidation verifies progress bounds and task id checks
func TestSaveCheckpointValidation(t *testing.T) {
	s := newTestStore()

	_, err := s.SaveCheckpoint("t1", Checkpoint{Progress: -0.1})
	assert.True(t, errdefs.IsInvalidArgument(err))

	_, err = s.SaveCheckpoint("t1", Checkpoint{Progress: 1.1})
	assert.True(t, errdefs.IsInvalidArgument(err))

	_, err = s.Save(SaveRequest{TaskID: ""})
	assert.True(t, errdefs.IsInvalidArgument(err))
}
