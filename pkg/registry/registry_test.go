package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortexops/drover/pkg/errdefs"
	"github.com/cortexops/drover/pkg/storage"
	"github.com/cortexops/drover/pkg/types"
)

func newTestRegistry(t *testing.T, opts ...Option) *Registry {
	t.Helper()
	r, err := NewRegistry(nil, opts...)
	require.NoError(t, err)
	return r
}

// TestRegisterValidation covers rejected registrations
func TestRegisterValidation(t *testing.T) {
	tests := []struct {
		name       string
		workerID   string
		health     types.HealthState
		saturation float64
	}{
		{"empty id", "", types.HealthHealthy, 0},
		{"unknown health", "w1", "zombie", 0},
		{"saturation below zero", "w1", types.HealthHealthy, -0.1},
		{"saturation above one", "w1", types.HealthHealthy, 1.1},
	}

	r := newTestRegistry(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.Register(tt.workerID, nil, tt.health, tt.saturation)
			assert.True(t, errdefs.IsInvalidArgument(err))
		})
	}
}

// TestRegisterUpsert verifies re-registration updates in place
func TestRegisterUpsert(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.Register("w1", map[string]string{"code": "v1"}, types.HealthHealthy, 0.2))

	first, err := r.Get("w1")
	require.NoError(t, err)

	require.NoError(t, r.Register("w1", map[string]string{"code": "v2"}, types.HealthDegraded, 0.5))

	second, err := r.Get("w1")
	require.NoError(t, err)
	assert.Equal(t, "v2", second.Capabilities["code"])
	assert.Equal(t, types.HealthDegraded, second.Health)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)
	assert.Equal(t, 1, r.Count())
}

// TestRegisterDefaultsHealth verifies omitted health defaults to healthy
func TestRegisterDefaultsHealth(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.Register("w1", nil, "", 0))

	w, err := r.Get("w1")
	require.NoError(t, err)
	assert.Equal(t, types.HealthHealthy, w.Health)
}

// TestDeregister verifies removal and the unknown-worker error
func TestDeregister(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.Register("w1", nil, types.HealthHealthy, 0))
	require.NoError(t, r.Deregister("w1"))

	_, err := r.Get("w1")
	assert.True(t, errdefs.IsNotFound(err))
	assert.True(t, errdefs.IsNotFound(r.Deregister("w1")))
}

// TestUpdateHealth verifies health and saturation updates
func TestUpdateHealth(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.Register("w1", nil, types.HealthHealthy, 0.1))

	require.NoError(t, r.UpdateHealth("w1", types.HealthUnhealthy, 0.9))

	w, err := r.Get("w1")
	require.NoError(t, err)
	assert.Equal(t, types.HealthUnhealthy, w.Health)
	assert.Equal(t, 0.9, w.Saturation)

	assert.True(t, errdefs.IsNotFound(r.UpdateHealth("ghost", types.HealthHealthy, 0)))
	assert.True(t, errdefs.IsInvalidArgument(r.UpdateHealth("w1", "zombie", 0)))
}

// TestFind verifies capability, saturation and health filtering with
// deterministic ordering
func TestFind(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.Register("w1", map[string]string{"code": "", "test": ""}, types.HealthHealthy, 0.6))
	require.NoError(t, r.Register("w2", map[string]string{"code": ""}, types.HealthHealthy, 0.2))
	require.NoError(t, r.Register("w3", map[string]string{"code": ""}, types.HealthDegraded, 0.2))
	require.NoError(t, r.Register("w4", map[string]string{"docs": ""}, types.HealthHealthy, 0.0))

	found := r.Find(Query{RequiredCapabilities: []string{"code"}})
	require.Len(t, found, 3)
	// Ascending saturation, ties broken by id after heartbeat
	assert.Equal(t, 0.2, found[0].Saturation)
	assert.Equal(t, 0.2, found[1].Saturation)
	assert.Equal(t, "w1", found[2].ID)

	half := 0.5
	found = r.Find(Query{RequiredCapabilities: []string{"code"}, MaxSaturation: &half})
	assert.Len(t, found, 2)

	// A zero cap means fully idle only, not unbounded
	idle := 0.0
	found = r.Find(Query{MaxSaturation: &idle})
	require.Len(t, found, 1)
	assert.Equal(t, "w4", found[0].ID)

	found = r.Find(Query{RequiredCapabilities: []string{"code"}, MinHealth: types.HealthHealthy})
	require.Len(t, found, 2)
	for _, w := range found {
		assert.Equal(t, types.HealthHealthy, w.Health)
	}

	found = r.Find(Query{RequiredCapabilities: []string{"code"}, Limit: 1})
	assert.Len(t, found, 1)

	found = r.Find(Query{RequiredCapabilities: []string{"gpu"}})
	assert.Empty(t, found)
}

// TestCleanupStale verifies eviction by heartbeat age
func TestCleanupStale(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.Register("w1", nil, types.HealthHealthy, 0))
	require.NoError(t, r.Register("w2", nil, types.HealthHealthy, 0))

	// Age w1's heartbeat past the threshold
	r.mu.Lock()
	r.workers["w1"].LastHeartbeat = time.Now().Add(-10 * time.Minute)
	r.mu.Unlock()

	removed := r.CleanupStale(5 * time.Minute)
	assert.Equal(t, []string{"w1"}, removed)
	assert.Equal(t, 1, r.Count())

	// Idempotent
	assert.Empty(t, r.CleanupStale(5*time.Minute))
}

// TestHeartbeatRefreshesLiveness verifies heartbeats defeat eviction
func TestHeartbeatRefreshesLiveness(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.Register("w1", nil, types.HealthHealthy, 0))

	r.mu.Lock()
	r.workers["w1"].LastHeartbeat = time.Now().Add(-10 * time.Minute)
	r.mu.Unlock()

	require.NoError(t, r.Heartbeat("w1"))
	assert.Empty(t, r.CleanupStale(5*time.Minute))

	assert.True(t, errdefs.IsNotFound(r.Heartbeat("ghost")))
}

// TestPersistenceRoundTrip verifies write-through and reload from a store
func TestPersistenceRoundTrip(t *testing.T) {
	store := storage.NewMemoryStore()

	r := newTestRegistry(t, WithStore(store))
	require.NoError(t, r.Register("w1", map[string]string{"code": ""}, types.HealthHealthy, 0.3))

	reloaded, err := NewRegistry(nil, WithStore(store))
	require.NoError(t, err)

	w, err := reloaded.Get("w1")
	require.NoError(t, err)
	assert.Equal(t, types.HealthHealthy, w.Health)
	assert.Equal(t, 0.3, w.Saturation)
	assert.Contains(t, w.Capabilities, "code")
}

// TestGetReturnsCopy verifies callers cannot mutate registry state
func TestGetReturnsCopy(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.Register("w1", nil, types.HealthHealthy, 0.1))

	w, err := r.Get("w1")
	require.NoError(t, err)
	w.Saturation = 0.9

	again, err := r.Get("w1")
	require.NoError(t, err)
	assert.Equal(t, 0.1, again.Saturation)
}
