package registry

import (
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cortexops/drover/pkg/errdefs"
	"github.com/cortexops/drover/pkg/events"
	"github.com/cortexops/drover/pkg/log"
	"github.com/cortexops/drover/pkg/metrics"
	"github.com/cortexops/drover/pkg/storage"
	"github.com/cortexops/drover/pkg/types"
)

const (
	// DefaultCleanupInterval is how often the background eviction loop runs.
	DefaultCleanupInterval = 60 * time.Second

	// DefaultStaleThreshold is 5x the typical heartbeat period: a worker
	// silent this long is evicted.
	DefaultStaleThreshold = 300 * time.Second
)

// Query constrains a capability lookup. Zero-valued fields are unbounded.
// MaxSaturation, when set, keeps only workers at or below the ratio; a cap
// of zero matches fully idle workers only.
type Query struct {
	RequiredCapabilities []string
	MaxSaturation        *float64 // nil means no cap
	MinHealth            types.HealthState
	Limit                int // 0 means no limit
}

// Registry maintains the live worker set with capabilities, health and
// load. The in-memory map is authoritative; a configured store receives
// best-effort write-through so a restarted control plane reloads its fleet.
type Registry struct {
	mu      sync.RWMutex
	workers map[string]*types.Worker

	store  storage.Store // optional
	broker *events.Broker
	logger zerolog.Logger

	cleanupInterval time.Duration
	staleThreshold  time.Duration
	stopCh          chan struct{}
	stopOnce        sync.Once
	doneCh          chan struct{}
}

// Option configures a Registry.
type Option func(*Registry)

// WithStore enables write-through persistence of worker rows.
func WithStore(store storage.Store) Option {
	return func(r *Registry) { r.store = store }
}

// WithCleanupInterval overrides the background eviction period.
func WithCleanupInterval(d time.Duration) Option {
	return func(r *Registry) { r.cleanupInterval = d }
}

// WithStaleThreshold overrides the heartbeat staleness cutoff.
func WithStaleThreshold(d time.Duration) Option {
	return func(r *Registry) { r.staleThreshold = d }
}

// NewRegistry creates a registry publishing to broker. When a store is
// configured, previously persisted workers are loaded back.
func NewRegistry(broker *events.Broker, opts ...Option) (*Registry, error) {
	r := &Registry{
		workers:         make(map[string]*types.Worker),
		broker:          broker,
		logger:          log.WithComponent("registry"),
		cleanupInterval: DefaultCleanupInterval,
		staleThreshold:  DefaultStaleThreshold,
		stopCh:          make(chan struct{}),
		doneCh:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}

	if r.store != nil {
		persisted, err := r.store.ListWorkers()
		if err != nil {
			return nil, err
		}
		for _, w := range persisted {
			r.workers[w.ID] = w
		}
	}
	return r, nil
}

// Start launches the periodic stale-worker eviction loop.
func (r *Registry) Start() {
	go r.run()
}

// Stop stops the eviction loop and waits for it to exit.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
	})
	<-r.doneCh
}

func (r *Registry) run() {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			removed := r.CleanupStale(r.staleThreshold)
			if len(removed) > 0 {
				r.logger.Info().Strs("worker_ids", removed).Msg("evicted stale workers")
			}
		case <-r.stopCh:
			return
		}
	}
}

// Register upserts a worker and stamps its heartbeat. Saturation must be
// in [0,1] and health one of the three known states.
func (r *Registry) Register(workerID string, capabilities map[string]string, health types.HealthState, saturation float64) error {
	if workerID == "" {
		return errdefs.InvalidArgument("worker id must not be empty")
	}
	if health == "" {
		health = types.HealthHealthy
	}
	if !health.Valid() {
		return errdefs.InvalidArgument("unknown health state %q", health)
	}
	if saturation < 0 || saturation > 1 {
		return errdefs.InvalidArgument("saturation %v outside [0,1]", saturation)
	}

	now := time.Now()
	worker := &types.Worker{
		ID:            workerID,
		Capabilities:  capabilities,
		Health:        health,
		Saturation:    saturation,
		LastHeartbeat: now,
		CreatedAt:     now,
	}

	r.mu.Lock()
	if existing, ok := r.workers[workerID]; ok {
		worker.CreatedAt = existing.CreatedAt
	}
	r.workers[workerID] = worker
	r.mu.Unlock()

	r.persist(worker)
	r.updateHealthGauges()
	r.emit(events.EventWorkerRegistered, workerID, map[string]string{"health": string(health)})
	return nil
}

// Deregister removes a worker. Removing an unknown worker is an error.
func (r *Registry) Deregister(workerID string) error {
	r.mu.Lock()
	if _, ok := r.workers[workerID]; !ok {
		r.mu.Unlock()
		return errdefs.NotFound("worker %s", workerID)
	}
	delete(r.workers, workerID)
	r.mu.Unlock()

	if r.store != nil {
		if err := r.store.DeleteWorker(workerID); err != nil {
			r.logger.Warn().Err(err).Str("worker_id", workerID).Msg("failed to delete persisted worker")
		}
	}
	r.updateHealthGauges()
	r.emit(events.EventWorkerDeregistered, workerID, nil)
	return nil
}

// UpdateHealth updates a worker's health and saturation.
func (r *Registry) UpdateHealth(workerID string, health types.HealthState, saturation float64) error {
	if !health.Valid() {
		return errdefs.InvalidArgument("unknown health state %q", health)
	}
	if saturation < 0 || saturation > 1 {
		return errdefs.InvalidArgument("saturation %v outside [0,1]", saturation)
	}

	r.mu.Lock()
	worker, ok := r.workers[workerID]
	if !ok {
		r.mu.Unlock()
		return errdefs.NotFound("worker %s", workerID)
	}
	worker.Health = health
	worker.Saturation = saturation
	snapshot := *worker
	r.mu.Unlock()

	r.persist(&snapshot)
	r.updateHealthGauges()
	r.emit(events.EventWorkerHealth, workerID, map[string]string{"health": string(health)})
	return nil
}

// Heartbeat stamps the worker's liveness.
func (r *Registry) Heartbeat(workerID string) error {
	r.mu.Lock()
	worker, ok := r.workers[workerID]
	if !ok {
		r.mu.Unlock()
		return errdefs.NotFound("worker %s", workerID)
	}
	worker.LastHeartbeat = time.Now()
	snapshot := *worker
	r.mu.Unlock()

	r.persist(&snapshot)
	return nil
}

// Get returns a copy of the worker.
func (r *Registry) Get(workerID string) (*types.Worker, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	worker, ok := r.workers[workerID]
	if !ok {
		return nil, errdefs.NotFound("worker %s", workerID)
	}
	copied := *worker
	return &copied, nil
}

// List returns copies of every registered worker.
func (r *Registry) List() []*types.Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*types.Worker, 0, len(r.workers))
	for _, w := range r.workers {
		copied := *w
		out = append(out, &copied)
	}
	return out
}

// Find returns the workers satisfying every constraint in q, ordered by
// ascending saturation, then most recent heartbeat, then worker id for
// determinism.
func (r *Registry) Find(q Query) []*types.Worker {
	r.mu.RLock()
	var matched []*types.Worker
	for _, w := range r.workers {
		if !w.HasCapabilities(q.RequiredCapabilities) {
			continue
		}
		if q.MaxSaturation != nil && w.Saturation > *q.MaxSaturation {
			continue
		}
		if q.MinHealth != "" && w.Health.Rank() < q.MinHealth.Rank() {
			continue
		}
		copied := *w
		matched = append(matched, &copied)
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].Saturation != matched[j].Saturation {
			return matched[i].Saturation < matched[j].Saturation
		}
		if !matched[i].LastHeartbeat.Equal(matched[j].LastHeartbeat) {
			return matched[i].LastHeartbeat.After(matched[j].LastHeartbeat)
		}
		return matched[i].ID < matched[j].ID
	})

	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	return matched
}

// CleanupStale evicts workers whose last heartbeat is older than the
// threshold and returns their ids. Eviction is idempotent.
func (r *Registry) CleanupStale(threshold time.Duration) []string {
	cutoff := time.Now().Add(-threshold)

	r.mu.Lock()
	var removed []string
	for id, w := range r.workers {
		if w.LastHeartbeat.Before(cutoff) {
			delete(r.workers, id)
			removed = append(removed, id)
		}
	}
	r.mu.Unlock()

	sort.Strings(removed)
	for _, id := range removed {
		if r.store != nil {
			if err := r.store.DeleteWorker(id); err != nil {
				r.logger.Warn().Err(err).Str("worker_id", id).Msg("failed to delete persisted worker")
			}
		}
	}
	if len(removed) > 0 {
		metrics.WorkersEvicted.Add(float64(len(removed)))
		r.updateHealthGauges()
		r.emit(events.EventWorkerCleanup, "", map[string]string{
			"count": strconv.Itoa(len(removed)),
		})
	}
	return removed
}

// Count returns the number of registered workers.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.workers)
}

func (r *Registry) persist(worker *types.Worker) {
	if r.store == nil {
		return
	}
	if err := r.store.SaveWorker(worker); err != nil {
		// The in-memory registry stays authoritative; persistence is
		// best-effort write-through.
		r.logger.Warn().Err(err).Str("worker_id", worker.ID).Msg("failed to persist worker")
	}
}

func (r *Registry) updateHealthGauges() {
	r.mu.RLock()
	counts := make(map[types.HealthState]int)
	for _, w := range r.workers {
		counts[w.Health]++
	}
	r.mu.RUnlock()

	for _, h := range []types.HealthState{types.HealthHealthy, types.HealthDegraded, types.HealthUnhealthy} {
		metrics.WorkersTotal.WithLabelValues(string(h)).Set(float64(counts[h]))
	}
}

func (r *Registry) emit(t events.EventType, workerID string, metadata map[string]string) {
	if r.broker == nil {
		return
	}
	r.broker.Publish(&events.Event{
		Type:     t,
		WorkerID: workerID,
		Metadata: metadata,
	})
}
