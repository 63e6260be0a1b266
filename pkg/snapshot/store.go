package snapshot

import (
	"encoding/json"
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
	// DefaultTTL bounds how long a snapshot is restorable.
	DefaultTTL = time.Hour

	// DefaultMaxPerTask caps the history kept per task; older versions are
	// pruned on insert.
	DefaultMaxPerTask = 5

	// DefaultCleanupInterval is the period of the TTL cleanup loop.
	DefaultCleanupInterval = 5 * time.Minute
)

// SaveRequest describes a snapshot save. Version 0 means assign the next
// version; a zero TTL means DefaultTTL.
type SaveRequest struct {
	TaskID  string
	Data    types.SnapshotData
	Version int
	TTL     time.Duration
}

// Checkpoint is the convenience payload for SaveCheckpoint.
type Checkpoint struct {
	Stage    string
	Progress float64
	State    interface{}
	Metadata map[string]string
}

// Store persists per-task execution checkpoints so a re-queued task can
// resume from its most recent consistent point. Writes are serialized per
// task so concurrent saves produce distinct, strictly increasing versions.
type Store struct {
	repo   storage.Store
	broker *events.Broker
	logger zerolog.Logger

	defaultTTL      time.Duration
	maxPerTask      int
	cleanupInterval time.Duration

	taskMu sync.Mutex
	locks  map[string]*sync.Mutex

	stopCh   chan struct{}
	stopOnce sync.Once
	doneCh   chan struct{}
}

// Option configures a Store.
type Option func(*Store)

// WithDefaultTTL overrides the default snapshot TTL.
func WithDefaultTTL(d time.Duration) Option {
	return func(s *Store) { s.defaultTTL = d }
}

// WithMaxPerTask overrides the per-task history cap.
func WithMaxPerTask(n int) Option {
	return func(s *Store) { s.maxPerTask = n }
}

// WithCleanupInterval overrides the TTL cleanup period.
func WithCleanupInterval(d time.Duration) Option {
	return func(s *Store) { s.cleanupInterval = d }
}

// NewStore creates a snapshot store over the given repository.
func NewStore(repo storage.Store, broker *events.Broker, opts ...Option) *Store {
	s := &Store{
		repo:            repo,
		broker:          broker,
		logger:          log.WithComponent("snapshot"),
		defaultTTL:      DefaultTTL,
		maxPerTask:      DefaultMaxPerTask,
		cleanupInterval: DefaultCleanupInterval,
		locks:           make(map[string]*sync.Mutex),
		stopCh:          make(chan struct{}),
		doneCh:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the periodic TTL cleanup loop.
func (s *Store) Start() {
	go s.run()
}

// Stop stops the cleanup loop and waits for it to exit.
func (s *Store) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	<-s.doneCh
}

func (s *Store) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			affected, err := s.CleanupExpired()
			if err != nil {
				s.logger.Error().Err(err).Msg("snapshot cleanup failed")
				continue
			}
			if len(affected) > 0 {
				s.logger.Debug().Strs("task_ids", affected).Msg("expired snapshots removed")
			}
		case <-s.stopCh:
			return
		}
	}
}

// lockTask returns the per-task mutex, creating it on first use.
func (s *Store) lockTask(taskID string) *sync.Mutex {
	s.taskMu.Lock()
	defer s.taskMu.Unlock()

	mu, ok := s.locks[taskID]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[taskID] = mu
	}
	return mu
}

// Save persists a snapshot. When the request omits the version, the next
// version (max existing + 1) is assigned under the task's lock.
func (s *Store) Save(req SaveRequest) (*types.TaskSnapshot, error) {
	if req.TaskID == "" {
		return nil, errdefs.InvalidArgument("task id must not be empty")
	}

	mu := s.lockTask(req.TaskID)
	mu.Lock()
	defer mu.Unlock()

	version := req.Version
	if version == 0 {
		maxVersion, err := s.repo.MaxSnapshotVersion(req.TaskID)
		if err != nil {
			return nil, err
		}
		version = maxVersion + 1
	}

	ttl := req.TTL
	if ttl == 0 {
		ttl = s.defaultTTL
	}

	data := req.Data
	if data.Timestamp.IsZero() {
		data.Timestamp = time.Now()
	}

	now := time.Now()
	snap := &types.TaskSnapshot{
		TaskID:       req.TaskID,
		Version:      version,
		Data:         data,
		TTLExpiresAt: now.Add(ttl),
		CreatedAt:    now,
	}

	if err := s.repo.InsertSnapshot(snap); err != nil {
		return nil, err
	}
	if err := s.repo.PruneSnapshots(req.TaskID, s.maxPerTask); err != nil {
		s.logger.Warn().Err(err).Str("task_id", req.TaskID).Msg("failed to prune snapshot history")
	}

	metrics.SnapshotsSaved.Inc()
	s.emit(events.EventSnapshotSaved, req.TaskID, version)
	return snap, nil
}

// Restore returns the highest-version non-expired snapshot, or nil when
// none exists.
func (s *Store) Restore(taskID string) (*types.TaskSnapshot, error) {
	snapshots, err := s.repo.ListSnapshots(taskID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	for _, snap := range snapshots {
		if !snap.Expired(now) {
			s.emit(events.EventSnapshotRestored, taskID, snap.Version)
			return snap, nil
		}
	}
	return nil, nil
}

// Update stores newData as a new version atomically.
func (s *Store) Update(taskID string, newData types.SnapshotData) (*types.TaskSnapshot, error) {
	return s.Save(SaveRequest{TaskID: taskID, Data: newData})
}

// History returns all stored versions, newest first. The result is bounded
// by the per-task cap enforced on insert.
func (s *Store) History(taskID string) ([]*types.TaskSnapshot, error) {
	return s.repo.ListSnapshots(taskID)
}

// Delete removes every snapshot for the task.
func (s *Store) Delete(taskID string) error {
	if err := s.repo.DeleteSnapshots(taskID); err != nil {
		return err
	}

	s.taskMu.Lock()
	delete(s.locks, taskID)
	s.taskMu.Unlock()

	s.emit(events.EventSnapshotDeleted, taskID, 0)
	return nil
}

// Metadata returns snapshot descriptors without their payloads, newest
// first.
func (s *Store) Metadata(taskID string) ([]*types.SnapshotMetadata, error) {
	snapshots, err := s.repo.ListSnapshots(taskID)
	if err != nil {
		return nil, err
	}

	out := make([]*types.SnapshotMetadata, 0, len(snapshots))
	for _, snap := range snapshots {
		out = append(out, &types.SnapshotMetadata{
			TaskID:       snap.TaskID,
			Version:      snap.Version,
			Checkpoint:   snap.Data.Checkpoint,
			Progress:     snap.Data.Progress,
			TTLExpiresAt: snap.TTLExpiresAt,
			CreatedAt:    snap.CreatedAt,
		})
	}
	return out, nil
}

// CleanupExpired removes all snapshots past their TTL and returns the
// affected task ids.
func (s *Store) CleanupExpired() ([]string, error) {
	affected, err := s.repo.DeleteExpiredSnapshots(time.Now())
	if err != nil {
		return nil, err
	}
	if len(affected) > 0 {
		metrics.SnapshotsExpired.Add(float64(len(affected)))
	}
	return affected, nil
}

// SaveCheckpoint wraps a checkpoint payload and assigns the next version.
func (s *Store) SaveCheckpoint(taskID string, cp Checkpoint) (*types.TaskSnapshot, error) {
	if cp.Progress < 0 || cp.Progress > 1 {
		return nil, errdefs.InvalidArgument("progress %v outside [0,1]", cp.Progress)
	}

	var state json.RawMessage
	if cp.State != nil {
		encoded, err := json.Marshal(cp.State)
		if err != nil {
			return nil, errdefs.InvalidArgument("checkpoint state not serializable: %v", err)
		}
		state = encoded
	}

	return s.Save(SaveRequest{
		TaskID: taskID,
		Data: types.SnapshotData{
			Checkpoint: cp.Stage,
			Progress:   cp.Progress,
			State:      state,
			Metadata:   cp.Metadata,
			Timestamp:  time.Now(),
		},
	})
}

func (s *Store) emit(t events.EventType, taskID string, version int) {
	if s.broker == nil {
		return
	}
	event := &events.Event{
		Type:   t,
		TaskID: taskID,
	}
	if version > 0 {
		event.Metadata = map[string]string{"version": strconv.Itoa(version)}
	}
	s.broker.Publish(event)
}
