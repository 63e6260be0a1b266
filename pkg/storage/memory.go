package storage

import (
	"sort"
	"sync"
	"time"

	"github.com/cortexops/drover/pkg/errdefs"
	"github.com/cortexops/drover/pkg/types"
)

// MemoryStore implements Store entirely in memory. Used in tests and when
// the control plane runs without a data directory.
type MemoryStore struct {
	mu        sync.RWMutex
	workers   map[string]*types.Worker
	snapshots map[string][]*types.TaskSnapshot // taskID -> versions ascending
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		workers:   make(map[string]*types.Worker),
		snapshots: make(map[string][]*types.TaskSnapshot),
	}
}

// Close is a no-op for the memory store.
func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) SaveWorker(worker *types.Worker) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := *worker
	s.workers[worker.ID] = &w
	return nil
}

func (s *MemoryStore) GetWorker(id string) (*types.Worker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.workers[id]
	if !ok {
		return nil, errdefs.NotFound("worker %s", id)
	}
	copied := *w
	return &copied, nil
}

func (s *MemoryStore) ListWorkers() ([]*types.Worker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*types.Worker, 0, len(s.workers))
	for _, w := range s.workers {
		copied := *w
		out = append(out, &copied)
	}
	return out, nil
}

func (s *MemoryStore) DeleteWorker(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.workers, id)
	return nil
}

func (s *MemoryStore) InsertSnapshot(snapshot *types.TaskSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.snapshots[snapshot.TaskID] {
		if existing.Version == snapshot.Version {
			return errdefs.VersionConflict("snapshot %s version %d", snapshot.TaskID, snapshot.Version)
		}
	}
	copied := *snapshot
	list := append(s.snapshots[snapshot.TaskID], &copied)
	sort.Slice(list, func(i, j int) bool { return list[i].Version < list[j].Version })
	s.snapshots[snapshot.TaskID] = list
	return nil
}

func (s *MemoryStore) ListSnapshots(taskID string) ([]*types.TaskSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.snapshots[taskID]
	out := make([]*types.TaskSnapshot, 0, len(list))
	for i := len(list) - 1; i >= 0; i-- {
		copied := *list[i]
		out = append(out, &copied)
	}
	return out, nil
}

func (s *MemoryStore) MaxSnapshotVersion(taskID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.snapshots[taskID]
	if len(list) == 0 {
		return 0, nil
	}
	return list[len(list)-1].Version, nil
}

func (s *MemoryStore) DeleteSnapshots(taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snapshots, taskID)
	return nil
}

func (s *MemoryStore) DeleteExpiredSnapshots(now time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var affected []string
	for taskID, list := range s.snapshots {
		var kept []*types.TaskSnapshot
		for _, snap := range list {
			if !snap.Expired(now) {
				kept = append(kept, snap)
			}
		}
		if len(kept) != len(list) {
			affected = append(affected, taskID)
			if len(kept) == 0 {
				delete(s.snapshots, taskID)
			} else {
				s.snapshots[taskID] = kept
			}
		}
	}
	sort.Strings(affected)
	return affected, nil
}

func (s *MemoryStore) PruneSnapshots(taskID string, keep int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.snapshots[taskID]
	if len(list) <= keep {
		return nil
	}
	s.snapshots[taskID] = append([]*types.TaskSnapshot(nil), list[len(list)-keep:]...)
	return nil
}
