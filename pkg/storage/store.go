package storage

import (
	"time"

	"github.com/cortexops/drover/pkg/types"
)

// Store is the repository contract the core consumes. Implementations must
// provide atomic single-row upsert and range queries; snapshot inserts must
// enforce uniqueness on (taskID, version).
type Store interface {
	// Workers
	SaveWorker(worker *types.Worker) error
	GetWorker(id string) (*types.Worker, error)
	ListWorkers() ([]*types.Worker, error)
	DeleteWorker(id string) error

	// Task snapshots
	InsertSnapshot(snapshot *types.TaskSnapshot) error
	ListSnapshots(taskID string) ([]*types.TaskSnapshot, error) // newest first
	MaxSnapshotVersion(taskID string) (int, error)              // 0 when none
	DeleteSnapshots(taskID string) error
	DeleteExpiredSnapshots(now time.Time) ([]string, error) // affected task ids
	PruneSnapshots(taskID string, keep int) error

	// Utility
	Close() error
}
