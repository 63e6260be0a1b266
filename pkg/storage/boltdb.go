package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/cortexops/drover/pkg/errdefs"
	"github.com/cortexops/drover/pkg/types"
)

var (
	// Bucket names
	bucketWorkers   = []byte("workers")
	bucketSnapshots = []byte("snapshots")
)

// BoltStore implements Store using BoltDB.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "drover.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketWorkers, bucketSnapshots} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Worker operations

func (s *BoltStore) SaveWorker(worker *types.Worker) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketWorkers)
		data, err := json.Marshal(worker)
		if err != nil {
			return err
		}
		return b.Put([]byte(worker.ID), data)
	})
}

func (s *BoltStore) GetWorker(id string) (*types.Worker, error) {
	var worker types.Worker
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketWorkers)
		data := b.Get([]byte(id))
		if data == nil {
			return errdefs.NotFound("worker %s", id)
		}
		return json.Unmarshal(data, &worker)
	})
	if err != nil {
		return nil, err
	}
	return &worker, nil
}

func (s *BoltStore) ListWorkers() ([]*types.Worker, error) {
	var workers []*types.Worker
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketWorkers)
		return b.ForEach(func(k, v []byte) error {
			var worker types.Worker
			if err := json.Unmarshal(v, &worker); err != nil {
				return err
			}
			workers = append(workers, &worker)
			return nil
		})
	})
	return workers, err
}

func (s *BoltStore) DeleteWorker(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketWorkers)
		return b.Delete([]byte(id))
	})
}

// Snapshot operations
//
// Snapshot rows are keyed "<taskID>/<version>" with the version zero-padded
// so a cursor range over the task prefix yields versions in order. Ten
// digits keeps that ordering for any version in the 32-bit range.

func snapshotKey(taskID string, version int) []byte {
	return []byte(fmt.Sprintf("%s/%010d", taskID, version))
}

func snapshotPrefix(taskID string) []byte {
	return []byte(taskID + "/")
}

func (s *BoltStore) InsertSnapshot(snapshot *types.TaskSnapshot) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSnapshots)
		key := snapshotKey(snapshot.TaskID, snapshot.Version)
		if b.Get(key) != nil {
			return errdefs.VersionConflict("snapshot %s version %d", snapshot.TaskID, snapshot.Version)
		}
		data, err := json.Marshal(snapshot)
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
}

func (s *BoltStore) ListSnapshots(taskID string) ([]*types.TaskSnapshot, error) {
	var snapshots []*types.TaskSnapshot
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketSnapshots).Cursor()
		prefix := snapshotPrefix(taskID)
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var snapshot types.TaskSnapshot
			if err := json.Unmarshal(v, &snapshot); err != nil {
				return err
			}
			snapshots = append(snapshots, &snapshot)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	// Cursor order is oldest first; callers want newest first
	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].Version > snapshots[j].Version
	})
	return snapshots, nil
}

func (s *BoltStore) MaxSnapshotVersion(taskID string) (int, error) {
	maxVersion := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketSnapshots).Cursor()
		prefix := snapshotPrefix(taskID)
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var snapshot types.TaskSnapshot
			if err := json.Unmarshal(v, &snapshot); err != nil {
				return err
			}
			if snapshot.Version > maxVersion {
				maxVersion = snapshot.Version
			}
		}
		return nil
	})
	return maxVersion, err
}

func (s *BoltStore) DeleteSnapshots(taskID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSnapshots)
		c := b.Cursor()
		prefix := snapshotPrefix(taskID)
		var keys [][]byte
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			keys = append(keys, append([]byte(nil), k...))
		}
		for _, k := range keys {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) DeleteExpiredSnapshots(now time.Time) ([]string, error) {
	affected := make(map[string]bool)
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSnapshots)
		var keys [][]byte
		err := b.ForEach(func(k, v []byte) error {
			var snapshot types.TaskSnapshot
			if err := json.Unmarshal(v, &snapshot); err != nil {
				return err
			}
			if snapshot.Expired(now) {
				keys = append(keys, append([]byte(nil), k...))
				affected[snapshot.TaskID] = true
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range keys {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(affected))
	for id := range affected {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *BoltStore) PruneSnapshots(taskID string, keep int) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSnapshots)
		c := b.Cursor()
		prefix := snapshotPrefix(taskID)
		var keys [][]byte
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			keys = append(keys, append([]byte(nil), k...))
		}
		// Keys are version-ordered oldest first; drop the overflow from
		// the front.
		if len(keys) <= keep {
			return nil
		}
		for _, k := range keys[:len(keys)-keep] {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}
