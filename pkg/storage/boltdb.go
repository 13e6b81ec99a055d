package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/boardsync/pkg/board"
	"github.com/cuemby/boardsync/pkg/types"
)

var (
	// Bucket names
	bucketBoards    = []byte("boards")
	bucketChanges   = []byte("changes")
	bucketMutations = []byte("mutations")
)

// BoltStore implements Store interface using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "boardsync.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketBoards,
			bucketChanges,
			bucketMutations,
		}

		for _, bucket := range buckets {
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

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// revisionKey encodes a revision so that byte order matches numeric order
func revisionKey(rev uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, rev)
	return k
}

// Board operations
func (s *BoltStore) CreateBoard(state *board.State) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putBoard(tx, state)
	})
}

func putBoard(tx *bolt.Tx, state *board.State) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return tx.Bucket(bucketBoards).Put([]byte(state.Board.ID), data)
}

func (s *BoltStore) GetBoard(id string) (*board.State, error) {
	var state board.State
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketBoards).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("board %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &state)
	})
	if err != nil {
		return nil, err
	}
	return &state, nil
}

func (s *BoltStore) ListBoards() ([]*board.State, error) {
	var boards []*board.State
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBoards).ForEach(func(k, v []byte) error {
			var state board.State
			if err := json.Unmarshal(v, &state); err != nil {
				return err
			}
			boards = append(boards, &state)
			return nil
		})
	})
	return boards, err
}

// Commit operations
func (s *BoltStore) Commit(state *board.State, ev *types.ChangeEvent) error {
	if ev.BoardID != state.Board.ID || ev.Revision != state.Revision {
		return fmt.Errorf("change %s@%d does not match board %s@%d",
			ev.BoardID, ev.Revision, state.Board.ID, state.Revision)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := putBoard(tx, state); err != nil {
			return err
		}

		changes, err := tx.Bucket(bucketChanges).CreateBucketIfNotExists([]byte(state.Board.ID))
		if err != nil {
			return err
		}
		data, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		if err := changes.Put(revisionKey(ev.Revision), data); err != nil {
			return err
		}

		if ev.MutationID == "" {
			return nil
		}
		muts, err := tx.Bucket(bucketMutations).CreateBucketIfNotExists([]byte(state.Board.ID))
		if err != nil {
			return err
		}
		return muts.Put([]byte(ev.MutationID), revisionKey(ev.Revision))
	})
}

// Change log operations
func (s *BoltStore) ListChanges(boardID string, fromRevision uint64) ([]*types.ChangeEvent, error) {
	var changes []*types.ChangeEvent
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketChanges).Bucket([]byte(boardID))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.Seek(revisionKey(fromRevision)); k != nil; k, v = c.Next() {
			var ev types.ChangeEvent
			if err := json.Unmarshal(v, &ev); err != nil {
				return err
			}
			changes = append(changes, &ev)
		}
		return nil
	})
	return changes, err
}

// Mutation operations
func (s *BoltStore) MutationRevision(boardID, mutationID string) (uint64, error) {
	var rev uint64
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMutations).Bucket([]byte(boardID))
		if b == nil {
			return fmt.Errorf("mutation %s: %w", mutationID, ErrNotFound)
		}
		v := b.Get([]byte(mutationID))
		if v == nil {
			return fmt.Errorf("mutation %s: %w", mutationID, ErrNotFound)
		}
		rev = binary.BigEndian.Uint64(v)
		return nil
	})
	return rev, err
}

func (s *BoltStore) ListMutations(boardID string) (map[string]uint64, error) {
	out := make(map[string]uint64)
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMutations).Bucket([]byte(boardID))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			out[string(k)] = binary.BigEndian.Uint64(v)
			return nil
		})
	})
	return out, err
}

// RestoreBoard replaces a board, its change log and its processed mutations
func (s *BoltStore) RestoreBoard(state *board.State, changes []*types.ChangeEvent, mutations map[string]uint64) error {
	id := []byte(state.Board.ID)
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := putBoard(tx, state); err != nil {
			return err
		}

		for _, name := range [][]byte{bucketChanges, bucketMutations} {
			parent := tx.Bucket(name)
			if parent.Bucket(id) != nil {
				if err := parent.DeleteBucket(id); err != nil {
					return err
				}
			}
		}

		cb, err := tx.Bucket(bucketChanges).CreateBucket(id)
		if err != nil {
			return err
		}
		for _, ev := range changes {
			data, err := json.Marshal(ev)
			if err != nil {
				return err
			}
			if err := cb.Put(revisionKey(ev.Revision), data); err != nil {
				return err
			}
		}

		mb, err := tx.Bucket(bucketMutations).CreateBucket(id)
		if err != nil {
			return err
		}
		for mid, rev := range mutations {
			if err := mb.Put([]byte(mid), revisionKey(rev)); err != nil {
				return err
			}
		}
		return nil
	})
}
