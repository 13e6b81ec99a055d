/*
Package storage provides BoltDB-backed persistence for authoritative board state.

The storage package implements the Store interface using BoltDB (bbolt) as the
underlying database. All values are serialized as JSON.

# Bucket Structure

	boards                  board id → board.State (latest revision)
	changes/<board id>      8-byte big-endian revision → types.ChangeEvent
	mutations/<board id>    mutation id → 8-byte big-endian revision

Revision keys are big-endian so a cursor walks a board's change log in
revision order, which is what ListChanges relies on to backfill subscribers.

# Commits

Commit writes the new board state, appends the change event and records the
processed mutation id in a single read-write transaction. Either all three are
visible or none are, so a retried write can always be answered from the
mutations bucket.

# Usage

	store, err := storage.NewBoltStore("/var/lib/boardsync")
	if err != nil {
		return err
	}
	defer store.Close()

	state, err := store.GetBoard("b1")
	if errors.Is(err, storage.ErrNotFound) {
		// ...
	}

	changes, err := store.ListChanges("b1", state.Revision-10)

The Store is not replicated by itself; the manager package applies every
write through Raft before it reaches storage.
*/
package storage
