package storage

import (
	"time"

	"github.com/google/uuid"
)

// TransactionID is an opaque, unique identity anchoring locks, dirty pages,
// and before-images. It carries no ordering semantics of its own; the
// CreatedAt field exists only so deadlock victim selection can apply a
// youngest-first tie-break if a caller wants one.
type TransactionID struct {
	id        uuid.UUID
	createdAt time.Time
}

// NewTransactionID allocates a fresh, unique transaction identity. No lock
// or cache state is materialized until the id is first passed to
// BufferPool.GetPage/InsertTuple/DeleteTuple.
func NewTransactionID() TransactionID {
	return TransactionID{id: uuid.New(), createdAt: time.Now()}
}

// CreatedAt returns the time this id was allocated, usable for deadlock
// victim tie-breaking.
func (t TransactionID) CreatedAt() time.Time {
	return t.createdAt
}

func (t TransactionID) String() string {
	return t.id.String()
}

// IsZero reports whether t is the zero TransactionID (never allocated by
// NewTransactionID).
func (t TransactionID) IsZero() bool {
	return t.id == uuid.Nil
}

// TransactionManager is the begin/commit/abort entry point callers use
// instead of driving BufferPool.TransactionComplete by hand. It holds no
// state of its own beyond the pool it fronts: a transaction materializes no
// lock or cache footprint until its first page access.
type TransactionManager struct {
	pool *BufferPool
}

// NewTransactionManager constructs a manager fronting pool.
func NewTransactionManager(pool *BufferPool) *TransactionManager {
	return &TransactionManager{pool: pool}
}

// Begin allocates a fresh transaction identity.
func (tm *TransactionManager) Begin() TransactionID {
	tid := NewTransactionID()
	tm.pool.BeginTransaction(tid)
	return tid
}

// Commit flushes every page tid dirtied and releases its locks.
func (tm *TransactionManager) Commit(tid TransactionID) error {
	return tm.pool.TransactionComplete(tid, true)
}

// Abort rolls every page tid dirtied back to its before-image and releases
// its locks. It must also be called after an Acquire that failed with
// DeadlockAbort, to free the locks tid had already accumulated.
func (tm *TransactionManager) Abort(tid TransactionID) error {
	return tm.pool.TransactionComplete(tid, false)
}
