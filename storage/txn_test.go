package storage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTransactionIDsAreUnique(t *testing.T) {
	a, b := NewTransactionID(), NewTransactionID()
	require.NotEqual(t, a, b)
	require.False(t, a.IsZero())
	require.True(t, TransactionID{}.IsZero())
}

func TestTransactionManagerCommitMakesWritesDurable(t *testing.T) {
	bp := NewBufferPool(10)
	hf := newTestHeapFile(t, bp)
	tm := NewTransactionManager(bp)

	tid := tm.Begin()
	_, err := hf.InsertTuple(tid, &Tuple{Desc: *twoIntDesc(), Fields: []DBValue{IntField{Value: 7}, IntField{Value: 8}}})
	require.NoError(t, err)
	require.NoError(t, tm.Commit(tid))

	onDisk, err := hf.readPageFromDisk(0)
	require.NoError(t, err)
	require.Equal(t, numSlotsForDesc(twoIntDesc())-1, onDisk.NumEmptySlots())
}

func TestTransactionManagerAbortDiscardsWrites(t *testing.T) {
	bp := NewBufferPool(10)
	hf := newTestHeapFile(t, bp)
	tm := NewTransactionManager(bp)

	tid := tm.Begin()
	_, err := hf.InsertTuple(tid, &Tuple{Desc: *twoIntDesc(), Fields: []DBValue{IntField{Value: 7}, IntField{Value: 8}}})
	require.NoError(t, err)
	require.NoError(t, tm.Abort(tid))

	reader := tm.Begin()
	iter, err := hf.Iterator(reader)
	require.NoError(t, err)
	tup, err := iter()
	require.NoError(t, err)
	require.Nil(t, tup)
	require.NoError(t, tm.Commit(reader))
}

// TestTransactionManagerUpgradeThenCommit covers the read-then-write upgrade
// path end to end: a transaction that scanned a page SHARED as its page's
// sole holder gets EXCLUSIVE immediately when it decides to write, and its
// commit lands on disk.
func TestTransactionManagerUpgradeThenCommit(t *testing.T) {
	bp := NewBufferPool(10)
	hf := newTestHeapFile(t, bp)
	tm := NewTransactionManager(bp)

	seed := tm.Begin()
	_, err := hf.InsertTuple(seed, &Tuple{Desc: *twoIntDesc(), Fields: []DBValue{IntField{Value: 1}, IntField{Value: 1}}})
	require.NoError(t, err)
	require.NoError(t, tm.Commit(seed))

	tid := tm.Begin()
	_, err = bp.GetPage(tid, hf, 0, ReadPerm)
	require.NoError(t, err)

	_, err = hf.InsertTuple(tid, &Tuple{Desc: *twoIntDesc(), Fields: []DBValue{IntField{Value: 2}, IntField{Value: 2}}})
	require.NoError(t, err)
	pid := PageID{TableID: hf.TableID(), PageNo: 0}
	require.True(t, bp.HoldsLock(tid, pid))
	require.NoError(t, tm.Commit(tid))

	onDisk, err := hf.readPageFromDisk(0)
	require.NoError(t, err)
	require.Equal(t, numSlotsForDesc(twoIntDesc())-2, onDisk.NumEmptySlots())
}
