package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBufferPoolCommitFlushesDirtyPages(t *testing.T) {
	bp := NewBufferPool(10)
	hf := newTestHeapFile(t, bp)

	tid := NewTransactionID()
	_, err := hf.InsertTuple(tid, &Tuple{Desc: *twoIntDesc(), Fields: []DBValue{IntField{Value: 1}, IntField{Value: 1}}})
	require.NoError(t, err)
	require.NoError(t, bp.TransactionComplete(tid, true))

	pid := PageID{TableID: hf.TableID(), PageNo: 0}
	onDisk, err := hf.readPageFromDisk(0)
	require.NoError(t, err)
	require.Equal(t, numSlotsForDesc(twoIntDesc())-1, onDisk.NumEmptySlots(), "the committed tuple must be on disk")
	require.False(t, bp.HoldsLock(tid, pid))
}

func TestBufferPoolAbortRestoresBeforeImageAndLeavesDiskUntouched(t *testing.T) {
	bp := NewBufferPool(10)
	hf := newTestHeapFile(t, bp)

	committer := NewTransactionID()
	_, err := hf.InsertTuple(committer, &Tuple{Desc: *twoIntDesc(), Fields: []DBValue{IntField{Value: 1}, IntField{Value: 1}}})
	require.NoError(t, err)
	require.NoError(t, bp.TransactionComplete(committer, true))

	onDiskBefore, err := hf.readPageFromDisk(0)
	require.NoError(t, err)
	bytesBefore, err := onDiskBefore.Serialize()
	require.NoError(t, err)

	aborter := NewTransactionID()
	for i := 0; i < 5; i++ {
		_, err := hf.InsertTuple(aborter, &Tuple{Desc: *twoIntDesc(), Fields: []DBValue{IntField{Value: 9}, IntField{Value: 9}}})
		require.NoError(t, err)
	}
	require.NoError(t, bp.TransactionComplete(aborter, false))

	pid := PageID{TableID: hf.TableID(), PageNo: 0}
	cached, ok := bp.cache[pid]
	require.True(t, ok)
	require.False(t, cached.page.IsDirty())
	afterRestore, err := cached.page.Serialize()
	require.NoError(t, err)
	require.Equal(t, bytesBefore.Bytes(), afterRestore.Bytes())

	onDiskAfter, err := hf.readPageFromDisk(0)
	require.NoError(t, err)
	bytesAfter, err := onDiskAfter.Serialize()
	require.NoError(t, err)
	require.Equal(t, bytesBefore.Bytes(), bytesAfter.Bytes(), "abort must not have written any bytes to disk")
}

func TestBufferPoolFlushPagesFlushesOnlyTidsOwnDirtyPages(t *testing.T) {
	bp := NewBufferPool(10)
	dir := t.TempDir()
	hf1, err := NewHeapFile(filepath.Join(dir, "t1.dat"), twoIntDesc(), bp)
	require.NoError(t, err)
	hf2, err := NewHeapFile(filepath.Join(dir, "t2.dat"), twoIntDesc(), bp)
	require.NoError(t, err)

	a := NewTransactionID()
	_, err = hf1.InsertTuple(a, &Tuple{Desc: *twoIntDesc(), Fields: []DBValue{IntField{Value: 1}, IntField{Value: 1}}})
	require.NoError(t, err)

	b := NewTransactionID()
	_, err = hf2.InsertTuple(b, &Tuple{Desc: *twoIntDesc(), Fields: []DBValue{IntField{Value: 2}, IntField{Value: 2}}})
	require.NoError(t, err)

	require.NoError(t, bp.FlushPages(a))

	pid1 := PageID{TableID: hf1.TableID(), PageNo: 0}
	pid2 := PageID{TableID: hf2.TableID(), PageNo: 0}
	require.False(t, bp.cache[pid1].page.IsDirty(), "a's page must be clean after FlushPages(a)")
	require.True(t, bp.cache[pid2].page.IsDirty(), "b's page must still be dirty, FlushPages(a) is not FlushAllPages")

	onDisk, err := hf1.readPageFromDisk(0)
	require.NoError(t, err)
	require.Equal(t, numSlotsForDesc(twoIntDesc())-1, onDisk.NumEmptySlots(), "a's flushed tuple must be on disk")

	require.NoError(t, bp.TransactionComplete(a, true))
	require.NoError(t, bp.TransactionComplete(b, true))
}

func TestBufferPoolEvictionNeverTakesADirtyPage(t *testing.T) {
	bp := NewBufferPool(1)
	dir := t.TempDir()
	hf1, err := NewHeapFile(filepath.Join(dir, "t1.dat"), twoIntDesc(), bp)
	require.NoError(t, err)
	path2 := filepath.Join(dir, "t2.dat")
	require.NoError(t, os.WriteFile(path2, make([]byte, PageSize()), 0666))
	hf2, err := NewHeapFile(path2, twoIntDesc(), bp)
	require.NoError(t, err)

	dirtier := NewTransactionID()
	_, err = hf1.InsertTuple(dirtier, &Tuple{Desc: *twoIntDesc(), Fields: []DBValue{IntField{Value: 1}, IntField{Value: 1}}})
	require.NoError(t, err)

	other := NewTransactionID()
	_, err = bp.GetPage(other, hf2, 0, ReadPerm)
	require.Error(t, err)
	var dberr *DBError
	require.ErrorAs(t, err, &dberr)
	require.Equal(t, ErrNoCleanPageToEvict, dberr.Kind)

	require.NoError(t, bp.TransactionComplete(dirtier, true))
	require.NoError(t, bp.TransactionComplete(other, false))
}

func TestBufferPoolEvictionPicksLRUCleanPage(t *testing.T) {
	bp := NewBufferPool(2)
	dir := t.TempDir()
	path := filepath.Join(dir, "t.dat")
	// three empty pages on disk, so reads of pages 0..2 are all in range.
	require.NoError(t, os.WriteFile(path, make([]byte, 3*PageSize()), 0666))
	hf, err := NewHeapFile(path, twoIntDesc(), bp)
	require.NoError(t, err)

	tid := NewTransactionID()
	p0, err := bp.GetPage(tid, hf, 0, ReadPerm)
	require.NoError(t, err)
	_ = p0
	_, err = bp.GetPage(tid, hf, 1, ReadPerm)
	require.NoError(t, err)
	// touch page 0 again so page 1 becomes the LRU victim.
	_, err = bp.GetPage(tid, hf, 0, ReadPerm)
	require.NoError(t, err)

	_, err = bp.GetPage(tid, hf, 2, ReadPerm)
	require.NoError(t, err)

	require.NoError(t, bp.TransactionComplete(tid, true))
	require.Len(t, bp.cache, 2)
	_, stillCached := bp.cache[PageID{TableID: hf.TableID(), PageNo: 1}]
	require.False(t, stillCached, "the least-recently-used page should have been evicted")
}

// TestScenarioSingleReaderVisibility: a committed insert is visible to a
// later, independent scan.
func TestScenarioSingleReaderVisibility(t *testing.T) {
	bp := NewBufferPool(10)
	hf := newTestHeapFile(t, bp)

	a := NewTransactionID()
	_, err := hf.InsertTuple(a, &Tuple{Desc: *twoIntDesc(), Fields: []DBValue{IntField{Value: 1}, IntField{Value: 2}}})
	require.NoError(t, err)
	require.NoError(t, bp.TransactionComplete(a, true))

	b := NewTransactionID()
	iter, err := hf.Iterator(b)
	require.NoError(t, err)
	tup, err := iter()
	require.NoError(t, err)
	require.NotNil(t, tup)
	require.Equal(t, IntField{Value: 1}, tup.Fields[0])
	require.Equal(t, IntField{Value: 2}, tup.Fields[1])

	tup, err = iter()
	require.NoError(t, err)
	require.Nil(t, tup)
	require.NoError(t, bp.TransactionComplete(b, true))
}

// TestScenarioUncommittedInvisibleAfterAbort: an in-flight write blocks a
// concurrent reader, and once the writer aborts the reader observes nothing.
func TestScenarioUncommittedInvisibleAfterAbort(t *testing.T) {
	bp := NewBufferPool(10)
	hf := newTestHeapFile(t, bp)

	a := NewTransactionID()
	_, err := hf.InsertTuple(a, &Tuple{Desc: *twoIntDesc(), Fields: []DBValue{IntField{Value: 9}, IntField{Value: 9}}})
	require.NoError(t, err)

	b := NewTransactionID()
	readDone := make(chan error, 1)
	go func() {
		_, err := bp.GetPage(b, hf, 0, ReadPerm)
		readDone <- err
	}()

	select {
	case <-readDone:
		t.Fatal("b should block behind a's uncommitted EXCLUSIVE lock")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, bp.TransactionComplete(a, false))

	select {
	case err := <-readDone:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("b never unblocked after a aborted")
	}

	iter, err := hf.Iterator(b)
	require.NoError(t, err)
	tup, err := iter()
	require.NoError(t, err)
	require.Nil(t, tup, "aborted insert must not be visible")
	require.NoError(t, bp.TransactionComplete(b, true))
}

// TestScenarioAbortRollsBackMultipleInserts: every insert of an aborted
// transaction disappears, leaving a later scan empty.
func TestScenarioAbortRollsBackMultipleInserts(t *testing.T) {
	bp := NewBufferPool(10)
	hf := newTestHeapFile(t, bp)

	a := NewTransactionID()
	for i := 0; i < 10; i++ {
		_, err := hf.InsertTuple(a, &Tuple{Desc: *twoIntDesc(), Fields: []DBValue{IntField{Value: int64(i)}, IntField{Value: int64(i)}}})
		require.NoError(t, err)
	}
	require.NoError(t, bp.TransactionComplete(a, false))

	b := NewTransactionID()
	iter, err := hf.Iterator(b)
	require.NoError(t, err)
	tup, err := iter()
	require.NoError(t, err)
	require.Nil(t, tup)
	require.NoError(t, bp.TransactionComplete(b, true))
}
