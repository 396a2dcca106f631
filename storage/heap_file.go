package storage

import (
	"bufio"
	"bytes"
	"fmt"
	"hash/fnv"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// tableIDForPath hashes fromFile's absolute path into the TableID embedded
// in every PageID this HeapFile mints. Two HeapFiles opened on the same path
// therefore always agree on table identity, including across process
// restarts; a catalog registering tables by path is responsible for
// rejecting the (astronomically unlikely) case of two distinct paths
// colliding on the same hash.
func tableIDForPath(fromFile string) (int64, error) {
	abs, err := filepath.Abs(fromFile)
	if err != nil {
		return 0, wrapErr(ErrIOError, err, "resolving absolute path for %s", fromFile)
	}
	h := fnv.New64a()
	h.Write([]byte(abs))
	return int64(h.Sum64()), nil
}

// HeapFile is an unordered, page-organized collection of tuples backed by a
// single OS file. All reads and writes of its pages go through a BufferPool,
// which is what actually enforces the NO STEAL / FORCE transaction
// discipline; HeapFile only knows how to find a page to insert into and how
// to turn a page number into a byte offset.
type HeapFile struct {
	backingFile string
	tableID     int64
	tupleDesc   *TupleDesc
	bufPool     *BufferPool

	mu       sync.Mutex
	numPages int
}

// NewHeapFile opens (or prepares to create) a HeapFile backed by fromFile.
func NewHeapFile(fromFile string, td *TupleDesc, bp *BufferPool) (*HeapFile, error) {
	tableID, err := tableIDForPath(fromFile)
	if err != nil {
		return nil, err
	}
	f := &HeapFile{
		backingFile: fromFile,
		tableID:     tableID,
		tupleDesc:   td,
		bufPool:     bp,
	}
	f.numPages = f.countPagesOnDisk()
	bp.registerFile(f)
	return f, nil
}

// TableID returns the identity used in this HeapFile's PageIDs.
func (f *HeapFile) TableID() int64 {
	return f.tableID
}

// BackingFile returns the path of the file backing this HeapFile.
func (f *HeapFile) BackingFile() string {
	return f.backingFile
}

// NumPages returns the number of pages currently allocated to the file.
func (f *HeapFile) NumPages() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.numPages
}

func (f *HeapFile) countPagesOnDisk() int {
	info, err := os.Stat(f.backingFile)
	if err != nil {
		return 0
	}
	size := info.Size()
	pages := int(size / int64(PageSize()))
	if size%int64(PageSize()) != 0 {
		pages++
	}
	return pages
}

// Descriptor returns the TupleDesc all rows in this HeapFile share.
func (f *HeapFile) Descriptor() *TupleDesc {
	return f.tupleDesc
}

// pageID builds the PageID for the pageNo'th page of this file.
func (f *HeapFile) pageID(pageNo int) PageID {
	return PageID{TableID: f.tableID, PageNo: pageNo}
}

// readPageFromDisk loads the pageNo'th page from the backing file. A page
// number past the end of the file is ErrInvalidPage; a page that has been
// allocated (by appendPageAndInsert) but not yet flushed reads back as a
// fresh empty page. It is called by BufferPool.GetPage on a cache miss;
// HeapFile never bypasses the pool to read a page directly.
func (f *HeapFile) readPageFromDisk(pageNo int) (*SlottedPage, error) {
	if pageNo < 0 || pageNo >= f.NumPages() {
		return nil, newErr(ErrInvalidPage, "page %d out of range for %s (%d pages)", pageNo, f.backingFile, f.NumPages())
	}

	id := f.pageID(pageNo)
	file, err := os.OpenFile(f.backingFile, os.O_CREATE|os.O_RDWR, 0666)
	if err != nil {
		return nil, wrapErr(ErrIOError, err, "opening %s", f.backingFile)
	}
	defer file.Close()

	offset := int64(pageNo) * int64(PageSize())
	info, err := file.Stat()
	if err != nil {
		return nil, wrapErr(ErrIOError, err, "statting %s", f.backingFile)
	}
	if info.Size() <= offset {
		return NewSlottedPage(id, f.tupleDesc)
	}

	data := make([]byte, PageSize())
	n, err := file.ReadAt(data, offset)
	if err != nil && !(err == io.EOF && n == PageSize()) {
		return nil, wrapErr(ErrIOError, err, "short read (%d of %d bytes) of page %s", n, PageSize(), id)
	}
	return ParseSlottedPage(id, f.tupleDesc, bytes.NewBuffer(data))
}

// flushPageToDisk writes p's current bytes to its offset in the backing
// file. Called only by BufferPool, under NO STEAL / FORCE: a page reaches
// disk exactly when its owning transaction commits, never before.
func (f *HeapFile) flushPageToDisk(p *SlottedPage) error {
	file, err := os.OpenFile(f.backingFile, os.O_CREATE|os.O_RDWR, 0666)
	if err != nil {
		return wrapErr(ErrIOError, err, "opening %s", f.backingFile)
	}
	defer file.Close()

	buf, err := p.Serialize()
	if err != nil {
		return err
	}
	offset := int64(p.id.PageNo) * int64(PageSize())
	if _, err := file.WriteAt(buf.Bytes(), offset); err != nil {
		return wrapErr(ErrIOError, err, "writing page %s", p.id)
	}
	return nil
}

// InsertTuple adds t to the file under tid, returning the RecordID it was
// assigned. It scans existing pages for free space, taking an EXCLUSIVE
// lock on each candidate in turn and releasing it immediately if the page
// turns out to be full and tid held no lock on it before the probe, so one
// writer probing for space never blocks another from finishing its own
// insert on a later page. A full page tid had already locked (for example
// one it filled itself) keeps its lock until tid completes. If no existing
// page has room, a new page is appended.
func (f *HeapFile) InsertTuple(tid TransactionID, t *Tuple) (RecordID, error) {
	if len(t.Fields) != len(f.tupleDesc.Fields) {
		return RecordID{}, newErr(ErrSchemaMismatch, "tuple has %d fields, table has %d", len(t.Fields), len(f.tupleDesc.Fields))
	}

	numPages := f.NumPages()
	for pageNo := 0; pageNo < numPages; pageNo++ {
		heldBefore := f.bufPool.HoldsLock(tid, f.pageID(pageNo))
		page, err := f.bufPool.GetPage(tid, f, pageNo, WritePerm)
		if err != nil {
			return RecordID{}, err
		}
		if page.NumEmptySlots() == 0 {
			if !heldBefore {
				f.bufPool.ReleasePageLock(tid, f.pageID(pageNo))
			}
			continue
		}
		if err := page.MarkDirty(tid, true); err != nil {
			return RecordID{}, err
		}
		rid, err := page.InsertTuple(t)
		if err != nil {
			return RecordID{}, err
		}
		return rid, nil
	}

	return f.appendPageAndInsert(tid, t)
}

// appendPageAndInsert allocates a new page at the end of the file and
// inserts t into it. The file-level mutex serializes concurrent appends
// from different transactions so two inserts never race to claim the same
// new page number.
func (f *HeapFile) appendPageAndInsert(tid TransactionID, t *Tuple) (RecordID, error) {
	f.mu.Lock()
	pageNo := f.numPages
	f.numPages++
	f.mu.Unlock()

	page, err := f.bufPool.GetPage(tid, f, pageNo, WritePerm)
	if err != nil {
		return RecordID{}, err
	}
	if err := page.MarkDirty(tid, true); err != nil {
		return RecordID{}, err
	}
	rid, err := page.InsertTuple(t)
	if err != nil {
		return RecordID{}, err
	}
	return rid, nil
}

// DeleteTuple removes the tuple identified by t.Rid under tid.
func (f *HeapFile) DeleteTuple(tid TransactionID, t *Tuple) error {
	page, err := f.bufPool.GetPage(tid, f, t.Rid.PageID.PageNo, WritePerm)
	if err != nil {
		return err
	}
	if err := page.MarkDirty(tid, true); err != nil {
		return err
	}
	return page.DeleteTuple(t.Rid)
}

// HeapFileIterator is a restartable cursor over a HeapFile's tuples. Each
// page it visits is acquired SHARED through the owning BufferPool; under
// strict two-phase locking those locks are held for tid's lifetime, not the
// cursor's, so Rewind never has to reacquire anything it doesn't already
// hold.
type HeapFileIterator struct {
	file     *HeapFile
	tid      TransactionID
	pageNo   int
	pageIter func() (*Tuple, error)
}

// Next returns the next tuple in file order, or nil, nil at end of file.
func (it *HeapFileIterator) Next() (*Tuple, error) {
	for {
		if it.pageIter == nil {
			if it.pageNo >= it.file.NumPages() {
				return nil, nil
			}
			page, err := it.file.bufPool.GetPage(it.tid, it.file, it.pageNo, ReadPerm)
			if err != nil {
				return nil, err
			}
			it.pageIter = page.Iterate()
		}
		tuple, err := it.pageIter()
		if err != nil {
			return nil, err
		}
		if tuple == nil {
			it.pageIter = nil
			it.pageNo++
			continue
		}
		tuple.Desc = *it.file.tupleDesc
		return tuple, nil
	}
}

// Rewind resets the cursor to the first page. It does not release or
// reacquire any lock: under 2PL tid already holds SHARED on every page it
// has visited, and will keep holding it until TransactionComplete.
func (it *HeapFileIterator) Rewind() {
	it.pageNo = 0
	it.pageIter = nil
}

// Iterate returns a restartable cursor over every tuple in the file under
// tid's read locks, page by page.
func (f *HeapFile) Iterate(tid TransactionID) (*HeapFileIterator, error) {
	return &HeapFileIterator{file: f, tid: tid}, nil
}

// Iterator returns a plain pull function over every tuple in the file, the
// form the Operator interface consumes. It is a thin, non-restartable
// wrapper over Iterate/Next for callers (ScanOp) that never need to rewind.
func (f *HeapFile) Iterator(tid TransactionID) (func() (*Tuple, error), error) {
	it, err := f.Iterate(tid)
	if err != nil {
		return nil, err
	}
	return it.Next, nil
}

// LoadFromCSV populates the file from a CSV, one committed transaction per
// row so a parse failure partway through never leaves a half-loaded row
// dirty in the buffer pool.
func (f *HeapFile) LoadFromCSV(file *os.File, hasHeader bool, sep string, skipLastField bool) error {
	scanner := bufio.NewScanner(file)
	row := 0
	for scanner.Scan() {
		line := scanner.Text()
		fields := strings.Split(line, sep)
		if skipLastField {
			fields = fields[:len(fields)-1]
		}
		row++
		if row == 1 && hasHeader {
			continue
		}
		if len(fields) != len(f.tupleDesc.Fields) {
			return newErr(ErrSchemaMismatch, "line %d: expected %d fields, got %d", row, len(f.tupleDesc.Fields), len(fields))
		}

		values := make([]DBValue, 0, len(fields))
		for i, raw := range fields {
			switch f.tupleDesc.Fields[i].Ftype {
			case IntType:
				v, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
				if err != nil {
					return wrapErr(ErrSchemaMismatch, err, "line %d: field %d is not an integer", row, i)
				}
				values = append(values, IntField{Value: v})
			case StringType:
				if len(raw) > StringLength() {
					raw = raw[:StringLength()]
				}
				values = append(values, StringField{Value: raw})
			}
		}

		tid := NewTransactionID()
		f.bufPool.BeginTransaction(tid)
		t := &Tuple{Desc: *f.tupleDesc, Fields: values}
		if _, err := f.InsertTuple(tid, t); err != nil {
			f.bufPool.AbortTransaction(tid)
			return err
		}
		if err := f.bufPool.CommitTransaction(tid); err != nil {
			return err
		}
		logrus.WithField("row", row).Debug("loaded csv row")
	}
	return scanner.Err()
}

var _ fmt.Stringer = PageID{}
