package storage

import (
	"container/list"
	"sync"

	"github.com/sirupsen/logrus"
)

// pagedFile is what BufferPool needs from a page-organized file to service a
// cache miss or a flush: a way to turn a page number into bytes on disk and
// back. HeapFile is the only implementation in this package.
type pagedFile interface {
	TableID() int64
	readPageFromDisk(pageNo int) (*SlottedPage, error)
	flushPageToDisk(p *SlottedPage) error
}

type cacheEntry struct {
	pid  PageID
	page *SlottedPage
	elem *list.Element
}

// BufferPool is the bounded page cache that sits between HeapFile and every
// transaction: every page a transaction touches is acquired here first, under
// the lock manager's protection, and every mutation is tracked here so commit
// and abort can do the right thing. It never writes an uncommitted page to
// disk (NO STEAL) and always writes every committed page before returning
// from commit (FORCE), which is what lets this package skip a write-ahead
// log entirely.
type BufferPool struct {
	capacity int
	locks    *LockManager

	mu      sync.Mutex
	cache   map[PageID]*cacheEntry
	lru     *list.List // front = most recently used
	files   map[int64]pagedFile
	log     *logrus.Entry
}

// NewBufferPool constructs an empty pool holding at most capacity pages.
func NewBufferPool(capacity int) *BufferPool {
	if capacity <= 0 {
		capacity = DefaultBufferPoolPages
	}
	return &BufferPool{
		capacity: capacity,
		locks:    NewLockManager(),
		cache:    make(map[PageID]*cacheEntry),
		lru:      list.New(),
		files:    make(map[int64]pagedFile),
		log:      logrus.WithField("component", "buffer_pool"),
	}
}

// registerFile lets a HeapFile be found again by the TableID embedded in the
// PageIDs it mints, so a cache miss can be satisfied without the caller
// threading the HeapFile through every call. Called once, by NewHeapFile,
// rather than on every GetPage: a table's identity and backing pool never
// change after construction, so there is nothing to re-register.
func (bp *BufferPool) registerFile(f pagedFile) {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	bp.files[f.TableID()] = f
}

// BeginTransaction does nothing and always returns nil. The buffer pool
// needs no per-transaction state until tid actually touches a page, so this
// exists only to give TransactionManager and HeapFile.LoadFromCSV a symmetric
// Begin/Commit/Abort pair.
func (bp *BufferPool) BeginTransaction(tid TransactionID) error {
	return nil
}

// GetPage acquires perm on pid under tid, then returns the page, reading it
// from its HeapFile on a cache miss and evicting a clean page if the pool is
// full. If the read fails, the lock just acquired is released before the
// error is returned, so the caller is free to retry without leaking a lock
// tid never got any use out of.
func (bp *BufferPool) GetPage(tid TransactionID, f *HeapFile, pageNo int, perm Permission) (*SlottedPage, error) {
	pid := PageID{TableID: f.TableID(), PageNo: pageNo}

	if err := bp.locks.Acquire(tid, pid, perm); err != nil {
		return nil, err
	}

	bp.mu.Lock()
	if entry, ok := bp.cache[pid]; ok {
		bp.lru.MoveToFront(entry.elem)
		bp.mu.Unlock()
		return entry.page, nil
	}
	bp.mu.Unlock()

	page, err := f.readPageFromDisk(pageNo)
	if err != nil {
		bp.locks.Release(tid, pid)
		return nil, err
	}

	bp.mu.Lock()
	if entry, ok := bp.cache[pid]; ok {
		// another goroutine raced us to the same miss; keep its page.
		bp.lru.MoveToFront(entry.elem)
		bp.mu.Unlock()
		return entry.page, nil
	}
	if len(bp.cache) >= bp.capacity {
		if err := bp.evictOneLocked(); err != nil {
			bp.mu.Unlock()
			bp.locks.Release(tid, pid)
			return nil, err
		}
	}
	bp.insertLocked(pid, page)
	bp.mu.Unlock()
	return page, nil
}

func (bp *BufferPool) insertLocked(pid PageID, page *SlottedPage) {
	elem := bp.lru.PushFront(pid)
	bp.cache[pid] = &cacheEntry{pid: pid, page: page, elem: elem}
}

// evictOneLocked removes the least-recently-used clean page from the cache.
// It never removes a dirty page: that is the whole of NO STEAL. If every
// cached page is dirty, the pool is genuinely full and the caller's request
// cannot be served without violating the policy, so it fails fast rather
// than blocking on some other transaction's eventual commit.
func (bp *BufferPool) evictOneLocked() error {
	for e := bp.lru.Back(); e != nil; e = e.Prev() {
		pid := e.Value.(PageID)
		entry := bp.cache[pid]
		if entry.page.IsDirty() {
			continue
		}
		bp.lru.Remove(e)
		delete(bp.cache, pid)
		return nil
	}
	return newErr(ErrNoCleanPageToEvict, "buffer pool is full of dirty pages")
}

// InsertTuple inserts t into the HeapFile f under tid via the pool so the
// resulting page is tracked (locked, cached, marked dirty) the same way a
// direct GetPage call would be.
func (bp *BufferPool) InsertTuple(tid TransactionID, f *HeapFile, t *Tuple) (RecordID, error) {
	return f.InsertTuple(tid, t)
}

// DeleteTuple deletes t from its owning HeapFile under tid.
func (bp *BufferPool) DeleteTuple(tid TransactionID, f *HeapFile, t *Tuple) error {
	return f.DeleteTuple(tid, t)
}

// FlushPage writes pid's cached page to disk if it is dirty and clears its
// dirty mark. It is idempotent: a no-op if pid is absent from the cache or
// already clean. Callers must only invoke
// this directly (outside of TransactionComplete) on a page no transaction
// still holds a write lock on: clearing the dirty mark discards the
// before-image, so flushing a page an active transaction has not yet
// committed removes that transaction's ability to abort cleanly.
func (bp *BufferPool) FlushPage(pid PageID) error {
	bp.mu.Lock()
	entry, ok := bp.cache[pid]
	f, registered := bp.files[pid.TableID]
	bp.mu.Unlock()
	if !ok || !entry.page.IsDirty() {
		return nil
	}
	if !registered {
		return newErr(ErrInvalidPage, "no heap file registered for table %d", pid.TableID)
	}
	if err := f.flushPageToDisk(entry.page); err != nil {
		return err
	}
	return entry.page.MarkDirty(TransactionID{}, false)
}

// FlushAllPages flushes every dirty cached page, whichever transaction
// dirtied it; clean pages are skipped, as in FlushPage. Intended for tests
// and administrative use at a point with no in-flight transactions
// (e.g. a clean shutdown) — the same before-image caveat as FlushPage
// applies to every dirty page it touches.
func (bp *BufferPool) FlushAllPages() error {
	bp.mu.Lock()
	pids := make([]PageID, 0, len(bp.cache))
	for pid := range bp.cache {
		pids = append(pids, pid)
	}
	bp.mu.Unlock()
	for _, pid := range pids {
		if err := bp.FlushPage(pid); err != nil {
			return err
		}
	}
	return nil
}

// FlushPages flushes every cached page most recently dirtied by tid, as
// TransactionComplete does on commit.
func (bp *BufferPool) FlushPages(tid TransactionID) error {
	bp.mu.Lock()
	pids := make([]PageID, 0)
	for pid, entry := range bp.cache {
		if entry.page.IsDirty() && entry.page.DirtiedBy() == tid {
			pids = append(pids, pid)
		}
	}
	bp.mu.Unlock()
	for _, pid := range pids {
		if err := bp.FlushPage(pid); err != nil {
			return err
		}
	}
	return nil
}

// DiscardPage removes pid from the cache without flushing it, regardless of
// dirty state, so the next GetPage of pid re-reads it from disk. Nothing in
// this package calls it: abort rolls pages back with RestoreBeforeImage
// instead.
func (bp *BufferPool) DiscardPage(pid PageID) {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	entry, ok := bp.cache[pid]
	if !ok {
		return
	}
	bp.lru.Remove(entry.elem)
	delete(bp.cache, pid)
}

// TransactionComplete ends tid: on commit it flushes every page tid dirtied
// and clears their before-images (the flushed bytes are now the clean,
// committed state); on abort it restores every page tid dirtied from its
// before-image without touching disk. Either way it releases every lock tid
// holds, so this is the only call site that needs to run after a deadlock
// abort as well as a normal commit/abort.
func (bp *BufferPool) TransactionComplete(tid TransactionID, commit bool) error {
	defer bp.locks.ReleaseAll(tid)

	bp.mu.Lock()
	var dirtied []*cacheEntry
	for _, entry := range bp.cache {
		if entry.page.IsDirty() && entry.page.DirtiedBy() == tid {
			dirtied = append(dirtied, entry)
		}
	}
	bp.mu.Unlock()

	if commit {
		for _, entry := range dirtied {
			if err := bp.FlushPage(entry.pid); err != nil {
				bp.log.WithError(err).WithField("tid", tid.String()).Error("flush on commit failed")
				return err
			}
		}
		return nil
	}

	for _, entry := range dirtied {
		if err := entry.page.RestoreBeforeImage(); err != nil {
			bp.log.WithError(err).WithField("tid", tid.String()).Error("restore before-image on abort failed")
			return err
		}
	}
	return nil
}

// CommitTransaction is a thin wrapper exercised by HeapFile.LoadFromCSV and
// by callers that prefer Commit/Abort naming over the commit-bool form.
func (bp *BufferPool) CommitTransaction(tid TransactionID) error {
	return bp.TransactionComplete(tid, true)
}

// AbortTransaction is the abort counterpart of CommitTransaction.
func (bp *BufferPool) AbortTransaction(tid TransactionID) error {
	return bp.TransactionComplete(tid, false)
}

// HoldsLock reports whether tid currently holds any lock on pid.
func (bp *BufferPool) HoldsLock(tid TransactionID, pid PageID) bool {
	return bp.locks.HoldsAny(tid, pid)
}

// ReleasePageLock drops tid's lock on pid early, outside the normal
// commit/abort-time ReleaseAll. The only caller is HeapFile.InsertTuple's
// peek-then-release scan, which calls it only for a full page tid held no
// lock on before the probe: such a page was never modified by tid, and
// holding it EXCLUSIVE for the rest of tid's lifetime would
// block other writers for no reason, so that one case is exempt from
// strict two-phase locking.
func (bp *BufferPool) ReleasePageLock(tid TransactionID, pid PageID) {
	bp.locks.Release(tid, pid)
}

var _ pagedFile = (*HeapFile)(nil)
