package storage

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Permission is the mode a caller wants to hold a page lock in.
type Permission int

const (
	ReadPerm Permission = iota
	WritePerm
)

func (p Permission) String() string {
	if p == WritePerm {
		return "EXCLUSIVE"
	}
	return "SHARED"
}

type waitEntry struct {
	tid  TransactionID
	perm Permission
}

type pageLockState struct {
	holders map[TransactionID]Permission
	waiting []waitEntry
}

func newPageLockState() *pageLockState {
	return &pageLockState{holders: make(map[TransactionID]Permission)}
}

// LockManager grants SHARED and EXCLUSIVE locks on pages under two-phase
// locking: a transaction's locks are normally released in bulk, by
// ReleaseAll, at commit or abort. Release drops a single lock early; the
// buffer pool uses it only when a page read fails right after the lock was
// acquired and for the insert scan's full, unmodified pages. It queues
// competing requests FIFO so a steady stream of readers cannot starve a waiting writer, maintains a
// live wait-for graph of blocked transactions, and runs cycle detection on
// every blocking request, aborting the requester (not an existing holder)
// the moment a wait would close a cycle.
type LockManager struct {
	mu   sync.Mutex
	cond *sync.Cond

	pages     map[PageID]*pageLockState
	heldBy    map[TransactionID]map[PageID]Permission
	waitingOn map[TransactionID]PageID

	log *logrus.Entry
}

// NewLockManager constructs an empty LockManager.
func NewLockManager() *LockManager {
	lm := &LockManager{
		pages:     make(map[PageID]*pageLockState),
		heldBy:    make(map[TransactionID]map[PageID]Permission),
		waitingOn: make(map[TransactionID]PageID),
		log:       logrus.WithField("component", "lock_manager"),
	}
	lm.cond = sync.NewCond(&lm.mu)
	return lm
}

func (lm *LockManager) stateFor(pid PageID) *pageLockState {
	st, ok := lm.pages[pid]
	if !ok {
		st = newPageLockState()
		lm.pages[pid] = st
	}
	return st
}

// Acquire blocks the caller until tid holds perm on pid, or returns
// ErrDeadlockAbort if granting would require waiting on a cycle. On
// ErrDeadlockAbort the caller holds none of the locks it did not already
// hold before calling Acquire; the caller is expected to abort entirely.
func (lm *LockManager) Acquire(tid TransactionID, pid PageID, perm Permission) error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	st := lm.stateFor(pid)
	registered := false

	for {
		if lm.canGrantLocked(tid, st, perm) {
			lm.grantLocked(tid, pid, st, perm)
			return nil
		}

		if !registered {
			st.waiting = append(st.waiting, waitEntry{tid: tid, perm: perm})
			registered = true
		}
		lm.waitingOn[tid] = pid

		if lm.hasCycleLocked() {
			lm.log.WithFields(logrus.Fields{"tid": tid.String(), "page": pid.String()}).
				Warn("aborting requester to break lock wait-for cycle")
			delete(lm.waitingOn, tid)
			lm.removeQueueEntryLocked(st, tid)
			lm.cond.Broadcast()
			return newErr(ErrDeadlockAbort, "transaction %s would deadlock acquiring %s lock on %s", tid, perm, pid)
		}

		lm.cond.Wait()
	}
}

// canGrantLocked reports whether tid can be granted perm on st right now.
// The already-holds case (tid has at least perm) and the sole-holder
// upgrade case (tid holds SHARED and nobody else holds anything on the
// page) both bypass the FIFO waiter queue entirely: a transaction that
// already has what it needs, or that is upgrading with nobody else holding
// the page, never has to wait behind a queued writer it isn't actually
// conflicting with. Only a genuinely new or conflicting request is subject
// to the FIFO fairness gate below.
func (lm *LockManager) canGrantLocked(tid TransactionID, st *pageLockState, perm Permission) bool {
	if cur, ok := st.holders[tid]; ok {
		if cur == WritePerm {
			return true
		}
		if perm == ReadPerm {
			return true
		}
		sole := true
		for other := range st.holders {
			if other != tid {
				sole = false
				break
			}
		}
		if sole {
			return true
		}
	}
	for _, w := range st.waiting {
		if w.tid == tid {
			break
		}
		return false
	}
	switch perm {
	case ReadPerm:
		for other, p := range st.holders {
			if other != tid && p == WritePerm {
				return false
			}
		}
		return true
	case WritePerm:
		for other := range st.holders {
			if other != tid {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func (lm *LockManager) blockersLocked(tid TransactionID, st *pageLockState, perm Permission) map[TransactionID]struct{} {
	blockers := make(map[TransactionID]struct{})
	for _, w := range st.waiting {
		if w.tid == tid {
			break
		}
		blockers[w.tid] = struct{}{}
	}
	switch perm {
	case ReadPerm:
		for other, p := range st.holders {
			if other != tid && p == WritePerm {
				blockers[other] = struct{}{}
			}
		}
	case WritePerm:
		for other := range st.holders {
			if other != tid {
				blockers[other] = struct{}{}
			}
		}
	}
	return blockers
}

// grantLocked records tid as holding perm on pid. It never downgrades: a
// transaction that already holds WritePerm and re-requests ReadPerm (a
// no-op grant under canGrantLocked's already-holds check) keeps its
// EXCLUSIVE lock rather than losing it to the weaker request.
func (lm *LockManager) grantLocked(tid TransactionID, pid PageID, st *pageLockState, perm Permission) {
	granted := perm
	if cur, ok := st.holders[tid]; ok && cur == WritePerm {
		granted = WritePerm
	}
	st.holders[tid] = granted
	lm.removeQueueEntryLocked(st, tid)
	delete(lm.waitingOn, tid)
	if lm.heldBy[tid] == nil {
		lm.heldBy[tid] = make(map[PageID]Permission)
	}
	lm.heldBy[tid][pid] = granted
	lm.cond.Broadcast()
}

func (lm *LockManager) removeQueueEntryLocked(st *pageLockState, tid TransactionID) {
	kept := st.waiting[:0]
	for _, w := range st.waiting {
		if w.tid != tid {
			kept = append(kept, w)
		}
	}
	st.waiting = kept
}

// hasCycleLocked runs DFS cycle detection over the wait-for graph, rebuilt
// fresh from current lock state on every call rather than read from a
// cache: a transaction's edges are derived, each time dfs visits it, from
// blockersLocked against st.waiting/st.holders as they stand right now, so
// a stale edge left over from before some other transaction released or
// was granted a lock can never cause a false cycle. It is grounded in the
// requester-is-victim policy: the transaction whose Acquire call just
// introduced the cycle-closing edge is the one reported as deadlocked,
// never an existing holder.
func (lm *LockManager) hasCycleLocked() bool {
	const (
		unvisited = iota
		inStack
		done
	)
	state := make(map[TransactionID]int, len(lm.waitingOn))

	blockersOf := func(tid TransactionID) map[TransactionID]struct{} {
		pid, ok := lm.waitingOn[tid]
		if !ok {
			return nil
		}
		st := lm.pages[pid]
		for _, w := range st.waiting {
			if w.tid == tid {
				return lm.blockersLocked(tid, st, w.perm)
			}
		}
		return nil
	}

	var dfs func(tid TransactionID) bool
	dfs = func(tid TransactionID) bool {
		state[tid] = inStack
		for next := range blockersOf(tid) {
			switch state[next] {
			case inStack:
				return true
			case unvisited:
				if dfs(next) {
					return true
				}
			}
		}
		state[tid] = done
		return false
	}

	for tid := range lm.waitingOn {
		if state[tid] == unvisited {
			if dfs(tid) {
				return true
			}
		}
	}
	return false
}

// Release drops tid's lock on pid, if any, and wakes waiters.
func (lm *LockManager) Release(tid TransactionID, pid PageID) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	lm.releaseLocked(tid, pid)
	lm.cond.Broadcast()
}

func (lm *LockManager) releaseLocked(tid TransactionID, pid PageID) {
	if st, ok := lm.pages[pid]; ok {
		delete(st.holders, tid)
		lm.removeQueueEntryLocked(st, tid)
	}
	if pages, ok := lm.heldBy[tid]; ok {
		delete(pages, pid)
		if len(pages) == 0 {
			delete(lm.heldBy, tid)
		}
	}
}

// ReleaseAll drops every lock tid holds, as happens at commit or abort, and
// removes tid from the wait-for graph entirely.
func (lm *LockManager) ReleaseAll(tid TransactionID) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	for pid := range lm.heldBy[tid] {
		if st, ok := lm.pages[pid]; ok {
			delete(st.holders, tid)
			lm.removeQueueEntryLocked(st, tid)
		}
	}
	delete(lm.heldBy, tid)
	delete(lm.waitingOn, tid)
	lm.cond.Broadcast()
}

// Holds reports whether tid already holds at least perm on pid.
func (lm *LockManager) Holds(tid TransactionID, pid PageID, perm Permission) bool {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	cur, ok := lm.heldBy[tid][pid]
	if !ok {
		return false
	}
	return cur == WritePerm || perm == ReadPerm
}

// HoldsAny reports whether tid holds any lock at all on pid.
func (lm *LockManager) HoldsAny(tid TransactionID, pid PageID) bool {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	_, ok := lm.heldBy[tid][pid]
	return ok
}

// PagesHeldBy returns the set of pages tid currently holds a lock on.
func (lm *LockManager) PagesHeldBy(tid TransactionID) []PageID {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	pages := make([]PageID, 0, len(lm.heldBy[tid]))
	for pid := range lm.heldBy[tid] {
		pages = append(pages, pid)
	}
	return pages
}
