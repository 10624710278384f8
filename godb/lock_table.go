package godb

import "fmt"

// lockEntry is the per-page lock state of §3: either no holders, one
// exclusive holder, or a set of shared holders. The invariant "Shared is
// empty iff the entry could equivalently be Unlocked" is maintained by
// deleting the map entry entirely once its last holder leaves.
type lockEntry struct {
	exclusive    TransactionID
	hasExclusive bool
	shared       map[TransactionID]struct{}
}

func (e *lockEntry) isUnlocked() bool {
	return !e.hasExclusive && len(e.shared) == 0
}

// want records a transaction's single outstanding lock request (§3: "at
// most one outstanding request per transaction").
type want struct {
	pid  PageId
	mode Permission
}

// LockTable implements §4.2: per-page lock state plus the holds/wants
// bookkeeping the WaitsForGraph reads to detect deadlocks. It holds no
// mutex of its own — every method assumes the caller already holds the
// TransactionCoordinator's single mutex, per §4.5's one-lock design.
//
// Grounded on the teacher's BufferPool.readPermissionLocks/
// writePermissionLocks/checkConflictingLocks, replacing its busy-poll
// time.Sleep loop (see TransactionCoordinator.getPageWith) with the spec's
// try-then-block design and its flat "locks" maps with an explicit
// lockEntry per page that distinguishes Shared from Exclusive.
type LockTable struct {
	entries map[PageId]*lockEntry
	holds   map[TransactionID]map[PageId]Permission
	wants   map[TransactionID]want
}

// NewLockTable creates an empty LockTable.
func NewLockTable() *LockTable {
	return &LockTable{
		entries: make(map[PageId]*lockEntry),
		holds:   make(map[TransactionID]map[PageId]Permission),
		wants:   make(map[TransactionID]want),
	}
}

// RecordWant records tid's outstanding request, for the WaitsForGraph to
// see before the request is granted.
func (lt *LockTable) RecordWant(tid TransactionID, pid PageId, mode Permission) {
	lt.wants[tid] = want{pid: pid, mode: mode}
}

// ClearWant removes tid's outstanding request, whether because it was
// granted or because it was chosen as a deadlock victim.
func (lt *LockTable) ClearWant(tid TransactionID) {
	delete(lt.wants, tid)
}

// Wants returns every transaction's outstanding request, for WaitsForGraph
// construction. It returns the table's own map, not a copy.
func (lt *LockTable) Wants() map[TransactionID]want {
	return lt.wants
}

// HoldersOf returns the current holder(s) of pid: at most one exclusive
// holder, or any number of shared holders.
func (lt *LockTable) HoldersOf(pid PageId) (exclusive TransactionID, hasExclusive bool, shared []TransactionID) {
	e, ok := lt.entries[pid]
	if !ok {
		return TransactionID{}, false, nil
	}
	if e.hasExclusive {
		return e.exclusive, true, nil
	}
	shared = make([]TransactionID, 0, len(e.shared))
	for t := range e.shared {
		shared = append(shared, t)
	}
	return TransactionID{}, false, shared
}

// Holds reports whether tid holds any lock on pid.
func (lt *LockTable) Holds(tid TransactionID, pid PageId) bool {
	modes, ok := lt.holds[tid]
	if !ok {
		return false
	}
	_, ok = modes[pid]
	return ok
}

// HoldsMode reports the strongest mode tid holds on pid, if any.
func (lt *LockTable) HoldsMode(tid TransactionID, pid PageId) (Permission, bool) {
	modes, ok := lt.holds[tid]
	if !ok {
		return 0, false
	}
	mode, ok := modes[pid]
	return mode, ok
}

// TryGrant attempts to satisfy tid's request for mode on pid immediately,
// without blocking. It implements reentrance, shared/exclusive
// compatibility, and in-place upgrade (§4.2). It returns true and mutates
// state iff the request is satisfied; otherwise it returns false and
// leaves all state untouched so the caller can wait and retry.
func (lt *LockTable) TryGrant(tid TransactionID, pid PageId, mode Permission) bool {
	// Reentrance: already holding at least the requested strength.
	if held, ok := lt.HoldsMode(tid, pid); ok {
		if held == ReadWrite || held == mode {
			return true
		}
	}

	e, ok := lt.entries[pid]
	if !ok || e.isUnlocked() {
		e = &lockEntry{shared: make(map[TransactionID]struct{})}
		lt.entries[pid] = e
	}

	switch mode {
	case ReadOnly:
		if e.hasExclusive {
			if e.exclusive == tid {
				// Already covered by reentrance above; unreachable in practice.
				return true
			}
			return false
		}
		e.shared[tid] = struct{}{}
		lt.grant(tid, pid, ReadOnly)
		return true

	case ReadWrite:
		if e.hasExclusive {
			return e.exclusive == tid
		}
		if len(e.shared) == 0 {
			e.hasExclusive = true
			e.exclusive = tid
			lt.grant(tid, pid, ReadWrite)
			return true
		}
		// Upgrade: granted only if tid is the sole shared holder.
		if _, holding := e.shared[tid]; holding && len(e.shared) == 1 {
			delete(e.shared, tid)
			e.hasExclusive = true
			e.exclusive = tid
			lt.grant(tid, pid, ReadWrite)
			return true
		}
		return false
	}

	panic(fmt.Sprintf("lock table: unknown permission %v", mode))
}

func (lt *LockTable) grant(tid TransactionID, pid PageId, mode Permission) {
	modes, ok := lt.holds[tid]
	if !ok {
		modes = make(map[PageId]Permission)
		lt.holds[tid] = modes
	}
	modes[pid] = mode
}

// Release removes tid from pid's lock entry, in whichever role it holds
// it. It is a no-op if tid does not hold pid (§4.2).
func (lt *LockTable) Release(tid TransactionID, pid PageId) {
	e, ok := lt.entries[pid]
	if ok {
		if e.hasExclusive && e.exclusive == tid {
			e.hasExclusive = false
		}
		delete(e.shared, tid)
		if e.isUnlocked() {
			delete(lt.entries, pid)
		}
	}
	if modes, ok := lt.holds[tid]; ok {
		delete(modes, pid)
		if len(modes) == 0 {
			delete(lt.holds, tid)
		}
	}
}

// ReleaseAll releases every page tid holds.
func (lt *LockTable) ReleaseAll(tid TransactionID) {
	modes, ok := lt.holds[tid]
	if !ok {
		return
	}
	for pid := range modes {
		lt.Release(tid, pid)
	}
	delete(lt.holds, tid)
}

// HeldPages returns the set of (PageId, Permission) pairs tid currently
// holds, for TransactionComplete to iterate.
func (lt *LockTable) HeldPages(tid TransactionID) map[PageId]Permission {
	out := make(map[PageId]Permission, len(lt.holds[tid]))
	for pid, mode := range lt.holds[tid] {
		out[pid] = mode
	}
	return out
}
