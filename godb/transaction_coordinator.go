package godb

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Config is the core's single external knob (§6): the number of
// PageSize-byte frames the page cache may hold.
type Config struct {
	PageCacheCapacity int
}

// TransactionCoordinator implements §4.5: it orchestrates getPage,
// insertTuple, deleteTuple, and transactionComplete, composing the
// LockTable, WaitsForGraph, PageCache, and PageStore under a single
// mutex. This one-lock design — and the condition variable used to
// suspend a blocked acquire — is what the spec calls out as "what makes
// the otherwise-intricate interactions correct"; every exported method
// below holds mu for its whole critical section except where it must
// delegate to a DBFile, which will itself call back into GetPage.
//
// Grounded on the teacher's BufferPool, keeping its role as the one
// struct that owns lock state, cache state, and transaction membership,
// and replacing its busy-poll retry loop (time.Sleep(5*time.Millisecond)
// in GetPage) with the sync.Cond wait the spec requires.
type TransactionCoordinator struct {
	mu   sync.Mutex
	cond *sync.Cond

	locks   *LockTable
	cache   *PageCache
	store   *PageStore
	catalog *Catalog
	active  map[TransactionID]struct{}

	log *zap.SugaredLogger
}

// NewTransactionCoordinator creates a coordinator backed by catalog, with
// a page cache bounded to cfg.PageCacheCapacity frames. A nil logger is
// replaced with a no-op logger so callers never have to configure
// logging just to use the core.
func NewTransactionCoordinator(catalog *Catalog, cfg Config, logger *zap.Logger) *TransactionCoordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	tc := &TransactionCoordinator{
		locks:   NewLockTable(),
		cache:   NewPageCache(cfg.PageCacheCapacity),
		store:   NewPageStore(catalog),
		catalog: catalog,
		active:  make(map[TransactionID]struct{}),
		log:     logger.Sugar(),
	}
	tc.cond = sync.NewCond(&tc.mu)
	return tc
}

// BeginTransaction registers tid as active. It returns an error if tid is
// already running.
func (tc *TransactionCoordinator) BeginTransaction(tid TransactionID) error {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	if _, ok := tc.active[tid]; ok {
		return newInvalidRequestError(fmt.Sprintf("transaction %s already running", tid))
	}
	tc.active[tid] = struct{}{}
	return nil
}

// GetPage implements §4.5.1. It records tid's want, checks for a deadlock
// cycle (aborting tid if one exists), blocks until the lock is granted,
// then returns the page from cache or from PageStore, evicting if the
// cache is full.
func (tc *TransactionCoordinator) GetPage(file DBFile, pageNo int, tid TransactionID, perm Permission) (Page, error) {
	pid := PageId{TableID: file.tableID(), PageNo: pageNo}
	return tc.getPageWith(pid, tid, perm,
		func() ([]byte, error) { return tc.store.ReadPage(pid) },
		func(data []byte) (Page, error) { return file.readPage(pageNo, data) },
	)
}

// GetPageCustom is GetPage generalized for a DBFile that does not keep its
// pages in a single PageStore-addressable file — namely ColumnFile, whose
// tuples are spread across one backing file per column. It drives the same
// lock-then-cache sequence as GetPage, but the caller supplies pid directly
// plus its own byte loader and page builder instead of going through
// PageStore/DBFile.readPage.
func (tc *TransactionCoordinator) GetPageCustom(pid PageId, tid TransactionID, perm Permission, load func() ([]byte, error), build func([]byte) (Page, error)) (Page, error) {
	return tc.getPageWith(pid, tid, perm, load, build)
}

func (tc *TransactionCoordinator) getPageWith(pid PageId, tid TransactionID, perm Permission, load func() ([]byte, error), build func([]byte) (Page, error)) (Page, error) {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	if _, ok := tc.active[tid]; !ok {
		return nil, newInvalidRequestError(fmt.Sprintf("transaction %s is not active", tid))
	}

	tc.locks.RecordWant(tid, pid, perm)

	graph := BuildWaitsForGraph(tc.locks)
	if graph.HasCycle(tid) {
		tc.locks.ClearWant(tid)
		tc.log.Warnw("deadlock detected, aborting requester", "tid", tid, "page", pid)
		return nil, newAbortedError(fmt.Sprintf("transaction %s aborted: deadlock acquiring %v", tid, pid))
	}

	for !tc.locks.TryGrant(tid, pid, perm) {
		tc.log.Debugw("blocking for lock", "tid", tid, "page", pid, "mode", perm)
		tc.cond.Wait()
	}
	tc.locks.ClearWant(tid)
	tc.cond.Broadcast()

	if page, ok := tc.cache.Get(pid); ok {
		return page, nil
	}

	data, err := load()
	if err != nil {
		return nil, err
	}
	page, err := build(data)
	if err != nil {
		return nil, err
	}
	if err := tc.cache.Put(page); err != nil {
		tc.log.Warnw("eviction failed, buffer pool full of dirty pages", "page", pid)
		return nil, err
	}
	return page, nil
}

// AllocatePage registers a brand-new page (one not yet present in the
// PageStore) as exclusively locked by tid and resident in the cache,
// evicting a clean page first if the cache is full. Because the page does
// not exist on disk yet, no other transaction can already hold or be
// waiting on it, so the lock grant is unconditional.
func (tc *TransactionCoordinator) AllocatePage(page Page, tid TransactionID) error {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	if _, ok := tc.active[tid]; !ok {
		return newInvalidRequestError(fmt.Sprintf("transaction %s is not active", tid))
	}

	pid := page.ID()
	tc.locks.TryGrant(tid, pid, ReadWrite)
	return tc.cache.Put(page)
}

// InsertTuple delegates to file.insertTuple, which calls back into
// GetPage for write-locked candidate pages (§4.5.2). It intentionally
// does not hold mu itself: GetPage acquires and releases it per call.
func (tc *TransactionCoordinator) InsertTuple(file DBFile, t *Tuple, tid TransactionID) error {
	return file.insertTuple(t, tid)
}

// DeleteTuple delegates to file.deleteTuple (§4.5.3).
func (tc *TransactionCoordinator) DeleteTuple(file DBFile, t *Tuple, tid TransactionID) error {
	return file.deleteTuple(t, tid)
}

// TransactionComplete implements §4.5.4. On commit, every page tid
// dirtied is forced to PageStore before locks are released (FORCE). On
// abort, every page tid dirtied is replaced in the cache with a fresh
// read from PageStore (NO-STEAL makes this sufficient recovery). Locks
// are always released last, after the flush/revert completes.
func (tc *TransactionCoordinator) TransactionComplete(tid TransactionID, commit bool) error {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	held := tc.locks.HeldPages(tid)
	for pid := range held {
		page, ok := tc.cache.Get(pid)
		if !ok {
			continue
		}
		dirtier, isDirty := page.IsDirty()
		if !isDirty || dirtier != tid {
			continue
		}

		if commit {
			if err := tc.store.WritePage(page); err != nil {
				return err
			}
			page.SetDirty(tid, false)
			tc.log.Debugw("forced dirty page to disk on commit", "tid", tid, "page", pid)
			continue
		}

		data, err := tc.store.ReadPage(pid)
		if err != nil {
			return err
		}
		fresh, err := page.reload(data)
		if err != nil {
			return err
		}
		tc.cache.Remove(pid)
		if err := tc.cache.Put(fresh); err != nil {
			return err
		}
		tc.log.Debugw("reverted dirty page from disk on abort", "tid", tid, "page", pid)
	}

	tc.locks.ReleaseAll(tid)
	delete(tc.active, tid)
	tc.cond.Broadcast()

	if commit {
		tc.log.Infow("transaction committed", "tid", tid)
	} else {
		tc.log.Infow("transaction aborted", "tid", tid)
	}
	return nil
}

// FlushAllPages is a testing helper, not part of the committed contract:
// it force-writes every dirty resident page regardless of which
// transaction dirtied it. Grounded on the teacher's
// BufferPool.FlushAllPages, kept for the same purpose (tests that want a
// known-clean cache without going through a full transactionComplete).
func (tc *TransactionCoordinator) FlushAllPages() error {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	for pid, elem := range tc.cache.index {
		page := elem.Value.(Page)
		if _, dirty := page.IsDirty(); !dirty {
			continue
		}
		if err := tc.store.WritePage(page); err != nil {
			return err
		}
		page.SetDirty(TransactionID{}, false)
		_ = pid
	}
	return nil
}

// CacheLen reports the number of pages currently resident, for tests that
// assert on the §3 invariant |PageCache| <= capacity.
func (tc *TransactionCoordinator) CacheLen() int {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.cache.Len()
}

// Holds reports whether tid holds a lock on the page named by (table,
// pageNo), for tests asserting the lock-state invariants of §8.
func (tc *TransactionCoordinator) Holds(file DBFile, pageNo int, tid TransactionID) bool {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.locks.Holds(tid, PageId{TableID: file.tableID(), PageNo: pageNo})
}
