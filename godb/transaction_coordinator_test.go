package godb

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHeapFile(t *testing.T, coordinator *TransactionCoordinator, catalog *Catalog, name string) *HeapFile {
	t.Helper()
	td := &TupleDesc{Fields: []FieldType{
		{Fname: "a", Ftype: IntType},
	}}
	path := filepath.Join(t.TempDir(), name)
	hf, err := NewHeapFile(path, td, catalog, coordinator)
	require.NoError(t, err)
	return hf
}

func newTestCoordinator(capacity int) *TransactionCoordinator {
	catalog := NewCatalog()
	return NewTransactionCoordinator(catalog, Config{PageCacheCapacity: capacity}, nil)
}

// Scenario 1: shared coexistence. Both transactions succeed and both
// appear as holders of the page.
func TestScenarioSharedCoexistence(t *testing.T) {
	tc := newTestCoordinator(10)
	hf := newTestHeapFile(t, tc, tc.catalog, "shared.dat")

	t1, t2 := NewTID(), NewTID()
	require.NoError(t, tc.BeginTransaction(t1))
	require.NoError(t, tc.BeginTransaction(t2))

	_, err := tc.GetPage(hf, 0, t1, ReadOnly)
	require.NoError(t, err)
	_, err = tc.GetPage(hf, 0, t2, ReadOnly)
	require.NoError(t, err)

	assert.True(t, tc.Holds(hf, 0, t1))
	assert.True(t, tc.Holds(hf, 0, t2))
}

// allocateDirtyPage creates a fresh heap page with one tuple, registers it
// with the coordinator as tid's dirty exclusively-locked page, and returns
// it. It bypasses HeapFile's free-slot scan so tests can pin a transaction
// to a specific page number without depending on how many tuples a prior
// insert needed.
func allocateDirtyPage(t *testing.T, tc *TransactionCoordinator, hf *HeapFile, tid TransactionID, pageNo int, value int64) *heapPage {
	t.Helper()
	page, err := newHeapPage(hf.Descriptor(), pageNo, hf)
	require.NoError(t, err)
	_, err = page.insertTuple(&Tuple{Desc: *hf.Descriptor(), Fields: []DBValue{IntField{value}}})
	require.NoError(t, err)
	page.SetDirty(tid, true)
	require.NoError(t, tc.AllocatePage(page, tid))
	return page
}

// Scenario 2: exclusive blocks shared; the waiter proceeds only after
// commit, reading the committed image.
func TestScenarioExclusiveBlocksShared(t *testing.T) {
	tc := newTestCoordinator(10)
	hf := newTestHeapFile(t, tc, tc.catalog, "excl.dat")

	t1, t2 := NewTID(), NewTID()
	require.NoError(t, tc.BeginTransaction(t1))
	require.NoError(t, tc.BeginTransaction(t2))

	allocateDirtyPage(t, tc, hf, t1, 0, 42)

	unblocked := make(chan struct{})
	go func() {
		_, err := tc.GetPage(hf, 0, t2, ReadOnly)
		assert.NoError(t, err)
		close(unblocked)
	}()

	select {
	case <-unblocked:
		t.Fatal("T2 must not proceed while T1 holds the exclusive lock")
	case <-time.After(100 * time.Millisecond):
	}

	require.NoError(t, tc.TransactionComplete(t1, true))

	select {
	case <-unblocked:
	case <-time.After(time.Second):
		t.Fatal("T2 should proceed once T1 commits")
	}
}

// Scenario 3: upgrade. A second getPage by the same transaction for a
// stronger mode returns without blocking.
func TestScenarioUpgrade(t *testing.T) {
	tc := newTestCoordinator(10)
	hf := newTestHeapFile(t, tc, tc.catalog, "upgrade.dat")

	t1 := NewTID()
	require.NoError(t, tc.BeginTransaction(t1))

	_, err := tc.GetPage(hf, 0, t1, ReadOnly)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		_, err := tc.GetPage(hf, 0, t1, ReadWrite)
		assert.NoError(t, err)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("upgrade by the sole shared holder must not block")
	}

	assert.True(t, tc.locks.Holds(t1, PageId{TableID: hf.tableID(), PageNo: 0}))
	_, hasExcl, _ := tc.locks.HoldersOf(PageId{TableID: hf.tableID(), PageNo: 0})
	assert.True(t, hasExcl)
}

// Scenario 4: deadlock. T1 holds A, wants B; T2 holds B, wants A. The
// second outer caller (T2) is the victim.
func TestScenarioDeadlock(t *testing.T) {
	tc := newTestCoordinator(10)
	hfA := newTestHeapFile(t, tc, tc.catalog, "a.dat")
	hfB := newTestHeapFile(t, tc, tc.catalog, "b.dat")

	t1, t2 := NewTID(), NewTID()
	require.NoError(t, tc.BeginTransaction(t1))
	require.NoError(t, tc.BeginTransaction(t2))

	_, err := tc.GetPage(hfA, 0, t1, ReadWrite)
	require.NoError(t, err)
	_, err = tc.GetPage(hfB, 0, t2, ReadWrite)
	require.NoError(t, err)

	t1Blocked := make(chan struct{})
	go func() {
		_, err := tc.GetPage(hfB, 0, t1, ReadOnly)
		assert.NoError(t, err, "T1 should eventually proceed once T2 aborts")
		close(t1Blocked)
	}()

	time.Sleep(50 * time.Millisecond) // let T1's want land before T2 arrives

	_, err = tc.GetPage(hfA, 0, t2, ReadOnly)
	require.Error(t, err)
	godbErr, ok := err.(GoDBError)
	require.True(t, ok)
	assert.Equal(t, AbortedError, godbErr.Kind())

	require.NoError(t, tc.TransactionComplete(t2, false))

	select {
	case <-t1Blocked:
	case <-time.After(time.Second):
		t.Fatal("T1 should unblock once T2 releases its locks")
	}

	require.NoError(t, tc.TransactionComplete(t1, true))
}

// Scenario 5: eviction skips dirty. With capacity 2 and two dirty pages
// from T1, a third page request from T2 fails with a storage error.
func TestScenarioEvictionSkipsDirty(t *testing.T) {
	tc := newTestCoordinator(2)
	hf := newTestHeapFile(t, tc, tc.catalog, "evict.dat")

	t1, t2 := NewTID(), NewTID()
	require.NoError(t, tc.BeginTransaction(t1))
	require.NoError(t, tc.BeginTransaction(t2))

	allocateDirtyPage(t, tc, hf, t1, 0, 1)
	allocateDirtyPage(t, tc, hf, t1, 1, 2)

	_, err := tc.GetPage(hf, 2, t2, ReadOnly)
	require.Error(t, err)
	godbErr, ok := err.(GoDBError)
	require.True(t, ok)
	assert.Equal(t, StorageError, godbErr.Kind())

	require.NoError(t, tc.TransactionComplete(t1, true))
	require.NoError(t, tc.TransactionComplete(t2, false))
}

// Scenario 6: abort restores. After T1 mutates and aborts, T2 reads the
// pre-T1 image from disk.
func TestScenarioAbortRestores(t *testing.T) {
	tc := newTestCoordinator(10)
	hf := newTestHeapFile(t, tc, tc.catalog, "abort.dat")

	t0 := NewTID()
	require.NoError(t, tc.BeginTransaction(t0))
	require.NoError(t, tc.InsertTuple(hf, &Tuple{Desc: *hf.Descriptor(), Fields: []DBValue{IntField{7}}}, t0))
	require.NoError(t, tc.TransactionComplete(t0, true))

	t1 := NewTID()
	require.NoError(t, tc.BeginTransaction(t1))
	p, err := tc.GetPage(hf, 0, t1, ReadWrite)
	require.NoError(t, err)
	page := p.(*heapPage)
	_, err = page.insertTuple(&Tuple{Desc: *hf.Descriptor(), Fields: []DBValue{IntField{999}}})
	require.NoError(t, err)
	page.SetDirty(t1, true)
	require.NoError(t, tc.TransactionComplete(t1, false))

	t2 := NewTID()
	require.NoError(t, tc.BeginTransaction(t2))
	iter, err := hf.Iterator(t2)
	require.NoError(t, err)

	count := 0
	var values []int64
	for {
		tup, err := iter()
		require.NoError(t, err)
		if tup == nil {
			break
		}
		values = append(values, tup.Fields[0].(IntField).Value)
		count++
	}
	assert.Equal(t, 1, count)
	assert.Equal(t, []int64{7}, values)
	require.NoError(t, tc.TransactionComplete(t2, true))
}

func TestGetPageRejectsInactiveTransaction(t *testing.T) {
	tc := newTestCoordinator(10)
	hf := newTestHeapFile(t, tc, tc.catalog, "inactive.dat")

	_, err := tc.GetPage(hf, 0, NewTID(), ReadOnly)
	require.Error(t, err)
	godbErr, ok := err.(GoDBError)
	require.True(t, ok)
	assert.Equal(t, InvalidRequestError, godbErr.Kind())
}

func TestBeginTransactionRejectsDuplicate(t *testing.T) {
	tc := newTestCoordinator(10)
	tid := NewTID()
	require.NoError(t, tc.BeginTransaction(tid))
	err := tc.BeginTransaction(tid)
	require.Error(t, err)
}

func TestTransactionCompleteReleasesAllLocksAndClearsActive(t *testing.T) {
	tc := newTestCoordinator(10)
	hf := newTestHeapFile(t, tc, tc.catalog, "release.dat")

	tid := NewTID()
	require.NoError(t, tc.BeginTransaction(tid))
	_, err := tc.GetPage(hf, 0, tid, ReadWrite)
	require.NoError(t, err)

	require.NoError(t, tc.TransactionComplete(tid, true))
	assert.False(t, tc.Holds(hf, 0, tid))

	// tid is no longer active; a further getPage must fail.
	_, err = tc.GetPage(hf, 0, tid, ReadOnly)
	require.Error(t, err)
}

func TestReadYourWritesWithinTransaction(t *testing.T) {
	tc := newTestCoordinator(10)
	hf := newTestHeapFile(t, tc, tc.catalog, "ryw.dat")

	tid := NewTID()
	require.NoError(t, tc.BeginTransaction(tid))
	require.NoError(t, tc.InsertTuple(hf, &Tuple{Desc: *hf.Descriptor(), Fields: []DBValue{IntField{5}}}, tid))

	p, err := tc.GetPage(hf, 0, tid, ReadOnly)
	require.NoError(t, err)
	page := p.(*heapPage)
	assert.EqualValues(t, 1, page.numUsedSlots)
}

// TestConcurrentInsertTransactionsAllComplete runs many transactions that
// each insert one tuple and commit concurrently. Inserts go to the first
// page with a free slot, so most of them queue for the same page's
// exclusive lock; all of them must still finish without deadlocking.
func TestConcurrentInsertTransactionsAllComplete(t *testing.T) {
	tc := newTestCoordinator(64)
	hf := newTestHeapFile(t, tc, tc.catalog, "concurrent.dat")

	const n = 16
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int64) {
			defer wg.Done()
			tid := NewTID()
			require.NoError(t, tc.BeginTransaction(tid))
			require.NoError(t, tc.InsertTuple(hf, &Tuple{Desc: *hf.Descriptor(), Fields: []DBValue{IntField{i}}}, tid))
			require.NoError(t, tc.TransactionComplete(tid, true))
		}(int64(i))
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("concurrent insert transactions should all complete without deadlocking")
	}
}
