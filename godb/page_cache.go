package godb

import "container/list"

// PageCache implements §4.4: a capacity-bounded mapping from PageId to
// in-memory Page, with LRU recency ordering and a NO-STEAL eviction
// policy. Like LockTable, it holds no mutex of its own: every method
// assumes the TransactionCoordinator's single mutex is already held.
//
// Grounded on the teacher's BufferPool.Pages (a bare map with no recency
// order at all — evictPage() picked an arbitrary clean page by map
// iteration order) and the design note of §9 permitting "an intrusive
// list with node handles, an indexed deque, or a linked hashmap". This
// uses container/list, the standard-library doubly-linked list, for the
// intrusive-list choice, paired with a map from PageId to its list
// element for O(1) lookup and move-to-MRU.
type PageCache struct {
	capacity int
	recency  *list.List // front = LRU, back = MRU
	index    map[PageId]*list.Element
}

// NewPageCache creates a PageCache bounded to capacity frames.
func NewPageCache(capacity int) *PageCache {
	return &PageCache{
		capacity: capacity,
		recency:  list.New(),
		index:    make(map[PageId]*list.Element),
	}
}

// Len returns the number of pages currently resident.
func (pc *PageCache) Len() int {
	return pc.recency.Len()
}

// Get returns the resident page for pid, touching it to the MRU end. The
// second return value is false if pid is not resident.
func (pc *PageCache) Get(pid PageId) (Page, bool) {
	elem, ok := pc.index[pid]
	if !ok {
		return nil, false
	}
	pc.recency.MoveToBack(elem)
	return elem.Value.(Page), true
}

// Put inserts page as the most-recently-used entry, evicting a clean page
// first if the cache is already at capacity. It returns a StorageError if
// eviction is required but every resident page is dirty.
func (pc *PageCache) Put(page Page) error {
	pid := page.ID()
	if elem, ok := pc.index[pid]; ok {
		elem.Value = page
		pc.recency.MoveToBack(elem)
		return nil
	}

	if pc.recency.Len() >= pc.capacity {
		if err := pc.evictOne(); err != nil {
			return err
		}
	}

	elem := pc.recency.PushBack(page)
	pc.index[pid] = elem
	return nil
}

// Remove unlinks and drops pid's entry, if resident.
func (pc *PageCache) Remove(pid PageId) {
	elem, ok := pc.index[pid]
	if !ok {
		return
	}
	pc.recency.Remove(elem)
	delete(pc.index, pid)
}

// evictOne scans from the LRU (front) toward the MRU (back) and evicts
// the first clean page it finds, per §4.4's NO-STEAL policy: a dirty page
// is never evicted, because that is exactly what lets abort recover by
// re-reading from PageStore without a log. If every resident page is
// dirty, eviction fails and the caller should surface a StorageError.
func (pc *PageCache) evictOne() error {
	for elem := pc.recency.Front(); elem != nil; elem = elem.Next() {
		page := elem.Value.(Page)
		if _, dirty := page.IsDirty(); dirty {
			continue
		}
		pc.recency.Remove(elem)
		delete(pc.index, page.ID())
		return nil
	}
	return newStorageError("page cache: eviction failed, all resident pages dirty")
}
