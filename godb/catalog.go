package godb

import (
	"hash/fnv"
	"path/filepath"
	"sync"
)

// Catalog is the consumed contract of §6: given a table's backing file it
// resolves a stable TableID, and tracks the TupleDesc each table was
// registered with. HeapFile and ColumnFile register themselves on
// construction; PageStore consults the Catalog to learn a table's backing
// path. The Catalog does not track page counts.
type Catalog struct {
	mu     sync.Mutex
	tables map[TableID]*catalogEntry
	byPath map[string]TableID
}

type catalogEntry struct {
	path string
	desc *TupleDesc
}

// NewCatalog creates an empty Catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		tables: make(map[TableID]*catalogEntry),
		byPath: make(map[string]TableID),
	}
}

// TableIDFor returns the stable TableID for a backing file path, hashing
// its absolute form so that "./t.dat" and "/cwd/t.dat" resolve to the same
// identity (§6: "Identity of a table is the hash of its absolute
// filesystem path").
func TableIDFor(path string) TableID {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(abs))
	return TableID(h.Sum64())
}

// Register associates a backing path and schema with its TableID, creating
// the entry if it doesn't already exist. Safe to call more than once for
// the same path; the schema on record is left unchanged after the first
// call.
func (c *Catalog) Register(path string, desc *TupleDesc) TableID {
	id := TableIDFor(path)
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.tables[id]; !ok {
		c.tables[id] = &catalogEntry{path: path, desc: desc}
		c.byPath[path] = id
	}
	return id
}

// Path returns the backing file path registered for id, or ("", false) if
// id is unknown.
func (c *Catalog) Path(id TableID) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.tables[id]
	if !ok {
		return "", false
	}
	return e.path, true
}

// Descriptor returns the TupleDesc registered for id, or nil if unknown.
func (c *Catalog) Descriptor(id TableID) *TupleDesc {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.tables[id]
	if !ok {
		return nil
	}
	return e.desc
}
