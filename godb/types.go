package godb

import (
	"github.com/google/uuid"
)

// PageSize is the fixed size, in bytes, of every page the core moves
// between disk and memory.
const PageSize = 4096

// StringLength is the fixed encoded width, in bytes, of a StringField.
const StringLength = 32

// TransactionID is an opaque, comparable identity assigned to each
// transaction. It is backed by a UUID so that two independently-started
// transactions can never collide, and so it can be used directly as a map
// key without a wrapper.
type TransactionID = uuid.UUID

// NewTID allocates a fresh TransactionID.
func NewTID() TransactionID {
	return uuid.New()
}

// Permission is the mode under which a transaction requests a page.
type Permission int

const (
	// ReadOnly requests a shared lock; compatible with other ReadOnly
	// requests from different transactions.
	ReadOnly Permission = iota
	// ReadWrite requests an exclusive lock; incompatible with any other
	// lock, shared or exclusive, held by a different transaction.
	ReadWrite
)

func (p Permission) String() string {
	if p == ReadWrite {
		return "READ_WRITE"
	}
	return "READ_ONLY"
}

// TableID identifies a table. Per §6, identity is the hash of the table's
// absolute backing-file path, so two HeapFiles opened against the same
// file always resolve to the same TableID regardless of how each caller
// spelled the path.
type TableID uint64

// PageId identifies a single page within a table.
type PageId struct {
	TableID TableID
	PageNo  int
}

// RecordID identifies a single tuple slot within a page. It is the Rid
// value every DBFile implementation in this module uses; the teacher's
// heap-page code encoded this as a "pageNo-slotNo" string parsed back apart
// on delete, which both wastes an allocation and fails silently on a
// malformed string. A small comparable struct does the same job and is
// usable as a map key.
type RecordID struct {
	PageNo int
	SlotNo int
}

// Page is the in-memory image of one page plus the bookkeeping the core
// needs: which transaction (if any) has dirtied it, and its PageId, by which
// the PageStore writes it back.
//
// Page implementations (heapPage, columnStorePage) own the schema-interpreted
// tuple slots; the core itself only ever touches a Page through this
// interface and never interprets its bytes.
type Page interface {
	// IsDirty reports whether the page has unflushed mutations, and if so,
	// which transaction made them. ok is false for a clean page.
	IsDirty() (tid TransactionID, ok bool)

	// SetDirty marks the page dirty on behalf of tid, or clears the dirty
	// flag entirely when dirty is false.
	SetDirty(tid TransactionID, dirty bool)

	// ID returns the page's identity.
	ID() PageId

	// toBuffer serializes the page to its on-disk byte image.
	toBuffer() ([]byte, error)

	// reload rebuilds a fresh page with this page's identity from raw bytes,
	// used by TransactionComplete to revert an aborted transaction's dirty
	// pages back to their on-disk image without going through the owning
	// DBFile (which, for a multi-file DBFile like ColumnFile, cannot recover
	// which file a bare page number belongs to).
	reload(data []byte) (Page, error)
}

// DBFile is the heap-file contract the core consumes (§6): something that
// can turn a page number plus raw bytes into a Page, insert/delete tuples,
// and iterate its tuples.
type DBFile interface {
	// readPage deserializes the page at pageNo from the supplied bytes.
	readPage(pageNo int, data []byte) (Page, error)

	// insertTuple adds t to the file, calling back into the coordinator's
	// getPage for candidate pages with ReadWrite permission.
	insertTuple(t *Tuple, tid TransactionID) error

	// deleteTuple removes the tuple named by t.Rid.
	deleteTuple(t *Tuple, tid TransactionID) error

	// Iterator returns a function that yields successive tuples, or
	// (nil, nil) once exhausted.
	Iterator(tid TransactionID) (func() (*Tuple, error), error)

	// Descriptor returns the file's TupleDesc.
	Descriptor() *TupleDesc

	// tableID returns the file's TableID, used as the PageStore/PageCache key.
	tableID() TableID

	// flushPage serializes p and forces it to the PageStore.
	flushPage(p Page) error
}
