package godb

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
)

// ColumnFile is a second DBFile implementation alongside HeapFile: it
// stores each column of a table in its own backing file, one fixed-width
// slot per row, with a row's fields kept at the same slot index across
// every column's pages so they can be reassembled on read. Every page of
// every column still goes through the same TransactionCoordinator —
// same LockTable, same WaitsForGraph, same PageCache — as HeapFile; only
// the byte layout and the page-identity scheme (one TableID per column,
// registered with the shared Catalog) differ.
//
// Grounded on the teacher's columnStoreFile (renamed ColumnFile to match
// the name its own test file and column_store_page.go already expected),
// adapted from a private *BufferPool field to the TransactionCoordinator/
// Catalog/PageStore split of §4, and from per-column independent slot
// assignment (a latent bug: a freed slot in one column's page need not
// be free in another column's page at the same index, so project-back
// could silently pair mismatched rows) to slot-aligned insertion via
// columnStorePage.insertAt.
type ColumnFile struct {
	filenames       map[int]string
	tableIDs        map[int]TableID
	td              TupleDesc
	catalog         *Catalog
	coordinator     *TransactionCoordinator
	pagesEachColumn int
	colAmount       int
	mu              sync.Mutex
}

// NewColumnFile opens or creates a column file, one backing file per
// column named in fromFiles, and registers each with catalog under its
// own TableID.
func NewColumnFile(fromFiles map[int]string, td TupleDesc, catalog *Catalog, coordinator *TransactionCoordinator) (*ColumnFile, error) {
	if len(td.Fields) != len(fromFiles) {
		return nil, newInvalidRequestError("column file: number of files and columns do not match")
	}

	colFile := &ColumnFile{
		td:          td,
		filenames:   fromFiles,
		tableIDs:    make(map[int]TableID),
		catalog:     catalog,
		coordinator: coordinator,
		colAmount:   len(td.Fields),
	}

	for col, filename := range fromFiles {
		colDesc := &TupleDesc{Fields: []FieldType{td.Fields[col]}}
		colFile.tableIDs[col] = catalog.Register(filename, colDesc)

		info, err := os.Stat(filename)
		if err != nil && !os.IsNotExist(err) {
			return nil, newStorageError(fmt.Sprintf("column file: stat %s: %v", filename, err))
		}
		if err == nil {
			pages := (int(info.Size()) + PageSize - 1) / PageSize
			if pages > colFile.pagesEachColumn {
				colFile.pagesEachColumn = pages
			}
		}
	}

	return colFile, nil
}

// NumPages returns the number of pages per column times the column count,
// matching the teacher's accounting convention.
func (f *ColumnFile) NumPages() int {
	return f.pagesEachColumn * f.colAmount
}

// LoadFromCSV bulk-loads file, one committed transaction per row,
// mirroring HeapFile.LoadFromCSV.
func (f *ColumnFile) LoadFromCSV(file *os.File, hasHeader bool, sep string, skipLastField bool) error {
	scanner := bufio.NewScanner(file)
	cnt := 0
	for scanner.Scan() {
		line := scanner.Text()
		fields := strings.Split(line, sep)
		if skipLastField {
			fields = fields[0 : len(fields)-1]
		}
		numFields := len(fields)
		cnt++
		desc := f.Descriptor()
		if desc == nil || desc.Fields == nil {
			return GoDBError{MalformedDataError, "Descriptor was nil"}
		}
		if numFields != len(desc.Fields) {
			return GoDBError{MalformedDataError, fmt.Sprintf("LoadFromCSV: line %d (%s) does not have expected number of fields (expected %d, got %d)", cnt, line, len(f.Descriptor().Fields), numFields)}
		}
		if cnt == 1 && hasHeader {
			continue
		}
		var newFields []DBValue
		for fno, field := range fields {
			switch f.Descriptor().Fields[fno].Ftype {
			case IntType:
				field = strings.TrimSpace(field)
				floatVal, err := strconv.ParseFloat(field, 64)
				if err != nil {
					return GoDBError{TypeMismatchError, fmt.Sprintf("LoadFromCSV: couldn't convert value %s to int, tuple %d", field, cnt)}
				}
				newFields = append(newFields, IntField{int64(int(floatVal))})
			case StringType:
				if len(field) > StringLength {
					field = field[0:StringLength]
				}
				newFields = append(newFields, StringField{field})
			}
		}
		newT := Tuple{Desc: *f.Descriptor(), Fields: newFields}
		tid := NewTID()

		if err := f.coordinator.BeginTransaction(tid); err != nil {
			return err
		}
		if err := f.coordinator.InsertTuple(f, &newT, tid); err != nil {
			_ = f.coordinator.TransactionComplete(tid, false)
			return err
		}
		if err := f.coordinator.TransactionComplete(tid, true); err != nil {
			return err
		}
	}
	return nil
}

// getColumnPage fetches column col's page pageInColumn through the
// coordinator, reading through the shared PageStore like HeapFile does.
func (f *ColumnFile) getColumnPage(col, pageInColumn int, tid TransactionID, perm Permission) (*columnStorePage, error) {
	pid := PageId{TableID: f.tableIDs[col], PageNo: pageInColumn}
	page, err := f.coordinator.GetPageCustom(pid, tid, perm,
		func() ([]byte, error) { return f.coordinator.store.ReadPage(pid) },
		func(data []byte) (Page, error) {
			cp := newColumnPage(&f.td, col, pageInColumn, f)
			if err := cp.initFromBuffer(bytes.NewBuffer(data)); err != nil {
				return nil, newStorageError(fmt.Sprintf("column file: deserialize column %d page %d: %v", col, pageInColumn, err))
			}
			return cp, nil
		})
	if err != nil {
		return nil, err
	}
	return page.(*columnStorePage), nil
}

// insertTuple finds a page with a free, alignable slot across every
// column, or allocates a fresh page in every column if none has room.
func (f *ColumnFile) insertTuple(t *Tuple, tid TransactionID) error {
	for pageInColumn := 0; pageInColumn < f.pagesEachColumn; pageInColumn++ {
		inserted, err := f.tryInsertIntoPage(t, tid, pageInColumn)
		if err != nil {
			return err
		}
		if inserted {
			return nil
		}
	}
	return f.createNewPagesAndInsert(t, tid)
}

// tryInsertIntoPage attempts to insert t at pageInColumn, anchored by
// column 0's free-slot search, then replicated at the same slot index
// into every other column's page.
func (f *ColumnFile) tryInsertIntoPage(t *Tuple, tid TransactionID, pageInColumn int) (bool, error) {
	primary, err := f.getColumnPage(0, pageInColumn, tid, ReadWrite)
	if err != nil {
		return false, err
	}
	slot, err := primary.insertTuple(t)
	if err != nil {
		return false, nil
	}
	primary.SetDirty(tid, true)
	rid := &RecordID{PageNo: pageInColumn, SlotNo: slot}
	t.Rid = rid

	for col := 1; col < f.colAmount; col++ {
		cp, err := f.getColumnPage(col, pageInColumn, tid, ReadWrite)
		if err != nil {
			return false, err
		}
		if _, err := cp.insertAt(t, slot); err != nil {
			return false, err
		}
		cp.SetDirty(tid, true)
	}

	return true, nil
}

// createNewPagesAndInsert allocates one new page per column and inserts
// t into slot 0 of each, left dirty in the coordinator's cache per
// FORCE/NO-STEAL (see HeapFile.createNewPage).
func (f *ColumnFile) createNewPagesAndInsert(t *Tuple, tid TransactionID) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	pageInColumn := f.pagesEachColumn
	for col := 0; col < f.colAmount; col++ {
		cp := newColumnPage(&f.td, col, pageInColumn, f)
		if col == 0 {
			slot, err := cp.insertTuple(t)
			if err != nil {
				return err
			}
			t.Rid = &RecordID{PageNo: pageInColumn, SlotNo: slot}
		} else {
			if _, err := cp.insertAt(t, t.Rid.SlotNo); err != nil {
				return err
			}
		}
		cp.SetDirty(tid, true)
		if err := f.coordinator.AllocatePage(cp, tid); err != nil {
			return err
		}
	}

	f.pagesEachColumn++
	return nil
}

// deleteTuple removes the tuple named by t.Rid from every column's page.
func (f *ColumnFile) deleteTuple(t *Tuple, tid TransactionID) error {
	if t.Rid == nil {
		return newInvalidRequestError("column file: tuple has no valid record id")
	}
	rid := *t.Rid

	for col := 0; col < f.colAmount; col++ {
		cp, err := f.getColumnPage(col, rid.PageNo, tid, ReadWrite)
		if err != nil {
			return err
		}
		if err := cp.deleteTuple(rid.SlotNo); err != nil {
			return err
		}
		cp.SetDirty(tid, true)
	}

	return nil
}

// readPage satisfies the DBFile interface using the teacher's original
// combined-index convention (column = pageNo % colAmount, page-in-column
// = pageNo / colAmount). GetPageCustom bypasses this for normal access;
// it exists for callers that only have a single global DBFile handle.
func (f *ColumnFile) readPage(pageNo int, data []byte) (Page, error) {
	col := pageNo % f.colAmount
	pageInColumn := pageNo / f.colAmount
	cp := newColumnPage(&f.td, col, pageInColumn, f)
	if err := cp.initFromBuffer(bytes.NewBuffer(data)); err != nil {
		return nil, newStorageError(fmt.Sprintf("column file: deserialize page %d: %v", pageNo, err))
	}
	return cp, nil
}

// flushPage forces p to its column's backing PageStore file.
func (f *ColumnFile) flushPage(p Page) error {
	return f.coordinator.store.WritePage(p)
}

// Descriptor returns the TupleDesc for this ColumnFile.
func (f *ColumnFile) Descriptor() *TupleDesc {
	return &f.td
}

// tableID returns column 0's TableID, a representative identity for
// interface conformance; normal access goes through getColumnPage, which
// addresses each column by its own TableID.
func (f *ColumnFile) tableID() TableID {
	return f.tableIDs[0]
}

// Iterator returns a function yielding every row, reassembled by joining
// the tuple at the same slot across every column's pages.
func (f *ColumnFile) Iterator(tid TransactionID) (func() (*Tuple, error), error) {
	columns := make([]int, f.colAmount)
	for i := range columns {
		columns[i] = i
	}
	return f.iteratorCol(columns, tid)
}

func (f *ColumnFile) iteratorCol(columns []int, tid TransactionID) (func() (*Tuple, error), error) {
	pageInColumn := 0
	iters := make([]func() (*Tuple, error), len(columns))
	var primary *columnStorePage
	slot := 0

	initPage := func() error {
		for i, col := range columns {
			cp, err := f.getColumnPage(col, pageInColumn, tid, ReadOnly)
			if err != nil {
				return err
			}
			iters[i] = cp.tupleIter()
			if i == 0 {
				primary = cp
			}
		}
		slot = 0
		return nil
	}
	if f.pagesEachColumn > 0 {
		if err := initPage(); err != nil {
			return nil, err
		}
	}

	return func() (*Tuple, error) {
		for {
			if pageInColumn >= f.pagesEachColumn {
				return nil, nil
			}

			tuples := make([]*Tuple, len(columns))
			for i := range columns {
				t, err := iters[i]()
				if err != nil {
					return nil, err
				}
				tuples[i] = t
			}

			if tuples[0] == nil {
				pageInColumn++
				if pageInColumn >= f.pagesEachColumn {
					return nil, nil
				}
				if err := initPage(); err != nil {
					return nil, err
				}
				continue
			}

			var combined *Tuple
			for _, tup := range tuples {
				combined = joinTuples(combined, tup)
			}
			// Find the slot the first column's iterator just yielded, so the
			// row carries the RecordID that deleteTuple addresses it by.
			for primary.tuples[slot] != tuples[0] {
				slot++
			}
			combined.Rid = &RecordID{PageNo: pageInColumn, SlotNo: slot}
			slot++
			return combined, nil
		}
	}, nil
}
