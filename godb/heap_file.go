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

// HeapFile is an unordered collection of tuples, backed by a single
// fixed-page-size file (§6). All page I/O, caching, and locking for a
// HeapFile goes through its TransactionCoordinator — the file itself only
// knows how to interpret bytes as heapPages.
//
// Grounded on the teacher's HeapFile, replacing its direct *BufferPool
// field and raw os.OpenFile calls in readPage/flushPage with the
// TransactionCoordinator/PageStore split of §4, and its ad hoc
// []bool availablePages scan (unchanged in spirit) over a TableID minted
// by Catalog rather than a bare backing-file string.
type HeapFile struct {
	backingFile    string
	tupleDesc      *TupleDesc
	coordinator    *TransactionCoordinator
	catalog        *Catalog
	id             TableID
	pagesNum       int
	availablePages []bool
	mu             sync.Mutex
}

// NewHeapFile opens or creates a heap file at fromFile, registers it with
// catalog, and wires it to coordinator for all future page access.
func NewHeapFile(fromFile string, td *TupleDesc, catalog *Catalog, coordinator *TransactionCoordinator) (*HeapFile, error) {
	id := catalog.Register(fromFile, td)
	heapFile := &HeapFile{
		backingFile:    fromFile,
		tupleDesc:      td,
		catalog:        catalog,
		coordinator:    coordinator,
		id:             id,
		availablePages: make([]bool, 0),
	}

	heapFile.pagesNum = heapFile.NumPages()
	for i := 0; i < heapFile.pagesNum; i++ {
		heapFile.availablePages = append(heapFile.availablePages, true)
	}

	return heapFile, nil
}

// BackingFile returns the name of the backing file.
func (f *HeapFile) BackingFile() string {
	return f.backingFile
}

// NumPages returns the number of pages currently in the heap file.
func (f *HeapFile) NumPages() int {
	fileInfo, err := os.Stat(f.backingFile)
	if err != nil {
		return 0
	}
	size := fileInfo.Size()
	num_pages := int(size / int64(PageSize))
	remainder := size % int64(PageSize)
	if remainder != 0 {
		num_pages += 1
	}
	return num_pages
}

// LoadFromCSV bulk-loads the contents of a CSV file into the heap file,
// one committed transaction per row.
func (f *HeapFile) LoadFromCSV(file *os.File, hasHeader bool, sep string, skipLastField bool) error {
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
				intValue := int(floatVal)
				newFields = append(newFields, IntField{int64(intValue)})
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

// readPage deserializes the heap page at pageNo from data, which the
// coordinator has already read from the PageStore.
func (f *HeapFile) readPage(pageNo int, data []byte) (Page, error) {
	heap_page := &heapPage{
		pageNumber: pageNo,
		desc:       f.tupleDesc,
		file:       f,
	}
	if err := heap_page.initFromBuffer(bytes.NewBuffer(data)); err != nil {
		return nil, newStorageError(fmt.Sprintf("heap file: deserialize page %d: %v", pageNo, err))
	}
	return heap_page, nil
}

// insertTuple finds a page with a free slot (scanning availablePages first)
// and inserts t there via the coordinator, marking the page dirty. If no
// page has room, a new page is allocated and appended.
func (f *HeapFile) insertTuple(t *Tuple, tid TransactionID) error {
	if len(t.Fields) != len(t.Desc.Fields) {
		return newInvalidRequestError("heap file: tuple field count does not match descriptor")
	}

	var validPage *heapPage

	for pageNo, idle := range f.availablePages {
		if !idle {
			continue
		}
		buf_page, err := f.coordinator.GetPage(f, pageNo, tid, ReadWrite)
		if err != nil {
			return err
		}

		tmpPage := buf_page.(*heapPage)
		if tmpPage.numUsedSlots < tmpPage.numSlots {
			validPage = tmpPage
			break
		}
		f.availablePages[pageNo] = false
	}
	if validPage == nil {
		return f.createNewPage(t, tid)
	}

	if _, err := validPage.insertTuple(t); err != nil {
		return err
	}
	validPage.SetDirty(tid, true)
	return nil
}

func (f *HeapFile) createNewPage(t *Tuple, tid TransactionID) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	newPage, err := newHeapPage(f.tupleDesc, f.pagesNum, f)
	if err != nil {
		return err
	}
	if _, err := newPage.insertTuple(t); err != nil {
		return err
	}
	newPage.SetDirty(tid, true)

	// The page is left dirty in the coordinator's cache rather than forced
	// to the PageStore here: FORCE/NO-STEAL means it is written only at
	// commit (or reverted at abort), like any other page this transaction
	// dirtied.
	if err := f.coordinator.AllocatePage(newPage, tid); err != nil {
		return err
	}

	f.availablePages = append(f.availablePages, true)
	f.pagesNum++
	return nil
}

// deleteTuple removes the tuple named by t.Rid, fetching its page via the
// coordinator with ReadWrite permission and marking it dirty.
func (f *HeapFile) deleteTuple(t *Tuple, tid TransactionID) error {
	if t.Rid == nil {
		return newInvalidRequestError("heap file: tuple has no valid record id")
	}
	rid := *t.Rid

	tmpPage, err := f.coordinator.GetPage(f, rid.PageNo, tid, ReadWrite)
	if err != nil {
		return err
	}

	page, ok := tmpPage.(*heapPage)
	if !ok {
		return newStorageError("heap file: page has unexpected type")
	}

	if err := page.deleteTuple(rid); err != nil {
		return err
	}
	page.SetDirty(tid, true)
	return nil
}

// flushPage forces p to the backing PageStore, forwarding through the
// coordinator it was constructed with.
func (f *HeapFile) flushPage(p Page) error {
	return f.coordinator.store.WritePage(p)
}

// Descriptor returns the TupleDesc for this HeapFile.
func (f *HeapFile) Descriptor() *TupleDesc {
	return f.tupleDesc
}

// tableID returns the TableID this file was registered under.
func (f *HeapFile) tableID() TableID {
	return f.id
}

// Iterator returns a function that yields successive tuples of the heap
// file in page order, fetching each page through the coordinator with
// ReadOnly permission.
func (f *HeapFile) Iterator(tid TransactionID) (func() (*Tuple, error), error) {
	iterIndex := 0
	var pageIter func() (*Tuple, error)
	return func() (tuple *Tuple, err error) {
		for iterIndex < f.pagesNum {
			if pageIter == nil {
				tmpPage, err := f.coordinator.GetPage(f, iterIndex, tid, ReadOnly)
				if err != nil {
					return nil, err
				}
				page := tmpPage.(*heapPage)
				pageIter = page.tupleIter()
			}

			tuple, err = pageIter()
			if err != nil {
				return nil, err
			}

			if tuple != nil {
				tuple.Desc = *f.tupleDesc
				return tuple, nil
			}
			iterIndex++
			pageIter = nil
		}

		return nil, nil
	}, nil
}
