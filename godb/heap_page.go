package godb

import (
	"bytes"
	"encoding/binary"
	"errors"
)

// heapPage implements the Page interface for pages of HeapFiles: a fixed
// 8-byte header (slot count, used-slot count) followed by numSlots
// fixed-length tuple slots. Because tuples are fixed length, the number
// of slots a page holds is determined once from the TupleDesc.
//
// Grounded on the teacher's heapPage, replacing its string-keyed Dirty
// bool (which silently dropped the dirtying tid, see DESIGN.md) with the
// (tid, bool) pair the Page interface requires, and its string-encoded
// Rid ("%d-%d") with the RecordID struct of types.go.
type heapPage struct {
	dirty        bool
	dirtyTid     TransactionID
	pageNumber   int
	numSlots     int32
	numUsedSlots int32
	desc         *TupleDesc
	file         *HeapFile
	tuples       []*Tuple
}

// newHeapPage constructs an empty heap page sized for desc's fixed tuple
// width.
func newHeapPage(desc *TupleDesc, pageNo int, f *HeapFile) (*heapPage, error) {
	perTupleSize := int32(0)
	for _, curr_field := range desc.Fields {
		if curr_field.Ftype == IntType {
			perTupleSize += 8
		} else if curr_field.Ftype == StringType {
			perTupleSize += int32(StringLength)
		} else {
			return nil, errors.New("invalid field type in tuple descriptor")
		}
	}
	page := &heapPage{
		pageNumber:   pageNo,
		numSlots:     int32(PageSize-8) / perTupleSize,
		numUsedSlots: 0,
		desc:         desc,
		file:         f,
	}
	page.tuples = make([]*Tuple, page.numSlots)
	return page, nil
}

func (h *heapPage) getNumSlots() int {
	return int(h.numSlots)
}

// insertTuple inserts t into the first free slot, sets its Rid, and
// returns the Rid assigned. It returns a StorageError if the page is full.
func (h *heapPage) insertTuple(t *Tuple) (*RecordID, error) {
	for slot, tup := range h.tuples {
		if tup == nil {
			h.numUsedSlots++
			rid := &RecordID{PageNo: h.pageNumber, SlotNo: slot}
			h.tuples[slot] = &Tuple{
				Desc:   *h.desc,
				Fields: t.Fields,
				Rid:    rid,
			}
			return rid, nil
		}
	}
	return nil, newStorageError("heap page: no available slots for tuple insertion")
}

// deleteTuple clears the slot named by rid. It returns an InvalidRequestError
// if rid does not name a live tuple on this page.
func (h *heapPage) deleteTuple(rid RecordID) error {
	if rid.SlotNo < 0 || rid.SlotNo >= len(h.tuples) || h.tuples[rid.SlotNo] == nil {
		return newInvalidRequestError("heap page: invalid slot or tuple does not exist")
	}
	h.tuples[rid.SlotNo] = nil
	h.numUsedSlots--
	return nil
}

// IsDirty returns the tid that last dirtied this page, if any.
func (h *heapPage) IsDirty() (TransactionID, bool) {
	return h.dirtyTid, h.dirty
}

// SetDirty marks the page dirty (or clean) and records the dirtying tid.
func (h *heapPage) SetDirty(tid TransactionID, dirty bool) {
	h.dirty = dirty
	if dirty {
		h.dirtyTid = tid
	}
}

// ID returns this page's PageId.
func (h *heapPage) ID() PageId {
	return PageId{TableID: h.file.tableID(), PageNo: h.pageNumber}
}

// reload rebuilds a heapPage for the same page number and file from data.
func (h *heapPage) reload(data []byte) (Page, error) {
	return h.file.readPage(h.pageNumber, data)
}

// toBuffer serializes the page header and its live tuples, padded to
// PageSize. Tuples are written in slot order; a deleted slot contributes
// no bytes, so after a write-then-read round trip tuples are renumbered
// with no gaps — acceptable per §3 because a dirty page is never evicted,
// so in-memory Rids always stay valid until the page is flushed.
func (h *heapPage) toBuffer() ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := writeBinary(buf, h.numSlots); err != nil {
		return nil, err
	}
	if err := writeBinary(buf, h.numUsedSlots); err != nil {
		return nil, err
	}

	for _, tuple := range h.tuples {
		if tuple == nil {
			continue
		}
		if err := tuple.writeTo(buf); err != nil {
			return nil, err
		}
	}
	if err := padBuffer(buf, PageSize); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeBinary(buf *bytes.Buffer, data interface{}) error {
	return binary.Write(buf, binary.LittleEndian, data)
}

func padBuffer(buf *bytes.Buffer, targetSize int) error {
	if buf.Len() < targetSize {
		padding := make([]byte, targetSize-buf.Len())
		_, err := buf.Write(padding)
		return err
	}
	return nil
}

// initFromBuffer reads the page header and its tuples back from buf,
// renumbering slots 0..numUsedSlots-1 in the order they were written.
func (h *heapPage) initFromBuffer(buf *bytes.Buffer) error {
	err := binary.Read(buf, binary.LittleEndian, &h.numSlots)
	if err != nil {
		return err
	}
	err = binary.Read(buf, binary.LittleEndian, &h.numUsedSlots)
	if err != nil {
		return err
	}
	h.tuples = make([]*Tuple, h.numSlots)
	for i := 0; i < int(h.numUsedSlots); i++ {
		tuple, err := readTupleFrom(buf, h.desc)
		if err != nil {
			break
		}

		tuple.Rid = &RecordID{PageNo: h.pageNumber, SlotNo: i}
		tuple.Desc = *h.desc
		h.tuples[i] = tuple
	}
	return nil
}

// tupleIter returns a function iterating live tuples on the page in slot
// order, returning nil, nil once exhausted.
func (p *heapPage) tupleIter() func() (*Tuple, error) {
	i := 0
	return func() (res *Tuple, err error) {
		if p.numUsedSlots == 0 {
			return nil, nil
		}
		for {
			if i >= len(p.tuples) {
				return nil, nil
			}
			res = p.tuples[i]
			i++
			if res == nil {
				continue
			}
			return
		}
	}
}
