package godb

import (
	"bytes"
	"encoding/binary"
	"unsafe"
)

// columnStorePage implements the Page interface for one page of one
// column of a ColumnFile. Unlike heapPage, which stores whole tuples,
// each columnStorePage stores only the single field named by colNumber;
// a logical row's full tuple lives at the same slot index across every
// column's page for a given pageNumber.
//
// Grounded on the teacher's columnStorePage, adapted to the IsDirty/
// SetDirty(tid, dirty)/reload shape the Page interface now requires.
type columnStorePage struct {
	dirty        bool
	dirtyTid     TransactionID
	pageNumber   int32
	colNumber    int32
	numSlots     int32
	numUsedSlots int32
	desc         *TupleDesc
	colFile      *ColumnFile
	tuples       [](*Tuple)
}

// newColumnPage creates an empty columnStorePage for a single column.
func newColumnPage(desc *TupleDesc, colNumber int, pageNumber int, f *ColumnFile) *columnStorePage {
	field := desc.Fields[colNumber]
	var tupleSize int32
	switch field.Ftype {
	case IntType:
		tupleSize = int32(unsafe.Sizeof(int64(0)))
	case StringType:
		tupleSize = int32(unsafe.Sizeof(byte(0))) * int32(StringLength)
	}

	const headerSize = 8
	numSlots := ((int32)(PageSize) - headerSize) / (tupleSize + 1)

	return &columnStorePage{
		pageNumber:   int32(pageNumber),
		colNumber:    int32(colNumber),
		numSlots:     numSlots,
		numUsedSlots: 0,
		desc:         &TupleDesc{Fields: []FieldType{field}},
		colFile:      f,
		tuples:       make([]*Tuple, numSlots),
	}
}

// insertTuple projects t onto this column and inserts it into the first
// free slot, returning the slot index assigned.
func (c *columnStorePage) insertTuple(t *Tuple) (int, error) {
	if c.numUsedSlots >= c.numSlots {
		return 0, newStorageError("column page: page is full")
	}
	for i, tup := range c.tuples {
		if tup == nil {
			return c.insertAt(t, i)
		}
	}
	return 0, newStorageError("column page: no available slot found")
}

// insertAt projects t onto this column and inserts it at the specific
// slot index, failing if the slot is already occupied. Used to keep a
// row's column pages aligned on the same slot across a ColumnFile's
// files — a row's fields must live at the same slot index in every
// column or a later read cannot reassemble the tuple correctly.
func (c *columnStorePage) insertAt(t *Tuple, slot int) (int, error) {
	if slot < 0 || slot >= int(c.numSlots) {
		return 0, newInvalidRequestError("column page: slot out of range")
	}
	if c.tuples[slot] != nil {
		return 0, newStorageError("column page: slot already occupied")
	}
	toInsert, err := t.project(c.desc.Fields)
	if err != nil {
		return 0, err
	}
	c.tuples[slot] = toInsert
	c.numUsedSlots++
	return slot, nil
}

// deleteTuple removes the tuple at slot index.
func (c *columnStorePage) deleteTuple(slot int) error {
	if slot < 0 || slot >= int(c.numSlots) || c.tuples[slot] == nil {
		return newInvalidRequestError("column page: tuple to delete does not exist in page")
	}
	c.tuples[slot] = nil
	c.numUsedSlots--
	return nil
}

// IsDirty returns the tid that last dirtied this page, if any.
func (c *columnStorePage) IsDirty() (TransactionID, bool) {
	return c.dirtyTid, c.dirty
}

// SetDirty marks the page dirty (or clean) and records the dirtying tid.
func (c *columnStorePage) SetDirty(tid TransactionID, dirty bool) {
	c.dirty = dirty
	if dirty {
		c.dirtyTid = tid
	}
}

// ID returns this page's PageId, scoped to its own column's TableID.
func (c *columnStorePage) ID() PageId {
	return PageId{TableID: c.colFile.tableIDs[int(c.colNumber)], PageNo: int(c.pageNumber)}
}

// reload rebuilds this column's page at the same (column, pageNumber) from data.
func (c *columnStorePage) reload(data []byte) (Page, error) {
	cp := newColumnPage(&c.colFile.td, int(c.colNumber), int(c.pageNumber), c.colFile)
	if err := cp.initFromBuffer(bytes.NewBuffer(data)); err != nil {
		return nil, err
	}
	return cp, nil
}

// toBuffer serializes the page header and live tuples, in slot order
// (including gaps, unlike heapPage, so that slot alignment across a row's
// column pages survives a flush/reload round trip).
func (c *columnStorePage) toBuffer() ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := writeBinary(buf, c.numSlots); err != nil {
		return nil, err
	}
	if err := writeBinary(buf, c.numUsedSlots); err != nil {
		return nil, err
	}

	for _, tup := range c.tuples {
		occupied := byte(0)
		if tup != nil {
			occupied = 1
		}
		if err := buf.WriteByte(occupied); err != nil {
			return nil, err
		}
		if tup == nil {
			if _, err := buf.Write(make([]byte, slotWidth(c.desc.Fields[0]))); err != nil {
				return nil, err
			}
			continue
		}
		if err := tup.writeTo(buf); err != nil {
			return nil, err
		}
	}
	if err := padBuffer(buf, PageSize); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func slotWidth(f FieldType) int {
	if f.Ftype == StringType {
		return StringLength
	}
	return 8
}

// initFromBuffer reads the page header and every slot (live or empty)
// back from buf, preserving slot positions. Each slot is prefixed with a
// one-byte occupied flag so an all-zero stored value (e.g. IntField{0})
// is never mistaken for an empty slot.
func (c *columnStorePage) initFromBuffer(buf *bytes.Buffer) error {
	if err := binary.Read(buf, binary.LittleEndian, &c.numSlots); err != nil {
		return err
	}
	if err := binary.Read(buf, binary.LittleEndian, &c.numUsedSlots); err != nil {
		return err
	}

	c.tuples = make([]*Tuple, c.numSlots)
	width := slotWidth(c.desc.Fields[0])
	for i := 0; i < int(c.numSlots); i++ {
		occupied, err := buf.ReadByte()
		if err != nil {
			return err
		}
		raw := buf.Next(width)
		if occupied == 0 {
			continue
		}
		tup, err := readTupleFrom(bytes.NewBuffer(raw), c.desc)
		if err != nil {
			return err
		}
		c.tuples[i] = tup
	}
	return nil
}

// tupleIter returns the next non-nil tuple and nil when all tuples are exhausted.
func (c *columnStorePage) tupleIter() func() (*Tuple, error) {
	index := 0
	return func() (*Tuple, error) {
		for index < int(c.numSlots) {
			tup := c.tuples[index]
			index++
			if tup != nil {
				return tup, nil
			}
		}
		return nil, nil
	}
}
