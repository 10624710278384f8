package godb

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestColumnFile(t *testing.T, capacity int) (*ColumnFile, *TransactionCoordinator) {
	t.Helper()
	catalog := NewCatalog()
	tc := NewTransactionCoordinator(catalog, Config{PageCacheCapacity: capacity}, nil)
	td := TupleDesc{Fields: []FieldType{
		{Fname: "a", Ftype: IntType},
		{Fname: "b", Ftype: StringType},
	}}
	dir := t.TempDir()
	files := map[int]string{
		0: filepath.Join(dir, "col0.dat"),
		1: filepath.Join(dir, "col1.dat"),
	}
	cf, err := NewColumnFile(files, td, catalog, tc)
	require.NoError(t, err)
	return cf, tc
}

func insertRow(t *testing.T, tc *TransactionCoordinator, cf *ColumnFile, tid TransactionID, a int64, b string) {
	t.Helper()
	require.NoError(t, tc.InsertTuple(cf, &Tuple{
		Desc:   *cf.Descriptor(),
		Fields: []DBValue{IntField{a}, StringField{b}},
	}, tid))
}

func readAllRows(t *testing.T, cf *ColumnFile, tid TransactionID) []string {
	t.Helper()
	iter, err := cf.Iterator(tid)
	require.NoError(t, err)
	var got []string
	for {
		tup, err := iter()
		require.NoError(t, err)
		if tup == nil {
			break
		}
		got = append(got, tup.PrettyPrintString())
	}
	return got
}

func TestColumnFileRejectsMismatchedFileCount(t *testing.T) {
	catalog := NewCatalog()
	tc := NewTransactionCoordinator(catalog, Config{PageCacheCapacity: 10}, nil)
	td := TupleDesc{Fields: []FieldType{{Fname: "a", Ftype: IntType}}}
	_, err := NewColumnFile(map[int]string{0: "x", 1: "y"}, td, catalog, tc)
	require.Error(t, err)
}

func TestColumnFileInsertAndIterateReassemblesRows(t *testing.T) {
	cf, tc := newTestColumnFile(t, 10)
	tid := NewTID()
	require.NoError(t, tc.BeginTransaction(tid))

	insertRow(t, tc, cf, tid, 1, "one")
	insertRow(t, tc, cf, tid, 2, "two")
	insertRow(t, tc, cf, tid, 3, "three")
	require.NoError(t, tc.TransactionComplete(tid, true))

	t2 := NewTID()
	require.NoError(t, tc.BeginTransaction(t2))
	iter, err := cf.Iterator(t2)
	require.NoError(t, err)

	var sums int64
	count := 0
	for {
		tup, err := iter()
		require.NoError(t, err)
		if tup == nil {
			break
		}
		require.Len(t, tup.Fields, 2)
		sums += tup.Fields[0].(IntField).Value
		count++
	}
	assert.Equal(t, 3, count)
	assert.EqualValues(t, 6, sums)
	require.NoError(t, tc.TransactionComplete(t2, true))
}

// TestColumnFileDeleteKeepsColumnsSlotAligned covers the slot-alignment
// fix in columnStorePage.insertAt: deleting a row frees the same slot in
// every column, and a subsequent insert lands back at that slot in every
// column together, so no row ever reassembles from mismatched slots.
func TestColumnFileDeleteKeepsColumnsSlotAligned(t *testing.T) {
	cf, tc := newTestColumnFile(t, 10)
	tid := NewTID()
	require.NoError(t, tc.BeginTransaction(tid))
	insertRow(t, tc, cf, tid, 1, "one")
	insertRow(t, tc, cf, tid, 2, "two")
	require.NoError(t, tc.TransactionComplete(tid, true))

	t2 := NewTID()
	require.NoError(t, tc.BeginTransaction(t2))
	iter, err := cf.Iterator(t2)
	require.NoError(t, err)
	first, err := iter()
	require.NoError(t, err)
	require.NotNil(t, first)
	require.NoError(t, tc.DeleteTuple(cf, first, t2))
	insertRow(t, tc, cf, t2, 3, "three")
	require.NoError(t, tc.TransactionComplete(t2, true))

	t3 := NewTID()
	require.NoError(t, tc.BeginTransaction(t3))
	iter3, err := cf.Iterator(t3)
	require.NoError(t, err)
	seen := map[int64]string{}
	for {
		tup, err := iter3()
		require.NoError(t, err)
		if tup == nil {
			break
		}
		a := tup.Fields[0].(IntField).Value
		b := tup.Fields[1].(StringField).Value
		seen[a] = b
	}
	require.NoError(t, tc.TransactionComplete(t3, true))

	assert.Len(t, seen, 2)
	assert.Equal(t, "two", seen[2])
	assert.Equal(t, "three", seen[3])
}

// TestColumnStorePageZeroValuedIntIsNotMistakenForEmptySlot covers the
// occupied-flag fix: a stored IntField{0} must round-trip as present,
// not as an empty slot, since the raw bytes of a zero value and an
// unwritten slot are identical.
func TestColumnStorePageZeroValuedIntIsNotMistakenForEmptySlot(t *testing.T) {
	td := TupleDesc{Fields: []FieldType{{Fname: "a", Ftype: IntType}}}
	cf := &ColumnFile{td: td, tableIDs: map[int]TableID{0: 1}, colAmount: 1}
	page := newColumnPage(&td, 0, 0, cf)

	slot, err := page.insertTuple(&Tuple{Desc: td, Fields: []DBValue{IntField{0}}})
	require.NoError(t, err)

	buf, err := page.toBuffer()
	require.NoError(t, err)

	reloaded := newColumnPage(&td, 0, 0, cf)
	require.NoError(t, reloaded.initFromBuffer(bytes.NewBuffer(buf)))

	assert.EqualValues(t, 1, reloaded.numUsedSlots)
	require.NotNil(t, reloaded.tuples[slot])
	assert.Equal(t, int64(0), reloaded.tuples[slot].Fields[0].(IntField).Value)
}

func TestColumnStorePageInsertAtRejectsOccupiedSlot(t *testing.T) {
	td := TupleDesc{Fields: []FieldType{{Fname: "a", Ftype: IntType}}}
	cf := &ColumnFile{td: td, tableIDs: map[int]TableID{0: 1}, colAmount: 1}
	page := newColumnPage(&td, 0, 0, cf)

	_, err := page.insertAt(&Tuple{Desc: td, Fields: []DBValue{IntField{1}}}, 0)
	require.NoError(t, err)

	_, err = page.insertAt(&Tuple{Desc: td, Fields: []DBValue{IntField{2}}}, 0)
	require.Error(t, err)
}

func TestColumnFileLoadFromCSV(t *testing.T) {
	catalog := NewCatalog()
	tc := NewTransactionCoordinator(catalog, Config{PageCacheCapacity: 10}, nil)
	td := TupleDesc{Fields: []FieldType{
		{Fname: "a", Ftype: IntType},
		{Fname: "b", Ftype: StringType},
	}}
	dir := t.TempDir()
	files := map[int]string{
		0: filepath.Join(dir, "col0.dat"),
		1: filepath.Join(dir, "col1.dat"),
	}
	cf, err := NewColumnFile(files, td, catalog, tc)
	require.NoError(t, err)

	csvPath := filepath.Join(dir, "in.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte("a,b\n1,one\n2,two\n"), 0644))
	f, err := os.Open(csvPath)
	require.NoError(t, err)
	defer f.Close()

	require.NoError(t, cf.LoadFromCSV(f, true, ",", false))

	tid := NewTID()
	require.NoError(t, tc.BeginTransaction(tid))
	rows := readAllRows(t, cf, tid)
	assert.Len(t, rows, 2)
	require.NoError(t, tc.TransactionComplete(tid, true))
}
