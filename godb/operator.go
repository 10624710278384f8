package godb

// Operator is the minimal surface the storage core needs from the
// relational operator pipeline (§1: "out of scope... consumed only via
// getPage/insertTuple/deleteTuple/transactionComplete"). InsertOp and
// DeleteOp are the only operators this module implements itself; every
// other operator (scan, filter, join, aggregate...) is an external
// collaborator that satisfies this interface.
//
// Grounded on the teacher's Operator interface in operator.go, trimmed to
// the two methods InsertOp/DeleteOp actually need — the teacher's
// Iterator name is kept, and Descriptor is a local rename of its
// GetTupleDesc to read more naturally next to DBFile.Descriptor.
type Operator interface {
	Descriptor() *TupleDesc
	Iterator(tid TransactionID) (func() (*Tuple, error), error)
}

// SliceOperator is a test helper: an Operator over a fixed, in-memory
// slice of tuples, for exercising InsertOp/DeleteOp without a real scan.
//
// Grounded on the teacher's test helper pattern of building an Operator
// by hand around a []*Tuple (used throughout heap_file_test.go and
// column_store_test.go to feed insert/delete operators).
type SliceOperator struct {
	desc   *TupleDesc
	tuples []*Tuple
}

// NewSliceOperator creates a SliceOperator yielding tuples in order.
func NewSliceOperator(desc *TupleDesc, tuples []*Tuple) *SliceOperator {
	return &SliceOperator{desc: desc, tuples: tuples}
}

func (so *SliceOperator) Descriptor() *TupleDesc {
	return so.desc
}

func (so *SliceOperator) Iterator(tid TransactionID) (func() (*Tuple, error), error) {
	i := 0
	return func() (*Tuple, error) {
		if i >= len(so.tuples) {
			return nil, nil
		}
		t := so.tuples[i]
		i++
		return t, nil
	}, nil
}
