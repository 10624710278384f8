package godb

// This file defines the types used to represent a tuple's schema and
// contents: DBType, FieldType, TupleDesc, DBValue, and Tuple.

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

// DBType is the type of a tuple field, e.g., IntType or StringType.
type DBType int

const (
	IntType    DBType = iota
	StringType DBType = iota
)

func (t DBType) String() string {
	switch t {
	case IntType:
		return "int"
	case StringType:
		return "string"
	}
	return "unknown"
}

// FieldType is the type of a field in a tuple: its name, the table it
// came from (may be empty), and its DBType.
type FieldType struct {
	Fname          string
	TableQualifier string
	Ftype          DBType
}

// TupleDesc is the schema of a tuple: its field names and types.
type TupleDesc struct {
	Fields []FieldType
}

// ================== Tuple Methods ======================

// DBValue is the interface for tuple field values (IntField, StringField).
// It carries no methods of its own: callers type-switch on the concrete
// field type.
type DBValue interface {
}

// IntField is an integer field value.
type IntField struct {
	Value int64
}

// StringField is a string field value.
type StringField struct {
	Value string
}

// Tuple represents the contents of a tuple read from a database: its
// schema, its field values, and (once read from or written to a page)
// the record identity it lives at.
type Tuple struct {
	Desc   TupleDesc
	Fields []DBValue
	Rid    *RecordID // set once the tuple has a page/slot of record; nil for a freshly-constructed tuple
}

func writeStringField(b *bytes.Buffer, strField StringField) error {
	bytes := []byte(strField.Value)
	make_pad := make([]byte, StringLength)
	copy(make_pad, bytes)
	result := binary.Write(b, binary.LittleEndian, make_pad)
	return result
}

func writeIntField(b *bytes.Buffer, intField IntField) error {
	int_val := int64(intField.Value)
	if err := binary.Write(b, binary.LittleEndian, int_val); err != nil {
		return err
	}
	return nil
}

// writeTo serializes t's fields, in order, into b. Strings are padded to
// StringLength bytes; everything is little-endian.
func (t *Tuple) writeTo(b *bytes.Buffer) error {
	for _, field := range t.Fields {
		switch v := field.(type) {
		case StringField:
			if err := writeStringField(b, v); err != nil {
				return err
			}
		case IntField:
			if err := writeIntField(b, v); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unsupported field type: %T", field)
		}
	}
	return nil
}

func readStringField(b *bytes.Buffer) (StringField, error) {
	make_result := make([]byte, StringLength)
	err := binary.Read(b, binary.LittleEndian, make_result)
	if err != nil {
		return StringField{}, err
	}
	return StringField{Value: strings.TrimRight(string(make_result), "\x00")}, nil
}

func readIntField(b *bytes.Buffer) (IntField, error) {
	var val_int int64
	err := binary.Read(b, binary.LittleEndian, &val_int)
	if err != nil {
		return IntField{}, err
	}
	return IntField{Value: val_int}, nil
}

// readTupleFrom deserializes one tuple matching desc from b.
func readTupleFrom(b *bytes.Buffer, desc *TupleDesc) (*Tuple, error) {
	tuple := &Tuple{Desc: *desc}

	for _, fieldDesc := range desc.Fields {
		switch fieldDesc.Ftype {
		case StringType:
			strField, err := readStringField(b)
			if err != nil {
				return nil, err
			}
			tuple.Fields = append(tuple.Fields, strField)
		default:
			intField, err := readIntField(b)
			if err != nil {
				return nil, err
			}
			tuple.Fields = append(tuple.Fields, intField)
		}
	}
	return tuple, nil
}

// joinTuples returns a new tuple with t2's fields appended after t1's,
// and a merged TupleDesc. Either side may be nil.
func joinTuples(t1 *Tuple, t2 *Tuple) *Tuple {
	if t1 == nil {
		return t2
	}
	if t2 == nil {
		return t1
	}
	mergedTupleDesc := TupleDesc{
		Fields: append(t1.Desc.Fields, t2.Desc.Fields...),
	}
	return &Tuple{
		Desc:   mergedTupleDesc,
		Fields: append(t1.Fields, t2.Fields...),
	}
}

// project returns a new tuple containing only the named fields, matching
// by name (preferring a TableQualifier match when fields has one).
func (t *Tuple) project(fields []FieldType) (*Tuple, error) {
	projected := &Tuple{
		Desc:   TupleDesc{},
		Fields: []DBValue{},
	}
	for _, field := range fields {
		matchedIndex := -1
		for i, descField := range t.Desc.Fields {
			if field.Fname == descField.Fname && field.TableQualifier == descField.TableQualifier {
				matchedIndex = i
				break
			}
		}
		if matchedIndex == -1 {
			for i, descField := range t.Desc.Fields {
				if field.Fname == descField.Fname {
					matchedIndex = i
					break
				}
			}
		}
		if matchedIndex == -1 {
			return nil, fmt.Errorf("field %s.%s not found", field.TableQualifier, field.Fname)
		}
		projected.Fields = append(projected.Fields, t.Fields[matchedIndex])
		projected.Desc.Fields = append(projected.Desc.Fields, t.Desc.Fields[matchedIndex])
	}
	return projected, nil
}

// PrettyPrintString returns a comma-separated string representing the
// tuple's field values, in order.
func (t *Tuple) PrettyPrintString() string {
	outstr := ""
	for i, f := range t.Fields {
		str := ""
		switch f := f.(type) {
		case IntField:
			str = strconv.FormatInt(f.Value, 10)
		case StringField:
			str = f.Value
		}
		sep := ","
		if i == 0 {
			sep = ""
		}
		outstr = fmt.Sprintf("%s%s%s", outstr, sep, str)
	}
	return outstr
}
