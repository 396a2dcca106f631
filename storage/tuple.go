package storage

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"
)

// DBType is the type of a tuple field.
type DBType int

const (
	IntType DBType = iota
	StringType
)

func (t DBType) String() string {
	switch t {
	case IntType:
		return "int"
	case StringType:
		return "string"
	default:
		return "unknown"
	}
}

// FieldType describes one field of a tuple: its name, optional table
// qualifier, and type.
type FieldType struct {
	Fname          string
	TableQualifier string
	Ftype          DBType
}

// TupleDesc is the "type" of a tuple: an ordered list of fields. The
// storage core treats it as opaque beyond TupleSize, which it needs to size
// slots; everything else here exists for the operator layer.
type TupleDesc struct {
	Fields []FieldType
}

// TupleSize returns the fixed number of bytes a Tuple matching this
// TupleDesc occupies once serialized: 8 bytes per IntType field (an int64,
// big-endian per the on-disk format) and StringLength() bytes per
// StringType field.
func (d *TupleDesc) TupleSize() int {
	size := 0
	for _, f := range d.Fields {
		switch f.Ftype {
		case IntType:
			size += 8
		case StringType:
			size += StringLength()
		}
	}
	return size
}

// Equals reports whether two TupleDescs have the same fields in the same
// order.
func (d *TupleDesc) Equals(other *TupleDesc) bool {
	if len(d.Fields) != len(other.Fields) {
		return false
	}
	for i := range d.Fields {
		if d.Fields[i].Fname != other.Fields[i].Fname || d.Fields[i].Ftype != other.Fields[i].Ftype {
			return false
		}
	}
	return true
}

// Copy returns a deep copy of d.
func (d *TupleDesc) Copy() *TupleDesc {
	fields := make([]FieldType, len(d.Fields))
	copy(fields, d.Fields)
	return &TupleDesc{Fields: fields}
}

// Merge returns a new TupleDesc whose fields are d's fields followed by
// other's fields.
func (d *TupleDesc) Merge(other *TupleDesc) *TupleDesc {
	fields := make([]FieldType, 0, len(d.Fields)+len(other.Fields))
	fields = append(fields, d.Fields...)
	fields = append(fields, other.Fields...)
	return &TupleDesc{Fields: fields}
}

// FindField returns the index of the best match for field in d: an exact
// table-qualifier match wins, otherwise the first name match.
func (d *TupleDesc) FindField(field FieldType) (int, error) {
	best := -1
	for i, f := range d.Fields {
		if f.Fname != field.Fname {
			continue
		}
		if f.TableQualifier == field.TableQualifier || best == -1 {
			best = i
		}
	}
	if best == -1 {
		return -1, newErr(ErrNotFound, "field %s.%s not found", field.TableQualifier, field.Fname)
	}
	return best, nil
}

// BoolOp is a comparison operator usable in a predicate.
type BoolOp int

const (
	OpEq BoolOp = iota
	OpNeq
	OpLt
	OpLte
	OpGt
	OpGte
)

// DBValue is the value of one tuple field.
type DBValue interface {
	// EvalPred compares the receiver to v using op.
	EvalPred(v DBValue, op BoolOp) bool
}

// IntField is an integer field value.
type IntField struct {
	Value int64
}

func (f IntField) EvalPred(v DBValue, op BoolOp) bool {
	other, ok := v.(IntField)
	if !ok {
		return false
	}
	return evalOrderedInt(f.Value, other.Value, op)
}

// StringField is a fixed-width string field value.
type StringField struct {
	Value string
}

func (f StringField) EvalPred(v DBValue, op BoolOp) bool {
	other, ok := v.(StringField)
	if !ok {
		return false
	}
	return evalOrderedStr(f.Value, other.Value, op)
}

func evalOrderedInt(a, b int64, op BoolOp) bool {
	switch op {
	case OpEq:
		return a == b
	case OpNeq:
		return a != b
	case OpLt:
		return a < b
	case OpLte:
		return a <= b
	case OpGt:
		return a > b
	case OpGte:
		return a >= b
	default:
		return false
	}
}

func evalOrderedStr(a, b string, op BoolOp) bool {
	switch op {
	case OpEq:
		return a == b
	case OpNeq:
		return a != b
	case OpLt:
		return a < b
	case OpLte:
		return a <= b
	case OpGt:
		return a > b
	case OpGte:
		return a >= b
	default:
		return false
	}
}

// Tuple is a row read from, or destined for, the database: a TupleDesc, the
// field values, and the RecordID it was read from (zero value if it has not
// been placed on a page yet).
type Tuple struct {
	Desc   TupleDesc
	Fields []DBValue
	Rid    RecordID
}

// WriteTo serializes t's fields, in order, into buf. Integers are written
// big-endian per the on-disk format; strings are zero-padded to
// StringLength() bytes.
func (t *Tuple) WriteTo(buf *bytes.Buffer) error {
	for _, field := range t.Fields {
		switch v := field.(type) {
		case IntField:
			if err := binary.Write(buf, binary.BigEndian, v.Value); err != nil {
				return err
			}
		case StringField:
			padded := make([]byte, StringLength())
			copy(padded, v.Value)
			if _, err := buf.Write(padded); err != nil {
				return err
			}
		default:
			return fmt.Errorf("storage: unsupported field type %T", field)
		}
	}
	return nil
}

// ReadTupleFrom reads a tuple matching desc out of buf.
func ReadTupleFrom(buf *bytes.Buffer, desc *TupleDesc) (*Tuple, error) {
	fields := make([]DBValue, 0, len(desc.Fields))
	for _, fd := range desc.Fields {
		switch fd.Ftype {
		case IntType:
			var v int64
			if err := binary.Read(buf, binary.BigEndian, &v); err != nil {
				return nil, err
			}
			fields = append(fields, IntField{Value: v})
		case StringType:
			raw := make([]byte, StringLength())
			if _, err := buf.Read(raw); err != nil {
				return nil, err
			}
			fields = append(fields, StringField{Value: strings.TrimRight(string(raw), "\x00")})
		}
	}
	return &Tuple{Desc: *desc, Fields: fields}, nil
}

// Equals reports whether t and other have equal descriptors and field
// values.
func (t *Tuple) Equals(other *Tuple) bool {
	if t == nil || other == nil {
		return t == other
	}
	if !t.Desc.Equals(&other.Desc) || len(t.Fields) != len(other.Fields) {
		return false
	}
	for i := range t.Fields {
		if t.Fields[i] != other.Fields[i] {
			return false
		}
	}
	return true
}

// Project returns a new Tuple containing only the named fields, preferring
// a table-qualifier match over a bare name match.
func (t *Tuple) Project(fields []FieldType) (*Tuple, error) {
	out := &Tuple{Desc: TupleDesc{}, Fields: make([]DBValue, 0, len(fields))}
	for _, want := range fields {
		idx := -1
		for i, f := range t.Desc.Fields {
			if f.Fname == want.Fname && f.TableQualifier == want.TableQualifier {
				idx = i
				break
			}
		}
		if idx == -1 {
			for i, f := range t.Desc.Fields {
				if f.Fname == want.Fname {
					idx = i
					break
				}
			}
		}
		if idx == -1 {
			return nil, newErr(ErrNotFound, "field %s.%s not found", want.TableQualifier, want.Fname)
		}
		out.Fields = append(out.Fields, t.Fields[idx])
		out.Desc.Fields = append(out.Desc.Fields, t.Desc.Fields[idx])
	}
	return out, nil
}

// JoinTuples returns a new Tuple whose fields are t1's followed by t2's.
func JoinTuples(t1, t2 *Tuple) *Tuple {
	if t1 == nil {
		return t2
	}
	if t2 == nil {
		return t1
	}
	return &Tuple{
		Desc:   *t1.Desc.Merge(&t2.Desc),
		Fields: append(append([]DBValue{}, t1.Fields...), t2.Fields...),
	}
}

// Expr evaluates to a DBValue given a tuple; FieldExpr and ConstExpr are the
// two implementations the operator layer needs.
type Expr interface {
	EvalExpr(t *Tuple) (DBValue, error)
	GetExprType() FieldType
}

// FieldExpr extracts a named field from a tuple.
type FieldExpr struct {
	Field FieldType
}

func (e FieldExpr) GetExprType() FieldType { return e.Field }

func (e FieldExpr) EvalExpr(t *Tuple) (DBValue, error) {
	idx, err := t.Desc.FindField(e.Field)
	if err != nil {
		return nil, err
	}
	return t.Fields[idx], nil
}

// ConstExpr evaluates to a fixed value regardless of the tuple.
type ConstExpr struct {
	Value DBValue
	Ftype DBType
}

func (e ConstExpr) GetExprType() FieldType { return FieldType{Ftype: e.Ftype} }

func (e ConstExpr) EvalExpr(t *Tuple) (DBValue, error) {
	return e.Value, nil
}
