package storage

// InsertOp consumes its child's tuples and inserts each one into target via
// the buffer pool, then emits a single one-column "count" tuple reporting
// how many were inserted.
type InsertOp struct {
	target *HeapFile
	pool   *BufferPool
	child  Operator
	desc   *TupleDesc
}

var countDesc = &TupleDesc{Fields: []FieldType{{Fname: "count", Ftype: IntType}}}

// NewInsertOp constructs an insert operator that inserts child's rows into
// target through pool.
func NewInsertOp(pool *BufferPool, target *HeapFile, child Operator) *InsertOp {
	return &InsertOp{target: target, pool: pool, child: child, desc: countDesc}
}

// Descriptor is always the one-column "count" descriptor.
func (o *InsertOp) Descriptor() *TupleDesc {
	return o.desc
}

// Iterator drains the child, inserting every tuple under tid, then yields
// the count tuple exactly once.
func (o *InsertOp) Iterator(tid TransactionID) (func() (*Tuple, error), error) {
	childIter, err := o.child.Iterator(tid)
	if err != nil {
		return nil, err
	}

	done := false
	return func() (*Tuple, error) {
		if done {
			return nil, nil
		}
		done = true

		var count int64
		for {
			t, err := childIter()
			if err != nil {
				return nil, err
			}
			if t == nil {
				break
			}
			if _, err := o.pool.InsertTuple(tid, o.target, t); err != nil {
				return nil, err
			}
			count++
		}
		return &Tuple{Desc: *o.desc, Fields: []DBValue{IntField{Value: count}}}, nil
	}, nil
}

var _ Operator = (*InsertOp)(nil)
