package storage

// DeleteOp consumes its child's tuples and deletes each one (by its RecordID)
// from target via the buffer pool, then emits a single one-column "count"
// tuple reporting how many were deleted.
type DeleteOp struct {
	target *HeapFile
	pool   *BufferPool
	child  Operator
	desc   *TupleDesc
}

// NewDeleteOp constructs a delete operator that removes child's rows from
// target through pool.
func NewDeleteOp(pool *BufferPool, target *HeapFile, child Operator) *DeleteOp {
	return &DeleteOp{target: target, pool: pool, child: child, desc: countDesc}
}

// Descriptor is always the one-column "count" descriptor.
func (o *DeleteOp) Descriptor() *TupleDesc {
	return o.desc
}

// Iterator drains the child, deleting every tuple under tid, then yields the
// count tuple exactly once.
func (o *DeleteOp) Iterator(tid TransactionID) (func() (*Tuple, error), error) {
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
			if err := o.pool.DeleteTuple(tid, o.target, t); err != nil {
				return nil, err
			}
			count++
		}
		return &Tuple{Desc: *o.desc, Fields: []DBValue{IntField{Value: count}}}, nil
	}, nil
}

var _ Operator = (*DeleteOp)(nil)
