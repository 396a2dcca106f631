package storage

// LimitOp emits at most limit tuples from its child, then stops pulling from
// it entirely.
type LimitOp struct {
	child Operator
	limit int64
}

// NewLimitOp constructs a limit of limit tuples over child.
func NewLimitOp(limit int64, child Operator) *LimitOp {
	return &LimitOp{child: child, limit: limit}
}

// Descriptor is the child's descriptor unchanged.
func (l *LimitOp) Descriptor() *TupleDesc {
	return l.child.Descriptor()
}

// Iterator stops yielding once limit tuples have been returned, regardless
// of how many more the child has.
func (l *LimitOp) Iterator(tid TransactionID) (func() (*Tuple, error), error) {
	childIter, err := l.child.Iterator(tid)
	if err != nil {
		return nil, err
	}
	var count int64
	return func() (*Tuple, error) {
		if count >= l.limit {
			return nil, nil
		}
		t, err := childIter()
		if err != nil || t == nil {
			return t, err
		}
		count++
		return t, nil
	}, nil
}

var _ Operator = (*LimitOp)(nil)
