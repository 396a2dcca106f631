package storage

import "sort"

// OrderByOp sorts its child's output by one or more expressions before
// emitting it. It is a blocking operator: the first call into its iterator
// drains the entire child, sorts in memory, then replays tuples one at a
// time.
type OrderByOp struct {
	orderBy   []Expr
	ascending []bool
	child     Operator
}

// NewOrderByOp constructs a sort over child by orderBy, with ascending[i]
// controlling the sort direction of orderBy[i] (true = ascending).
func NewOrderByOp(orderBy []Expr, ascending []bool, child Operator) (*OrderByOp, error) {
	return &OrderByOp{orderBy: orderBy, ascending: ascending, child: child}, nil
}

// Descriptor is the child's descriptor unchanged: sorting reorders rows, not
// fields.
func (o *OrderByOp) Descriptor() *TupleDesc {
	return o.child.Descriptor()
}

// Iterator drains, sorts, then replays the child's tuples.
func (o *OrderByOp) Iterator(tid TransactionID) (func() (*Tuple, error), error) {
	childIter, err := o.child.Iterator(tid)
	if err != nil {
		return nil, err
	}
	all, err := drainAll(childIter)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(all, func(i, j int) bool {
		return o.less(all[i], all[j])
	})

	idx := 0
	return func() (*Tuple, error) {
		if idx >= len(all) {
			return nil, nil
		}
		t := all[idx]
		idx++
		return t, nil
	}, nil
}

func (o *OrderByOp) less(a, b *Tuple) bool {
	for i, expr := range o.orderBy {
		va, errA := expr.EvalExpr(a)
		vb, errB := expr.EvalExpr(b)
		if errA != nil || errB != nil {
			return false
		}
		if va.EvalPred(vb, OpEq) {
			continue
		}
		if o.ascending[i] {
			return va.EvalPred(vb, OpLt)
		}
		return va.EvalPred(vb, OpGt)
	}
	return false
}

var _ Operator = (*OrderByOp)(nil)
