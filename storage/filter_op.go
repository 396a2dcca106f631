package storage

// FilterOp emits only the tuples from its child for which left op right
// evaluates true, where left and right are expressions evaluated against
// each tuple (typically a FieldExpr on one side and a ConstExpr on the
// other).
type FilterOp struct {
	op    BoolOp
	left  Expr
	right Expr
	child Operator
}

// NewFilterOp constructs a filter over child.
func NewFilterOp(left Expr, op BoolOp, right Expr, child Operator) *FilterOp {
	return &FilterOp{op: op, left: left, right: right, child: child}
}

// Descriptor returns the child's descriptor unchanged: filtering never
// changes row shape.
func (f *FilterOp) Descriptor() *TupleDesc {
	return f.child.Descriptor()
}

// Iterator pulls from the child and yields only tuples passing the
// predicate.
func (f *FilterOp) Iterator(tid TransactionID) (func() (*Tuple, error), error) {
	childIter, err := f.child.Iterator(tid)
	if err != nil {
		return nil, err
	}

	return func() (*Tuple, error) {
		for {
			t, err := childIter()
			if err != nil {
				return nil, err
			}
			if t == nil {
				return nil, nil
			}

			leftVal, err := f.left.EvalExpr(t)
			if err != nil {
				return nil, err
			}
			rightVal, err := f.right.EvalExpr(t)
			if err != nil {
				return nil, err
			}
			if leftVal.EvalPred(rightVal, f.op) {
				return t, nil
			}
		}
	}, nil
}

var _ Operator = (*FilterOp)(nil)
