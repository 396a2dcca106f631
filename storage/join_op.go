package storage

import (
	"errors"
	"sort"
)

// EqualityJoinOp is a sort-merge equi-join: it drains and sorts both inputs
// by their join expression, then walks them in lockstep, emitting the cross
// product of every run of equal keys. Blocking but avoids the O(n*m)
// comparisons of a nested-loop join.
type EqualityJoinOp struct {
	left, right           Operator
	leftField, rightField Expr
}

// NewEqualityJoinOp constructs a join of left and right on leftField ==
// rightField. Both expressions must evaluate to the same DBType.
func NewEqualityJoinOp(left Operator, leftField Expr, right Operator, rightField Expr) (*EqualityJoinOp, error) {
	if leftField.GetExprType().Ftype != rightField.GetExprType().Ftype {
		return nil, errors.New("storage: join fields must have the same type")
	}
	return &EqualityJoinOp{left: left, leftField: leftField, right: right, rightField: rightField}, nil
}

// Descriptor is the left descriptor's fields followed by the right's.
func (j *EqualityJoinOp) Descriptor() *TupleDesc {
	return j.left.Descriptor().Merge(j.right.Descriptor())
}

// Iterator drains and sorts both children by their join key, then merges the
// two sorted streams, pairing every tuple in a run of equal left keys with
// every tuple in the matching run of equal right keys.
func (j *EqualityJoinOp) Iterator(tid TransactionID) (func() (*Tuple, error), error) {
	leftIter, err := j.left.Iterator(tid)
	if err != nil {
		return nil, err
	}
	leftTuples, err := drainAll(leftIter)
	if err != nil {
		return nil, err
	}

	rightIter, err := j.right.Iterator(tid)
	if err != nil {
		return nil, err
	}
	rightTuples, err := drainAll(rightIter)
	if err != nil {
		return nil, err
	}

	if err := sortByExpr(leftTuples, j.leftField); err != nil {
		return nil, err
	}
	if err := sortByExpr(rightTuples, j.rightField); err != nil {
		return nil, err
	}

	joined, err := mergeJoin(leftTuples, rightTuples, j.leftField, j.rightField)
	if err != nil {
		return nil, err
	}

	idx := 0
	return func() (*Tuple, error) {
		if idx >= len(joined) {
			return nil, nil
		}
		t := joined[idx]
		idx++
		return t, nil
	}, nil
}

func sortByExpr(tuples []*Tuple, field Expr) error {
	var sortErr error
	sort.SliceStable(tuples, func(i, j int) bool {
		vi, err := field.EvalExpr(tuples[i])
		if err != nil {
			sortErr = err
			return false
		}
		vj, err := field.EvalExpr(tuples[j])
		if err != nil {
			sortErr = err
			return false
		}
		return vi.EvalPred(vj, OpLt)
	})
	return sortErr
}

func mergeJoin(left, right []*Tuple, leftField, rightField Expr) ([]*Tuple, error) {
	var out []*Tuple
	l, r := 0, 0
	for l < len(left) && r < len(right) {
		lv, err := leftField.EvalExpr(left[l])
		if err != nil {
			return nil, err
		}
		rv, err := rightField.EvalExpr(right[r])
		if err != nil {
			return nil, err
		}
		switch {
		case lv.EvalPred(rv, OpLt):
			l++
		case rv.EvalPred(lv, OpLt):
			r++
		default:
			lEnd := equalRunEnd(left, l, leftField)
			rEnd := equalRunEnd(right, r, rightField)
			for i := l; i < lEnd; i++ {
				for k := r; k < rEnd; k++ {
					out = append(out, JoinTuples(left[i], right[k]))
				}
			}
			l, r = lEnd, rEnd
		}
	}
	return out, nil
}

// equalRunEnd returns the index just past the run of tuples starting at
// start whose field value equals tuples[start]'s.
func equalRunEnd(tuples []*Tuple, start int, field Expr) int {
	base, err := field.EvalExpr(tuples[start])
	if err != nil {
		return start + 1
	}
	end := start + 1
	for end < len(tuples) {
		v, err := field.EvalExpr(tuples[end])
		if err != nil || !v.EvalPred(base, OpEq) {
			break
		}
		end++
	}
	return end
}

var _ Operator = (*EqualityJoinOp)(nil)
