package storage

import (
	"errors"
	"fmt"
)

// ProjectOp emits a subset (and possible reordering/renaming) of its child's
// fields, optionally suppressing duplicate output rows.
type ProjectOp struct {
	selectFields []Expr
	outputNames  []string
	child        Operator
	distinct     bool
}

// NewProjectOp constructs a projection of selectFields, renamed to
// outputNames (must be the same length), over child.
func NewProjectOp(selectFields []Expr, outputNames []string, distinct bool, child Operator) (*ProjectOp, error) {
	if len(selectFields) != len(outputNames) {
		return nil, errors.New("storage: selectFields and outputNames must be the same length")
	}
	return &ProjectOp{
		selectFields: selectFields,
		outputNames:  outputNames,
		distinct:     distinct,
		child:        child,
	}, nil
}

// Descriptor returns one field per projected expression, named per
// outputNames.
func (p *ProjectOp) Descriptor() *TupleDesc {
	fields := make([]FieldType, len(p.selectFields))
	for i, expr := range p.selectFields {
		ft := expr.GetExprType()
		ft.Fname = p.outputNames[i]
		fields[i] = ft
	}
	return &TupleDesc{Fields: fields}
}

// projectionKey returns a comparable string summarizing a tuple's field
// values, used to de-duplicate rows under DISTINCT-style projection.
func projectionKey(t *Tuple) string {
	return fmt.Sprint(t.Fields)
}

// Iterator evaluates each projected expression against every child tuple,
// skipping tuples whose projected values were already seen when distinct is
// set.
func (p *ProjectOp) Iterator(tid TransactionID) (func() (*Tuple, error), error) {
	childIter, err := p.child.Iterator(tid)
	if err != nil {
		return nil, err
	}
	desc := *p.Descriptor()

	var seen map[string]struct{}
	if p.distinct {
		seen = make(map[string]struct{})
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

			out := &Tuple{Desc: desc, Fields: make([]DBValue, len(p.selectFields))}
			for i, expr := range p.selectFields {
				v, err := expr.EvalExpr(t)
				if err != nil {
					return nil, err
				}
				out.Fields[i] = v
			}

			if p.distinct {
				key := projectionKey(out)
				if _, ok := seen[key]; ok {
					continue
				}
				seen[key] = struct{}{}
			}

			return out, nil
		}
	}, nil
}

var _ Operator = (*ProjectOp)(nil)
