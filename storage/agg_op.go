package storage

// AggState accumulates one aggregate function's running value across a
// stream of tuples and produces the final one-field result tuple. Each kind
// of aggregate (COUNT, SUM, AVG, MIN, MAX) is a separate implementation so
// AggregateOp can hold a slice of them, one per SELECTed aggregate
// expression, and fan every input tuple out to all of them.
type AggState interface {
	// Init resets the state for a fresh computation. alias names the output
	// field; expr extracts the value to aggregate from each input tuple.
	Init(alias string, expr Expr) error
	// Copy returns a fresh, empty accumulator with the same alias and expr
	// (running values are not copied), used to start a new per-group
	// accumulator without re-evaluating Init's arguments.
	Copy() AggState
	// AddTuple folds t into the running aggregate.
	AddTuple(t *Tuple)
	// Finalize returns the one-field result tuple.
	Finalize() *Tuple
	// GetTupleDesc returns the descriptor Finalize's tuple will have.
	GetTupleDesc() *TupleDesc
}

// CountAggState implements COUNT(expr): the number of input tuples seen.
type CountAggState struct {
	alias string
	expr  Expr
	count int64
}

func (a *CountAggState) Init(alias string, expr Expr) error {
	a.alias, a.expr, a.count = alias, expr, 0
	return nil
}
func (a *CountAggState) Copy() AggState          { return &CountAggState{alias: a.alias, expr: a.expr} }
func (a *CountAggState) AddTuple(t *Tuple)       { a.count++ }
func (a *CountAggState) GetTupleDesc() *TupleDesc {
	return &TupleDesc{Fields: []FieldType{{Fname: a.alias, Ftype: IntType}}}
}
func (a *CountAggState) Finalize() *Tuple {
	return &Tuple{Desc: *a.GetTupleDesc(), Fields: []DBValue{IntField{Value: a.count}}}
}

// SumAggState implements SUM(expr) over integer-valued expr.
type SumAggState struct {
	alias string
	expr  Expr
	sum   int64
}

func (a *SumAggState) Init(alias string, expr Expr) error {
	a.alias, a.expr, a.sum = alias, expr, 0
	return nil
}
func (a *SumAggState) Copy() AggState { return &SumAggState{alias: a.alias, expr: a.expr} }
func (a *SumAggState) AddTuple(t *Tuple) {
	v, err := a.expr.EvalExpr(t)
	if err != nil {
		return
	}
	if iv, ok := v.(IntField); ok {
		a.sum += iv.Value
	}
}
func (a *SumAggState) GetTupleDesc() *TupleDesc {
	return &TupleDesc{Fields: []FieldType{{Fname: a.alias, Ftype: IntType}}}
}
func (a *SumAggState) Finalize() *Tuple {
	return &Tuple{Desc: *a.GetTupleDesc(), Fields: []DBValue{IntField{Value: a.sum}}}
}

// AvgAggState implements AVG(expr) as integer division, truncated toward
// zero, of the running sum by the running count, 0 if no integer values
// were seen.
type AvgAggState struct {
	alias string
	expr  Expr
	sum   int64
	count int64
}

func (a *AvgAggState) Init(alias string, expr Expr) error {
	a.alias, a.expr, a.sum, a.count = alias, expr, 0, 0
	return nil
}
func (a *AvgAggState) Copy() AggState { return &AvgAggState{alias: a.alias, expr: a.expr} }
func (a *AvgAggState) AddTuple(t *Tuple) {
	v, err := a.expr.EvalExpr(t)
	if err != nil {
		return
	}
	if iv, ok := v.(IntField); ok {
		a.sum += iv.Value
		a.count++
	}
}
func (a *AvgAggState) GetTupleDesc() *TupleDesc {
	return &TupleDesc{Fields: []FieldType{{Fname: a.alias, Ftype: IntType}}}
}
func (a *AvgAggState) Finalize() *Tuple {
	var avg int64
	if a.count > 0 {
		avg = a.sum / a.count
	}
	return &Tuple{Desc: *a.GetTupleDesc(), Fields: []DBValue{IntField{Value: avg}}}
}

// MaxAggState implements MAX(expr) over any ordered DBValue.
type MaxAggState struct {
	alias string
	expr  Expr
	max   DBValue
}

func (a *MaxAggState) Init(alias string, expr Expr) error {
	a.alias, a.expr, a.max = alias, expr, nil
	return nil
}
func (a *MaxAggState) Copy() AggState { return &MaxAggState{alias: a.alias, expr: a.expr} }
func (a *MaxAggState) AddTuple(t *Tuple) {
	v, err := a.expr.EvalExpr(t)
	if err != nil {
		return
	}
	if a.max == nil || v.EvalPred(a.max, OpGt) {
		a.max = v
	}
}
func (a *MaxAggState) GetTupleDesc() *TupleDesc {
	return &TupleDesc{Fields: []FieldType{{Fname: a.alias, Ftype: a.expr.GetExprType().Ftype}}}
}
func (a *MaxAggState) Finalize() *Tuple {
	return &Tuple{Desc: *a.GetTupleDesc(), Fields: []DBValue{a.max}}
}

// MinAggState implements MIN(expr) over any ordered DBValue.
type MinAggState struct {
	alias string
	expr  Expr
	min   DBValue
}

func (a *MinAggState) Init(alias string, expr Expr) error {
	a.alias, a.expr, a.min = alias, expr, nil
	return nil
}
func (a *MinAggState) Copy() AggState { return &MinAggState{alias: a.alias, expr: a.expr} }
func (a *MinAggState) AddTuple(t *Tuple) {
	v, err := a.expr.EvalExpr(t)
	if err != nil {
		return
	}
	if a.min == nil || v.EvalPred(a.min, OpLt) {
		a.min = v
	}
}
func (a *MinAggState) GetTupleDesc() *TupleDesc {
	return &TupleDesc{Fields: []FieldType{{Fname: a.alias, Ftype: a.expr.GetExprType().Ftype}}}
}
func (a *MinAggState) Finalize() *Tuple {
	return &Tuple{Desc: *a.GetTupleDesc(), Fields: []DBValue{a.min}}
}

// AggregateOp groups its child's tuples by groupBy (if any) and, within each
// group, runs every state in states independently, emitting one output
// tuple per group (or a single tuple for the whole input if groupBy is
// empty). It is a blocking operator: it must see every input tuple of a
// group before it can emit that group's result.
type AggregateOp struct {
	child   Operator
	states  []AggState
	groupBy []Expr
}

// NewAggregateOp constructs an aggregate of states over child, grouped by
// groupBy (empty for a single whole-table aggregate).
func NewAggregateOp(child Operator, states []AggState, groupBy []Expr) *AggregateOp {
	return &AggregateOp{child: child, states: states, groupBy: groupBy}
}

// Descriptor is the group-by fields' types, if any, followed by one field
// per aggregate state.
func (a *AggregateOp) Descriptor() *TupleDesc {
	fields := make([]FieldType, 0, len(a.groupBy)+len(a.states))
	for _, g := range a.groupBy {
		fields = append(fields, g.GetExprType())
	}
	for _, s := range a.states {
		fields = append(fields, s.GetTupleDesc().Fields[0])
	}
	return &TupleDesc{Fields: fields}
}

// groupKey returns a comparable key for t's group-by values.
func (a *AggregateOp) groupKey(t *Tuple) (string, []DBValue, error) {
	vals := make([]DBValue, len(a.groupBy))
	for i, g := range a.groupBy {
		v, err := g.EvalExpr(t)
		if err != nil {
			return "", nil, err
		}
		vals[i] = v
	}
	return projectionKey(&Tuple{Fields: vals}), vals, nil
}

// Iterator drains the child, folding each tuple into its group's states, then
// emits one result tuple per group.
func (a *AggregateOp) Iterator(tid TransactionID) (func() (*Tuple, error), error) {
	childIter, err := a.child.Iterator(tid)
	if err != nil {
		return nil, err
	}

	type group struct {
		keyVals []DBValue
		states  []AggState
	}
	order := make([]string, 0)
	groups := make(map[string]*group)

	for {
		t, err := childIter()
		if err != nil {
			return nil, err
		}
		if t == nil {
			break
		}
		key, keyVals, err := a.groupKey(t)
		if err != nil {
			return nil, err
		}
		g, ok := groups[key]
		if !ok {
			g = &group{keyVals: keyVals, states: make([]AggState, len(a.states))}
			for i, s := range a.states {
				g.states[i] = s.Copy()
			}
			groups[key] = g
			order = append(order, key)
		}
		for _, s := range g.states {
			s.AddTuple(t)
		}
	}

	// A whole-table aggregate (no groupBy) still produces one row even when
	// the child yielded nothing at all, e.g. COUNT(*) over an empty table is
	// 0, not zero rows.
	if len(a.groupBy) == 0 && len(order) == 0 {
		g := &group{states: make([]AggState, len(a.states))}
		for i, s := range a.states {
			g.states[i] = s.Copy()
		}
		groups[""] = g
		order = append(order, "")
	}

	desc := *a.Descriptor()
	idx := 0
	return func() (*Tuple, error) {
		if idx >= len(order) {
			return nil, nil
		}
		g := groups[order[idx]]
		idx++
		fields := append([]DBValue{}, g.keyVals...)
		for _, s := range g.states {
			fields = append(fields, s.Finalize().Fields[0])
		}
		return &Tuple{Desc: desc, Fields: fields}, nil
	}, nil
}

var _ Operator = (*AggregateOp)(nil)
