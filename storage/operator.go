package storage

// Operator is the iterator-based query execution interface every operator in
// this package implements: Descriptor reports the shape of the rows it
// produces, Iterator returns a lazy pull-based cursor over them. Operators
// are external collaborators per the component design — every page they
// touch is fetched through BufferPool, and none of them calls LockManager.
// ScanOp reads through HeapFile.Iterator, which fetches each page with
// BufferPool.GetPage; InsertOp and DeleteOp pass their target HeapFile to
// BufferPool.InsertTuple/DeleteTuple.
type Operator interface {
	Descriptor() *TupleDesc
	Iterator(tid TransactionID) (func() (*Tuple, error), error)
}

// drainAll pulls every tuple out of iter. Used by operators (join, order by)
// whose semantics require seeing the whole input before producing any
// output.
func drainAll(iter func() (*Tuple, error)) ([]*Tuple, error) {
	var out []*Tuple
	for {
		t, err := iter()
		if err != nil {
			return nil, err
		}
		if t == nil {
			return out, nil
		}
		out = append(out, t)
	}
}
