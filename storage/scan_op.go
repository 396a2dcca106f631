package storage

// ScanOp is the leaf operator of every query plan: it reads every tuple of
// one HeapFile in page order, under tid's locks, by calling that file's
// Iterator. It never touches the LockManager — HeapFile.Iterator fetches
// each page with BufferPool.GetPage, which does the page-by-page SHARED
// acquisition that gives this operator its 2PL behavior.
type ScanOp struct {
	file  *HeapFile
	alias string
}

// NewScanOp constructs a scan over file. alias, if non-empty, becomes the
// TableQualifier of every field in the emitted TupleDesc, so a self-join can
// tell the two sides of the scan apart.
func NewScanOp(file *HeapFile, alias string) *ScanOp {
	return &ScanOp{file: file, alias: alias}
}

// Descriptor returns the scanned file's TupleDesc, qualified by alias.
func (s *ScanOp) Descriptor() *TupleDesc {
	if s.alias == "" {
		return s.file.Descriptor()
	}
	fields := make([]FieldType, len(s.file.Descriptor().Fields))
	for i, f := range s.file.Descriptor().Fields {
		f.TableQualifier = s.alias
		fields[i] = f
	}
	return &TupleDesc{Fields: fields}
}

// Iterator returns a cursor over every tuple in the file, re-stamped with
// this scan's qualified descriptor.
func (s *ScanOp) Iterator(tid TransactionID) (func() (*Tuple, error), error) {
	fileIter, err := s.file.Iterator(tid)
	if err != nil {
		return nil, err
	}
	desc := *s.Descriptor()
	return func() (*Tuple, error) {
		t, err := fileIter()
		if err != nil || t == nil {
			return t, err
		}
		t.Desc = desc
		return t, nil
	}, nil
}

var _ Operator = (*ScanOp)(nil)
