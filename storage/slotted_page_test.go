package storage

import (
	"bytes"
	"testing"

	"github.com/d4l3k/messagediff"
	"github.com/stretchr/testify/require"
)

func twoIntDesc() *TupleDesc {
	return &TupleDesc{Fields: []FieldType{
		{Fname: "a", Ftype: IntType},
		{Fname: "b", Ftype: IntType},
	}}
}

func TestSlotCountFitsBitmapAndSlots(t *testing.T) {
	desc := twoIntDesc()
	n := numSlotsForDesc(desc)
	require.Greater(t, n, 0)
	require.LessOrEqual(t, bitmapBytes(n)+n*desc.TupleSize(), PageSize())
	// one more slot would not fit alongside its bitmap bit.
	require.Greater(t, bitmapBytes(n+1)+(n+1)*desc.TupleSize(), PageSize())
}

func TestSlottedPageInsertThenDeleteRestoresEmptySlots(t *testing.T) {
	desc := twoIntDesc()
	page, err := NewSlottedPage(PageID{TableID: 1, PageNo: 0}, desc)
	require.NoError(t, err)

	before := page.NumEmptySlots()
	require.Greater(t, before, 0)

	rid, err := page.InsertTuple(&Tuple{Desc: *desc, Fields: []DBValue{IntField{Value: 1}, IntField{Value: 2}}})
	require.NoError(t, err)
	require.Equal(t, before-1, page.NumEmptySlots())

	require.NoError(t, page.DeleteTuple(rid))
	require.Equal(t, before, page.NumEmptySlots())
}

func TestSlottedPageInsertUsesLowestFreeSlot(t *testing.T) {
	desc := twoIntDesc()
	page, err := NewSlottedPage(PageID{TableID: 1, PageNo: 0}, desc)
	require.NoError(t, err)

	mk := func(v int64) *Tuple {
		return &Tuple{Desc: *desc, Fields: []DBValue{IntField{Value: v}, IntField{Value: v}}}
	}

	r0, err := page.InsertTuple(mk(0))
	require.NoError(t, err)
	r1, err := page.InsertTuple(mk(1))
	require.NoError(t, err)
	require.Equal(t, 0, r0.SlotNo)
	require.Equal(t, 1, r1.SlotNo)

	require.NoError(t, page.DeleteTuple(r0))
	r2, err := page.InsertTuple(mk(2))
	require.NoError(t, err)
	require.Equal(t, 0, r2.SlotNo, "delete should free the lowest slot for the next insert")
}

func TestSlottedPageDbFullWhenNoEmptySlot(t *testing.T) {
	desc := twoIntDesc()
	page, err := NewSlottedPage(PageID{TableID: 1, PageNo: 0}, desc)
	require.NoError(t, err)

	for page.NumEmptySlots() > 0 {
		_, err := page.InsertTuple(&Tuple{Desc: *desc, Fields: []DBValue{IntField{Value: 1}, IntField{Value: 1}}})
		require.NoError(t, err)
	}

	_, err = page.InsertTuple(&Tuple{Desc: *desc, Fields: []DBValue{IntField{Value: 1}, IntField{Value: 1}}})
	require.Error(t, err)
	var dberr *DBError
	require.ErrorAs(t, err, &dberr)
	require.Equal(t, ErrDBFull, dberr.Kind)
}

func TestSlottedPageDeleteNotFound(t *testing.T) {
	desc := twoIntDesc()
	page, err := NewSlottedPage(PageID{TableID: 1, PageNo: 0}, desc)
	require.NoError(t, err)

	err = page.DeleteTuple(RecordID{PageID: page.id, SlotNo: 0})
	require.Error(t, err)
	var dberr *DBError
	require.ErrorAs(t, err, &dberr)
	require.Equal(t, ErrNotFound, dberr.Kind)
}

func TestSlottedPageSerializeParseRoundTrip(t *testing.T) {
	desc := twoIntDesc()
	page, err := NewSlottedPage(PageID{TableID: 7, PageNo: 3}, desc)
	require.NoError(t, err)

	_, err = page.InsertTuple(&Tuple{Desc: *desc, Fields: []DBValue{IntField{Value: 10}, IntField{Value: 20}}})
	require.NoError(t, err)
	_, err = page.InsertTuple(&Tuple{Desc: *desc, Fields: []DBValue{IntField{Value: 30}, IntField{Value: 40}}})
	require.NoError(t, err)

	buf, err := page.Serialize()
	require.NoError(t, err)
	require.Equal(t, PageSize(), buf.Len())

	parsed, err := ParseSlottedPage(page.id, desc, bytes.NewBuffer(buf.Bytes()))
	require.NoError(t, err)

	require.Equal(t, page.bitmap, parsed.bitmap)
	for i := range page.tuples {
		if page.tuples[i] == nil {
			require.Nil(t, parsed.tuples[i])
			continue
		}
		if diff, equal := messagediff.PrettyDiff(page.tuples[i].Fields, parsed.tuples[i].Fields); !equal {
			t.Fatalf("slot %d changed across round-trip:\n%s", i, diff)
		}
	}
}

func TestSlottedPageMarkDirtyCapturesBeforeImageOnce(t *testing.T) {
	desc := twoIntDesc()
	page, err := NewSlottedPage(PageID{TableID: 1, PageNo: 0}, desc)
	require.NoError(t, err)

	clean, err := page.Serialize()
	require.NoError(t, err)

	tid := NewTransactionID()
	require.NoError(t, page.MarkDirty(tid, true))
	require.Equal(t, clean.Bytes(), page.BeforeImage())

	_, err = page.InsertTuple(&Tuple{Desc: *desc, Fields: []DBValue{IntField{Value: 1}, IntField{Value: 1}}})
	require.NoError(t, err)
	require.NoError(t, page.MarkDirty(tid, true))
	require.Equal(t, clean.Bytes(), page.BeforeImage(), "second MarkDirty must not overwrite the before image")
}

func TestSlottedPageRestoreBeforeImage(t *testing.T) {
	desc := twoIntDesc()
	page, err := NewSlottedPage(PageID{TableID: 1, PageNo: 0}, desc)
	require.NoError(t, err)

	tid := NewTransactionID()
	require.NoError(t, page.MarkDirty(tid, true))
	_, err = page.InsertTuple(&Tuple{Desc: *desc, Fields: []DBValue{IntField{Value: 1}, IntField{Value: 1}}})
	require.NoError(t, err)

	before := page.NumEmptySlots()
	require.NoError(t, page.RestoreBeforeImage())
	require.False(t, page.IsDirty())
	require.Greater(t, page.NumEmptySlots(), before)
}

func TestSlottedPageIterateAscendingSkipsEmpty(t *testing.T) {
	desc := twoIntDesc()
	page, err := NewSlottedPage(PageID{TableID: 1, PageNo: 0}, desc)
	require.NoError(t, err)

	r0, err := page.InsertTuple(&Tuple{Desc: *desc, Fields: []DBValue{IntField{Value: 1}, IntField{Value: 1}}})
	require.NoError(t, err)
	_, err = page.InsertTuple(&Tuple{Desc: *desc, Fields: []DBValue{IntField{Value: 2}, IntField{Value: 2}}})
	require.NoError(t, err)
	require.NoError(t, page.DeleteTuple(r0))

	iter := page.Iterate()
	tup, err := iter()
	require.NoError(t, err)
	require.NotNil(t, tup)
	require.Equal(t, IntField{Value: 2}, tup.Fields[0])

	tup, err = iter()
	require.NoError(t, err)
	require.Nil(t, tup)
}

func TestSlottedPageSchemaMismatchTooWideForPage(t *testing.T) {
	fields := make([]FieldType, 0, 10000)
	for i := 0; i < 10000; i++ {
		fields = append(fields, FieldType{Fname: "x", Ftype: StringType})
	}
	_, err := NewSlottedPage(PageID{TableID: 1, PageNo: 0}, &TupleDesc{Fields: fields})
	require.Error(t, err)
	var dberr *DBError
	require.ErrorAs(t, err, &dberr)
	require.Equal(t, ErrSchemaMismatch, dberr.Kind)
}
