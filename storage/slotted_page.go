package storage

import (
	"bytes"
)

// SlottedPage is the in-memory representation of one page of a HeapFile: a
// little-endian occupancy bitmap (one bit per slot, LSB-first within each
// byte) followed by a fixed-size slot array. Unlike a counted-header layout,
// a bit can be flipped without touching neighboring slots, which is what
// lets DeleteTuple leave every other record's slot number unchanged.
//
// A SlottedPage also carries the NO STEAL / FORCE bookkeeping the buffer
// pool needs: which transaction last dirtied it, and the exact bytes it held
// before that transaction's first write, so an abort can restore them
// without touching disk.
type SlottedPage struct {
	id       PageID
	desc     *TupleDesc
	numSlots int
	bitmap   []byte
	tuples   []*Tuple

	dirty   bool
	dirtyBy TransactionID
	before  []byte
}

func bitmapBytes(numSlots int) int {
	return (numSlots + 7) / 8
}

// numSlotsForDesc computes how many fixed-size slots of desc's shape fit in
// one page alongside their occupancy bitmap. The bitmap's own size depends
// on the slot count, so this solves by estimating and then backing off
// until the bitmap and slot array both fit.
func numSlotsForDesc(desc *TupleDesc) int {
	tupleSize := desc.TupleSize()
	if tupleSize <= 0 {
		return 0
	}
	avail := PageSize()
	n := (avail * 8) / (tupleSize*8 + 1)
	for n > 0 && bitmapBytes(n)+n*tupleSize > avail {
		n--
	}
	if n < 0 {
		n = 0
	}
	return n
}

// NewSlottedPage allocates an empty page of id's identity for rows shaped
// like desc.
func NewSlottedPage(id PageID, desc *TupleDesc) (*SlottedPage, error) {
	n := numSlotsForDesc(desc)
	if n == 0 {
		return nil, newErr(ErrSchemaMismatch, "tuple of size %d does not fit in a %d-byte page", desc.TupleSize(), PageSize())
	}
	lockConfig()
	return &SlottedPage{
		id:       id,
		desc:     desc,
		numSlots: n,
		bitmap:   make([]byte, bitmapBytes(n)),
		tuples:   make([]*Tuple, n),
	}, nil
}

func (p *SlottedPage) slotOccupied(slot int) bool {
	return p.bitmap[slot/8]&(1<<uint(slot%8)) != 0
}

func (p *SlottedPage) setSlot(slot int, occupied bool) {
	mask := byte(1 << uint(slot%8))
	if occupied {
		p.bitmap[slot/8] |= mask
	} else {
		p.bitmap[slot/8] &^= mask
	}
}

// NumEmptySlots returns the number of unoccupied slots remaining.
func (p *SlottedPage) NumEmptySlots() int {
	n := 0
	for slot := 0; slot < p.numSlots; slot++ {
		if !p.slotOccupied(slot) {
			n++
		}
	}
	return n
}

// ID returns the page's identity.
func (p *SlottedPage) ID() PageID {
	return p.id
}

// IsDirty reports whether the page has unflushed writes.
func (p *SlottedPage) IsDirty() bool {
	return p.dirty
}

// DirtiedBy returns the transaction that last dirtied the page. Its value is
// meaningless when IsDirty is false.
func (p *SlottedPage) DirtiedBy() TransactionID {
	return p.dirtyBy
}

// MarkDirty records that tid has modified the page. On the first clean to
// dirty transition it snapshots the page's current bytes as the before
// image, so a later abort can restore exactly what was on disk at the start
// of the transaction. Marking a page clean (dirty=false) happens only after
// a successful flush and discards the before image.
func (p *SlottedPage) MarkDirty(tid TransactionID, dirty bool) error {
	if dirty && !p.dirty {
		buf, err := p.Serialize()
		if err != nil {
			return err
		}
		p.before = append([]byte(nil), buf.Bytes()...)
	}
	p.dirty = dirty
	if dirty {
		p.dirtyBy = tid
	} else {
		p.dirtyBy = TransactionID{}
		p.before = nil
	}
	return nil
}

// BeforeImage returns the bytes the page held immediately before its
// current dirtying transaction's first write, or nil if the page is clean.
func (p *SlottedPage) BeforeImage() []byte {
	return p.before
}

// RestoreBeforeImage replaces the page's contents with its captured before
// image and marks it clean, as happens when a transaction aborts.
func (p *SlottedPage) RestoreBeforeImage() error {
	if p.before == nil {
		return newErr(ErrInvalidPage, "page %s has no before image to restore", p.id)
	}
	restored, err := ParseSlottedPage(p.id, p.desc, bytes.NewBuffer(p.before))
	if err != nil {
		return err
	}
	p.bitmap = restored.bitmap
	p.tuples = restored.tuples
	p.dirty = false
	p.dirtyBy = TransactionID{}
	p.before = nil
	return nil
}

// InsertTuple places t into the first free slot and returns the RecordID it
// was assigned. It does not mark the page dirty; callers (HeapFile) own
// that so a failed downstream step can back out without an inconsistent
// dirty flag.
func (p *SlottedPage) InsertTuple(t *Tuple) (RecordID, error) {
	for slot := 0; slot < p.numSlots; slot++ {
		if p.slotOccupied(slot) {
			continue
		}
		rid := RecordID{PageID: p.id, SlotNo: slot}
		stored := &Tuple{Desc: *p.desc, Fields: t.Fields, Rid: rid}
		p.tuples[slot] = stored
		p.setSlot(slot, true)
		t.Rid = rid
		return rid, nil
	}
	return RecordID{}, newErr(ErrDBFull, "page %s has no empty slot", p.id)
}

// DeleteTuple removes the tuple at rid. It is an error to delete a slot that
// is not currently occupied.
func (p *SlottedPage) DeleteTuple(rid RecordID) error {
	if rid.PageID != p.id {
		return newErr(ErrNotFound, "record %s does not belong to page %s", rid, p.id)
	}
	if rid.SlotNo < 0 || rid.SlotNo >= p.numSlots || !p.slotOccupied(rid.SlotNo) {
		return newErr(ErrNotFound, "slot %d is not occupied on page %s", rid.SlotNo, p.id)
	}
	p.tuples[rid.SlotNo] = nil
	p.setSlot(rid.SlotNo, false)
	return nil
}

// Iterate returns a function yielding every occupied tuple on the page in
// slot order, then nil, nil.
func (p *SlottedPage) Iterate() func() (*Tuple, error) {
	slot := 0
	return func() (*Tuple, error) {
		for slot < p.numSlots {
			s := slot
			slot++
			if p.slotOccupied(s) {
				return p.tuples[s], nil
			}
		}
		return nil, nil
	}
}

// Serialize writes the page's bitmap followed by its fixed-size slot array
// (occupied slots with their tuple bytes, empty slots zero-filled) and pads
// the result to PageSize().
func (p *SlottedPage) Serialize() (*bytes.Buffer, error) {
	buf := new(bytes.Buffer)
	if _, err := buf.Write(p.bitmap); err != nil {
		return nil, err
	}
	slotSize := p.desc.TupleSize()
	for slot := 0; slot < p.numSlots; slot++ {
		if !p.slotOccupied(slot) {
			if _, err := buf.Write(make([]byte, slotSize)); err != nil {
				return nil, err
			}
			continue
		}
		if err := p.tuples[slot].WriteTo(buf); err != nil {
			return nil, err
		}
	}
	if buf.Len() < PageSize() {
		if _, err := buf.Write(make([]byte, PageSize()-buf.Len())); err != nil {
			return nil, err
		}
	}
	return buf, nil
}

// ParseSlottedPage reconstructs a page of id's identity and desc's shape
// from its on-disk bytes.
func ParseSlottedPage(id PageID, desc *TupleDesc, buf *bytes.Buffer) (*SlottedPage, error) {
	n := numSlotsForDesc(desc)
	if n == 0 {
		return nil, newErr(ErrSchemaMismatch, "tuple of size %d does not fit in a %d-byte page", desc.TupleSize(), PageSize())
	}
	lockConfig()
	bitmap := make([]byte, bitmapBytes(n))
	if _, err := buf.Read(bitmap); err != nil {
		return nil, wrapErr(ErrIOError, err, "reading bitmap for page %s", id)
	}
	p := &SlottedPage{
		id:       id,
		desc:     desc,
		numSlots: n,
		bitmap:   bitmap,
		tuples:   make([]*Tuple, n),
	}
	slotSize := desc.TupleSize()
	raw := make([]byte, slotSize)
	for slot := 0; slot < n; slot++ {
		if _, err := buf.Read(raw); err != nil {
			return nil, wrapErr(ErrIOError, err, "reading slot %d of page %s", slot, id)
		}
		if !p.slotOccupied(slot) {
			continue
		}
		tup, err := ReadTupleFrom(bytes.NewBuffer(raw), desc)
		if err != nil {
			return nil, wrapErr(ErrIOError, err, "decoding slot %d of page %s", slot, id)
		}
		tup.Rid = RecordID{PageID: id, SlotNo: slot}
		p.tuples[slot] = tup
	}
	return p, nil
}
