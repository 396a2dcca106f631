package storage

import "fmt"

// RecordID identifies a tuple within a page by value: the page it lives on
// plus its slot index within that page.
type RecordID struct {
	PageID PageID
	SlotNo int
}

func (r RecordID) String() string {
	return fmt.Sprintf("rid(%s,%d)", r.PageID, r.SlotNo)
}
