package storage

import "fmt"

// PageID identifies a page within a table by value. Two PageIDs are equal
// iff their TableID and PageNo agree, so PageID is safe to use directly as a
// map key.
type PageID struct {
	TableID int64
	PageNo  int
}

func (p PageID) String() string {
	return fmt.Sprintf("page(%d,%d)", p.TableID, p.PageNo)
}
