package storage

import "sync"

// DefaultPageSize is the page size used unless SetPageSize is called before
// any page is constructed.
const DefaultPageSize = 4096

// DefaultStringLength is the fixed width, in bytes, of a StringType field.
const DefaultStringLength = 32

// DefaultBufferPoolPages is the buffer pool capacity used when a caller does
// not specify one explicitly.
const DefaultBufferPoolPages = 50

var (
	configMu     sync.Mutex
	pageSize     = DefaultPageSize
	stringLength = DefaultStringLength
	configLocked bool
)

// PageSize returns the configured page size in bytes.
func PageSize() int {
	configMu.Lock()
	defer configMu.Unlock()
	return pageSize
}

// StringLength returns the configured fixed width of a StringType field.
func StringLength() int {
	configMu.Lock()
	defer configMu.Unlock()
	return stringLength
}

// SetPageSize configures the page size for the process. It must be called
// before any SlottedPage is constructed or parsed; calling it afterward
// panics, since every page on disk would already assume the old size.
// Constructing a HeapFile alone does not lock the setting.
func SetPageSize(n int) {
	configMu.Lock()
	defer configMu.Unlock()
	if configLocked {
		panic("storage: SetPageSize called after page size was already in use")
	}
	if n <= 0 {
		panic("storage: page size must be positive")
	}
	pageSize = n
}

// SetStringLength configures the fixed width of StringType fields. Like
// SetPageSize, it must be called before any page is constructed.
func SetStringLength(n int) {
	configMu.Lock()
	defer configMu.Unlock()
	if configLocked {
		panic("storage: SetStringLength called after string length was already in use")
	}
	if n <= 0 {
		panic("storage: string length must be positive")
	}
	stringLength = n
}

// lockConfig freezes pageSize/stringLength against further changes. Called
// the first time either value is actually consumed to build a page.
func lockConfig() {
	configMu.Lock()
	defer configMu.Unlock()
	configLocked = true
}
