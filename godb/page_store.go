package godb

import (
	"fmt"
	"io"
	"os"
)

// PageStore is the leaf component of §4.1: durable, byte-addressed page
// I/O against a catalog of tables. It has no notion of transactions,
// locking, or caching — it only knows how to turn (table, page number)
// into bytes and back.
//
// Grounded on the teacher's HeapFile.readPage/flushPage, which opened the
// backing file with os.OpenFile per call rather than holding a long-lived
// handle; §5 requires exactly that ("The PageStore's file handles are
// opened per operation, no long-lived handle sharing"), so that behavior
// is kept rather than "fixed".
type PageStore struct {
	catalog *Catalog
}

// NewPageStore creates a PageStore backed by the given Catalog.
func NewPageStore(catalog *Catalog) *PageStore {
	return &PageStore{catalog: catalog}
}

// NumPages returns the number of PageSize pages currently in the table's
// backing file, counting a trailing partial page as one page.
func (ps *PageStore) NumPages(tableID TableID) (int, error) {
	path, ok := ps.catalog.Path(tableID)
	if !ok {
		return 0, newInvalidRequestError(fmt.Sprintf("page store: unknown table %d", tableID))
	}
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, newStorageError(fmt.Sprintf("page store: stat %s: %v", path, err))
	}
	n := int(info.Size() / PageSize)
	if info.Size()%PageSize != 0 {
		n++
	}
	return n, nil
}

// ReadPage returns the raw PageSize-byte image of the requested page. If
// pageNo names a page at or beyond the file's current extent, the file is
// extended with a zero-filled page (incrementing the table's page count)
// and that zero image is returned, per §4.1.
func (ps *PageStore) ReadPage(id PageId) ([]byte, error) {
	path, ok := ps.catalog.Path(id.TableID)
	if !ok {
		return nil, newInvalidRequestError(fmt.Sprintf("page store: unknown table %d", id.TableID))
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0666)
	if err != nil {
		return nil, newStorageError(fmt.Sprintf("page store: open %s: %v", path, err))
	}
	defer file.Close()

	numPages, err := ps.NumPages(id.TableID)
	if err != nil {
		return nil, err
	}

	data := make([]byte, PageSize)
	if id.PageNo >= numPages {
		// Extend the file with a zero-filled page and return it.
		if _, err := file.WriteAt(data, int64(id.PageNo)*PageSize); err != nil {
			return nil, newStorageError(fmt.Sprintf("page store: extend %s: %v", path, err))
		}
		return data, nil
	}

	if _, err := file.ReadAt(data, int64(id.PageNo)*PageSize); err != nil && err != io.EOF {
		return nil, newStorageError(fmt.Sprintf("page store: read %s: %v", path, err))
	}
	return data, nil
}

// WritePage seeks to page.ID().PageNo's offset and writes the page's
// serialized byte image. The file is never truncated.
func (ps *PageStore) WritePage(page Page) error {
	id := page.ID()
	path, ok := ps.catalog.Path(id.TableID)
	if !ok {
		return newInvalidRequestError(fmt.Sprintf("page store: unknown table %d", id.TableID))
	}

	buf, err := page.toBuffer()
	if err != nil {
		return newInvalidRequestError(fmt.Sprintf("page store: serialize page %v: %v", id, err))
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0666)
	if err != nil {
		return newStorageError(fmt.Sprintf("page store: open %s: %v", path, err))
	}
	defer file.Close()

	if _, err := file.WriteAt(buf, int64(id.PageNo)*PageSize); err != nil {
		return newStorageError(fmt.Sprintf("page store: write %s: %v", path, err))
	}
	return nil
}
