// Package window maps an (offset, count) range of search results onto the
// provider pages that hold it.
package window

import "fmt"

// Window is the page range covering Count results starting at Offset
type Window struct {
	PageSize int
	Offset   int
	Count    int

	StartPage int
	EndPage   int
	// StartIn is the first kept index on StartPage
	StartIn int
	// EndIn is the exclusive end of the kept slice on EndPage
	EndIn int
}

// New computes the window for count results after offset, pageSize per page
func New(pageSize, offset, count int) (Window, error) {
	if pageSize < 1 {
		return Window{}, fmt.Errorf("page size must be positive, got %d", pageSize)
	}
	if offset < 0 {
		return Window{}, fmt.Errorf("offset cannot be negative, got %d", offset)
	}
	if count < 1 {
		return Window{}, fmt.Errorf("count must be at least 1, got %d", count)
	}

	total := offset + count
	w := Window{
		PageSize:  pageSize,
		Offset:    offset,
		Count:     count,
		StartPage: offset/pageSize + 1,
		StartIn:   offset % pageSize,
		EndPage:   total/pageSize + 1,
		EndIn:     floorMod(count-(pageSize-offset%pageSize), pageSize),
	}

	// The end page contributes nothing when the range stops exactly on a
	// page boundary
	if w.EndIn == 0 && w.EndPage > w.StartPage {
		w.EndPage--
		w.EndIn = pageSize
	}
	return w, nil
}

// Pages lists the page numbers to fetch, in order
func (w Window) Pages() []int {
	pages := make([]int, 0, w.EndPage-w.StartPage+1)
	for p := w.StartPage; p <= w.EndPage; p++ {
		pages = append(pages, p)
	}
	return pages
}

// Bounds returns the [lo, hi) slice to keep from page, given that the page
// actually holds n items. Bounds are clamped to n.
func (w Window) Bounds(page, n int) (lo, hi int) {
	lo, hi = 0, n
	if page == w.StartPage {
		lo = w.StartIn
	}
	if page == w.EndPage {
		hi = w.EndIn
	}
	if hi > n {
		hi = n
	}
	if lo > hi {
		lo = hi
	}
	return lo, hi
}

// Apply slices items, the content of page, down to the kept range
func Apply[T any](w Window, page int, items []T) []T {
	lo, hi := w.Bounds(page, len(items))
	return items[lo:hi]
}

func (w Window) String() string {
	return fmt.Sprintf("pages %d..%d, start offset %d, end offset %d", w.StartPage, w.EndPage, w.StartIn, w.EndIn)
}

func floorMod(a, b int) int {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}
