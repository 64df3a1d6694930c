package window

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func page(n, start int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = start + i
	}
	return out
}

// collect plays the window against a provider that always returns full
// pages of sequential result numbers
func collect(t *testing.T, w Window) []int {
	t.Helper()
	var out []int
	for _, p := range w.Pages() {
		items := page(w.PageSize, (p-1)*w.PageSize)
		out = append(out, Apply(w, p, items)...)
	}
	return out
}

func TestNewExamples(t *testing.T) {
	tests := []struct {
		name           string
		offset, count  int
		pages          []int
		startIn, endIn int
		perPage        []int
	}{
		{"whole first page", 0, 80, []int{1}, 0, 80, []int{80}},
		{"crosses one boundary", 10, 100, []int{1, 2}, 10, 30, []int{70, 30}},
		{"four pages", 70, 200, []int{1, 2, 3, 4}, 70, 30, []int{10, 80, 80, 30}},
		{"inside one page", 75, 3, []int{1}, 75, 78, []int{3}},
		{"ends on boundary", 75, 5, []int{1}, 75, 80, []int{5}},
		{"two whole pages", 0, 160, []int{1, 2}, 0, 80, []int{80, 80}},
		{"starts on later page", 160, 5, []int{3}, 0, 5, []int{5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, err := New(80, tt.offset, tt.count)
			require.NoError(t, err)

			assert.Equal(t, tt.pages, w.Pages())
			assert.Equal(t, tt.startIn, w.StartIn)
			assert.Equal(t, tt.endIn, w.EndIn)

			for i, p := range w.Pages() {
				lo, hi := w.Bounds(p, 80)
				assert.Equal(t, tt.perPage[i], hi-lo, "page %d", p)
			}
		})
	}
}

func TestWindowCoversExactRange(t *testing.T) {
	for _, ps := range []int{1, 3, 7, 80} {
		for offset := 0; offset <= 2*ps+1; offset++ {
			for count := 1; count <= 3*ps+1; count++ {
				w, err := New(ps, offset, count)
				require.NoError(t, err)

				got := collect(t, w)
				require.Len(t, got, count, "ps=%d offset=%d count=%d", ps, offset, count)
				assert.Equal(t, offset, got[0])
				assert.Equal(t, offset+count-1, got[len(got)-1])

				pages := w.Pages()
				for i := 1; i < len(pages); i++ {
					assert.Equal(t, pages[i-1]+1, pages[i])
				}
			}
		}
	}
}

func TestBoundsClampToShortPages(t *testing.T) {
	w, err := New(80, 10, 100)
	require.NoError(t, err)

	assert.Equal(t, []int{10, 11}, Apply(w, 1, page(12, 0)))
	assert.Empty(t, Apply(w, 1, page(5, 0)))
	assert.Equal(t, page(4, 80), Apply(w, 2, page(4, 80)))
}

func TestNewRejectsBadInput(t *testing.T) {
	_, err := New(0, 0, 1)
	assert.Error(t, err)
	_, err = New(80, -1, 1)
	assert.Error(t, err)
	_, err = New(80, 0, 0)
	assert.Error(t, err)
}

func TestString(t *testing.T) {
	w, _ := New(80, 10, 100)
	assert.Equal(t, "pages 1..2, start offset 10, end offset 30", w.String())
}
