package gridkit

import (
	"math"
	"sort"
	"sync"
)

// Alignment positions a target row within the viewport for ScrollToIndex.
type Alignment string

const (
	AlignStart  Alignment = "start"
	AlignCenter Alignment = "center"
	AlignEnd    Alignment = "end"
	// AlignAuto scrolls only when the target row is outside the current
	// viewport, using the nearest edge.
	AlignAuto Alignment = "auto"
)

// VisibleRange is the materialized window: rows [Start, End) plus the
// spacer heights above and below them.
type VisibleRange struct {
	Start        int
	End          int
	OffsetTop    float64
	OffsetBottom float64
}

// WindowerConfig configures a Windower.
type WindowerConfig struct {
	// RowHeight is the fixed row height, or the estimate used for
	// unmeasured rows in dynamic mode (default: 32).
	RowHeight float64
	// ContainerHeight is the viewport height in pixels (default: 400).
	ContainerHeight float64
	// Buffer is the number of extra rows kept rendered on each side of
	// the viewport (default: 3).
	Buffer int
	// Overscan extends the bottom edge by additional rows (default: 0).
	Overscan int
	// ScrollThreshold suppresses recomputation for scroll deltas smaller
	// than this many pixels (default: 10).
	ScrollThreshold float64
	// Dynamic enables the per-row height cache and prefix-sum lookup.
	Dynamic bool
}

// Windower computes the visible index range for a scrollable list. Fixed
// mode is pure arithmetic; dynamic mode maintains a per-row height cache
// with prefix sums and binary search.
type Windower struct {
	mu  sync.Mutex
	cfg WindowerConfig

	itemCount int
	scrollTop float64

	// Dynamic mode state. prefix has itemCount+1 entries and is rebuilt
	// lazily after height updates.
	heights     []float64
	prefix      []float64
	prefixDirty bool
}

// NewWindower creates a windower with zero items; call Initialize or
// UpdateData before reading ranges.
func NewWindower(cfg WindowerConfig) *Windower {
	if cfg.RowHeight <= 0 {
		cfg.RowHeight = 32
	}
	if cfg.ContainerHeight <= 0 {
		cfg.ContainerHeight = 400
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 3
	}
	if cfg.ScrollThreshold <= 0 {
		cfg.ScrollThreshold = 10
	}
	return &Windower{cfg: cfg}
}

// Initialize sets the item count and resets scroll position and the
// height cache.
func (w *Windower) Initialize(itemCount int) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.itemCount = maxInt(itemCount, 0)
	w.scrollTop = 0
	w.resetHeightsLocked()
}

// UpdateData adjusts the item count, preserving measured heights for
// surviving indices and clamping the scroll position to the new extent.
func (w *Windower) UpdateData(itemCount int) {
	w.mu.Lock()
	defer w.mu.Unlock()

	itemCount = maxInt(itemCount, 0)
	if w.cfg.Dynamic {
		switch {
		case itemCount < len(w.heights):
			w.heights = w.heights[:itemCount]
		case itemCount > len(w.heights):
			for i := len(w.heights); i < itemCount; i++ {
				w.heights = append(w.heights, w.cfg.RowHeight)
			}
		}
		w.prefixDirty = true
	}
	w.itemCount = itemCount
	w.scrollTop = w.clampScrollLocked(w.scrollTop)
}

// HandleScroll records a new scroll offset. It returns false when the
// delta is below the scroll threshold and the window is unchanged, which
// lets callers skip re-rendering on sub-pixel scroll noise.
func (w *Windower) HandleScroll(scrollTop float64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	scrollTop = w.clampScrollLocked(scrollTop)
	if math.Abs(scrollTop-w.scrollTop) < w.cfg.ScrollThreshold {
		return false
	}
	w.scrollTop = scrollTop
	return true
}

// SetRowHeight records a measured height for one row. Only meaningful in
// dynamic mode; ignored otherwise and for out-of-range indices.
func (w *Windower) SetRowHeight(index int, height float64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.cfg.Dynamic || index < 0 || index >= len(w.heights) || height <= 0 {
		return
	}
	if w.heights[index] == height {
		return
	}
	w.heights[index] = height
	w.prefixDirty = true
}

// SetContainerHeight resizes the viewport.
func (w *Windower) SetContainerHeight(height float64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if height > 0 {
		w.cfg.ContainerHeight = height
		w.scrollTop = w.clampScrollLocked(w.scrollTop)
	}
}

// TotalHeight is the full scrollable extent.
func (w *Windower) TotalHeight() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.totalHeightLocked()
}

// ScrollTop returns the current (clamped) scroll offset.
func (w *Windower) ScrollTop() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.scrollTop
}

// VisibleRange computes the window for the current scroll position. The
// invariant OffsetTop + height(rows in range) + OffsetBottom == TotalHeight
// holds exactly in fixed mode and within cache accuracy in dynamic mode.
func (w *Windower) VisibleRange() VisibleRange {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.itemCount == 0 {
		return VisibleRange{}
	}

	var start, end int
	if w.cfg.Dynamic {
		w.rebuildPrefixLocked()
		start = w.indexAtOffsetLocked(w.scrollTop)
		end = w.indexAtOffsetLocked(w.scrollTop+w.cfg.ContainerHeight) + 1
	} else {
		start = int(w.scrollTop / w.cfg.RowHeight)
		end = start + int(math.Ceil(w.cfg.ContainerHeight/w.cfg.RowHeight))
	}

	start = clampInt(start-w.cfg.Buffer, 0, w.itemCount)
	end = clampInt(end+w.cfg.Buffer+w.cfg.Overscan, start, w.itemCount)

	return VisibleRange{
		Start:        start,
		End:          end,
		OffsetTop:    w.offsetOfLocked(start),
		OffsetBottom: w.totalHeightLocked() - w.offsetOfLocked(end),
	}
}

// ScrollToIndex computes the scroll offset that brings index into view
// with the requested alignment, clamped to the valid scroll extent. It
// does not mutate the current scroll position; feed the result to
// HandleScroll.
func (w *Windower) ScrollToIndex(index int, align Alignment) float64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.itemCount == 0 {
		return 0
	}
	index = clampInt(index, 0, w.itemCount-1)
	if w.cfg.Dynamic {
		w.rebuildPrefixLocked()
	}

	rowTop := w.offsetOfLocked(index)
	rowBottom := w.offsetOfLocked(index + 1)
	rowHeight := rowBottom - rowTop

	var target float64
	switch align {
	case AlignCenter:
		target = rowTop - (w.cfg.ContainerHeight-rowHeight)/2
	case AlignEnd:
		target = rowBottom - w.cfg.ContainerHeight
	case AlignAuto:
		viewTop := w.scrollTop
		viewBottom := w.scrollTop + w.cfg.ContainerHeight
		switch {
		case rowTop >= viewTop && rowBottom <= viewBottom:
			return w.scrollTop // already fully visible
		case rowTop < viewTop:
			target = rowTop
		default:
			target = rowBottom - w.cfg.ContainerHeight
		}
	default: // AlignStart
		target = rowTop
	}

	return w.clampScrollLocked(target)
}

func (w *Windower) resetHeightsLocked() {
	if !w.cfg.Dynamic {
		w.heights = nil
		w.prefix = nil
		return
	}
	w.heights = make([]float64, w.itemCount)
	for i := range w.heights {
		w.heights[i] = w.cfg.RowHeight
	}
	w.prefixDirty = true
}

func (w *Windower) rebuildPrefixLocked() {
	if !w.prefixDirty && len(w.prefix) == len(w.heights)+1 {
		return
	}
	w.prefix = make([]float64, len(w.heights)+1)
	for i, h := range w.heights {
		w.prefix[i+1] = w.prefix[i] + h
	}
	w.prefixDirty = false
}

// indexAtOffsetLocked finds the row containing the vertical offset via
// binary search over the prefix sums. Requires a fresh prefix.
func (w *Windower) indexAtOffsetLocked(offset float64) int {
	if offset <= 0 {
		return 0
	}
	// First index whose cumulative end exceeds offset.
	i := sort.Search(w.itemCount, func(i int) bool {
		return w.prefix[i+1] > offset
	})
	return clampInt(i, 0, w.itemCount-1)
}

func (w *Windower) offsetOfLocked(index int) float64 {
	if w.cfg.Dynamic {
		index = clampInt(index, 0, len(w.prefix)-1)
		return w.prefix[index]
	}
	return float64(clampInt(index, 0, w.itemCount)) * w.cfg.RowHeight
}

func (w *Windower) totalHeightLocked() float64 {
	if w.cfg.Dynamic {
		w.rebuildPrefixLocked()
		if len(w.prefix) == 0 {
			return 0
		}
		return w.prefix[len(w.prefix)-1]
	}
	return float64(w.itemCount) * w.cfg.RowHeight
}

func (w *Windower) clampScrollLocked(scrollTop float64) float64 {
	max := w.totalHeightLocked() - w.cfg.ContainerHeight
	if max < 0 {
		max = 0
	}
	if scrollTop < 0 {
		return 0
	}
	if scrollTop > max {
		return max
	}
	return scrollTop
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
