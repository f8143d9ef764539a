package gridkit_test

import (
	"math"
	"testing"

	gridkit "github.com/gridkit/gridkit"
)

func fixedWindower(itemCount int) *gridkit.Windower {
	w := gridkit.NewWindower(gridkit.WindowerConfig{
		RowHeight:       20,
		ContainerHeight: 200,
		Buffer:          2,
		ScrollThreshold: 10,
	})
	w.Initialize(itemCount)
	return w
}

func TestWindowerFixedRange(t *testing.T) {
	w := fixedWindower(1000)

	rng := w.VisibleRange()
	if rng.Start != 0 {
		t.Errorf("Start = %d, want 0", rng.Start)
	}
	// 10 rows fill the viewport, plus buffer below.
	if rng.End != 12 {
		t.Errorf("End = %d, want 12", rng.End)
	}
	if rng.OffsetTop != 0 {
		t.Errorf("OffsetTop = %v, want 0", rng.OffsetTop)
	}

	w.HandleScroll(400) // row 20 at top
	rng = w.VisibleRange()
	if rng.Start != 18 { // minus buffer
		t.Errorf("Start = %d, want 18", rng.Start)
	}
	if rng.End != 32 { // 20 + 10 visible + 2 buffer
		t.Errorf("End = %d, want 32", rng.End)
	}
}

func TestWindowerSpacerInvariant(t *testing.T) {
	w := fixedWindower(500)
	total := w.TotalHeight()

	for _, scrollTop := range []float64{0, 123, 999, 4321, total - 200} {
		w.HandleScroll(scrollTop)
		rng := w.VisibleRange()

		rendered := float64(rng.End-rng.Start) * 20
		sum := rng.OffsetTop + rendered + rng.OffsetBottom
		if math.Abs(sum-total) > 1e-9 {
			t.Errorf("scrollTop %v: %v + %v + %v = %v, want %v",
				scrollTop, rng.OffsetTop, rendered, rng.OffsetBottom, sum, total)
		}
	}
}

func TestWindowerScrollThreshold(t *testing.T) {
	w := fixedWindower(100)

	if !w.HandleScroll(50) {
		t.Fatal("first scroll should register")
	}
	if w.HandleScroll(55) {
		t.Error("5px delta is below the 10px threshold")
	}
	if !w.HandleScroll(65) {
		t.Error("15px delta should register")
	}
}

func TestWindowerScrollClamped(t *testing.T) {
	w := fixedWindower(100) // total 2000, container 200

	w.HandleScroll(99999)
	if got := w.ScrollTop(); got != 1800 {
		t.Errorf("ScrollTop = %v, want 1800", got)
	}

	w.HandleScroll(-50)
	if got := w.ScrollTop(); got != 0 {
		t.Errorf("ScrollTop = %v, want 0", got)
	}
}

func TestWindowerEmpty(t *testing.T) {
	w := fixedWindower(0)
	rng := w.VisibleRange()
	if rng.Start != 0 || rng.End != 0 || rng.OffsetTop != 0 || rng.OffsetBottom != 0 {
		t.Errorf("empty windower returned %+v", rng)
	}
}

func TestWindowerDynamicHeights(t *testing.T) {
	w := gridkit.NewWindower(gridkit.WindowerConfig{
		RowHeight:       20, // estimate
		ContainerHeight: 100,
		Buffer:          1,
		Dynamic:         true,
	})
	w.Initialize(10)

	if got := w.TotalHeight(); got != 200 {
		t.Fatalf("estimated total = %v, want 200", got)
	}

	// Measure the first three rows taller than the estimate.
	w.SetRowHeight(0, 50)
	w.SetRowHeight(1, 50)
	w.SetRowHeight(2, 50)

	if got := w.TotalHeight(); got != 290 {
		t.Fatalf("total after measurement = %v, want 290", got)
	}

	// scrollTop 60 lands inside row 1 (rows 0..1 span 0-100).
	w.HandleScroll(60)
	rng := w.VisibleRange()
	if rng.Start != 0 { // index 1 minus buffer
		t.Errorf("Start = %d, want 0", rng.Start)
	}
	if rng.End <= rng.Start {
		t.Errorf("empty range %+v", rng)
	}

	// Spacer invariant within cache accuracy.
	total := w.TotalHeight()
	var rendered float64
	heights := []float64{50, 50, 50, 20, 20, 20, 20, 20, 20, 20}
	for i := rng.Start; i < rng.End; i++ {
		rendered += heights[i]
	}
	if math.Abs(rng.OffsetTop+rendered+rng.OffsetBottom-total) > 1e-9 {
		t.Errorf("spacer invariant broken: %+v, total %v", rng, total)
	}
}

func TestWindowerScrollToIndex(t *testing.T) {
	w := fixedWindower(100) // rows 20px, container 200, total 2000

	if got := w.ScrollToIndex(50, gridkit.AlignStart); got != 1000 {
		t.Errorf("start: %v, want 1000", got)
	}
	if got := w.ScrollToIndex(50, gridkit.AlignEnd); got != 820 {
		t.Errorf("end: %v, want 820", got)
	}
	if got := w.ScrollToIndex(50, gridkit.AlignCenter); got != 910 {
		t.Errorf("center: %v, want 910", got)
	}

	// auto: already visible keeps the current position.
	w.HandleScroll(1000)
	if got := w.ScrollToIndex(52, gridkit.AlignAuto); got != 1000 {
		t.Errorf("auto visible: %v, want 1000", got)
	}
	// auto: above the viewport aligns to start.
	if got := w.ScrollToIndex(10, gridkit.AlignAuto); got != 200 {
		t.Errorf("auto above: %v, want 200", got)
	}
	// auto: below the viewport aligns to end.
	if got := w.ScrollToIndex(99, gridkit.AlignAuto); got != 1800 {
		t.Errorf("auto below: %v, want 1800", got)
	}

	// Clamped to the scrollable extent.
	if got := w.ScrollToIndex(0, gridkit.AlignEnd); got != 0 {
		t.Errorf("clamp low: %v, want 0", got)
	}
	if got := w.ScrollToIndex(99, gridkit.AlignStart); got != 1800 {
		t.Errorf("clamp high: %v, want 1800", got)
	}
}

func TestWindowerUpdateDataClampsScroll(t *testing.T) {
	w := fixedWindower(100)
	w.HandleScroll(1800)

	w.UpdateData(20) // total shrinks to 400
	if got := w.ScrollTop(); got != 200 {
		t.Errorf("ScrollTop after shrink = %v, want 200", got)
	}

	rng := w.VisibleRange()
	if rng.End > 20 {
		t.Errorf("End = %d beyond item count", rng.End)
	}
}
