package gridkit_test

import (
	"fmt"
	"testing"

	gridkit "github.com/gridkit/gridkit"
)

func seedRows(n int) []gridkit.Row {
	rows := make([]gridkit.Row, n)
	for i := 0; i < n; i++ {
		rows[i] = gridkit.Row{
			"id":   fmt.Sprintf("row-%d", i+1),
			"age":  20 + i*5,
			"name": fmt.Sprintf("user %d", i+1),
		}
	}
	return rows
}

func newState(pageSize int, rows []gridkit.Row) *gridkit.TableState {
	s := gridkit.NewTableState(gridkit.StateConfig{PageSize: pageSize})
	s.SetData(rows)
	return s
}

func TestStatePagination(t *testing.T) {
	s := newState(5, seedRows(10))

	if got := s.TotalPages(); got != 2 {
		t.Fatalf("TotalPages = %d, want 2", got)
	}

	page0 := s.PaginatedData()
	if len(page0) != 5 {
		t.Fatalf("page 0 has %d rows, want 5", len(page0))
	}

	s.SetPage(1)
	page1 := s.PaginatedData()
	if len(page1) != 5 {
		t.Fatalf("page 1 has %d rows, want 5", len(page1))
	}

	// Every row appears on exactly one page.
	seen := map[string]bool{}
	for _, r := range append(page0, page1...) {
		if seen[r.ID()] {
			t.Errorf("row %s appears on two pages", r.ID())
		}
		seen[r.ID()] = true
	}
	if len(seen) != 10 {
		t.Errorf("pages cover %d rows, want 10", len(seen))
	}
}

func TestStateSetPageOutOfRangeIsNoOp(t *testing.T) {
	s := newState(5, seedRows(10))

	s.SetPage(2) // valid pages are 0 and 1
	if got := s.CurrentPage(); got != 0 {
		t.Errorf("CurrentPage = %d, want 0 after rejected SetPage", got)
	}
	s.SetPage(-1)
	if got := s.CurrentPage(); got != 0 {
		t.Errorf("CurrentPage = %d, want 0 after negative SetPage", got)
	}

	s.SetPage(1)
	if got := s.CurrentPage(); got != 1 {
		t.Errorf("CurrentPage = %d, want 1", got)
	}
}

func TestStateSetPageSize(t *testing.T) {
	s := newState(5, seedRows(10))
	s.SetPage(1)

	s.SetPageSize(3)
	if got := s.CurrentPage(); got != 0 {
		t.Errorf("page size change must reset to page 0, got %d", got)
	}
	if got := s.TotalPages(); got != 4 {
		t.Errorf("TotalPages = %d, want 4", got)
	}

	s.SetPageSize(0) // rejected
	if got := s.PageSize(); got != 3 {
		t.Errorf("PageSize = %d, want 3 after rejected size", got)
	}
}

func TestStateFilterResetsPage(t *testing.T) {
	s := newState(5, seedRows(10))
	s.SetPage(1)

	s.AddFilter(gridkit.Filter{Column: "age", Operator: gridkit.OpGreaterThan, Value: 30})
	if got := s.CurrentPage(); got != 0 {
		t.Errorf("CurrentPage = %d, want 0 after AddFilter", got)
	}
	// ages are 20,25,...,65: seven rows above 30.
	if got := s.FilteredCount(); got != 7 {
		t.Errorf("FilteredCount = %d, want 7", got)
	}
	if got := s.TotalPages(); got != 2 {
		t.Errorf("TotalPages = %d, want 2", got)
	}

	s.ClearFilters()
	if got := s.FilteredCount(); got != 10 {
		t.Errorf("FilteredCount = %d, want 10 after clear", got)
	}
}

func TestStateFilterReplacesSameColumn(t *testing.T) {
	s := newState(50, seedRows(10))

	s.AddFilter(gridkit.Filter{Column: "age", Operator: gridkit.OpGreaterThan, Value: 30})
	s.AddFilter(gridkit.Filter{Column: "age", Operator: gridkit.OpGreaterThan, Value: 60})

	if got := len(s.Filters()); got != 1 {
		t.Fatalf("expected 1 filter, got %d", got)
	}
	if got := s.FilteredCount(); got != 1 { // only age 65
		t.Errorf("FilteredCount = %d, want 1", got)
	}
}

func TestStateSortedData(t *testing.T) {
	s := newState(50, nil)
	s.SetData([]gridkit.Row{
		{"id": "a", "age": 40},
		{"id": "b", "age": 25},
		{"id": "c", "age": 35},
	})

	s.SetSort(gridkit.Sort{Column: "age", Direction: gridkit.SortDesc})
	assertOrder(t, s.SortedData(), "a", "c", "b")

	// Setting a new sort replaces the old one.
	s.SetSort(gridkit.Sort{Column: "id", Direction: gridkit.SortAsc})
	assertOrder(t, s.SortedData(), "a", "b", "c")

	srt, ok := s.ActiveSort()
	if !ok || srt.Column != "id" {
		t.Errorf("ActiveSort = %+v, %v", srt, ok)
	}

	s.ClearSort()
	if _, ok := s.ActiveSort(); ok {
		t.Error("sort should be cleared")
	}
}

func TestStateSelectionIndependentOfFilter(t *testing.T) {
	s := newState(50, seedRows(10))

	s.SelectRows([]string{"row-1", "row-10"})
	s.AddFilter(gridkit.Filter{Column: "age", Operator: gridkit.OpGreaterThan, Value: 60})

	// row-1 is filtered out of the view but stays selected.
	if !s.IsSelected("row-1") {
		t.Error("filtering must not touch the selection set")
	}
	if got := s.SelectionCount(); got != 2 {
		t.Errorf("SelectionCount = %d, want 2", got)
	}
}

func TestStateSelectionSurvivesSetData(t *testing.T) {
	s := newState(50, seedRows(3))
	s.SelectRow("row-2")

	// A refresh that re-adds the same ids keeps the selection.
	s.SetData(seedRows(3))
	if !s.IsSelected("row-2") {
		t.Error("selection must survive a data refresh")
	}
}

func TestStateSelectAllAndToggle(t *testing.T) {
	s := newState(50, seedRows(3))

	if s.AllSelected() {
		t.Error("nothing selected yet")
	}
	s.SelectAll()
	if !s.AllSelected() {
		t.Error("AllSelected should hold after SelectAll")
	}

	s.ToggleRowSelection("row-2")
	if s.AllSelected() {
		t.Error("AllSelected should break after a deselect")
	}
	s.ToggleRowSelection("row-2")
	if !s.AllSelected() {
		t.Error("toggle back should restore AllSelected")
	}

	s.ClearSelection()
	if got := s.SelectionCount(); got != 0 {
		t.Errorf("SelectionCount = %d, want 0", got)
	}

	got := s.SelectedIDs()
	if len(got) != 0 {
		t.Errorf("SelectedIDs = %v, want empty", got)
	}
}

func TestStateAllSelectedEmptyDataset(t *testing.T) {
	s := newState(50, nil)
	if s.AllSelected() {
		t.Error("empty dataset is never all-selected")
	}
}

func TestStateRowMutations(t *testing.T) {
	s := newState(50, seedRows(2))

	s.UpdateRow("row-1", gridkit.Row{"name": "renamed"})
	r, ok := s.RowByID("row-1")
	if !ok || r.GetAsString("name", "") != "renamed" {
		t.Errorf("UpdateRow failed: %v", r)
	}

	// Unknown id mutations are silent no-ops.
	s.UpdateRow("ghost", gridkit.Row{"name": "x"})
	s.RemoveRow("ghost")
	s.ReplaceRow("ghost", gridkit.Row{"id": "ghost"})
	if got := s.TotalRows(); got != 2 {
		t.Errorf("TotalRows = %d, want 2 after no-op mutations", got)
	}

	s.UpsertRow(gridkit.Row{"id": "row-3", "age": 99})
	if got := s.TotalRows(); got != 3 {
		t.Errorf("TotalRows = %d, want 3 after upsert-insert", got)
	}
	s.UpsertRow(gridkit.Row{"id": "row-3", "age": 1})
	if got := s.TotalRows(); got != 3 {
		t.Errorf("TotalRows = %d, want 3 after upsert-replace", got)
	}

	s.RemoveRow("row-3")
	if _, ok := s.RowByID("row-3"); ok {
		t.Error("row-3 should be gone")
	}
}

func TestStateDataIsCopied(t *testing.T) {
	src := seedRows(1)
	s := newState(50, src)

	src[0]["name"] = "mutated outside"
	r, _ := s.RowByID("row-1")
	if r.GetAsString("name", "") == "mutated outside" {
		t.Error("state shares memory with the caller's slice")
	}

	out := s.Data()
	out[0]["name"] = "mutated copy"
	r, _ = s.RowByID("row-1")
	if r.GetAsString("name", "") == "mutated copy" {
		t.Error("Data() must return a deep copy")
	}
}

func TestStateEffectivePageClampsWhenDataShrinks(t *testing.T) {
	s := newState(5, seedRows(10))
	s.SetPage(1)

	// Shrinking below one page clamps the cursor without erroring.
	s.SetData(seedRows(3))
	page := s.PaginatedData()
	if len(page) != 3 {
		t.Errorf("page has %d rows, want 3", len(page))
	}
	if got := s.TotalPages(); got != 1 {
		t.Errorf("TotalPages = %d, want 1", got)
	}
	// The stored cursor is clamped too, never reported out of range.
	if got := s.CurrentPage(); got != 0 {
		t.Errorf("CurrentPage = %d, want 0 after shrink", got)
	}
}

func TestStateVisibleColumns(t *testing.T) {
	s := newState(50, seedRows(1))

	if got := s.VisibleColumns(); got != nil {
		t.Errorf("no explicit order: want nil, got %v", got)
	}

	s.SetColumnOrder([]string{"id", "name", "age"})
	s.SetColumnVisible("name", false)
	got := s.VisibleColumns()
	if len(got) != 2 || got[0] != "id" || got[1] != "age" {
		t.Errorf("VisibleColumns = %v", got)
	}

	s.SetColumnVisible("name", true)
	if got := s.VisibleColumns(); len(got) != 3 {
		t.Errorf("VisibleColumns = %v after unhide", got)
	}

	s.SetColumnWidth("age", 120)
	if w, ok := s.ColumnWidth("age"); !ok || w != 120 {
		t.Errorf("ColumnWidth = %v, %v", w, ok)
	}
	s.SetColumnWidth("age", -1) // ignored
	if w, _ := s.ColumnWidth("age"); w != 120 {
		t.Errorf("negative width must be ignored, got %v", w)
	}
}

func TestStateVisibleRows(t *testing.T) {
	s := gridkit.NewTableState(gridkit.StateConfig{
		PageSize: 100,
		Windower: gridkit.WindowerConfig{RowHeight: 20, ContainerHeight: 100, Buffer: 1},
	})
	s.SetData(seedRows(50))

	rows, rng := s.VisibleRows()
	if len(rows) != rng.End-rng.Start {
		t.Fatalf("len(rows)=%d, range %d..%d", len(rows), rng.Start, rng.End)
	}
	if rng.Start != 0 {
		t.Errorf("Start = %d, want 0", rng.Start)
	}
	if len(rows) >= 50 {
		t.Errorf("window should be a strict subset, got %d rows", len(rows))
	}

	s.HandleScroll(400)
	rows, rng = s.VisibleRows()
	if rng.Start == 0 {
		t.Error("window should have moved")
	}
	if rows[0].ID() != fmt.Sprintf("row-%d", rng.Start+1) {
		t.Errorf("window rows out of sync with range: %s at start %d", rows[0].ID(), rng.Start)
	}
}

func TestStateClear(t *testing.T) {
	s := newState(5, seedRows(10))
	s.AddFilter(gridkit.Filter{Column: "age", Operator: gridkit.OpGreaterThan, Value: 30})
	s.SetSort(gridkit.Sort{Column: "age", Direction: gridkit.SortAsc})
	s.SelectRow("row-1")
	s.SetPage(1)

	s.Clear()
	if got := s.TotalRows(); got != 0 {
		t.Errorf("TotalRows = %d, want 0", got)
	}
	if got := len(s.Filters()); got != 0 {
		t.Errorf("filters survived Clear: %d", got)
	}
	if _, ok := s.ActiveSort(); ok {
		t.Error("sort survived Clear")
	}
	if got := s.SelectionCount(); got != 0 {
		t.Errorf("selection survived Clear: %d", got)
	}
	if got := s.CurrentPage(); got != 0 {
		t.Errorf("CurrentPage = %d, want 0", got)
	}
}
