package gridkit

import (
	"sort"
	"sync"

	"go.uber.org/zap"
)

// TableState is the central mutable state container: raw rows, filters,
// sorts, pagination cursor, selection set, column layout and the virtual
// scroll window. Derived views are pull-based: recomputed lazily on read
// and memoized against a version counter bumped by every mutation, which
// reproduces reactive "live view" semantics deterministically.
//
// Mutators follow a forgiving contract: invalid ids, out-of-range pages
// and similar caller mistakes are silently absorbed as no-ops, never
// errors. The state layer is a pure data container; validation belongs to
// the Engine and orchestration errors to the Table facade.
type TableState struct {
	mu     sync.Mutex
	logger *zap.Logger

	rows       []Row
	filters    []Filter
	boolOp     BoolOperator
	filterOpts FilterOptions

	// Single active sort in the primary engine. The slice form and the
	// multi-key ApplySort leave multi-sort open as an extension point.
	sorts []Sort

	selection map[string]struct{}

	currentPage int
	pageSize    int

	columnOrder   []string
	hiddenColumns map[string]struct{}
	columnWidths  map[string]float64

	focusedRow, focusedColumn string
	hoveredRow                string

	windower *Windower

	// version is bumped on every mutation; derived caches are keyed on
	// it and recomputed on the next read after a change.
	version uint64
	cache   derivedCache
}

type derivedCache struct {
	version   uint64
	valid     bool
	filtered  []Row
	sorted    []Row
	paginated []Row
}

// StateConfig configures a TableState.
type StateConfig struct {
	PageSize      int
	BoolOperator  BoolOperator
	FilterOptions FilterOptions
	Windower      WindowerConfig
	Logger        *zap.Logger
}

// NewTableState creates an empty state container.
func NewTableState(cfg StateConfig) *TableState {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 50
	}
	if cfg.BoolOperator == "" {
		cfg.BoolOperator = BoolAnd
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TableState{
		logger:        logger,
		boolOp:        cfg.BoolOperator,
		filterOpts:    cfg.FilterOptions,
		selection:     make(map[string]struct{}),
		pageSize:      cfg.PageSize,
		hiddenColumns: make(map[string]struct{}),
		columnWidths:  make(map[string]float64),
		windower:      NewWindower(cfg.Windower),
	}
}

// --- raw data mutation ---

// SetData replaces the whole dataset. The selection set is deliberately
// NOT pruned to surviving ids: selection must survive a refresh that
// re-adds the same ids, so stale members are the caller's concern.
func (s *TableState) SetData(rows []Row) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rows = cloneRows(rows)
	s.bumpLocked()
}

// ReplaceData is an alias of SetData kept for call-site readability.
func (s *TableState) ReplaceData(rows []Row) { s.SetData(rows) }

// AddRow appends one row. Duplicate ids are not rejected here; duplicate
// detection is the Engine's job, run on demand.
func (s *TableState) AddRow(row Row) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rows = append(s.rows, row.Clone())
	s.bumpLocked()
}

// AddRows appends multiple rows.
func (s *TableState) AddRows(rows []Row) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range rows {
		s.rows = append(s.rows, r.Clone())
	}
	s.bumpLocked()
}

// UpdateRow merges partial into the row with the given id, replacing the
// row object. Unknown id is a silent no-op.
func (s *TableState) UpdateRow(id string, partial Row) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, r := range s.rows {
		if r.ID() == id {
			s.rows[i] = r.Merge(partial)
			s.bumpLocked()
			return
		}
	}
}

// ReplaceRow swaps the row with the given id for a whole new row. Used by
// the sync path when the server returns a confirmed version. Unknown id
// is a silent no-op.
func (s *TableState) ReplaceRow(id string, row Row) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, r := range s.rows {
		if r.ID() == id {
			s.rows[i] = row.Clone()
			s.bumpLocked()
			return
		}
	}
}

// UpsertRow replaces the row with a matching id or appends it.
func (s *TableState) UpsertRow(row Row) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := row.ID()
	for i, r := range s.rows {
		if r.ID() == id {
			s.rows[i] = row.Clone()
			s.bumpLocked()
			return
		}
	}
	s.rows = append(s.rows, row.Clone())
	s.bumpLocked()
}

// RemoveRow filters the row out. Unknown id is a silent no-op.
func (s *TableState) RemoveRow(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, r := range s.rows {
		if r.ID() == id {
			s.rows = append(s.rows[:i], s.rows[i+1:]...)
			s.bumpLocked()
			return
		}
	}
}

// RowByID returns a copy of the row with the given id.
func (s *TableState) RowByID(id string) (Row, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.rows {
		if r.ID() == id {
			return r.Clone(), true
		}
	}
	return nil, false
}

// Data returns a deep copy of the raw dataset.
func (s *TableState) Data() []Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneRows(s.rows)
}

// TotalRows is the unfiltered row count.
func (s *TableState) TotalRows() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

// Clear removes all rows, filters, sorts and selection.
func (s *TableState) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rows = nil
	s.filters = nil
	s.sorts = nil
	s.selection = make(map[string]struct{})
	s.currentPage = 0
	s.bumpLocked()
}

// --- filters & sorts ---

// AddFilter installs a filter, replacing any existing filter on the same
// column, and resets the page cursor to 0.
func (s *TableState) AddFilter(f Filter) {
	s.mu.Lock()
	defer s.mu.Unlock()

	replaced := false
	for i, existing := range s.filters {
		if existing.Column == f.Column {
			s.filters[i] = f
			replaced = true
			break
		}
	}
	if !replaced {
		s.filters = append(s.filters, f)
	}
	s.currentPage = 0
	s.bumpLocked()
}

// RemoveFilter drops the filter on the given column, if any, and resets
// the page cursor.
func (s *TableState) RemoveFilter(column string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, f := range s.filters {
		if f.Column == column {
			s.filters = append(s.filters[:i], s.filters[i+1:]...)
			s.currentPage = 0
			s.bumpLocked()
			return
		}
	}
}

// ClearFilters removes all filters and resets the page cursor.
func (s *TableState) ClearFilters() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.filters) == 0 {
		return
	}
	s.filters = nil
	s.currentPage = 0
	s.bumpLocked()
}

// Filters returns a copy of the active filter set.
func (s *TableState) Filters() []Filter {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Filter, len(s.filters))
	copy(out, s.filters)
	return out
}

// SetBoolOperator switches how multiple filters combine.
func (s *TableState) SetBoolOperator(op BoolOperator) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if op != BoolAnd && op != BoolOr {
		return
	}
	s.boolOp = op
	s.bumpLocked()
}

// SetSort installs the active sort, replacing any previous one.
func (s *TableState) SetSort(srt Sort) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if srt.Direction != SortAsc && srt.Direction != SortDesc {
		srt.Direction = SortAsc
	}
	s.sorts = []Sort{srt}
	s.bumpLocked()
}

// ClearSort removes the active sort.
func (s *TableState) ClearSort() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.sorts) == 0 {
		return
	}
	s.sorts = nil
	s.bumpLocked()
}

// ActiveSort returns the current sort, if any.
func (s *TableState) ActiveSort() (Sort, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.sorts) == 0 {
		return Sort{}, false
	}
	return s.sorts[0], true
}

// --- pagination ---

// SetPage moves the page cursor. Out-of-range pages are rejected as a
// silent no-op.
func (s *TableState) SetPage(page int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if page < 0 || page >= s.totalPagesLocked() {
		return
	}
	s.currentPage = page
	s.bumpLocked()
}

// SetPageSize changes the page size and resets to page 0. Sizes <= 0 are
// rejected.
func (s *TableState) SetPageSize(size int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if size <= 0 {
		return
	}
	s.pageSize = size
	s.currentPage = 0
	s.bumpLocked()
}

// CurrentPage returns the 0-based page cursor, clamped to the current
// page count.
func (s *TableState) CurrentPage() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recomputeLocked()
	return s.currentPage
}

// PageSize returns the page size.
func (s *TableState) PageSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pageSize
}

// TotalPages is ceil(filteredCount / pageSize), with a minimum of 1 so an
// empty dataset still has page 0.
func (s *TableState) TotalPages() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalPagesLocked()
}

func (s *TableState) totalPagesLocked() int {
	count := len(s.sortedLocked())
	if count == 0 {
		return 1
	}
	return (count + s.pageSize - 1) / s.pageSize
}

// --- selection (operates on the full unfiltered dataset) ---

// SelectRow adds one id to the selection set. Membership is independent
// of the current filter, sort and page.
func (s *TableState) SelectRow(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selection[id] = struct{}{}
}

// DeselectRow removes one id from the selection set.
func (s *TableState) DeselectRow(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.selection, id)
}

// SelectRows adds multiple ids.
func (s *TableState) SelectRows(ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		s.selection[id] = struct{}{}
	}
}

// DeselectRows removes multiple ids.
func (s *TableState) DeselectRows(ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.selection, id)
	}
}

// SelectAll selects every row currently in the raw dataset.
func (s *TableState) SelectAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rows {
		s.selection[r.ID()] = struct{}{}
	}
}

// ClearSelection empties the selection set.
func (s *TableState) ClearSelection() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selection = make(map[string]struct{})
}

// ToggleRowSelection flips one id's membership.
func (s *TableState) ToggleRowSelection(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.selection[id]; ok {
		delete(s.selection, id)
	} else {
		s.selection[id] = struct{}{}
	}
}

// IsSelected reports membership of one id.
func (s *TableState) IsSelected(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.selection[id]
	return ok
}

// SelectedIDs returns the selection as a sorted slice.
func (s *TableState) SelectedIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.selection))
	for id := range s.selection {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SelectionCount returns the selection set size.
func (s *TableState) SelectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.selection)
}

// AllSelected is true only when the selection size equals the total
// unfiltered row count (and the dataset is non-empty).
func (s *TableState) AllSelected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows) > 0 && len(s.selection) == len(s.rows)
}

// --- column layout ---

// SetColumnOrder replaces the display order of columns.
func (s *TableState) SetColumnOrder(columns []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.columnOrder = make([]string, len(columns))
	copy(s.columnOrder, columns)
}

// SetColumnVisible shows or hides a column.
func (s *TableState) SetColumnVisible(column string, visible bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if visible {
		delete(s.hiddenColumns, column)
	} else {
		s.hiddenColumns[column] = struct{}{}
	}
}

// SetColumnWidth records a column width in pixels. Non-positive widths
// are ignored.
func (s *TableState) SetColumnWidth(column string, width float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if width > 0 {
		s.columnWidths[column] = width
	}
}

// ColumnWidth returns a column's recorded width, if set.
func (s *TableState) ColumnWidth(column string) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.columnWidths[column]
	return w, ok
}

// VisibleColumns returns the column order minus hidden columns. With no
// explicit order set, it returns nil and callers derive columns from the
// data.
func (s *TableState) VisibleColumns() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.columnOrder) == 0 {
		return nil
	}
	out := make([]string, 0, len(s.columnOrder))
	for _, col := range s.columnOrder {
		if _, hidden := s.hiddenColumns[col]; !hidden {
			out = append(out, col)
		}
	}
	return out
}

// --- UI pointers ---

// SetFocusedCell records the focused cell, or clears it with empty ids.
func (s *TableState) SetFocusedCell(rowID, column string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.focusedRow, s.focusedColumn = rowID, column
}

// FocusedCell returns the focused cell pointer.
func (s *TableState) FocusedCell() (rowID, column string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.focusedRow, s.focusedColumn
}

// SetHoveredRow records the hovered row id.
func (s *TableState) SetHoveredRow(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hoveredRow = id
}

// HoveredRow returns the hovered row id.
func (s *TableState) HoveredRow() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hoveredRow
}

// --- derived pipeline: data → filter → sort → paginate → window ---

// FilteredData returns the rows passing the active filter set.
func (s *TableState) FilteredData() []Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyRowSlice(s.filteredLocked())
}

// FilteredCount returns the filtered row count without copying.
func (s *TableState) FilteredCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.filteredLocked())
}

// SortedData returns the filtered rows in sort order.
func (s *TableState) SortedData() []Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyRowSlice(s.sortedLocked())
}

// PaginatedData returns the current page of the filtered+sorted rows.
func (s *TableState) PaginatedData() []Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyRowSlice(s.paginatedLocked())
}

// Windower exposes the virtual scroll sub-state.
func (s *TableState) Windower() *Windower {
	return s.windower
}

// HandleScroll feeds a scroll offset to the windower. Returns false when
// the delta was below the threshold.
func (s *TableState) HandleScroll(scrollTop float64) bool {
	return s.windower.HandleScroll(scrollTop)
}

// VisibleRows returns the virtual window over the current page, together
// with the range metadata for spacer rendering. len(rows) == End-Start.
func (s *TableState) VisibleRows() ([]Row, VisibleRange) {
	s.mu.Lock()
	page := copyRowSlice(s.paginatedLocked())
	s.mu.Unlock()

	// Windower has its own lock; keep acquisition ordering one-way.
	s.windower.UpdateData(len(page))
	rng := s.windower.VisibleRange()
	return page[rng.Start:rng.End], rng
}

// recomputeLocked rebuilds the whole derived chain. Each stage is a pure
// function of the previous one; none of them suspends or mutates the raw
// dataset.
func (s *TableState) recomputeLocked() {
	if s.cache.valid && s.cache.version == s.version {
		return
	}

	s.cache.filtered = ApplyFilters(s.rows, s.filters, s.boolOp, s.filterOpts)
	s.cache.sorted = ApplySort(s.cache.filtered, s.sorts)

	total := len(s.cache.sorted)
	maxPage := 0
	if total > 0 {
		maxPage = (total + s.pageSize - 1) / s.pageSize
		maxPage--
	}
	// Clamp the stored cursor rather than erroring when data shrank
	// underneath it, so CurrentPage never reports an out-of-range page.
	if s.currentPage > maxPage {
		s.currentPage = maxPage
	}
	start := s.currentPage * s.pageSize
	end := start + s.pageSize
	if start > total {
		start = total
	}
	if end > total {
		end = total
	}
	s.cache.paginated = s.cache.sorted[start:end]

	s.cache.version = s.version
	s.cache.valid = true
}

func (s *TableState) filteredLocked() []Row {
	s.recomputeLocked()
	return s.cache.filtered
}

func (s *TableState) sortedLocked() []Row {
	s.recomputeLocked()
	return s.cache.sorted
}

func (s *TableState) paginatedLocked() []Row {
	s.recomputeLocked()
	return s.cache.paginated
}

func (s *TableState) bumpLocked() {
	s.version++
}

// copyRowSlice copies the slice header chain without deep-copying rows;
// rows are immutable snapshots by contract.
func copyRowSlice(rows []Row) []Row {
	out := make([]Row, len(rows))
	copy(out, rows)
	return out
}
