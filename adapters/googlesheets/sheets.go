// Package googlesheets provides an Adapter backed by a Google Sheets tab.
// Rows map to sheet rows keyed by an "id" column; the header row declares
// the schema.
package googlesheets

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	gridkit "github.com/gridkit/gridkit"
)

// Adapter implements gridkit.Adapter for Google Sheets.
type Adapter struct {
	service       *sheets.Service
	spreadsheetID string
	sheetName     string
	pollInterval  time.Duration

	mu          sync.Mutex
	connected   bool
	sheetID     int64
	subscribers map[int]func(gridkit.ChangeEvent)
	nextSubID   int
	pollCancel  context.CancelFunc
	lastSeen    map[string]gridkit.Row
}

// New creates a Google Sheets adapter with the provided client options.
func New(ctx context.Context, config Config, opts ...option.ClientOption) (*Adapter, error) {
	service, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets service: %w", err)
	}

	interval := config.PollInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}

	return &Adapter{
		service:       service,
		spreadsheetID: config.SpreadsheetID,
		sheetName:     config.SheetName,
		pollInterval:  interval,
		subscribers:   make(map[int]func(gridkit.ChangeEvent)),
	}, nil
}

// Connect resolves the sheet id (needed for structural requests like row
// deletion) and verifies the spreadsheet is reachable.
func (a *Adapter) Connect(ctx context.Context) error {
	resp, err := a.service.Spreadsheets.Get(a.spreadsheetID).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to open spreadsheet: %w", err)
	}

	for _, sheet := range resp.Sheets {
		if sheet.Properties != nil && sheet.Properties.Title == a.sheetName {
			a.mu.Lock()
			a.sheetID = sheet.Properties.SheetId
			a.connected = true
			a.mu.Unlock()
			return nil
		}
	}
	return fmt.Errorf("sheet %q not found in spreadsheet", a.sheetName)
}

// Disconnect stops polling and marks the adapter disconnected.
func (a *Adapter) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connected = false
	if a.pollCancel != nil {
		a.pollCancel()
		a.pollCancel = nil
	}
	return nil
}

// IsConnected reports the connection flag.
func (a *Adapter) IsConnected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected
}

// Read retrieves all rows from the sheet. The first row is the header.
func (a *Adapter) Read(ctx context.Context, opts gridkit.ReadOptions) ([]gridkit.Row, error) {
	rows, _, err := a.load(ctx)
	return rows, err
}

// Create appends a row at the bottom of the sheet, assigning an id when
// the caller supplied none.
func (a *Adapter) Create(ctx context.Context, row gridkit.Row) (gridkit.Row, error) {
	_, schema, err := a.load(ctx)
	if err != nil {
		return nil, err
	}

	stored := row.Clone()
	if stored == nil {
		stored = gridkit.Row{}
	}
	if stored.ID() == "" {
		stored[gridkit.IDField] = uuid.NewString()
	}

	// Extend the header with any new columns first.
	schema, err = a.ensureColumns(ctx, schema, stored)
	if err != nil {
		return nil, err
	}

	values := make([]interface{}, len(schema))
	for i, col := range schema {
		values[i] = convertToSheetValue(stored[col])
	}
	vr := &sheets.ValueRange{Values: [][]interface{}{values}}
	_, err = a.service.Spreadsheets.Values.
		Append(a.spreadsheetID, a.rangeAll(), vr).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("failed to append row: %w", err)
	}
	return stored, nil
}

// Update rewrites the sheet row whose id column matches.
func (a *Adapter) Update(ctx context.Context, id string, partial gridkit.Row) (gridkit.Row, error) {
	rows, schema, err := a.load(ctx)
	if err != nil {
		return nil, err
	}

	rowIndex := -1
	var current gridkit.Row
	for i, r := range rows {
		if r.ID() == id {
			rowIndex = i
			current = r
			break
		}
	}
	if rowIndex < 0 {
		return nil, fmt.Errorf("row %q not found", id)
	}

	merged := current.Merge(partial)
	merged[gridkit.IDField] = id

	schema, err = a.ensureColumns(ctx, schema, merged)
	if err != nil {
		return nil, err
	}

	values := make([]interface{}, len(schema))
	for i, col := range schema {
		values[i] = convertToSheetValue(merged[col])
	}
	// Data starts at sheet row 2 (row 1 is the header).
	writeRange := fmt.Sprintf("%s!A%d", a.sheetName, rowIndex+2)
	vr := &sheets.ValueRange{Values: [][]interface{}{values}}
	_, err = a.service.Spreadsheets.Values.
		Update(a.spreadsheetID, writeRange, vr).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("failed to update row: %w", err)
	}
	return merged, nil
}

// Delete removes the sheet row whose id column matches via a structural
// DeleteDimension request, shifting later rows up.
func (a *Adapter) Delete(ctx context.Context, id string) error {
	rows, _, err := a.load(ctx)
	if err != nil {
		return err
	}

	rowIndex := -1
	for i, r := range rows {
		if r.ID() == id {
			rowIndex = i
			break
		}
	}
	if rowIndex < 0 {
		return fmt.Errorf("row %q not found", id)
	}

	a.mu.Lock()
	sheetID := a.sheetID
	a.mu.Unlock()

	req := &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{{
			DeleteDimension: &sheets.DeleteDimensionRequest{
				Range: &sheets.DimensionRange{
					SheetId:    sheetID,
					Dimension:  "ROWS",
					StartIndex: int64(rowIndex + 1), // 0-based, +1 skips header
					EndIndex:   int64(rowIndex + 2),
				},
			},
		}},
	}
	_, err = a.service.Spreadsheets.BatchUpdate(a.spreadsheetID, req).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to delete row: %w", err)
	}
	return nil
}

// Subscribe synthesizes change events by polling the sheet and diffing
// snapshots by id.
func (a *Adapter) Subscribe(callback func(gridkit.ChangeEvent)) func() {
	a.mu.Lock()
	id := a.nextSubID
	a.nextSubID++
	a.subscribers[id] = callback

	if a.pollCancel == nil {
		ctx, cancel := context.WithCancel(context.Background())
		a.pollCancel = cancel
		go a.pollLoop(ctx)
	}
	a.mu.Unlock()

	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		delete(a.subscribers, id)
		if len(a.subscribers) == 0 && a.pollCancel != nil {
			a.pollCancel()
			a.pollCancel = nil
		}
	}
}

func (a *Adapter) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(a.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rows, _, err := a.load(ctx)
			if err != nil {
				continue
			}
			a.diffAndNotify(rows)
		}
	}
}

func (a *Adapter) diffAndNotify(rows []gridkit.Row) {
	now := time.Now()
	current := make(map[string]gridkit.Row, len(rows))
	for _, r := range rows {
		current[r.ID()] = r
	}

	a.mu.Lock()
	previous := a.lastSeen
	a.lastSeen = current
	callbacks := make([]func(gridkit.ChangeEvent), 0, len(a.subscribers))
	for _, cb := range a.subscribers {
		callbacks = append(callbacks, cb)
	}
	a.mu.Unlock()

	if previous == nil || len(callbacks) == 0 {
		return
	}

	emit := func(t gridkit.EventType, changed []gridkit.Row) {
		if len(changed) == 0 {
			return
		}
		ev := gridkit.ChangeEvent{Type: t, Rows: changed, Timestamp: now, Source: "sheets-poll"}
		for _, cb := range callbacks {
			cb(ev)
		}
	}

	var created, updated, deleted []gridkit.Row
	for id, row := range current {
		prev, ok := previous[id]
		if !ok {
			created = append(created, row)
		} else if !rowsEqual(prev, row) {
			updated = append(updated, row)
		}
	}
	for id, row := range previous {
		if _, ok := current[id]; !ok {
			deleted = append(deleted, row)
		}
	}
	emit(gridkit.EventCreate, created)
	emit(gridkit.EventUpdate, updated)
	emit(gridkit.EventDelete, deleted)
}

func rowsEqual(a, b gridkit.Row) bool {
	if len(a) != len(b) {
		return false
	}
	for k, av := range a {
		bv, ok := b[k]
		if !ok || fmt.Sprintf("%v", av) != fmt.Sprintf("%v", bv) {
			return false
		}
	}
	return true
}

// load retrieves all rows and the header schema from the sheet.
func (a *Adapter) load(ctx context.Context) ([]gridkit.Row, []string, error) {
	resp, err := a.service.Spreadsheets.Values.Get(a.spreadsheetID, a.rangeAll()).Context(ctx).Do()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get sheet data: %w", err)
	}

	if len(resp.Values) == 0 {
		return []gridkit.Row{}, []string{}, nil
	}

	// First row is the schema.
	schema := make([]string, 0)
	for i := 0; i < len(resp.Values[0]); i++ {
		if col, ok := resp.Values[0][i].(string); ok && col != "" {
			schema = append(schema, col)
		}
	}

	rows := make([]gridkit.Row, 0, len(resp.Values)-1)
	for i := 1; i < len(resp.Values); i++ {
		raw := resp.Values[i]
		if len(raw) == 0 {
			continue
		}
		row := make(gridkit.Row)
		for j := 0; j < len(raw) && j < len(schema); j++ {
			if schema[j] != "" && raw[j] != nil {
				row[schema[j]] = convertCellValue(raw[j], schema[j])
			}
		}
		if row.ID() == "" {
			continue // rows without an id are invisible to the engine
		}
		rows = append(rows, row)
	}

	return rows, schema, nil
}

// ensureColumns extends the header row with any new columns found in row.
func (a *Adapter) ensureColumns(ctx context.Context, schema []string, row gridkit.Row) ([]string, error) {
	existing := make(map[string]bool, len(schema))
	for _, col := range schema {
		existing[col] = true
	}

	grown := false
	for col := range row {
		if !existing[col] {
			schema = append(schema, col)
			grown = true
		}
	}
	if !grown {
		return schema, nil
	}

	header := make([]interface{}, len(schema))
	for i, col := range schema {
		header[i] = col
	}
	vr := &sheets.ValueRange{Values: [][]interface{}{header}}
	_, err := a.service.Spreadsheets.Values.
		Update(a.spreadsheetID, fmt.Sprintf("%s!A1", a.sheetName), vr).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("failed to extend header: %w", err)
	}
	return schema, nil
}

func (a *Adapter) rangeAll() string {
	return fmt.Sprintf("%s!A:ZZ", a.sheetName)
}

// convertCellValue converts a Google Sheets cell value to a Go type. The
// id column always stays a string.
func convertCellValue(v interface{}, column string) interface{} {
	if column == gridkit.IDField {
		return fmt.Sprintf("%v", v)
	}
	switch val := v.(type) {
	case string:
		if i, err := strconv.ParseInt(val, 10, 64); err == nil {
			return i
		}
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
		if val == "true" || val == "TRUE" {
			return true
		}
		if val == "false" || val == "FALSE" {
			return false
		}
		return val
	case float64:
		if val == float64(int64(val)) {
			return int64(val)
		}
		return val
	case bool:
		return val
	default:
		return fmt.Sprintf("%v", val)
	}
}

// convertToSheetValue converts a Go value to a Google Sheets cell value.
func convertToSheetValue(v interface{}) interface{} {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case int, int8, int16, int32, int64:
		return fmt.Sprintf("%d", val)
	case uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", val)
	case float32, float64:
		return fmt.Sprintf("%g", val)
	case bool:
		if val {
			return "TRUE"
		}
		return "FALSE"
	default:
		return fmt.Sprintf("%v", val)
	}
}
