package googlesheets

import "time"

// Config represents configuration for Google Sheets adapter.
type Config struct {
	// SpreadsheetID is the spreadsheet to operate on.
	SpreadsheetID string
	// SheetName is the tab holding the dataset. Row 1 is the header;
	// one column must be named "id".
	SheetName string
	// PollInterval drives the Subscribe diff loop (default: 15s). The
	// Sheets API has no push channel, so realtime events are synthesized
	// by polling.
	PollInterval time.Duration
}
