package gridkit

import (
	"math"
	"sort"
	"sync"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// SortDirection orders a sorted column ascending or descending.
type SortDirection string

const (
	SortAsc  SortDirection = "asc"
	SortDesc SortDirection = "desc"
)

// Sort describes one sort key. Priority orders keys when several are
// supplied; lower runs first.
type Sort struct {
	Column    string
	Direction SortDirection
	Priority  int
}

// collator gives locale-aware string ordering for values that are neither
// dates nor numbers. The und locale is a stable, language-neutral default.
// Collators keep internal buffers, so access is serialized.
var (
	collatorMu sync.Mutex
	collator   = collate.New(language.Und)
)

func collateStrings(a, b string) int {
	collatorMu.Lock()
	defer collatorMu.Unlock()
	return collator.CompareString(a, b)
}

// ApplySort returns a stably sorted copy of rows. Rows with equal keys
// across every sort key keep their relative input order. Comparison is
// date-aware, then numeric-aware (unparsable values sort as -Inf), with a
// collated string fallback.
func ApplySort(rows []Row, sorts []Sort) []Row {
	if len(sorts) == 0 || len(rows) == 0 {
		return rows
	}

	keys := make([]Sort, len(sorts))
	copy(keys, sorts)
	sort.SliceStable(keys, func(i, j int) bool {
		return keys[i].Priority < keys[j].Priority
	})

	out := make([]Row, len(rows))
	copy(out, rows)
	sort.SliceStable(out, func(i, j int) bool {
		for _, key := range keys {
			cmp := compareForSort(out[i][key.Column], out[j][key.Column])
			if cmp == 0 {
				continue
			}
			if key.Direction == SortDesc {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})
	return out
}

// compareForSort is the total order used by ApplySort: nil first, then
// dates, then numbers (unparsable treated as -Inf so NaN never
// propagates), then collated strings.
func compareForSort(a, b interface{}) int {
	if a == nil && b == nil {
		return 0
	}
	if a == nil {
		return -1
	}
	if b == nil {
		return 1
	}

	ta, aIsTime := asTime(a)
	tb, bIsTime := asTime(b)
	if aIsTime && bIsTime {
		switch {
		case ta.Before(tb):
			return -1
		case ta.After(tb):
			return 1
		default:
			return 0
		}
	}

	fa, aIsNum := asNumber(a)
	fb, bIsNum := asNumber(b)
	if aIsNum || bIsNum {
		if !aIsNum || math.IsNaN(fa) {
			fa = math.Inf(-1)
		}
		if !bIsNum || math.IsNaN(fb) {
			fb = math.Inf(-1)
		}
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		default:
			return 0
		}
	}

	return collateStrings(stringify(a), stringify(b))
}
