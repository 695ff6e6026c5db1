// Package ingest accepts batches of raw execution records from the source
// platform's exports, classifies and parses them, filters replays through
// the dedup ledger, and appends the survivors to the execution store.
package ingest

import "time"

// RawRecord is one row of a source export, already column-split by the
// (out-of-scope) file adapter. Keys are header names as delivered.
type RawRecord map[string]string

// Shape is a tagged classification of the known export layouts. The core
// stays untouched by source-format variability: classification is a pure
// function over the record's fields, and only execution-shaped records
// reach parsing.
type Shape int32

const (
	ShapeUnknown Shape = iota
	ShapeExecution        // per-fill execution export
	ShapePerformance      // aggregated trade-performance export, not ingestible
)

func (s Shape) String() string {
	switch s {
	case ShapeExecution:
		return "execution"
	case ShapePerformance:
		return "performance"
	default:
		return "unknown"
	}
}

// DetectShape classifies a record by which identifying fields it carries.
func DetectShape(rec RawRecord) Shape {
	has := func(names ...string) bool {
		for _, n := range names {
			if _, ok := rec[n]; ok {
				return true
			}
		}
		return false
	}

	// Execution exports carry a per-fill identifier and an action/side.
	if has("ID", "Id") && has("Action", "Side", "B/S") && has("Quantity", "Qty") {
		return ShapeExecution
	}

	// Performance exports aggregate per trade: profit columns, no fill id.
	if has("Profit", "Cum. net profit", "Entry price") && !has("ID", "Id") {
		return ShapePerformance
	}

	return ShapeUnknown
}

// timeLayouts are the timestamp formats observed across export variants.
var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05.999999",
	"2006-01-02 15:04:05",
	"1/2/2006 3:04:05 PM",
}
