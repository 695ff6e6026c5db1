package ingest

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"FillLedger/internal/execution"
)

// ParseRecord converts a classified raw record into a typed Execution.
// Records that are not execution-shaped, or that fail field validation, are
// malformed: skipped with a reported reason, never silently dropped.
func ParseRecord(rec RawRecord) (*execution.Execution, error) {
	switch shape := DetectShape(rec); shape {
	case ShapeExecution:
		return parseExecution(rec)
	case ShapePerformance:
		return nil, fmt.Errorf("performance-shaped record is not ingestible")
	default:
		return nil, fmt.Errorf("unrecognized record shape")
	}
}

func parseExecution(rec RawRecord) (*execution.Execution, error) {
	id := firstField(rec, "ID", "Id")
	if id == "" {
		return nil, fmt.Errorf("missing execution id")
	}

	account := firstField(rec, "Account")
	instrument := firstField(rec, "Instrument")

	side, err := execution.ParseSide(firstField(rec, "Action", "Side", "B/S"))
	if err != nil {
		return nil, fmt.Errorf("record %s: %w", id, err)
	}

	qty, err := parseQuantity(firstField(rec, "Quantity", "Qty"))
	if err != nil {
		return nil, fmt.Errorf("record %s: %w", id, err)
	}

	price, err := parseDecimalField(rec, "Price")
	if err != nil {
		return nil, fmt.Errorf("record %s: %w", id, err)
	}

	commission := decimal.Zero
	if raw := firstField(rec, "Commission"); raw != "" {
		if commission, err = parseMoney(raw); err != nil {
			return nil, fmt.Errorf("record %s: commission: %w", id, err)
		}
	}

	ts, err := parseTime(firstField(rec, "Time", "Timestamp"))
	if err != nil {
		return nil, fmt.Errorf("record %s: %w", id, err)
	}

	e := &execution.Execution{
		ID:         id,
		Account:    account,
		Instrument: instrument,
		Side:       side,
		Quantity:   qty,
		Price:      price,
		Commission: commission,
		Timestamp:  ts,
	}

	// "Position" is the source's running-position-after-fill hint, e.g.
	// "3 L", "2 S" or a bare signed number. Optional; parse failures leave
	// the hint unset rather than rejecting the record.
	if raw := firstField(rec, "Position"); raw != "" {
		if hint, ok := parseRunningHint(raw); ok {
			e.RunningHint = &hint
		}
	}

	if err := e.Validate(); err != nil {
		return nil, err
	}
	return e, nil
}

func firstField(rec RawRecord, names ...string) string {
	for _, n := range names {
		if v, ok := rec[n]; ok {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func parseQuantity(raw string) (int64, error) {
	if raw == "" {
		return 0, fmt.Errorf("missing quantity")
	}
	qty, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid quantity %q", raw)
	}
	return qty, nil
}

func parseDecimalField(rec RawRecord, name string) (decimal.Decimal, error) {
	raw := firstField(rec, name)
	if raw == "" {
		return decimal.Zero, fmt.Errorf("missing %s", strings.ToLower(name))
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid %s %q", strings.ToLower(name), raw)
	}
	return v, nil
}

// parseMoney accepts "$1.23", "($1.23)" and plain decimal strings.
func parseMoney(raw string) (decimal.Decimal, error) {
	s := strings.TrimSpace(raw)
	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = s[1 : len(s)-1]
	}
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(s, ",", "")

	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q", raw)
	}
	if negative {
		v = v.Neg()
	}
	return v, nil
}

func parseTime(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, fmt.Errorf("missing timestamp")
	}
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", raw)
}

// parseRunningHint handles "3 L" / "2 S" / "-3" / "0".
func parseRunningHint(raw string) (int64, bool) {
	s := strings.TrimSpace(raw)

	fields := strings.Fields(s)
	if len(fields) == 2 {
		n, err := strconv.ParseInt(fields[0], 10, 64)
		if err != nil {
			return 0, false
		}
		switch strings.ToUpper(fields[1]) {
		case "L":
			return n, true
		case "S":
			return -n, true
		default:
			return 0, false
		}
	}

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
