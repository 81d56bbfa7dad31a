package querygrid

import "strings"

// ShapeKind is the classifier's determination of which visualization strategy
// applies to a result set.
type ShapeKind string

const (
	// ShapeSingleColumn renders a one-column distribution strip.
	ShapeSingleColumn ShapeKind = "single_column"
	// ShapeOHLC is candlestick-style open/high/low/close data.
	ShapeOHLC ShapeKind = "ohlc"
	// ShapeTimeVolume is a time axis paired with a traded-volume column.
	ShapeTimeVolume ShapeKind = "time_volume"
	// ShapeTimePrice is a time axis paired with numeric value columns.
	ShapeTimePrice ShapeKind = "time_price"
	// ShapeGeneric falls back to two-numeric-axis density binning.
	ShapeGeneric ShapeKind = "generic"
)

// ShapeDecision is the outcome of classifying a normalized result. It drives
// which bucketing strategy runs next; it does not assert anything about the
// correctness of the underlying data.
type ShapeDecision struct {
	Kind ShapeKind

	// TimeColumn is the detected temporal column, when Kind is a temporal
	// shape.
	TimeColumn string

	// VolumeColumn is the detected volume column for ShapeTimeVolume.
	VolumeColumn string
}

// Column-name fragments used for classification. Matching is cheap and
// approximate: names plus the first sample value only.
var (
	ohlcFragments     = []string{"open", "high", "low", "close"}
	temporalFragments = []string{"time", "date", "timestamp", "ts"}
	volumeFragments   = []string{"volume", "vol", "size", "qty"}
)

// Classify inspects column names and first samples of a normalized table and
// decides which aggregation strategy applies. xCol and yCols are the caller's
// axis selection; the classifier does not choose columns itself. Pure
// function, no side effects.
func Classify(table NormalizedTable, xCol string, yCols []string) ShapeDecision {
	if len(table.Columns) == 1 || (len(yCols) == 1 && xCol == yCols[0]) {
		return ShapeDecision{Kind: ShapeSingleColumn}
	}

	if hasOHLCColumns(table.Columns) {
		return ShapeDecision{
			Kind:       ShapeOHLC,
			TimeColumn: findTemporalColumn(table),
		}
	}

	timeCol := findTemporalColumn(table)
	if timeCol != "" {
		if volCol := findVolumeColumn(table.Columns); volCol != "" {
			return ShapeDecision{
				Kind:         ShapeTimeVolume,
				TimeColumn:   timeCol,
				VolumeColumn: volCol,
			}
		}
		if hasNumericColumn(table, timeCol) {
			return ShapeDecision{Kind: ShapeTimePrice, TimeColumn: timeCol}
		}
	}

	return ShapeDecision{Kind: ShapeGeneric}
}

// hasOHLCColumns reports whether all four of open/high/low/close appear as
// substrings across the column names. Extra columns (a time column, say) do
// not disqualify the match.
func hasOHLCColumns(columns []string) bool {
	for _, frag := range ohlcFragments {
		found := false
		for _, col := range columns {
			if strings.Contains(strings.ToLower(col), frag) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// findTemporalColumn returns the first column whose name looks temporal and
// whose first non-null sample is a string. Numeric columns named "time" are
// not trusted: without a unit they are better served by the generic path.
func findTemporalColumn(table NormalizedTable) string {
	for i, col := range table.Columns {
		name := strings.ToLower(col)
		match := name == "t"
		if !match {
			for _, frag := range temporalFragments {
				if strings.Contains(name, frag) {
					match = true
					break
				}
			}
		}
		if !match {
			continue
		}
		if _, ok := firstSample(table, i).(string); ok {
			return col
		}
	}
	return ""
}

func findVolumeColumn(columns []string) string {
	for _, col := range columns {
		name := strings.ToLower(col)
		for _, frag := range volumeFragments {
			if strings.Contains(name, frag) {
				return col
			}
		}
	}
	return ""
}

// hasNumericColumn reports whether any column other than exclude holds
// numbers.
func hasNumericColumn(table NormalizedTable, exclude string) bool {
	for i, col := range table.Columns {
		if col == exclude {
			continue
		}
		if _, ok := firstSample(table, i).(float64); ok {
			return true
		}
	}
	return false
}

// firstSample returns the first non-null cell of a column, or nil.
func firstSample(table NormalizedTable, col int) Cell {
	for _, row := range table.Rows {
		if col < len(row) && row[col] != nil {
			return row[col]
		}
	}
	return nil
}
