package querygrid

import (
	"regexp"
	"strings"
)

// Synthetic column names for results that arrive without any.
const (
	// scalarListSymbolColumn names the single column of a symbol/string
	// list result, e.g. the output of a table-listing query.
	scalarListSymbolColumn = "name"
	// scalarResultColumn names the single column of any other scalar
	// result.
	scalarResultColumn = "result"
)

// Normalize converts a raw query result of any shape into a NormalizedTable.
// It never fails: absent or malformed input yields an empty table, because a
// partial response from the database must not abort the surrounding render.
func Normalize(raw RawResult) NormalizedTable {
	switch raw.Shape {
	case RawShapeRowList:
		return normalizeRowList(raw.Rows)
	case RawShapeColumnMap:
		return normalizeColumnMap(raw.Columns)
	case RawShapeScalarList:
		return normalizeScalarList(raw.Scalars)
	case RawShapeSingleScalar:
		return NormalizedTable{
			Columns: []string{scalarResultColumn},
			Rows:    [][]Cell{{convertCell(raw.Scalar)}},
			Types:   []TypeTag{inferType(convertCell(raw.Scalar))},
		}
	default:
		return EmptyTable()
	}
}

// normalizeRowList projects each row onto the column set of the first row, in
// its original key order. Keys missing from later rows become null cells.
func normalizeRowList(src []*OrderedMap) NormalizedTable {
	if len(src) == 0 {
		return EmptyTable()
	}
	columns := src[0].Keys()
	rows := make([][]Cell, 0, len(src))
	for _, r := range src {
		row := make([]Cell, len(columns))
		for i, col := range columns {
			row[i] = convertCell(r.Get(col))
		}
		rows = append(rows, row)
	}
	return NormalizedTable{
		Columns: columns,
		Rows:    rows,
		Types:   inferColumnTypes(columns, rows),
	}
}

// normalizeColumnMap transposes a name->values mapping into rows. The row
// count is the length of the first sequence value; scalar values broadcast to
// every row.
func normalizeColumnMap(src *OrderedMap) NormalizedTable {
	if src.Len() == 0 {
		return EmptyTable()
	}
	columns := src.Keys()

	rowCount := 0
	hasSequence := false
	for _, col := range columns {
		if seq, ok := src.Get(col).([]any); ok {
			rowCount = len(seq)
			hasSequence = true
			break
		}
	}
	if !hasSequence {
		// All values are scalars: broadcast to a single row.
		rowCount = 1
	}

	rows := make([][]Cell, rowCount)
	for i := range rows {
		rows[i] = make([]Cell, len(columns))
	}
	for ci, col := range columns {
		switch v := src.Get(col).(type) {
		case []any:
			for ri := 0; ri < rowCount; ri++ {
				if ri < len(v) {
					rows[ri][ci] = convertCell(v[ri])
				}
			}
		default:
			cell := convertCell(v)
			for ri := 0; ri < rowCount; ri++ {
				rows[ri][ci] = cell
			}
		}
	}
	return NormalizedTable{
		Columns: columns,
		Rows:    rows,
		Types:   inferColumnTypes(columns, rows),
	}
}

// normalizeScalarList turns a flat list of primitives into a single-column
// table. String lists are treated as symbol lists and named accordingly.
func normalizeScalarList(src []any) NormalizedTable {
	if len(src) == 0 {
		return EmptyTable()
	}
	column := scalarResultColumn
	tag := TypeNumber
	if _, ok := src[0].(string); ok {
		column = scalarListSymbolColumn
		tag = TypeSymbol
	}
	rows := make([][]Cell, 0, len(src))
	for _, v := range src {
		rows = append(rows, []Cell{convertCell(v)})
	}
	if column == scalarResultColumn {
		tag = inferColumnTypesFromRows(rows, 0)
	}
	return NormalizedTable{
		Columns: []string{column},
		Rows:    rows,
		Types:   []TypeTag{tag},
	}
}

// Patterns for string type inference, most specific first so "09:30:00" is
// never mis-tagged as a minute value.
var (
	inferTimeMillisRe = regexp.MustCompile(`^\d{1,2}:\d{2}:\d{2}\.\d{3}$`)
	inferTimeSecondRe = regexp.MustCompile(`^\d{1,2}:\d{2}:\d{2}$`)
	inferTimeMinuteRe = regexp.MustCompile(`^\d{1,2}:\d{2}$`)
	inferDateRe       = regexp.MustCompile(`^\d{4}[.-]\d{1,2}[.-]\d{1,2}$`)
)

// inferColumnTypes assigns one TypeTag per column from the first non-null
// sample only. A whole-column scan would be more robust against mixed columns
// but would change existing type assignments; first-sample behavior is kept
// deliberately.
func inferColumnTypes(columns []string, rows [][]Cell) []TypeTag {
	types := make([]TypeTag, len(columns))
	for i := range columns {
		types[i] = inferColumnTypesFromRows(rows, i)
	}
	return types
}

func inferColumnTypesFromRows(rows [][]Cell, col int) TypeTag {
	for _, row := range rows {
		if col < len(row) && row[col] != nil {
			return inferType(row[col])
		}
	}
	return TypeMixed
}

// inferType tags a single cell value.
func inferType(v Cell) TypeTag {
	switch x := v.(type) {
	case float64:
		return TypeNumber
	case string:
		switch {
		case inferTimeMillisRe.MatchString(x):
			return TypeTimeMillis
		case inferTimeSecondRe.MatchString(x):
			return TypeTimeSecond
		case inferTimeMinuteRe.MatchString(x):
			return TypeTimeMinute
		case inferDateRe.MatchString(x):
			return TypeDate
		case strings.ContainsRune(x, 'T'):
			return TypeDateTime
		default:
			return TypeString
		}
	default:
		return TypeMixed
	}
}
