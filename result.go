package querygrid

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"time"
)

// Sentinel values the database uses to encode typed nulls. Narrow integer
// columns use the minimum 32-bit value, wide columns the minimum 64-bit value.
// Both are exactly representable as float64, so equality checks are safe after
// JSON decoding.
const (
	sentinelInt32 = float64(math.MinInt32)
	sentinelInt64 = float64(math.MinInt64)
)

// RawShape identifies the wire shape of a query result.
type RawShape int

const (
	// RawShapeUnknown is an unrecognized result shape; it normalizes to an
	// empty table.
	RawShapeUnknown RawShape = iota
	// RawShapeRowList is a sequence of key->value mappings, one per row.
	RawShapeRowList
	// RawShapeColumnMap maps column names to equal-length value sequences,
	// with scalars broadcast to every row.
	RawShapeColumnMap
	// RawShapeScalarList is a flat sequence of primitive values.
	RawShapeScalarList
	// RawShapeSingleScalar is a single primitive value.
	RawShapeSingleScalar
)

// String returns the shape name for logging.
func (s RawShape) String() string {
	switch s {
	case RawShapeRowList:
		return "rowlist"
	case RawShapeColumnMap:
		return "columnmap"
	case RawShapeScalarList:
		return "scalarlist"
	case RawShapeSingleScalar:
		return "scalar"
	default:
		return "unknown"
	}
}

// RawResult is a query result as received from the database, classified once
// at the boundary into a closed set of shapes. Exactly one of the payload
// fields is populated, according to Shape. Downstream code switches on Shape
// instead of re-inspecting dynamic types.
type RawResult struct {
	Shape RawShape

	// Rows is populated for RawShapeRowList.
	Rows []*OrderedMap

	// Columns is populated for RawShapeColumnMap.
	Columns *OrderedMap

	// Scalars is populated for RawShapeScalarList.
	Scalars []any

	// Scalar is populated for RawShapeSingleScalar.
	Scalar any
}

// OrderedMap is a JSON object that preserves the key order of the wire
// encoding. Column order in the database's responses is meaningful and
// standard map decoding would destroy it.
type OrderedMap struct {
	keys []string
	vals map[string]any
}

// NewOrderedMap builds an OrderedMap from alternating key/value pairs, mainly
// for tests and programmatic construction.
func NewOrderedMap(pairs ...any) *OrderedMap {
	m := &OrderedMap{vals: make(map[string]any, len(pairs)/2)}
	for i := 0; i+1 < len(pairs); i += 2 {
		k, ok := pairs[i].(string)
		if !ok {
			continue
		}
		m.Set(k, pairs[i+1])
	}
	return m
}

// Keys returns the keys in wire order.
func (m *OrderedMap) Keys() []string {
	if m == nil {
		return nil
	}
	return m.keys
}

// Get returns the value for key, or nil if absent.
func (m *OrderedMap) Get(key string) any {
	if m == nil {
		return nil
	}
	return m.vals[key]
}

// Len returns the number of keys.
func (m *OrderedMap) Len() int {
	if m == nil {
		return 0
	}
	return len(m.keys)
}

// Set appends or replaces a key while preserving insertion order.
func (m *OrderedMap) Set(key string, value any) {
	if m.vals == nil {
		m.vals = make(map[string]any)
	}
	if _, exists := m.vals[key]; !exists {
		m.keys = append(m.keys, key)
	}
	m.vals[key] = value
}

// UnmarshalJSON decodes a JSON object preserving key order. Nested objects
// decode to *OrderedMap, arrays to []any, numbers to float64.
func (m *OrderedMap) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	v, err := decodeOrderedValue(dec)
	if err != nil {
		return err
	}
	om, ok := v.(*OrderedMap)
	if !ok {
		return fmt.Errorf("result: expected JSON object, got %T", v)
	}
	*m = *om
	return nil
}

// MarshalJSON encodes the map in key order.
func (m *OrderedMap) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range m.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := json.Marshal(m.vals[k])
		if err != nil {
			return nil, err
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// decodeOrderedValue reads one JSON value from dec, preserving object key
// order via *OrderedMap.
func decodeOrderedValue(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			m := &OrderedMap{vals: make(map[string]any)}
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return nil, err
				}
				key, ok := keyTok.(string)
				if !ok {
					return nil, fmt.Errorf("result: non-string object key %v", keyTok)
				}
				val, err := decodeOrderedValue(dec)
				if err != nil {
					return nil, err
				}
				m.Set(key, val)
			}
			if _, err := dec.Token(); err != nil { // consume '}'
				return nil, err
			}
			return m, nil
		case '[':
			var arr []any
			for dec.More() {
				val, err := decodeOrderedValue(dec)
				if err != nil {
					return nil, err
				}
				arr = append(arr, val)
			}
			if _, err := dec.Token(); err != nil { // consume ']'
				return nil, err
			}
			if arr == nil {
				arr = []any{}
			}
			return arr, nil
		}
		return nil, fmt.Errorf("result: unexpected delimiter %v", t)
	default:
		return tok, nil
	}
}

// DecodeRawResult reads a JSON-encoded query result and classifies its shape.
// Unreadable input yields a RawResult with RawShapeUnknown rather than an
// error: malformed responses normalize to an empty table downstream.
func DecodeRawResult(r io.Reader) RawResult {
	dec := json.NewDecoder(bytes.NewReader(mustReadAll(r)))
	v, err := decodeOrderedValue(dec)
	if err != nil {
		return RawResult{Shape: RawShapeUnknown}
	}
	return DetectShape(v)
}

func mustReadAll(r io.Reader) []byte {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil
	}
	return b
}

// DetectShape classifies a decoded value into one of the known result shapes.
// The classification happens once here; every downstream function switches on
// the resulting tag instead of repeating dynamic type checks.
func DetectShape(v any) RawResult {
	switch x := v.(type) {
	case nil:
		return RawResult{Shape: RawShapeUnknown}
	case []any:
		if len(x) == 0 {
			// An empty sequence carries no column information; it
			// normalizes to an empty table.
			return RawResult{Shape: RawShapeRowList}
		}
		switch x[0].(type) {
		case *OrderedMap:
			rows := make([]*OrderedMap, 0, len(x))
			for _, e := range x {
				if m, ok := e.(*OrderedMap); ok {
					rows = append(rows, m)
				} else {
					// A mixed sequence is not a valid row list.
					return RawResult{Shape: RawShapeUnknown}
				}
			}
			return RawResult{Shape: RawShapeRowList, Rows: rows}
		case []any:
			return RawResult{Shape: RawShapeUnknown}
		default:
			return RawResult{Shape: RawShapeScalarList, Scalars: x}
		}
	case *OrderedMap:
		return RawResult{Shape: RawShapeColumnMap, Columns: x}
	default:
		return RawResult{Shape: RawShapeSingleScalar, Scalar: x}
	}
}

// Cell is one value of a normalized table: nil (null), float64, string, or
// bool. Database sentinels and NaN are converted to nil before a value becomes
// a Cell; non-finite numbers become the strings "Infinity"/"-Infinity".
type Cell any

// TypeTag is the inferred type of a normalized column, assigned once from the
// first non-null sample and constant for the column's lifetime.
type TypeTag string

const (
	TypeNumber     TypeTag = "number"
	TypeString     TypeTag = "string"
	TypeSymbol     TypeTag = "symbol"
	TypeDateTime   TypeTag = "datetime"
	TypeDate       TypeTag = "date"
	TypeTimeSecond TypeTag = "time:second"
	TypeTimeMillis TypeTag = "time:millisecond"
	TypeTimeMinute TypeTag = "time:minute"
	TypeMixed      TypeTag = "mixed"
)

// NormalizedTable is the uniform tabular form every query result is reduced
// to. For every row i, len(Rows[i]) == len(Columns) == len(Types). A table
// is immutable after creation and replaced wholesale on the next query.
type NormalizedTable struct {
	Columns []string  `json:"columns"`
	Rows    [][]Cell  `json:"rows"`
	Types   []TypeTag `json:"types"`
}

// EmptyTable returns the empty normalized table used for absent or
// unrecognized input.
func EmptyTable() NormalizedTable {
	return NormalizedTable{Columns: []string{}, Rows: [][]Cell{}, Types: []TypeTag{}}
}

// RowCount returns the number of rows.
func (t NormalizedTable) RowCount() int { return len(t.Rows) }

// ColumnIndex returns the index of a column by name, or -1.
func (t NormalizedTable) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Slice returns a copy of the table restricted to rows [offset, offset+limit).
// Out-of-range bounds are clamped; a non-positive limit returns all rows from
// offset.
func (t NormalizedTable) Slice(offset, limit int) NormalizedTable {
	n := len(t.Rows)
	if offset < 0 {
		offset = 0
	}
	if offset > n {
		offset = n
	}
	end := n
	if limit > 0 && offset+limit < n {
		end = offset + limit
	}
	return NormalizedTable{
		Columns: t.Columns,
		Rows:    t.Rows[offset:end],
		Types:   t.Types,
	}
}

// convertCell maps one raw value to a Cell, applying sentinel-to-null
// conversion. See the package documentation for the sentinel encoding.
func convertCell(v any) Cell {
	switch x := v.(type) {
	case nil:
		return nil
	case float64:
		if math.IsNaN(x) || x == sentinelInt32 || x == sentinelInt64 {
			return nil
		}
		if math.IsInf(x, 1) {
			return "Infinity"
		}
		if math.IsInf(x, -1) {
			return "-Infinity"
		}
		return x
	case int:
		return convertCell(float64(x))
	case int64:
		return convertCell(float64(x))
	case string:
		return x
	case bool:
		return x
	case time.Time:
		return x.Format(time.RFC3339)
	default:
		// Nested structures and other exotics render as text so they
		// remain visible in the grid instead of aborting the row.
		return fmt.Sprint(x)
	}
}
