package querygrid

import "testing"

func tableFromRows(rows ...*OrderedMap) NormalizedTable {
	in := make([]any, len(rows))
	for i, r := range rows {
		in[i] = any(r)
	}
	return Normalize(DetectShape(in))
}

func TestClassify_OHLC(t *testing.T) {
	// A time column alongside the four OHLC columns must still classify
	// as OHLC.
	table := tableFromRows(
		NewOrderedMap("time", "09:30:00", "open", 1.0, "high", 2.0, "low", 0.5, "close", 1.5),
	)
	got := Classify(table, "time", nil)
	if got.Kind != ShapeOHLC {
		t.Fatalf("Kind = %v, want %v", got.Kind, ShapeOHLC)
	}
}

func TestClassify_SingleColumn(t *testing.T) {
	t.Run("one column", func(t *testing.T) {
		table := tableFromRows(NewOrderedMap("price", 1.0))
		if got := Classify(table, "price", nil); got.Kind != ShapeSingleColumn {
			t.Errorf("Kind = %v, want %v", got.Kind, ShapeSingleColumn)
		}
	})
	t.Run("x equals y", func(t *testing.T) {
		table := tableFromRows(NewOrderedMap("price", 1.0, "strike", 2.0))
		if got := Classify(table, "price", []string{"price"}); got.Kind != ShapeSingleColumn {
			t.Errorf("Kind = %v, want %v", got.Kind, ShapeSingleColumn)
		}
	})
}

func TestClassify_TimeVolume(t *testing.T) {
	table := tableFromRows(
		NewOrderedMap("time", "09:30:00", "vol", 1200.0),
		NewOrderedMap("time", "09:31:00", "vol", 900.0),
	)
	got := Classify(table, "time", nil)
	if got.Kind != ShapeTimeVolume {
		t.Fatalf("Kind = %v, want %v", got.Kind, ShapeTimeVolume)
	}
	if got.TimeColumn != "time" || got.VolumeColumn != "vol" {
		t.Errorf("columns = (%q, %q), want (time, vol)", got.TimeColumn, got.VolumeColumn)
	}
}

func TestClassify_TimePrice(t *testing.T) {
	table := tableFromRows(
		NewOrderedMap("timestamp", "2024-01-15 09:30:00", "price", 101.5),
	)
	got := Classify(table, "timestamp", nil)
	if got.Kind != ShapeTimePrice {
		t.Fatalf("Kind = %v, want %v", got.Kind, ShapeTimePrice)
	}
	if got.TimeColumn != "timestamp" {
		t.Errorf("TimeColumn = %q, want timestamp", got.TimeColumn)
	}
}

func TestClassify_Generic(t *testing.T) {
	t.Run("no temporal column", func(t *testing.T) {
		table := tableFromRows(NewOrderedMap("x", 1.0, "y", 2.0))
		if got := Classify(table, "x", nil); got.Kind != ShapeGeneric {
			t.Errorf("Kind = %v, want %v", got.Kind, ShapeGeneric)
		}
	})
	t.Run("numeric time column not trusted", func(t *testing.T) {
		// A column named "time" holding bare numbers has no declared
		// unit; it falls through to the generic density path.
		table := tableFromRows(NewOrderedMap("time", 12345.0, "price", 2.0))
		if got := Classify(table, "time", nil); got.Kind != ShapeGeneric {
			t.Errorf("Kind = %v, want %v", got.Kind, ShapeGeneric)
		}
	})
}

func TestClassify_ShortTimeAlias(t *testing.T) {
	table := tableFromRows(NewOrderedMap("t", "09:30:00", "px", 1.0))
	if got := Classify(table, "t", nil); got.Kind != ShapeTimePrice {
		t.Errorf("Kind = %v, want %v", got.Kind, ShapeTimePrice)
	}
}
