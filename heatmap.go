package querygrid

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// Bucket count bounds for the adaptive density grids. Resolution grows with
// sample size as sqrt(n/5) so the grid is neither too sparse for small result
// sets nor too noisy for large ones.
const (
	timeBucketsMin = 8
	timeBucketsMax = 20

	valueBucketsMin = 6
	valueBucketsMax = 12

	numericBucketsMin = 6
	numericBucketsMax = 16

	// distributionBuckets is the bucket count for the single-column strip.
	distributionBuckets = 15

	// degenerateIntensity is emitted for every cell of a constant series,
	// so it renders as a flat mid-intensity band instead of collapsing to
	// zero.
	degenerateIntensity = 50.0
)

// BucketAxis is an ordered sequence of human-readable bucket labels together
// with a pure function mapping a raw axis value to a bucket index in
// [0, len(Labels)).
type BucketAxis struct {
	Labels []string
	Index  func(v float64) int
}

// newBucketAxis partitions [min, max] into count equal-width intervals.
// Values outside the domain clamp to the edge buckets; a degenerate domain
// maps everything to bucket 0.
func newBucketAxis(min, max float64, count int, label func(lo, hi float64) string) BucketAxis {
	labels := make([]string, count)
	width := (max - min) / float64(count)
	for i := 0; i < count; i++ {
		lo := min + float64(i)*width
		labels[i] = label(lo, lo+width)
	}
	return BucketAxis{
		Labels: labels,
		Index: func(v float64) int {
			if width <= 0 {
				return 0
			}
			idx := int(math.Floor((v - min) / width))
			if idx < 0 {
				return 0
			}
			if idx >= count {
				return count - 1
			}
			return idx
		},
	}
}

// IntensityMatrix is a 2-D grid of normalized magnitudes in [0, 100] driving
// a heatmap-style visualization. len(Cells) == len(YAxis) and every row of
// Cells has length len(XAxis).
type IntensityMatrix struct {
	XAxis []string    `json:"xAxis"`
	YAxis []string    `json:"yAxis"`
	Cells [][]float64 `json:"cells"`
	Shape ShapeKind   `json:"shape"`
}

// EmptyMatrix returns the empty matrix for a shape, used for zero-row input.
func EmptyMatrix(kind ShapeKind) IntensityMatrix {
	return IntensityMatrix{XAxis: []string{}, YAxis: []string{}, Cells: [][]float64{}, Shape: kind}
}

// seriesRow is one surviving input row of the bucketing engine: a parsed X
// sample plus the requested Y values, NaN marking missing or non-numeric
// cells.
type seriesRow struct {
	x  TemporalSample
	ys []float64
}

// BuildMatrix derives an intensity matrix from a normalized table. xCol is
// the X-axis column; yCols are the series to plot (defaults are derived from
// the shape decision when empty). It handles zero rows by returning empty
// axes and never divides by zero.
//
// Pre-aggregated temporal data (at most one row per distinct time value) is
// plotted directly as normalized series; anything else falls back to
// occurrence-density binning.
func BuildMatrix(table NormalizedTable, xCol string, yCols []string, decision ShapeDecision) IntensityMatrix {
	if table.RowCount() == 0 {
		return EmptyMatrix(decision.Kind)
	}

	if decision.Kind == ShapeSingleColumn {
		return buildDistributionStrip(table, xCol, yCols)
	}

	if len(yCols) == 0 {
		yCols = defaultYColumns(table, xCol, decision)
	}
	if len(yCols) == 0 {
		return EmptyMatrix(decision.Kind)
	}

	if decision.Kind == ShapeGeneric {
		return buildNumericDensity(table, xCol, yCols[0], decision)
	}

	rows := collectSeriesRows(table, xCol, yCols)
	if len(rows) == 0 {
		return EmptyMatrix(decision.Kind)
	}

	// Stable: rows sharing a timestamp keep their original order.
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].x.Millis < rows[j].x.Millis })

	if preAggregated(rows) {
		return buildSeriesMatrix(rows, yCols, decision)
	}
	return buildTemporalDensity(rows, decision)
}

// defaultYColumns picks series columns when the caller made no selection:
// the volume column for time+volume data, every numeric column otherwise.
func defaultYColumns(table NormalizedTable, xCol string, decision ShapeDecision) []string {
	if decision.Kind == ShapeTimeVolume && decision.VolumeColumn != "" {
		return []string{decision.VolumeColumn}
	}
	var cols []string
	for i, col := range table.Columns {
		if col == xCol {
			continue
		}
		if _, ok := firstSample(table, i).(float64); ok {
			cols = append(cols, col)
		}
	}
	return cols
}

// collectSeriesRows parses the X column of every row and gathers Y values.
// Rows whose X fails to parse, or where every requested Y is non-numeric or
// null, are dropped; the rest of the result continues to render.
func collectSeriesRows(table NormalizedTable, xCol string, yCols []string) []seriesRow {
	xi := table.ColumnIndex(xCol)
	if xi < 0 {
		return nil
	}
	yIdx := make([]int, len(yCols))
	for i, c := range yCols {
		yIdx[i] = table.ColumnIndex(c)
	}

	rows := make([]seriesRow, 0, len(table.Rows))
	for _, row := range table.Rows {
		if xi >= len(row) {
			continue
		}
		x := ParseTemporal(row[xi])
		if !x.Valid() {
			continue
		}
		ys := make([]float64, len(yCols))
		any := false
		for i, yi := range yIdx {
			ys[i] = math.NaN()
			if yi >= 0 && yi < len(row) {
				if v, ok := row[yi].(float64); ok {
					ys[i] = v
					any = true
				}
			}
		}
		if !any {
			continue
		}
		rows = append(rows, seriesRow{x: x, ys: ys})
	}
	return rows
}

// preAggregated reports whether every time value appears at most once. The
// rows must already be sorted by timestamp.
func preAggregated(rows []seriesRow) bool {
	for i := 1; i < len(rows); i++ {
		if rows[i].x.Millis == rows[i-1].x.Millis {
			return false
		}
	}
	return true
}

// buildSeriesMatrix plots pre-aggregated rows directly: one matrix column per
// distinct sorted time value, one matrix row per Y series. Values are
// normalized against the combined min/max of all selected series so the
// series stay visually comparable.
func buildSeriesMatrix(rows []seriesRow, yCols []string, decision ShapeDecision) IntensityMatrix {
	min, max := math.Inf(1), math.Inf(-1)
	for _, r := range rows {
		for _, v := range r.ys {
			if math.IsNaN(v) {
				continue
			}
			if v < min {
				min = v
			}
			if v > max {
				max = v
			}
		}
	}

	kind := dominantKind(rows)
	span := rows[len(rows)-1].x.Millis - rows[0].x.Millis
	xAxis := make([]string, len(rows))
	for i, r := range rows {
		xAxis[i] = formatTimeLabel(r.x.Millis, kind, span)
	}

	yAxis := yCols
	if len(yCols) == 1 {
		yAxis = []string{"Values"}
	}

	cells := make([][]float64, len(yCols))
	for si := range yCols {
		cells[si] = make([]float64, len(rows))
		for ri, r := range rows {
			v := r.ys[si]
			switch {
			case math.IsNaN(v):
				cells[si][ri] = 0
			case max == min:
				cells[si][ri] = degenerateIntensity
			default:
				cells[si][ri] = (v - min) / (max - min) * 100
			}
		}
	}

	return IntensityMatrix{XAxis: xAxis, YAxis: yAxis, Cells: cells, Shape: decision.Kind}
}

// buildTemporalDensity bins rows that are not pre-aggregated into an
// occurrence-density histogram over time and value buckets.
func buildTemporalDensity(rows []seriesRow, decision ShapeDecision) IntensityMatrix {
	n := len(rows)
	timeBuckets := adaptiveBuckets(n, timeBucketsMin, timeBucketsMax)
	valueBuckets := adaptiveBuckets(n, valueBucketsMin, valueBucketsMax)

	minX, maxX := rows[0].x.Millis, rows[len(rows)-1].x.Millis
	minY, maxY := math.Inf(1), math.Inf(-1)
	for _, r := range rows {
		v := firstNumeric(r.ys)
		if math.IsNaN(v) {
			continue
		}
		if v < minY {
			minY = v
		}
		if v > maxY {
			maxY = v
		}
	}
	if math.IsInf(minY, 1) {
		return EmptyMatrix(decision.Kind)
	}

	kind := dominantKind(rows)
	span := maxX - minX
	xAxis := newBucketAxis(minX, maxX, timeBuckets, func(lo, _ float64) string {
		return formatTimeLabel(lo, kind, span)
	})
	yAxis := newBucketAxis(minY, maxY, valueBuckets, formatRangeLabel)

	cells := make([][]float64, valueBuckets)
	for i := range cells {
		cells[i] = make([]float64, timeBuckets)
	}
	for _, r := range rows {
		v := firstNumeric(r.ys)
		if math.IsNaN(v) {
			continue
		}
		cells[yAxis.Index(v)][xAxis.Index(r.x.Millis)]++
	}
	normalizeByMax(cells)

	return IntensityMatrix{XAxis: xAxis.Labels, YAxis: yAxis.Labels, Cells: cells, Shape: decision.Kind}
}

// buildNumericDensity bins two numeric columns into an occurrence-density
// grid. Bucket bounds are slightly tighter than the temporal grid's.
func buildNumericDensity(table NormalizedTable, xCol, yCol string, decision ShapeDecision) IntensityMatrix {
	xi, yi := table.ColumnIndex(xCol), table.ColumnIndex(yCol)
	if xi < 0 || yi < 0 {
		return EmptyMatrix(decision.Kind)
	}

	type pair struct{ x, y float64 }
	pairs := make([]pair, 0, len(table.Rows))
	for _, row := range table.Rows {
		if xi >= len(row) || yi >= len(row) {
			continue
		}
		x, xok := row[xi].(float64)
		y, yok := row[yi].(float64)
		if !xok || !yok {
			continue
		}
		pairs = append(pairs, pair{x, y})
	}
	if len(pairs) == 0 {
		return EmptyMatrix(decision.Kind)
	}

	n := len(pairs)
	xBuckets := adaptiveBuckets(n, numericBucketsMin, numericBucketsMax)
	yBuckets := adaptiveBuckets(n, valueBucketsMin, valueBucketsMax)

	minX, maxX := pairs[0].x, pairs[0].x
	minY, maxY := pairs[0].y, pairs[0].y
	for _, p := range pairs[1:] {
		minX, maxX = math.Min(minX, p.x), math.Max(maxX, p.x)
		minY, maxY = math.Min(minY, p.y), math.Max(maxY, p.y)
	}

	xAxis := newBucketAxis(minX, maxX, xBuckets, formatRangeLabel)
	yAxis := newBucketAxis(minY, maxY, yBuckets, formatRangeLabel)

	cells := make([][]float64, yBuckets)
	for i := range cells {
		cells[i] = make([]float64, xBuckets)
	}
	for _, p := range pairs {
		cells[yAxis.Index(p.y)][xAxis.Index(p.x)]++
	}
	normalizeByMax(cells)

	return IntensityMatrix{XAxis: xAxis.Labels, YAxis: yAxis.Labels, Cells: cells, Shape: decision.Kind}
}

// buildDistributionStrip renders a one-column result as a single-row strip of
// absolute deviations from the column mean. This is deliberately not a true
// histogram: each source row contributes its own cell, labeled with the value
// bucket it falls into.
func buildDistributionStrip(table NormalizedTable, xCol string, yCols []string) IntensityMatrix {
	col := xCol
	if len(yCols) > 0 {
		col = yCols[0]
	}
	ci := table.ColumnIndex(col)
	if ci < 0 && len(table.Columns) == 1 {
		ci = 0
	}
	if ci < 0 {
		return EmptyMatrix(ShapeSingleColumn)
	}

	values := make([]float64, 0, len(table.Rows))
	for _, row := range table.Rows {
		if ci < len(row) {
			if v, ok := row[ci].(float64); ok {
				values = append(values, v)
			}
		}
	}
	if len(values) == 0 {
		return EmptyMatrix(ShapeSingleColumn)
	}

	min, max := values[0], values[0]
	sum := 0.0
	for _, v := range values {
		min, max = math.Min(min, v), math.Max(max, v)
		sum += v
	}
	mean := sum / float64(len(values))

	axis := newBucketAxis(min, max, distributionBuckets, formatRangeLabel)

	labels := make([]string, len(values))
	devs := make([]float64, len(values))
	maxDev := 0.0
	for i, v := range values {
		labels[i] = axis.Labels[axis.Index(v)]
		devs[i] = math.Abs(v - mean)
		maxDev = math.Max(maxDev, devs[i])
	}
	if maxDev > 0 {
		for i := range devs {
			devs[i] = devs[i] / maxDev * 100
		}
	}

	return IntensityMatrix{
		XAxis: labels,
		YAxis: []string{"Distribution"},
		Cells: [][]float64{devs},
		Shape: ShapeSingleColumn,
	}
}

// adaptiveBuckets derives a bucket count from the sample size, clamped to
// [min, max]: clamp(floor(sqrt(n/5)), min, max).
func adaptiveBuckets(n, min, max int) int {
	b := int(math.Floor(math.Sqrt(float64(n) / 5)))
	if b < min {
		return min
	}
	if b > max {
		return max
	}
	return b
}

// normalizeByMax scales a count grid to [0, 100] by its maximum cell. An
// all-zero grid stays all-zero.
func normalizeByMax(cells [][]float64) {
	max := 0.0
	for _, row := range cells {
		for _, v := range row {
			if v > max {
				max = v
			}
		}
	}
	if max == 0 {
		return
	}
	for _, row := range cells {
		for i := range row {
			row[i] = row[i] / max * 100
		}
	}
}

// firstNumeric returns the first non-NaN value, or NaN.
func firstNumeric(vs []float64) float64 {
	for _, v := range vs {
		if !math.IsNaN(v) {
			return v
		}
	}
	return math.NaN()
}

// dominantKind returns the most frequent temporal kind among the rows,
// used to pick the label format for the X axis.
func dominantKind(rows []seriesRow) TemporalKind {
	counts := make(map[TemporalKind]int)
	for _, r := range rows {
		counts[r.x.Kind]++
	}
	best, bestN := TemporalUnknown, 0
	for k, n := range counts {
		if n > bestN {
			best, bestN = k, n
		}
	}
	return best
}

// formatTimeLabel renders a time axis value. Sub-hour spans carry seconds,
// sub-day spans show hour and minute, and anything wider includes the date.
func formatTimeLabel(millis float64, kind TemporalKind, spanMillis float64) string {
	switch kind {
	case TemporalTimeOfDay:
		total := int64(millis) / 1000
		h := total / 3600 % 24
		m := total / 60 % 60
		s := total % 60
		if spanMillis < float64(time.Hour/time.Millisecond) {
			return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
		}
		return fmt.Sprintf("%02d:%02d", h, m)
	case TemporalOffset:
		return fmt.Sprintf("%.2f", millis)
	default:
		t := time.UnixMilli(int64(millis))
		switch {
		case spanMillis < float64(time.Hour/time.Millisecond):
			return t.Format("15:04:05")
		case spanMillis < float64(24*time.Hour/time.Millisecond):
			return t.Format("15:04")
		default:
			return t.Format("2006-01-02 15:04")
		}
	}
}

// formatRangeLabel renders a numeric bucket as "{low}-{high}" with 2-decimal
// precision.
func formatRangeLabel(lo, hi float64) string {
	return fmt.Sprintf("%.2f-%.2f", lo, hi)
}
