package querygrid

import (
	"math"
	"regexp"
	"strconv"
	"time"
)

// TemporalKind classifies what a parsed temporal value represents.
type TemporalKind string

const (
	// TemporalTimeOfDay is a time within a day; Millis counts from midnight.
	TemporalTimeOfDay TemporalKind = "timeofday"
	// TemporalDate is a calendar date; Millis is local midnight of that day.
	TemporalDate TemporalKind = "date"
	// TemporalDateTime is a full date and time.
	TemporalDateTime TemporalKind = "datetime"
	// TemporalEpoch is an absolute instant in epoch milliseconds.
	TemporalEpoch TemporalKind = "epoch"
	// TemporalOffset is an opaque numeric axis position, used as-is.
	TemporalOffset TemporalKind = "offset"
	// TemporalUnknown marks unparseable input; Millis is NaN.
	TemporalUnknown TemporalKind = "unknown"
)

// TemporalSample is the result of classifying one raw value. Callers must
// check Millis for NaN before trusting a sample.
type TemporalSample struct {
	Millis float64
	Kind   TemporalKind
}

// Valid reports whether the sample parsed successfully.
func (s TemporalSample) Valid() bool { return !math.IsNaN(s.Millis) }

var (
	timeOfDayRe = regexp.MustCompile(`^(\d{1,2}):(\d{2}):(\d{2})(?:\.(\d{1,3}))?$`)
	dateRe      = regexp.MustCompile(`^(\d{4})[.-](\d{1,2})[.-](\d{1,2})$`)
	dateTimeRe  = regexp.MustCompile(`^(\d{4})-(\d{1,2})-(\d{1,2}) (\d{1,2}):(\d{2}):(\d{2})(?:\.(\d{1,3}))?$`)
	// The database's native datetime rendering joins date and time with a
	// 'D' or 'T' separator, e.g. "2024.01.15D09:30:00.000".
	sepDateTimeRe = regexp.MustCompile(`^(\d{4})[.-](\d{1,2})[.-](\d{1,2})[DT](\d{1,2}):(\d{2}):(\d{2})(?:\.(\d{1,3}))?$`)
)

// genericLayouts are tried, in order, for strings that match none of the
// explicit temporal patterns.
var genericLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006/01/02 15:04:05",
	time.RFC1123,
	time.RFC1123Z,
}

// ParseTemporal classifies a single raw value as a temporal sample. Rules are
// tried in a fixed order and the first match wins. Unparseable input yields
// {NaN, TemporalUnknown}.
//
// Unit-less numbers are classified by magnitude: above 1e12 epoch
// milliseconds, above 1e9 epoch seconds, within a day's worth of milliseconds
// a time of day, anything else an opaque offset. The thresholds are inherently
// ambiguous (a count near 9e4 could be seconds-in-day or small epoch seconds)
// and are kept as-is for compatibility with existing result renderings;
// callers with explicit type metadata should bypass this heuristic.
func ParseTemporal(v any) TemporalSample {
	switch x := v.(type) {
	case string:
		return parseTemporalString(x)
	case time.Time:
		return TemporalSample{Millis: float64(x.UnixMilli()), Kind: TemporalDateTime}
	case float64:
		return parseTemporalNumber(x)
	case int:
		return parseTemporalNumber(float64(x))
	case int64:
		return parseTemporalNumber(float64(x))
	default:
		return TemporalSample{Millis: math.NaN(), Kind: TemporalUnknown}
	}
}

func parseTemporalString(s string) TemporalSample {
	if m := timeOfDayRe.FindStringSubmatch(s); m != nil {
		h := atoi(m[1])
		min := atoi(m[2])
		sec := atoi(m[3])
		ms := fracMillis(m[4])
		return TemporalSample{
			Millis: float64((h*3600+min*60+sec)*1000 + ms),
			Kind:   TemporalTimeOfDay,
		}
	}
	if m := dateRe.FindStringSubmatch(s); m != nil {
		t := time.Date(atoi(m[1]), time.Month(atoi(m[2])), atoi(m[3]), 0, 0, 0, 0, time.Local)
		return TemporalSample{Millis: float64(t.UnixMilli()), Kind: TemporalDate}
	}
	if m := dateTimeRe.FindStringSubmatch(s); m != nil {
		return TemporalSample{Millis: composeDateTime(m), Kind: TemporalDateTime}
	}
	if m := sepDateTimeRe.FindStringSubmatch(s); m != nil {
		return TemporalSample{Millis: composeDateTime(m), Kind: TemporalDateTime}
	}
	for _, layout := range genericLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return TemporalSample{Millis: float64(t.UnixMilli()), Kind: TemporalEpoch}
		}
	}
	return TemporalSample{Millis: math.NaN(), Kind: TemporalUnknown}
}

func composeDateTime(m []string) float64 {
	t := time.Date(
		atoi(m[1]), time.Month(atoi(m[2])), atoi(m[3]),
		atoi(m[4]), atoi(m[5]), atoi(m[6]),
		fracMillis(m[7])*int(time.Millisecond),
		time.Local,
	)
	return float64(t.UnixMilli())
}

func parseTemporalNumber(n float64) TemporalSample {
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return TemporalSample{Millis: math.NaN(), Kind: TemporalUnknown}
	}
	switch {
	case n > 1e12:
		// Already epoch milliseconds.
		return TemporalSample{Millis: n, Kind: TemporalEpoch}
	case n > 1e9:
		// Epoch seconds.
		return TemporalSample{Millis: n * 1000, Kind: TemporalEpoch}
	case n >= 0 && n < 86_400_000:
		// Milliseconds within a day. This window subsumes the
		// seconds-within-a-day reading (n < 86,400); millisecond
		// interpretation deliberately wins, matching existing behavior.
		return TemporalSample{Millis: n, Kind: TemporalTimeOfDay}
	default:
		return TemporalSample{Millis: n, Kind: TemporalOffset}
	}
}

// atoi parses a digit-only string already validated by a regexp.
func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

// fracMillis converts a 1-3 digit fractional-second capture to milliseconds,
// so ".5" means 500ms and ".05" means 50ms.
func fracMillis(s string) int {
	if s == "" {
		return 0
	}
	n, _ := strconv.Atoi(s)
	for i := len(s); i < 3; i++ {
		n *= 10
	}
	return n
}
