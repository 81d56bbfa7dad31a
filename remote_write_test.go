package querygrid

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/golang/snappy"
	"github.com/prometheus/prometheus/prompb"
)

// captureDoer records the last remote-write payload.
type captureDoer struct {
	status int
	body   []byte
	header http.Header
	calls  int
}

func (d *captureDoer) Do(req *http.Request) (*http.Response, error) {
	d.calls++
	d.body, _ = io.ReadAll(req.Body)
	d.header = req.Header.Clone()
	status := d.status
	if status == 0 {
		status = http.StatusNoContent
	}
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader("")),
		Header:     make(http.Header),
	}, nil
}

func decodeWriteRequest(t *testing.T, body []byte) *prompb.WriteRequest {
	t.Helper()
	raw, err := snappy.Decode(nil, body)
	if err != nil {
		t.Fatalf("snappy.Decode() error = %v", err)
	}
	var req prompb.WriteRequest
	if err := req.Unmarshal(raw); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	return &req
}

func TestRemoteWriterPublish(t *testing.T) {
	doer := &captureDoer{}
	config := DefaultRemoteWriteConfig("http://localhost:9090/api/v1/write")
	config.ExtraLabels = map[string]string{"source": "querygrid"}
	rw := NewRemoteWriterWithClient(config, doer)

	table := NormalizedTable{
		Columns: []string{"time", "price", "size"},
		Rows: [][]Cell{
			{"2024-01-15T09:30:00Z", 187.5, 100.0},
			{"2024-01-15T09:31:00Z", 187.6, nil},
		},
		Types: []TypeTag{TypeDateTime, TypeNumber, TypeNumber},
	}

	err := rw.Publish(context.Background(), "trades", table, "time", []string{"price", "size"})
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	if ct := doer.header.Get("Content-Type"); ct != "application/x-protobuf" {
		t.Errorf("Content-Type = %q", ct)
	}
	if ce := doer.header.Get("Content-Encoding"); ce != "snappy" {
		t.Errorf("Content-Encoding = %q", ce)
	}
	if v := doer.header.Get("X-Prometheus-Remote-Write-Version"); v != "0.1.0" {
		t.Errorf("version header = %q", v)
	}

	req := decodeWriteRequest(t, doer.body)
	if len(req.Timeseries) != 2 {
		t.Fatalf("timeseries = %d, want 2", len(req.Timeseries))
	}

	// Series are emitted in sorted column order: price, then size.
	price := req.Timeseries[0]
	if price.Labels[0].Name != "__name__" || price.Labels[0].Value != "trades_price" {
		t.Errorf("name label = %+v", price.Labels[0])
	}
	if len(price.Labels) != 2 || price.Labels[1].Name != "source" || price.Labels[1].Value != "querygrid" {
		t.Errorf("extra labels = %+v", price.Labels)
	}
	if len(price.Samples) != 2 {
		t.Fatalf("price samples = %d, want 2", len(price.Samples))
	}
	if price.Samples[0].Value != 187.5 {
		t.Errorf("sample value = %v", price.Samples[0].Value)
	}
	if price.Samples[0].Timestamp >= price.Samples[1].Timestamp {
		t.Errorf("timestamps not ascending: %d, %d", price.Samples[0].Timestamp, price.Samples[1].Timestamp)
	}

	// The null size cell is skipped, not published as zero.
	size := req.Timeseries[1]
	if len(size.Samples) != 1 {
		t.Errorf("size samples = %d, want 1", len(size.Samples))
	}
}

func TestRemoteWriterPublish_RelativeTimes(t *testing.T) {
	rw := NewRemoteWriterWithClient(DefaultRemoteWriteConfig("http://localhost:9090"), &captureDoer{})
	table := NormalizedTable{
		Columns: []string{"time", "price"},
		Rows:    [][]Cell{{"09:30:00", 1.0}, {"09:31:00", 2.0}},
		Types:   []TypeTag{TypeTimeSecond, TypeNumber},
	}
	err := rw.Publish(context.Background(), "trades", table, "time", []string{"price"})
	if !errors.Is(err, ErrNotTimeIndexed) {
		t.Fatalf("error = %v, want ErrNotTimeIndexed", err)
	}
}

func TestRemoteWriterPublish_NoSeries(t *testing.T) {
	rw := NewRemoteWriterWithClient(DefaultRemoteWriteConfig("http://localhost:9090"), &captureDoer{})
	table := NormalizedTable{
		Columns: []string{"time", "sym"},
		Rows:    [][]Cell{{"2024-01-15T09:30:00Z", "AAPL"}},
		Types:   []TypeTag{TypeDateTime, TypeSymbol},
	}

	if err := rw.Publish(context.Background(), "m", table, "time", nil); !errors.Is(err, ErrNoSeries) {
		t.Errorf("empty selection error = %v, want ErrNoSeries", err)
	}
	if err := rw.Publish(context.Background(), "m", table, "time", []string{"sym"}); !errors.Is(err, ErrNoSeries) {
		t.Errorf("non-numeric series error = %v, want ErrNoSeries", err)
	}
}

func TestRemoteWriterPublish_UnknownColumn(t *testing.T) {
	rw := NewRemoteWriterWithClient(DefaultRemoteWriteConfig("http://localhost:9090"), &captureDoer{})
	err := rw.Publish(context.Background(), "m", exportTestTable(), "nope", []string{"price"})
	if err == nil || !strings.Contains(err.Error(), "unknown x column") {
		t.Errorf("error = %v", err)
	}
}

func TestRemoteWriterPublish_Rejected(t *testing.T) {
	doer := &captureDoer{status: http.StatusForbidden}
	config := DefaultRemoteWriteConfig("http://localhost:9090")
	config.MaxRetries = 2
	rw := NewRemoteWriterWithClient(config, doer)

	table := NormalizedTable{
		Columns: []string{"time", "price"},
		Rows:    [][]Cell{{"2024-01-15T09:30:00Z", 1.0}},
		Types:   []TypeTag{TypeDateTime, TypeNumber},
	}
	err := rw.Publish(context.Background(), "m", table, "time", []string{"price"})
	var terr *TransportError
	if !errors.As(err, &terr) {
		t.Fatalf("error = %v, want *TransportError", err)
	}
	if terr.StatusCode != http.StatusForbidden {
		t.Errorf("StatusCode = %d", terr.StatusCode)
	}
	if doer.calls != 2 {
		t.Errorf("calls = %d, want retries exhausted at 2", doer.calls)
	}
}

func TestSanitizeMetricName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"price", "price"},
		{"bid-ask spread", "bid_ask_spread"},
		{"9am_vol", "_9am_vol"},
		{"", "_"},
		{"ns:metric_1", "ns:metric_1"},
	}
	for _, tt := range tests {
		if got := sanitizeMetricName(tt.in); got != tt.want {
			t.Errorf("sanitizeMetricName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
