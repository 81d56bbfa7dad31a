package querygrid

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"net/http"
	"regexp"
	"sort"
	"time"

	"github.com/golang/snappy"
	"github.com/prometheus/prometheus/prompb"
)

// RemoteWriteConfig configures publishing of query-result series to a
// Prometheus remote-write endpoint.
type RemoteWriteConfig struct {
	// URL is the remote-write endpoint.
	URL string `yaml:"url"`

	// Timeout bounds one push. Default: 10s.
	Timeout time.Duration `yaml:"timeout"`

	// ExtraLabels are attached to every published series.
	ExtraLabels map[string]string `yaml:"extra_labels"`

	// MaxRetries is the max attempts per push (default: 3).
	MaxRetries int `yaml:"max_retries"`
}

// DefaultRemoteWriteConfig returns sensible defaults.
func DefaultRemoteWriteConfig(url string) RemoteWriteConfig {
	return RemoteWriteConfig{
		URL:        url,
		Timeout:    10 * time.Second,
		MaxRetries: 3,
	}
}

// RemoteWriter publishes normalized, time-indexed query results as Prometheus
// remote-write samples, so ad-hoc analysis results can feed dashboards and
// recording pipelines.
type RemoteWriter struct {
	config  RemoteWriteConfig
	client  HTTPDoer
	retryer *Retryer
}

// NewRemoteWriter creates a writer using a default HTTP client.
func NewRemoteWriter(config RemoteWriteConfig) *RemoteWriter {
	return NewRemoteWriterWithClient(config, &http.Client{Timeout: config.Timeout})
}

// NewRemoteWriterWithClient creates a writer with a caller-supplied client.
func NewRemoteWriterWithClient(config RemoteWriteConfig, client HTTPDoer) *RemoteWriter {
	return &RemoteWriter{
		config:  config,
		client:  client,
		retryer: NewRetryer(RetryConfig{MaxAttempts: config.MaxRetries}),
	}
}

var metricNameSanitizeRe = regexp.MustCompile(`[^a-zA-Z0-9_:]`)

// sanitizeMetricName maps an arbitrary column or metric name onto the
// character set Prometheus accepts.
func sanitizeMetricName(name string) string {
	s := metricNameSanitizeRe.ReplaceAllString(name, "_")
	if s == "" || (s[0] >= '0' && s[0] <= '9') {
		s = "_" + s
	}
	return s
}

// Publish converts the selected series of a normalized table into one
// remote-write request and pushes it. The X column must resolve to absolute
// instants (dates, datetimes, or epoch values); relative times of day carry
// no date and cannot be published. Rows with unparseable X or non-numeric Y
// are skipped; if nothing survives, ErrNoSeries is returned.
func (rw *RemoteWriter) Publish(ctx context.Context, metric string, table NormalizedTable, xCol string, yCols []string) error {
	xi := table.ColumnIndex(xCol)
	if xi < 0 {
		return fmt.Errorf("remote_write: unknown x column %q", xCol)
	}
	if len(yCols) == 0 {
		return ErrNoSeries
	}

	type sample struct {
		ts int64
		v  float64
	}
	series := make(map[string][]sample, len(yCols))

	sawRelative := false
	for _, row := range table.Rows {
		if xi >= len(row) {
			continue
		}
		x := ParseTemporal(row[xi])
		if !x.Valid() {
			continue
		}
		switch x.Kind {
		case TemporalDate, TemporalDateTime, TemporalEpoch:
		default:
			sawRelative = true
			continue
		}
		for _, col := range yCols {
			yi := table.ColumnIndex(col)
			if yi < 0 || yi >= len(row) {
				continue
			}
			v, ok := row[yi].(float64)
			if !ok || math.IsNaN(v) {
				continue
			}
			series[col] = append(series[col], sample{ts: int64(x.Millis), v: v})
		}
	}

	if len(series) == 0 {
		if sawRelative {
			return fmt.Errorf("remote_write: %w: column %q holds relative times", ErrNotTimeIndexed, xCol)
		}
		return ErrNoSeries
	}

	cols := make([]string, 0, len(series))
	for col := range series {
		cols = append(cols, col)
	}
	sort.Strings(cols)

	req := &prompb.WriteRequest{}
	for _, col := range cols {
		labels := []prompb.Label{
			{Name: "__name__", Value: sanitizeMetricName(metric + "_" + col)},
		}
		extraKeys := make([]string, 0, len(rw.config.ExtraLabels))
		for k := range rw.config.ExtraLabels {
			extraKeys = append(extraKeys, k)
		}
		sort.Strings(extraKeys)
		for _, k := range extraKeys {
			labels = append(labels, prompb.Label{Name: k, Value: rw.config.ExtraLabels[k]})
		}

		ts := prompb.TimeSeries{Labels: labels}
		for _, s := range series[col] {
			ts.Samples = append(ts.Samples, prompb.Sample{Timestamp: s.ts, Value: s.v})
		}
		req.Timeseries = append(req.Timeseries, ts)
	}

	raw, err := req.Marshal()
	if err != nil {
		return fmt.Errorf("remote_write: marshal: %w", err)
	}
	compressed := snappy.Encode(nil, raw)

	return rw.retryer.Do(ctx, func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, rw.config.URL, bytes.NewReader(compressed))
		if err != nil {
			return fmt.Errorf("remote_write: build request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/x-protobuf")
		httpReq.Header.Set("Content-Encoding", "snappy")
		httpReq.Header.Set("X-Prometheus-Remote-Write-Version", "0.1.0")

		resp, err := rw.client.Do(httpReq)
		if err != nil {
			return newTransportError(TransportErrorTypeNetwork, "remote write failed", rw.config.URL, 0, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode/100 != 2 {
			return newTransportError(TransportErrorTypeRejected, "remote write rejected", rw.config.URL, resp.StatusCode, nil)
		}
		return nil
	})
}
