package querygrid

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// fakeS3 records PutObject calls and can fail the first n attempts.
type fakeS3 struct {
	failures int
	calls    int
	lastIn   *s3.PutObjectInput
	lastBody []byte
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, errors.New("503 slow down")
	}
	f.lastIn = in
	f.lastBody, _ = io.ReadAll(in.Body)
	return &s3.PutObjectOutput{}, nil
}

func newTestS3Exporter(client s3PutAPI, config S3ExporterConfig) *S3Exporter {
	return &S3Exporter{
		client:  client,
		config:  config,
		retryer: NewRetryer(RetryConfig{MaxAttempts: 3, InitialBackoff: 1}),
	}
}

func TestS3ExporterExport(t *testing.T) {
	fake := &fakeS3{}
	exporter := newTestS3Exporter(fake, S3ExporterConfig{
		Bucket: "exports",
		Prefix: "querygrid/",
	})

	err := exporter.Export(context.Background(), exportTestTable(), "trades.csv", DefaultExportOptions())
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}

	if *fake.lastIn.Bucket != "exports" {
		t.Errorf("Bucket = %q", *fake.lastIn.Bucket)
	}
	if *fake.lastIn.Key != "querygrid/trades.csv" {
		t.Errorf("Key = %q, want prefix applied", *fake.lastIn.Key)
	}
	if *fake.lastIn.ContentType != "text/csv" {
		t.Errorf("ContentType = %q", *fake.lastIn.ContentType)
	}
	if !strings.HasPrefix(string(fake.lastBody), "time,sym,price") {
		t.Errorf("body = %q", fake.lastBody)
	}
}

func TestS3ExporterExport_ContentTypes(t *testing.T) {
	tests := []struct {
		name string
		opts ExportOptions
		want string
	}{
		{"json", ExportOptions{Format: ExportFormatJSON}, "application/x-ndjson"},
		{"gzip", ExportOptions{Format: ExportFormatCSV, Compression: true}, "application/gzip"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeS3{}
			exporter := newTestS3Exporter(fake, S3ExporterConfig{Bucket: "exports"})
			if err := exporter.Export(context.Background(), exportTestTable(), "t", tt.opts); err != nil {
				t.Fatalf("Export() error = %v", err)
			}
			if *fake.lastIn.ContentType != tt.want {
				t.Errorf("ContentType = %q, want %q", *fake.lastIn.ContentType, tt.want)
			}
		})
	}
}

func TestS3ExporterExport_Retries(t *testing.T) {
	fake := &fakeS3{failures: 2}
	exporter := newTestS3Exporter(fake, S3ExporterConfig{Bucket: "exports"})

	err := exporter.Export(context.Background(), exportTestTable(), "t.csv", DefaultExportOptions())
	if err != nil {
		t.Fatalf("Export() error = %v after transient failures", err)
	}
	if fake.calls != 3 {
		t.Errorf("calls = %d, want 3", fake.calls)
	}
}

func TestS3ExporterExport_ExhaustedRetries(t *testing.T) {
	fake := &fakeS3{failures: 10}
	exporter := newTestS3Exporter(fake, S3ExporterConfig{Bucket: "exports"})

	err := exporter.Export(context.Background(), exportTestTable(), "t.csv", DefaultExportOptions())
	if err == nil {
		t.Fatal("Export() succeeded with failing uploads")
	}
	if !strings.Contains(err.Error(), "s3://exports/t.csv") {
		t.Errorf("error = %v, want bucket and key named", err)
	}
}

func TestNewS3Exporter_Validation(t *testing.T) {
	if _, err := NewS3Exporter(S3ExporterConfig{}); err == nil {
		t.Fatal("NewS3Exporter() accepted empty bucket")
	}
}
