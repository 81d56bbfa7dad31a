package querygrid

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3ExporterConfig configures the S3 export sink.
type S3ExporterConfig struct {
	Bucket   string `yaml:"bucket"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"` // For S3-compatible services (MinIO, etc.)
	// AccessKeyID for authentication. Prefer using IAM roles, instance profiles,
	// or environment variables (AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY) instead
	// of setting these directly. DO NOT commit credentials to source control.
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Prefix          string `yaml:"prefix"` // Key prefix for all objects
	UsePathStyle    bool   `yaml:"use_path_style"`

	// MaxRetries is the max retry attempts per upload (default: 3).
	MaxRetries int `yaml:"max_retries"`
}

// s3PutAPI is the slice of the S3 client the exporter needs; satisfied by
// *s3.Client and by test fakes.
type s3PutAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Exporter uploads exported tables to an S3 bucket.
type S3Exporter struct {
	client  s3PutAPI
	config  S3ExporterConfig
	retryer *Retryer
}

// NewS3Exporter creates an exporter for the configured bucket.
func NewS3Exporter(config S3ExporterConfig) (*S3Exporter, error) {
	if config.Bucket == "" {
		return nil, errors.New("bucket is required")
	}
	if config.Region == "" {
		config.Region = "us-east-1"
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}

	client, err := newS3Client(config)
	if err != nil {
		return nil, err
	}
	return &S3Exporter{
		client: client,
		config: config,
		retryer: NewRetryer(RetryConfig{
			MaxAttempts: config.MaxRetries,
		}),
	}, nil
}

func newS3Client(cfg S3ExporterConfig) (*s3.Client, error) {
	var opts []func(*config.LoadOptions) error
	opts = append(opts, config.WithRegion(cfg.Region))

	// Use static credentials if provided
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = cfg.UsePathStyle
		})
	}

	return s3.NewFromConfig(awsCfg, s3Opts...), nil
}

// Export renders the table in the given options and uploads it under key
// (prefixed with the configured prefix). Uploads are retried with backoff.
func (e *S3Exporter) Export(ctx context.Context, table NormalizedTable, key string, opts ExportOptions) error {
	var buf bytes.Buffer
	if err := ExportTable(table, &buf, opts); err != nil {
		return err
	}

	fullKey := e.config.Prefix + key
	contentType := "text/csv"
	if opts.Format == ExportFormatJSON {
		contentType = "application/x-ndjson"
	}
	if opts.Compression {
		contentType = "application/gzip"
	}

	err := e.retryer.Do(ctx, func() error {
		_, perr := e.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(e.config.Bucket),
			Key:         aws.String(fullKey),
			Body:        bytes.NewReader(buf.Bytes()),
			ContentType: aws.String(contentType),
		})
		return perr
	})
	if err != nil {
		return fmt.Errorf("export: upload s3://%s/%s: %w", e.config.Bucket, fullKey, err)
	}
	return nil
}
