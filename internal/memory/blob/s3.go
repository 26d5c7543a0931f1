package blob

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"keepsake/pkg/platform/circuit"
)

// S3Config selects the bucket holding memory content.
type S3Config struct {
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	Endpoint        string // optional, for S3-compatible stores
	UsePathStyle    bool
}

// S3Backend deletes content objects from a bucket. Consecutive failures open
// a circuit; while it is open, failures are reported as ErrUnavailable and
// callers leave the object locked for the next purge sweep.
type S3Backend struct {
	client  *s3.Client
	bucket  string
	breaker *circuit.Breaker
	logger  *slog.Logger
}

func NewS3(ctx context.Context, cfg S3Config, logger *slog.Logger) (*S3Backend, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("bucket name is required")
	}
	if cfg.Region == "" {
		cfg.Region = "eu-west-1"
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Options []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Options = append(s3Options, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = cfg.UsePathStyle
		})
	}
	return NewS3WithClient(s3.NewFromConfig(awsCfg, s3Options...), cfg.Bucket, logger), nil
}

// NewS3WithClient wraps an existing client.
func NewS3WithClient(client *s3.Client, bucket string, logger *slog.Logger) *S3Backend {
	if logger == nil {
		logger = slog.Default()
	}
	return &S3Backend{
		client:  client,
		bucket:  bucket,
		breaker: circuit.New("s3-"+bucket,
			circuit.WithFailureThreshold(5),
			circuit.WithSuccessThreshold(1),
			circuit.WithProbeInterval(0),
		),
		logger:  logger,
	}
}

// Delete removes key. S3 treats a missing key as success.
func (b *S3Backend) Delete(ctx context.Context, key string) error {
	if !b.breaker.Allow() {
		return fmt.Errorf("delete blob %s: %w", key, ErrUnavailable)
	}
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if b.breaker.Failure() {
			b.logger.WarnContext(ctx, "blob circuit opened", "breaker", b.breaker.Name(), "error", err)
		}
		if b.breaker.State() == circuit.StateOpen {
			return fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		return fmt.Errorf("delete blob %s: %w", key, err)
	}
	if b.breaker.Success() {
		b.logger.InfoContext(ctx, "blob circuit closed", "breaker", b.breaker.Name())
	}
	return nil
}
