package remote

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config holds configuration for the S3 backend.
type S3Config struct {
	// Region is the AWS region (optional, uses default chain if empty).
	Region string
	// Endpoint is a custom S3 endpoint URL for S3-compatible providers
	// (e.g. Cloudflare R2, MinIO). Empty uses the default AWS endpoint.
	Endpoint string
	// UsePathStyle forces path-style addressing (bucket in path, not subdomain).
	UsePathStyle bool
	// AccessKey, SecretKey and SessionToken set static credentials.
	// Empty AccessKey uses the default credential chain.
	AccessKey    string
	SecretKey    string
	SessionToken string
}

// HasStaticCredentials reports whether static credentials are configured.
func (c S3Config) HasStaticCredentials() bool {
	return c.AccessKey != "" && c.SecretKey != ""
}

// GetObjectAPI is the subset of the S3 client used by S3Store.
type GetObjectAPI interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Store fetches objects with GetObject.
type S3Store struct {
	client GetObjectAPI
}

// NewS3Client creates an S3 client from cfg.
// Uses the AWS SDK default credential chain unless static credentials are set.
func NewS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.HasStaticCredentials() {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, cfg.SessionToken),
		))
	}

	awsConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	// Optional endpoint and path-style overrides
	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		endpoint := cfg.Endpoint
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = &endpoint
		})
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}
	return s3.NewFromConfig(awsConfig, s3Opts...), nil
}

// NewS3Store creates an S3 store from cfg.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	client, err := NewS3Client(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewS3StoreFromClient(client), nil
}

// NewS3StoreFromClient wraps an existing client.
func NewS3StoreFromClient(client GetObjectAPI) *S3Store {
	return &S3Store{client: client}
}

// Fetch implements ObjectStore.
func (s *S3Store) Fetch(ctx context.Context, url string) (io.ReadCloser, error) {
	u, err := parse("get", url)
	if err != nil {
		return nil, err
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(u.Bucket),
		Key:    aws.String(u.Key),
	})
	if err != nil {
		return nil, Wrap(err, "get", url)
	}
	return &classifiedReader{rc: out.Body, url: url}, nil
}

// classifiedReader wraps body read errors so mid-stream failures classify
// the same way as request failures.
type classifiedReader struct {
	rc  io.ReadCloser
	url string
}

func (r *classifiedReader) Read(p []byte) (int, error) {
	n, err := r.rc.Read(p)
	if err != nil && err != io.EOF {
		return n, &ObjectError{Kind: ErrTransient, Op: "read", URL: r.url, Err: err}
	}
	return n, err
}

func (r *classifiedReader) Close() error {
	return r.rc.Close()
}
