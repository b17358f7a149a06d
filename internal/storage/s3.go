package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/cricketstatspack/portal/internal/config"
)

const exportPrefix = "exports"

// S3Client stores admin exports in an S3 compatible bucket.
type S3Client struct {
	client     *s3.Client
	bucket     string
	linkExpiry time.Duration
	now        func() time.Time
}

type UploadResult struct {
	Key      string
	URL      string
	Size     int64
	Checksum string
}

// NewS3Client creates a client for the export bucket. A custom endpoint
// (DigitalOcean Spaces, MinIO) switches to path-style addressing.
func NewS3Client(ctx context.Context, cfg config.ExportConfig) (*S3Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
			o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		}
	})

	expiry := cfg.LinkExpiry
	if expiry <= 0 {
		expiry = time.Hour
	}
	return &S3Client{
		client:     client,
		bucket:     cfg.Bucket,
		linkExpiry: expiry,
		now:        time.Now,
	}, nil
}

// exportKey files an export under exports/YYYY/MM/DD/.
func (s *S3Client) exportKey(name string) string {
	return path.Join(exportPrefix, s.now().UTC().Format("2006/01/02"), name)
}

// UploadExport stores an export and returns a presigned download link.
func (s *S3Client) UploadExport(ctx context.Context, name string, body io.Reader) (*UploadResult, error) {
	key := s.exportKey(name)

	putInput := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(getContentType(name)),
		ACL:         types.ObjectCannedACLPrivate,
	}
	result, err := s.client.PutObject(ctx, putInput)
	if err != nil {
		return nil, fmt.Errorf("failed to upload export: %w", err)
	}

	headOutput, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get object info: %w", err)
	}

	url, err := s.GeneratePresignedURL(ctx, key, s.linkExpiry)
	if err != nil {
		return nil, err
	}

	return &UploadResult{
		Key:      key,
		URL:      url,
		Size:     aws.ToInt64(headOutput.ContentLength),
		Checksum: aws.ToString(result.ETag),
	}, nil
}

// GeneratePresignedURL creates a presigned URL for downloading an object
func (s *S3Client) GeneratePresignedURL(ctx context.Context, key string, expiration time.Duration) (string, error) {
	presignClient := s3.NewPresignClient(s.client)

	req, err := presignClient.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = expiration
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}
	return req.URL, nil
}

// getContentType returns the content type for an export file name
func getContentType(filename string) string {
	switch filepath.Ext(filename) {
	case ".csv":
		return "text/csv"
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
