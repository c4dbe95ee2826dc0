package attachments

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
)

// Presigner is the subset of *s3.PresignClient used for upload URLs.
type Presigner interface {
	PresignPutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// S3Storage issues attachment URLs for objects keyed by attachment id.
// Upload URLs are presigned PUTs; download URLs are plain object URLs and
// do not expire, so they can be stored on the todo.
type S3Storage struct {
	presign    Presigner
	bucket     string
	endpoint   string
	expiration time.Duration
	log        *zap.Logger
}

func NewS3Storage(presign Presigner, bucket, endpoint string, expiration time.Duration, log *zap.Logger) *S3Storage {
	return &S3Storage{
		presign:    presign,
		bucket:     bucket,
		endpoint:   strings.TrimRight(endpoint, "/"),
		expiration: expiration,
		log:        log,
	}
}

// NewS3Presigner loads the default AWS config for region. For S3-compatible
// services set endpoint; requests then use path-style addressing.
func NewS3Presigner(ctx context.Context, region, endpoint string) (*s3.PresignClient, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
	return s3.NewPresignClient(client), nil
}

func (s *S3Storage) UploadURL(ctx context.Context, attachmentID string) (string, error) {
	if attachmentID == "" {
		return "", errors.New("attachment id cannot be empty")
	}

	req, err := s.presign.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(attachmentID),
	}, s3.WithPresignExpires(s.expiration))
	if err != nil {
		s.log.Error("presign upload failed", zap.String("attachment_id", attachmentID), zap.Error(err))
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}
	return req.URL, nil
}

func (s *S3Storage) DownloadURL(_ context.Context, attachmentID string) (string, error) {
	if attachmentID == "" {
		return "", errors.New("attachment id cannot be empty")
	}

	key := url.PathEscape(attachmentID)
	if s.endpoint != "" {
		return fmt.Sprintf("%s/%s/%s", s.endpoint, s.bucket, key), nil
	}
	return fmt.Sprintf("https://%s.s3.amazonaws.com/%s", s.bucket, key), nil
}
