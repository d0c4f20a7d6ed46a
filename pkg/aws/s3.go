package aws

import (
	"bytes"
	"context"
	"fmt"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Archiver writes immutable audit objects to a bucket.
type S3Archiver struct {
	uploader *manager.Uploader
	bucket   string
}

// NewS3Archiver creates an archiver for bucket. Path-style addressing keeps
// LocalStack endpoints working.
func NewS3Archiver(cfg sdkaws.Config, bucket string) *S3Archiver {
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.BaseEndpoint != nil
	})
	return &S3Archiver{uploader: manager.NewUploader(client), bucket: bucket}
}

// Archive stores body under key as JSON.
func (a *S3Archiver) Archive(ctx context.Context, key string, body []byte) error {
	_, err := a.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      sdkaws.String(a.bucket),
		Key:         sdkaws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: sdkaws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to archive %s: %w", key, err)
	}
	return nil
}
