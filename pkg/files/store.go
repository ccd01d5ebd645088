package files

import (
	"bytes"
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/sipeed/gatewaybridge/pkg/model"
)

// ObjectStore is the blob-storage seam the Service depends on, mirroring
// the retrieval pack's blob.Store interface so the S3 backend can be
// swapped for a fake in tests without touching the scan/verdict logic.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte) error
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// s3Store is the production ObjectStore, backed by aws-sdk-go-v2.
type s3Store struct {
	client   *s3.Client
	uploader *manager.Uploader
	presign  *s3.PresignClient
	bucket   string
}

// NewS3Store loads the default AWS config (env vars / shared config files,
// the same config.LoadDefaultConfig idiom the retrieval pack's DynamoDB
// adapter uses to build its client) and returns an ObjectStore bound to
// bucket.
func NewS3Store(ctx context.Context, bucket, region string) (ObjectStore, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, model.NewError(model.KindFatal, "load aws config", err)
	}
	if region != "" {
		awsCfg.Region = region
	}

	client := s3.NewFromConfig(awsCfg)
	return &s3Store{
		client:   client,
		uploader: manager.NewUploader(client),
		presign:  s3.NewPresignClient(client),
		bucket:   bucket,
	}, nil
}

func (s *s3Store) Put(ctx context.Context, key string, data []byte) error {
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return model.NewError(model.KindTransient, "s3 upload failed", err)
	}
	return nil
}

func (s *s3Store) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", model.NewError(model.KindFatal, "presign download url", err)
	}
	return req.URL, nil
}
