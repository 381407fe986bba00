package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
)

const DefaultRegion = "us-east-1"

var ErrBucketRequired = errors.New("s3 bucket is required")

type Settings struct {
	Bucket string
	Region string
	Prefix string
}

type Uploader interface {
	Upload(ctx context.Context, name string, body []byte, contentType string) (string, error)
}

type putObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type S3Uploader struct {
	client   putObjectAPI
	settings Settings
}

// NewS3Uploader resolves credentials through the default AWS chain.
func NewS3Uploader(ctx context.Context, settings Settings) (*S3Uploader, error) {
	if settings.Bucket == "" {
		return nil, ErrBucketRequired
	}
	region := settings.Region
	if region == "" {
		region = DefaultRegion
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS SDK config: %w", err)
	}
	return newS3Uploader(s3.NewFromConfig(cfg), settings)
}

func newS3Uploader(client putObjectAPI, settings Settings) (*S3Uploader, error) {
	if settings.Bucket == "" {
		return nil, ErrBucketRequired
	}
	return &S3Uploader{client: client, settings: settings}, nil
}

// Key is the object key name is stored under.
func (u *S3Uploader) Key(name string) string {
	prefix := strings.Trim(u.settings.Prefix, "/")
	if prefix == "" {
		return name
	}
	return path.Join(prefix, name)
}

// Upload stores body and returns its s3:// location.
func (u *S3Uploader) Upload(ctx context.Context, name string, body []byte, contentType string) (string, error) {
	key := u.Key(name)
	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.settings.Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(body))),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s to bucket %s: %w", key, u.settings.Bucket, err)
	}

	location := fmt.Sprintf("s3://%s/%s", u.settings.Bucket, key)
	zerolog.Ctx(ctx).Info().Str("location", location).Int("bytes", len(body)).Msg("object uploaded")
	return location, nil
}
