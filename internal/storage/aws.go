package storage

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3GetObjectAPI is the part of the S3 client the loader uses.
type S3GetObjectAPI interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Loader reads attachment bodies referenced as s3://bucket/key.
type S3Loader struct {
	client   S3GetObjectAPI
	maxBytes int64
}

// NewS3Loader creates a loader using the default AWS credential chain.
func NewS3Loader(ctx context.Context, region, profile string) (*S3Loader, error) {
	var cfg aws.Config
	var err error

	if profile != "" {
		cfg, err = config.LoadDefaultConfig(ctx,
			config.WithRegion(region),
			config.WithSharedConfigProfile(profile),
		)
	} else {
		cfg, err = config.LoadDefaultConfig(ctx,
			config.WithRegion(region),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	return NewS3LoaderWithClient(s3.NewFromConfig(cfg)), nil
}

// NewS3LoaderWithClient wraps an existing client.
func NewS3LoaderWithClient(client S3GetObjectAPI) *S3Loader {
	return &S3Loader{client: client, maxBytes: MaxAttachmentBytes}
}

// ParseS3URI splits s3://bucket/key.
func ParseS3URI(uri string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(uri, "s3://")
	if !ok {
		return "", "", fmt.Errorf("not an s3 uri: %s", uri)
	}
	bucket, key, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("s3 uri needs bucket and key: %s", uri)
	}
	return bucket, key, nil
}

// Load fetches the object body.
func (l *S3Loader) Load(ctx context.Context, uri string) ([]byte, error) {
	bucket, key, err := ParseS3URI(uri)
	if err != nil {
		return nil, err
	}

	result, err := l.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("getting object from S3 bucket %s: %w", bucket, err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(io.LimitReader(result.Body, l.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading S3 object body: %w", err)
	}
	if int64(len(data)) > l.maxBytes {
		return nil, fmt.Errorf("%w: %s", ErrAttachmentTooLarge, uri)
	}
	return data, nil
}
