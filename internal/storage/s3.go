// Package storage opens graph snapshots from the local disk or from an S3
// compatible object store.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/OFFIS-RIT/kiwi-query/internal/util"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const s3Scheme = "s3://"

// ObjectGetter is the part of *s3.Client used to read snapshots.
type ObjectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

func NewS3Client(ctx context.Context) (*s3.Client, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(util.GetEnvString("AWS_REGION", "us-east-1")),
	}
	if endpoint := util.GetEnv("AWS_ENDPOINT"); endpoint != "" {
		opts = append(opts, config.WithBaseEndpoint(endpoint))
	}
	if accessKey := util.GetEnv("AWS_ACCESS_KEY"); accessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			accessKey,
			util.GetEnv("AWS_SECRET_KEY"),
			"",
		)))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load S3 config: %w", err)
	}

	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = true
	}), nil
}

// ParseObjectURI splits s3://bucket/key. ok is false for anything that is
// not an s3 URI.
func ParseObjectURI(uri string) (bucket, key string, ok bool, err error) {
	rest, found := strings.CutPrefix(uri, s3Scheme)
	if !found {
		return "", "", false, nil
	}
	bucket, key, _ = strings.Cut(rest, "/")
	if bucket == "" || key == "" {
		return "", "", true, fmt.Errorf("invalid object uri %q, want s3://bucket/key", uri)
	}
	return bucket, key, true, nil
}

// Open returns the snapshot at location, which is either a file path or an
// s3://bucket/key URI. The S3 client is only created for s3 URIs.
func Open(ctx context.Context, location string) (io.ReadCloser, error) {
	bucket, key, isObject, err := ParseObjectURI(location)
	if err != nil {
		return nil, err
	}
	if !isObject {
		return os.Open(location)
	}

	client, err := NewS3Client(ctx)
	if err != nil {
		return nil, err
	}
	return GetObject(ctx, client, bucket, key)
}

func GetObject(ctx context.Context, client ObjectGetter, bucket, key string) (io.ReadCloser, error) {
	result, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get %s/%s from S3: %w", bucket, key, err)
	}
	if result.Body == nil {
		return nil, errors.New("S3 returned an empty body")
	}
	return result.Body, nil
}
