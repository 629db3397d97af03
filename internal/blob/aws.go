// AWS S3 gateway backend.
//
// The AWS gateway backend proxies blob data operations to an upstream AWS S3
// bucket via the AWS SDK for Go v2. The blob index stays in local SQLite --
// this backend handles raw bytes only.
//
// Key mapping:
//
//	{prefix}content/aa/bb/{digest}   promoted content
//	{prefix}staging/{token}          in-flight writes
//
// Credentials are resolved via the standard AWS credential chain
// (env vars, ~/.aws/credentials, IAM role, etc.).
package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// S3API defines the subset of the AWS S3 client interface that the gateway
// backend uses. This allows mocking in tests.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// AWSGatewayBackend implements the Backend interface by proxying blob
// operations to an upstream Amazon S3 bucket. All blobs are stored under a
// single upstream bucket with an optional key prefix to namespace them.
type AWSGatewayBackend struct {
	// Bucket is the upstream S3 bucket name.
	Bucket string
	// Region is the AWS region of the upstream bucket.
	Region string
	// Prefix is the key prefix for all blobs in the upstream bucket.
	Prefix string
	// client is the AWS S3 client (satisfying S3API interface).
	client S3API
}

// NewAWSGatewayBackend creates an AWSGatewayBackend configured to proxy to
// the specified S3 bucket in the given region, using the default credential
// chain with optional static credential overrides.
func NewAWSGatewayBackend(ctx context.Context, bucket, region, prefix, accessKeyID, secretAccessKey string) (*AWSGatewayBackend, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	loadOpts = append(loadOpts, awsconfig.WithRegion(region))

	// Use static credentials if provided, otherwise fall back to default chain.
	if accessKeyID != "" && secretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	b := &AWSGatewayBackend{
		Bucket: bucket,
		Region: region,
		Prefix: prefix,
		client: s3.NewFromConfig(cfg),
	}

	// Verify the upstream bucket is accessible.
	_, err = b.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(bucket),
	})
	if err != nil {
		return nil, fmt.Errorf("cannot access upstream S3 bucket %q: %w", bucket, err)
	}

	slog.Info("AWS gateway blob backend initialized", "bucket", bucket, "region", region, "prefix", prefix)
	return b, nil
}

// NewAWSGatewayBackendWithClient creates an AWSGatewayBackend with a
// pre-configured S3 client. This is primarily used for testing with mock
// clients.
func NewAWSGatewayBackendWithClient(bucket, region, prefix string, client S3API) *AWSGatewayBackend {
	return &AWSGatewayBackend{
		Bucket: bucket,
		Region: region,
		Prefix: prefix,
		client: client,
	}
}

// s3Key maps a backend key to an upstream S3 key.
func (b *AWSGatewayBackend) s3Key(key string) string {
	return b.Prefix + key
}

// Put uploads blob data to the upstream S3 bucket.
func (b *AWSGatewayBackend) Put(ctx context.Context, key string, r io.Reader, size int64) (int64, error) {
	// S3 needs a known content length; the session store always knows the
	// exact size of what it hands over.
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, fmt.Errorf("reading blob data: %w", err)
	}

	_, err = b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.Bucket),
		Key:           aws.String(b.s3Key(key)),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return 0, fmt.Errorf("uploading to S3: %w", err)
	}
	return int64(len(data)), nil
}

// Open retrieves blob data from the upstream S3 bucket. The caller is
// responsible for closing the returned ReadCloser.
func (b *AWSGatewayBackend) Open(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	resp, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.Bucket),
		Key:    aws.String(b.s3Key(key)),
	})
	if err != nil {
		if isAWSNotFound(err) {
			return nil, 0, fmt.Errorf("blob not found: %s", key)
		}
		return nil, 0, fmt.Errorf("getting blob from S3: %w", err)
	}

	var size int64
	if resp.ContentLength != nil {
		size = *resp.ContentLength
	}
	return resp.Body, size, nil
}

// Promote moves the staged object to its final key using S3 server-side copy
// followed by a delete of the staging object.
func (b *AWSGatewayBackend) Promote(ctx context.Context, stagingKey, finalKey string) error {
	_, err := b.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(b.Bucket),
		CopySource: aws.String(b.Bucket + "/" + b.s3Key(stagingKey)),
		Key:        aws.String(b.s3Key(finalKey)),
	})
	if err != nil {
		return fmt.Errorf("copying staged blob in S3: %w", err)
	}
	return b.Delete(ctx, stagingKey)
}

// Delete removes a blob from the upstream S3 bucket.
// Idempotent: S3 DeleteObject does not error on missing keys.
func (b *AWSGatewayBackend) Delete(ctx context.Context, key string) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.Bucket),
		Key:    aws.String(b.s3Key(key)),
	})
	if err != nil {
		return fmt.Errorf("deleting blob from S3: %w", err)
	}
	return nil
}

// Exists checks whether a blob exists in the upstream S3 bucket.
func (b *AWSGatewayBackend) Exists(ctx context.Context, key string) (bool, error) {
	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.Bucket),
		Key:    aws.String(b.s3Key(key)),
	})
	if err != nil {
		if isAWSNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("checking blob existence in S3: %w", err)
	}
	return true, nil
}

// CleanStaging lists and deletes all staged objects left by a previous crash.
func (b *AWSGatewayBackend) CleanStaging(ctx context.Context) error {
	prefix := b.s3Key(stagingPrefix)
	var continuation *string
	for {
		resp, err := b.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(b.Bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: continuation,
		})
		if err != nil {
			return fmt.Errorf("listing staged blobs in S3: %w", err)
		}
		for _, obj := range resp.Contents {
			_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
				Bucket: aws.String(b.Bucket),
				Key:    obj.Key,
			})
			if err != nil {
				return fmt.Errorf("deleting staged blob from S3: %w", err)
			}
		}
		if resp.IsTruncated == nil || !*resp.IsTruncated {
			return nil
		}
		continuation = resp.NextContinuationToken
	}
}

// HealthCheck verifies that the upstream bucket is accessible.
func (b *AWSGatewayBackend) HealthCheck(ctx context.Context) error {
	_, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(b.Bucket),
	})
	if err != nil {
		return fmt.Errorf("upstream S3 bucket not accessible: %w", err)
	}
	return nil
}

// isAWSNotFound checks if an AWS error is a 404/NoSuchKey/NotFound error.
func isAWSNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		if code == "NoSuchKey" || code == "NotFound" || code == "404" || code == "NoSuchBucket" {
			return true
		}
	}
	// Also check for types.NoSuchKey.
	var noSuchKey *types.NoSuchKey
	return errors.As(err, &noSuchKey)
}
