// GCP Cloud Storage gateway backend.
//
// The GCP gateway backend proxies blob data operations to an upstream GCS
// bucket via the official Go Cloud Storage client library. The blob index
// stays in local SQLite -- this backend handles raw bytes only.
//
// Key mapping:
//
//	{prefix}content/aa/bb/{digest}   promoted content
//	{prefix}staging/{token}          in-flight writes
//
// Credentials are resolved via Application Default Credentials
// (GOOGLE_APPLICATION_CREDENTIALS, gcloud auth, metadata server).
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
)

// GCSAPI defines the subset of the GCS client interface that the gateway
// backend uses. This allows mocking in tests.
type GCSAPI interface {
	// NewWriter returns a writer for the given GCS object.
	NewWriter(ctx context.Context, bucket, object string) io.WriteCloser
	// NewReader returns a reader for the given GCS object.
	NewReader(ctx context.Context, bucket, object string) (io.ReadCloser, error)
	// Delete deletes the given GCS object.
	Delete(ctx context.Context, bucket, object string) error
	// Size returns the byte size of the given GCS object.
	Size(ctx context.Context, bucket, object string) (int64, error)
	// Copy copies a GCS object from src to dst within the same bucket.
	Copy(ctx context.Context, bucket, srcObject, dstObject string) error
	// ListObjects lists object names with the given prefix.
	ListObjects(ctx context.Context, bucket, prefix string) ([]string, error)
}

// GCPGatewayBackend implements the Backend interface by proxying blob
// operations to an upstream GCS bucket.
type GCPGatewayBackend struct {
	// Bucket is the upstream GCS bucket name.
	Bucket string
	// Prefix is the key prefix for all blobs in the upstream bucket.
	Prefix string
	// client is the GCS client (satisfying GCSAPI interface).
	client GCSAPI
}

// NewGCPGatewayBackend creates a GCPGatewayBackend configured to proxy to
// the specified GCS bucket.
func NewGCPGatewayBackend(ctx context.Context, bucket, prefix string) (*GCPGatewayBackend, error) {
	client, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating GCS client: %w", err)
	}

	b := &GCPGatewayBackend{
		Bucket: bucket,
		Prefix: prefix,
		client: &realGCSClient{client: client},
	}

	// Verify the upstream bucket is accessible by listing with an
	// unmatchable prefix.
	if _, err := b.client.ListObjects(ctx, bucket, "\x00nonexistent\x00"); err != nil {
		return nil, fmt.Errorf("cannot access upstream GCS bucket %q: %w", bucket, err)
	}

	slog.Info("GCP gateway blob backend initialized", "bucket", bucket, "prefix", prefix)
	return b, nil
}

// NewGCPGatewayBackendWithClient creates a GCPGatewayBackend with a
// pre-configured client. This is primarily used for testing with mocks.
func NewGCPGatewayBackendWithClient(bucket, prefix string, client GCSAPI) *GCPGatewayBackend {
	return &GCPGatewayBackend{
		Bucket: bucket,
		Prefix: prefix,
		client: client,
	}
}

// gcsKey maps a backend key to an upstream GCS object name.
func (b *GCPGatewayBackend) gcsKey(key string) string {
	return b.Prefix + key
}

// Put streams blob data to the upstream GCS bucket.
func (b *GCPGatewayBackend) Put(ctx context.Context, key string, r io.Reader, size int64) (int64, error) {
	w := b.client.NewWriter(ctx, b.Bucket, b.gcsKey(key))

	written, err := io.Copy(w, r)
	if err != nil {
		w.Close()
		return 0, fmt.Errorf("writing blob to GCS: %w", err)
	}
	// The write is committed by Close; errors up to this point surface here.
	if err := w.Close(); err != nil {
		return 0, fmt.Errorf("committing blob to GCS: %w", err)
	}
	return written, nil
}

// Open retrieves blob data from the upstream GCS bucket. The caller is
// responsible for closing the returned ReadCloser.
func (b *GCPGatewayBackend) Open(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	name := b.gcsKey(key)

	size, err := b.client.Size(ctx, b.Bucket, name)
	if err != nil {
		if isGCSNotFound(err) {
			return nil, 0, fmt.Errorf("blob not found: %s", key)
		}
		return nil, 0, fmt.Errorf("stat blob in GCS: %w", err)
	}

	rc, err := b.client.NewReader(ctx, b.Bucket, name)
	if err != nil {
		return nil, 0, fmt.Errorf("reading blob from GCS: %w", err)
	}
	return rc, size, nil
}

// Promote moves the staged object to its final key using a GCS server-side
// copy followed by a delete of the staging object.
func (b *GCPGatewayBackend) Promote(ctx context.Context, stagingKey, finalKey string) error {
	if err := b.client.Copy(ctx, b.Bucket, b.gcsKey(stagingKey), b.gcsKey(finalKey)); err != nil {
		return fmt.Errorf("copying staged blob in GCS: %w", err)
	}
	return b.Delete(ctx, stagingKey)
}

// Delete removes a blob from the upstream GCS bucket. Idempotent.
func (b *GCPGatewayBackend) Delete(ctx context.Context, key string) error {
	err := b.client.Delete(ctx, b.Bucket, b.gcsKey(key))
	if err != nil && !isGCSNotFound(err) {
		return fmt.Errorf("deleting blob from GCS: %w", err)
	}
	return nil
}

// Exists checks whether a blob exists in the upstream GCS bucket.
func (b *GCPGatewayBackend) Exists(ctx context.Context, key string) (bool, error) {
	_, err := b.client.Size(ctx, b.Bucket, b.gcsKey(key))
	if err != nil {
		if isGCSNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("checking blob existence in GCS: %w", err)
	}
	return true, nil
}

// CleanStaging lists and deletes all staged objects left by a previous crash.
func (b *GCPGatewayBackend) CleanStaging(ctx context.Context) error {
	names, err := b.client.ListObjects(ctx, b.Bucket, b.gcsKey(stagingPrefix))
	if err != nil {
		return fmt.Errorf("listing staged blobs in GCS: %w", err)
	}
	for _, name := range names {
		if err := b.client.Delete(ctx, b.Bucket, name); err != nil && !isGCSNotFound(err) {
			return fmt.Errorf("deleting staged blob from GCS: %w", err)
		}
	}
	return nil
}

// HealthCheck verifies that the upstream bucket is accessible.
func (b *GCPGatewayBackend) HealthCheck(ctx context.Context) error {
	if _, err := b.client.ListObjects(ctx, b.Bucket, "\x00nonexistent\x00"); err != nil {
		return fmt.Errorf("upstream GCS bucket not accessible: %w", err)
	}
	return nil
}

// isGCSNotFound checks if a GCS error indicates a missing object.
func isGCSNotFound(err error) bool {
	return errors.Is(err, gcs.ErrObjectNotExist)
}

// realGCSClient adapts *gcs.Client to the GCSAPI interface.
type realGCSClient struct {
	client *gcs.Client
}

func (c *realGCSClient) NewWriter(ctx context.Context, bucket, object string) io.WriteCloser {
	return c.client.Bucket(bucket).Object(object).NewWriter(ctx)
}

func (c *realGCSClient) NewReader(ctx context.Context, bucket, object string) (io.ReadCloser, error) {
	return c.client.Bucket(bucket).Object(object).NewReader(ctx)
}

func (c *realGCSClient) Delete(ctx context.Context, bucket, object string) error {
	return c.client.Bucket(bucket).Object(object).Delete(ctx)
}

func (c *realGCSClient) Size(ctx context.Context, bucket, object string) (int64, error) {
	attrs, err := c.client.Bucket(bucket).Object(object).Attrs(ctx)
	if err != nil {
		return 0, err
	}
	return attrs.Size, nil
}

func (c *realGCSClient) Copy(ctx context.Context, bucket, srcObject, dstObject string) error {
	src := c.client.Bucket(bucket).Object(srcObject)
	dst := c.client.Bucket(bucket).Object(dstObject)
	_, err := dst.CopierFrom(src).Run(ctx)
	return err
}

func (c *realGCSClient) ListObjects(ctx context.Context, bucket, prefix string) ([]string, error) {
	it := c.client.Bucket(bucket).Objects(ctx, &gcs.Query{Prefix: prefix})
	var names []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return names, nil
		}
		if err != nil {
			return nil, err
		}
		names = append(names, attrs.Name)
	}
}
