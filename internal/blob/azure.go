// Azure Blob Storage gateway backend.
//
// The Azure gateway backend proxies blob data operations to an upstream
// Azure Blob Storage container via the official Azure SDK for Go. The blob
// index stays in local SQLite -- this backend handles raw bytes only.
//
// Key mapping:
//
//	{prefix}content/aa/bb/{digest}   promoted content
//	{prefix}staging/{token}          in-flight writes
//
// Credentials are resolved via DefaultAzureCredential (env vars, managed
// identity, Azure CLI, etc.).
package blob

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// AzureBlobAPI defines the subset of the Azure Blob Storage client interface
// that the gateway backend uses. This allows mocking in tests.
type AzureBlobAPI interface {
	// UploadBlob uploads data to a blob, overwriting if it already exists.
	UploadBlob(ctx context.Context, containerName, blobName string, data []byte) error
	// DownloadBlob opens a blob's contents for reading.
	DownloadBlob(ctx context.Context, containerName, blobName string) (io.ReadCloser, error)
	// DeleteBlob deletes a blob. Returns an error if the blob does not exist.
	DeleteBlob(ctx context.Context, containerName, blobName string) error
	// BlobExists checks if a blob exists.
	BlobExists(ctx context.Context, containerName, blobName string) (bool, error)
	// BlobSize retrieves the byte size of a blob.
	BlobSize(ctx context.Context, containerName, blobName string) (int64, error)
	// StartCopyFromURL copies a blob from a source URL.
	StartCopyFromURL(ctx context.Context, containerName, blobName, sourceURL string) error
	// ListBlobs lists blob names with the given prefix.
	ListBlobs(ctx context.Context, containerName, prefix string) ([]string, error)
}

// AzureGatewayBackend implements the Backend interface by proxying blob
// operations to an upstream Azure Blob Storage container.
type AzureGatewayBackend struct {
	// Container is the upstream container name.
	Container string
	// AccountURL is the storage account URL, used to build copy source URLs.
	AccountURL string
	// Prefix is the key prefix for all blobs in the upstream container.
	Prefix string
	// client is the Azure Blob client (satisfying AzureBlobAPI interface).
	client AzureBlobAPI
}

// NewAzureGatewayBackend creates an AzureGatewayBackend configured to proxy
// to the specified container, authenticating via DefaultAzureCredential.
func NewAzureGatewayBackend(ctx context.Context, container, accountURL, prefix string) (*AzureGatewayBackend, error) {
	client, err := newRealAzureClient(accountURL)
	if err != nil {
		return nil, err
	}

	b := &AzureGatewayBackend{
		Container:  container,
		AccountURL: accountURL,
		Prefix:     prefix,
		client:     client,
	}

	// Verify the upstream container is accessible.
	if _, err := b.client.ListBlobs(ctx, container, "\x00nonexistent\x00"); err != nil {
		return nil, fmt.Errorf("cannot access upstream Azure container %q: %w", container, err)
	}

	slog.Info("Azure gateway blob backend initialized", "container", container, "account", accountURL, "prefix", prefix)
	return b, nil
}

// NewAzureGatewayBackendWithClient creates an AzureGatewayBackend with a
// pre-configured client. This is primarily used for testing with mocks.
func NewAzureGatewayBackendWithClient(container, accountURL, prefix string, client AzureBlobAPI) *AzureGatewayBackend {
	return &AzureGatewayBackend{
		Container:  container,
		AccountURL: accountURL,
		Prefix:     prefix,
		client:     client,
	}
}

// azureKey maps a backend key to an upstream blob name.
func (b *AzureGatewayBackend) azureKey(key string) string {
	return b.Prefix + key
}

// Put uploads blob data to the upstream container.
func (b *AzureGatewayBackend) Put(ctx context.Context, key string, r io.Reader, size int64) (int64, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, fmt.Errorf("reading blob data: %w", err)
	}
	if err := b.client.UploadBlob(ctx, b.Container, b.azureKey(key), data); err != nil {
		return 0, fmt.Errorf("uploading blob to Azure: %w", err)
	}
	return int64(len(data)), nil
}

// Open retrieves blob data from the upstream container. The caller is
// responsible for closing the returned ReadCloser.
func (b *AzureGatewayBackend) Open(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	name := b.azureKey(key)

	size, err := b.client.BlobSize(ctx, b.Container, name)
	if err != nil {
		if isAzureNotFound(err) {
			return nil, 0, fmt.Errorf("blob not found: %s", key)
		}
		return nil, 0, fmt.Errorf("stat blob in Azure: %w", err)
	}

	rc, err := b.client.DownloadBlob(ctx, b.Container, name)
	if err != nil {
		return nil, 0, fmt.Errorf("downloading blob from Azure: %w", err)
	}
	return rc, size, nil
}

// Promote moves the staged blob to its final name using a server-side copy
// followed by a delete of the staging blob.
func (b *AzureGatewayBackend) Promote(ctx context.Context, stagingKey, finalKey string) error {
	sourceURL := fmt.Sprintf("%s/%s/%s", strings.TrimSuffix(b.AccountURL, "/"), b.Container, b.azureKey(stagingKey))
	if err := b.client.StartCopyFromURL(ctx, b.Container, b.azureKey(finalKey), sourceURL); err != nil {
		return fmt.Errorf("copying staged blob in Azure: %w", err)
	}
	return b.Delete(ctx, stagingKey)
}

// Delete removes a blob from the upstream container. Idempotent.
func (b *AzureGatewayBackend) Delete(ctx context.Context, key string) error {
	err := b.client.DeleteBlob(ctx, b.Container, b.azureKey(key))
	if err != nil && !isAzureNotFound(err) {
		return fmt.Errorf("deleting blob from Azure: %w", err)
	}
	return nil
}

// Exists checks whether a blob exists in the upstream container.
func (b *AzureGatewayBackend) Exists(ctx context.Context, key string) (bool, error) {
	exists, err := b.client.BlobExists(ctx, b.Container, b.azureKey(key))
	if err != nil {
		return false, fmt.Errorf("checking blob existence in Azure: %w", err)
	}
	return exists, nil
}

// CleanStaging lists and deletes all staged blobs left by a previous crash.
func (b *AzureGatewayBackend) CleanStaging(ctx context.Context) error {
	names, err := b.client.ListBlobs(ctx, b.Container, b.azureKey(stagingPrefix))
	if err != nil {
		return fmt.Errorf("listing staged blobs in Azure: %w", err)
	}
	for _, name := range names {
		if err := b.client.DeleteBlob(ctx, b.Container, name); err != nil && !isAzureNotFound(err) {
			return fmt.Errorf("deleting staged blob from Azure: %w", err)
		}
	}
	return nil
}

// HealthCheck verifies that the upstream container is accessible.
func (b *AzureGatewayBackend) HealthCheck(ctx context.Context) error {
	if _, err := b.client.ListBlobs(ctx, b.Container, "\x00nonexistent\x00"); err != nil {
		return fmt.Errorf("upstream Azure container not accessible: %w", err)
	}
	return nil
}

// isAzureNotFound checks if an Azure error is a not-found error.
func isAzureNotFound(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "not found") || strings.Contains(msg, "404") ||
		strings.Contains(msg, "blobnotfound") || strings.Contains(msg, "containernotfound") ||
		strings.Contains(msg, "the specified blob does not exist") ||
		strings.Contains(msg, "the specified container does not exist") {
		return true
	}
	return false
}
