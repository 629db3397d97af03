package blob

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sealbox/sealbox/internal/uid"
)

// LocalBackend implements the Backend interface using the local filesystem.
// Objects are stored as files within a configurable root directory; the
// content-addressed key layout keeps individual directories small.
type LocalBackend struct {
	// RootDir is the base directory under which all blob data is stored.
	RootDir string
}

// NewLocalBackend creates a LocalBackend rooted at the given directory.
// It creates the root directory and the temp directory if they do not exist.
func NewLocalBackend(rootDir string) (*LocalBackend, error) {
	if err := os.MkdirAll(rootDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating blob root directory %q: %w", rootDir, err)
	}
	// Create the .tmp directory for atomic writes.
	tmpDir := filepath.Join(rootDir, ".tmp")
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating temp directory %q: %w", tmpDir, err)
	}
	return &LocalBackend{RootDir: rootDir}, nil
}

// objectPath returns the full filesystem path for a backend key.
func (b *LocalBackend) objectPath(key string) string {
	return filepath.Join(b.RootDir, filepath.FromSlash(key))
}

// tempPath returns a unique temporary file path in the .tmp directory.
func (b *LocalBackend) tempPath() string {
	return filepath.Join(b.RootDir, ".tmp", "tmp-"+uid.New())
}

// Put writes blob data to a file using the crash-only atomic write pattern:
// write to temp file, fsync, rename.
func (b *LocalBackend) Put(ctx context.Context, key string, r io.Reader, size int64) (int64, error) {
	objPath := b.objectPath(key)

	if err := os.MkdirAll(filepath.Dir(objPath), 0o755); err != nil {
		return 0, fmt.Errorf("creating parent directories for %q: %w", key, err)
	}

	tmpPath := b.tempPath()
	tmpFile, err := os.Create(tmpPath)
	if err != nil {
		return 0, fmt.Errorf("creating temp file: %w", err)
	}

	bytesWritten, err := io.Copy(tmpFile, r)
	if err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return 0, fmt.Errorf("writing blob data: %w", err)
	}

	// Fsync before rename to guarantee durability.
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return 0, fmt.Errorf("syncing temp file: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Rename(tmpPath, objPath); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("renaming temp file to final path: %w", err)
	}

	return bytesWritten, nil
}

// Open opens the object file for reading. The caller is responsible for
// closing the returned ReadCloser.
func (b *LocalBackend) Open(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	objPath := b.objectPath(key)

	file, err := os.Open(objPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, fmt.Errorf("blob not found: %s", key)
		}
		return nil, 0, fmt.Errorf("opening blob file %q: %w", key, err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, 0, fmt.Errorf("stat blob file %q: %w", key, err)
	}

	return file, info.Size(), nil
}

// Promote moves the staged object to its final key via rename. Replacing an
// existing object at the final key is harmless: content-addressed keys only
// collide on identical bytes.
func (b *LocalBackend) Promote(ctx context.Context, stagingKey, finalKey string) error {
	finalPath := b.objectPath(finalKey)
	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return fmt.Errorf("creating parent directories for %q: %w", finalKey, err)
	}
	if err := os.Rename(b.objectPath(stagingKey), finalPath); err != nil {
		return fmt.Errorf("promoting %q to %q: %w", stagingKey, finalKey, err)
	}
	return nil
}

// Delete removes the object file. Idempotent: deleting a non-existent file
// is not an error. Empty parent directories are cleaned up.
func (b *LocalBackend) Delete(ctx context.Context, key string) error {
	objPath := b.objectPath(key)

	err := os.Remove(objPath)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing blob file %q: %w", key, err)
	}

	// Clean up empty shard directories up to the root.
	dir := filepath.Dir(objPath)
	for dir != b.RootDir {
		if err := os.Remove(dir); err != nil {
			// Directory not empty or other error: stop climbing.
			break
		}
		dir = filepath.Dir(dir)
	}

	return nil
}

// Exists checks whether an object is stored at key.
func (b *LocalBackend) Exists(ctx context.Context, key string) (bool, error) {
	info, err := os.Stat(b.objectPath(key))
	if err == nil {
		return !info.IsDir(), nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("checking blob existence %q: %w", key, err)
}

// CleanStaging removes everything under the staging prefix along with any
// leftover temp files. Called on startup as part of crash-only recovery.
func (b *LocalBackend) CleanStaging(ctx context.Context) error {
	if err := os.RemoveAll(filepath.Join(b.RootDir, stagingPrefix)); err != nil {
		return fmt.Errorf("removing staging directory: %w", err)
	}

	tmpDir := filepath.Join(b.RootDir, ".tmp")
	entries, err := os.ReadDir(tmpDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading temp directory: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			os.Remove(filepath.Join(tmpDir, entry.Name()))
		}
	}
	return nil
}

// HealthCheck verifies that the blob root directory is accessible.
func (b *LocalBackend) HealthCheck(ctx context.Context) error {
	_, err := os.Stat(b.RootDir)
	return err
}
