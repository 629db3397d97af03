package blob

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"

	gcs "cloud.google.com/go/storage"
)

// mockGCSClient implements GCSAPI for unit testing.
type mockGCSClient struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMockGCSClient() *mockGCSClient {
	return &mockGCSClient{objects: make(map[string][]byte)}
}

// mockGCSWriter buffers writes and commits to the mock's map on Close.
type mockGCSWriter struct {
	buf    bytes.Buffer
	commit func([]byte)
}

func (w *mockGCSWriter) Write(p []byte) (int, error) { return w.buf.Write(p) }
func (w *mockGCSWriter) Close() error {
	w.commit(w.buf.Bytes())
	return nil
}

func (m *mockGCSClient) NewWriter(ctx context.Context, bucket, object string) io.WriteCloser {
	return &mockGCSWriter{commit: func(data []byte) {
		m.mu.Lock()
		m.objects[object] = data
		m.mu.Unlock()
	}}
}

func (m *mockGCSClient) NewReader(ctx context.Context, bucket, object string) (io.ReadCloser, error) {
	m.mu.Lock()
	data, ok := m.objects[object]
	m.mu.Unlock()
	if !ok {
		return nil, gcs.ErrObjectNotExist
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *mockGCSClient) Delete(ctx context.Context, bucket, object string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[object]; !ok {
		return gcs.ErrObjectNotExist
	}
	delete(m.objects, object)
	return nil
}

func (m *mockGCSClient) Size(ctx context.Context, bucket, object string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[object]
	if !ok {
		return 0, gcs.ErrObjectNotExist
	}
	return int64(len(data)), nil
}

func (m *mockGCSClient) Copy(ctx context.Context, bucket, srcObject, dstObject string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[srcObject]
	if !ok {
		return gcs.ErrObjectNotExist
	}
	dst := make([]byte, len(data))
	copy(dst, data)
	m.objects[dstObject] = dst
	return nil
}

func (m *mockGCSClient) ListObjects(ctx context.Context, bucket, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var names []string
	for name := range m.objects {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	return names, nil
}

func TestGCPGatewayRoundTrip(t *testing.T) {
	mock := newMockGCSClient()
	backend := NewGCPGatewayBackendWithClient("bucket", "sealbox/", mock)
	ctx := context.Background()

	if _, err := backend.Put(ctx, stagingPrefix+"tok", strings.NewReader("data"), 4); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, ok := mock.objects["sealbox/staging/tok"]; !ok {
		t.Fatal("staged object not stored under prefixed name")
	}

	if err := backend.Promote(ctx, stagingPrefix+"tok", "content/aa/bb/aabb"); err != nil {
		t.Fatalf("Promote: %v", err)
	}
	if _, ok := mock.objects["sealbox/staging/tok"]; ok {
		t.Error("staged object remains after Promote")
	}

	rc, size, err := backend.Open(ctx, "content/aa/bb/aabb")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	if size != 4 || !bytes.Equal(data, []byte("data")) {
		t.Errorf("Open = %q (size %d), want %q (size 4)", data, size, "data")
	}

	if err := backend.Delete(ctx, "content/aa/bb/aabb"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if exists, _ := backend.Exists(ctx, "content/aa/bb/aabb"); exists {
		t.Error("object exists after Delete")
	}
	// Deleting a missing object is not an error.
	if err := backend.Delete(ctx, "content/aa/bb/aabb"); err != nil {
		t.Errorf("second Delete: %v", err)
	}
}

func TestGCPGatewayCleanStaging(t *testing.T) {
	mock := newMockGCSClient()
	backend := NewGCPGatewayBackendWithClient("bucket", "", mock)
	ctx := context.Background()

	if _, err := backend.Put(ctx, stagingPrefix+"one", strings.NewReader("x"), 1); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := backend.Put(ctx, "content/aa/bb/keep", strings.NewReader("z"), 1); err != nil {
		t.Fatalf("Put: %v", err)
	}

	if err := backend.CleanStaging(ctx); err != nil {
		t.Fatalf("CleanStaging: %v", err)
	}
	if _, ok := mock.objects["staging/one"]; ok {
		t.Error("staged object survived CleanStaging")
	}
	if _, ok := mock.objects["content/aa/bb/keep"]; !ok {
		t.Error("promoted object removed by CleanStaging")
	}
}
