package zarr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// ErrNotFound reports a key with no object behind it. Missing chunk objects
// are synthesized from the array fill value rather than surfaced as errors.
var ErrNotFound = errors.New("not found")

// Store is a read-only object store keyed by URL-like strings.
type Store interface {
	// Get fetches the whole object at key.
	Get(ctx context.Context, key string) ([]byte, error)
	// GetRange fetches length bytes starting at offset.
	GetRange(ctx context.Context, key string, offset, length int64) ([]byte, error)
	// GetSuffix fetches the trailing length bytes of the object.
	GetSuffix(ctx context.Context, key string, length int64) ([]byte, error)
}

// HTTPStore reads objects over plain HTTP(S). Keys are absolute URLs.
type HTTPStore struct {
	client *http.Client
}

// NewHTTPStore creates a store backed by an HTTP client. A nil client gets a
// default with a request timeout.
func NewHTTPStore(client *http.Client) *HTTPStore {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &HTTPStore{client: client}
}

func (s *HTTPStore) Get(ctx context.Context, key string) ([]byte, error) {
	return s.fetch(ctx, key, "")
}

func (s *HTTPStore) GetRange(ctx context.Context, key string, offset, length int64) ([]byte, error) {
	if offset < 0 || length <= 0 {
		return nil, fmt.Errorf("invalid range offset=%d length=%d", offset, length)
	}
	data, err := s.fetch(ctx, key, fmt.Sprintf("bytes=%d-%d", offset, offset+length-1))
	if err != nil {
		return nil, err
	}
	// Servers without range support return the full object.
	if int64(len(data)) > length {
		if offset >= int64(len(data)) {
			return nil, fmt.Errorf("range offset %d beyond object size %d", offset, len(data))
		}
		end := offset + length
		if end > int64(len(data)) {
			end = int64(len(data))
		}
		data = data[offset:end]
	}
	return data, nil
}

func (s *HTTPStore) GetSuffix(ctx context.Context, key string, length int64) ([]byte, error) {
	if length <= 0 {
		return nil, fmt.Errorf("invalid suffix length %d", length)
	}
	data, err := s.fetch(ctx, key, fmt.Sprintf("bytes=-%d", length))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > length {
		data = data[int64(len(data))-length:]
	}
	return data, nil
}

func (s *HTTPStore) fetch(ctx context.Context, key, rangeHeader string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, key, nil)
	if err != nil {
		return nil, fmt.Errorf("build request for %s: %w", key, err)
	}
	if rangeHeader != "" {
		req.Header.Set("Range", rangeHeader)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	case resp.StatusCode >= 300:
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("fetch %s: unexpected status %d", key, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body of %s: %w", key, err)
	}
	return data, nil
}

// MemoryStore is an in-memory Store used by tests.
type MemoryStore struct {
	mu   sync.Mutex
	data map[string][]byte

	// GetCalls counts whole-object fetches, for asserting fetch avoidance.
	GetCalls int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: map[string][]byte{}}
}

// Put stores an object. Keys are matched exactly on Get.
func (s *MemoryStore) Put(key string, val []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = val
}

func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.GetCalls++
	d, ok := s.data[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	out := make([]byte, len(d))
	copy(out, d)
	return out, nil
}

func (s *MemoryStore) GetRange(ctx context.Context, key string, offset, length int64) ([]byte, error) {
	d, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if offset < 0 || offset+length > int64(len(d)) {
		return nil, fmt.Errorf("range out of bounds for %s: offset=%d length=%d size=%d", key, offset, length, len(d))
	}
	return d[offset : offset+length], nil
}

func (s *MemoryStore) GetSuffix(ctx context.Context, key string, length int64) ([]byte, error) {
	d, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if length > int64(len(d)) {
		return nil, fmt.Errorf("suffix longer than object %s: %d > %d", key, length, len(d))
	}
	return d[int64(len(d))-length:], nil
}

// JoinPath joins a root URL and a relative path with a single slash.
func JoinPath(root, rel string) string {
	if rel == "" {
		return root
	}
	return strings.TrimSuffix(root, "/") + "/" + strings.TrimPrefix(rel, "/")
}
