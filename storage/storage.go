package storage

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
)

// ErrNotFound is returned by Get when nothing is stored at a path.
var ErrNotFound = errors.New("storage: object not found")

// Object describes one stored blob without its contents.
type Object struct {
	Path        string
	URL         string
	Size        int64
	ContentType string
	UpdatedAt   time.Time
}

// Store is a path-addressed blob store. Writes to an existing path replace it.
type Store interface {
	Put(ctx context.Context, path string, data []byte, contentType string) (string, error)
	Get(ctx context.Context, path string) ([]byte, error)
	// List returns every object whose path starts with prefix, sorted by path.
	List(ctx context.Context, prefix string) ([]Object, error)
	Close() error
}

type memoryBlob struct {
	data        []byte
	contentType string
	updatedAt   time.Time
}

type MemoryStore struct {
	mu      sync.RWMutex
	blobs   map[string]memoryBlob
	baseURL string
	now     func() time.Time
}

type MemoryOption func(*MemoryStore)

// WithMemoryClock sets the clock used to stamp UpdatedAt.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(m *MemoryStore) { m.now = now }
}

func NewMemoryStore(baseURL string, opts ...MemoryOption) *MemoryStore {
	m := &MemoryStore{
		blobs:   make(map[string]memoryBlob),
		baseURL: strings.TrimRight(baseURL, "/"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *MemoryStore) Put(ctx context.Context, path string, data []byte, contentType string) (string, error) {
	if err := validatePath(path); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.blobs[path] = memoryBlob{
		data:        append([]byte(nil), data...),
		contentType: contentType,
		updatedAt:   m.now().UTC(),
	}
	return fileURL(m.baseURL, path), nil
}

func (m *MemoryStore) Get(ctx context.Context, path string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	blob, ok := m.blobs[path]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), blob.data...), nil
}

func (m *MemoryStore) List(ctx context.Context, prefix string) ([]Object, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var objects []Object
	for path, blob := range m.blobs {
		if !strings.HasPrefix(path, prefix) {
			continue
		}
		objects = append(objects, Object{
			Path:        path,
			URL:         fileURL(m.baseURL, path),
			Size:        int64(len(blob.data)),
			ContentType: blob.contentType,
			UpdatedAt:   blob.updatedAt,
		})
	}

	sort.Slice(objects, func(i, j int) bool { return objects[i].Path < objects[j].Path })
	return objects, nil
}

// Len reports how many blobs are stored.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blobs)
}

func (m *MemoryStore) Close() error {
	return nil
}

// fileURL is the URL under which the HTTP layer serves blobs for backends
// that have no public endpoint of their own.
func fileURL(baseURL, path string) string {
	return baseURL + "/files/" + path
}

func validatePath(path string) error {
	if path == "" || strings.HasPrefix(path, "/") || strings.Contains(path, "..") {
		return errors.New("storage: invalid object path " + `"` + path + `"`)
	}
	return nil
}
