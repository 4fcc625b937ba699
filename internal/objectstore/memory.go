package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DefaultListPageSize matches the S3 ListObjectsV2 page limit.
const DefaultListPageSize = 1000

type memoryObject struct {
	data        []byte
	contentType string
}

// Call is one request seen by a MemoryBackend.
type Call struct {
	Op   string
	Keys []string
}

// MemoryBackend is an in-memory Backend for tests and local runs. It records
// every request and can be told to fail specific operations.
// This implementation is safe for concurrent use.
type MemoryBackend struct {
	mu       sync.RWMutex
	objects  map[string]memoryObject
	pageSize int
	calls    []Call
	failures map[string]error // "op" or "op key" -> error
}

// NewMemoryBackend creates an empty backend listing DefaultListPageSize keys
// per page.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		objects:  make(map[string]memoryObject),
		pageSize: DefaultListPageSize,
		failures: make(map[string]error),
	}
}

// SetPageSize changes how many keys ListObjects returns per page.
func (m *MemoryBackend) SetPageSize(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pageSize = n
}

// FailOn makes op fail with err. With a key, only requests touching that key
// fail; without one, every op request fails. A nil err clears the rule.
func (m *MemoryBackend) FailOn(op, key string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rule := op
	if key != "" {
		rule = op + " " + key
	}
	if err == nil {
		delete(m.failures, rule)
		return
	}
	m.failures[rule] = err
}

// Calls returns the requests seen so far.
func (m *MemoryBackend) Calls() []Call {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.calls)
}

// CallCount returns how many requests of op were seen. An empty op counts
// everything.
func (m *MemoryBackend) CallCount(op string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, c := range m.calls {
		if op == "" || c.Op == op {
			n++
		}
	}
	return n
}

// ResetCalls forgets recorded requests.
func (m *MemoryBackend) ResetCalls() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

// Keys returns every stored key in lexical order.
func (m *MemoryBackend) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Has reports whether key is stored.
func (m *MemoryBackend) Has(key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[key]
	return ok
}

// Content returns the bytes stored at key.
func (m *MemoryBackend) Content(key string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	return obj.data, ok
}

// ContentType returns the content type stored with key.
func (m *MemoryBackend) ContentType(key string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.objects[key].contentType
}

// record logs the call and returns the injected failure, if any. Callers
// hold m.mu.
func (m *MemoryBackend) record(op string, keys ...string) error {
	m.calls = append(m.calls, Call{Op: op, Keys: slices.Clone(keys)})
	for _, k := range keys {
		if err, ok := m.failures[op+" "+k]; ok {
			return err
		}
	}
	return m.failures[op]
}

func (m *MemoryBackend) PutObject(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read content: %w", err)
	}
	if int64(len(data)) != size {
		return fmt.Errorf("%w: size mismatch: expected %d bytes, got %d", ErrInvalidRequest, size, len(data))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("put", key); err != nil {
		return err
	}
	m.objects[key] = memoryObject{data: data, contentType: contentType}
	return nil
}

func (m *MemoryBackend) GetObject(ctx context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("get", key); err != nil {
		return nil, err
	}
	obj, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

func (m *MemoryBackend) HeadObject(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("head", key); err != nil {
		return false, err
	}
	_, ok := m.objects[key]
	return ok, nil
}

func (m *MemoryBackend) ListObjects(ctx context.Context, prefix, token string) ([]string, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("list", prefix); err != nil {
		return nil, "", err
	}

	var matching []string
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) && k > token {
			matching = append(matching, k)
		}
	}
	sort.Strings(matching)
	if len(matching) <= m.pageSize {
		return matching, "", nil
	}
	page := matching[:m.pageSize]
	return page, page[len(page)-1], nil
}

func (m *MemoryBackend) CopyObject(ctx context.Context, srcKey, dstKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("copy", srcKey, dstKey); err != nil {
		return err
	}
	obj, ok := m.objects[srcKey]
	if !ok {
		return fmt.Errorf("%w: %s", ErrObjectNotFound, srcKey)
	}
	m.objects[dstKey] = memoryObject{data: slices.Clone(obj.data), contentType: obj.contentType}
	return nil
}

// DeleteObject succeeds for missing keys, as S3 does.
func (m *MemoryBackend) DeleteObject(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("delete", key); err != nil {
		return err
	}
	delete(m.objects, key)
	return nil
}

func (m *MemoryBackend) DeleteObjects(ctx context.Context, keys []string) (map[string]error, error) {
	if len(keys) > MaxDeleteBatch {
		return nil, fmt.Errorf("%w: %d keys exceeds batch limit %d", ErrInvalidRequest, len(keys), MaxDeleteBatch)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Op: "delete_batch", Keys: slices.Clone(keys)})
	if err, ok := m.failures["delete_batch"]; ok {
		return nil, err
	}

	failed := make(map[string]error)
	for _, k := range keys {
		if err, ok := m.failures["delete_batch "+k]; ok {
			failed[k] = err
			continue
		}
		delete(m.objects, k)
	}
	return failed, nil
}

func (m *MemoryBackend) PresignGetObject(ctx context.Context, key, filename string, ttl time.Duration) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("presign", key); err != nil {
		return "", err
	}
	q := url.Values{}
	q.Set("filename", filename)
	q.Set("expires", strconv.FormatInt(int64(ttl/time.Second), 10))
	return "memory:///" + key + "?" + q.Encode(), nil
}

var _ Backend = (*MemoryBackend)(nil)
