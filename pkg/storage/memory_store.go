package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"sync"
	"time"
)

// StoredObject is a report kept by MemoryStore.
type StoredObject struct {
	Data        []byte
	ContentType string
}

// MemoryStore keeps objects in process. Presigned URLs use the memory:// scheme.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]StoredObject
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]StoredObject)}
}

func (m *MemoryStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var buf bytes.Buffer
	n, err := io.Copy(&buf, r)
	if err != nil {
		return fmt.Errorf("read object %s: %w", key, err)
	}
	if size >= 0 && n != size {
		return fmt.Errorf("object %s: size mismatch, declared %d read %d", key, size, n)
	}
	m.mu.Lock()
	m.objects[key] = StoredObject{Data: buf.Bytes(), ContentType: contentType}
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) PresignGet(_ context.Context, key string, expiry time.Duration) (string, error) {
	m.mu.RLock()
	_, ok := m.objects[key]
	m.mu.RUnlock()
	if !ok {
		return "", ErrObjectNotFound
	}
	u := url.URL{Scheme: "memory", Path: "/" + key, RawQuery: url.Values{"expires": {expiry.String()}}.Encode()}
	return u.String(), nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.objects, key)
	m.mu.Unlock()
	return nil
}

// Get returns a stored object.
func (m *MemoryStore) Get(key string) (StoredObject, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	return obj, ok
}
