package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
)

type Object struct {
	ContentType string
	Data        []byte
}

// MemoryStorage is an in-process object store for development and tests.
type MemoryStorage struct {
	prefix string

	mu      sync.RWMutex
	objects map[string]Object
}

func NewMemoryStorage(prefix string) *MemoryStorage {
	return &MemoryStorage{prefix: prefix, objects: make(map[string]Object)}
}

func (m *MemoryStorage) Upload(ctx context.Context, name string, data io.Reader, size int64, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var buf bytes.Buffer
	n, err := io.Copy(&buf, data)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", name, err)
	}
	if size >= 0 && n != size {
		return "", fmt.Errorf("object %s: read %d bytes, expected %d", name, n, size)
	}

	m.mu.Lock()
	m.objects[name] = Object{ContentType: contentType, Data: buf.Bytes()}
	m.mu.Unlock()
	return m.prefix + "/" + name, nil
}

func (m *MemoryStorage) Get(name string) (Object, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.objects[name]
	return o, ok
}
