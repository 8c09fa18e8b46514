package storage

import (
	"context"
	"strings"
	"sync"

	"rosterchat/internal/domain/service"
	"rosterchat/pkg/errors"
)

const memoryURLPrefix = "memory://"

// MemoryObjectStore keeps uploads in process. Used by the memory backend.
type MemoryObjectStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func NewMemoryObjectStore() *MemoryObjectStore {
	return &MemoryObjectStore{objects: make(map[string][]byte)}
}

var _ service.ObjectStore = (*MemoryObjectStore)(nil)

func (m *MemoryObjectStore) Upload(ctx context.Context, data []byte, pathHint string) (string, error) {
	_, ext, err := DetectImage(data)
	if err != nil {
		return "", err
	}

	name := objectName(pathHint, ext)
	m.mu.Lock()
	m.objects[name] = append([]byte(nil), data...)
	m.mu.Unlock()
	return memoryURLPrefix + name, nil
}

func (m *MemoryObjectStore) Delete(ctx context.Context, url string) error {
	name := strings.TrimPrefix(url, memoryURLPrefix)

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.objects[name]; !ok {
		return errors.NotFound("Object", nil)
	}
	delete(m.objects, name)
	return nil
}

// Get returns a stored object by URL.
func (m *MemoryObjectStore) Get(url string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, ok := m.objects[strings.TrimPrefix(url, memoryURLPrefix)]
	return data, ok
}
