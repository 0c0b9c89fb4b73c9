package tracker

import (
	"context"
	"errors"
	"sync"
)

// ErrStaleVersion is returned by MemoryPersistence.Save on a version mismatch.
var ErrStaleVersion = errors.New("stale document version")

type memoryDoc struct {
	version int64
	doc     []byte
}

// MemoryPersistence keeps documents in process memory. It backs tests and
// one-shot CLI runs that do not need durability.
type MemoryPersistence struct {
	mu   sync.Mutex
	docs map[int64]memoryDoc
}

func NewMemoryPersistence() *MemoryPersistence {
	return &MemoryPersistence{docs: make(map[int64]memoryDoc)}
}

func (m *MemoryPersistence) Load(_ context.Context, ownerID int64) ([]byte, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[ownerID]
	if !ok {
		return nil, 0, nil
	}
	return append([]byte(nil), d.doc...), d.version, nil
}

func (m *MemoryPersistence) Save(_ context.Context, ownerID, expected int64, doc []byte) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.docs[ownerID].version != expected {
		return 0, ErrStaleVersion
	}
	next := expected + 1
	m.docs[ownerID] = memoryDoc{version: next, doc: append([]byte(nil), doc...)}
	return next, nil
}

func (m *MemoryPersistence) Version(_ context.Context, ownerID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.docs[ownerID].version, nil
}
