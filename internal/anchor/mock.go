package anchor

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// MockWriter keeps anchored roots in memory. Latency simulates the network
// round trip of a real ledger.
type MockWriter struct {
	Latency time.Duration

	mu    sync.Mutex
	roots map[string]string
}

func NewMockWriter(latency time.Duration) *MockWriter {
	return &MockWriter{Latency: latency, roots: make(map[string]string)}
}

func (m *MockWriter) Write(root string, metadata string) (string, error) {
	if m.Latency > 0 {
		time.Sleep(m.Latency)
	}
	sum := sha256.Sum256([]byte(root + metadata + time.Now().String()))
	txID := "0x" + hex.EncodeToString(sum[:])

	m.mu.Lock()
	m.roots[root] = metadata
	m.mu.Unlock()
	return txID, nil
}

// Read returns the metadata anchored with root.
func (m *MockWriter) Read(root string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	meta, ok := m.roots[root]
	return meta, ok
}
