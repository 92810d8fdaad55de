package db

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"crimewatch/internal/core"
)

// MemoryDB keeps reports for the lifetime of the process.
type MemoryDB struct {
	mu      sync.RWMutex
	reports map[string]core.Report
}

func NewMemoryDB() *MemoryDB {
	return &MemoryDB{reports: make(map[string]core.Report)}
}

func (m *MemoryDB) Save(_ context.Context, r *core.Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports[r.ID] = copyReport(*r)
	return nil
}

func (m *MemoryDB) Get(_ context.Context, id string) (*core.Report, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.reports[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrReportNotFound, id)
	}
	out := copyReport(r)
	return &out, nil
}

// List returns matching reports, newest first.
func (m *MemoryDB) List(_ context.Context, f core.Filter) ([]core.Report, error) {
	m.mu.RLock()
	out := make([]core.Report, 0, len(m.reports))
	for _, r := range m.reports {
		if f.Match(&r) {
			out = append(out, copyReport(r))
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MemoryDB) UpdateStatus(_ context.Context, id string, status core.CrimeStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reports[id]
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrReportNotFound, id)
	}
	r.Status = status
	m.reports[id] = r
	return nil
}

func copyReport(r core.Report) core.Report {
	r.Evidence = append([]core.Evidence(nil), r.Evidence...)
	return r
}
