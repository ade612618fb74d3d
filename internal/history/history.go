// Package history persists evaluation results so learners can review past
// attempts. Results are stored as opaque JSON snapshots; the evaluation core
// never reads them back into its own pipeline.
package history

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/avennor/sonalign/internal/eval"
)

// Record is one stored evaluation snapshot.
type Record struct {
	ID        int64       `json:"id"`
	CreatedAt time.Time   `json:"created_at"`
	Result    eval.Result `json:"result"`
}

// Store persists and lists evaluation snapshots.
// Implementations must be safe for concurrent use.
type Store interface {
	// Save stores the result and returns nothing but an error; history writes
	// must never influence the evaluation outcome.
	Save(ctx context.Context, res *eval.Result) error

	// Recent returns up to limit records, newest first.
	Recent(ctx context.Context, limit int) ([]Record, error)
}

// MemStore is an in-memory Store used when no database is configured and in
// tests. Safe for concurrent use.
type MemStore struct {
	mu      sync.Mutex
	nextID  int64
	records []Record

	// MaxRecords bounds memory use; older records are dropped first.
	// Zero means the default of 1000.
	MaxRecords int
}

const defaultMaxRecords = 1000

var _ Store = (*MemStore)(nil)

// Save implements Store.
func (m *MemStore) Save(_ context.Context, res *eval.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	m.records = append(m.records, Record{
		ID:        m.nextID,
		CreatedAt: time.Now().UTC(),
		Result:    *res,
	})

	limit := m.MaxRecords
	if limit <= 0 {
		limit = defaultMaxRecords
	}
	if len(m.records) > limit {
		m.records = m.records[len(m.records)-limit:]
	}
	return nil
}

// Recent implements Store.
func (m *MemStore) Recent(_ context.Context, limit int) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Record, len(m.records))
	copy(out, m.records)
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
