package quota

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/vnmchuo/usage-governor/internal/plan"
)

// MemoryStore keeps usage records in process. Used for tests and local runs.
type MemoryStore struct {
	mu      sync.Mutex
	records map[Key]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[Key]Record)}
}

func (s *MemoryStore) Get(ctx context.Context, key Key) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[key], nil
}

func (s *MemoryStore) Add(ctx context.Context, key Key, count int64, cost decimal.Decimal) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.records[key]
	rec.Count += count
	rec.Cost = rec.Cost.Add(cost)
	s.records[key] = rec
	return rec, nil
}

func (s *MemoryStore) AddWithin(ctx context.Context, key Key, count int64, cost decimal.Decimal, limit plan.Limit) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.records[key]
	if !Fits(rec, limit, count, cost) {
		return rec, false, nil
	}
	rec.Count += count
	rec.Cost = rec.Cost.Add(cost)
	s.records[key] = rec
	return rec, true, nil
}
