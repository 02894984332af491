package billing

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MemoryStore keeps events in process. Used by tests and the memory backend.
type MemoryStore struct {
	mu     sync.Mutex
	events []*UsageEvent
	now    func() time.Time
}

func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{now: now}
}

func (s *MemoryStore) LogUsage(ctx context.Context, e *UsageEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e.ID = uuid.New().String()
	e.CreatedAt = s.now()
	cp := *e
	s.events = append(s.events, &cp)
	return nil
}

func (s *MemoryStore) GetUsageByTenant(ctx context.Context, tenantID string, from, to time.Time) ([]*UsageEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*UsageEvent
	for _, e := range s.events {
		if e.TenantID == tenantID && !e.CreatedAt.Before(from) && !e.CreatedAt.After(to) {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) Summarize(ctx context.Context, tenantID string, from, to time.Time) (Summary, error) {
	events, _ := s.GetUsageByTenant(ctx, tenantID, from, to)
	sum := Summary{TotalCostUSD: decimal.Zero}
	for _, e := range events {
		sum.Requests++
		if e.Cached {
			sum.CachedHits++
		}
		sum.TotalCostUSD = sum.TotalCostUSD.Add(e.CostUSD)
	}
	return sum, nil
}

// Len reports the number of stored events.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}
