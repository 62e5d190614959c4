package memory

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"stratvault/internal/domain"
)

// DCAPlanStore is an in-memory implementation of domain.DCAPlanStore.
type DCAPlanStore struct {
	mu     sync.RWMutex
	nextID int64
	data   map[int64]domain.DCAPlan
	order  []int64
}

// NewDCAPlanStore creates a new in-memory DCA plan store.
func NewDCAPlanStore() *DCAPlanStore {
	return &DCAPlanStore{
		nextID: 1,
		data:   make(map[int64]domain.DCAPlan),
	}
}

// Create assigns the next id and stores the plan.
func (s *DCAPlanStore) Create(_ context.Context, plan domain.DCAPlan) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	plan.ID = s.nextID
	s.nextID++
	if plan.AmountPerInterval != nil {
		plan.AmountPerInterval = new(big.Int).Set(plan.AmountPerInterval)
	}
	s.data[plan.ID] = plan
	s.order = append(s.order, plan.ID)
	return plan.ID, nil
}

// GetByID retrieves a single plan.
func (s *DCAPlanStore) GetByID(_ context.Context, id int64) (domain.DCAPlan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	plan, ok := s.data[id]
	if !ok {
		return domain.DCAPlan{}, domain.ErrNotFound
	}
	return plan, nil
}

// ListByTrader returns the trader's plans in insertion order.
func (s *DCAPlanStore) ListByTrader(_ context.Context, trader common.Address) ([]domain.DCAPlan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var plans []domain.DCAPlan
	for _, id := range s.order {
		if p := s.data[id]; p.Trader == trader {
			plans = append(plans, p)
		}
	}
	return plans, nil
}

// ListActive returns all active plans in insertion order.
func (s *DCAPlanStore) ListActive(_ context.Context) ([]domain.DCAPlan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var plans []domain.DCAPlan
	for _, id := range s.order {
		if p := s.data[id]; p.Active {
			plans = append(plans, p)
		}
	}
	return plans, nil
}

// Deactivate atomically flips Active to false.
func (s *DCAPlanStore) Deactivate(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	plan, ok := s.data[id]
	if !ok {
		return domain.ErrNotFound
	}
	if !plan.Active {
		return domain.ErrPlanInactive
	}
	plan.Active = false
	s.data[id] = plan
	return nil
}

// Reactivate rolls back a deactivation whose refund failed.
func (s *DCAPlanStore) Reactivate(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	plan, ok := s.data[id]
	if !ok {
		return domain.ErrNotFound
	}
	plan.Active = true
	s.data[id] = plan
	return nil
}

// MarkIntervalExecuted increments ExecutedIntervals and advances the schedule.
func (s *DCAPlanStore) MarkIntervalExecuted(_ context.Context, id int64, next time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	plan, ok := s.data[id]
	if !ok {
		return domain.ErrNotFound
	}
	if !plan.Active || plan.ExecutedIntervals >= plan.TotalIntervals {
		return domain.ErrPlanInactive
	}

	plan.ExecutedIntervals++
	plan.NextExecutionAt = next
	if plan.ExecutedIntervals >= plan.TotalIntervals {
		plan.Active = false
	}
	s.data[id] = plan
	return nil
}

// Compile-time interface check.
var _ domain.DCAPlanStore = (*DCAPlanStore)(nil)
