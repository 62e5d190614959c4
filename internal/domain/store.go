package domain

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ListOpts provides pagination and filtering for list queries. AfterID is a
// keyset cursor: only rows with a larger id are returned, which keeps a
// batched scan stable while earlier rows change status underneath it.
type ListOpts struct {
	Limit   int
	Offset  int
	AfterID int64
	Since   *time.Time
	Until   *time.Time
}

// TradeStore persists conditional orders. Create assigns the next
// monotonically increasing id; ids are never reused.
type TradeStore interface {
	Create(ctx context.Context, trade Trade) (int64, error)
	GetByID(ctx context.Context, id int64) (Trade, error)

	// ListByTrader returns the trader's trades in insertion order.
	ListByTrader(ctx context.Context, trader common.Address) ([]Trade, error)
	ListPending(ctx context.Context, opts ListOpts) ([]Trade, error)

	// TransitionStatus atomically moves a trade from one status to another.
	// It returns ErrNotFound when the id does not exist and ErrNotPending
	// when the trade is no longer in the expected status, so two racing
	// terminal transitions resolve to exactly one winner.
	TransitionStatus(ctx context.Context, id int64, from, to TradeStatus, at time.Time) error
}

// DCAPlanStore persists dollar-cost-average plans.
type DCAPlanStore interface {
	Create(ctx context.Context, plan DCAPlan) (int64, error)
	GetByID(ctx context.Context, id int64) (DCAPlan, error)
	ListByTrader(ctx context.Context, trader common.Address) ([]DCAPlan, error)
	ListActive(ctx context.Context) ([]DCAPlan, error)

	// Deactivate atomically flips Active to false. It returns ErrNotFound
	// for unknown ids and ErrPlanInactive when the plan is already inactive.
	Deactivate(ctx context.Context, id int64) error

	// Reactivate is the compensating operation for Deactivate, used to roll
	// back a cancellation whose refund transfer failed.
	Reactivate(ctx context.Context, id int64) error

	// MarkIntervalExecuted increments ExecutedIntervals and advances
	// NextExecutionAt, deactivating the plan once all intervals have run.
	// It fails with ErrPlanInactive when the plan is inactive or complete.
	MarkIntervalExecuted(ctx context.Context, id int64, next time.Time) error
}

// ChainConfigStore persists per-destination bridge configuration.
type ChainConfigStore interface {
	Upsert(ctx context.Context, cfg ChainConfig) error
	Get(ctx context.Context, chainSelector uint64) (ChainConfig, error)
	List(ctx context.Context) ([]ChainConfig, error)
}

// PriceFeedStore persists the symbol -> price source registry.
type PriceFeedStore interface {
	Upsert(ctx context.Context, entry PriceFeedEntry) error
	UpsertBatch(ctx context.Context, entries []PriceFeedEntry) error
	Get(ctx context.Context, symbol string) (PriceFeedEntry, error)
	List(ctx context.Context) ([]PriceFeedEntry, error)
}

// EngineStateStore persists the orchestrator singleton record. Counter
// increments are atomic; each successful operation bumps its counter once.
type EngineStateStore interface {
	Get(ctx context.Context) (EngineState, error)
	SetPaused(ctx context.Context, paused bool) error
	IncrementSwapCount(ctx context.Context) error
	IncrementBridgeCount(ctx context.Context) error
	IncrementTradeCount(ctx context.Context) error
	AddBridgedOut(ctx context.Context, amount *big.Int) error
	AddBridgedIn(ctx context.Context, amount *big.Int) error
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log of fund-moving operations.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
