package domain

import (
	"math/big"
	"time"
)

// EngineStats are the aggregate counters the orchestrator maintains. Each
// counter is incremented exactly once per successful operation of its kind.
type EngineStats struct {
	SwapCount   int64
	BridgeCount int64
	TradeCount  int64
	Paused      bool
}

// BridgeVolume is the cumulative bridged value per direction, in token base
// units summed across tokens.
type BridgeVolume struct {
	TotalBridgedOut *big.Int
	TotalBridgedIn  *big.Int
}

// EngineState is the persisted orchestrator singleton: pause switch, counters,
// and bridge volume. It is stored alongside, not inside, order data so module
// swaps cannot corrupt in-flight orders.
type EngineState struct {
	EngineStats
	BridgeVolume
	UpdatedAt time.Time
}
