// Package strategy defines the contract every hosted strategy satisfies
// and the Kernel that carries the per-strategy state: book views,
// estimated positions, PNL, parameters, and the control state machine.
package strategy

import (
	"github.com/taurusjun/quantlink-trade-system-sub005/pkg/shm"
)

// Strategy is the host contract. Strategies hold no reference back to the
// host: orders leave through the queue the kernel was bound to, and
// callbacks arrive through the dispatcher.
type Strategy interface {
	ID() int32
	Symbols() []string

	// OnTick is called for every market update on a subscribed symbol.
	OnTick(md *shm.MarketUpdate)

	// OnOrderUpdate is called for every response routed to this
	// strategy id.
	OnOrderUpdate(resp *shm.ResponseMsg)

	// UpdateParameters atomically replaces the parameter map.
	UpdateParameters(params map[string]interface{}) error

	// Control surface.
	Activate()
	Deactivate()
	TriggerFlatten(reason FlattenReason)
	RunState() RunState

	// Position/PNL surface used by reconciliation and risk.
	PositionsBySymbol() map[string]int64
	InitializePositionsWithCost(positions map[string]PositionWithCost) error
	PNL() PNLSnapshot

	// SaveSnapshot persists the estimated positions.
	SaveSnapshot() error
}

// PositionWithCost 持仓数量（正=多头，负=空头）加成本价。
type PositionWithCost struct {
	Quantity int64
	AvgCost  float64
}

// PNLSnapshot is the strategy's profit view at a point in time.
type PNLSnapshot struct {
	Realized    float64 `json:"realized"`
	Unrealized  float64 `json:"unrealized"`
	Net         float64 `json:"net"`
	MaxNet      float64 `json:"max_net"`
	Drawdown    float64 `json:"drawdown"` // net - maxNet, ≤ 0
	Exposure    float64 `json:"exposure"` // Σ |netQty| * mark * multiplier
	RejectCount int32   `json:"reject_count"`
}
