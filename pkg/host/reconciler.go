package host

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/taurusjun/quantlink-trade-system-sub005/pkg/broker"
	"github.com/taurusjun/quantlink-trade-system-sub005/pkg/strategy"
)

// PositionQuerier is the slice of the broker surface the reconciler
// needs. Satisfied by a broker.Adapter directly (simulation) or by an
// HTTP client against the bridge's position endpoint (live).
type PositionQuerier interface {
	QueryPositions() (map[string][]broker.PositionInfo, error)
}

const (
	queryRetries    = 15
	queryRetryDelay = 2 * time.Second
	// stabilizeDelay is the pause between deleting the stale snapshots
	// and the correction re-query: let the counter settle first.
	stabilizeDelay = 1 * time.Second
)

// PositionReconciler loads persisted snapshots at startup, compares them
// against broker truth, and corrects from the broker on mismatch. The
// periodic re-verification only surfaces diagnostics.
type PositionReconciler struct {
	mode       string
	querier    PositionQuerier
	strategies func() map[int32]strategy.Strategy

	retries    int
	retryDelay time.Duration
	stabilize  time.Duration
}

// NewPositionReconciler creates a reconciler.
func NewPositionReconciler(mode string, q PositionQuerier, strategies func() map[int32]strategy.Strategy) *PositionReconciler {
	return &PositionReconciler{
		mode:       mode,
		querier:    q,
		strategies: strategies,
		retries:    queryRetries,
		retryDelay: queryRetryDelay,
		stabilize:  stabilizeDelay,
	}
}

// ReconcileOnStartup runs the startup algorithm. It never blocks startup
// on a mismatch: broker truth wins and the host proceeds.
func (r *PositionReconciler) ReconcileOnStartup() error {
	brokerPos, err := r.queryWithRetry()
	if err != nil {
		return fmt.Errorf("reconcile: broker query: %w", err)
	}
	brokerNet := aggregateBroker(brokerPos)

	table := r.strategies()

	// Load saved snapshots and aggregate by symbol across strategies.
	savedNet := make(map[string]int64)
	haveSnapshot := false
	snapshots := make(map[int32]*strategy.PositionSnapshot)
	for id := range table {
		snap, err := strategy.LoadPositionSnapshot(r.mode, id)
		if err != nil {
			log.Printf("[Reconciler] snapshot load for %d failed: %v", id, err)
			continue
		}
		if snap == nil {
			continue
		}
		haveSnapshot = true
		snapshots[id] = snap
		for sym, qty := range snap.SymbolsPos {
			savedNet[sym] += qty
		}
	}

	if !haveSnapshot {
		log.Printf("[Reconciler] no snapshots, seeding from broker truth")
		r.seedFromBroker(brokerPos)
		r.persistAll()
		return nil
	}

	if netEqual(savedNet, brokerNet) {
		log.Printf("[Reconciler] snapshots match broker (%d symbols), seeding", len(brokerNet))
		for id, snap := range snapshots {
			s := table[id]
			seed := make(map[string]strategy.PositionWithCost, len(snap.SymbolsPos))
			for sym, qty := range snap.SymbolsPos {
				seed[sym] = strategy.PositionWithCost{Quantity: qty, AvgCost: avgCostFor(brokerPos, sym)}
			}
			if err := s.InitializePositionsWithCost(seed); err != nil {
				log.Printf("[Reconciler] seed strategy %d: %v", id, err)
			}
		}
		return nil
	}

	// 快照与券商不一致：以券商为准自动纠正，不阻塞启动。
	log.Printf("[Reconciler] MISMATCH saved=%v broker=%v — correcting from broker", savedNet, brokerNet)
	for id := range snapshots {
		if err := strategy.DeletePositionSnapshot(r.mode, id); err != nil {
			log.Printf("[Reconciler] delete snapshot %d: %v", id, err)
		}
	}

	time.Sleep(r.stabilize)
	brokerPos, err = r.queryWithRetry()
	if err != nil {
		return fmt.Errorf("reconcile: re-query after mismatch: %w", err)
	}

	r.seedFromBroker(brokerPos)
	r.persistAll()
	return nil
}

// Verify re-aggregates estimates against broker truth; mismatches are
// surfaced, not self-healed — mid-session auto-correction would fight
// in-flight orders.
func (r *PositionReconciler) Verify() error {
	brokerPos, err := r.querier.QueryPositions()
	if err != nil {
		return fmt.Errorf("reconcile: verify query: %w", err)
	}
	brokerNet := aggregateBroker(brokerPos)

	estNet := make(map[string]int64)
	for _, s := range r.strategies() {
		for sym, qty := range s.PositionsBySymbol() {
			estNet[sym] += qty
		}
	}

	if !netEqual(estNet, brokerNet) {
		return fmt.Errorf("reconcile: position mismatch: strategies=%v broker=%v", estNet, brokerNet)
	}
	return nil
}

// queryWithRetry distinguishes "not ready" (retry) from permanent
// failure.
func (r *PositionReconciler) queryWithRetry() (map[string][]broker.PositionInfo, error) {
	var lastErr error
	for attempt := 1; attempt <= r.retries; attempt++ {
		pos, err := r.querier.QueryPositions()
		if err == nil {
			return pos, nil
		}
		lastErr = err
		if !errors.Is(err, broker.ErrNotReady) {
			return nil, err
		}
		log.Printf("[Reconciler] broker not ready (attempt %d/%d)", attempt, r.retries)
		time.Sleep(r.retryDelay)
	}
	return nil, fmt.Errorf("broker never became ready: %w", lastErr)
}

// seedFromBroker pushes broker truth into the strategies. With multiple
// strategies the broker total lands on the first strategy holding that
// symbol in its subscription set; unclaimed symbols go to the lowest id.
func (r *PositionReconciler) seedFromBroker(brokerPos map[string][]broker.PositionInfo) {
	table := r.strategies()
	brokerNet := aggregateBroker(brokerPos)

	// Assign each symbol to one strategy.
	perStrategy := make(map[int32]map[string]strategy.PositionWithCost)
	for id := range table {
		perStrategy[id] = make(map[string]strategy.PositionWithCost)
	}

	for sym, qty := range brokerNet {
		owner := r.ownerFor(sym, table)
		if owner == 0 {
			log.Printf("[Reconciler] no strategy subscribes %s (broker qty %d), leaving unassigned", sym, qty)
			continue
		}
		perStrategy[owner][sym] = strategy.PositionWithCost{
			Quantity: qty,
			AvgCost:  avgCostFor(brokerPos, sym),
		}
	}

	for id, seed := range perStrategy {
		if err := table[id].InitializePositionsWithCost(seed); err != nil {
			log.Printf("[Reconciler] seed strategy %d: %v", id, err)
		}
	}
}

func (r *PositionReconciler) ownerFor(symbol string, table map[int32]strategy.Strategy) int32 {
	var fallback int32
	for id, s := range table {
		if fallback == 0 || id < fallback {
			fallback = id
		}
		for _, sym := range s.Symbols() {
			if sym == symbol {
				return id
			}
		}
	}
	return fallback
}

func (r *PositionReconciler) persistAll() {
	for id, s := range r.strategies() {
		if err := s.SaveSnapshot(); err != nil {
			log.Printf("[Reconciler] persist snapshot %d: %v", id, err)
		}
	}
}

// aggregateBroker nets long/short rows per symbol.
func aggregateBroker(byExchange map[string][]broker.PositionInfo) map[string]int64 {
	net := make(map[string]int64)
	for _, rows := range byExchange {
		for _, p := range rows {
			qty := int64(p.Volume)
			if p.Direction == "short" {
				qty = -qty
			}
			net[p.Symbol] += qty
		}
	}
	// Drop zeros so flat symbols compare equal to their absence.
	for sym, qty := range net {
		if qty == 0 {
			delete(net, sym)
		}
	}
	return net
}

func avgCostFor(byExchange map[string][]broker.PositionInfo, symbol string) float64 {
	for _, rows := range byExchange {
		for _, p := range rows {
			if p.Symbol == symbol && p.AvgPrice > 0 {
				return p.AvgPrice
			}
		}
	}
	return 0
}

func netEqual(a, b map[string]int64) bool {
	if len(a) != len(b) {
		return false
	}
	for sym, qty := range a {
		if b[sym] != qty {
			return false
		}
	}
	return true
}
