package host

import (
	"testing"
	"time"

	"github.com/taurusjun/quantlink-trade-system-sub005/pkg/broker"
	"github.com/taurusjun/quantlink-trade-system-sub005/pkg/strategy"
)

func strategyTable(ss ...strategy.Strategy) func() map[int32]strategy.Strategy {
	m := make(map[int32]strategy.Strategy)
	for _, s := range ss {
		m[s.ID()] = s
	}
	return func() map[int32]strategy.Strategy { return m }
}

func newRecKernel(t *testing.T, id int32, symbol string) *strategy.MeanRevStrategy {
	t.Helper()
	return strategy.NewMeanRevStrategy(id, "simulation", symbol)
}

func fastReconciler(mode string, q PositionQuerier, table func() map[int32]strategy.Strategy) *PositionReconciler {
	r := NewPositionReconciler(mode, q, table)
	r.retryDelay = time.Millisecond
	r.stabilize = 0
	return r
}

func simWithPositions(pos map[string][]broker.PositionInfo) *broker.SimAdapter {
	sim := broker.NewSimAdapter("rec-sim")
	sim.SetPositions(pos)
	return sim
}

func TestReconcileNoSnapshotSeedsFromBroker(t *testing.T) {
	strategy.SetDataDir(t.TempDir())
	s := newRecKernel(t, 1, "ag2506")
	sim := simWithPositions(map[string][]broker.PositionInfo{
		"SHFE": {{Symbol: "ag2506", Direction: "long", Volume: 2, AvgPrice: 7800}},
	})

	r := fastReconciler("simulation", sim, strategyTable(s))
	if err := r.ReconcileOnStartup(); err != nil {
		t.Fatal(err)
	}

	if got := s.PositionsBySymbol()["ag2506"]; got != 2 {
		t.Fatalf("seeded position = %d, want 2", got)
	}
	// Fresh snapshot persisted.
	snap, err := strategy.LoadPositionSnapshot("simulation", 1)
	if err != nil || snap == nil {
		t.Fatalf("snapshot after seed: %v, %v", snap, err)
	}
	if snap.SymbolsPos["ag2506"] != 2 {
		t.Fatalf("snapshot = %v", snap.SymbolsPos)
	}
}

// Saved snapshot says +3, broker says +2: broker wins, snapshot is
// rewritten, startup proceeds.
func TestReconcileMismatchAutoCorrects(t *testing.T) {
	strategy.SetDataDir(t.TempDir())
	s := newRecKernel(t, 1, "ag2506")

	if err := strategy.SavePositionSnapshot("simulation", strategy.PositionSnapshot{
		StrategyID: 1,
		SymbolsPos: map[string]int64{"ag2506": 3},
	}); err != nil {
		t.Fatal(err)
	}

	sim := simWithPositions(map[string][]broker.PositionInfo{
		"SHFE": {{Symbol: "ag2506", Direction: "long", Volume: 2, AvgPrice: 7800}},
	})

	r := fastReconciler("simulation", sim, strategyTable(s))
	if err := r.ReconcileOnStartup(); err != nil {
		t.Fatal(err)
	}

	if got := s.PositionsBySymbol()["ag2506"]; got != 2 {
		t.Fatalf("corrected position = %d, want 2 (broker truth)", got)
	}
	snap, err := strategy.LoadPositionSnapshot("simulation", 1)
	if err != nil || snap == nil {
		t.Fatalf("rewritten snapshot: %v, %v", snap, err)
	}
	if snap.SymbolsPos["ag2506"] != 2 {
		t.Fatalf("rewritten snapshot = %v, want +2", snap.SymbolsPos)
	}
}

func TestReconcileMatchingSnapshotSeeds(t *testing.T) {
	strategy.SetDataDir(t.TempDir())
	s := newRecKernel(t, 1, "cu2508")

	if err := strategy.SavePositionSnapshot("simulation", strategy.PositionSnapshot{
		StrategyID: 1,
		SymbolsPos: map[string]int64{"cu2508": -1},
	}); err != nil {
		t.Fatal(err)
	}
	sim := simWithPositions(map[string][]broker.PositionInfo{
		"SHFE": {{Symbol: "cu2508", Direction: "short", Volume: 1, AvgPrice: 71000}},
	})

	r := fastReconciler("simulation", sim, strategyTable(s))
	if err := r.ReconcileOnStartup(); err != nil {
		t.Fatal(err)
	}
	if got := s.PositionsBySymbol()["cu2508"]; got != -1 {
		t.Fatalf("seeded position = %d, want -1", got)
	}
}

// The broker reports "not ready" a few times before serving; the retry
// loop rides it out.
func TestReconcileRetriesNotReady(t *testing.T) {
	strategy.SetDataDir(t.TempDir())
	s := newRecKernel(t, 1, "ag2506")
	sim := simWithPositions(map[string][]broker.PositionInfo{
		"SHFE": {{Symbol: "ag2506", Direction: "long", Volume: 1, AvgPrice: 7800}},
	})
	sim.NotReadyFor(3)

	r := fastReconciler("simulation", sim, strategyTable(s))
	if err := r.ReconcileOnStartup(); err != nil {
		t.Fatal(err)
	}
	if got := s.PositionsBySymbol()["ag2506"]; got != 1 {
		t.Fatalf("position = %d, want 1", got)
	}
}

func TestVerifyDetectsDrift(t *testing.T) {
	strategy.SetDataDir(t.TempDir())
	s := newRecKernel(t, 1, "ag2506")
	sim := simWithPositions(map[string][]broker.PositionInfo{
		"SHFE": {{Symbol: "ag2506", Direction: "long", Volume: 2, AvgPrice: 7800}},
	})
	r := fastReconciler("simulation", sim, strategyTable(s))

	// In agreement after seeding.
	if err := r.ReconcileOnStartup(); err != nil {
		t.Fatal(err)
	}
	if err := r.Verify(); err != nil {
		t.Fatalf("verify after seed: %v", err)
	}

	// Broker drifts (e.g. manual trade in another terminal): verify
	// complains but corrects nothing.
	sim.SetPositions(map[string][]broker.PositionInfo{
		"SHFE": {{Symbol: "ag2506", Direction: "long", Volume: 5, AvgPrice: 7800}},
	})
	if err := r.Verify(); err == nil {
		t.Fatal("verify missed the drift")
	}
	if got := s.PositionsBySymbol()["ag2506"]; got != 2 {
		t.Fatalf("verify must not self-heal: position = %d", got)
	}
}
