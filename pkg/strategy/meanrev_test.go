package strategy

import (
	"testing"

	"github.com/taurusjun/quantlink-trade-system-sub005/pkg/shm"
)

func TestMeanRevFadesExcursion(t *testing.T) {
	SetDataDir(t.TempDir())
	s := NewMeanRevStrategy(3, "simulation", "ag2506")
	sink := &memSink{}
	next := uint32(0)
	s.Bind(sink, func() uint32 { next++; return next })
	s.Activate()
	if err := s.UpdateParameters(map[string]interface{}{
		"entry_zscore": 2.0,
		"exit_zscore":  0.5,
		"order_size":   2,
	}); err != nil {
		t.Fatal(err)
	}

	// Warm the estimator with small oscillations around 7800.
	for i := 0; i < 200; i++ {
		px := 7800.0
		if i%2 == 0 {
			px += 1
		} else {
			px -= 1
		}
		s.OnTick(tick("ag2506", px-1, px+1))
	}
	if len(sink.reqs) != 0 {
		t.Fatalf("orders during calm market: %d", len(sink.reqs))
	}

	// A sharp excursion above the mean must draw a fade (sell).
	for i := 0; i < 10 && len(sink.reqs) == 0; i++ {
		s.OnTick(tick("ag2506", 7839, 7841))
	}
	if len(sink.reqs) == 0 {
		t.Fatal("no order on a 40-point excursion")
	}
	req := sink.reqs[0]
	if req.Side != shm.SideSell || req.Quantity != 2 {
		t.Fatalf("fade order = side %c qty %d, want sell 2", req.Side, req.Quantity)
	}
	if req.Price != 7839 {
		t.Fatalf("fade priced at %v, want the bid", req.Price)
	}
}

func TestMeanRevRespectsControlState(t *testing.T) {
	SetDataDir(t.TempDir())
	s := NewMeanRevStrategy(3, "simulation", "ag2506")
	sink := &memSink{}
	next := uint32(0)
	s.Bind(sink, func() uint32 { next++; return next })
	// Never activated: no orders no matter what the market does.

	for i := 0; i < 200; i++ {
		px := 7800.0 + float64(i%3)
		s.OnTick(tick("ag2506", px-1, px+1))
	}
	s.OnTick(tick("ag2506", 7899, 7901))
	if len(sink.reqs) != 0 {
		t.Fatalf("idle strategy sent %d orders", len(sink.reqs))
	}
}
