package host

import (
	"os"
	"testing"
	"time"

	"github.com/taurusjun/quantlink-trade-system-sub005/pkg/bridge"
	"github.com/taurusjun/quantlink-trade-system-sub005/pkg/broker"
	"github.com/taurusjun/quantlink-trade-system-sub005/pkg/config"
	"github.com/taurusjun/quantlink-trade-system-sub005/pkg/ledger"
	"github.com/taurusjun/quantlink-trade-system-sub005/pkg/shm"
	"github.com/taurusjun/quantlink-trade-system-sub005/pkg/strategy"
)

// End-to-end over real SysV queues: kernel order → request queue →
// bridge → sim broker → response queue → kernel estimate.
func TestHostBridgeRoundTrip(t *testing.T) {
	strategy.SetDataDir(t.TempDir())
	base := 0x7C000 + (os.Getpid()%128)*16

	cfg := &config.TraderConfig{
		System: config.SystemConfig{Mode: "simulation", DataDir: "data"},
		Shm: config.ShmConfig{
			RequestKey: base, ResponseKey: base + 1, MDKey: base + 2, ClientKey: base + 3,
			RequestSize: 256, ResponseSize: 256, MDSize: 1024,
		},
		Session: config.SessionConfig{Timezone: "Asia/Shanghai", FlattenDeadlineSec: 2},
		Strategies: []config.StrategyItemConfig{
			{ID: 7, Type: "mean_reversion", Symbol: "ag2506"},
		},
	}
	cfg.Risk.CheckIntervalMs = 50

	// Bridge side attaches to the same keys.
	reqQ, err := shm.OpenQueue[shm.RequestMsg](base, 256)
	if err != nil {
		t.Fatalf("request queue: %v", err)
	}
	respQ, err := shm.OpenQueue[shm.ResponseMsg](base+1, 256)
	if err != nil {
		t.Fatalf("response queue: %v", err)
	}
	t.Cleanup(func() {
		reqQ.Destroy()
		respQ.Destroy()
	})

	br := bridge.New(bridge.Config{
		RequestQueue:  reqQ,
		ResponseQueue: respQ,
		Ledger:        ledger.NewPositionLedger(),
	})
	sim := broker.NewSimAdapter("sim")
	sim.Initialize("")
	sim.Login()
	br.AddAdapter(sim)
	br.Start()
	t.Cleanup(func() {
		br.Stop()
		sim.Logout()
	})

	h, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	t.Cleanup(func() {
		h.Shutdown()
		destroySegments(t, base+2, base+3)
	})

	s := strategy.NewMeanRevStrategy(7, "simulation", "ag2506")
	if err := h.AddStrategy(s, 0.5); err != nil {
		t.Fatal(err)
	}
	if err := h.Start(); err != nil {
		t.Fatal(err)
	}
	s.Activate()

	// Publish one tick so the kernel has a book, then order through it.
	var md shm.MarketUpdate
	shm.SetSymbol(md.Symbol[:], "ag2506")
	md.ExchangeType = shm.ExchangeSHFE
	md.ValidBids, md.ValidAsks = 1, 1
	md.Bids[0] = shm.BookLevel{Price: 7799, Quantity: 20, OrderCount: 4}
	md.Asks[0] = shm.BookLevel{Price: 7801, Quantity: 20, OrderCount: 4}
	md.EndPkt = 1

	mdQ, err := shm.OpenQueue[shm.MarketUpdate](base+2, 1024)
	if err != nil {
		t.Fatal(err)
	}
	defer mdQ.Close()
	if err := mdQ.Enqueue(&md, 0); err != nil {
		t.Fatal(err)
	}

	waitFor(t, time.Second, func() bool {
		inst := s.Instrument("ag2506")
		return inst != nil && inst.HasValidBook()
	})

	id := s.SendOrder("ag2506", shm.SideBuy, shm.OrdLimit, 7800, 3)
	if id == 0 {
		t.Fatal("SendOrder failed")
	}

	waitFor(t, 3*time.Second, func() bool {
		return s.PositionsBySymbol()["ag2506"] == 3
	})

	// The bridge's ledger saw the open fill too.
	waitFor(t, time.Second, func() bool {
		return br.Ledger().Buckets("ag2506").TodayLong == 3
	})

	if snap := br.Stats(); snap.Sent != 1 || snap.Responses < 2 {
		t.Fatalf("bridge stats = %+v", snap)
	}
}

func waitFor(t *testing.T, limit time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(limit)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not reached before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// destroySegments removes leftover test segments by key.
func destroySegments(t *testing.T, keys ...int) {
	t.Helper()
	for _, key := range keys {
		if seg, err := shm.Attach(key, 8); err == nil {
			seg.Remove()
			seg.Detach()
		}
	}
}
