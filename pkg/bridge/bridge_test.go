package bridge

import (
	"os"
	"testing"
	"time"

	"github.com/taurusjun/quantlink-trade-system-sub005/pkg/broker"
	"github.com/taurusjun/quantlink-trade-system-sub005/pkg/ledger"
	"github.com/taurusjun/quantlink-trade-system-sub005/pkg/shm"
)

type bridgeHarness struct {
	reqQ   *shm.MWMRQueue[shm.RequestMsg]
	respQ  *shm.MWMRQueue[shm.ResponseMsg]
	bridge *OrderBridge
	sim    *broker.SimAdapter
}

var keyBase int

func newHarness(t *testing.T, cfgMod func(*Config)) *bridgeHarness {
	t.Helper()
	keyBase += 2
	base := 0x7B000 + (os.Getpid()%128)*64 + keyBase

	reqQ, err := shm.OpenQueue[shm.RequestMsg](base, 256)
	if err != nil {
		t.Fatalf("request queue: %v", err)
	}
	respQ, err := shm.OpenQueue[shm.ResponseMsg](base+1, 256)
	if err != nil {
		reqQ.Destroy()
		t.Fatalf("response queue: %v", err)
	}
	t.Cleanup(func() {
		reqQ.Destroy()
		respQ.Destroy()
	})

	cfg := Config{
		RequestQueue:  reqQ,
		ResponseQueue: respQ,
		Ledger:        ledger.NewPositionLedger(),
	}
	if cfgMod != nil {
		cfgMod(&cfg)
	}

	b := New(cfg)
	sim := broker.NewSimAdapter("sim")
	sim.Initialize("")
	sim.Login()
	b.AddAdapter(sim)
	b.Start()
	t.Cleanup(func() {
		b.Stop()
		sim.Logout()
	})

	return &bridgeHarness{reqQ: reqQ, respQ: respQ, bridge: b, sim: sim}
}

func (h *bridgeHarness) send(t *testing.T, req shm.RequestMsg) {
	t.Helper()
	if err := h.reqQ.Enqueue(&req, 0); err != nil {
		t.Fatalf("enqueue request: %v", err)
	}
}

// collect waits for n responses or fails after the deadline.
func (h *bridgeHarness) collect(t *testing.T, n int) []shm.ResponseMsg {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	var out []shm.ResponseMsg
	var resp shm.ResponseMsg
	for len(out) < n {
		if h.respQ.TryDequeue(&resp) {
			out = append(out, resp)
			continue
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out: got %d/%d responses", len(out), n)
		}
		time.Sleep(time.Millisecond)
	}
	return out
}

func buyRequest(orderID uint32, symbol string, qty int32, price float64, exchange uint8) shm.RequestMsg {
	var req shm.RequestMsg
	req.OrderID = orderID
	req.StrategyID = 92201
	shm.SetSymbol(req.Symbol[:], symbol)
	req.ExchangeType = exchange
	req.Side = shm.SideBuy
	req.OrdType = shm.OrdLimit
	req.Price = price
	req.Quantity = qty
	req.TimestampNs = uint64(time.Now().UnixNano())
	return req
}

// Open then full fill: confirm + trade, today_long grows by the fill.
func TestOpenOrderFullFill(t *testing.T) {
	h := newHarness(t, nil)

	h.send(t, buyRequest(1, "ag2506", 3, 7800, shm.ExchangeSHFE))
	resps := h.collect(t, 2)

	if resps[0].ResponseType != shm.NewOrderConfirm {
		t.Fatalf("first response type = %d, want NewOrderConfirm", resps[0].ResponseType)
	}
	tc := resps[1]
	if tc.ResponseType != shm.TradeConfirm || tc.Quantity != 3 || tc.Price != 7800 {
		t.Fatalf("trade confirm = %+v, want qty=3 price=7800", tc)
	}
	if got := shm.SymbolString(tc.Symbol[:]); got != "ag2506" {
		t.Fatalf("symbol = %q", got)
	}

	b := h.bridge.Ledger().Buckets("ag2506")
	if b.TodayLong != 3 {
		t.Fatalf("today_long = %d, want 3", b.TodayLong)
	}
	if h.bridge.OpenOrders() != 0 {
		t.Fatalf("order cache not emptied after terminal fill")
	}
}

// Close-today preferred on SHFE; buckets unchanged after the fill because
// the reservation was consumed at decision time.
func TestCloseTodayPreferredOnSHFE(t *testing.T) {
	h := newHarness(t, nil)
	h.bridge.Ledger().SetBuckets("ag2506", ledger.PositionBuckets{TodayShort: 5, OvernightShort: 2})

	h.send(t, buyRequest(2, "ag2506", 3, 7805, shm.ExchangeSHFE))
	resps := h.collect(t, 2)

	if resps[1].ResponseType != shm.TradeConfirm || resps[1].Quantity != 3 {
		t.Fatalf("trade confirm = %+v", resps[1])
	}
	b := h.bridge.Ledger().Buckets("ag2506")
	if b.TodayShort != 2 || b.OvernightShort != 2 {
		t.Fatalf("buckets after fill = %+v, want today_short=2 on_short=2", b)
	}
}

// Broker returns an empty id: ORDER_ERROR response and the close
// reservation is restored; no cache entry remains.
func TestSendFailureRestoresReservation(t *testing.T) {
	h := newHarness(t, nil)
	h.bridge.Ledger().SetBuckets("cu2508", ledger.PositionBuckets{TodayLong: 4})
	h.sim.FailNextSend()

	var req shm.RequestMsg
	req.OrderID = 3
	req.StrategyID = 92201
	shm.SetSymbol(req.Symbol[:], "cu2508")
	req.ExchangeType = shm.ExchangeSHFE
	req.Side = shm.SideSell
	req.OrdType = shm.OrdLimit
	req.Price = 71200
	req.Quantity = 2
	h.send(t, req)

	resps := h.collect(t, 1)
	if resps[0].ResponseType != shm.OrderError || resps[0].Quantity != 2 {
		t.Fatalf("response = %+v, want ORDER_ERROR qty=2", resps[0])
	}
	if resps[0].ErrorCode != shm.ErrCodeSendFailed {
		t.Fatalf("error code = %d", resps[0].ErrorCode)
	}
	b := h.bridge.Ledger().Buckets("cu2508")
	if b.TodayLong != 4 {
		t.Fatalf("today_long = %d, want 4 (reservation restored)", b.TodayLong)
	}
	if h.bridge.OpenOrders() != 0 {
		t.Fatal("cache entry created for failed send")
	}

	snap := h.bridge.Stats()
	if snap.SendFailures != 1 {
		t.Fatalf("send_failures = %d, want 1", snap.SendFailures)
	}
}

// Scripted broker reject after acceptance: unfilled close quantity goes
// back to its bucket and the cache entry is retired.
func TestBrokerRejectRestores(t *testing.T) {
	h := newHarness(t, nil)
	h.bridge.Ledger().SetBuckets("ag2506", ledger.PositionBuckets{TodayShort: 5})
	h.sim.RejectNextOrder()

	h.send(t, buyRequest(4, "ag2506", 3, 7800, shm.ExchangeSHFE))
	resps := h.collect(t, 1)

	if resps[0].ResponseType != shm.OrderError || resps[0].Quantity != 3 {
		t.Fatalf("response = %+v, want ORDER_ERROR qty=3", resps[0])
	}
	b := h.bridge.Ledger().Buckets("ag2506")
	if b.TodayShort != 5 {
		t.Fatalf("today_short = %d, want 5", b.TodayShort)
	}
	if h.bridge.OpenOrders() != 0 {
		t.Fatal("cache entry survived terminal reject")
	}
}

// Partial fills accumulate; only the open remainder restores on nothing —
// a fully filled order leaves the ledger with the whole fill.
func TestPartialFills(t *testing.T) {
	h := newHarness(t, nil)
	h.sim.PartialFillNext(1, 2)

	h.send(t, buyRequest(5, "rb2510", 3, 3600, shm.ExchangeSHFE))
	resps := h.collect(t, 3) // confirm + 2 fills

	if resps[1].ResponseType != shm.TradeConfirm || resps[1].Quantity != 1 {
		t.Fatalf("first fill = %+v", resps[1])
	}
	if resps[2].ResponseType != shm.TradeConfirm || resps[2].Quantity != 2 {
		t.Fatalf("second fill = %+v", resps[2])
	}
	b := h.bridge.Ledger().Buckets("rb2510")
	if b.TodayLong != 3 {
		t.Fatalf("today_long = %d, want 3", b.TodayLong)
	}
}

// No logged-in adapter: ORS_REJECT with the no-broker code.
func TestNoBrokerReject(t *testing.T) {
	h := newHarness(t, nil)
	h.sim.Logout()

	h.send(t, buyRequest(6, "ag2506", 1, 7800, shm.ExchangeSHFE))
	resps := h.collect(t, 1)

	if resps[0].ResponseType != shm.OrsReject || resps[0].ErrorCode != shm.ErrCodeNoBroker {
		t.Fatalf("response = %+v, want ORS_REJECT/no-broker", resps[0])
	}
}

// Symbol routes take precedence over the fallback adapter.
func TestSymbolRouting(t *testing.T) {
	var routed *broker.SimAdapter
	h := newHarness(t, func(cfg *Config) {
		cfg.SymbolRoutes = map[string]string{"IF2509": "cffex-sim"}
	})
	routed = broker.NewSimAdapter("cffex-sim")
	routed.Initialize("")
	routed.Login()
	h.bridge.AddAdapter(routed)
	t.Cleanup(routed.Logout)

	h.send(t, buyRequest(7, "IF2509", 1, 3900, shm.ExchangeCFFEX))
	resps := h.collect(t, 2)
	if resps[1].ResponseType != shm.TradeConfirm {
		t.Fatalf("routed order not filled: %+v", resps[1])
	}
}

// Rate limiter: second order inside the same second is rejected and its
// reservation restored.
func TestRateLimitReject(t *testing.T) {
	h := newHarness(t, func(cfg *Config) {
		cfg.OrdersPerSecond = 1
		cfg.OrderBurst = 1
	})
	h.bridge.Ledger().SetBuckets("ag2506", ledger.PositionBuckets{TodayShort: 10})

	h.send(t, buyRequest(8, "ag2506", 2, 7800, shm.ExchangeSHFE))
	h.send(t, buyRequest(9, "ag2506", 2, 7800, shm.ExchangeSHFE))

	resps := h.collect(t, 3) // confirm+fill for the first, reject for the second
	var rejected *shm.ResponseMsg
	for i := range resps {
		if resps[i].ResponseType == shm.OrsReject {
			rejected = &resps[i]
		}
	}
	if rejected == nil || rejected.ErrorCode != shm.ErrCodeRateLimit {
		t.Fatalf("no rate-limit reject in %+v", resps)
	}
	// 10 − 2 filled (reservation consumed) = 8; the rejected order's 2
	// were reserved and then restored
	b := h.bridge.Ledger().Buckets("ag2506")
	if b.TodayShort != 8 {
		t.Fatalf("today_short = %d, want 8", b.TodayShort)
	}
}

func TestOffsetDecisionCachedPerOrder(t *testing.T) {
	h := newHarness(t, nil)
	h.bridge.Ledger().SetBuckets("m2509", ledger.PositionBuckets{TodayShort: 2})

	// DCE: close uses the yesterday flag even against the today bucket.
	h.send(t, buyRequest(10, "m2509", 2, 2900, shm.ExchangeDCE))
	h.collect(t, 2)

	b := h.bridge.Ledger().Buckets("m2509")
	if b.TodayShort != 0 {
		t.Fatalf("today_short = %d, want 0", b.TodayShort)
	}

	// Second buy on the emptied book opens.
	h.send(t, buyRequest(11, "m2509", 2, 2900, shm.ExchangeDCE))
	h.collect(t, 2)
	b = h.bridge.Ledger().Buckets("m2509")
	if b.TodayLong != 2 {
		t.Fatalf("today_long = %d, want 2", b.TodayLong)
	}
}
