package store

import (
	"path/filepath"
	"testing"
)

func TestHistoryRoundTrip(t *testing.T) {
	h, err := Open(filepath.Join(t.TempDir(), "bridge.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()

	h.RecordOrder(OrderRecord{
		OrderID: 1, StrategyID: 92201, BrokerID: "sim-1",
		Symbol: "ag2506", Side: "B", Offset: "OPEN", Price: 7800, Quantity: 3,
	})
	h.RecordFill(FillRecord{BrokerID: "sim-1", TradeID: "t1", Symbol: "ag2506", Price: 7800, Quantity: 2})
	h.RecordFill(FillRecord{BrokerID: "sim-1", TradeID: "t2", Symbol: "ag2506", Price: 7801, Quantity: 1})
	h.RecordFill(FillRecord{BrokerID: "sim-2", TradeID: "t3", Symbol: "cu2508", Price: 71000, Quantity: 5})

	fills, err := h.RecentFills(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(fills) != 3 {
		t.Fatalf("fills = %d, want 3", len(fills))
	}
	// Newest first.
	if fills[0].TradeID != "t3" {
		t.Fatalf("order wrong: %+v", fills[0])
	}

	vol, err := h.FillVolumeBySymbol()
	if err != nil {
		t.Fatal(err)
	}
	if vol["ag2506"] != 3 || vol["cu2508"] != 5 {
		t.Fatalf("volumes = %v", vol)
	}
}

func TestRecentFillsLimit(t *testing.T) {
	h, err := Open(filepath.Join(t.TempDir(), "bridge.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()

	for i := 0; i < 20; i++ {
		h.RecordFill(FillRecord{BrokerID: "b", TradeID: "t", Symbol: "ag2506", Price: 1, Quantity: 1})
	}
	fills, err := h.RecentFills(5)
	if err != nil {
		t.Fatal(err)
	}
	if len(fills) != 5 {
		t.Fatalf("limit ignored: %d", len(fills))
	}
}
