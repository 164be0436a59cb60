package ledger

import (
	"sync"
	"testing"

	"github.com/taurusjun/quantlink-trade-system-sub005/pkg/shm"
	"github.com/taurusjun/quantlink-trade-system-sub005/pkg/types"
)

func TestDecideOffsetOpenOnFlat(t *testing.T) {
	l := NewPositionLedger()
	flag, fromToday := l.DecideOffset("ag2506", shm.SideBuy, 3, shm.ExchangeSHFE)
	if flag != types.OffsetOpen || fromToday {
		t.Fatalf("flat book buy: flag=%v fromToday=%v, want OPEN/false", flag, fromToday)
	}
	if b := l.Buckets("ag2506"); b != (PositionBuckets{}) {
		t.Fatalf("open decision must not reserve: %+v", b)
	}
}

func TestDecideOffsetCloseTodayPreferredOnSHFE(t *testing.T) {
	l := NewPositionLedger()
	l.SetBuckets("ag2506", PositionBuckets{TodayShort: 5, OvernightShort: 2})

	flag, fromToday := l.DecideOffset("ag2506", shm.SideBuy, 3, shm.ExchangeSHFE)
	if flag != types.OffsetCloseToday || !fromToday {
		t.Fatalf("flag=%v fromToday=%v, want CLOSE_TODAY/true", flag, fromToday)
	}
	b := l.Buckets("ag2506")
	if b.TodayShort != 2 || b.OvernightShort != 2 {
		t.Fatalf("after reservation: %+v, want today_short=2 on_short=2", b)
	}

	// Trade confirm on a close order: reservation already consumed.
	l.ApplyFill("ag2506", shm.SideBuy, 3, flag)
	if got := l.Buckets("ag2506"); got != b {
		t.Fatalf("close fill changed buckets: %+v -> %+v", b, got)
	}
}

func TestDecideOffsetNonSHFEUsesYesterdayFlag(t *testing.T) {
	l := NewPositionLedger()
	l.SetBuckets("m2509", PositionBuckets{TodayShort: 5})

	flag, fromToday := l.DecideOffset("m2509", shm.SideBuy, 2, shm.ExchangeDCE)
	if flag != types.OffsetCloseYestd || !fromToday {
		t.Fatalf("flag=%v fromToday=%v, want CLOSE_YESTD/true", flag, fromToday)
	}
	if b := l.Buckets("m2509"); b.TodayShort != 3 {
		t.Fatalf("today_short = %d, want 3", b.TodayShort)
	}
}

func TestDecideOffsetFallsThroughToOvernight(t *testing.T) {
	l := NewPositionLedger()
	l.SetBuckets("cu2508", PositionBuckets{TodayShort: 1, OvernightShort: 4})

	flag, fromToday := l.DecideOffset("cu2508", shm.SideBuy, 3, shm.ExchangeSHFE)
	if flag != types.OffsetCloseYestd || fromToday {
		t.Fatalf("flag=%v fromToday=%v, want CLOSE_YESTD/false", flag, fromToday)
	}
	b := l.Buckets("cu2508")
	if b.OvernightShort != 1 || b.TodayShort != 1 {
		t.Fatalf("after reservation: %+v", b)
	}
}

// No single bucket covers the quantity: the order opens, no splitting.
func TestDecideOffsetAllOrNothing(t *testing.T) {
	l := NewPositionLedger()
	l.SetBuckets("au2512", PositionBuckets{TodayShort: 2, OvernightShort: 2})

	flag, _ := l.DecideOffset("au2512", shm.SideBuy, 3, shm.ExchangeSHFE)
	if flag != types.OffsetOpen {
		t.Fatalf("flag=%v, want OPEN when no bucket covers qty", flag)
	}
	b := l.Buckets("au2512")
	if b.TodayShort != 2 || b.OvernightShort != 2 {
		t.Fatalf("open fallback must not touch buckets: %+v", b)
	}
}

func TestSellClosesLongBuckets(t *testing.T) {
	l := NewPositionLedger()
	l.SetBuckets("cu2508", PositionBuckets{TodayLong: 4})

	flag, fromToday := l.DecideOffset("cu2508", shm.SideSell, 2, shm.ExchangeSHFE)
	if flag != types.OffsetCloseToday || !fromToday {
		t.Fatalf("flag=%v fromToday=%v, want CLOSE_TODAY/true", flag, fromToday)
	}
	if b := l.Buckets("cu2508"); b.TodayLong != 2 {
		t.Fatalf("today_long = %d, want 2", b.TodayLong)
	}

	// Broker send failure unwinds the reservation.
	l.Restore("cu2508", shm.SideSell, 2, flag, fromToday)
	if b := l.Buckets("cu2508"); b.TodayLong != 4 {
		t.Fatalf("after restore: today_long = %d, want 4", b.TodayLong)
	}
}

func TestOpenFillGrowsTodayBucket(t *testing.T) {
	l := NewPositionLedger()
	l.ApplyFill("ag2506", shm.SideBuy, 3, types.OffsetOpen)
	if b := l.Buckets("ag2506"); b.TodayLong != 3 {
		t.Fatalf("today_long = %d, want 3", b.TodayLong)
	}
	l.ApplyFill("ag2506", shm.SideSell, 2, types.OffsetOpen)
	if b := l.Buckets("ag2506"); b.TodayShort != 2 {
		t.Fatalf("today_short = %d, want 2", b.TodayShort)
	}
}

func TestRestoreToOvernightBucket(t *testing.T) {
	l := NewPositionLedger()
	l.SetBuckets("sc2509", PositionBuckets{OvernightShort: 4})

	flag, fromToday := l.DecideOffset("sc2509", shm.SideBuy, 4, shm.ExchangeINE)
	if flag != types.OffsetCloseYestd || fromToday {
		t.Fatalf("flag=%v fromToday=%v", flag, fromToday)
	}
	// Cancel with 3 unfilled restores the overnight bucket only.
	l.Restore("sc2509", shm.SideBuy, 3, flag, fromToday)
	if b := l.Buckets("sc2509"); b.OvernightShort != 3 {
		t.Fatalf("on_short = %d, want 3", b.OvernightShort)
	}
}

// Concurrent decide/restore pairs must leave the ledger where it started:
// the same events replayed serially give the same buckets.
func TestLedgerSerializability(t *testing.T) {
	l := NewPositionLedger()
	l.SetBuckets("ag2506", PositionBuckets{TodayShort: 1000})

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				flag, fromToday := l.DecideOffset("ag2506", shm.SideBuy, 1, shm.ExchangeSHFE)
				if flag.IsClose() {
					l.Restore("ag2506", shm.SideBuy, 1, flag, fromToday)
				}
			}
		}()
	}
	wg.Wait()

	if b := l.Buckets("ag2506"); b.TodayShort != 1000 {
		t.Fatalf("today_short = %d, want 1000 after balanced decide/restore", b.TodayShort)
	}
}

func TestOrderCacheTerminalRemoveOnce(t *testing.T) {
	c := NewOrderCache()
	ok := c.Insert("broker-1", OrderCacheEntry{OrderID: 7, Symbol: "ag2506", Side: shm.SideBuy, Flag: types.OffsetOpen, Quantity: 3})
	if !ok {
		t.Fatal("insert failed")
	}
	if c.Insert("broker-1", OrderCacheEntry{OrderID: 8}) {
		t.Fatal("duplicate broker id accepted")
	}

	if _, ok := c.AddFilled("broker-1", 2); !ok {
		t.Fatal("AddFilled missed entry")
	}
	e, ok := c.Remove("broker-1")
	if !ok || e.Filled != 2 || e.OrderID != 7 {
		t.Fatalf("remove: ok=%v entry=%+v", ok, e)
	}
	if _, ok := c.Remove("broker-1"); ok {
		t.Fatal("second remove succeeded; terminal retire must be exactly-once")
	}
}
