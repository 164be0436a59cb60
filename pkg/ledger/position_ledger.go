// Package ledger holds the bridge-side position accounting: the
// four-bucket per-symbol ledger that decides open/close offset flags, and
// the broker-order cache that ties broker callbacks back to client orders.
package ledger

import (
	"sync"

	"github.com/taurusjun/quantlink-trade-system-sub005/pkg/shm"
	"github.com/taurusjun/quantlink-trade-system-sub005/pkg/types"
)

// PositionBuckets 单品种四桶持仓：昨仓/今仓 × 多头/空头。
// 所有计数恒 ≥ 0；平仓单在裁定时即从对应桶预扣。
type PositionBuckets struct {
	OvernightLong  int32
	TodayLong      int32
	OvernightShort int32
	TodayShort     int32
}

// NetQty returns long minus short across both age buckets.
func (b PositionBuckets) NetQty() int32 {
	return b.OvernightLong + b.TodayLong - b.OvernightShort - b.TodayShort
}

// PositionLedger tracks per-symbol buckets and issues offset decisions.
// One mutex covers decide/restore/apply so ledger updates for a symbol are
// totally ordered.
type PositionLedger struct {
	mu        sync.Mutex
	positions map[string]*PositionBuckets
}

// NewPositionLedger creates an empty ledger.
func NewPositionLedger() *PositionLedger {
	return &PositionLedger{
		positions: make(map[string]*PositionBuckets),
	}
}

// closeTodayAllowed: 只有上期所与能源中心区分平今/平昨；
// 其余交易所平仓一律用昨仓标志。
func closeTodayAllowed(exchangeType uint8) bool {
	return exchangeType == shm.ExchangeSHFE || exchangeType == shm.ExchangeINE
}

// DecideOffset picks the offset flag for a new order and, for close
// flags, reserves the quantity out of the bucket it drew from. The
// decision is all-or-nothing against a single bucket: a buy closes
// today-shorts if they cover the whole quantity, else overnight-shorts if
// they do, else the order opens. The decision is final for the order's
// lifetime; rejects and cancels restore the same bucket via Restore.
//
// fromToday 指明预扣的是今仓桶。在不允许平今标志的交易所，CLOSE_YESTD
// 也可能扣的是今仓，回滚时必须还回原桶，所以单靠 flag 不够。
func (l *PositionLedger) DecideOffset(symbol string, side uint8, qty int32, exchangeType uint8) (flag types.OffsetFlag, fromToday bool) {
	if qty <= 0 {
		return types.OffsetOpen, false
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.bucketsLocked(symbol)

	if side == shm.SideBuy {
		if qty <= b.TodayShort {
			b.TodayShort -= qty
			if closeTodayAllowed(exchangeType) {
				return types.OffsetCloseToday, true
			}
			return types.OffsetCloseYestd, true
		}
		if qty <= b.OvernightShort {
			b.OvernightShort -= qty
			return types.OffsetCloseYestd, false
		}
		return types.OffsetOpen, false
	}

	// Sell closes long buckets symmetrically.
	if qty <= b.TodayLong {
		b.TodayLong -= qty
		if closeTodayAllowed(exchangeType) {
			return types.OffsetCloseToday, true
		}
		return types.OffsetCloseYestd, true
	}
	if qty <= b.OvernightLong {
		b.OvernightLong -= qty
		return types.OffsetCloseYestd, false
	}
	return types.OffsetOpen, false
}

// Restore puts qty back into the bucket a close decision drew from.
// Called when a close order dies unfilled: broker send failure, reject,
// or cancel of the unfilled remainder. Open orders reserve nothing, so
// there is nothing to restore.
//
// 注意：CLOSE_TODAY 一定扣的是今仓；CLOSE_YESTD 在允许平今的交易所扣的
// 是昨仓，在其它交易所可能扣的是今仓 —— 由 fromToday 指明原桶。
func (l *PositionLedger) Restore(symbol string, side uint8, qty int32, flag types.OffsetFlag, fromToday bool) {
	if qty <= 0 || !flag.IsClose() {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.bucketsLocked(symbol)
	if side == shm.SideBuy {
		if fromToday {
			b.TodayShort += qty
		} else {
			b.OvernightShort += qty
		}
	} else {
		if fromToday {
			b.TodayLong += qty
		} else {
			b.OvernightLong += qty
		}
	}
}

// ApplyFill records a trade confirmation. Open fills grow the today
// bucket on the traded side; close fills change nothing because the
// reservation was taken at decision time.
func (l *PositionLedger) ApplyFill(symbol string, side uint8, qty int32, flag types.OffsetFlag) {
	if qty <= 0 || flag.IsClose() {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.bucketsLocked(symbol)
	if side == shm.SideBuy {
		b.TodayLong += qty
	} else {
		b.TodayShort += qty
	}
}

// Buckets returns a copy of the buckets for symbol.
func (l *PositionLedger) Buckets(symbol string) PositionBuckets {
	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.positions[symbol]; ok {
		return *b
	}
	return PositionBuckets{}
}

// SetBuckets seeds the ledger for a symbol, replacing prior state.
// Used at bridge startup from the broker position query.
func (l *PositionLedger) SetBuckets(symbol string, b PositionBuckets) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cp := b
	l.positions[symbol] = &cp
}

// Symbols returns every symbol with ledger state.
func (l *PositionLedger) Symbols() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.positions))
	for s := range l.positions {
		out = append(out, s)
	}
	return out
}

// Snapshot returns a copy of the whole ledger (status API).
func (l *PositionLedger) Snapshot() map[string]PositionBuckets {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]PositionBuckets, len(l.positions))
	for s, b := range l.positions {
		out[s] = *b
	}
	return out
}

func (l *PositionLedger) bucketsLocked(symbol string) *PositionBuckets {
	b, ok := l.positions[symbol]
	if !ok {
		b = &PositionBuckets{}
		l.positions[symbol] = b
	}
	return b
}
