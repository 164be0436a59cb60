// Package feed produces MarketUpdate records into the MD shared queue.
// Two producers share the wire format: the broker-backed feed translating
// counter depth callbacks, and the correlated random-walk simulator.
// Strategies cannot tell which one generated a tick.
package feed

import (
	"time"

	"github.com/taurusjun/quantlink-trade-system-sub005/pkg/shm"
)

// invalidPriceSentinel: counters mark absent depth levels with zero or a
// huge sentinel; both collapse the level.
const invalidPriceSentinel = 1e10

// DepthLevel is one side level from a counter callback.
type DepthLevel struct {
	Price      float64
	Quantity   int32
	OrderCount int32
}

// DepthEvent is a normalized counter depth callback.
type DepthEvent struct {
	Symbol      string
	Exchange    uint8
	ExchTS      uint64 // 0 when the counter omits it
	Bids        []DepthLevel
	Asks        []DepthLevel
	LastPrice   float64
	LastQty     int32
	CumVolume   int64
	CumTurnover float64
	Snapshot    bool
}

// Publisher is where translated updates go; satisfied by the MD queue.
type Publisher interface {
	Enqueue(md *shm.MarketUpdate, tryBudget int) error
}

// BrokerFeed turns counter depth callbacks into MarketUpdate records.
type BrokerFeed struct {
	pub    Publisher
	seqnum uint64
	drops  int64
}

// NewBrokerFeed creates a broker-backed feed over the given publisher.
func NewBrokerFeed(pub Publisher) *BrokerFeed {
	return &BrokerFeed{pub: pub}
}

// OnDepth translates one counter callback and publishes it. Invalid
// levels (non-positive or sentinel prices) are collapsed and the valid
// counts reduced accordingly; each callback is one complete packet.
func (f *BrokerFeed) OnDepth(ev *DepthEvent) {
	var md shm.MarketUpdate
	f.seqnum++
	md.Seqnum = f.seqnum
	md.LocalTS = uint64(time.Now().UnixNano())
	md.ExchTS = ev.ExchTS
	if md.ExchTS == 0 {
		md.ExchTS = md.LocalTS
	}
	shm.SetSymbol(md.Symbol[:], ev.Symbol)
	md.ExchangeType = ev.Exchange
	if ev.Snapshot {
		md.FeedType = shm.FeedSnapshot
	} else {
		md.FeedType = shm.FeedIncremental
	}
	md.EndPkt = 1

	md.ValidBids = fillSide(md.Bids[:], ev.Bids)
	md.ValidAsks = fillSide(md.Asks[:], ev.Asks)

	md.LastPrice = ev.LastPrice
	md.LastQty = ev.LastQty
	md.CumVolume = ev.CumVolume
	md.CumTurnover = ev.CumTurnover

	if err := f.pub.Enqueue(&md, shm.DefaultTryBudget); err != nil {
		f.drops++
	}
}

// Drops returns the number of updates lost to a full MD queue.
func (f *BrokerFeed) Drops() int64 { return f.drops }

// fillSide copies valid levels front-to-back and returns the count.
func fillSide(dst []shm.BookLevel, src []DepthLevel) int8 {
	n := 0
	for _, lv := range src {
		if n >= len(dst) {
			break
		}
		if lv.Price <= 0 || lv.Price >= invalidPriceSentinel {
			continue // 脏档位：跳过并收缩有效档数
		}
		dst[n] = shm.BookLevel{Price: lv.Price, Quantity: lv.Quantity, OrderCount: lv.OrderCount}
		n++
	}
	for i := n; i < len(dst); i++ {
		dst[i] = shm.BookLevel{}
	}
	return int8(n)
}
