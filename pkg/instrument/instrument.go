// Package instrument holds the per-symbol contract metadata and the
// order book view rebuilt from the market data stream.
package instrument

import (
	"github.com/taurusjun/quantlink-trade-system-sub005/pkg/shm"
)

// BookDepth 行情簿深度，与 MarketUpdate 的档数一致。
const BookDepth = shm.DepthLevels

// Instrument is one contract with its latest book.
type Instrument struct {
	Symbol       string
	Exchange     uint8
	TickSize     float64
	LotSize      float64
	// Multiplier converts a quoted price to contract currency value.
	// Broker 回报的持仓均价可能按 价格×乘数 编码，对账时要除回来。
	Multiplier float64

	BidPx  [BookDepth]float64
	BidQty [BookDepth]int32
	AskPx  [BookDepth]float64
	AskQty [BookDepth]int32

	ValidBids int32
	ValidAsks int32

	LastTradePx  float64
	LastTradeQty int32
	CumVolume    int64

	LastSeqnum uint64
	LastExchTS uint64
}

// New creates an instrument.
func New(symbol string, exchange uint8, tickSize, lotSize, multiplier float64) *Instrument {
	if multiplier <= 0 {
		multiplier = 1
	}
	return &Instrument{
		Symbol:     symbol,
		Exchange:   exchange,
		TickSize:   tickSize,
		LotSize:    lotSize,
		Multiplier: multiplier,
	}
}

// UpdateFromMD rebuilds the book from one MarketUpdate.
func (inst *Instrument) UpdateFromMD(md *shm.MarketUpdate) {
	inst.ValidBids = int32(md.ValidBids)
	inst.ValidAsks = int32(md.ValidAsks)

	for i := 0; i < BookDepth; i++ {
		inst.BidPx[i] = md.Bids[i].Price
		inst.BidQty[i] = md.Bids[i].Quantity
		inst.AskPx[i] = md.Asks[i].Price
		inst.AskQty[i] = md.Asks[i].Quantity
	}

	inst.LastTradePx = md.LastPrice
	inst.LastTradeQty = md.LastQty
	inst.CumVolume = md.CumVolume
	inst.LastSeqnum = md.Seqnum
	inst.LastExchTS = md.ExchTS
}

// HasValidBook reports a tradable two-sided book.
func (inst *Instrument) HasValidBook() bool {
	return inst.ValidBids > 0 && inst.ValidAsks > 0 && inst.BidPx[0] > 0 && inst.AskPx[0] > 0
}

// MidPrice 中间价。
func (inst *Instrument) MidPrice() float64 {
	return (inst.BidPx[0] + inst.AskPx[0]) / 2.0
}

// Spread 买卖价差。
func (inst *Instrument) Spread() float64 {
	return inst.AskPx[0] - inst.BidPx[0]
}

// MSWPrice is the size-weighted mid: heavier opposite-side quantity pulls
// the fair price toward that side's quote.
func (inst *Instrument) MSWPrice() float64 {
	totalQty := float64(inst.AskQty[0] + inst.BidQty[0])
	if totalQty == 0 {
		return inst.MidPrice()
	}
	return (float64(inst.AskQty[0])*inst.BidPx[0] + float64(inst.BidQty[0])*inst.AskPx[0]) / totalQty
}

// RoundToTick snaps a price onto the tick grid.
func (inst *Instrument) RoundToTick(px float64) float64 {
	if inst.TickSize <= 0 {
		return px
	}
	steps := int64(px/inst.TickSize + 0.5)
	return float64(steps) * inst.TickSize
}
