package strategy

import (
	"math"

	"github.com/taurusjun/quantlink-trade-system-sub005/pkg/shm"
)

// MeanRevStrategy is a single-symbol mean-reversion strategy on top of
// the kernel: it tracks an EWMA of the size-weighted mid and fades
// excursions beyond entry_zscore standard deviations, unwinding inside
// exit_zscore. It exists to exercise the full host contract; the serious
// signal work lives outside this module.
type MeanRevStrategy struct {
	*Kernel
	symbol string

	ewma   float64
	ewvar  float64
	warmup int

	// 持仓方向由 kernel 估计仓位驱动，不另存状态
}

// ewmaAlpha: ~200 tick time constant (half-life ≈ 139 ticks).
const ewmaAlpha = 0.005

// warmupTicks before the variance estimate is trusted.
const warmupTicks = 200

// NewMeanRevStrategy creates the strategy for one symbol.
func NewMeanRevStrategy(id int32, mode, symbol string) *MeanRevStrategy {
	return &MeanRevStrategy{
		Kernel: NewKernel(id, mode, []string{symbol}),
		symbol: symbol,
	}
}

// OnTick runs the signal on each update of the subscribed symbol.
func (s *MeanRevStrategy) OnTick(md *shm.MarketUpdate) {
	s.ApplyTick(md)

	if shm.SymbolString(md.Symbol[:]) != s.symbol {
		return
	}
	inst := s.Instrument(s.symbol)
	if inst == nil || !inst.HasValidBook() {
		return
	}

	px := inst.MSWPrice()
	if s.warmup == 0 {
		s.ewma = px
	}
	dev := px - s.ewma
	s.ewma += ewmaAlpha * dev
	s.ewvar = (1-ewmaAlpha)*s.ewvar + ewmaAlpha*dev*dev
	s.warmup++

	if s.warmup < warmupTicks || !s.CanSendNewOrders() {
		return
	}
	sigma := math.Sqrt(s.ewvar)
	if sigma <= 0 {
		return
	}
	z := (px - s.ewma) / sigma

	entryZ := s.ParamFloat("entry_zscore", 2.0)
	exitZ := s.ParamFloat("exit_zscore", 0.5)
	size := int32(s.ParamInt("order_size", 1))
	maxPos := int64(s.ParamInt("max_position", 10))

	net := s.PositionsBySymbol()[s.symbol]

	switch {
	case z > entryZ && net > -maxPos && s.OpenOrderCount() == 0:
		// Rich: sell at the bid to fade the excursion.
		s.SendOrder(s.symbol, shm.SideSell, shm.OrdLimit, inst.BidPx[0], size)

	case z < -entryZ && net < maxPos && s.OpenOrderCount() == 0:
		s.SendOrder(s.symbol, shm.SideBuy, shm.OrdLimit, inst.AskPx[0], size)

	case net > 0 && z > -exitZ && s.OpenOrderCount() == 0:
		// Reverted: unwind the long.
		s.SendOrder(s.symbol, shm.SideSell, shm.OrdLimit, inst.BidPx[0], int32(net))

	case net < 0 && z < exitZ && s.OpenOrderCount() == 0:
		s.SendOrder(s.symbol, shm.SideBuy, shm.OrdLimit, inst.AskPx[0], int32(-net))
	}
}
