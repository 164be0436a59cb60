package strategy

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/taurusjun/quantlink-trade-system-sub005/pkg/instrument"
	"github.com/taurusjun/quantlink-trade-system-sub005/pkg/shm"
)

// OrderSink receives the requests a kernel emits; the host backs it with
// the internal bounded order queue.
type OrderSink interface {
	Submit(req *shm.RequestMsg) bool
}

// NextOrderID allocates client order ids; the host backs it with the
// client-store range allocator.
type NextOrderID func() uint32

// Bindable is what the host needs from a concrete strategy beyond the
// Strategy contract: a way to attach the order path.
type Bindable interface {
	Bind(sink OrderSink, nextID NextOrderID)
}

// position is the strategy-side estimate for one symbol: what we believe
// we hold based on the fills we saw, reconciled to broker truth at start.
type position struct {
	netQty  int64
	avgCost float64
}

// Kernel carries the shared per-strategy machinery. Concrete strategies
// embed it and implement the signal logic on top; the host talks to the
// Strategy interface only.
type Kernel struct {
	id      int32
	symbols []string
	mode    string // "live" or "simulation", picks the data dir

	mu          sync.Mutex
	instruments map[string]*instrument.Instrument
	positions   map[string]*position
	openOrders  map[uint32]*openOrder
	control     ControlState

	realized float64
	maxNet   float64
	rejects  int32

	paramsMu sync.RWMutex
	params   map[string]interface{}

	sink   OrderSink
	nextID NextOrderID

	// onFill lets the concrete strategy observe its own fills without
	// re-implementing the estimate bookkeeping.
	onFill func(resp *shm.ResponseMsg)
}

type openOrder struct {
	symbol   string
	side     uint8
	quantity int32
	filled   int32
	flatten  bool
}

// NewKernel creates a kernel for one strategy id.
func NewKernel(id int32, mode string, symbols []string) *Kernel {
	k := &Kernel{
		id:          id,
		symbols:     symbols,
		mode:        mode,
		instruments: make(map[string]*instrument.Instrument),
		positions:   make(map[string]*position),
		openOrders:  make(map[uint32]*openOrder),
		control:     NewControlState(),
		params:      make(map[string]interface{}),
	}
	for _, sym := range symbols {
		k.instruments[sym] = instrument.New(sym, shm.ExchangeUnknown, 1, 1, 1)
	}
	return k
}

// Bind attaches the kernel to the host's order sink and id allocator.
func (k *Kernel) Bind(sink OrderSink, nextID NextOrderID) {
	k.sink = sink
	k.nextID = nextID
}

// SetInstrument installs contract metadata for a symbol.
func (k *Kernel) SetInstrument(inst *instrument.Instrument) {
	k.mu.Lock()
	k.instruments[inst.Symbol] = inst
	k.mu.Unlock()
}

// Instrument returns the book view for a symbol (nil when unknown).
func (k *Kernel) Instrument(symbol string) *instrument.Instrument {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.instruments[symbol]
}

func (k *Kernel) ID() int32         { return k.id }
func (k *Kernel) Symbols() []string { return k.symbols }

// ApplyTick updates the book and, in Flattening state, works the unwind.
// Concrete strategies call this first from their OnTick.
func (k *Kernel) ApplyTick(md *shm.MarketUpdate) {
	symbol := shm.SymbolString(md.Symbol[:])

	k.mu.Lock()
	inst, ok := k.instruments[symbol]
	if !ok {
		k.mu.Unlock()
		return
	}
	inst.Exchange = md.ExchangeType
	inst.UpdateFromMD(md)
	flattening := k.control.RunState == RunStateFlattening
	k.mu.Unlock()

	if flattening {
		k.workFlatten()
	}
}

// CanSendNewOrders reports whether signal order flow is allowed.
func (k *Kernel) CanSendNewOrders() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.control.CanSendNewOrders()
}

// SendOrder emits one request. Returns the allocated order id, 0 when
// the kernel is not bound or the host queue is saturated.
func (k *Kernel) SendOrder(symbol string, side uint8, ordType uint8, price float64, qty int32) uint32 {
	return k.sendOrderInternal(symbol, side, ordType, price, qty, false)
}

func (k *Kernel) sendOrderInternal(symbol string, side uint8, ordType uint8, price float64, qty int32, flatten bool) uint32 {
	if k.sink == nil || k.nextID == nil || qty <= 0 {
		return 0
	}

	k.mu.Lock()
	inst := k.instruments[symbol]
	k.mu.Unlock()
	exchange := shm.ExchangeUnknown
	if inst != nil {
		exchange = inst.Exchange
	}

	var req shm.RequestMsg
	orderID := k.nextID()
	req.OrderID = orderID
	req.StrategyID = k.id
	shm.SetSymbol(req.Symbol[:], symbol)
	req.ExchangeType = exchange
	req.Side = side
	req.OrdType = ordType
	req.Price = price
	req.Quantity = qty
	req.TimestampNs = uint64(time.Now().UnixNano())

	if !k.sink.Submit(&req) {
		log.Printf("[Kernel:%d] order queue saturated, dropped order symbol=%s qty=%d", k.id, symbol, qty)
		return 0
	}

	k.mu.Lock()
	k.openOrders[orderID] = &openOrder{symbol: symbol, side: side, quantity: qty, flatten: flatten}
	k.mu.Unlock()
	return orderID
}

// OnOrderUpdate adjusts the estimated position from a response. The
// strategy view never pre-reserves, so rejects and cancels only retire
// the open order; fills move the estimate:
// 开仓方向成交加仓（更新均价），反方向成交减仓（结转已实现盈亏）。
func (k *Kernel) OnOrderUpdate(resp *shm.ResponseMsg) {
	k.mu.Lock()
	defer k.mu.Unlock()

	ord := k.openOrders[resp.OrderID]

	switch resp.ResponseType {
	case shm.NewOrderConfirm:
		// no state change

	case shm.TradeConfirm:
		symbol := shm.SymbolString(resp.Symbol[:])
		k.applyFillLocked(symbol, resp.Side, int64(resp.Quantity), resp.Price)
		if ord != nil {
			ord.filled += resp.Quantity
			if ord.filled >= ord.quantity {
				delete(k.openOrders, resp.OrderID)
			}
		}

	case shm.CancelOrderConfirm:
		delete(k.openOrders, resp.OrderID)

	case shm.OrsReject, shm.RmsReject, shm.OrderError:
		k.rejects++
		delete(k.openOrders, resp.OrderID)
	}

	if k.onFill != nil && resp.ResponseType == shm.TradeConfirm {
		cb := k.onFill
		k.mu.Unlock()
		cb(resp)
		k.mu.Lock()
	}

	k.maybeFinishFlattenLocked()
}

// applyFillLocked moves the estimate for one fill.
func (k *Kernel) applyFillLocked(symbol string, side uint8, qty int64, px float64) {
	pos := k.positions[symbol]
	if pos == nil {
		pos = &position{}
		k.positions[symbol] = pos
	}

	signed := qty
	if side == shm.SideSell {
		signed = -qty
	}

	switch {
	case pos.netQty == 0 || (pos.netQty > 0) == (signed > 0):
		// Same direction: grow and re-average the cost.
		oldAbs := abs64(pos.netQty)
		newAbs := oldAbs + qty
		pos.avgCost = (pos.avgCost*float64(oldAbs) + px*float64(qty)) / float64(newAbs)
		pos.netQty += signed

	default:
		// Opposite direction: close down to zero, realize the
		// difference; any excess flips the position at the fill price.
		closeQty := qty
		if closeQty > abs64(pos.netQty) {
			closeQty = abs64(pos.netQty)
		}
		if pos.netQty > 0 {
			k.realized += (px - pos.avgCost) * float64(closeQty)
		} else {
			k.realized += (pos.avgCost - px) * float64(closeQty)
		}
		pos.netQty += signed
		if pos.netQty == 0 {
			pos.avgCost = 0
		} else if (pos.netQty > 0) == (signed > 0) {
			pos.avgCost = px // flipped through zero
		}
	}
}

// Activate enters Active; re-activation out of Stopped resets flags.
func (k *Kernel) Activate() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.control.RunState == RunStateFlattening {
		return // finish the unwind first
	}
	k.control.EnterActive()
	log.Printf("[Kernel:%d] activated", k.id)
}

// Deactivate flattens and stops.
func (k *Kernel) Deactivate() {
	k.TriggerFlatten(FlattenManual)
}

// TriggerFlatten enters Flattening and sets the cancel-pending flag, then
// issues closing orders that zero out every position. No cancel request is
// sent: outstanding orders stay open until their terminal responses
// arrive, and Stopped is not reached before they do.
func (k *Kernel) TriggerFlatten(reason FlattenReason) {
	k.mu.Lock()
	if k.control.RunState == RunStateFlattening || k.control.RunState == RunStateStopped {
		k.mu.Unlock()
		return
	}
	k.control.EnterFlattening(reason)
	log.Printf("[Kernel:%d] flatten triggered: %s", k.id, reason)
	k.mu.Unlock()

	k.workFlatten()
}

// workFlatten issues the closing orders for any non-zero position that
// has no flatten order already working, then checks for completion.
func (k *Kernel) workFlatten() {
	type closeIntent struct {
		symbol string
		side   uint8
		price  float64
		qty    int32
	}
	var intents []closeIntent

	k.mu.Lock()
	if k.control.RunState != RunStateFlattening {
		k.mu.Unlock()
		return
	}
	covered := make(map[string]int64)
	for _, ord := range k.openOrders {
		if !ord.flatten {
			continue
		}
		remaining := int64(ord.quantity - ord.filled)
		if ord.side == shm.SideSell {
			remaining = -remaining
		}
		covered[ord.symbol] += remaining
	}
	for sym, pos := range k.positions {
		residual := pos.netQty + covered[sym] // flatten sells offset longs
		if residual == 0 {
			continue
		}
		inst := k.instruments[sym]
		if inst == nil || !inst.HasValidBook() {
			continue // wait for a book to price the unwind
		}
		var side uint8
		var px float64
		if residual > 0 {
			side = shm.SideSell
			px = inst.BidPx[0]
		} else {
			side = shm.SideBuy
			px = inst.AskPx[0]
		}
		intents = append(intents, closeIntent{symbol: sym, side: side, price: px, qty: int32(abs64(residual))})
	}
	k.mu.Unlock()

	for _, in := range intents {
		k.sendOrderInternal(in.symbol, in.side, shm.OrdLimit, in.price, in.qty, true)
	}

	k.mu.Lock()
	k.maybeFinishFlattenLocked()
	k.mu.Unlock()
}

// maybeFinishFlattenLocked moves Flattening → Stopped once every
// position is zero and nothing is outstanding.
func (k *Kernel) maybeFinishFlattenLocked() {
	if k.control.RunState != RunStateFlattening {
		return
	}
	for _, pos := range k.positions {
		if pos.netQty != 0 {
			return
		}
	}
	if len(k.openOrders) != 0 {
		return
	}
	k.control.EnterStopped()
	log.Printf("[Kernel:%d] flatten complete, stopped", k.id)
}

// RunState returns the current lifecycle state.
func (k *Kernel) RunState() RunState {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.control.RunState
}

// Control returns a copy of the control flags.
func (k *Kernel) Control() ControlState {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.control
}

// OpenOrderCount returns the number of in-flight orders.
func (k *Kernel) OpenOrderCount() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.openOrders)
}

// UpdateParameters atomically swaps the parameter map. Subsequent reads
// observe the new map. ParamFloat and ParamInt read the current map on
// every call, so an OnTick that reads several keys while a swap lands can
// mix old and new values; a map taken through Params() stays the old one.
func (k *Kernel) UpdateParameters(params map[string]interface{}) error {
	if params == nil {
		return fmt.Errorf("kernel %d: nil parameter map", k.id)
	}
	cp := make(map[string]interface{}, len(params))
	for key, v := range params {
		cp[key] = v
	}
	k.paramsMu.Lock()
	k.params = cp
	k.paramsMu.Unlock()
	return nil
}

// Params returns the live parameter map (copy-on-write: callers must not
// mutate it).
func (k *Kernel) Params() map[string]interface{} {
	k.paramsMu.RLock()
	defer k.paramsMu.RUnlock()
	return k.params
}

// ParamFloat reads a numeric parameter with a default.
func (k *Kernel) ParamFloat(key string, def float64) float64 {
	k.paramsMu.RLock()
	defer k.paramsMu.RUnlock()
	switch v := k.params[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return def
}

// ParamInt reads an integer parameter with a default.
func (k *Kernel) ParamInt(key string, def int) int {
	k.paramsMu.RLock()
	defer k.paramsMu.RUnlock()
	switch v := k.params[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return def
}

// PositionsBySymbol returns the estimated net quantity per symbol.
func (k *Kernel) PositionsBySymbol() map[string]int64 {
	k.mu.Lock()
	defer k.mu.Unlock()
	out := make(map[string]int64, len(k.positions))
	for sym, pos := range k.positions {
		if pos.netQty != 0 {
			out[sym] = pos.netQty
		}
	}
	return out
}

// InitializePositionsWithCost replaces the estimate wholesale with broker
// truth. Broker avg prices that encode 价格×合约乘数 are normalized by
// the multiplier table before storage.
func (k *Kernel) InitializePositionsWithCost(positions map[string]PositionWithCost) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	k.positions = make(map[string]*position, len(positions))
	for sym, p := range positions {
		cost := p.AvgCost
		if mult := MultiplierForSymbol(sym); mult > 1 && cost > 0 {
			cost /= mult
		}
		k.positions[sym] = &position{netQty: p.Quantity, avgCost: cost}
	}
	return nil
}

// PNL marks open positions against the latest books.
func (k *Kernel) PNL() PNLSnapshot {
	k.mu.Lock()
	defer k.mu.Unlock()

	var unrealized, exposure float64
	for sym, pos := range k.positions {
		if pos.netQty == 0 {
			continue
		}
		inst := k.instruments[sym]
		if inst == nil || !inst.HasValidBook() {
			continue
		}
		mark := inst.MidPrice()
		unrealized += (mark - pos.avgCost) * float64(pos.netQty)
		exposure += float64(abs64(pos.netQty)) * mark * inst.Multiplier
	}

	net := k.realized + unrealized
	if net > k.maxNet {
		k.maxNet = net
	}
	return PNLSnapshot{
		Realized:    k.realized,
		Unrealized:  unrealized,
		Net:         net,
		MaxNet:      k.maxNet,
		Drawdown:    net - k.maxNet,
		Exposure:    exposure,
		RejectCount: k.rejects,
	}
}

// SaveSnapshot persists the estimate to the per-strategy JSON file.
func (k *Kernel) SaveSnapshot() error {
	snap := PositionSnapshot{
		StrategyID: k.id,
		Timestamp:  time.Now(),
		SymbolsPos: k.PositionsBySymbol(),
	}
	return SavePositionSnapshot(k.mode, snap)
}

func abs64(x int64) int64 {
	if x < 0 {
		return -x
	}
	return x
}
