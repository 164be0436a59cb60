// Package bridge implements the order-routing bridge: it drains new-order
// requests from the request SHM queue, settles the open/close offset
// against the position ledger, dispatches to a broker adapter, and turns
// broker callbacks back into response records on the response SHM queue.
package bridge

import (
	"log"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/taurusjun/quantlink-trade-system-sub005/pkg/broker"
	"github.com/taurusjun/quantlink-trade-system-sub005/pkg/ledger"
	"github.com/taurusjun/quantlink-trade-system-sub005/pkg/shm"
	"github.com/taurusjun/quantlink-trade-system-sub005/pkg/store"
	"github.com/taurusjun/quantlink-trade-system-sub005/pkg/types"
)

// pollSleep is the idle backoff of every SHM polling loop.
const pollSleep = 100 * time.Microsecond

// respRetries bounds the exponential-backoff retry when the response
// queue is full; past that the response is dropped and counted.
const respRetries = 8

// earlyCallbackCap bounds the stash of callbacks that raced ahead of
// their SendOrder return. Anything beyond the cap is a late callback for
// an order we never sent (e.g. after a restart) and is dropped.
const earlyCallbackCap = 1024

// Config wires an OrderBridge.
type Config struct {
	RequestQueue  *shm.MWMRQueue[shm.RequestMsg]
	ResponseQueue *shm.MWMRQueue[shm.ResponseMsg]
	Ledger        *ledger.PositionLedger
	// SymbolRoutes maps symbol → adapter name; unlisted symbols fall
	// back to the first logged-in adapter.
	SymbolRoutes map[string]string
	// OrdersPerSecond throttles broker sends; 0 disables the limiter.
	OrdersPerSecond float64
	OrderBurst      int
	// History is optional; fills and order events are recorded when set.
	History *store.HistoryStore
}

// OrderBridge is the single consumer of the request queue and the single
// owner of the order cache and position ledger on the bridge side.
// Multiple broker callback threads funnel through onOrder concurrently;
// the response queue's MWMR discipline makes their enqueues safe.
type OrderBridge struct {
	reqQueue  *shm.MWMRQueue[shm.RequestMsg]
	respQueue *shm.MWMRQueue[shm.ResponseMsg]
	ledger    *ledger.PositionLedger
	cache     *ledger.OrderCache
	history   *store.HistoryStore

	adaptersMu sync.Mutex
	adapters   []broker.Adapter
	byName     map[string]broker.Adapter
	routes     map[string]string

	limiter *rate.Limiter

	// Callbacks can outrun SendOrder's return on a fast counter; they
	// wait here until the cache entry exists, then replay.
	pendingMu sync.Mutex
	pending   map[string][]broker.OrderInfo

	stats   Stats
	stopped chan struct{}
	wg      sync.WaitGroup
}

// New creates an OrderBridge.
func New(cfg Config) *OrderBridge {
	var lim *rate.Limiter
	if cfg.OrdersPerSecond > 0 {
		burst := cfg.OrderBurst
		if burst <= 0 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(cfg.OrdersPerSecond), burst)
	}
	routes := cfg.SymbolRoutes
	if routes == nil {
		routes = make(map[string]string)
	}
	return &OrderBridge{
		reqQueue:  cfg.RequestQueue,
		respQueue: cfg.ResponseQueue,
		ledger:    cfg.Ledger,
		cache:     ledger.NewOrderCache(),
		history:   cfg.History,
		byName:    make(map[string]broker.Adapter),
		routes:    routes,
		limiter:   lim,
		pending:   make(map[string][]broker.OrderInfo),
		stopped:   make(chan struct{}),
	}
}

// AddAdapter registers a broker plugin and hooks its callbacks.
func (b *OrderBridge) AddAdapter(a broker.Adapter) {
	b.adaptersMu.Lock()
	b.adapters = append(b.adapters, a)
	b.byName[a.Name()] = a
	b.adaptersMu.Unlock()

	a.RegisterCallbacks(broker.Callbacks{
		OnOrder: b.onOrder,
		OnTrade: b.onTrade,
		OnError: func(code int32, msg string) {
			log.Printf("[Bridge] broker %s error %d: %s", a.Name(), code, msg)
		},
	})
}

// Start launches the request polling loop.
func (b *OrderBridge) Start() {
	b.wg.Add(1)
	go b.requestLoop()
	log.Printf("[Bridge] started (adapters=%d)", len(b.adapters))
}

// Stop signals the polling loop and waits for it.
func (b *OrderBridge) Stop() {
	close(b.stopped)
	b.wg.Wait()
}

// Stats returns a snapshot of the bridge counters.
func (b *OrderBridge) Stats() StatsSnapshot {
	return b.stats.Snapshot()
}

// Ledger exposes the position ledger (status API, tests).
func (b *OrderBridge) Ledger() *ledger.PositionLedger { return b.ledger }

// OpenOrders returns the number of live order-cache entries.
func (b *OrderBridge) OpenOrders() int { return b.cache.Len() }

func (b *OrderBridge) requestLoop() {
	defer b.wg.Done()
	var req shm.RequestMsg
	for {
		select {
		case <-b.stopped:
			return
		default:
		}
		if !b.reqQueue.TryDequeue(&req) {
			time.Sleep(pollSleep)
			continue
		}
		b.handleRequest(&req)
	}
}

// handleRequest runs the full send path for one dequeued request:
// broker selection → offset decision → translation → dispatch.
func (b *OrderBridge) handleRequest(req *shm.RequestMsg) {
	b.stats.Requests.Add(1)
	symbol := shm.SymbolString(req.Symbol[:])

	adapter := b.selectAdapter(symbol)
	if adapter == nil {
		b.stats.NoBroker.Add(1)
		b.enqueueResponse(rejectResponse(req, shm.OrsReject, shm.ErrCodeNoBroker))
		return
	}

	flag, fromToday := b.ledger.DecideOffset(symbol, req.Side, req.Quantity, req.ExchangeType)

	if b.limiter != nil && !b.limiter.Allow() {
		b.stats.RateLimited.Add(1)
		b.ledger.Restore(symbol, req.Side, req.Quantity, flag, fromToday)
		b.enqueueResponse(rejectResponse(req, shm.OrsReject, shm.ErrCodeRateLimit))
		return
	}

	order := broker.UnifiedOrder{
		ClientOrderID: strconv.FormatUint(uint64(req.OrderID), 10),
		Symbol:        symbol,
		Exchange:      shm.ExchangeName(req.ExchangeType),
		Side:          sideToTransaction(req.Side),
		Offset:        flag,
		Price:         req.Price,
		Volume:        req.Quantity,
		PriceType:     priceType(req.OrdType),
	}

	brokerID := safeSend(adapter, order)
	if brokerID == "" {
		// 发送失败：回滚平仓预扣，通知策略端
		b.stats.SendFailures.Add(1)
		b.ledger.Restore(symbol, req.Side, req.Quantity, flag, fromToday)
		resp := rejectResponse(req, shm.OrderError, shm.ErrCodeSendFailed)
		b.enqueueResponse(resp)
		log.Printf("[Bridge] send failed: order=%d symbol=%s qty=%d", req.OrderID, symbol, req.Quantity)
		return
	}

	b.stats.Sent.Add(1)
	b.cache.Insert(brokerID, ledger.OrderCacheEntry{
		OrderID:    req.OrderID,
		StrategyID: req.StrategyID,
		Symbol:     symbol,
		Side:       req.Side,
		Flag:       flag,
		FromToday:  fromToday,
		Quantity:   req.Quantity,
	})
	if b.history != nil {
		b.history.RecordOrder(store.OrderRecord{
			OrderID:    req.OrderID,
			StrategyID: req.StrategyID,
			BrokerID:   brokerID,
			Symbol:     symbol,
			Side:       string(req.Side),
			Offset:     flag.String(),
			Price:      req.Price,
			Quantity:   req.Quantity,
		})
	}

	b.replayPending(brokerID)
}

// safeSend guards against a panicking plugin; a throw inside SendOrder
// counts as a failed send, never as a dead bridge.
func safeSend(a broker.Adapter, order broker.UnifiedOrder) (brokerID string) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[Bridge] broker %s panicked in SendOrder: %v", a.Name(), r)
			brokerID = ""
		}
	}()
	return a.SendOrder(order)
}

// selectAdapter: exact symbol route first, then first logged-in adapter.
func (b *OrderBridge) selectAdapter(symbol string) broker.Adapter {
	b.adaptersMu.Lock()
	defer b.adaptersMu.Unlock()
	if name, ok := b.routes[symbol]; ok {
		if a, ok := b.byName[name]; ok && a.IsLoggedIn() {
			return a
		}
	}
	for _, a := range b.adapters {
		if a.IsLoggedIn() {
			return a
		}
	}
	return nil
}

// onOrder is invoked from broker callback threads. It must stay
// non-blocking: the only waits are the bounded response-queue retries.
func (b *OrderBridge) onOrder(info broker.OrderInfo) {
	entry, ok := b.cache.Lookup(info.BrokerOrderID)
	if !ok {
		b.stashEarly(info)
		return
	}
	b.applyCallback(entry, info)
}

func (b *OrderBridge) applyCallback(entry ledger.OrderCacheEntry, info broker.OrderInfo) {
	var resp shm.ResponseMsg
	resp.OrderID = entry.OrderID
	resp.StrategyID = entry.StrategyID
	shm.SetSymbol(resp.Symbol[:], entry.Symbol)
	resp.Side = entry.Side
	resp.TimestampNs = info.UpdateTime
	if resp.TimestampNs == 0 {
		resp.TimestampNs = uint64(time.Now().UnixNano())
	}

	switch info.Status {
	case types.StatusAccepted, types.StatusSubmitted:
		resp.ResponseType = shm.NewOrderConfirm

	case types.StatusPartialFilled, types.StatusFilled:
		resp.ResponseType = shm.TradeConfirm
		resp.Quantity = info.TradedVolume
		resp.Price = info.Price
		shm.SetSymbol(resp.ExecID[:], info.ExecID)
		entry, _ = b.cache.AddFilled(info.BrokerOrderID, info.TradedVolume)
		// 开仓成交进今仓；平仓成交在裁定时已预扣
		b.ledger.ApplyFill(entry.Symbol, entry.Side, info.TradedVolume, entry.Flag)

	case types.StatusCanceled:
		resp.ResponseType = shm.CancelOrderConfirm
		unfilled := entry.Quantity - entry.Filled
		resp.Quantity = unfilled
		b.ledger.Restore(entry.Symbol, entry.Side, unfilled, entry.Flag, entry.FromToday)

	case types.StatusRejected, types.StatusError:
		resp.ResponseType = shm.OrderError
		resp.Quantity = entry.Quantity
		resp.ErrorCode = info.ErrorCode
		unfilled := entry.Quantity - entry.Filled
		b.ledger.Restore(entry.Symbol, entry.Side, unfilled, entry.Flag, entry.FromToday)

	default:
		log.Printf("[Bridge] unhandled broker status %v for %s", info.Status, info.BrokerOrderID)
		return
	}

	if info.Status.IsTerminal() {
		b.cache.Remove(info.BrokerOrderID)
	}

	b.enqueueResponse(resp)
}

func (b *OrderBridge) onTrade(tr broker.TradeInfo) {
	if b.history != nil {
		b.history.RecordFill(store.FillRecord{
			BrokerID: tr.BrokerOrderID,
			TradeID:  tr.TradeID,
			Symbol:   tr.Symbol,
			Price:    tr.Price,
			Quantity: tr.Volume,
		})
	}
}

// stashEarly holds a callback whose cache entry has not been inserted
// yet. Truly unknown ids (restart leftovers) stay in the stash without
// effect; nothing evicts them, and once the stash holds earlyCallbackCap
// ids every further unmatched callback is dropped and counted. The
// re-check after stashing closes the window
// where the insert-and-replay ran between our lookup miss and the
// stash.
func (b *OrderBridge) stashEarly(info broker.OrderInfo) {
	b.pendingMu.Lock()
	if len(b.pending) >= earlyCallbackCap {
		b.pendingMu.Unlock()
		b.stats.UnknownCallbacks.Add(1)
		log.Printf("[Bridge] dropping callback for unknown broker order %s (status=%v)", info.BrokerOrderID, info.Status)
		return
	}
	b.pending[info.BrokerOrderID] = append(b.pending[info.BrokerOrderID], info)
	b.pendingMu.Unlock()

	if _, ok := b.cache.Lookup(info.BrokerOrderID); ok {
		b.replayPending(info.BrokerOrderID)
	}
}

// replayPending runs callbacks that arrived before the cache insert.
func (b *OrderBridge) replayPending(brokerID string) {
	b.pendingMu.Lock()
	infos := b.pending[brokerID]
	delete(b.pending, brokerID)
	b.pendingMu.Unlock()

	for _, info := range infos {
		if entry, ok := b.cache.Lookup(brokerID); ok {
			b.applyCallback(entry, info)
		}
	}
}

// enqueueResponse publishes a response with bounded exponential backoff;
// a persistently full queue drops the record and bumps response_drops.
func (b *OrderBridge) enqueueResponse(resp shm.ResponseMsg) {
	backoff := pollSleep
	for attempt := 0; attempt < respRetries; attempt++ {
		if err := b.respQueue.Enqueue(&resp, shm.DefaultTryBudget); err == nil {
			b.stats.Responses.Add(1)
			return
		}
		time.Sleep(backoff)
		backoff *= 2
	}
	b.stats.ResponseDrops.Add(1)
	log.Printf("[Bridge] response queue full, dropped response order=%d type=%d", resp.OrderID, resp.ResponseType)
}

func rejectResponse(req *shm.RequestMsg, respType uint8, errCode int32) shm.ResponseMsg {
	var resp shm.ResponseMsg
	resp.OrderID = req.OrderID
	resp.StrategyID = req.StrategyID
	resp.Symbol = req.Symbol
	resp.Side = req.Side
	resp.ResponseType = respType
	resp.Quantity = req.Quantity
	resp.ErrorCode = errCode
	resp.TimestampNs = uint64(time.Now().UnixNano())
	return resp
}

func sideToTransaction(side uint8) types.TransactionType {
	if side == shm.SideBuy {
		return types.Buy
	}
	return types.Sell
}

func priceType(ordType uint8) string {
	if ordType == shm.OrdMarket {
		return "market"
	}
	return "limit"
}
