// Package host runs the strategy side of the platform: it hosts the
// strategy kernels, drains the MD and response queues into them, writes
// their orders to the request queue, and drives the session, risk,
// reconciliation and parameter-reload machinery around them.
package host

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/taurusjun/quantlink-trade-system-sub005/pkg/config"
	"github.com/taurusjun/quantlink-trade-system-sub005/pkg/events"
	"github.com/taurusjun/quantlink-trade-system-sub005/pkg/risk"
	"github.com/taurusjun/quantlink-trade-system-sub005/pkg/shm"
	"github.com/taurusjun/quantlink-trade-system-sub005/pkg/strategy"
)

// pollSleep is the idle backoff of the SHM polling loops.
const pollSleep = 100 * time.Microsecond

// orderQueueDepth bounds the internal strategy → writer queue.
const orderQueueDepth = 1024

// verifyInterval is the periodic position re-verification cadence.
const verifyInterval = 5 * time.Minute

// StrategyHost owns the strategy table and every host-side thread.
type StrategyHost struct {
	cfg *config.TraderConfig

	mdQueue   *shm.MWMRQueue[shm.MarketUpdate]
	reqQueue  *shm.MWMRQueue[shm.RequestMsg]
	respQueue *shm.MWMRQueue[shm.ResponseMsg]
	clients   *shm.ClientStore

	clientID uint32
	orderSeq atomic.Uint32

	mu            sync.Mutex
	strategies    map[int32]strategy.Strategy
	allocations   map[int32]float64
	subscriptions map[string][]int32 // symbol → strategy ids

	orderCh chan shm.RequestMsg

	session    *SessionController
	riskGate   *risk.RiskGate
	reconciler *PositionReconciler
	watcher    *ParameterWatcher
	publisher  *events.Publisher

	manualMode atomic.Bool // a manual signal disables the auto policy
	wasInSess  bool

	orderDrops atomic.Int64
	mdCount    atomic.Int64
	respCount  atomic.Int64

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New attaches the host to the shared queues and builds the component
// graph. The caller adds strategies before Start.
func New(cfg *config.TraderConfig, querier PositionQuerier) (*StrategyHost, error) {
	mdQ, err := shm.OpenQueue[shm.MarketUpdate](cfg.Shm.MDKey, cfg.Shm.MDSize)
	if err != nil {
		return nil, fmt.Errorf("host: MD queue: %w", err)
	}
	reqQ, err := shm.OpenQueue[shm.RequestMsg](cfg.Shm.RequestKey, cfg.Shm.RequestSize)
	if err != nil {
		mdQ.Close()
		return nil, fmt.Errorf("host: request queue: %w", err)
	}
	respQ, err := shm.OpenQueue[shm.ResponseMsg](cfg.Shm.ResponseKey, cfg.Shm.ResponseSize)
	if err != nil {
		mdQ.Close()
		reqQ.Close()
		return nil, fmt.Errorf("host: response queue: %w", err)
	}
	clients, err := shm.OpenClientStore(cfg.Shm.ClientKey)
	if err != nil {
		mdQ.Close()
		reqQ.Close()
		respQ.Close()
		return nil, fmt.Errorf("host: client store: %w", err)
	}

	h := &StrategyHost{
		cfg:           cfg,
		mdQueue:       mdQ,
		reqQueue:      reqQ,
		respQueue:     respQ,
		clients:       clients,
		clientID:      uint32(clients.NextClientID()),
		strategies:    make(map[int32]strategy.Strategy),
		allocations:   make(map[int32]float64),
		subscriptions: make(map[string][]int32),
		orderCh:       make(chan shm.RequestMsg, orderQueueDepth),
		session:       NewSessionController(&cfg.Session),
		stop:          make(chan struct{}),
	}
	log.Printf("[Host] allocated clientID=%d", h.clientID)

	if cfg.Events.NATSAddr != "" {
		pub, err := events.Connect(cfg.Events.NATSAddr)
		if err != nil {
			log.Printf("[Host] NATS unavailable, events disabled: %v", err)
		} else {
			h.publisher = pub
		}
	}

	h.riskGate = risk.New(cfg.RiskGateConfig(), h.StrategyTable)
	h.riskGate.OnStop(func(id int32, a risk.Alert) {
		h.publisher.PublishAlert(a)
	})
	h.riskGate.OnEmergency(func(a risk.Alert) {
		h.publisher.PublishAlert(a)
		log.Printf("[Host] emergency stop: shutting down")
		go h.Shutdown()
	})

	if querier != nil {
		h.reconciler = NewPositionReconciler(cfg.System.Mode, querier, h.StrategyTable)
	}

	return h, nil
}

// AddStrategy registers a strategy and binds its kernel to the host
// order path.
func (h *StrategyHost) AddStrategy(s strategy.Strategy, allocation float64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := s.ID()
	if _, exists := h.strategies[id]; exists {
		return fmt.Errorf("host: duplicate strategy id %d", id)
	}
	b, ok := s.(strategy.Bindable)
	if !ok {
		return fmt.Errorf("host: strategy %d has no order path binding", id)
	}
	h.strategies[id] = s
	h.allocations[id] = allocation
	for _, sym := range s.Symbols() {
		h.subscriptions[sym] = append(h.subscriptions[sym], id)
	}
	b.Bind(orderSinkFunc(h.submitOrder), h.nextOrderID)
	log.Printf("[Host] strategy %d registered (symbols=%v, allocation=%.3f)", id, s.Symbols(), allocation)
	return nil
}

// StrategyTable returns a copy of the strategy map (risk gate, watcher,
// reconciler all read through this).
func (h *StrategyHost) StrategyTable() map[int32]strategy.Strategy {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[int32]strategy.Strategy, len(h.strategies))
	for id, s := range h.strategies {
		out[id] = s
	}
	return out
}

// Start reconciles positions, then launches every host thread.
func (h *StrategyHost) Start() error {
	if h.reconciler != nil {
		if err := h.reconciler.ReconcileOnStartup(); err != nil {
			// 对账失败不阻塞启动，但必须醒目
			log.Printf("[Host] startup reconciliation failed: %v", err)
		}
	}

	if h.cfg.Model.File != "" {
		w, err := NewParameterWatcher(&h.cfg.Model, h.StrategyTable, h.publisher)
		if err != nil {
			log.Printf("[Host] parameter watcher disabled: %v", err)
		} else {
			h.watcher = w
			// Apply the model once at startup so strategies begin on
			// file truth, then watch.
			if err := w.Reload(); err != nil {
				log.Printf("[Host] initial model load: %v", err)
			}
			w.Start()
		}
	}

	h.riskGate.Start()

	h.wg.Add(4)
	go h.mdLoop()
	go h.respLoop()
	go h.orderWriterLoop()
	go h.sessionLoop()

	if h.reconciler != nil {
		h.wg.Add(1)
		go h.verifyLoop()
	}

	log.Printf("[Host] started (%d strategies, mode=%s)", len(h.StrategyTable()), h.cfg.System.Mode)
	return nil
}

// Run installs the signal handlers and blocks until shutdown.
// SIGUSR1 activates every strategy, SIGUSR2 deactivates-and-flattens,
// SIGINT/SIGTERM shut the host down. Strategy state is never touched
// from the signal handler itself; signals funnel into this loop.
func (h *StrategyHost) Run() {
	sigCh := make(chan os.Signal, 4)
	signal.Notify(sigCh, syscall.SIGUSR1, syscall.SIGUSR2, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	for {
		select {
		case <-h.stop:
			return
		case sig := <-sigCh:
			switch sig {
			case syscall.SIGUSR1:
				log.Printf("[Host] SIGUSR1: manual activate")
				h.manualMode.Store(true)
				h.ActivateAll()
			case syscall.SIGUSR2:
				log.Printf("[Host] SIGUSR2: manual deactivate and flatten")
				h.manualMode.Store(true)
				h.FlattenAll(strategy.FlattenManual)
			case syscall.SIGINT, syscall.SIGTERM:
				log.Printf("[Host] %v: graceful shutdown", sig)
				h.Shutdown()
				return
			}
		}
	}
}

// ActivateAll activates every strategy.
func (h *StrategyHost) ActivateAll() {
	for _, s := range h.StrategyTable() {
		s.Activate()
	}
}

// FlattenAll flattens every strategy.
func (h *StrategyHost) FlattenAll(reason strategy.FlattenReason) {
	for _, s := range h.StrategyTable() {
		s.TriggerFlatten(reason)
	}
}

// Shutdown stops the loops, waits out flattening strategies up to the
// deadline, saves snapshots, and detaches.
func (h *StrategyHost) Shutdown() {
	h.stopOnce.Do(func() {
		log.Printf("[Host] shutting down")
		close(h.stop)

		deadline := time.Now().Add(time.Duration(h.cfg.Session.FlattenDeadlineSec) * time.Second)
		for time.Now().Before(deadline) {
			busy := false
			for _, s := range h.StrategyTable() {
				if s.RunState() == strategy.RunStateFlattening {
					busy = true
					break
				}
			}
			if !busy {
				break
			}
			time.Sleep(100 * time.Millisecond)
		}

		h.riskGate.Stop()
		if h.watcher != nil {
			h.watcher.Stop()
		}
		h.wg.Wait()

		for id, s := range h.StrategyTable() {
			if err := s.SaveSnapshot(); err != nil {
				log.Printf("[Host] snapshot %d: %v", id, err)
			}
		}

		h.publisher.Close()
		h.mdQueue.Close()
		h.reqQueue.Close()
		h.respQueue.Close()
		h.clients.Close()
		log.Printf("[Host] shutdown complete (md=%d resp=%d drops=%d)",
			h.mdCount.Load(), h.respCount.Load(), h.orderDrops.Load())
	})
}

// RiskGate exposes the gate (status API).
func (h *StrategyHost) RiskGate() *risk.RiskGate { return h.riskGate }

// Watcher exposes the parameter watcher (status API); may be nil.
func (h *StrategyHost) Watcher() *ParameterWatcher { return h.watcher }

// Session exposes the session controller.
func (h *StrategyHost) Session() *SessionController { return h.session }

// --- order path ---

type orderSinkFunc func(req *shm.RequestMsg) bool

func (f orderSinkFunc) Submit(req *shm.RequestMsg) bool { return f(req) }

func (h *StrategyHost) submitOrder(req *shm.RequestMsg) bool {
	select {
	case h.orderCh <- *req:
		return true
	default:
		h.orderDrops.Add(1)
		return false
	}
}

func (h *StrategyHost) nextOrderID() uint32 {
	return h.clientID*shm.OrderIDRange + h.orderSeq.Add(1)
}

// orderWriterLoop drains the internal order queue into the request SHM
// queue.
func (h *StrategyHost) orderWriterLoop() {
	defer h.wg.Done()
	for {
		select {
		case <-h.stop:
			return
		case req := <-h.orderCh:
			if err := h.reqQueue.Enqueue(&req, shm.DefaultTryBudget); err != nil {
				h.orderDrops.Add(1)
				log.Printf("[Host] request queue full, dropped order %d", req.OrderID)
			}
		}
	}
}

// --- dispatch loops ---

func (h *StrategyHost) mdLoop() {
	defer h.wg.Done()
	var md shm.MarketUpdate
	for {
		select {
		case <-h.stop:
			return
		default:
		}
		if !h.mdQueue.TryDequeue(&md) {
			time.Sleep(pollSleep)
			continue
		}
		h.mdCount.Add(1)
		symbol := shm.SymbolString(md.Symbol[:])

		h.mu.Lock()
		ids := h.subscriptions[symbol]
		targets := make([]strategy.Strategy, 0, len(ids))
		for _, id := range ids {
			if s, ok := h.strategies[id]; ok {
				targets = append(targets, s)
			}
		}
		h.mu.Unlock()

		for _, s := range targets {
			s.OnTick(&md)
		}
	}
}

func (h *StrategyHost) respLoop() {
	defer h.wg.Done()
	var resp shm.ResponseMsg
	for {
		select {
		case <-h.stop:
			return
		default:
		}
		if !h.respQueue.TryDequeue(&resp) {
			time.Sleep(pollSleep)
			continue
		}
		// 只消费属于本 client 段的应答
		if resp.OrderID/shm.OrderIDRange != h.clientID {
			continue
		}
		h.respCount.Add(1)

		h.mu.Lock()
		s, ok := h.strategies[resp.StrategyID]
		h.mu.Unlock()
		if !ok {
			log.Printf("[Host] response for unknown strategy %d (order %d)", resp.StrategyID, resp.OrderID)
			continue
		}
		s.OnOrderUpdate(&resp)

		if resp.ResponseType == shm.TradeConfirm {
			h.publisher.PublishFill(events.FillEvent{
				StrategyID: resp.StrategyID,
				OrderID:    resp.OrderID,
				Symbol:     shm.SymbolString(resp.Symbol[:]),
				Side:       string(resp.Side),
				Quantity:   resp.Quantity,
				Price:      resp.Price,
				Time:       int64(resp.TimestampNs),
			})
		}
	}
}

// sessionLoop is the 1 Hz trading-window tick. Auto policy activates on
// window entry and flattens on exit unless a manual signal has taken
// over.
func (h *StrategyHost) sessionLoop() {
	defer h.wg.Done()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	h.wasInSess = h.session.InSession()
	if h.wasInSess && h.cfg.Session.AutoActivate {
		h.ActivateAll()
	}

	for {
		select {
		case <-h.stop:
			return
		case <-ticker.C:
			if h.manualMode.Load() {
				continue
			}
			in := h.session.InSession()
			switch {
			case in && !h.wasInSess:
				if h.cfg.Session.AutoActivate {
					log.Printf("[Host] session opened, activating strategies")
					h.ActivateAll()
				}
			case !in && h.wasInSess:
				if h.cfg.Session.AutoStop {
					log.Printf("[Host] session closed, flattening strategies")
					h.FlattenAll(strategy.FlattenSessionEnd)
				}
			}
			h.wasInSess = in
		}
	}
}

// verifyLoop re-checks positions against broker truth every 5 minutes.
func (h *StrategyHost) verifyLoop() {
	defer h.wg.Done()
	ticker := time.NewTicker(verifyInterval)
	defer ticker.Stop()
	for {
		select {
		case <-h.stop:
			return
		case <-ticker.C:
			if err := h.reconciler.Verify(); err != nil {
				log.Printf("[Host] %v", err)
			}
		}
	}
}
