package broker

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/taurusjun/quantlink-trade-system-sub005/pkg/types"
)

// SimAdapter is the in-process broker used by the simulation mode and the
// bridge tests. Orders fill immediately against a configurable reference
// book; scripts can force rejects, partial fills, and delayed not-ready
// query behavior to exercise the bridge's failure paths.
type SimAdapter struct {
	name string

	mu        sync.Mutex
	loggedIn  bool
	refPrice  map[string]float64 // symbol → fill reference price
	positions map[string][]PositionInfo
	account   AccountInfo

	cb        Callbacks
	cbMu      sync.RWMutex
	nextOrder atomic.Int64

	// failure scripts (tests)
	rejectNext     atomic.Bool
	failSendNext   atomic.Bool
	partialScript  []int32 // fill slicing for next order
	notReadyRounds atomic.Int32

	// async callback dispatch, one goroutine like a real plugin's
	// callback thread
	events chan OrderInfo
	trades chan TradeInfo
	done   chan struct{}
	wg     sync.WaitGroup
}

// NewSimAdapter creates a simulated broker.
func NewSimAdapter(name string) *SimAdapter {
	return &SimAdapter{
		name:      name,
		refPrice:  make(map[string]float64),
		positions: make(map[string][]PositionInfo),
		account:   AccountInfo{Balance: 1_000_000, Available: 1_000_000},
		events:    make(chan OrderInfo, 1024),
		trades:    make(chan TradeInfo, 1024),
		done:      make(chan struct{}),
	}
}

func (s *SimAdapter) Name() string { return s.name }

func (s *SimAdapter) Initialize(configPath string) bool {
	log.Printf("[SimBroker:%s] initialized (config=%s)", s.name, configPath)
	return true
}

func (s *SimAdapter) Login() bool {
	s.mu.Lock()
	s.loggedIn = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.dispatchLoop()
	log.Printf("[SimBroker:%s] logged in", s.name)
	return true
}

func (s *SimAdapter) Logout() {
	s.mu.Lock()
	wasIn := s.loggedIn
	s.loggedIn = false
	s.mu.Unlock()
	if wasIn {
		close(s.done)
		s.wg.Wait()
	}
}

func (s *SimAdapter) IsLoggedIn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loggedIn
}

func (s *SimAdapter) RegisterCallbacks(cb Callbacks) {
	s.cbMu.Lock()
	s.cb = cb
	s.cbMu.Unlock()
}

// SetReferencePrice sets the price the simulator fills at.
func (s *SimAdapter) SetReferencePrice(symbol string, px float64) {
	s.mu.Lock()
	s.refPrice[symbol] = px
	s.mu.Unlock()
}

// SetPositions seeds the query result (reconciliation tests).
func (s *SimAdapter) SetPositions(byExchange map[string][]PositionInfo) {
	s.mu.Lock()
	s.positions = byExchange
	s.mu.Unlock()
}

// RejectNextOrder scripts an immediate reject for the next order.
func (s *SimAdapter) RejectNextOrder() { s.rejectNext.Store(true) }

// FailNextSend scripts an empty broker id on the next SendOrder.
func (s *SimAdapter) FailNextSend() { s.failSendNext.Store(true) }

// PartialFillNext splits the next order's fill into the given slices.
func (s *SimAdapter) PartialFillNext(slices ...int32) {
	s.mu.Lock()
	s.partialScript = slices
	s.mu.Unlock()
}

// NotReadyFor makes the next n position queries return ErrNotReady.
func (s *SimAdapter) NotReadyFor(n int32) { s.notReadyRounds.Store(n) }

func (s *SimAdapter) SendOrder(order UnifiedOrder) string {
	if !s.IsLoggedIn() {
		return ""
	}
	if s.failSendNext.CompareAndSwap(true, false) {
		return ""
	}

	brokerID := fmt.Sprintf("%s-%d", s.name, s.nextOrder.Add(1))
	now := uint64(time.Now().UnixNano())

	if s.rejectNext.CompareAndSwap(true, false) {
		s.emit(OrderInfo{
			BrokerOrderID: brokerID,
			Status:        types.StatusRejected,
			Volume:        order.Volume,
			UpdateTime:    now,
			ErrorCode:     30,
			ErrorMsg:      "scripted reject",
		})
		return brokerID
	}

	// Accept, then fill at the reference price (or the limit price when
	// no reference is configured).
	s.emit(OrderInfo{
		BrokerOrderID: brokerID,
		Status:        types.StatusAccepted,
		Volume:        order.Volume,
		UpdateTime:    now,
	})

	s.mu.Lock()
	px, ok := s.refPrice[order.Symbol]
	slices := s.partialScript
	s.partialScript = nil
	s.mu.Unlock()
	if !ok {
		px = order.Price
	}

	if len(slices) == 0 {
		slices = []int32{order.Volume}
	}
	var done int32
	for _, q := range slices {
		if done+q > order.Volume {
			q = order.Volume - done
		}
		if q <= 0 {
			continue
		}
		done += q
		status := types.StatusPartialFilled
		if done == order.Volume {
			status = types.StatusFilled
		}
		execID := uuid.NewString()[:8]
		s.emit(OrderInfo{
			BrokerOrderID: brokerID,
			Status:        status,
			Volume:        order.Volume,
			TradedVolume:  q,
			Price:         px,
			ExecID:        execID,
			UpdateTime:    uint64(time.Now().UnixNano()),
		})
		s.emitTrade(TradeInfo{
			BrokerOrderID: brokerID,
			TradeID:       execID,
			Symbol:        order.Symbol,
			Price:         px,
			Volume:        q,
			TradeTime:     uint64(time.Now().UnixNano()),
		})
	}
	return brokerID
}

func (s *SimAdapter) CancelOrder(brokerOrderID string) bool {
	// Sim orders fill synchronously; nothing left to cancel.
	return false
}

func (s *SimAdapter) QueryPositions() (map[string][]PositionInfo, error) {
	if n := s.notReadyRounds.Load(); n > 0 {
		s.notReadyRounds.Add(-1)
		return nil, ErrNotReady
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string][]PositionInfo, len(s.positions))
	for exch, ps := range s.positions {
		out[exch] = append([]PositionInfo(nil), ps...)
	}
	return out, nil
}

func (s *SimAdapter) QueryAccount() (AccountInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.account, nil
}

func (s *SimAdapter) emit(info OrderInfo) {
	select {
	case s.events <- info:
	default:
		log.Printf("[SimBroker:%s] event channel full, dropping order event %s", s.name, info.BrokerOrderID)
	}
}

func (s *SimAdapter) emitTrade(tr TradeInfo) {
	select {
	case s.trades <- tr:
	default:
	}
}

// dispatchLoop plays the role of the plugin's callback thread.
func (s *SimAdapter) dispatchLoop() {
	defer s.wg.Done()
	for {
		select {
		case info := <-s.events:
			s.cbMu.RLock()
			cb := s.cb.OnOrder
			s.cbMu.RUnlock()
			if cb != nil {
				cb(info)
			}
		case tr := <-s.trades:
			s.cbMu.RLock()
			cb := s.cb.OnTrade
			s.cbMu.RUnlock()
			if cb != nil {
				cb(tr)
			}
		case <-s.done:
			// Drain pending events before exiting.
			for {
				select {
				case info := <-s.events:
					s.cbMu.RLock()
					cb := s.cb.OnOrder
					s.cbMu.RUnlock()
					if cb != nil {
						cb(info)
					}
				default:
					return
				}
			}
		}
	}
}
