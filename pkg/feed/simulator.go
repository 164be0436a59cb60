package feed

import (
	"log"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/taurusjun/quantlink-trade-system-sub005/pkg/shm"
)

// commonShockRho couples every instrument to the common Gaussian shock;
// the residual √(1-ρ²) stays idiosyncratic.
const commonShockRho = 0.95

// SimInstrument is one simulated contract.
type SimInstrument struct {
	Symbol     string
	Exchange   uint8
	StartPrice float64
	TickSize   float64
	Volatility float64 // per-tick price volatility, pre tick-snapping

	mid       float64
	cumVolume int64
	turnover  float64
}

// Simulator drives a correlated random walk across its instruments and
// publishes five-level books at a fixed tick interval.
//
// 相关性结构：每个 tick 抽一个公共冲击 z_c，品种冲击为
// ρ·z_c + √(1−ρ²)·z_i，中价漂移 shock·volatility 后贴到 tick 网格。
type Simulator struct {
	pub         Publisher
	instruments []*SimInstrument
	interval    time.Duration
	rng         *rand.Rand
	seqnum      uint64

	mu      sync.Mutex
	running bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewSimulator creates a simulator. A zero seed derives one from the
// clock; tests pass a fixed seed for reproducible books.
func NewSimulator(pub Publisher, interval time.Duration, seed int64, instruments ...*SimInstrument) *Simulator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	for _, si := range instruments {
		si.mid = si.StartPrice
	}
	return &Simulator{
		pub:         pub,
		instruments: instruments,
		interval:    interval,
		rng:         rand.New(rand.NewSource(seed)),
		done:        make(chan struct{}),
	}
}

// Start launches the tick loop.
func (s *Simulator) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run()
	log.Printf("[FeedSim] started: %d instruments, interval=%v", len(s.instruments), s.interval)
}

// Stop terminates the tick loop.
func (s *Simulator) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	close(s.done)
	s.wg.Wait()
}

func (s *Simulator) run() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.Step()
		}
	}
}

// Step advances every instrument by one tick and publishes the books.
// Exported so tests can drive the walk without the wall clock.
func (s *Simulator) Step() {
	zc := s.rng.NormFloat64()
	residual := math.Sqrt(1 - commonShockRho*commonShockRho)

	for _, si := range s.instruments {
		zi := s.rng.NormFloat64()
		shock := commonShockRho*zc + residual*zi
		si.mid += shock * si.Volatility
		if si.mid < si.TickSize*2 {
			si.mid = si.TickSize * 2 // price floor, books never cross zero
		}

		md := s.buildUpdate(si)
		if err := s.pub.Enqueue(md, shm.DefaultTryBudget); err != nil {
			// MD 队列已满：直接丢当前 tick，行情流允许有洞
			continue
		}
	}
}

func (s *Simulator) buildUpdate(si *SimInstrument) *shm.MarketUpdate {
	var md shm.MarketUpdate
	s.seqnum++
	md.Seqnum = s.seqnum
	now := uint64(time.Now().UnixNano())
	md.ExchTS = now
	md.LocalTS = now
	shm.SetSymbol(md.Symbol[:], si.Symbol)
	md.ExchangeType = si.Exchange
	md.FeedType = shm.FeedSnapshot
	md.EndPkt = 1

	// Snap mid to the grid; spread is one tick.
	mid := math.Round(si.mid/si.TickSize) * si.TickSize
	bid := mid - si.TickSize/2
	ask := mid + si.TickSize/2
	bid = math.Floor(bid/si.TickSize) * si.TickSize
	ask = bid + si.TickSize

	// Five levels of decaying liquidity with uniform jitter.
	for lvl := 0; lvl < shm.DepthLevels; lvl++ {
		base := int32(80 - 15*lvl)
		jitterB := int32(s.rng.Intn(11)) - 5
		jitterA := int32(s.rng.Intn(11)) - 5
		md.Bids[lvl] = shm.BookLevel{
			Price:      bid - float64(lvl)*si.TickSize,
			Quantity:   maxInt32(1, base+jitterB),
			OrderCount: maxInt32(1, (base+jitterB)/10),
		}
		md.Asks[lvl] = shm.BookLevel{
			Price:      ask + float64(lvl)*si.TickSize,
			Quantity:   maxInt32(1, base+jitterA),
			OrderCount: maxInt32(1, (base+jitterA)/10),
		}
	}
	md.ValidBids = shm.DepthLevels
	md.ValidAsks = shm.DepthLevels

	// Trades print inside the spread at the touch.
	tradeQty := int32(s.rng.Intn(5)) + 1
	if s.rng.Intn(2) == 0 {
		md.LastPrice = bid
	} else {
		md.LastPrice = ask
	}
	md.LastQty = tradeQty
	si.cumVolume += int64(tradeQty)
	si.turnover += md.LastPrice * float64(tradeQty)
	md.CumVolume = si.cumVolume
	md.CumTurnover = si.turnover

	return &md
}

func maxInt32(a, b int32) int32 {
	if a > b {
		return a
	}
	return b
}
