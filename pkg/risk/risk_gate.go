// Package risk evaluates per-strategy and global limits on a fixed
// timer, pushes alerts into a bounded ring, and latches the emergency
// stop after repeated global breaches.
package risk

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/taurusjun/quantlink-trade-system-sub005/pkg/strategy"
)

// StrategyLimits are the per-strategy gates; zero disables a gate.
type StrategyLimits struct {
	MaxPosition int64   `yaml:"max_position"` // units, per symbol net
	MaxExposure float64 `yaml:"max_exposure"` // currency
	StopLoss    float64 `yaml:"stop_loss"`    // net-PNL floor (positive number)
	MaxLoss     float64 `yaml:"max_loss"`     // realized-loss cap
	MaxDrawdown float64 `yaml:"max_drawdown"`
	MaxRejects  int32   `yaml:"max_rejects"`
}

// GlobalLimits aggregate across every hosted strategy.
type GlobalLimits struct {
	MaxDailyLoss float64 `yaml:"max_daily_loss"`
	MaxDrawdown  float64 `yaml:"max_drawdown"`
	MaxExposure  float64 `yaml:"max_exposure"`
}

// Config wires a RiskGate.
type Config struct {
	Strategy StrategyLimits
	Global   GlobalLimits

	CheckIntervalMs        int64
	MaxAlertQueueSize      int
	AlertRetentionSeconds  int
	// EmergencyStopThreshold is the number of consecutive global
	// breaches before the latch trips. 持仓成本价在热身期可能为 0，
	// 会产生虚假的巨亏读数，阈值挡掉这种瞬态。
	EmergencyStopThreshold int
}

// Alert is one limit breach.
type Alert struct {
	Time       time.Time `json:"time"`
	Level      string    `json:"level"` // warning | critical
	StrategyID int32     `json:"strategy_id"` // 0 for global
	Metric     string    `json:"metric"`
	Current    float64   `json:"current"`
	Limit      float64   `json:"limit"`
	Action     string    `json:"action"` // warn | stop | emergency_stop
	Message    string    `json:"message"`
}

// RiskGate owns the evaluation timer and the alert ring.
type RiskGate struct {
	cfg Config

	mu        sync.Mutex
	alerts    []Alert // bounded ring, oldest dropped
	consecGlobal int

	emergency atomic.Bool

	// onStop is invoked (outside the gate lock) when a strategy trips a
	// stop-action limit; onEmergency when the global latch trips.
	onStop      func(strategyID int32, a Alert)
	onEmergency func(a Alert)

	strategies func() map[int32]strategy.Strategy

	done chan struct{}
	wg   sync.WaitGroup
}

// New creates a RiskGate. strategies supplies the live strategy table on
// every evaluation so additions/removals need no registration dance.
func New(cfg Config, strategies func() map[int32]strategy.Strategy) *RiskGate {
	if cfg.CheckIntervalMs <= 0 {
		cfg.CheckIntervalMs = 100
	}
	if cfg.MaxAlertQueueSize <= 0 {
		cfg.MaxAlertQueueSize = 1000
	}
	if cfg.AlertRetentionSeconds <= 0 {
		cfg.AlertRetentionSeconds = 3600
	}
	if cfg.EmergencyStopThreshold <= 0 {
		cfg.EmergencyStopThreshold = 100
	}
	return &RiskGate{
		cfg:        cfg,
		strategies: strategies,
		done:       make(chan struct{}),
	}
}

// OnStop registers the stop-action handler.
func (g *RiskGate) OnStop(fn func(strategyID int32, a Alert)) { g.onStop = fn }

// OnEmergency registers the emergency latch handler.
func (g *RiskGate) OnEmergency(fn func(a Alert)) { g.onEmergency = fn }

// Start launches the evaluation timer.
func (g *RiskGate) Start() {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		ticker := time.NewTicker(time.Duration(g.cfg.CheckIntervalMs) * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-g.done:
				return
			case <-ticker.C:
				g.Evaluate()
			}
		}
	}()
	log.Printf("[RiskGate] started (interval=%dms, emergency threshold=%d)",
		g.cfg.CheckIntervalMs, g.cfg.EmergencyStopThreshold)
}

// Stop terminates the timer.
func (g *RiskGate) Stop() {
	close(g.done)
	g.wg.Wait()
}

// IsEmergencyStopped reports the latch.
func (g *RiskGate) IsEmergencyStopped() bool { return g.emergency.Load() }

// Evaluate runs one full pass: every strategy, then the global
// aggregates. Exported so tests and the status API can force a pass.
func (g *RiskGate) Evaluate() {
	if g.emergency.Load() {
		return // latched; host shutdown is already in motion
	}

	table := g.strategies()

	var totalNet, totalDrawdown, totalExposure float64
	for id, s := range table {
		pnl := s.PNL()
		totalNet += pnl.Net
		totalDrawdown += pnl.Drawdown
		totalExposure += pnl.Exposure
		g.checkStrategy(id, s, pnl)
	}

	g.checkGlobal(totalNet, totalDrawdown, totalExposure)
}

func (g *RiskGate) checkStrategy(id int32, s strategy.Strategy, pnl strategy.PNLSnapshot) {
	if s.RunState() != strategy.RunStateActive {
		return // stopped/flattening strategies are done being gated
	}
	lim := g.cfg.Strategy

	if lim.MaxPosition > 0 {
		for sym, net := range s.PositionsBySymbol() {
			if net > lim.MaxPosition || net < -lim.MaxPosition {
				g.trip(id, s, Alert{
					Metric: "max_position", Level: "critical", Action: "stop",
					Current: float64(net), Limit: float64(lim.MaxPosition),
					Message: fmt.Sprintf("strategy %d position %s=%d beyond ±%d", id, sym, net, lim.MaxPosition),
				}, strategy.FlattenMaxLoss)
				return
			}
		}
	}
	if lim.MaxExposure > 0 && pnl.Exposure > lim.MaxExposure {
		g.trip(id, s, Alert{
			Metric: "max_exposure", Level: "warning", Action: "warn",
			Current: pnl.Exposure, Limit: lim.MaxExposure,
			Message: fmt.Sprintf("strategy %d exposure %.0f beyond %.0f", id, pnl.Exposure, lim.MaxExposure),
		}, strategy.FlattenNone)
	}
	if lim.StopLoss > 0 && pnl.Net < -lim.StopLoss {
		g.trip(id, s, Alert{
			Metric: "stop_loss", Level: "critical", Action: "stop",
			Current: pnl.Net, Limit: -lim.StopLoss,
			Message: fmt.Sprintf("strategy %d net PNL %.2f below stop loss", id, pnl.Net),
		}, strategy.FlattenStopLoss)
		return
	}
	if lim.MaxLoss > 0 && pnl.Realized < -lim.MaxLoss {
		g.trip(id, s, Alert{
			Metric: "max_loss", Level: "critical", Action: "stop",
			Current: pnl.Realized, Limit: -lim.MaxLoss,
			Message: fmt.Sprintf("strategy %d realized loss %.2f beyond cap", id, pnl.Realized),
		}, strategy.FlattenMaxLoss)
		return
	}
	if lim.MaxDrawdown > 0 && pnl.Drawdown < -lim.MaxDrawdown {
		g.trip(id, s, Alert{
			Metric: "max_drawdown", Level: "critical", Action: "stop",
			Current: pnl.Drawdown, Limit: -lim.MaxDrawdown,
			Message: fmt.Sprintf("strategy %d drawdown %.2f beyond cap", id, pnl.Drawdown),
		}, strategy.FlattenMaxDrawdown)
		return
	}
	if lim.MaxRejects > 0 && pnl.RejectCount >= lim.MaxRejects {
		g.trip(id, s, Alert{
			Metric: "max_rejects", Level: "critical", Action: "stop",
			Current: float64(pnl.RejectCount), Limit: float64(lim.MaxRejects),
			Message: fmt.Sprintf("strategy %d rejects %d beyond cap", id, pnl.RejectCount),
		}, strategy.FlattenRejectLimit)
		return
	}
}

func (g *RiskGate) checkGlobal(totalNet, totalDrawdown, totalExposure float64) {
	lim := g.cfg.Global
	breached := false
	var worst Alert

	if lim.MaxDailyLoss > 0 && totalNet < -lim.MaxDailyLoss {
		breached = true
		worst = Alert{Metric: "global_daily_loss", Current: totalNet, Limit: -lim.MaxDailyLoss,
			Message: fmt.Sprintf("aggregate net PNL %.2f below daily loss limit", totalNet)}
	}
	if lim.MaxDrawdown > 0 && totalDrawdown < -lim.MaxDrawdown {
		breached = true
		worst = Alert{Metric: "global_drawdown", Current: totalDrawdown, Limit: -lim.MaxDrawdown,
			Message: fmt.Sprintf("aggregate drawdown %.2f beyond limit", totalDrawdown)}
	}
	if lim.MaxExposure > 0 && totalExposure > lim.MaxExposure {
		breached = true
		worst = Alert{Metric: "global_exposure", Current: totalExposure, Limit: lim.MaxExposure,
			Message: fmt.Sprintf("aggregate exposure %.0f beyond limit", totalExposure)}
	}

	g.mu.Lock()
	if !breached {
		g.consecGlobal = 0
		g.mu.Unlock()
		return
	}
	g.consecGlobal++
	n := g.consecGlobal
	g.mu.Unlock()

	worst.Time = time.Now()
	worst.Level = "critical"
	worst.Action = "warn"

	if n >= g.cfg.EmergencyStopThreshold {
		worst.Action = "emergency_stop"
		g.push(worst)
		if g.emergency.CompareAndSwap(false, true) {
			log.Printf("[RiskGate] EMERGENCY STOP: %s (breach #%d)", worst.Message, n)
			if g.onEmergency != nil {
				g.onEmergency(worst)
			}
		}
		return
	}
	g.push(worst)
}

// trip records the alert and, for stop actions, flattens the strategy.
func (g *RiskGate) trip(id int32, s strategy.Strategy, a Alert, reason strategy.FlattenReason) {
	a.Time = time.Now()
	a.StrategyID = id
	g.push(a)

	if a.Action == "stop" {
		log.Printf("[RiskGate] stopping strategy %d: %s", id, a.Message)
		s.TriggerFlatten(reason)
		if g.onStop != nil {
			g.onStop(id, a)
		}
	}
}

// push appends to the bounded ring, dropping the oldest entries.
func (g *RiskGate) push(a Alert) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.alerts = append(g.alerts, a)
	if over := len(g.alerts) - g.cfg.MaxAlertQueueSize; over > 0 {
		g.alerts = g.alerts[over:]
	}
}

// Alerts returns the retained alerts, newest last, pruned by retention.
func (g *RiskGate) Alerts() []Alert {
	cutoff := time.Now().Add(-time.Duration(g.cfg.AlertRetentionSeconds) * time.Second)
	g.mu.Lock()
	defer g.mu.Unlock()

	start := 0
	for start < len(g.alerts) && g.alerts[start].Time.Before(cutoff) {
		start++
	}
	g.alerts = g.alerts[start:]
	out := make([]Alert, len(g.alerts))
	copy(out, g.alerts)
	return out
}

// ResetEmergency clears the latch (manual operator action).
func (g *RiskGate) ResetEmergency() {
	g.emergency.Store(false)
	g.mu.Lock()
	g.consecGlobal = 0
	g.mu.Unlock()
	log.Printf("[RiskGate] emergency stop reset")
}
