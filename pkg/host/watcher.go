package host

import (
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/taurusjun/quantlink-trade-system-sub005/pkg/config"
	"github.com/taurusjun/quantlink-trade-system-sub005/pkg/events"
	"github.com/taurusjun/quantlink-trade-system-sub005/pkg/strategy"
)

// maxReloadHistory bounds the reload history ring.
const maxReloadHistory = 100

// ReloadRecord is one reload round in the history ring.
type ReloadRecord struct {
	Timestamp time.Time              `json:"timestamp"`
	FilePath  string                 `json:"file_path"`
	Params    map[string]interface{} `json:"params_after,omitempty"`
	Success   bool                   `json:"success"`
	ErrorMsg  string                 `json:"error_msg,omitempty"`
	// PerStrategy records which strategies accepted the new map.
	PerStrategy map[int32]string `json:"per_strategy,omitempty"`
}

// ParameterWatcher polls the model file's mtime and swaps parameters
// into every hosted strategy on change. Manual mode skips the poller and
// relies on explicit Reload calls (REST surface).
type ParameterWatcher struct {
	path       string
	interval   time.Duration
	auto       bool
	strategies func() map[int32]strategy.Strategy
	publisher  *events.Publisher

	mu        sync.Mutex
	lastMtime time.Time
	history   []ReloadRecord

	done chan struct{}
	wg   sync.WaitGroup
}

// NewParameterWatcher creates a watcher for the configured model file.
func NewParameterWatcher(cfg *config.ModelConfig, strategies func() map[int32]strategy.Strategy, pub *events.Publisher) (*ParameterWatcher, error) {
	if cfg.File == "" {
		return nil, fmt.Errorf("model watcher: no file configured")
	}
	info, err := os.Stat(cfg.File)
	if err != nil {
		return nil, fmt.Errorf("model watcher: stat %s: %w", cfg.File, err)
	}
	return &ParameterWatcher{
		path:       cfg.File,
		interval:   time.Duration(cfg.PollIntervalSec) * time.Second,
		auto:       cfg.AutoReload,
		strategies: strategies,
		publisher:  pub,
		lastMtime:  info.ModTime(),
		done:       make(chan struct{}),
	}, nil
}

// Start launches the mtime poller in auto mode.
func (w *ParameterWatcher) Start() {
	if !w.auto {
		log.Printf("[ParamWatcher] manual reload mode, file=%s", w.path)
		return
	}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		for {
			select {
			case <-w.done:
				return
			case <-ticker.C:
				w.pollOnce()
			}
		}
	}()
	log.Printf("[ParamWatcher] watching %s every %v", w.path, w.interval)
}

// Stop terminates the poller.
func (w *ParameterWatcher) Stop() {
	close(w.done)
	w.wg.Wait()
}

func (w *ParameterWatcher) pollOnce() {
	info, err := os.Stat(w.path)
	if err != nil {
		log.Printf("[ParamWatcher] stat %s: %v", w.path, err)
		return
	}
	w.mu.Lock()
	changed := info.ModTime().After(w.lastMtime)
	if changed {
		w.lastMtime = info.ModTime()
	}
	w.mu.Unlock()
	if changed {
		if err := w.Reload(); err != nil {
			log.Printf("[ParamWatcher] reload failed: %v", err)
		}
	}
}

// Reload parses, validates, translates, and applies the model file to
// every strategy. Application is best effort per strategy: one failure
// is recorded but does not roll back the others.
func (w *ParameterWatcher) Reload() error {
	parser := config.NewModelFileParser(w.path)
	modelParams, err := parser.Parse()
	if err != nil {
		w.record(ReloadRecord{FilePath: w.path, Success: false, ErrorMsg: err.Error()})
		return fmt.Errorf("parse model file: %w", err)
	}

	if err := config.ValidateParameters(modelParams); err != nil {
		// 校验失败：旧参数保持生效
		w.record(ReloadRecord{FilePath: w.path, Success: false, ErrorMsg: err.Error()})
		return fmt.Errorf("validate parameters: %w", err)
	}

	strategyParams := config.ConvertModelToStrategyParams(modelParams)

	perStrategy := make(map[int32]string)
	failures := 0
	for id, s := range w.strategies() {
		if err := s.UpdateParameters(strategyParams); err != nil {
			perStrategy[id] = err.Error()
			failures++
		} else {
			perStrategy[id] = "ok"
		}
	}

	rec := ReloadRecord{
		FilePath:    w.path,
		Params:      strategyParams,
		Success:     failures == 0,
		PerStrategy: perStrategy,
	}
	if failures > 0 {
		rec.ErrorMsg = fmt.Sprintf("%d strategies failed to apply", failures)
	}
	w.record(rec)

	log.Printf("[ParamWatcher] reloaded %s: %d params, %d strategies, %d failures",
		w.path, len(strategyParams), len(perStrategy), failures)
	if failures > 0 {
		return fmt.Errorf("reload applied with %d failures", failures)
	}
	return nil
}

func (w *ParameterWatcher) record(rec ReloadRecord) {
	rec.Timestamp = time.Now()
	w.mu.Lock()
	w.history = append(w.history, rec)
	if over := len(w.history) - maxReloadHistory; over > 0 {
		w.history = w.history[over:]
	}
	w.mu.Unlock()

	w.publisher.PublishReload(events.ReloadEvent{
		File:      rec.FilePath,
		Success:   rec.Success,
		Error:     rec.ErrorMsg,
		Timestamp: rec.Timestamp,
	})
}

// History returns a copy of the reload history, oldest first.
func (w *ParameterWatcher) History() []ReloadRecord {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]ReloadRecord, len(w.history))
	copy(out, w.history)
	return out
}
