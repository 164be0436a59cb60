// trader is the strategy host process. It attaches to the shared queues,
// hosts the configured strategies, and runs until a shutdown signal.
//
// Usage:
//
//	./trader --Live --controlFile ./controls/ag.ctl --strategyID 92201 --configFile ./configs/trader.yaml
//	./trader --Sim  --configFile ./configs/trader.yaml
//
// SIGUSR1 activates every strategy, SIGUSR2 deactivates-and-flattens,
// SIGINT/SIGTERM shut down gracefully.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/taurusjun/quantlink-trade-system-sub005/pkg/api"
	"github.com/taurusjun/quantlink-trade-system-sub005/pkg/config"
	"github.com/taurusjun/quantlink-trade-system-sub005/pkg/host"
	"github.com/taurusjun/quantlink-trade-system-sub005/pkg/strategy"
)

func usage() {
	fmt.Println("Invalid Arguments!! Example Command is as below.")
	fmt.Println("./trader --Live --controlFile ./controls/xxx --strategyID 92201 --configFile ./configs/trader.yaml")
}

func main() {
	// 第一个位置参数必须是模式标记
	if len(os.Args) < 2 || (os.Args[1] != "--Live" && os.Args[1] != "--Sim") {
		usage()
		os.Exit(1)
	}
	mode := "live"
	if os.Args[1] == "--Sim" {
		mode = "simulation"
	}
	log.Printf("[main] *****Trader started in %s Mode*****", os.Args[1][2:])
	os.Args = append(os.Args[:1], os.Args[2:]...)

	controlFile := flag.String("controlFile", "", "control file path (overrides model file and session window)")
	strategyIDStr := flag.String("strategyID", "", "strategy id override (single-strategy deployments)")
	configFile := flag.String("configFile", "", "YAML config path")
	logFile := flag.String("logFile", "", "redirect log output")
	bridgeAddr := flag.String("bridgeAddr", "http://localhost:9301", "bridge API address for position queries (empty disables reconciliation)")
	flag.Parse()

	if *configFile == "" {
		log.Fatal("[main] --configFile is required")
	}
	if *logFile != "" {
		f, err := os.OpenFile(*logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			log.Fatalf("[main] open log file: %v", err)
		}
		defer f.Close()
		log.SetOutput(f)
	}

	cfg, err := config.LoadTraderConfig(*configFile)
	if err != nil {
		log.Fatalf("[main] config: %v", err)
	}
	cfg.System.Mode = mode

	// Control file overrides the model file and the session window.
	if *controlFile != "" {
		cc, err := config.ParseControlFile(*controlFile)
		if err != nil {
			log.Fatalf("[main] %v", err)
		}
		cfg.Model.File = cc.ModelFile
		if st := config.SessionTime(cc.StartTime); st != "" {
			cfg.Session.StartTime = st
		}
		if et := config.SessionTime(cc.EndTime); et != "" {
			cfg.Session.EndTime = et
		}
		log.Printf("[main] control file: base=%s model=%s window=%s-%s",
			cc.BaseName, cc.ModelFile, cc.StartTime, cc.EndTime)
	}

	// Single-strategy override narrows the configured table to one id.
	if *strategyIDStr != "" {
		want, err := strconv.Atoi(*strategyIDStr)
		if err != nil {
			log.Fatalf("[main] --strategyID invalid: %v", err)
		}
		var kept []config.StrategyItemConfig
		for _, sc := range cfg.Strategies {
			if sc.ID == int32(want) {
				kept = append(kept, sc)
			}
		}
		if len(kept) == 0 {
			log.Fatalf("[main] strategy %d not in config", want)
		}
		cfg.Strategies = kept
	}

	strategy.SetDataDir(cfg.System.DataDir)

	var querier host.PositionQuerier
	if *bridgeAddr != "" {
		querier = host.NewBridgeQuerier(*bridgeAddr)
	}

	h, err := host.New(cfg, querier)
	if err != nil {
		log.Fatalf("[main] host: %v", err)
	}

	for _, sc := range cfg.Strategies {
		s, err := buildStrategy(cfg.System.Mode, sc)
		if err != nil {
			log.Fatalf("[main] %v", err)
		}
		if len(sc.Parameters) > 0 {
			if err := s.UpdateParameters(sc.Parameters); err != nil {
				log.Fatalf("[main] strategy %d parameters: %v", sc.ID, err)
			}
		}
		if err := h.AddStrategy(s, sc.Allocation); err != nil {
			log.Fatalf("[main] %v", err)
		}
	}

	if err := h.Start(); err != nil {
		log.Fatalf("[main] start: %v", err)
	}

	if cfg.API.Enabled {
		srv := api.NewServer(cfg.API.Port, func() interface{} {
			return hostSnapshot(h)
		})
		srv.HandleJSON("GET /api/v1/alerts", func() (interface{}, error) {
			return h.RiskGate().Alerts(), nil
		})
		srv.HandleJSON("GET /api/v1/model/history", func() (interface{}, error) {
			if h.Watcher() == nil {
				return nil, fmt.Errorf("model watcher not configured")
			}
			return h.Watcher().History(), nil
		})
		srv.HandleAction("POST /api/v1/strategy/activate", func() error {
			h.ActivateAll()
			return nil
		})
		srv.HandleAction("POST /api/v1/strategy/deactivate", func() error {
			h.FlattenAll(strategy.FlattenManual)
			return nil
		})
		srv.HandleAction("POST /api/v1/model/reload", func() error {
			if h.Watcher() == nil {
				return fmt.Errorf("model watcher not configured")
			}
			return h.Watcher().Reload()
		})
		srv.Start()
		defer srv.Stop()
	}

	h.Run()
}

func buildStrategy(mode string, sc config.StrategyItemConfig) (strategy.Strategy, error) {
	switch sc.Type {
	case "mean_reversion", "":
		return strategy.NewMeanRevStrategy(sc.ID, mode, sc.Symbol), nil
	default:
		return nil, fmt.Errorf("unknown strategy type %q", sc.Type)
	}
}

// hostSnapshot is the /api/v1/status document.
func hostSnapshot(h *host.StrategyHost) interface{} {
	strategies := make(map[int32]interface{})
	for id, s := range h.StrategyTable() {
		strategies[id] = map[string]interface{}{
			"run_state": s.RunState().String(),
			"positions": s.PositionsBySymbol(),
			"pnl":       s.PNL(),
		}
	}
	return map[string]interface{}{
		"in_session":     h.Session().InSession(),
		"emergency_stop": h.RiskGate().IsEmergencyStopped(),
		"strategies":     strategies,
	}
}
