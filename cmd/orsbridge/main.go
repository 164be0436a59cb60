// orsbridge is the order-routing bridge process: it owns the broker
// sessions, drains the request queue, and produces responses. Start it
// before the traders so the shared queues exist with its geometry.
//
// Usage:
//
//	./orsbridge --configFile ./configs/bridge.yaml
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/taurusjun/quantlink-trade-system-sub005/pkg/api"
	"github.com/taurusjun/quantlink-trade-system-sub005/pkg/bridge"
	"github.com/taurusjun/quantlink-trade-system-sub005/pkg/broker"
	"github.com/taurusjun/quantlink-trade-system-sub005/pkg/config"
	"github.com/taurusjun/quantlink-trade-system-sub005/pkg/ledger"
	"github.com/taurusjun/quantlink-trade-system-sub005/pkg/shm"
	"github.com/taurusjun/quantlink-trade-system-sub005/pkg/store"
)

func main() {
	configFile := flag.String("configFile", "", "bridge YAML config path")
	flag.Parse()
	if *configFile == "" {
		log.Fatal("[main] --configFile is required")
	}

	cfg, err := config.LoadBridgeConfig(*configFile)
	if err != nil {
		log.Fatalf("[main] config: %v", err)
	}

	reqQ, err := shm.OpenQueue[shm.RequestMsg](cfg.Shm.RequestKey, cfg.Shm.RequestSize)
	if err != nil {
		log.Fatalf("[main] request queue: %v", err)
	}
	defer reqQ.Close()
	respQ, err := shm.OpenQueue[shm.ResponseMsg](cfg.Shm.ResponseKey, cfg.Shm.ResponseSize)
	if err != nil {
		log.Fatalf("[main] response queue: %v", err)
	}
	defer respQ.Close()

	var history *store.HistoryStore
	if cfg.HistoryDB != "" {
		history, err = store.Open(cfg.HistoryDB)
		if err != nil {
			log.Fatalf("[main] history store: %v", err)
		}
		defer history.Close()
	}

	posLedger := ledger.NewPositionLedger()
	br := bridge.New(bridge.Config{
		RequestQueue:    reqQ,
		ResponseQueue:   respQ,
		Ledger:          posLedger,
		SymbolRoutes:    cfg.SymbolRoutes(),
		OrdersPerSecond: cfg.OrdersPerSecond,
		OrderBurst:      cfg.OrderBurst,
		History:         history,
	})

	adapters := make([]broker.Adapter, 0, len(cfg.Brokers))
	for _, bc := range cfg.Brokers {
		a, err := buildAdapter(bc)
		if err != nil {
			log.Fatalf("[main] %v", err)
		}
		if !a.Initialize(bc.ConfigPath) {
			log.Fatalf("[main] broker %s initialize failed", bc.Name)
		}
		if !a.Login() {
			log.Fatalf("[main] broker %s login failed", bc.Name)
		}
		br.AddAdapter(a)
		adapters = append(adapters, a)
	}

	// Seed the offset ledger from broker truth so close decisions are
	// right from the first order.
	seedLedger(posLedger, adapters)

	br.Start()
	defer br.Stop()

	if cfg.API.Enabled {
		srv := api.NewServer(cfg.API.Port, func() interface{} {
			return map[string]interface{}{
				"stats":       br.Stats(),
				"open_orders": br.OpenOrders(),
				"ledger":      posLedger.Snapshot(),
			}
		})
		srv.HandleJSON("GET /api/v1/broker/positions", func() (interface{}, error) {
			return queryAll(adapters)
		})
		if history != nil {
			srv.HandleJSON("GET /api/v1/fills", func() (interface{}, error) {
				return history.RecentFills(100)
			})
		}
		srv.Start()
		defer srv.Stop()
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("[main] %v: shutting down", sig)

	for _, a := range adapters {
		a.Logout()
	}
	log.Printf("[main] bridge stats: %+v", br.Stats())
}

func buildAdapter(bc config.BrokerConfig) (broker.Adapter, error) {
	switch bc.Type {
	case "sim", "":
		return broker.NewSimAdapter(bc.Name), nil
	default:
		// Counter plugins (CTP 等) link in from outside this module.
		return nil, fmt.Errorf("unknown broker type %q", bc.Type)
	}
}

// seedLedger loads today/yesterday buckets from the position query.
func seedLedger(l *ledger.PositionLedger, adapters []broker.Adapter) {
	for _, a := range adapters {
		positions, err := a.QueryPositions()
		if err != nil {
			log.Printf("[main] seed ledger: %s query failed: %v", a.Name(), err)
			continue
		}
		for _, rows := range positions {
			for _, p := range rows {
				b := l.Buckets(p.Symbol)
				if p.Direction == "long" {
					b.TodayLong += p.TodayVolume
					b.OvernightLong += p.YesterdayVolume
				} else {
					b.TodayShort += p.TodayVolume
					b.OvernightShort += p.YesterdayVolume
				}
				l.SetBuckets(p.Symbol, b)
			}
		}
	}
}

// queryAll merges every adapter's positions; ready=false while any
// counter is still initializing.
func queryAll(adapters []broker.Adapter) (interface{}, error) {
	merged := make(map[string][]broker.PositionInfo)
	ready := true
	for _, a := range adapters {
		positions, err := a.QueryPositions()
		if err != nil {
			ready = false
			continue
		}
		for exch, rows := range positions {
			merged[exch] = append(merged[exch], rows...)
		}
	}
	return map[string]interface{}{"ready": ready, "positions": merged}, nil
}
