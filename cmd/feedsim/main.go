// feedsim publishes correlated simulated market data into the MD shared
// queue. Run it alongside orsbridge in simulation mode.
//
// Usage:
//
//	./feedsim --symbols ag2506:7800:1,ag2512:7900:1 --interval 100ms
package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/taurusjun/quantlink-trade-system-sub005/pkg/feed"
	"github.com/taurusjun/quantlink-trade-system-sub005/pkg/shm"
)

func main() {
	symbolsArg := flag.String("symbols", "ag2506:7800:1", "comma list of symbol:startPrice:tickSize")
	exchangeArg := flag.String("exchange", "SHFE", "exchange code for all symbols")
	interval := flag.Duration("interval", 100*time.Millisecond, "tick interval")
	volatility := flag.Float64("volatility", 2.0, "per-tick price volatility")
	mdKey := flag.Int("mdKey", shm.KeyMDQueue, "MD queue SysV key")
	mdSize := flag.Int("mdSize", shm.DefaultMDQueueSize, "MD queue capacity")
	seed := flag.Int64("seed", 0, "RNG seed (0 = from clock)")
	flag.Parse()

	exchange := shm.ExchangeCode(*exchangeArg)
	if exchange == shm.ExchangeUnknown {
		log.Fatalf("[main] unknown exchange %q", *exchangeArg)
	}

	var instruments []*feed.SimInstrument
	for _, spec := range strings.Split(*symbolsArg, ",") {
		parts := strings.Split(spec, ":")
		if len(parts) != 3 {
			log.Fatalf("[main] bad symbol spec %q (want symbol:startPrice:tickSize)", spec)
		}
		start, err := strconv.ParseFloat(parts[1], 64)
		if err != nil {
			log.Fatalf("[main] bad start price in %q: %v", spec, err)
		}
		tick, err := strconv.ParseFloat(parts[2], 64)
		if err != nil {
			log.Fatalf("[main] bad tick size in %q: %v", spec, err)
		}
		instruments = append(instruments, &feed.SimInstrument{
			Symbol:     parts[0],
			Exchange:   exchange,
			StartPrice: start,
			TickSize:   tick,
			Volatility: *volatility,
		})
	}

	mdQ, err := shm.OpenQueue[shm.MarketUpdate](*mdKey, *mdSize)
	if err != nil {
		log.Fatalf("[main] MD queue: %v", err)
	}
	defer mdQ.Close()

	sim := feed.NewSimulator(mdQ, *interval, *seed, instruments...)
	sim.Start()
	defer sim.Stop()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("[main] %v: stopping feed", sig)
}
