package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

const validTraderYAML = `
system:
  mode: simulation
strategies:
  - id: 92201
    type: mean_reversion
    symbol: ag2506
    exchange: SHFE
    allocation: 0.4
  - id: 92202
    type: mean_reversion
    symbol: cu2508
    exchange: SHFE
    allocation: 0.4
portfolio:
  min_allocation: 0.1
  max_allocation: 0.6
risk:
  strategy:
    stop_loss: 500
    max_rejects: 20
  global:
    max_daily_loss: 5000
`

func TestLoadTraderConfig(t *testing.T) {
	path := writeFile(t, "trader.yaml", validTraderYAML)
	cfg, err := LoadTraderConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Strategies) != 2 {
		t.Fatalf("strategies = %d", len(cfg.Strategies))
	}
	if cfg.Shm.RequestKey != 0x0F20 || cfg.Shm.MDSize != 65536 {
		t.Fatalf("shm defaults not applied: %+v", cfg.Shm)
	}
	if cfg.Session.Timezone != "Asia/Shanghai" {
		t.Fatalf("timezone default = %q", cfg.Session.Timezone)
	}
	if cfg.Risk.Strategy.StopLoss != 500 {
		t.Fatalf("risk limits = %+v", cfg.Risk.Strategy)
	}
}

func TestTraderConfigRejectsBadAllocations(t *testing.T) {
	over := `
system:
  mode: simulation
strategies:
  - {id: 1, type: mean_reversion, symbol: a, allocation: 0.7}
  - {id: 2, type: mean_reversion, symbol: b, allocation: 0.7}
`
	if _, err := LoadTraderConfig(writeFile(t, "t.yaml", over)); err == nil {
		t.Fatal("allocation sum > 1 accepted")
	}

	dup := `
system:
  mode: simulation
strategies:
  - {id: 1, type: mean_reversion, symbol: a}
  - {id: 1, type: mean_reversion, symbol: b}
`
	if _, err := LoadTraderConfig(writeFile(t, "d.yaml", dup)); err == nil {
		t.Fatal("duplicate ids accepted")
	}

	badMode := `
system:
  mode: paper
strategies:
  - {id: 1, type: mean_reversion, symbol: a}
`
	if _, err := LoadTraderConfig(writeFile(t, "m.yaml", badMode)); err == nil {
		t.Fatal("bad mode accepted")
	}
}

func TestLoadBridgeConfig(t *testing.T) {
	path := writeFile(t, "bridge.yaml", `
brokers:
  - name: sim-main
    type: sim
    symbols: [ag2506, cu2508]
  - name: sim-cffex
    type: sim
    symbols: [IF2509]
orders_per_second: 50
history_db: bridge.db
`)
	cfg, err := LoadBridgeConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	routes := cfg.SymbolRoutes()
	if routes["ag2506"] != "sim-main" || routes["IF2509"] != "sim-cffex" {
		t.Fatalf("routes = %v", routes)
	}
	if cfg.Shm.RequestKey != 0x0F20 {
		t.Fatal("shm defaults not applied")
	}
}

func TestModelFileParse(t *testing.T) {
	path := writeFile(t, "model.par.txt", `# silver pair model
ag_F_2_SFE FUTCOM Dependant
BEGIN_PLACE 2.0
BEGIN_REMOVE 0.5
SIZE 4
STOP_LOSS 500.0
NAME alpha1
`)
	params, err := NewModelFileParser(path).Parse()
	if err != nil {
		t.Fatal(err)
	}
	if params["BEGIN_PLACE"] != 2.0 {
		t.Fatalf("BEGIN_PLACE = %v (%T)", params["BEGIN_PLACE"], params["BEGIN_PLACE"])
	}
	if params["SIZE"] != 4 {
		t.Fatalf("SIZE = %v (%T)", params["SIZE"], params["SIZE"])
	}
	if params["NAME"] != "alpha1" {
		t.Fatalf("NAME = %v", params["NAME"])
	}
	if _, ok := params["ag_F_2_SFE"]; ok {
		t.Fatal("indicator line parsed as parameter")
	}

	if err := ValidateParameters(params); err != nil {
		t.Fatal(err)
	}

	sp := ConvertModelToStrategyParams(params)
	if sp["entry_zscore"] != 2.0 || sp["order_size"] != 4 {
		t.Fatalf("converted = %v", sp)
	}
	if _, ok := sp["NAME"]; ok {
		t.Fatal("unmapped key leaked through conversion")
	}
}

func TestValidateParametersRanges(t *testing.T) {
	cases := []struct {
		name   string
		params map[string]interface{}
		ok     bool
	}{
		{"valid", map[string]interface{}{"BEGIN_PLACE": 2.0, "BEGIN_REMOVE": 0.5}, true},
		{"missing required", map[string]interface{}{"SIZE": 4}, false},
		{"size range", map[string]interface{}{"BEGIN_PLACE": 2.0, "BEGIN_REMOVE": 0.5, "SIZE": 0}, false},
		{"place range", map[string]interface{}{"BEGIN_PLACE": 99.0, "BEGIN_REMOVE": 0.5}, false},
		{"negative stop", map[string]interface{}{"BEGIN_PLACE": 2.0, "BEGIN_REMOVE": 0.5, "STOP_LOSS": -1.0}, false},
	}
	for _, c := range cases {
		err := ValidateParameters(c.params)
		if (err == nil) != c.ok {
			t.Errorf("%s: err=%v, ok=%v", c.name, err, c.ok)
		}
	}
}
