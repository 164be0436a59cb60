package strategy

import "strings"

// contractMultipliers maps a symbol root to its contract multiplier.
// Broker position queries report avg prices as 价格×乘数 on some
// counters; the table normalizes them back to quoted prices.
var contractMultipliers = map[string]float64{
	"ag": 15, // 白银 15kg/手
	"au": 1000,
	"cu": 5,
	"al": 5,
	"zn": 5,
	"rb": 10,
	"hc": 10,
	"ru": 10,
	"sc": 1000,
	"m":  10,
	"y":  10,
	"a":  10,
	"c":  10,
	"i":  100,
	"SR": 10,
	"CF": 5,
	"TA": 5,
	"MA": 10,
	"IF": 300,
	"IC": 200,
	"IH": 300,
	"IM": 200,
}

// MultiplierForSymbol extracts the alphabetic root of a contract symbol
// (ag2506 → ag) and looks up its multiplier; unknown roots return 1.
func MultiplierForSymbol(symbol string) float64 {
	root := strings.TrimRightFunc(symbol, func(r rune) bool {
		return r >= '0' && r <= '9'
	})
	if m, ok := contractMultipliers[root]; ok {
		return m
	}
	return 1
}

// SetMultiplier overrides or extends the table (config-driven entries).
func SetMultiplier(root string, mult float64) {
	if mult > 0 {
		contractMultipliers[root] = mult
	}
}
