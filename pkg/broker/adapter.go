// Package broker defines the uniform capability set the bridge expects
// from every broker plugin, plus an in-process simulated implementation.
// Real counter plugins (CTP 等) live outside this module and satisfy the
// same interface.
package broker

import (
	"errors"

	"github.com/taurusjun/quantlink-trade-system-sub005/pkg/types"
)

// UnifiedOrder is the broker-neutral order the bridge hands to a plugin.
type UnifiedOrder struct {
	ClientOrderID string // stringified wire order id
	Symbol        string
	Exchange      string // canonical code: SHFE, CFFEX, ...
	Side          types.TransactionType
	Offset        types.OffsetFlag
	Price         float64
	Volume        int32
	PriceType     string // "limit" or "market"
}

// OrderInfo is one order-state callback from a plugin thread.
type OrderInfo struct {
	BrokerOrderID string
	Status        types.OrderStatus
	Volume        int32   // original volume
	TradedVolume  int32   // for fills: this fill's quantity
	Price         float64 // for fills: this fill's price
	ExecID        string
	UpdateTime    uint64 // ns
	ErrorCode     int32
	ErrorMsg      string
}

// TradeInfo is one trade callback (fills also arrive through OnOrder;
// this carries the exchange trade id for history).
type TradeInfo struct {
	BrokerOrderID string
	TradeID       string
	Symbol        string
	Price         float64
	Volume        int32
	TradeTime     uint64
}

// PositionInfo 券商持仓查询回报的一条记录。
type PositionInfo struct {
	Symbol          string  `json:"symbol"`
	Direction       string  `json:"direction"` // "long" or "short"
	Volume          int32   `json:"volume"`
	TodayVolume     int32   `json:"today_volume"`
	YesterdayVolume int32   `json:"yesterday_volume"`
	AvgPrice        float64 `json:"avg_price"`
	PositionProfit  float64 `json:"position_profit"`
	Margin          float64 `json:"margin"`
}

// AccountInfo is the broker account snapshot.
type AccountInfo struct {
	Balance    float64 `json:"balance"`
	Available  float64 `json:"available"`
	Margin     float64 `json:"margin"`
	CloseProfit float64 `json:"close_profit"`
}

// ErrNotReady marks a transient query failure: the counter session is up
// but its data is still initializing. Callers retry with backoff instead
// of treating it as permanent.
var ErrNotReady = errors.New("broker not ready")

// Callbacks groups the three handlers a plugin invokes from its own
// threads. Handlers must not block.
type Callbacks struct {
	OnOrder func(OrderInfo)
	OnTrade func(TradeInfo)
	OnError func(code int32, msg string)
}

// Adapter is the uniform broker plugin contract.
type Adapter interface {
	Name() string
	Initialize(configPath string) bool
	Login() bool
	Logout()
	IsLoggedIn() bool

	// SendOrder returns the broker order id, empty string on failure.
	SendOrder(order UnifiedOrder) string
	CancelOrder(brokerOrderID string) bool

	// QueryPositions returns positions grouped by exchange code.
	// Returns ErrNotReady while the counter is still initializing.
	QueryPositions() (map[string][]PositionInfo, error)
	QueryAccount() (AccountInfo, error)

	RegisterCallbacks(cb Callbacks)
}
