package shm

// Fixed-layout records shared between the strategy process and the ORS
// bridge. Every struct here crosses the SysV SHM boundary as a raw byte
// copy, so field order, widths and padding are pinned; offsets are listed
// per field and checked by records_test.go and cmd/offset_check.
//
// 所有跨进程结构体必须是平凡可拷贝的：定长、无指针、本机字节序。

const (
	// MaxSymbolSize 合约代码定长字段宽度
	MaxSymbolSize = 32
	// MaxExecIDSize 交易所成交编号定长字段宽度
	MaxExecIDSize = 24
	// DepthLevels 行情深度档数
	DepthLevels = 5
)

// Exchange codes, one byte on the wire.
const (
	ExchangeUnknown uint8 = 0
	ExchangeSHFE    uint8 = 1
	ExchangeCFFEX   uint8 = 2
	ExchangeDCE     uint8 = 3
	ExchangeCZCE    uint8 = 4
	ExchangeGFEX    uint8 = 5
	ExchangeINE     uint8 = 6
)

// Side codes.
const (
	SideBuy  uint8 = 'B'
	SideSell uint8 = 'S'
)

// Order types.
const (
	OrdLimit  uint8 = 1
	OrdMarket uint8 = 2
)

// ResponseType codes, one byte on the wire.
const (
	NewOrderConfirm    uint8 = 1
	TradeConfirm       uint8 = 2
	CancelOrderConfirm uint8 = 3
	OrsReject          uint8 = 4
	RmsReject          uint8 = 5
	OrderError         uint8 = 6
)

// Feed types.
const (
	FeedSnapshot    uint8 = 'W'
	FeedIncremental uint8 = 'X'
)

// Bridge error codes carried in ResponseMsg.ErrorCode.
const (
	ErrCodeNoBroker   int32 = 1001
	ErrCodeSendFailed int32 = 1002
	ErrCodeLoggedOut  int32 = 1003
	ErrCodeRateLimit  int32 = 1004
)

// ExchangeName 交易所代码 → 字符串
func ExchangeName(code uint8) string {
	switch code {
	case ExchangeSHFE:
		return "SHFE"
	case ExchangeCFFEX:
		return "CFFEX"
	case ExchangeDCE:
		return "DCE"
	case ExchangeCZCE:
		return "CZCE"
	case ExchangeGFEX:
		return "GFEX"
	case ExchangeINE:
		return "INE"
	}
	return "UNKNOWN"
}

// ExchangeCode 字符串 → 交易所代码
func ExchangeCode(name string) uint8 {
	switch name {
	case "SHFE", "SFE":
		return ExchangeSHFE
	case "CFFEX":
		return ExchangeCFFEX
	case "DCE":
		return ExchangeDCE
	case "CZCE", "ZCE":
		return ExchangeCZCE
	case "GFEX":
		return ExchangeGFEX
	case "INE":
		return ExchangeINE
	}
	return ExchangeUnknown
}

// RequestMsg is one new-order request from a strategy to the bridge.
// Layout (x86-64, natural alignment):
//
//	OrderID      uint32    offset 0   size 4
//	StrategyID   int32     offset 4   size 4
//	Symbol       [32]byte  offset 8   size 32
//	ExchangeType uint8     offset 40  size 1
//	Side         uint8     offset 41  size 1
//	OrdType      uint8     offset 42  size 1
//	_pad0        [5]byte   offset 43  size 5   (align Price to 8)
//	Price        float64   offset 48  size 8
//	Quantity     int32     offset 56  size 4
//	_pad1        [4]byte   offset 60  size 4   (align TimestampNs to 8)
//	TimestampNs  uint64    offset 64  size 8
//
// Total: 72 bytes
type RequestMsg struct {
	OrderID      uint32
	StrategyID   int32
	Symbol       [MaxSymbolSize]byte
	ExchangeType uint8
	Side         uint8
	OrdType      uint8
	_pad0        [5]byte
	Price        float64
	Quantity     int32
	_pad1        [4]byte
	TimestampNs  uint64
}

// ResponseMsg is one order event from the bridge back to the strategy.
// Quantity carries the fill quantity for TradeConfirm, the unfilled
// quantity for CancelOrderConfirm, and the original quantity for rejects.
// Layout:
//
//	OrderID      uint32    offset 0   size 4
//	StrategyID   int32     offset 4   size 4
//	Symbol       [32]byte  offset 8   size 32
//	Side         uint8     offset 40  size 1
//	ResponseType uint8     offset 41  size 1
//	_pad0        [2]byte   offset 42  size 2   (align Quantity to 4)
//	Quantity     int32     offset 44  size 4
//	Price        float64   offset 48  size 8
//	ErrorCode    int32     offset 56  size 4
//	ExecID       [24]byte  offset 60  size 24
//	_pad1        [4]byte   offset 84  size 4   (align TimestampNs to 8)
//	TimestampNs  uint64    offset 88  size 8
//
// Total: 96 bytes
type ResponseMsg struct {
	OrderID      uint32
	StrategyID   int32
	Symbol       [MaxSymbolSize]byte
	Side         uint8
	ResponseType uint8
	_pad0        [2]byte
	Quantity     int32
	Price        float64
	ErrorCode    int32
	ExecID       [MaxExecIDSize]byte
	_pad1        [4]byte
	TimestampNs  uint64
}

// BookLevel is one depth level.
// Layout: Price(8) + Quantity(4) + OrderCount(4) = 16 bytes
type BookLevel struct {
	Price      float64
	Quantity   int32
	OrderCount int32
}

// MarketUpdate is one five-level depth snapshot/update on the MD queue.
// Layout:
//
//	Seqnum       uint64        offset 0    size 8
//	ExchTS       uint64        offset 8    size 8
//	LocalTS      uint64        offset 16   size 8
//	Symbol       [32]byte      offset 24   size 32
//	ExchangeType uint8         offset 56   size 1
//	FeedType     uint8         offset 57   size 1
//	UpdateType   uint8         offset 58   size 1
//	EndPkt       uint8         offset 59   size 1
//	ValidBids    int8          offset 60   size 1
//	ValidAsks    int8          offset 61   size 1
//	_pad0        [2]byte       offset 62   size 2   (align Bids to 8)
//	Bids         [5]BookLevel  offset 64   size 80
//	Asks         [5]BookLevel  offset 144  size 80
//	LastPrice    float64       offset 224  size 8
//	LastQty      int32         offset 232  size 4
//	_pad1        [4]byte       offset 236  size 4   (align CumVolume to 8)
//	CumVolume    int64         offset 240  size 8
//	CumTurnover  float64       offset 248  size 8
//
// Total: 256 bytes
type MarketUpdate struct {
	Seqnum       uint64
	ExchTS       uint64
	LocalTS      uint64
	Symbol       [MaxSymbolSize]byte
	ExchangeType uint8
	FeedType     uint8
	UpdateType   uint8
	EndPkt       uint8
	ValidBids    int8
	ValidAsks    int8
	_pad0        [2]byte
	Bids         [DepthLevels]BookLevel
	Asks         [DepthLevels]BookLevel
	LastPrice    float64
	LastQty      int32
	_pad1        [4]byte
	CumVolume    int64
	CumTurnover  float64
}

// SetSymbol copies a symbol string into a fixed-size field, null padded.
func SetSymbol(dst []byte, symbol string) {
	n := copy(dst, symbol)
	for i := n; i < len(dst); i++ {
		dst[i] = 0
	}
}

// SymbolString extracts the null-terminated symbol from a fixed field.
func SymbolString(src []byte) string {
	for i, b := range src {
		if b == 0 {
			return string(src[:i])
		}
	}
	return string(src)
}
