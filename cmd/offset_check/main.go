// offset_check prints the size and field offsets of every record that
// crosses the shared-memory boundary. Run it on both ends of a
// deployment and diff the output before trusting the queues.
package main

import (
	"fmt"
	"unsafe"

	"github.com/taurusjun/quantlink-trade-system-sub005/pkg/shm"
)

func main() {
	var req shm.RequestMsg
	fmt.Printf("sizeof(RequestMsg) = %d\n", unsafe.Sizeof(req))
	fmt.Printf("offsetof(RequestMsg, OrderID) = %d\n", unsafe.Offsetof(req.OrderID))
	fmt.Printf("offsetof(RequestMsg, StrategyID) = %d\n", unsafe.Offsetof(req.StrategyID))
	fmt.Printf("offsetof(RequestMsg, Symbol) = %d\n", unsafe.Offsetof(req.Symbol))
	fmt.Printf("offsetof(RequestMsg, ExchangeType) = %d\n", unsafe.Offsetof(req.ExchangeType))
	fmt.Printf("offsetof(RequestMsg, Side) = %d\n", unsafe.Offsetof(req.Side))
	fmt.Printf("offsetof(RequestMsg, OrdType) = %d\n", unsafe.Offsetof(req.OrdType))
	fmt.Printf("offsetof(RequestMsg, Price) = %d\n", unsafe.Offsetof(req.Price))
	fmt.Printf("offsetof(RequestMsg, Quantity) = %d\n", unsafe.Offsetof(req.Quantity))
	fmt.Printf("offsetof(RequestMsg, TimestampNs) = %d\n", unsafe.Offsetof(req.TimestampNs))

	var resp shm.ResponseMsg
	fmt.Printf("sizeof(ResponseMsg) = %d\n", unsafe.Sizeof(resp))
	fmt.Printf("offsetof(ResponseMsg, OrderID) = %d\n", unsafe.Offsetof(resp.OrderID))
	fmt.Printf("offsetof(ResponseMsg, StrategyID) = %d\n", unsafe.Offsetof(resp.StrategyID))
	fmt.Printf("offsetof(ResponseMsg, Symbol) = %d\n", unsafe.Offsetof(resp.Symbol))
	fmt.Printf("offsetof(ResponseMsg, Side) = %d\n", unsafe.Offsetof(resp.Side))
	fmt.Printf("offsetof(ResponseMsg, ResponseType) = %d\n", unsafe.Offsetof(resp.ResponseType))
	fmt.Printf("offsetof(ResponseMsg, Quantity) = %d\n", unsafe.Offsetof(resp.Quantity))
	fmt.Printf("offsetof(ResponseMsg, Price) = %d\n", unsafe.Offsetof(resp.Price))
	fmt.Printf("offsetof(ResponseMsg, ErrorCode) = %d\n", unsafe.Offsetof(resp.ErrorCode))
	fmt.Printf("offsetof(ResponseMsg, ExecID) = %d\n", unsafe.Offsetof(resp.ExecID))
	fmt.Printf("offsetof(ResponseMsg, TimestampNs) = %d\n", unsafe.Offsetof(resp.TimestampNs))

	var lvl shm.BookLevel
	fmt.Printf("sizeof(BookLevel) = %d\n", unsafe.Sizeof(lvl))
	fmt.Printf("offsetof(BookLevel, Price) = %d\n", unsafe.Offsetof(lvl.Price))
	fmt.Printf("offsetof(BookLevel, Quantity) = %d\n", unsafe.Offsetof(lvl.Quantity))
	fmt.Printf("offsetof(BookLevel, OrderCount) = %d\n", unsafe.Offsetof(lvl.OrderCount))

	var md shm.MarketUpdate
	fmt.Printf("sizeof(MarketUpdate) = %d\n", unsafe.Sizeof(md))
	fmt.Printf("offsetof(MarketUpdate, Seqnum) = %d\n", unsafe.Offsetof(md.Seqnum))
	fmt.Printf("offsetof(MarketUpdate, ExchTS) = %d\n", unsafe.Offsetof(md.ExchTS))
	fmt.Printf("offsetof(MarketUpdate, LocalTS) = %d\n", unsafe.Offsetof(md.LocalTS))
	fmt.Printf("offsetof(MarketUpdate, Symbol) = %d\n", unsafe.Offsetof(md.Symbol))
	fmt.Printf("offsetof(MarketUpdate, ExchangeType) = %d\n", unsafe.Offsetof(md.ExchangeType))
	fmt.Printf("offsetof(MarketUpdate, FeedType) = %d\n", unsafe.Offsetof(md.FeedType))
	fmt.Printf("offsetof(MarketUpdate, UpdateType) = %d\n", unsafe.Offsetof(md.UpdateType))
	fmt.Printf("offsetof(MarketUpdate, EndPkt) = %d\n", unsafe.Offsetof(md.EndPkt))
	fmt.Printf("offsetof(MarketUpdate, ValidBids) = %d\n", unsafe.Offsetof(md.ValidBids))
	fmt.Printf("offsetof(MarketUpdate, ValidAsks) = %d\n", unsafe.Offsetof(md.ValidAsks))
	fmt.Printf("offsetof(MarketUpdate, Bids) = %d\n", unsafe.Offsetof(md.Bids))
	fmt.Printf("offsetof(MarketUpdate, Asks) = %d\n", unsafe.Offsetof(md.Asks))
	fmt.Printf("offsetof(MarketUpdate, LastPrice) = %d\n", unsafe.Offsetof(md.LastPrice))
	fmt.Printf("offsetof(MarketUpdate, LastQty) = %d\n", unsafe.Offsetof(md.LastQty))
	fmt.Printf("offsetof(MarketUpdate, CumVolume) = %d\n", unsafe.Offsetof(md.CumVolume))
	fmt.Printf("offsetof(MarketUpdate, CumTurnover) = %d\n", unsafe.Offsetof(md.CumTurnover))
}
