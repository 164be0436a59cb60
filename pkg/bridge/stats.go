package bridge

import "sync/atomic"

// Stats are the bridge counters, all atomics so callback threads and the
// request loop bump them without coordination.
type Stats struct {
	Requests         atomic.Int64
	Sent             atomic.Int64
	SendFailures     atomic.Int64
	NoBroker         atomic.Int64
	RateLimited      atomic.Int64
	Responses        atomic.Int64
	ResponseDrops    atomic.Int64
	UnknownCallbacks atomic.Int64
}

// StatsSnapshot is a plain copy for the status API.
type StatsSnapshot struct {
	Requests         int64 `json:"requests"`
	Sent             int64 `json:"sent"`
	SendFailures     int64 `json:"send_failures"`
	NoBroker         int64 `json:"no_broker"`
	RateLimited      int64 `json:"rate_limited"`
	Responses        int64 `json:"responses"`
	ResponseDrops    int64 `json:"response_drops"`
	UnknownCallbacks int64 `json:"unknown_callbacks"`
}

// Snapshot copies the counters.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Requests:         s.Requests.Load(),
		Sent:             s.Sent.Load(),
		SendFailures:     s.SendFailures.Load(),
		NoBroker:         s.NoBroker.Load(),
		RateLimited:      s.RateLimited.Load(),
		Responses:        s.Responses.Load(),
		ResponseDrops:    s.ResponseDrops.Load(),
		UnknownCallbacks: s.UnknownCallbacks.Load(),
	}
}
