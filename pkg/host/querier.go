package host

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/taurusjun/quantlink-trade-system-sub005/pkg/broker"
)

// BridgeQuerier queries broker positions through the bridge's HTTP
// surface — the live-mode path, where the counter session lives in the
// bridge process.
type BridgeQuerier struct {
	baseURL string
	client  *http.Client
}

// NewBridgeQuerier creates a querier against e.g. "http://localhost:9301".
func NewBridgeQuerier(baseURL string) *BridgeQuerier {
	return &BridgeQuerier{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 5 * time.Second},
	}
}

// positionsPayload mirrors the bridge endpoint body.
type positionsPayload struct {
	Ready     bool                                `json:"ready"`
	Positions map[string][]broker.PositionInfo    `json:"positions"`
}

// QueryPositions implements PositionQuerier. A bridge that reports the
// counter as still initializing maps to broker.ErrNotReady so the
// reconciler's retry loop applies.
func (q *BridgeQuerier) QueryPositions() (map[string][]broker.PositionInfo, error) {
	resp, err := q.client.Get(q.baseURL + "/api/v1/broker/positions")
	if err != nil {
		return nil, fmt.Errorf("bridge query: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bridge query: status %d", resp.StatusCode)
	}

	var payload positionsPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("bridge query: decode: %w", err)
	}
	if !payload.Ready {
		return nil, broker.ErrNotReady
	}
	return payload.Positions, nil
}
