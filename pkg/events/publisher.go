// Package events publishes host events (fills, risk alerts, parameter
// reloads) onto NATS subjects for external monitors. The publisher is
// optional: a nil *Publisher is a no-op, so the host wires it only when
// an address is configured.
package events

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"
)

// Subjects.
const (
	subjectFills  = "qlts.fills.%d" // per strategy id
	subjectAlerts = "qlts.alerts"
	subjectReload = "qlts.reload"
)

// FillEvent is one trade confirmation as seen by the host.
type FillEvent struct {
	StrategyID int32   `json:"strategy_id"`
	OrderID    uint32  `json:"order_id"`
	Symbol     string  `json:"symbol"`
	Side       string  `json:"side"`
	Quantity   int32   `json:"quantity"`
	Price      float64 `json:"price"`
	Time       int64   `json:"time_ns"`
}

// ReloadEvent reports one parameter-reload round.
type ReloadEvent struct {
	File      string    `json:"file"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher wraps the NATS connection.
type Publisher struct {
	nc *nats.Conn
}

// Connect dials NATS. Connection failure is surfaced to the caller; the
// host logs it and runs without events rather than refusing to start.
func Connect(addr string) (*Publisher, error) {
	nc, err := nats.Connect(addr,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("events: connect %s: %w", addr, err)
	}
	log.Printf("[Events] connected to NATS %s", addr)
	return &Publisher{nc: nc}, nil
}

// PublishFill emits a fill event.
func (p *Publisher) PublishFill(ev FillEvent) {
	if p == nil {
		return
	}
	p.publish(fmt.Sprintf(subjectFills, ev.StrategyID), ev)
}

// PublishAlert emits a risk alert. The payload marshals whatever alert
// struct the gate produces.
func (p *Publisher) PublishAlert(alert interface{}) {
	if p == nil {
		return
	}
	p.publish(subjectAlerts, alert)
}

// PublishReload emits a parameter reload result.
func (p *Publisher) PublishReload(ev ReloadEvent) {
	if p == nil {
		return
	}
	p.publish(subjectReload, ev)
}

func (p *Publisher) publish(subject string, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("[Events] marshal %s: %v", subject, err)
		return
	}
	if err := p.nc.Publish(subject, data); err != nil {
		log.Printf("[Events] publish %s: %v", subject, err)
	}
}

// Close drains and closes the connection.
func (p *Publisher) Close() {
	if p == nil || p.nc == nil {
		return
	}
	p.nc.Drain()
}
