package strategy

import (
	"fmt"
	"time"
)

// RunState is the strategy lifecycle state.
//
// Idle → Active (activate), Active → Flattening (deactivate or risk
// trip), Flattening → Stopped (positions zero, no orders outstanding),
// Stopped → Active (re-activate, flags reset).
type RunState int32

const (
	RunStateIdle RunState = iota
	RunStateActive
	RunStateFlattening
	RunStateStopped
)

func (s RunState) String() string {
	switch s {
	case RunStateIdle:
		return "Idle"
	case RunStateActive:
		return "Active"
	case RunStateFlattening:
		return "Flattening"
	case RunStateStopped:
		return "Stopped"
	}
	return "Unknown"
}

// FlattenReason records why flatten mode was entered.
type FlattenReason int

const (
	FlattenNone FlattenReason = iota
	FlattenManual
	FlattenSessionEnd
	FlattenStopLoss
	FlattenMaxLoss
	FlattenMaxDrawdown
	FlattenRejectLimit
	FlattenEmergency
)

func (r FlattenReason) String() string {
	switch r {
	case FlattenManual:
		return "Manual"
	case FlattenSessionEnd:
		return "SessionEnd"
	case FlattenStopLoss:
		return "StopLoss"
	case FlattenMaxLoss:
		return "MaxLoss"
	case FlattenMaxDrawdown:
		return "MaxDrawdown"
	case FlattenRejectLimit:
		return "RejectLimit"
	case FlattenEmergency:
		return "Emergency"
	}
	return "None"
}

// ControlState groups the control flags. Owned by the kernel, mutated
// under the kernel mutex.
type ControlState struct {
	RunState      RunState
	Active        bool
	ExitRequested bool
	CancelPending bool
	FlattenMode   bool
	Reason        FlattenReason
	FlattenTime   time.Time
}

// NewControlState starts Idle; live mode waits for explicit activation.
func NewControlState() ControlState {
	return ControlState{RunState: RunStateIdle}
}

// CanSendNewOrders gates signal-driven order flow (flatten orders bypass
// this; they are the point of the Flattening state).
func (c *ControlState) CanSendNewOrders() bool {
	return c.Active && c.RunState == RunStateActive && !c.FlattenMode && !c.ExitRequested
}

// EnterActive transitions into Active, resetting the flatten flags.
// 重新激活把 exit/cancel/flatten 全部清零。
func (c *ControlState) EnterActive() {
	c.RunState = RunStateActive
	c.Active = true
	c.ExitRequested = false
	c.CancelPending = false
	c.FlattenMode = false
	c.Reason = FlattenNone
}

// EnterFlattening transitions into Flattening.
func (c *ControlState) EnterFlattening(reason FlattenReason) {
	c.RunState = RunStateFlattening
	c.FlattenMode = true
	c.CancelPending = true
	c.ExitRequested = true
	c.Reason = reason
	c.FlattenTime = time.Now()
}

// EnterStopped finishes the flatten.
func (c *ControlState) EnterStopped() {
	c.RunState = RunStateStopped
	c.Active = false
	c.FlattenMode = false
	c.CancelPending = false
}

func (c ControlState) String() string {
	return fmt.Sprintf("state=%s active=%v exit=%v cancel=%v flatten=%v reason=%s",
		c.RunState, c.Active, c.ExitRequested, c.CancelPending, c.FlattenMode, c.Reason)
}
