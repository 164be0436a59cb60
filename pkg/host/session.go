package host

import (
	"fmt"
	"time"

	"github.com/taurusjun/quantlink-trade-system-sub005/pkg/config"
)

// SessionController answers "are we inside the trading window" for the
// 1 Hz session tick. Overnight windows (21:00–02:30) wrap midnight.
type SessionController struct {
	cfg      *config.SessionConfig
	location *time.Location
	now      func() time.Time // injectable clock for tests
}

// NewSessionController loads the timezone; a bad zone falls back to UTC
// rather than refusing to start.
func NewSessionController(cfg *config.SessionConfig) *SessionController {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		loc = time.UTC
	}
	return &SessionController{cfg: cfg, location: loc, now: time.Now}
}

// InSession reports whether the clock is inside the trading window.
// Without configured times every moment is in session.
func (sc *SessionController) InSession() bool {
	if sc.cfg.StartTime == "" || sc.cfg.EndTime == "" {
		return true
	}
	now := sc.now().In(sc.location)

	start, err := sc.at(sc.cfg.StartTime, now)
	if err != nil {
		return true
	}
	end, err := sc.at(sc.cfg.EndTime, now)
	if err != nil {
		return true
	}

	if end.Before(start) {
		// 夜盘：跨午夜窗口
		return now.After(start) || now.Before(end)
	}
	return now.After(start) && now.Before(end)
}

// at parses HH:MM[:SS] onto the given date.
func (sc *SessionController) at(value string, date time.Time) (time.Time, error) {
	var hour, minute, second int
	if _, err := fmt.Sscanf(value, "%d:%d:%d", &hour, &minute, &second); err != nil {
		second = 0
		if _, err := fmt.Sscanf(value, "%d:%d", &hour, &minute); err != nil {
			return time.Time{}, fmt.Errorf("invalid time %q (want HH:MM[:SS])", value)
		}
	}
	return time.Date(date.Year(), date.Month(), date.Day(), hour, minute, second, 0, sc.location), nil
}
