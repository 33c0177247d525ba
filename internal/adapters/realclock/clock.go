// Package realclock is the wall-clock ports.Clock.
package realclock

import (
	"time"

	"github.com/acolita/promptshell/internal/ports"
)

var _ ports.Clock = Clock{}

// Clock reads the system clock.
type Clock struct{}

// New returns the wall clock.
func New() Clock { return Clock{} }

func (Clock) Now() time.Time { return time.Now() }

func (Clock) Sleep(d time.Duration) {
	if d > 0 {
		time.Sleep(d)
	}
}

// After fires immediately for non-positive d, matching fakeclock.
func (Clock) After(d time.Duration) <-chan time.Time {
	if d <= 0 {
		ch := make(chan time.Time, 1)
		ch <- time.Now()
		return ch
	}
	return time.After(d)
}

// NewTicker wraps time.NewTicker. d must be positive.
func (Clock) NewTicker(d time.Duration) ports.Ticker {
	return ticker{time.NewTicker(d)}
}

type ticker struct{ t *time.Ticker }

func (t ticker) C() <-chan time.Time { return t.t.C }
func (t ticker) Stop()               { t.t.Stop() }
