// Package system provides the wall clock used outside of tests.
package system

import (
	"time"

	"github.com/JakeFAU/serp-rank-tracker/internal/tracker"
)

// Clock implements tracker.Clock using the runtime timer facilities.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time in UTC.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// NewTicker wraps time.NewTicker.
func (Clock) NewTicker(d time.Duration) tracker.Ticker {
	return &ticker{t: time.NewTicker(d)}
}

type ticker struct {
	t *time.Ticker
}

func (k *ticker) C() <-chan time.Time {
	return k.t.C
}

func (k *ticker) Stop() {
	k.t.Stop()
}
