package host

import (
	"sync/atomic"
	"time"
)

// Expiration is the polled signal that the current grant is used up. Work
// checks it between units and never interrupts a unit halfway.
type Expiration interface {
	Expired() bool
}

// Grant is a bounded slice of execution time. It expires when its budget runs
// out or when the host calls Expire, whichever comes first.
type Grant struct {
	deadline time.Time
	now      func() time.Time
	expired  atomic.Bool
}

func NewGrant(budget time.Duration) *Grant {
	return newGrant(budget, time.Now)
}

func newGrant(budget time.Duration, now func() time.Time) *Grant {
	return &Grant{deadline: now().Add(budget), now: now}
}

func (g *Grant) Expired() bool {
	return g.expired.Load() || !g.now().Before(g.deadline)
}

// Expire signals expiration ahead of the deadline.
func (g *Grant) Expire() {
	g.expired.Store(true)
}

// Remaining returns the time left, zero once expired.
func (g *Grant) Remaining() time.Duration {
	if g.Expired() {
		return 0
	}

	return g.deadline.Sub(g.now())
}

// ManualToken only expires when told to.
type ManualToken struct {
	expired atomic.Bool
}

func NewManualToken() *ManualToken {
	return &ManualToken{}
}

func (m *ManualToken) Expired() bool {
	return m.expired.Load()
}

func (m *ManualToken) Expire() {
	m.expired.Store(true)
}
