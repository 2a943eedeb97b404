// Package cooldown tracks the window after an animated transition during
// which further transitions are forced onto the bypass path.
package cooldown

import (
	"time"

	"github.com/AaronLay10/SentientViewer/internal/timers"
)

// Policy is the cooldown window. Its expiry timer is registered with the
// shared timer registry so teardown cancels it along with everything else.
type Policy struct {
	timers *timers.Registry

	handle    timers.Handle
	active    bool
	expiresAt time.Time
	duration  time.Duration

	// canExpire is consulted when the timer fires; while it reports false
	// the window is extended by another full duration.
	canExpire func() bool
	onExpire  func()
	onExtend  func(expiresAt time.Time)
}

// New creates an inactive policy.
func New(reg *timers.Registry) *Policy {
	return &Policy{timers: reg}
}

// SetExpireGuard installs the check that decides whether the window may
// close when its timer fires.
func (p *Policy) SetExpireGuard(fn func() bool) { p.canExpire = fn }

// OnExpire sets the callback run after the window closes.
func (p *Policy) OnExpire(fn func()) { p.onExpire = fn }

// OnExtend sets the callback run when the guard keeps the window open.
func (p *Policy) OnExtend(fn func(expiresAt time.Time)) { p.onExtend = fn }

// Arm opens the window for d, replacing any pending expiry.
// A non-positive d closes the window instead.
func (p *Policy) Arm(d time.Duration) {
	p.cancelTimer()
	if d <= 0 {
		p.active = false
		p.expiresAt = time.Time{}
		return
	}
	p.duration = d
	p.active = true
	p.expiresAt = p.timers.Clock().Now().Add(d)
	p.handle = p.timers.Schedule(p.expire, d)
	if p.handle == 0 {
		// registry already torn down
		p.active = false
		p.expiresAt = time.Time{}
	}
}

// Reset cancels the pending expiry and rearms the window for d.
func (p *Policy) Reset(d time.Duration) {
	p.Arm(d)
}

// IsActive reports whether the window is open.
func (p *Policy) IsActive() bool {
	return p.active
}

// ExpiresAt returns when the window closes, if it is open.
func (p *Policy) ExpiresAt() (time.Time, bool) {
	return p.expiresAt, p.active
}

// Cancel closes the window without running the expiry callback.
func (p *Policy) Cancel() {
	p.cancelTimer()
	p.active = false
	p.expiresAt = time.Time{}
}

func (p *Policy) cancelTimer() {
	if p.handle != 0 {
		p.timers.Cancel(p.handle)
		p.handle = 0
	}
}

func (p *Policy) expire() {
	p.handle = 0
	if p.canExpire != nil && !p.canExpire() {
		p.Arm(p.duration)
		if p.active && p.onExtend != nil {
			p.onExtend(p.expiresAt)
		}
		return
	}
	p.active = false
	p.expiresAt = time.Time{}
	if p.onExpire != nil {
		p.onExpire()
	}
}
