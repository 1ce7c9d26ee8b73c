// Package ratelimit implements the per-provider call budget: up to three token
// buckets (second, minute, day) that refill continuously and never block.
//
// Buckets are process-local. Several processes sharing one provider account each
// get the full budget; a global limit needs the buckets in a shared store.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limits configures the ceilings for each window. Zero means unlimited.
type Limits struct {
	PerSecond int `yaml:"per_second" mapstructure:"per_second" json:"per_second,omitempty"`
	PerMinute int `yaml:"per_minute" mapstructure:"per_minute" json:"per_minute,omitempty"`
	PerDay    int `yaml:"per_day" mapstructure:"per_day" json:"per_day,omitempty"`
}

// Unlimited reports whether no window is configured.
func (l Limits) Unlimited() bool {
	return l.PerSecond <= 0 && l.PerMinute <= 0 && l.PerDay <= 0
}

type bucket struct {
	window string
	lim    *rate.Limiter
}

// Limiter gates calls against all configured windows at once.
type Limiter struct {
	mu      sync.Mutex
	buckets []bucket
	nowFunc func() time.Time
}

// New creates a Limiter with full buckets.
func New(limits Limits) *Limiter {
	l := &Limiter{nowFunc: time.Now}
	add := func(name string, n int, window time.Duration) {
		if n <= 0 {
			return
		}
		every := window / time.Duration(n)
		l.buckets = append(l.buckets, bucket{
			window: name,
			lim:    rate.NewLimiter(rate.Every(every), n),
		})
	}
	add("second", limits.PerSecond, time.Second)
	add("minute", limits.PerMinute, time.Minute)
	add("day", limits.PerDay, 24*time.Hour)
	return l
}

// WithClock sets the time source, for tests.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.nowFunc = now
	return l
}

// TryAcquire takes one token from every window or none at all. It returns false
// immediately when any window is exhausted.
func (l *Limiter) TryAcquire() bool {
	ok, _ := l.tryAcquire()
	return ok
}

// TryAcquireWindow is TryAcquire that also names the window that denied the call.
func (l *Limiter) TryAcquireWindow() (bool, string) {
	return l.tryAcquire()
}

func (l *Limiter) tryAcquire() (bool, string) {
	if l == nil {
		return true, ""
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFunc()
	taken := make([]*rate.Reservation, 0, len(l.buckets))
	for _, b := range l.buckets {
		r := b.lim.ReserveN(now, 1)
		if !r.OK() || r.DelayFrom(now) > 0 {
			r.CancelAt(now)
			// Return the tokens already taken from the earlier windows.
			for i := len(taken) - 1; i >= 0; i-- {
				taken[i].CancelAt(now)
			}
			return false, b.window
		}
		taken = append(taken, r)
	}
	return true, ""
}
