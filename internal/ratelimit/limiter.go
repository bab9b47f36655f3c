// Package ratelimit admits or drops queries with a per-source token
// bucket: one golang.org/x/time/rate.Limiter per client IP, with an
// idle-eviction sweep so buckets for quiet sources don't accumulate while
// busy clients keep theirs.
package ratelimit

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Decision is the outcome of an admission check.
type Decision int

const (
	// Admit allows the query through.
	Admit Decision = iota
	// Drop rejects the query; the caller should count it and stay silent
	// or respond REFUSED depending on transport policy.
	Drop
)

func (d Decision) String() string {
	if d == Admit {
		return "admit"
	}
	return "drop"
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen atomic.Int64
}

// Limiter is a per-source-IP token bucket. The configured rate R acts as
// both refill rate and bucket size, so a single knob bounds sustained and
// burst query rates alike. A Limiter built with rate R <= 0 admits every
// query, so callers can construct one unconditionally.
type Limiter struct {
	mu         sync.Mutex
	byIP       map[string]*entry
	rps        float64
	idleWindow time.Duration
	stopCh     chan struct{}
	wg         sync.WaitGroup
}

// New builds a Limiter. idleWindow bounds how long an idle source's bucket
// is retained before a background sweep reclaims it; it defaults to 60s if
// zero or negative.
func New(queriesPerSecond float64, idleWindow time.Duration) *Limiter {
	if idleWindow <= 0 {
		idleWindow = 60 * time.Second
	}
	l := &Limiter{
		byIP:       make(map[string]*entry),
		rps:        queriesPerSecond,
		idleWindow: idleWindow,
		stopCh:     make(chan struct{}),
	}
	if l.rps > 0 {
		l.wg.Add(1)
		go l.sweepLoop()
	}
	return l
}

// Admit reports whether a query from addr should proceed. Unconfigured
// limiters (rps <= 0) always admit.
func (l *Limiter) Admit(addr net.IP) Decision {
	if l.rps <= 0 || addr == nil {
		return Admit
	}
	key := addr.String()

	l.mu.Lock()
	e, ok := l.byIP[key]
	if !ok {
		burst := int(l.rps)
		if burst < 1 {
			burst = 1
		}
		e = &entry{limiter: rate.NewLimiter(rate.Limit(l.rps), burst)}
		l.byIP[key] = e
	}
	l.mu.Unlock()

	e.lastSeen.Store(time.Now().UnixNano())

	if e.limiter.Allow() {
		return Admit
	}
	return Drop
}

// Close stops the background sweep goroutine. Safe to call once.
func (l *Limiter) Close() {
	if l.rps <= 0 {
		return
	}
	close(l.stopCh)
	l.wg.Wait()
}

// TrackedSources reports how many distinct source addresses currently hold
// a live bucket, for diagnostics.
func (l *Limiter) TrackedSources() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.byIP)
}

func (l *Limiter) sweepLoop() {
	defer l.wg.Done()
	t := time.NewTicker(l.idleWindow)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			l.sweep()
		case <-l.stopCh:
			return
		}
	}
}

func (l *Limiter) sweep() {
	cutoff := time.Now().Add(-l.idleWindow).UnixNano()
	l.mu.Lock()
	defer l.mu.Unlock()
	for k, e := range l.byIP {
		if e.lastSeen.Load() < cutoff {
			delete(l.byIP, k)
		}
	}
}
