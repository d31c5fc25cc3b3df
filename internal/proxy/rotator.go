package proxy

import (
	"fmt"
	"log/slog"
	"net/url"
	"sync"
)

// Proxy is one egress identity with its own health state. All fields are
// mutated only under the owning Rotator's lock.
type Proxy struct {
	Protocol string
	Host     string
	Port     int
	Username string
	Password string

	ConsecutiveFailures int
	SuccessCount        int
	UsageCount          int
	Working             bool
}

// URL builds the *url.URL form consumed by http.Transport.
func (p *Proxy) URL() *url.URL {
	u := &url.URL{
		Scheme: p.Protocol,
		Host:   fmt.Sprintf("%s:%d", p.Host, p.Port),
	}
	if p.Username != "" {
		u.User = url.UserPassword(p.Username, p.Password)
	}
	return u
}

func (p *Proxy) String() string {
	return fmt.Sprintf("%s:%d", p.Host, p.Port)
}

// Rotator hands proxies out to workers, rotating to a fresh one every
// rotationInterval Acquire calls. The interval counts every Acquire, not
// only confirmed successes; that matches the amortized session-reuse policy
// this crawler has always run with.
type Rotator struct {
	mu               sync.Mutex
	proxies          []*Proxy
	current          int
	hasCurrent       bool
	acquires         int
	rotationInterval int
	failureThreshold int
	onRetire         func()
}

// OnRetire registers a callback invoked each time a proxy is retired. Set
// once during wiring, before workers start.
func (r *Rotator) OnRetire(fn func()) {
	r.onRetire = fn
}

func NewRotator(rotationInterval, failureThreshold int) *Rotator {
	if rotationInterval < 1 {
		rotationInterval = 1
	}
	if failureThreshold < 1 {
		failureThreshold = 3
	}
	return &Rotator{
		current:          -1,
		rotationInterval: rotationInterval,
		failureThreshold: failureThreshold,
	}
}

func (r *Rotator) Add(p *Proxy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p.Working = true
	r.proxies = append(r.proxies, p)
}

// Acquire returns the proxy to use for the next request, or nil when the
// pool is empty. Once at least one proxy was loaded it never returns nil:
// when every proxy has been retired the whole pool is refreshed instead of
// starving the caller.
func (r *Rotator) Acquire() *Proxy {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.proxies) == 0 {
		return nil
	}

	r.acquires++
	if !r.hasCurrent || r.acquires >= r.rotationInterval || !r.proxies[r.current].Working {
		r.acquires = 0
		r.advanceLocked()
	}

	p := r.proxies[r.current]
	p.UsageCount++
	return p
}

// advanceLocked moves to the next eligible proxy, scanning at most one full
// lap. When no proxy is eligible the pool is reset wholesale so the crawl
// can keep going rather than abort on a transiently bad pool.
func (r *Rotator) advanceLocked() {
	start := r.current
	for i := 1; i <= len(r.proxies); i++ {
		idx := (start + i) % len(r.proxies)
		if r.proxies[idx].Working {
			r.current = idx
			r.hasCurrent = true
			return
		}
	}

	slog.Warn("all proxies retired. resetting pool health.", slog.Int("pool_size", len(r.proxies)))
	for _, p := range r.proxies {
		p.Working = true
		p.ConsecutiveFailures = 0
	}
	r.current = (start + 1) % len(r.proxies)
	r.hasCurrent = true
}

func (r *Rotator) ReportSuccess(p *Proxy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p.ConsecutiveFailures = 0
	p.SuccessCount++
	p.Working = true
}

func (r *Rotator) ReportFailure(p *Proxy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p.ConsecutiveFailures++
	if p.ConsecutiveFailures >= r.failureThreshold && p.Working {
		p.Working = false
		slog.Warn("proxy marked as not working.", slog.String("proxy", p.String()),
			slog.Int("consecutive_failures", p.ConsecutiveFailures))
		if r.onRetire != nil {
			r.onRetire()
		}
	}
}

// WorkingCount reports how many proxies are currently eligible.
func (r *Rotator) WorkingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, p := range r.proxies {
		if p.Working {
			count++
		}
	}
	return count
}

// Size reports the total pool size, eligible or not.
func (r *Rotator) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.proxies)
}

// replace swaps the pool contents, used by the health-check filtering stage.
func (r *Rotator) replace(proxies []*Proxy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.proxies = proxies
	r.current = -1
	r.hasCurrent = false
	r.acquires = 0
}
