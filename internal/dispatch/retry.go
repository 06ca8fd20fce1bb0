package dispatch

import (
	"math/rand"
	"sync"
	"time"

	"relay/internal/platform/config"
)

const (
	DefaultMaxRetries = 3
	DefaultBaseDelay  = 5 * time.Second
	DefaultMaxDelay   = 10 * time.Minute
)

// RetryPolicy decides how often and how late a failed handler runs again.
// Attempts are 0-based: attempt 0 is the first invocation, so an event is
// invoked at most MaxRetries+1 times.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	// Jitter spreads each delay uniformly over [0, delay].
	Jitter bool

	mu  sync.Mutex
	rng *rand.Rand
}

func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxRetries: DefaultMaxRetries,
		BaseDelay:  DefaultBaseDelay,
		MaxDelay:   DefaultMaxDelay,
	}
}

// RetryPolicyFromConfig applies deployment overrides on top of the defaults.
func RetryPolicyFromConfig(cfg config.DispatchConfig) *RetryPolicy {
	p := DefaultRetryPolicy()
	p.MaxRetries = cfg.MaxRetries
	if cfg.RetryBackoff > 0 {
		p.BaseDelay = cfg.RetryBackoff
	}
	if cfg.RetryBackoffMax > 0 {
		p.MaxDelay = cfg.RetryBackoffMax
	}
	p.Jitter = cfg.RetryJitter
	return p
}

// WithRand fixes the jitter source, for tests.
func (p *RetryPolicy) WithRand(rng *rand.Rand) *RetryPolicy {
	p.rng = rng
	return p
}

// ShouldRetry reports whether a failed attempt gets another one.
func (p *RetryPolicy) ShouldRetry(attempt int) bool {
	return attempt < p.MaxRetries
}

// Delay returns min(BaseDelay * 2^attempt, MaxDelay), jittered when enabled.
func (p *RetryPolicy) Delay(attempt int) time.Duration {
	base, maxDelay := p.BaseDelay, p.MaxDelay
	if base <= 0 {
		base = DefaultBaseDelay
	}
	if maxDelay < base {
		maxDelay = base
	}
	if attempt < 0 {
		attempt = 0
	}

	delay := base
	for range attempt {
		if delay >= maxDelay/2 {
			delay = maxDelay
			break
		}
		delay *= 2
	}
	if delay > maxDelay {
		delay = maxDelay
	}

	if !p.Jitter {
		return delay
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.rng == nil {
		p.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return time.Duration(p.rng.Int63n(int64(delay) + 1))
}
