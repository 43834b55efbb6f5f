// Package retry decides whether and when a failed exchange call is retried.
//
// Backoff is exponential with jitter:
//
//	delay = min(base * 2^(attempt-1), cap) * uniform(0.5, 1.5)
//
// where attempt is the 1-based number of the attempt that just failed.
// Rate-limited failures wait for the provider's Retry-After hint when one is
// present, otherwise the exponential delay scaled by RateLimitFactor.
package retry

import (
	"math/rand/v2"
	"time"

	"github.com/rickgao/exchange-gateway/internal/fault"
	"github.com/rickgao/exchange-gateway/internal/request"
)

// Config holds retry settings.
type Config struct {
	BaseDelay           time.Duration // default: 200ms
	MaxDelay            time.Duration // default: 10s
	InteractiveAttempts int           // default: 3
	BackgroundAttempts  int           // default: 5
	RateLimitFactor     float64       // default: 2
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BaseDelay:           200 * time.Millisecond,
		MaxDelay:            10 * time.Second,
		InteractiveAttempts: 3,
		BackgroundAttempts:  5,
		RateLimitFactor:     2,
	}
}

// Input describes a failed attempt.
type Input struct {
	Kind       fault.Kind
	RetryAfter time.Duration // provider hint, 0 if none
	Attempt    int           // 1-based attempt that just failed
	Elapsed    time.Duration // time since the first attempt started
	Remaining  time.Duration // time left before the job deadline
	Priority   request.Priority
}

// Decision is the outcome of Decide.
type Decision struct {
	Retry  bool
	Delay  time.Duration
	Reason string // why we gave up, empty when retrying
}

// GiveUp reasons.
const (
	ReasonNotRetryable = "not retryable"
	ReasonMaxAttempts  = "max attempts reached"
	ReasonDeadline     = "deadline exceeded"
)

// Policy is the single retry decision point for every outbound call.
type Policy struct {
	cfg  Config
	rand func() float64
}

// Option configures a Policy.
type Option func(*Policy)

// WithRand replaces the jitter source. f must return values in [0, 1).
func WithRand(f func() float64) Option {
	return func(p *Policy) {
		p.rand = f
	}
}

// New creates a Policy. Zero fields in cfg take their defaults.
func New(cfg Config, opts ...Option) *Policy {
	def := DefaultConfig()
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if cfg.InteractiveAttempts <= 0 {
		cfg.InteractiveAttempts = def.InteractiveAttempts
	}
	if cfg.BackgroundAttempts <= 0 {
		cfg.BackgroundAttempts = def.BackgroundAttempts
	}
	if cfg.RateLimitFactor < 1 {
		cfg.RateLimitFactor = def.RateLimitFactor
	}

	p := &Policy{
		cfg:  cfg,
		rand: rand.Float64,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// MaxAttempts returns the attempt budget for a priority class.
func (p *Policy) MaxAttempts(pr request.Priority) int {
	if pr == request.Background {
		return p.cfg.BackgroundAttempts
	}
	return p.cfg.InteractiveAttempts
}

// Decide returns Retry with a delay, or GiveUp with a reason. GiveUp is
// returned once the attempt budget is spent or the delay would carry the job
// past its deadline, whichever comes first.
func (p *Policy) Decide(in Input) Decision {
	if !in.Kind.Retryable() {
		return Decision{Reason: ReasonNotRetryable}
	}
	if in.Attempt >= p.MaxAttempts(in.Priority) {
		return Decision{Reason: ReasonMaxAttempts}
	}
	if in.Remaining <= 0 {
		return Decision{Reason: ReasonDeadline}
	}

	delay := p.Backoff(in.Attempt)
	if in.Kind == fault.RateLimited {
		if in.RetryAfter > 0 {
			delay = in.RetryAfter
		} else {
			delay = time.Duration(float64(delay) * p.cfg.RateLimitFactor)
		}
	}

	if delay >= in.Remaining {
		return Decision{Reason: ReasonDeadline}
	}

	return Decision{Retry: true, Delay: delay}
}

// Backoff returns the jittered delay after the given failed attempt.
func (p *Policy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	d := p.cfg.BaseDelay
	for i := 1; i < attempt && d < p.cfg.MaxDelay; i++ {
		d *= 2
	}
	if d > p.cfg.MaxDelay {
		d = p.cfg.MaxDelay
	}

	// Jitter: d * (0.5 to 1.5)
	return time.Duration(float64(d) * (0.5 + p.rand()))
}
