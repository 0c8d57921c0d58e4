package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/maypok86/otter"
	"golang.org/x/time/rate"
)

const BurstExceeded = "Too many messages in a short time, please slow down."

// Timeframe caps the number of messages a user may send within a sliding
// window.
type Timeframe struct {
	Unit   string        `yaml:"unit"`
	Window time.Duration `yaml:"window"`
	Max    int           `yaml:"max"`
}

func DefaultTimeframes() []Timeframe {
	return []Timeframe{
		{Unit: "hour", Window: time.Hour, Max: 50},
		{Unit: "day", Window: 24 * time.Hour, Max: 200},
	}
}

type MessageCounter interface {
	CountUserMessagesSince(ctx context.Context, userID string, since time.Time) (int, error)
}

type Options struct {
	Timeframes []Timeframe
	RPS        float64
	Burst      int
	Now        func() time.Time

	// burst limiters of users idle for longer than IdleTimeout are dropped;
	// at most MaxUsers are kept
	IdleTimeout time.Duration
	MaxUsers    int
}

type Option func(*Options)

func WithTimeframes(timeframes ...Timeframe) Option {
	return func(o *Options) {
		o.Timeframes = timeframes
	}
}

func WithBurst(rps float64, burst int) Option {
	return func(o *Options) {
		o.RPS = rps
		o.Burst = burst
	}
}

func WithIdleEviction(idle time.Duration, maxUsers int) Option {
	return func(o *Options) {
		o.IdleTimeout = idle
		o.MaxUsers = maxUsers
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *Options) {
		o.Now = now
	}
}

// Limiter gates a turn on the number of messages a user has already sent.
type Limiter struct {
	counter MessageCounter
	options Options
	pool    *limiterPool
}

func NewLimiter(counter MessageCounter, opts ...Option) (*Limiter, error) {
	options := Options{
		Timeframes:  DefaultTimeframes(),
		RPS:         1,
		Burst:       5,
		Now:         time.Now,
		IdleTimeout: 10 * time.Minute,
		MaxUsers:    10_000,
	}
	for _, opt := range opts {
		opt(&options)
	}

	limiter := &Limiter{
		counter: counter,
		options: options,
	}
	if options.RPS > 0 {
		pool, err := newLimiterPool(options)
		if err != nil {
			return nil, err
		}
		limiter.pool = pool
	}

	return limiter, nil
}

func (l *Limiter) Close() {
	if l.pool != nil {
		l.pool.cache.Close()
	}
}

// CheckLimit returns a user facing message when the user is over a limit and
// an empty string otherwise.
func (l *Limiter) CheckLimit(ctx context.Context, userID string) (string, error) {
	for _, timeframe := range l.options.Timeframes {
		count, err := l.counter.CountUserMessagesSince(ctx, userID, l.options.Now().Add(-timeframe.Window))
		if err != nil {
			return "", fmt.Errorf("failed to count messages for the %s: %w", timeframe.Unit, err)
		}

		if count > timeframe.Max {
			return fmt.Sprintf("Maximum message count exceeded for the %s, the limit is %d messages.", timeframe.Unit, timeframe.Max), nil
		}
	}

	if l.pool != nil && !l.pool.allow(userID) {
		return BurstExceeded, nil
	}

	return "", nil
}

type limiterPool struct {
	mu    sync.Mutex
	cache otter.Cache[string, *rate.Limiter]
	rps   float64
	burst int
}

func newLimiterPool(options Options) (*limiterPool, error) {
	// an entry must outlive the time its bucket takes to refill, otherwise
	// evicting it would hand the user a fresh burst early
	idle := options.IdleTimeout
	if refill := time.Duration(float64(options.Burst) / options.RPS * float64(time.Second)); refill > idle {
		idle = refill
	}

	cache, err := otter.MustBuilder[string, *rate.Limiter](options.MaxUsers).
		WithTTL(idle).
		Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build burst limiter cache: %w", err)
	}

	return &limiterPool{cache: cache, rps: options.RPS, burst: options.Burst}, nil
}

// allow rewrites the entry on every call so that the TTL measures idle time.
func (p *limiterPool) allow(key string) bool {
	p.mu.Lock()
	l, ok := p.cache.Get(key)
	if !ok {
		l = rate.NewLimiter(rate.Limit(p.rps), p.burst)
	}
	p.cache.Set(key, l)
	p.mu.Unlock()

	return l.Allow()
}
