package model

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/furisto/parley/shared/resilience"
	"github.com/prometheus/client_golang/prometheus"
)

type ProviderOptions struct {
	Name           string
	URL            string
	CircuitBreaker *resilience.CircuitBreaker
	Metrics        *prometheus.Registry
	Logger         *slog.Logger
}

type ProviderOption func(*ProviderOptions)

func WithName(name string) ProviderOption {
	return func(options *ProviderOptions) {
		options.Name = name
	}
}

func WithURL(url string) ProviderOption {
	return func(options *ProviderOptions) {
		options.URL = url
	}
}

func WithCircuitBreaker(circuitBreaker *resilience.CircuitBreaker) ProviderOption {
	return func(options *ProviderOptions) {
		options.CircuitBreaker = circuitBreaker
	}
}

func WithMetrics(metrics *prometheus.Registry) ProviderOption {
	return func(o *ProviderOptions) {
		o.Metrics = metrics
	}
}

func WithLogger(logger *slog.Logger) ProviderOption {
	return func(o *ProviderOptions) {
		o.Logger = logger
	}
}

func DefaultProviderOptions(name string) *ProviderOptions {
	return &ProviderOptions{
		Name:           name,
		CircuitBreaker: resilience.NewCircuitBreaker(name, 5, 10*time.Second),
		Logger:         slog.Default(),
	}
}

// Provider streams a chat completion from one remote endpoint. Implementations
// never retry; errors are reported as *ProviderError once classified.
type Provider interface {
	Name() string
	Stream(ctx context.Context, req *Request) (Stream, error)
}

// Stream yields deltas in arrival order. Close must always be called.
type Stream interface {
	Next() bool
	Current() Delta
	Err() error
	Close() error
}

// Delta is one fragment of streamed output. It is either a ContentDelta or a
// ToolCallDelta.
type Delta interface {
	isDelta()
}

type ContentDelta struct {
	Text string
}

// ToolCallDelta is a fragment of a tool invocation. ID is empty for
// continuation fragments of the call most recently announced.
type ToolCallDelta struct {
	ID        string
	Name      string
	Arguments string
}

func (ContentDelta) isDelta()  {}
func (ToolCallDelta) isDelta() {}

type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

type Request struct {
	Model       string
	Messages    []*Message
	Temperature float64
	MaxTokens   int64
	Timeout     time.Duration
	Tools       []ToolDefinition
}

func (r *Request) Validate() error {
	if r == nil {
		return fmt.Errorf("request is required")
	}
	if r.Model == "" {
		return fmt.Errorf("model is required")
	}
	if len(r.Messages) == 0 {
		return fmt.Errorf("at least one message is required")
	}
	return nil
}

// eventStream is the part of the SDK server-sent event stream the adapters use.
type eventStream[T any] interface {
	Next() bool
	Current() T
	Err() error
	Close() error
}

type deltaStream[T any] struct {
	provider string
	model    string
	events   eventStream[T]
	split    func(T) []Delta
	classify func(error) *ProviderError

	parent  context.Context
	call    context.Context
	cancel  context.CancelFunc
	breaker *resilience.CircuitBreaker
	metrics *providerMetricsProvider
	logger  *slog.Logger
	started time.Time

	pending []Delta
	current Delta
	err     error
	done    bool
	settled bool
	close   sync.Once
}

func (s *deltaStream[T]) Next() bool {
	for len(s.pending) == 0 {
		if s.done {
			return false
		}
		if !s.events.Next() {
			s.finish(s.events.Err())
			return false
		}
		s.pending = s.split(s.events.Current())
	}

	s.current, s.pending = s.pending[0], s.pending[1:]
	return true
}

func (s *deltaStream[T]) Current() Delta {
	return s.current
}

func (s *deltaStream[T]) Err() error {
	return s.err
}

func (s *deltaStream[T]) Close() error {
	var err error
	s.close.Do(func() {
		err = s.events.Close()
		s.cancel()
		s.settle(nil, false)
	})
	return err
}

func (s *deltaStream[T]) finish(err error) {
	s.done = true
	defer s.metrics.ObserveDuration(s.provider, s.model, s.started)

	if err == nil {
		s.settle(nil, true)
		return
	}

	s.err = s.translate(err)

	var pe *ProviderError
	if !errors.As(s.err, &pe) {
		s.settle(nil, false)
		return
	}

	s.settle(pe, pe.Kind.FallbackEligible())
	s.metrics.IncrementFailures(s.provider, pe.Kind)
	s.logger.WarnContext(s.parent, "provider stream failed",
		"provider", s.provider,
		"model", s.model,
		"kind", pe.Kind.String(),
		"status", pe.StatusCode,
		"error", err,
	)
}

// settle reports the call to the breaker once. Only successes and transient
// failures are a verdict; caller cancellation, an abandoned stream and
// permanent errors such as bad credentials release the call instead.
func (s *deltaStream[T]) settle(pe *ProviderError, verdict bool) {
	if s.settled {
		return
	}
	s.settled = true

	switch {
	case !verdict:
		s.breaker.Release()
	case pe == nil:
		s.breaker.RecordResult(nil)
	default:
		s.breaker.RecordResult(pe)
	}
}

func (s *deltaStream[T]) translate(err error) error {
	if s.parent.Err() != nil {
		return fmt.Errorf("%s: stream aborted: %w", s.provider, context.Cause(s.parent))
	}

	if errors.Is(s.call.Err(), context.DeadlineExceeded) || isNetTimeout(err) {
		return NewProviderError(s.provider, KindTimeout, err)
	}

	return s.classify(err)
}

func isNetTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

type streamCall[T any] struct {
	provider string
	options  *ProviderOptions
	metrics  *providerMetricsProvider
	split    func(T) []Delta
	classify func(error) *ProviderError
}

// open runs start under the per-type deadline of the request and wraps the
// resulting SDK stream. The deadline is released when the stream is closed.
func (c streamCall[T]) open(ctx context.Context, req *Request, start func(ctx context.Context) eventStream[T]) (Stream, error) {
	if !c.options.CircuitBreaker.Allow() {
		c.metrics.IncrementFailures(c.provider, KindOverload)
		return nil, NewProviderError(c.provider, KindOverload, ErrCircuitOpen)
	}

	var (
		call   context.Context
		cancel context.CancelFunc
	)
	if req.Timeout > 0 {
		call, cancel = context.WithTimeout(ctx, req.Timeout)
	} else {
		call, cancel = context.WithCancel(ctx)
	}

	c.metrics.IncrementCalls(c.provider, req.Model)
	logger := c.options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &deltaStream[T]{
		provider: c.provider,
		model:    req.Model,
		events:   start(call),
		split:    c.split,
		classify: c.classify,
		parent:   ctx,
		call:     call,
		cancel:   cancel,
		breaker:  c.options.CircuitBreaker,
		metrics:  c.metrics,
		logger:   logger,
		started:  time.Now(),
	}, nil
}
