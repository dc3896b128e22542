package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"goflare.io/warden/classify"
	"goflare.io/warden/metrics"
)

var (
	// ErrCircuitOpen is returned when the circuit for the operation key
	// is open and the call failed fast without invoking the operation.
	ErrCircuitOpen = errors.New("circuit breaker is open")
	// ErrRetriesExhausted is returned when every attempt failed.
	ErrRetriesExhausted = errors.New("retries exhausted")
	// ErrCancelled is returned when the caller's context was cancelled
	// during an attempt or a scheduled delay.
	ErrCancelled = errors.New("operation cancelled")
	// ErrTotalTimeout is returned when the cumulative elapsed time
	// crossed the policy's total timeout.
	ErrTotalTimeout = errors.New("retry total timeout exceeded")
)

// Operation is the fallible call executed under retry management.
type Operation[T any] func(ctx context.Context) (T, error)

// Attempt records one invocation of the operation.
type Attempt struct {
	Number    int
	StartedAt time.Time
	EndedAt   time.Time
	Delay     time.Duration
	Elapsed   time.Duration
	Success   bool
	Err       error
}

// Result is the terminal outcome of Execute. Failures are returned in
// the result, never panicked or thrown past the manager boundary.
type Result[T any] struct {
	Success        bool
	Value          T
	Err            error
	Attempts       []Attempt
	CircuitOpen    bool
	Cancelled      bool
	Classification classify.Classification
}

// Config configures a Manager.
type Config struct {
	// Policies binds a retry policy per error type. Types missing from
	// the map use Default.
	Policies map[classify.ErrorType]Policy
	// Default applies to error types with no bound policy.
	Default Policy
	// Breaker configures the per-key circuit breakers.
	Breaker BreakerSettings
	// HaltOnTotalTimeout stops scheduling retries once the cumulative
	// elapsed time reaches the policy's TotalTimeout.
	HaltOnTotalTimeout bool
}

// DefaultConfig returns the default manager configuration.
func DefaultConfig() Config {
	return Config{
		Policies: DefaultPolicies(),
		Default: Policy{
			Strategy:          ExponentialBackoff,
			MaxAttempts:       3,
			BaseDelay:         200 * time.Millisecond,
			MaxDelay:          10 * time.Second,
			BackoffMultiplier: 2,
			JitterFactor:      0.2,
			AttemptTimeout:    10 * time.Second,
			TotalTimeout:      time.Minute,
		},
		Breaker:            BreakerSettings{},
		HaltOnTotalTimeout: true,
	}
}

// Manager executes operations with a classification-driven retry
// schedule gated by per-key circuit breakers.
type Manager[T any] struct {
	cfg        Config
	classifier *classify.Classifier
	breakers   *BreakerSet
	probs      *probabilities
	clock      clockwork.Clock
	logger     *zap.Logger
	tracer     trace.Tracer
	metrics    *metrics.Metrics

	mu  sync.Mutex
	rng *rand.Rand
}

// ManagerOption configures a Manager.
type ManagerOption func(*managerDeps)

type managerDeps struct {
	classifier *classify.Classifier
	clock      clockwork.Clock
	logger     *zap.Logger
	metrics    *metrics.Metrics
	rng        *rand.Rand
}

// WithClassifier sets the classifier used to attach classifications to
// terminal failures.
func WithClassifier(c *classify.Classifier) ManagerOption {
	return func(d *managerDeps) { d.classifier = c }
}

// WithClock sets the clock driving delays, timeouts and cooldowns.
func WithClock(c clockwork.Clock) ManagerOption {
	return func(d *managerDeps) { d.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) ManagerOption {
	return func(d *managerDeps) { d.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) ManagerOption {
	return func(d *managerDeps) { d.metrics = m }
}

// WithRand sets the RNG used for jitter.
func WithRand(r *rand.Rand) ManagerOption {
	return func(d *managerDeps) { d.rng = r }
}

// NewManager creates a Manager.
func NewManager[T any](cfg Config, opts ...ManagerOption) *Manager[T] {
	deps := &managerDeps{}
	for _, opt := range opts {
		opt(deps)
	}
	if deps.classifier == nil {
		deps.classifier = classify.New()
	}
	if deps.clock == nil {
		deps.clock = clockwork.NewRealClock()
	}
	if deps.logger == nil {
		deps.logger = zap.NewNop()
	}
	if deps.rng == nil {
		deps.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if cfg.Policies == nil {
		cfg.Policies = DefaultPolicies()
	}
	if cfg.Default.MaxAttempts == 0 && cfg.Default.Strategy == NoRetry {
		cfg.Default = DefaultConfig().Default
	}

	m := &Manager[T]{
		cfg:        cfg,
		classifier: deps.classifier,
		probs:      newProbabilities(deps.classifier),
		clock:      deps.clock,
		logger:     deps.logger,
		tracer:     otel.Tracer("retry"),
		metrics:    deps.metrics,
		rng:        deps.rng,
	}

	settings := cfg.Breaker
	userHook := settings.OnStateChange
	settings.OnStateChange = func(key string, from, to State) {
		m.metrics.Transition(from.String(), to.String())
		m.logger.Info("circuit state changed",
			zap.String("key", key),
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
		if userHook != nil {
			userHook(key, from, to)
		}
	}
	m.breakers = NewBreakerSet(settings, deps.clock)

	return m
}

// Breakers exposes the per-key circuit breakers for inspection and
// explicit resets.
func (m *Manager[T]) Breakers() *BreakerSet {
	return m.breakers
}

// PolicyFor returns the policy bound to the error type.
func (m *Manager[T]) PolicyFor(errType classify.ErrorType) Policy {
	if p, ok := m.cfg.Policies[errType]; ok {
		return p
	}
	return m.cfg.Default
}

// Execute runs op under the policy bound to errType, gated by the
// circuit breaker for opKey. The terminal outcome is always returned in
// the Result; op is never invoked while the circuit is open.
func (m *Manager[T]) Execute(ctx context.Context, op Operation[T], errType classify.ErrorType, opKey string, override ...Policy) Result[T] {
	ctx, span := m.tracer.Start(ctx, "Manager.Execute", trace.WithAttributes(
		attribute.String("error_type", string(errType)),
		attribute.String("operation_key", opKey),
	))
	defer span.End()

	policy := m.PolicyFor(errType)
	if len(override) > 0 {
		policy = override[0]
	}

	admitted, trial := m.breakers.Allow(opKey)
	if !admitted {
		m.metrics.Attempt(string(errType), "circuit_open")
		return Result[T]{
			Err:            fmt.Errorf("%w: %s", ErrCircuitOpen, opKey),
			CircuitOpen:    true,
			Classification: m.classifier.Lookup(errType),
		}
	}

	maxAttempts := policy.MaxAttempts
	if policy.Strategy == NoRetry || maxAttempts < 1 {
		// Non-retryable policies still invoke the operation once.
		maxAttempts = 1
	}

	var (
		result  Result[T]
		lastErr error
		start   = m.clock.Now()
	)

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		var delay time.Duration
		if attempt > 1 {
			delay = m.attemptDelay(policy, attempt-1)

			if m.cfg.HaltOnTotalTimeout && policy.TotalTimeout > 0 &&
				m.clock.Since(start)+delay >= policy.TotalTimeout {
				lastErr = fmt.Errorf("%w after %d attempts: %w", ErrTotalTimeout, attempt-1, lastErr)
				break
			}

			select {
			case <-ctx.Done():
				return m.cancelled(result, trial, opKey, ctx.Err())
			case <-m.clock.After(delay):
			}
		}

		attemptStart := m.clock.Now()
		value, err := m.invoke(ctx, op, policy)
		attemptEnd := m.clock.Now()

		result.Attempts = append(result.Attempts, Attempt{
			Number:    attempt,
			StartedAt: attemptStart,
			EndedAt:   attemptEnd,
			Delay:     delay,
			Elapsed:   attemptEnd.Sub(start),
			Success:   err == nil,
			Err:       err,
		})

		if err == nil {
			m.probs.record(errType, true)
			m.breakers.OnSuccess(opKey, trial)
			m.metrics.Attempt(string(errType), "success")
			result.Success = true
			result.Value = value
			return result
		}

		if ctx.Err() != nil {
			return m.cancelled(result, trial, opKey, ctx.Err())
		}

		lastErr = err
		m.probs.record(errType, false)
		m.metrics.Attempt(string(errType), "failure")
		m.logger.Debug("attempt failed",
			zap.String("key", opKey),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", maxAttempts),
			zap.Error(err),
		)

		if m.cfg.HaltOnTotalTimeout && policy.TotalTimeout > 0 &&
			m.clock.Since(start) >= policy.TotalTimeout {
			lastErr = fmt.Errorf("%w after %d attempts: %w", ErrTotalTimeout, attempt, lastErr)
			break
		}
	}

	m.breakers.OnFailure(opKey, trial)

	result.Err = fmt.Errorf("%w: %w", ErrRetriesExhausted, lastErr)
	result.Classification = m.classifier.Classify(lastErr, classify.Context{
		Subject:   opKey,
		Operation: string(errType),
	})
	return result
}

// invoke runs the operation under the per-attempt timeout.
func (m *Manager[T]) invoke(ctx context.Context, op Operation[T], policy Policy) (T, error) {
	if policy.AttemptTimeout > 0 {
		attemptCtx, cancel := context.WithTimeout(ctx, policy.AttemptTimeout)
		defer cancel()
		return op(attemptCtx)
	}
	return op(ctx)
}

// cancelled produces the distinct cancelled outcome and releases an
// in-flight trial slot without recording a breaker verdict.
func (m *Manager[T]) cancelled(result Result[T], trial bool, opKey string, cause error) Result[T] {
	if trial {
		m.breakers.AbandonTrial(opKey)
	}
	result.Cancelled = true
	result.Err = fmt.Errorf("%w: %v", ErrCancelled, cause)
	return result
}

// attemptDelay computes the post-jitter delay following the given
// completed attempt number.
func (m *Manager[T]) attemptDelay(policy Policy, completed int) time.Duration {
	delay := backoffDelay(policy, completed)
	if delay <= 0 || policy.JitterFactor <= 0 {
		return delay
	}

	m.mu.Lock()
	jitter := m.rng.Float64() * policy.JitterFactor * float64(delay)
	m.mu.Unlock()

	return delay + time.Duration(jitter)
}
