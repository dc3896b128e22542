package classify

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// defaultTable is the static classification table. Retryability is
// derived solely from the error type.
func defaultTable() map[ErrorType]Classification {
	return map[ErrorType]Classification{
		TokenExpired: {
			Type:        TokenExpired,
			Category:    CategoryAuthentication,
			Severity:    SeverityLow,
			Retryable:   true,
			UserMessage: "Your session has expired.",
			Resolutions: []Resolution{
				{Action: "refresh-token", Description: "Refresh the access token and retry", Probability: 0.95},
				{Action: "reauthenticate", Description: "Sign in again", Probability: 0.99},
			},
		},
		InvalidToken: {
			Type:        InvalidToken,
			Category:    CategoryAuthentication,
			Severity:    SeverityHigh,
			Retryable:   false,
			UserMessage: "Your credentials are invalid.",
			Resolutions: []Resolution{
				{Action: "reauthenticate", Description: "Sign in again to obtain a valid token", Probability: 0.97},
				{Action: "contact-admin", Description: "Contact an administrator if the problem persists", Probability: 0.5},
			},
		},
		InsufficientPermission: {
			Type:        InsufficientPermission,
			Category:    CategoryPermission,
			Severity:    SeverityMedium,
			Retryable:   false,
			UserMessage: "You do not have permission to perform this operation.",
			Resolutions: []Resolution{
				{Action: "request-access", Description: "Request a higher permission level from the workspace owner", Probability: 0.8},
				{Action: "switch-account", Description: "Switch to an account that has the required permission", Probability: 0.6},
			},
		},
		InsufficientScope: {
			Type:        InsufficientScope,
			Category:    CategoryPermission,
			Severity:    SeverityMedium,
			Retryable:   false,
			UserMessage: "The application is not authorized for this operation.",
			Resolutions: []Resolution{
				{Action: "regrant-scopes", Description: "Re-authorize the application with the required scopes", Probability: 0.9},
				{Action: "contact-admin", Description: "Ask an administrator to extend the granted scopes", Probability: 0.55},
			},
		},
		RateLimited: {
			Type:        RateLimited,
			Category:    CategoryAvailability,
			Severity:    SeverityLow,
			Retryable:   true,
			UserMessage: "Too many requests. Please wait a moment.",
			Resolutions: []Resolution{
				{Action: "wait-retry", Description: "Wait for the rate limit window to pass and retry", Probability: 0.95},
				{Action: "reduce-frequency", Description: "Reduce request frequency", Probability: 0.7},
			},
		},
		NetworkError: {
			Type:        NetworkError,
			Category:    CategoryAvailability,
			Severity:    SeverityMedium,
			Retryable:   true,
			UserMessage: "A network problem interrupted the request.",
			Resolutions: []Resolution{
				{Action: "retry", Description: "Retry the request", Probability: 0.85},
				{Action: "check-connection", Description: "Check the network connection", Probability: 0.6},
			},
		},
		ValidationError: {
			Type:        ValidationError,
			Category:    CategoryValidation,
			Severity:    SeverityLow,
			Retryable:   true,
			UserMessage: "The request was rejected as invalid.",
			Resolutions: []Resolution{
				{Action: "verify-input", Description: "Verify the request parameters", Probability: 0.75},
				{Action: "retry", Description: "Retry once; transient validation states can clear", Probability: 0.4},
			},
		},
		InternalError: {
			Type:        InternalError,
			Category:    CategoryInternal,
			Severity:    SeverityMedium,
			Retryable:   true,
			UserMessage: "An unexpected error occurred.",
			Resolutions: []Resolution{
				{Action: "retry", Description: "Retry the request", Probability: 0.6},
				{Action: "contact-support", Description: "Contact support if the problem persists", Probability: 0.4},
			},
		},
	}
}

// Classifier maps raw failures into the taxonomy and tracks recurring
// failure patterns per subject.
type Classifier struct {
	table  map[ErrorType]Classification
	logger *zap.Logger
	clock  clockwork.Clock

	mu         sync.Mutex
	history    map[string][]occurrence
	maxHistory int
	maxAge     time.Duration // 0 means unbounded
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Classifier) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock sets the clock used to timestamp history records.
func WithClock(clock clockwork.Clock) Option {
	return func(c *Classifier) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithEntry adds or overrides a classification table entry.
func WithEntry(entry Classification) Option {
	return func(c *Classifier) {
		c.table[entry.Type] = entry
	}
}

// WithHistoryLimit bounds the per-subject history length.
func WithHistoryLimit(n int) Option {
	return func(c *Classifier) {
		if n > 0 {
			c.maxHistory = n
		}
	}
}

// WithHistoryMaxAge drops history records older than d as new ones are
// recorded, independent of any query window.
func WithHistoryMaxAge(d time.Duration) Option {
	return func(c *Classifier) {
		if d > 0 {
			c.maxAge = d
		}
	}
}

// New creates a Classifier with the default taxonomy table.
func New(opts ...Option) *Classifier {
	c := &Classifier{
		table:      defaultTable(),
		logger:     zap.NewNop(),
		clock:      clockwork.NewRealClock(),
		history:    make(map[string][]occurrence),
		maxHistory: 100,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Lookup returns the table entry for an error type. Unknown types fall
// back to the internal-error entry.
func (c *Classifier) Lookup(t ErrorType) Classification {
	if cl, ok := c.table[t]; ok {
		return cl
	}
	return c.table[InternalError]
}

// Retryable reports whether the error type is retryable.
func (c *Classifier) Retryable(t ErrorType) bool {
	return c.Lookup(t).Retryable
}

// Classify maps a raw failure into its Classification and records the
// occurrence for pattern detection. Unknown error shapes classify to the
// internal-error entry.
func (c *Classifier) Classify(err error, cctx Context) Classification {
	t := c.typeOf(err)
	cl := c.Lookup(t)

	if cctx.Subject != "" {
		c.record(cctx.Subject, cl.Type)
	}

	c.logger.Debug("classified failure",
		zap.String("type", string(cl.Type)),
		zap.String("category", string(cl.Category)),
		zap.String("severity", cl.Severity.String()),
		zap.Bool("retryable", cl.Retryable),
		zap.String("subject", cctx.Subject),
		zap.String("operation", cctx.Operation),
	)

	return cl
}

// typeOf resolves the taxonomy type for a raw error.
func (c *Classifier) typeOf(err error) ErrorType {
	if err == nil {
		return InternalError
	}

	var typed *Error
	if errors.As(err, &typed) {
		return typed.Type
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return NetworkError
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return NetworkError
	}

	return InternalError
}
