package retry

import (
	"sync"

	"go.uber.org/atomic"

	"goflare.io/warden/classify"
)

// minSamples is how many recorded attempts a type needs before the
// observed ratio replaces its prior.
const minSamples = 10

// priors seed the success probability per error type until enough
// samples accumulate.
var priors = map[classify.ErrorType]float64{
	classify.TokenExpired:           0.9,
	classify.RateLimited:            0.7,
	classify.NetworkError:           0.6,
	classify.ValidationError:        0.5,
	classify.InternalError:          0.3,
	classify.InvalidToken:           0.1,
	classify.InsufficientPermission: 0.1,
	classify.InsufficientScope:      0.1,
}

type typeStats struct {
	attempts  atomic.Int64
	successes atomic.Int64
}

// probabilities tracks the running per-type success/attempt ratio.
type probabilities struct {
	classifier *classify.Classifier

	mu     sync.RWMutex
	byType map[classify.ErrorType]*typeStats
}

func newProbabilities(classifier *classify.Classifier) *probabilities {
	return &probabilities{
		classifier: classifier,
		byType:     make(map[classify.ErrorType]*typeStats),
	}
}

func (p *probabilities) stats(t classify.ErrorType) *typeStats {
	p.mu.RLock()
	s, ok := p.byType[t]
	p.mu.RUnlock()
	if ok {
		return s
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok = p.byType[t]; !ok {
		s = &typeStats{}
		p.byType[t] = s
	}
	return s
}

func (p *probabilities) record(t classify.ErrorType, success bool) {
	s := p.stats(t)
	s.attempts.Inc()
	if success {
		s.successes.Inc()
	}
}

// estimate returns the success probability for the type, using the
// seeded prior until minSamples attempts have been observed.
func (p *probabilities) estimate(t classify.ErrorType) float64 {
	s := p.stats(t)
	attempts := s.attempts.Load()
	if attempts < minSamples {
		if prior, ok := priors[t]; ok {
			return prior
		}
		if p.classifier != nil && !p.classifier.Retryable(t) {
			return 0.1
		}
		return 0.5
	}
	return float64(s.successes.Load()) / float64(attempts)
}

// SuccessProbability returns the estimated probability that an operation
// failing with the given error type eventually succeeds when retried.
func (m *Manager[T]) SuccessProbability(errType classify.ErrorType) float64 {
	return m.probs.estimate(errType)
}
