package retry

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"goflare.io/warden/utils"
)

// State represents the circuit breaker state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// breaker is the per-key circuit state. It is created lazily on the
// first failure and lives until an explicit reset.
type breaker struct {
	state           State
	failureCount    int
	lastFailureTime time.Time
	nextAttemptTime time.Time
	halfOpenSuccess int
	trialInFlight   bool
}

// BreakerSettings configures the circuit breakers shared by one manager.
type BreakerSettings struct {
	// FailureThreshold is the number of consecutive failures in the
	// closed state that trips the circuit.
	FailureThreshold int
	// Cooldown is how long the circuit stays open before a trial call
	// is admitted.
	Cooldown time.Duration
	// HalfOpenSuccesses is the number of consecutive trial successes
	// required to close the circuit again.
	HalfOpenSuccesses int
	// OnStateChange is called after every state transition.
	OnStateChange func(key string, from, to State)
}

func (s *BreakerSettings) withDefaults() {
	if s.FailureThreshold <= 0 {
		s.FailureThreshold = 5
	}
	if s.Cooldown <= 0 {
		s.Cooldown = 30 * time.Second
	}
	if s.HalfOpenSuccesses <= 0 {
		s.HalfOpenSuccesses = 2
	}
}

const breakerShards = 16

type breakerShard struct {
	mu sync.Mutex
	m  map[string]*breaker
}

// BreakerSet holds the per-operation-key circuit breakers. Admission and
// state transitions are atomic per key so two concurrent callers can
// never both be admitted as the trial call.
type BreakerSet struct {
	settings BreakerSettings
	clock    clockwork.Clock
	shards   [breakerShards]*breakerShard
}

// NewBreakerSet creates a BreakerSet.
func NewBreakerSet(settings BreakerSettings, clock clockwork.Clock) *BreakerSet {
	settings.withDefaults()
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	bs := &BreakerSet{settings: settings, clock: clock}
	for i := range bs.shards {
		bs.shards[i] = &breakerShard{m: make(map[string]*breaker)}
	}
	return bs
}

func (bs *BreakerSet) shard(key string) *breakerShard {
	return bs.shards[utils.ShardIndex(breakerShards, key)]
}

// Allow reports whether a call for the key may proceed. When the circuit
// transitions open -> half-open, the admitted call is the single trial
// call and trial is true; the caller must report its outcome with
// OnSuccess or OnFailure.
func (bs *BreakerSet) Allow(key string) (admitted, trial bool) {
	s := bs.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.m[key]
	if !ok {
		return true, false
	}

	now := bs.clock.Now()
	switch b.state {
	case StateClosed:
		return true, false
	case StateOpen:
		if now.Before(b.nextAttemptTime) {
			return false, false
		}
		bs.transition(key, b, StateHalfOpen)
		b.trialInFlight = true
		return true, true
	case StateHalfOpen:
		if b.trialInFlight {
			return false, false
		}
		b.trialInFlight = true
		return true, true
	}
	return false, false
}

// OnSuccess feeds a success signal for the key.
func (bs *BreakerSet) OnSuccess(key string, trial bool) {
	s := bs.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.m[key]
	if !ok {
		return
	}

	switch b.state {
	case StateClosed:
		b.failureCount = 0
	case StateHalfOpen:
		if trial {
			b.trialInFlight = false
		}
		b.halfOpenSuccess++
		if b.halfOpenSuccess >= bs.settings.HalfOpenSuccesses {
			b.failureCount = 0
			bs.transition(key, b, StateClosed)
		}
	}
}

// OnFailure feeds a failure signal for the key, lazily creating the
// breaker on the first failure.
func (bs *BreakerSet) OnFailure(key string, trial bool) {
	s := bs.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	now := bs.clock.Now()

	b, ok := s.m[key]
	if !ok {
		b = &breaker{state: StateClosed}
		s.m[key] = b
	}
	b.lastFailureTime = now

	switch b.state {
	case StateClosed:
		b.failureCount++
		if b.failureCount >= bs.settings.FailureThreshold {
			b.nextAttemptTime = now.Add(bs.settings.Cooldown)
			bs.transition(key, b, StateOpen)
		}
	case StateHalfOpen:
		if trial {
			b.trialInFlight = false
		}
		b.halfOpenSuccess = 0
		b.nextAttemptTime = now.Add(bs.settings.Cooldown)
		bs.transition(key, b, StateOpen)
	}
}

// transition changes the breaker state. Callers hold the shard lock.
func (bs *BreakerSet) transition(key string, b *breaker, to State) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to

	switch to {
	case StateHalfOpen:
		b.halfOpenSuccess = 0
	case StateClosed:
		b.trialInFlight = false
	}

	if bs.settings.OnStateChange != nil {
		bs.settings.OnStateChange(key, from, to)
	}
}

// AbandonTrial releases the in-flight trial slot without recording an
// outcome, used when the trial call was cancelled by the caller.
func (bs *BreakerSet) AbandonTrial(key string) {
	s := bs.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	if b, ok := s.m[key]; ok && b.state == StateHalfOpen {
		b.trialInFlight = false
	}
}

// StateOf returns the current state for the key. Keys that never failed
// report a closed circuit.
func (bs *BreakerSet) StateOf(key string) State {
	s := bs.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	if b, ok := s.m[key]; ok {
		return b.state
	}
	return StateClosed
}

// FailureCount returns the consecutive failure count for the key.
func (bs *BreakerSet) FailureCount(key string) int {
	s := bs.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	if b, ok := s.m[key]; ok {
		return b.failureCount
	}
	return 0
}

// Reset destroys the breaker for the key.
func (bs *BreakerSet) Reset(key string) {
	s := bs.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, key)
}
