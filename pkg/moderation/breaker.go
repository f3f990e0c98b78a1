package moderation

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned without invoking the adapter while a class
// breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker open")

// BreakerState is the classic three-state model.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes one operation class.
type BreakerConfig struct {
	FailureThreshold int           // consecutive failures to trip
	SuccessThreshold int           // consecutive half-open successes to close
	OpenDuration     time.Duration // dwell time before the half-open trial
}

// Breaker is a per-class circuit breaker. Transient failures count against
// the failure threshold; permanent errors pass through without touching the
// breaker state since they say nothing about service health.
type Breaker struct {
	cfg    BreakerConfig
	onTrip func()

	mu          sync.Mutex
	state       BreakerState
	failures    int
	successes   int
	openedAt    time.Time
	generation  uint64
	probeActive bool
}

// NewBreaker creates a closed breaker. onTrip may be nil; it fires once per
// transition into Open.
func NewBreaker(cfg BreakerConfig, onTrip func()) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 2
	}
	if cfg.OpenDuration <= 0 {
		cfg.OpenDuration = 30 * time.Second
	}
	return &Breaker{cfg: cfg, onTrip: onTrip}
}

// State reports the current state, advancing Open to HalfOpen when the dwell
// time has elapsed.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advanceLocked(time.Now())
	return b.state
}

func (b *Breaker) advanceLocked(now time.Time) {
	if b.state == BreakerOpen && now.Sub(b.openedAt) >= b.cfg.OpenDuration {
		b.state = BreakerHalfOpen
		b.successes = 0
		b.probeActive = false
	}
}

// Allow decides whether a call may proceed. In HalfOpen a single probe is
// admitted at a time. The returned generation must be passed back to
// Record so that results from before a state change are discarded.
func (b *Breaker) Allow() (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advanceLocked(time.Now())

	switch b.state {
	case BreakerOpen:
		return 0, ErrCircuitOpen
	case BreakerHalfOpen:
		if b.probeActive {
			return 0, ErrCircuitOpen
		}
		b.probeActive = true
	}
	return b.generation, nil
}

// Record feeds a call outcome back. transientFailure is true only for
// classified transient errors; success and permanent errors both pass
// success=true semantics for the failure streak, but only success counts
// toward closing from HalfOpen.
func (b *Breaker) Record(generation uint64, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if generation != b.generation {
		return
	}
	if b.state == BreakerHalfOpen {
		b.probeActive = false
	}

	if success {
		b.failures = 0
		if b.state == BreakerHalfOpen {
			b.successes++
			if b.successes >= b.cfg.SuccessThreshold {
				b.toStateLocked(BreakerClosed)
			}
		}
		return
	}

	switch b.state {
	case BreakerHalfOpen:
		b.toStateLocked(BreakerOpen)
	case BreakerClosed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.toStateLocked(BreakerOpen)
		}
	}
}

func (b *Breaker) toStateLocked(s BreakerState) {
	b.generation++
	b.failures = 0
	b.successes = 0
	b.probeActive = false
	b.state = s
	if s == BreakerOpen {
		b.openedAt = time.Now()
		if b.onTrip != nil {
			b.onTrip()
		}
	}
}
