// Package resilience guards calls to external market-data services with a
// circuit breaker and retry policy.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrCircuitOpen is returned when the breaker rejects a call
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State represents the current state of the circuit breaker
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig holds configuration for the circuit breaker
type BreakerConfig struct {
	FailureThreshold int           `json:"failure_threshold"` // Number of failures before opening
	SuccessThreshold int           `json:"success_threshold"` // Number of successes to close from half-open
	Timeout          time.Duration `json:"timeout"`           // Time to wait before trying half-open
	MaxRequests      int           `json:"max_requests"`      // Max requests allowed in half-open state
	ResetTimeout     time.Duration `json:"reset_timeout"`     // Time to reset failure count
}

// BreakerStats holds statistics for the circuit breaker
type BreakerStats struct {
	TotalRequests      int64     `json:"total_requests"`
	SuccessfulRequests int64     `json:"successful_requests"`
	FailedRequests     int64     `json:"failed_requests"`
	RejectedRequests   int64     `json:"rejected_requests"`
	LastFailureTime    time.Time `json:"last_failure_time"`
	LastSuccessTime    time.Time `json:"last_success_time"`
	StateChanges       int64     `json:"state_changes"`
}

// Breaker implements the closed/open/half-open circuit breaker pattern
type Breaker struct {
	name            string
	config          BreakerConfig
	logger          *logrus.Logger
	now             func() time.Time
	mu              sync.Mutex
	state           State
	failureCount    int
	successCount    int
	lastFailureTime time.Time
	lastStateChange time.Time
	requestCount    int
	stats           BreakerStats
}

// NewBreaker creates a new circuit breaker
func NewBreaker(name string, config BreakerConfig, logger *logrus.Logger) *Breaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 2
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxRequests <= 0 {
		config.MaxRequests = 5
	}
	if config.ResetTimeout <= 0 {
		config.ResetTimeout = 120 * time.Second
	}

	return &Breaker{
		name:            name,
		config:          config,
		logger:          logger,
		now:             time.Now,
		state:           Closed,
		lastStateChange: time.Now(),
	}
}

// Execute runs fn with circuit breaker protection. The lock is not held while
// fn runs, so slow calls do not serialize unrelated callers.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	b.mu.Lock()
	b.stats.TotalRequests++
	if !b.allow() {
		b.stats.RejectedRequests++
		b.logger.WithFields(logrus.Fields{
			"circuit_breaker": b.name,
			"state":           b.state.String(),
			"failure_count":   b.failureCount,
		}).Warn("Circuit breaker is open, rejecting request")
		b.mu.Unlock()
		return ErrCircuitOpen
	}
	b.mu.Unlock()

	start := b.now()
	err := fn(ctx)
	duration := b.now().Sub(start)

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.onFailure(err, duration)
	} else {
		b.onSuccess(duration)
	}
	return err
}

// allow determines if the breaker should let a call through. Caller holds mu.
func (b *Breaker) allow() bool {
	now := b.now()

	switch b.state {
	case Closed:
		if !b.lastFailureTime.IsZero() && now.Sub(b.lastFailureTime) > b.config.ResetTimeout {
			b.failureCount = 0
		}
		return true

	case Open:
		if now.Sub(b.lastStateChange) > b.config.Timeout {
			b.setState(HalfOpen)
			b.requestCount = 1
			b.successCount = 0
			return true
		}
		return false

	case HalfOpen:
		if b.requestCount < b.config.MaxRequests {
			b.requestCount++
			return true
		}
		return false

	default:
		return false
	}
}

func (b *Breaker) onSuccess(duration time.Duration) {
	b.stats.SuccessfulRequests++
	b.stats.LastSuccessTime = b.now()

	switch b.state {
	case Closed:
		b.failureCount = 0

	case HalfOpen:
		b.successCount++
		if b.successCount >= b.config.SuccessThreshold {
			b.setState(Closed)
			b.failureCount = 0
			b.successCount = 0
			b.requestCount = 0
		}
	}

	b.logger.WithFields(logrus.Fields{
		"circuit_breaker": b.name,
		"state":           b.state.String(),
		"duration_ms":     duration.Milliseconds(),
	}).Debug("Circuit breaker: successful execution")
}

func (b *Breaker) onFailure(err error, duration time.Duration) {
	b.stats.FailedRequests++
	b.stats.LastFailureTime = b.now()
	b.lastFailureTime = b.now()

	switch b.state {
	case Closed:
		b.failureCount++
		if b.failureCount >= b.config.FailureThreshold {
			b.setState(Open)
		}

	case HalfOpen:
		// any failure while probing reopens the circuit
		b.setState(Open)
		b.failureCount++
		b.successCount = 0
		b.requestCount = 0
	}

	b.logger.WithFields(logrus.Fields{
		"circuit_breaker": b.name,
		"state":           b.state.String(),
		"error":           err.Error(),
		"duration_ms":     duration.Milliseconds(),
		"failure_count":   b.failureCount,
	}).Warn("Circuit breaker: failed execution")
}

func (b *Breaker) setState(newState State) {
	if b.state == newState {
		return
	}
	oldState := b.state
	b.state = newState
	b.lastStateChange = b.now()
	b.stats.StateChanges++

	b.logger.WithFields(logrus.Fields{
		"circuit_breaker": b.name,
		"old_state":       oldState.String(),
		"new_state":       newState.String(),
		"failure_count":   b.failureCount,
	}).Info("Circuit breaker state changed")
}

// State returns the current state of the circuit breaker
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Stats returns the current statistics
func (b *Breaker) Stats() BreakerStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

// Name returns the breaker name
func (b *Breaker) Name() string {
	return b.name
}

// Reset manually resets the circuit breaker to closed state
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.setState(Closed)
	b.failureCount = 0
	b.successCount = 0
	b.requestCount = 0

	b.logger.WithField("circuit_breaker", b.name).Info("Circuit breaker manually reset")
}
