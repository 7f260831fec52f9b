package services

import (
	"github.com/irfndi/sentio-go/internal/models"
)

const breakerWarningShare = 0.8

// BreakerObserver is told about every daily loss breaker transition
type BreakerObserver func(from, to models.CircuitBreakerState, lossFraction float64)

// LossCircuitBreaker blocks new trades once the day's realized loss crosses
// a fraction of the day's starting value. TRIPPED is sticky: only Reset,
// called from RiskManager.ResetDailyMetrics, clears it.
type LossCircuitBreaker struct {
	threshold float64
	state     models.CircuitBreakerState
	observer  BreakerObserver
}

// NewLossCircuitBreaker creates a breaker tripping at threshold (e.g. 0.05).
func NewLossCircuitBreaker(threshold float64) *LossCircuitBreaker {
	return &LossCircuitBreaker{threshold: threshold, state: models.CircuitNormal}
}

// Evaluate moves the breaker for the current daily loss and returns the
// loss fraction it used. WARNING starts at 80% of the threshold.
func (b *LossCircuitBreaker) Evaluate(dailyPnL, dailyStartValue float64) float64 {
	if dailyStartValue <= 0 {
		return 0
	}
	loss := 0.0
	if dailyPnL < 0 {
		loss = -dailyPnL / dailyStartValue
	}

	if b.state == models.CircuitTripped {
		return loss
	}

	next := models.CircuitNormal
	switch {
	case loss >= b.threshold:
		next = models.CircuitTripped
	case loss >= breakerWarningShare*b.threshold:
		next = models.CircuitWarning
	}
	b.transition(next, loss)
	return loss
}

// Reset returns the breaker to NORMAL.
func (b *LossCircuitBreaker) Reset() {
	b.transition(models.CircuitNormal, 0)
}

// State returns the current breaker state.
func (b *LossCircuitBreaker) State() models.CircuitBreakerState {
	return b.state
}

func (b *LossCircuitBreaker) transition(next models.CircuitBreakerState, loss float64) {
	if next == b.state {
		return
	}
	prev := b.state
	b.state = next
	if b.observer != nil {
		b.observer(prev, next, loss)
	}
}
