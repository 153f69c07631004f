package exchange

import (
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/ajitpratap0/tradefleet/internal/metrics"
)

// Circuit breaker thresholds for venue calls
const (
	breakerMinRequests     = 5                // Minimum requests before tripping
	breakerFailureRatio    = 0.6              // Failure ratio threshold (60%)
	breakerOpenTimeout     = 30 * time.Second // How long circuit stays open
	breakerHalfOpenMaxReqs = 3                // Max requests in half-open state
	breakerCountInterval   = 10 * time.Second // Window for counting failures
)

// newBreaker builds the venue circuit breaker. Only transient and rate
// errors count as failures; filter and permission rejections are the
// caller's problem, not the venue's health.
func newBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: breakerHalfOpenMaxReqs,
		Interval:    breakerCountInterval,
		Timeout:     breakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= breakerMinRequests && failureRatio >= breakerFailureRatio
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			switch KindOf(err) {
			case KindTransient, KindRate:
				return false
			}
			return true
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.ExchangeBreakerState.Set(breakerStateValue(to))
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Exchange circuit breaker state changed")
		},
	})
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateOpen:
		return 1
	case gobreaker.StateHalfOpen:
		return 2
	default:
		return 0
	}
}
