package breaker

import (
	"time"

	"github.com/sony/gobreaker"
)

// New returns a breaker that opens after three failures inside a ten second window
// and probes again after a minute. isSuccessful decides which errors still prove
// the remote side is healthy; nil treats every error as a failure.
func New(name string, isSuccessful func(err error) bool) *gobreaker.CircuitBreaker {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    10 * time.Second,
		Timeout:     1 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.TotalFailures >= 3
		},
		IsSuccessful: isSuccessful,
	}
	return gobreaker.NewCircuitBreaker(settings)
}
