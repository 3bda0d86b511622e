package putio

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/putdotio/go-putio"
	gobreaker "github.com/sony/gobreaker/v2"
)

// BreakerConfig controls when calls to put.io stop being attempted.
type BreakerConfig struct {
	FailureThreshold uint32
	Timeout          time.Duration
}

func newBreaker(cfg BreakerConfig, logger *slog.Logger) *gobreaker.CircuitBreaker[any] {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}

	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	return gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "putio",
		MaxRequests: 1,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		IsSuccessful: func(err error) bool {
			return !isHostFault(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
}

// isHostFault reports whether err says something about put.io's health.
// Missing files and rejected requests are answers, not outages.
func isHostFault(err error) bool {
	if err == nil || errors.Is(err, errNoSuchFile) || errors.Is(err, context.Canceled) {
		return false
	}

	var apiErr *putio.ErrorResponse
	if errors.As(err, &apiErr) && apiErr.Response != nil {
		return apiErr.Response.StatusCode >= http.StatusInternalServerError ||
			apiErr.Response.StatusCode == http.StatusTooManyRequests
	}

	return true
}
