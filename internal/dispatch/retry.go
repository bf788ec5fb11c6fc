package dispatch

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/rendis/tabflow/pkg/schema"
)

func causeFlowError(fe *schema.FlowError) *schema.FlowError {
	var next *schema.FlowError
	if fe.Cause != nil && errors.As(fe.Cause, &next) {
		return next
	}
	return nil
}

// IsRetryableError classifies whether a failed attempt may be retried.
// Timeouts and network errors retry; caller cancellation and FlowErrors with
// non-retryable codes do not. Unclassified errors retry and are bounded by
// the step's retry policy.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var fe *schema.FlowError
	if errors.As(err, &fe) {
		// A wrapped non-retryable cause, such as a policy denial behind a
		// NavigationError, keeps the whole chain non-retryable.
		for fe != nil {
			if !fe.IsRetryable() {
				return false
			}
			fe = causeFlowError(fe)
		}
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, p := range []string{"permission denied", "unauthorized", "forbidden", "invalid"} {
		if strings.Contains(msg, p) {
			return false
		}
	}
	return true
}

// ComputeBackoff returns the delay before retry number attempt (0-based).
// Supports none, constant, linear and exponential backoff capped at MaxDelay.
func ComputeBackoff(policy *schema.RetryPolicy, attempt int) time.Duration {
	if policy == nil || policy.Delay == "" || policy.Backoff == "none" {
		return 0
	}
	base, err := time.ParseDuration(policy.Delay)
	if err != nil || base <= 0 {
		return 0
	}

	var delay time.Duration
	switch policy.Backoff {
	case "exponential":
		delay = base
		for i := 0; i < attempt && delay < time.Hour; i++ {
			delay *= 2
		}
	case "linear":
		delay = base * time.Duration(attempt+1)
	default:
		delay = base
	}

	if policy.MaxDelay != "" {
		if maxDelay, err := time.ParseDuration(policy.MaxDelay); err == nil && delay > maxDelay {
			delay = maxDelay
		}
	}
	return delay
}

// WaitForBackoff sleeps for delay or returns ctx.Err() if ctx ends first.
func WaitForBackoff(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
