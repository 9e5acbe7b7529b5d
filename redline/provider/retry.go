package provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/responses"
)

// RetryPolicy lists the waits before each retry, per error class. A call is
// attempted at most len(waits)+1 times for that class.
type RetryPolicy struct {
	RateLimitWaits   []time.Duration
	ServerErrorWaits []time.Duration
}

// DefaultRetryPolicy waits out a rate-limit window and backs off on 5xx.
var DefaultRetryPolicy = RetryPolicy{
	RateLimitWaits:   []time.Duration{65 * time.Second, 100 * time.Second},
	ServerErrorWaits: []time.Duration{5 * time.Second, 30 * time.Second},
}

// Retry calls fn until it succeeds, fails with a non-retryable error, runs out
// of waits for its error class, or ctx ends.
func Retry[T any](ctx context.Context, policy RetryPolicy, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	rateLimited, serverErrors := 0, 0
	for {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}

		var wait time.Duration
		switch {
		case isRateLimitError(err) && rateLimited < len(policy.RateLimitWaits):
			wait = policy.RateLimitWaits[rateLimited]
			rateLimited++
		case isServerError(err) && serverErrors < len(policy.ServerErrorWaits):
			wait = policy.ServerErrorWaits[serverErrors]
			serverErrors++
		default:
			if attempts := rateLimited + serverErrors; attempts > 0 {
				return zero, fmt.Errorf("after %d retries: %w", attempts, err)
			}
			return zero, err
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, fmt.Errorf("waiting to retry (%v): %w", err, ctx.Err())
		case <-timer.C:
		}
	}
}

// CallWithRetry sends params through the Responses API under DefaultRetryPolicy.
func CallWithRetry(ctx context.Context, client *openai.Client, params responses.ResponseNewParams) (*responses.Response, error) {
	return Retry(ctx, DefaultRetryPolicy, func(ctx context.Context) (*responses.Response, error) {
		return client.Responses.New(ctx, params)
	})
}

func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "too many requests")
}

func isServerError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "500") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "internal server error") ||
		strings.Contains(errStr, "server_error")
}
