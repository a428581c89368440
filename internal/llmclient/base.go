package llmclient

import (
	"context"
	"time"
)

// baseClient factors out the retry-budget bookkeeping shared by every
// backend, grounded on the teacher's BaseProvider embedding pattern.
type baseClient struct {
	name       string
	maxRetries int
	retryDelay time.Duration
}

func newBaseClient(name string, maxRetries int, retryDelay time.Duration) baseClient {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelay <= 0 {
		retryDelay = time.Second
	}
	return baseClient{name: name, maxRetries: maxRetries, retryDelay: retryDelay}
}

// retry runs op up to maxRetries+1 times with exponential backoff, stopping
// early when isRetryable reports false for the latest error or ctx is
// cancelled. It returns the last error seen if every attempt fails.
func (b baseClient) retry(ctx context.Context, isRetryable func(error) bool, op func() error) error {
	var lastErr error
	for attempt := 0; attempt <= b.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(b.retryDelay * time.Duration(1<<(attempt-1))):
			}
		}

		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isRetryable(lastErr) {
			return lastErr
		}
	}
	return lastErr
}
