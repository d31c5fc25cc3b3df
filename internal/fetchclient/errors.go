package fetchclient

import (
	"errors"
	"fmt"
)

// ErrExhaustedRetries wraps the last attempt's error once the retry budget
// is spent. The caller decides whether to requeue the originating task.
var ErrExhaustedRetries = errors.New("exhausted retries")

// BlockedError marks a rate/anti-bot rejection (403 or 429). Retryable, and
// distinct from NetworkError because it escalates proxy health reporting.
type BlockedError struct {
	StatusCode int
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("blocked: status %d", e.StatusCode)
}

// NetworkError covers transport failures and unexpected status codes.
// Retryable.
type NetworkError struct {
	StatusCode int
	Err        error
}

func (e *NetworkError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("network error: %v", e.Err)
	}
	return fmt.Sprintf("network error: status %d", e.StatusCode)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}
