package llm

import (
	"errors"
	"fmt"
	"time"
)

// The upstream API reports failures in loose shapes. They are decoded
// once, at this boundary, into a closed set of error kinds; callers
// switch on these and never inspect raw responses.

// ErrTimeout reports that the upstream call exceeded the request
// deadline.
var ErrTimeout = errors.New("llm request timed out")

// HTTPError is a non-2xx upstream response with its decoded message.
type HTTPError struct {
	Status  int
	Message string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("llm api error: status %d: %s", e.Status, e.Message)
}

// QuotaExceededError reports that the identity used up its daily
// question budget.
type QuotaExceededError struct {
	ResetAt time.Time
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("llm quota exceeded, resets at %s", e.ResetAt.Format(time.Kitchen))
}

// NetworkError wraps transport-level failures (DNS, refused
// connection, broken pipe).
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("llm request failed: %v", e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}
