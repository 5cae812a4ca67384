package session

import "fmt"

// AuthError indicates the server rejected the credential or the session
// request itself. Callers should treat it as "return to start" rather than
// retrying with the same credential.
type AuthError struct {
	StatusCode int
	Reason     string
}

func (e *AuthError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("session auth rejected (status %d)", e.StatusCode)
	}
	return fmt.Sprintf("session auth rejected (status %d): %s", e.StatusCode, e.Reason)
}

// RateLimitError indicates a 429 from the session endpoints. It is transient
// and carries no state change for the caller.
type RateLimitError struct {
	Reason            string
	RetryAfterSeconds int
}

func (e *RateLimitError) Error() string {
	if e.RetryAfterSeconds > 0 {
		return fmt.Sprintf("rate limited: %s (retry after %ds)", e.Reason, e.RetryAfterSeconds)
	}
	return fmt.Sprintf("rate limited: %s", e.Reason)
}

// NetworkError wraps transport-level failures (DNS, refused connections,
// timeouts) so callers can distinguish them from protocol rejections.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network failure during %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }
