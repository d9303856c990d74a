package colony

import (
	"fmt"
	"strconv"
	"time"
)

// ErrValidation is returned for missing parameters, empty prompts, unknown
// tools, and malformed input. No partial state is persisted when it surfaces.
type ErrValidation struct {
	Field  string
	Reason string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ErrNotFound is returned when a named record does not exist.
type ErrNotFound struct {
	Kind string // "agent", "role", "conversation", "tool"
	Key  string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.Key)
}

// ErrStorage wraps a storage-layer failure. Retryable marks busy/lock
// contention that survived the store's own bounded backoff.
type ErrStorage struct {
	Op        string
	Retryable bool
	Err       error
}

func (e *ErrStorage) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *ErrStorage) Unwrap() error { return e.Err }

// ErrBus wraps a dispatch-bus transport failure. Publish-ack timeouts are
// retryable; the caller may resubmit the same request.
type ErrBus struct {
	Op        string
	Retryable bool
	Err       error
}

func (e *ErrBus) Error() string {
	return fmt.Sprintf("bus %s: %v", e.Op, e.Err)
}

func (e *ErrBus) Unwrap() error { return e.Err }

// ErrModel is a model-provider failure that is not an HTTP status error
// (marshalling, malformed response body, unusable completion).
type ErrModel struct {
	Provider string
	Message  string
}

func (e *ErrModel) Error() string {
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// ErrHTTP is a non-200 response from an HTTP collaborator (model provider or
// registry). RetryAfter carries the parsed Retry-After header when present.
type ErrHTTP struct {
	Status     int
	Body       string
	RetryAfter time.Duration
}

func (e *ErrHTTP) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}

// ErrAgentBusy is returned when removal is attempted for an agent whose
// identity is still on some live call-stack.
type ErrAgentBusy struct {
	Key AgentKey
}

func (e *ErrAgentBusy) Error() string {
	return fmt.Sprintf("Cannot remove agent still in call-stack: %s", e.Key)
}

// ParseRetryAfter parses a Retry-After header value: either delay seconds
// or an HTTP date. Returns 0 when the value is absent or unparseable.
func ParseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := time.Parse(time.RFC1123, v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
