package moderation

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// APIErrorKind is the classified shape of a Discord adapter error. The
// coordinator and retry layer match on kinds, never on adapter types.
type APIErrorKind int

const (
	KindUnknown APIErrorKind = iota
	KindForbidden
	KindNotFound
	KindRateLimited
	KindHTTP
	KindTimedOut
	KindCancelled
)

func (k APIErrorKind) String() string {
	switch k {
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindRateLimited:
		return "rate_limited"
	case KindHTTP:
		return "http"
	case KindTimedOut:
		return "timed_out"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// APIError is the sum type every adapter call resolves its failures into.
type APIError struct {
	Kind       APIErrorKind
	Status     int           // HTTP status when Kind is KindHTTP or KindRateLimited
	RetryAfter time.Duration // server-supplied wait, only for KindRateLimited
	Message    string
}

func (e *APIError) Error() string {
	switch e.Kind {
	case KindHTTP:
		return fmt.Sprintf("%s status=%d: %s", e.Kind, e.Status, e.Message)
	case KindRateLimited:
		return fmt.Sprintf("%s retry_after=%s: %s", e.Kind, e.RetryAfter, e.Message)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
}

// Retryable reports whether the error is transient. Classification is by
// status code: 429 and 5xx retry, other 4xx do not. Timeouts within an api
// budget retry; cancellation never does.
func (e *APIError) Retryable() bool {
	switch e.Kind {
	case KindRateLimited, KindTimedOut:
		return true
	case KindHTTP:
		return e.Status >= 500
	default:
		return false
	}
}

// asAPIError unwraps err to an *APIError, converting bare context errors so
// that classification stays uniform after deadline wrappers.
func asAPIError(err error) (*APIError, bool) {
	var ae *APIError
	if errors.As(err, &ae) {
		return ae, true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &APIError{Kind: KindTimedOut, Message: err.Error()}, true
	}
	if errors.Is(err, context.Canceled) {
		return &APIError{Kind: KindCancelled, Message: err.Error()}, true
	}
	return nil, false
}

// FailureKind is the outcome taxonomy the coordinator reports to moderators
// and the audit monitor.
type FailureKind int

const (
	FailureAuthorization FailureKind = iota
	FailureBotCapability
	FailureTargetState
	FailureTransient
	FailureCircuitOpen
	FailureInvariant
	FailureInfrastructure
	FailureCancelled
)

func (k FailureKind) String() string {
	switch k {
	case FailureAuthorization:
		return "authorization"
	case FailureBotCapability:
		return "bot_capability"
	case FailureTargetState:
		return "target_state"
	case FailureTransient:
		return "transient"
	case FailureCircuitOpen:
		return "circuit_open"
	case FailureInvariant:
		return "invariant"
	case FailureInfrastructure:
		return "infrastructure"
	case FailureCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// ActionError carries a classified failure out of a pipeline phase together
// with a message suitable for showing to the moderator.
type ActionError struct {
	Kind        FailureKind
	Phase       string
	UserMessage string
	Err         error
}

func (e *ActionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s failure in %s: %v", e.Kind, e.Phase, e.Err)
	}
	return fmt.Sprintf("%s failure in %s: %s", e.Kind, e.Phase, e.UserMessage)
}

func (e *ActionError) Unwrap() error { return e.Err }

func newActionError(kind FailureKind, phase, userMessage string, err error) *ActionError {
	return &ActionError{Kind: kind, Phase: phase, UserMessage: userMessage, Err: err}
}
