package chat

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// OutboundOperation identifies one outbound dispatcher operation type.
type OutboundOperation string

const (
	OutboundOperationSendMessage    OutboundOperation = "send_message"
	OutboundOperationEditMessage    OutboundOperation = "edit_message"
	OutboundOperationDeleteMessage  OutboundOperation = "delete_message"
	OutboundOperationAnswerCallback OutboundOperation = "answer_callback"
)

// OutboundErrorKind describes coarse-grained outbound failure classification.
type OutboundErrorKind string

const (
	// OutboundErrorKindRateLimited indicates platform-side rate limiting.
	OutboundErrorKindRateLimited OutboundErrorKind = "rate_limited"
	// OutboundErrorKindNotModified indicates an edit that would not change the message.
	OutboundErrorKindNotModified OutboundErrorKind = "not_modified"
	// OutboundErrorKindTemporary indicates retryable transient failure.
	OutboundErrorKindTemporary OutboundErrorKind = "temporary"
	// OutboundErrorKindPermanent indicates non-retryable permanent failure.
	OutboundErrorKindPermanent OutboundErrorKind = "permanent"
	// OutboundErrorKindUnknown indicates unclassified failure.
	OutboundErrorKindUnknown OutboundErrorKind = "unknown"
)

// OutboundError carries structured metadata for one outbound operation failure.
type OutboundError struct {
	Operation OutboundOperation
	Kind      OutboundErrorKind
	Platform  Platform
	// RetryAfter is the platform-suggested delay for rate-limited failures when known.
	RetryAfter time.Duration
	// Code is the platform RPC/status code when known.
	Code int
	// Type is the platform error type token when known, e.g. MESSAGE_NOT_MODIFIED.
	Type  string
	Cause error
}

// Error returns one operator-readable failure summary.
func (e *OutboundError) Error() string {
	if e == nil {
		return "<nil>"
	}

	var builder strings.Builder
	builder.WriteString("outbound ")
	if e.Operation != "" {
		builder.WriteString(string(e.Operation))
	} else {
		builder.WriteString("operation")
	}
	builder.WriteString(" failed")

	details := make([]string, 0, 5)
	if e.Kind != "" {
		details = append(details, "kind="+string(e.Kind))
	}
	if e.Platform != "" {
		details = append(details, "platform="+string(e.Platform))
	}
	if e.RetryAfter > 0 {
		details = append(details, "retry_after="+e.RetryAfter.String())
	}
	if e.Code != 0 {
		details = append(details, fmt.Sprintf("code=%d", e.Code))
	}
	if e.Type != "" {
		details = append(details, "type="+e.Type)
	}
	if len(details) > 0 {
		builder.WriteString(" (")
		builder.WriteString(strings.Join(details, " "))
		builder.WriteString(")")
	}
	if e.Cause != nil {
		builder.WriteString(": ")
		builder.WriteString(e.Cause.Error())
	}

	return builder.String()
}

// Unwrap returns the wrapped root cause.
func (e *OutboundError) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.Cause
}

// Retryable reports whether repeating the same operation later may succeed.
func (e *OutboundError) Retryable() bool {
	if e == nil {
		return false
	}

	return e.Kind == OutboundErrorKindRateLimited || e.Kind == OutboundErrorKindTemporary
}

// AsOutboundError extracts one OutboundError from wrapped error chains.
func AsOutboundError(err error) (*OutboundError, bool) {
	var outboundErr *OutboundError
	if errors.As(err, &outboundErr) && outboundErr != nil {
		return outboundErr, true
	}

	return nil, false
}

// AsOutboundRateLimit extracts retry delay metadata from outbound rate-limit errors.
//
// It returns (0, true) when rate-limited but no retry-after hint is known.
func AsOutboundRateLimit(err error) (time.Duration, bool) {
	outboundErr, ok := AsOutboundError(err)
	if !ok || outboundErr.Kind != OutboundErrorKindRateLimited {
		return 0, false
	}

	return outboundErr.RetryAfter, true
}

// IsOutboundNotModified reports whether err is a no-op edit rejection.
func IsOutboundNotModified(err error) bool {
	outboundErr, ok := AsOutboundError(err)

	return ok && outboundErr.Kind == OutboundErrorKindNotModified
}
