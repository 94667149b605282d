// Package errors provides the classified error vocabulary used at the
// PubSub control-plane boundary. Every public pubsub operation returns
// an error carrying exactly one Kind so callers can dispatch on it
// with errors.As instead of string matching.
package errors

import (
	"errors"
	"fmt"
	"time"

	"github.com/gauravks/open62541/pkg/retry"
)

// Kind classifies an error at the control-plane boundary.
type Kind string

// The nine boundary kinds. These map directly onto OPC UA status code
// families (Bad_InvalidArgument, Bad_NotFound, ...) without carrying
// the numeric status codes themselves — callers that need the wire
// status code translate Kind at the edge.
const (
	KindInvalidArgument   Kind = "invalid_argument"
	KindNotFound          Kind = "not_found"
	KindOutOfMemory       Kind = "out_of_memory"
	KindNotSupported      Kind = "not_supported"
	KindConfigurationErr  Kind = "configuration_error"
	KindInternalError     Kind = "internal_error"
	KindResourceUnavail   Kind = "resource_unavailable"
	KindConnectionClosed  Kind = "connection_closed"
	KindShutdown          Kind = "shutdown"
)

// String implements fmt.Stringer.
func (k Kind) String() string { return string(k) }

// Error is a classified error carrying a Kind plus the component and
// operation that produced it. The wrapped error, if any, is reachable
// through Unwrap for errors.Is/errors.As chains.
type Error struct {
	Kind      Kind
	Component string
	Operation string
	Message   string
	Err       error
}

// Error implements the error interface with the standardized pattern
// "component.operation: message failed: wrapped" (wrapped and message
// are each optional).
func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s.%s: %s failed: %v", e.Component, e.Operation, e.Message, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s.%s: %s", e.Component, e.Operation, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s.%s: %v", e.Component, e.Operation, e.Err)
	default:
		return fmt.Sprintf("%s.%s: %s", e.Component, e.Operation, e.Kind)
	}
}

// Unwrap exposes the wrapped error for errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.Err }

// New creates a classified error with no wrapped cause.
func New(kind Kind, component, operation, message string) *Error {
	return &Error{Kind: kind, Component: component, Operation: operation, Message: message}
}

// Wrap classifies err under kind, tagging it with the component and
// operation that observed the failure. Returns nil for a nil err so
// call sites can write `return errors.Wrap(err, ...)` unconditionally.
func Wrap(err error, kind Kind, component, operation string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Component: component, Operation: operation, Err: err}
}

// KindOf extracts the Kind carried by err, if any is present in its
// chain. Ok is false for unclassified errors (e.g. raw codec errors
// from third-party libraries that a caller has not yet wrapped).
func KindOf(err error) (Kind, bool) {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind, true
	}
	return "", false
}

// Is reports whether err carries the given Kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// IsRetryable reports whether a reconnect/backoff loop should retry
// after this error. Only ResourceUnavailable (the cascaded cause for
// a transport hiccup) and ConnectionClosed are considered transient;
// everything else — bad config, programming errors, out of memory —
// is not something retrying will fix.
func IsRetryable(err error) bool {
	k, ok := KindOf(err)
	if !ok {
		return false
	}
	return k == KindResourceUnavail || k == KindConnectionClosed
}

// ToRetryConfig adapts a Kind-aware retry budget to pkg/retry's Config,
// mirroring the open62541 Connect() backoff used while a Connection
// sits in ERROR.
func ToRetryConfig(maxAttempts int, initialDelay, maxDelay time.Duration) retry.Config {
	return retry.Config{
		MaxAttempts:  maxAttempts,
		InitialDelay: initialDelay,
		MaxDelay:     maxDelay,
		Multiplier:   2.0,
		AddJitter:    true,
	}
}
