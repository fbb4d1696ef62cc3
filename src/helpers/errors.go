package helpers

import (
	"fmt"
	"time"
)

// -----------------------------------------------------------------------------
// Custom Error Types
// -----------------------------------------------------------------------------

type ObserverError struct {
	Message string
	Cause   error
}

func (e *ObserverError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ObserverError) Unwrap() error {
	return e.Cause
}

// Distinct error classes for type assertions.
type ResolutionError struct{ ObserverError }
type TransportError struct{ ObserverError }
type ValidationError struct{ ObserverError }

// -----------------------------------------------------------------------------

// NewResolutionError wraps a reference-resolver failure.
func NewResolutionError(message string, cause error) *ResolutionError {
	return &ResolutionError{ObserverError{Message: message, Cause: cause}}
}

// NewTransportError wraps a subscribe/fetch failure.
func NewTransportError(message string, cause error) *TransportError {
	return &TransportError{ObserverError{Message: message, Cause: cause}}
}

// NewValidationError reports invalid configuration.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{ObserverError{Message: message}}
}

// -----------------------------------------------------------------------------
// RPC errors
// -----------------------------------------------------------------------------

// RPC failure classes. Timeout-class failures always surface to the owner;
// general failures may be withheld while sibling requests are in flight.
const (
	RpcStatusRequestTimeout = 408
	RpcStatusBadGateway     = 502
	RpcStatusGatewayTimeout = 504
)

// RpcError is a classified remote-command failure.
type RpcError struct {
	Status     int
	StatusText string

	// Detail is structured error text the transport parsed out of the
	// failure payload, appended to the formatted message.
	Detail string
}

func (e *RpcError) Error() string {
	if e.IsTimeout() {
		return "Request timed out."
	}
	text := fmt.Sprintf("Error: %d %s", e.Status, e.StatusText)
	if e.Detail != "" {
		text += "\n" + e.Detail
	}
	return text
}

// IsTimeout reports whether the failure is timeout-class.
func (e *RpcError) IsTimeout() bool {
	return e.Status == RpcStatusRequestTimeout || e.Status == RpcStatusGatewayTimeout
}

// -----------------------------------------------------------------------------
// Retry Logic
// -----------------------------------------------------------------------------

// RetryWithBackoff attempts to execute the operation up to maxRetries times with exponential backoff.
func RetryWithBackoff(log interface{ Warning(string, ...interface{}) }, operation string, maxRetries int, baseDelay time.Duration, fn func() (interface{}, error)) (interface{}, error) {
	var lastErr error

	for attempt := 0; attempt < maxRetries; attempt++ {
		res, err := fn()
		if err == nil {
			return res, nil
		}

		lastErr = err
		if attempt == maxRetries-1 {
			break
		}

		delay := baseDelay * (1 << attempt)
		log.Warning("Attempt %d/%d failed for %s: %v. Retrying in %v", attempt+1, maxRetries, operation, err, delay)
		time.Sleep(delay)
	}

	return nil, lastErr
}
