package errors

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCode represents a specific error type for better error handling
type ErrorCode string

const (
	// Call lifecycle errors
	ErrCodeServiceNotFound   ErrorCode = "SERVICE_NOT_FOUND"
	ErrCodeNoHealthyInstance ErrorCode = "NO_HEALTHY_INSTANCE"
	ErrCodeCircuitOpen       ErrorCode = "CIRCUIT_OPEN"
	ErrCodeCallFailed        ErrorCode = "CALL_FAILED"
	ErrCodeCallTimeout       ErrorCode = "CALL_TIMEOUT"
	ErrCodeRateLimited       ErrorCode = "RATE_LIMITED"

	// Non-fatal errors
	ErrCodeHealthCheckFailed ErrorCode = "HEALTH_CHECK_FAILED"

	// Configuration errors
	ErrCodeInvalidService  ErrorCode = "INVALID_SERVICE"
	ErrCodeInvalidStrategy ErrorCode = "INVALID_STRATEGY"
	ErrCodeConfigLoad      ErrorCode = "CONFIG_LOAD_FAILED"
)

// MeshError represents a structured error with context
type MeshError struct {
	Code      ErrorCode              `json:"code"`
	Service   string                 `json:"service,omitempty"`
	Component string                 `json:"component,omitempty"`
	Message   string                 `json:"message"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Cause     error                  `json:"-"`
}

// Error implements the error interface
func (e *MeshError) Error() string {
	if e.Service != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Service, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *MeshError) Unwrap() error {
	return e.Cause
}

// Is matches against another MeshError by code
func (e *MeshError) Is(target error) bool {
	if t, ok := target.(*MeshError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithMetadata adds metadata to the error
func (e *MeshError) WithMetadata(key string, value interface{}) *MeshError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// HTTPStatusCode returns the status a route handler should map this error to.
// The mesh never writes HTTP responses itself; this is a convenience for the
// route layer.
func (e *MeshError) HTTPStatusCode() int {
	switch e.Code {
	case ErrCodeServiceNotFound:
		return 404
	case ErrCodeRateLimited:
		return 429
	case ErrCodeCircuitOpen, ErrCodeNoHealthyInstance:
		return 503
	case ErrCodeCallTimeout:
		return 504
	case ErrCodeCallFailed:
		return 502
	case ErrCodeInvalidService, ErrCodeInvalidStrategy:
		return 400
	default:
		return 500
	}
}

// New creates a new MeshError
func New(code ErrorCode, component, message string) *MeshError {
	return &MeshError{
		Code:      code,
		Component: component,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// Wrap wraps an existing error with MeshError structure
func Wrap(err error, code ErrorCode, component, message string) *MeshError {
	if err == nil {
		return nil
	}
	return &MeshError{
		Code:      code,
		Component: component,
		Message:   message,
		Timestamp: time.Now(),
		Cause:     err,
	}
}

// NewServiceNotFound creates the error for a call to an unregistered service
func NewServiceNotFound(service string) *MeshError {
	e := New(ErrCodeServiceNotFound, "mesh", fmt.Sprintf("service %q is not registered", service))
	e.Service = service
	return e
}

// NewNoHealthyInstance creates the error for a call with no usable instances
func NewNoHealthyInstance(service string) *MeshError {
	e := New(ErrCodeNoHealthyInstance, "health_checker", fmt.Sprintf("no healthy instance available for service %q", service))
	e.Service = service
	return e
}

// NewCircuitOpen creates the fail-fast error for an open circuit
func NewCircuitOpen(service string) *MeshError {
	e := New(ErrCodeCircuitOpen, "circuit_breaker", fmt.Sprintf("circuit breaker is open for service %q", service))
	e.Service = service
	return e
}

// NewCallFailed wraps the last transport error after retries are exhausted
func NewCallFailed(service, instanceID string, attempts int, cause error) *MeshError {
	e := Wrap(cause, ErrCodeCallFailed, "retry_executor",
		fmt.Sprintf("call to service %q failed after %d attempt(s)", service, attempts))
	e.Service = service
	return e.WithMetadata("instance_id", instanceID).WithMetadata("attempts", attempts)
}

// NewCallTimeout wraps a deadline-exceeded final outcome
func NewCallTimeout(service, instanceID string, attempts int, cause error) *MeshError {
	e := Wrap(cause, ErrCodeCallTimeout, "retry_executor",
		fmt.Sprintf("call to service %q timed out after %d attempt(s)", service, attempts))
	e.Service = service
	return e.WithMetadata("instance_id", instanceID).WithMetadata("attempts", attempts)
}

// NewRateLimited creates the error for a throttled outbound call
func NewRateLimited(service string) *MeshError {
	e := New(ErrCodeRateLimited, "rate_limiter", fmt.Sprintf("outbound rate limit exceeded for service %q", service))
	e.Service = service
	return e
}

// NewHealthCheckFailed wraps a single probe failure. Non-fatal: it only
// excludes the probed instance from the current selection round.
func NewHealthCheckFailed(service, instanceID string, cause error) *MeshError {
	e := Wrap(cause, ErrCodeHealthCheckFailed, "health_checker",
		fmt.Sprintf("health probe failed for instance %q of service %q", instanceID, service))
	e.Service = service
	return e.WithMetadata("instance_id", instanceID)
}

// NewInvalidService creates a registration validation error
func NewInvalidService(service, reason string) *MeshError {
	e := New(ErrCodeInvalidService, "registry", fmt.Sprintf("invalid service %q: %s", service, reason))
	e.Service = service
	return e
}

// NewInvalidStrategy creates an error for an unknown load-balancer tag
func NewInvalidStrategy(strategy string) *MeshError {
	return New(ErrCodeInvalidStrategy, "registry", fmt.Sprintf("unsupported load balancer strategy %q", strategy))
}

// IsMeshError checks if an error is a MeshError
func IsMeshError(err error) bool {
	var me *MeshError
	return errors.As(err, &me)
}

// CodeOf extracts the error code from an error, or "" if it is not a MeshError
func CodeOf(err error) ErrorCode {
	var me *MeshError
	if errors.As(err, &me) {
		return me.Code
	}
	return ""
}
