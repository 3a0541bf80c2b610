// Package errors provides standardized error handling for the sensor proxy.
// It includes error classification, the sensor result taxonomy and helpers for
// consistent error wrapping.
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorClass represents the classification of errors for handling purposes
type ErrorClass int

const (
	// ErrorTransient represents temporary errors that may succeed later
	ErrorTransient ErrorClass = iota
	// ErrorInvalid represents errors due to invalid input or protocol misuse
	ErrorInvalid
	// ErrorFatal represents unrecoverable errors that should stop processing
	ErrorFatal
)

// String returns the string representation of ErrorClass
func (ec ErrorClass) String() string {
	switch ec {
	case ErrorTransient:
		return "transient"
	case ErrorInvalid:
		return "invalid"
	case ErrorFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Sensor results. Backends return these and the proxy forwards them as-is.
var (
	ErrBadValue         = errors.New("bad value")
	ErrInvalidOperation = errors.New("invalid operation")
	ErrPermissionDenied = errors.New("permission denied")
	ErrNoMemory         = errors.New("no memory")
)

// Lifecycle and plumbing errors
var (
	ErrNotInitialized  = errors.New("not initialized")
	ErrAlreadyStarted  = errors.New("already started")
	ErrAlreadyStopped  = errors.New("already stopped")
	ErrQueueClosed     = errors.New("queue closed")
	ErrWriteTimeout    = errors.New("write timeout")
	ErrNoConnection    = errors.New("no connection available")
	ErrInvalidConfig   = errors.New("invalid configuration")
	ErrMissingConfig   = errors.New("missing required configuration")
	ErrUnknownBackend  = errors.New("unknown backend kind")
	ErrRegistryBuilt   = errors.New("backend registry already built")
	ErrTooManyBackends = errors.New("too many backends")
)

// Result is the status code a client receives for a sensor operation.
type Result int

const (
	ResultOK Result = iota
	ResultPermissionDenied
	ResultNoMemory
	ResultBadValue
	ResultInvalidOperation
)

// String returns the wire name of the result.
func (r Result) String() string {
	switch r {
	case ResultOK:
		return "OK"
	case ResultPermissionDenied:
		return "PERMISSION_DENIED"
	case ResultNoMemory:
		return "NO_MEMORY"
	case ResultBadValue:
		return "BAD_VALUE"
	case ResultInvalidOperation:
		return "INVALID_OPERATION"
	default:
		return "UNKNOWN"
	}
}

// ResultOf maps an error chain to the result a client should see.
// Unrecognised errors map to ResultInvalidOperation.
func ResultOf(err error) Result {
	switch {
	case err == nil:
		return ResultOK
	case errors.Is(err, ErrBadValue):
		return ResultBadValue
	case errors.Is(err, ErrPermissionDenied):
		return ResultPermissionDenied
	case errors.Is(err, ErrNoMemory):
		return ResultNoMemory
	default:
		return ResultInvalidOperation
	}
}

// ClassifiedError wraps an error with its classification
type ClassifiedError struct {
	Class     ErrorClass
	Err       error
	Message   string
	Component string
	Operation string
}

// Error implements the error interface
func (ce *ClassifiedError) Error() string {
	if ce.Message != "" {
		return ce.Message
	}
	return ce.Err.Error()
}

// Unwrap returns the underlying error
func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// IsTransient checks if an error is transient
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorTransient
	}

	if errors.Is(err, ErrWriteTimeout) ||
		errors.Is(err, ErrNoConnection) ||
		errors.Is(err, ErrNoMemory) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	for _, pattern := range []string{"timeout", "connection", "temporary", "unavailable", "busy"} {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}

// IsFatal checks if an error is fatal and should stop processing
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorFatal
	}

	return errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrMissingConfig) ||
		errors.Is(err, ErrTooManyBackends)
}

// IsInvalid checks if an error is due to invalid input
func IsInvalid(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorInvalid
	}

	return errors.Is(err, ErrBadValue) ||
		errors.Is(err, ErrInvalidOperation) ||
		errors.Is(err, ErrPermissionDenied)
}

// Classify returns the error class for an error
func Classify(err error) ErrorClass {
	if err == nil {
		return ErrorTransient
	}

	if IsFatal(err) {
		return ErrorFatal
	}
	if IsInvalid(err) {
		return ErrorInvalid
	}

	return ErrorTransient
}

// newClassified creates a new classified error.
// Use WrapTransient(), WrapFatal(), or WrapInvalid() instead.
func newClassified(class ErrorClass, err error, component, operation, message string) *ClassifiedError {
	return &ClassifiedError{
		Class:     class,
		Err:       err,
		Message:   message,
		Component: component,
		Operation: operation,
	}
}

// Wrap creates a standardized error with context following the pattern:
// "component.method: action failed: %w"
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

// WrapTransient wraps an error as transient with context
func WrapTransient(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorTransient, wrappedErr, component, method, wrappedErr.Error())
}

// WrapFatal wraps an error as fatal with context
func WrapFatal(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorFatal, wrappedErr, component, method, wrappedErr.Error())
}

// WrapInvalid wraps an error as invalid with context
func WrapInvalid(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorInvalid, wrappedErr, component, method, wrappedErr.Error())
}
