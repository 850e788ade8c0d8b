package eos

import (
	"errors"
	"fmt"
)

var (
	// ErrDescriptorFormat is returned when a target descriptor has a key without a value.
	ErrDescriptorFormat = errors.New("connection string format is incorrect")

	// ErrInvalidOperation is returned when a builder method is called out of order.
	ErrInvalidOperation = errors.New("invalid operation")

	// ErrConfigLocked is returned when mutating a finalised configuration.
	ErrConfigLocked = fmt.Errorf("%w: configuration is locked", ErrInvalidOperation)

	// ErrInvalidConfiguration is returned when a configuration can't produce a working factory.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrUnsupported is returned when an operation needs a feature that is not enabled.
	ErrUnsupported = errors.New("unsupported operation")

	// ErrPoolClosed is returned when a service pool shutdown has been triggered.
	ErrPoolClosed = errors.New("service pool closed")

	// ErrUnknownService is returned when releasing a service that is not checked out of the pool.
	ErrUnknownService = errors.New("service is not checked out of this pool")

	// ErrServiceReleased is returned when a service is used after it was released to its pool.
	ErrServiceReleased = errors.New("service has been released to its pool")

	// ErrServiceClosed is returned when a service is used after its connections were closed.
	ErrServiceClosed = errors.New("service is closed")

	// ErrAcquireTimeout is returned when a bounded wait for a pooled service runs out.
	ErrAcquireTimeout = errors.New("timed out waiting for a service")
)

// ActivationError is returned when a raw connection to the remote service can't be created.
// Descriptor, Reason and Err.Error() never contain credential values. Err unwraps
// further to the original cause so errors.Is/As keep working; that cause's own text
// is not redacted and should not be logged.
type ActivationError struct {
	Descriptor string
	Reason     string
	Err        error
}

func (ae *ActivationError) Error() string {
	return fmt.Sprintf("can't create connection to: %q due to %s", ae.Descriptor, ae.Reason)
}

func (ae *ActivationError) Unwrap() error {
	return ae.Err
}

// redactedCause carries a cause whose message had credentials scrubbed.
type redactedCause struct {
	msg string
	err error
}

func (rc *redactedCause) Error() string {
	return rc.msg
}

func (rc *redactedCause) Unwrap() error {
	return rc.err
}

func errUnsupported(reason string) error {
	return fmt.Errorf("%w: %s", ErrUnsupported, reason)
}
