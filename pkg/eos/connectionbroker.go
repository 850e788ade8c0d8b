package eos

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Connection is a single raw connection to the remote service.
type Connection interface {
	Close() error
}

// LastErrorReporter is implemented by connections that record activation problems
// instead of failing construction outright.
type LastErrorReporter interface {
	LastError() string
	LastException() error
}

// Dialer constructs a raw connection from a target descriptor.
type Dialer func(ctx context.Context, descriptor string) (Connection, error)

// BrokerOption configures a ConnectionBroker.
type BrokerOption func(*ConnectionBroker)

// WithBrokerLogger sets the broker's logger.
func WithBrokerLogger(logger *zap.Logger) BrokerOption {
	return func(cb *ConnectionBroker) { cb.logger = orNop(logger) }
}

// WithDialRateLimit caps how many connections per second the broker dials.
func WithDialRateLimit(perSecond float64, burst int) BrokerOption {
	return func(cb *ConnectionBroker) { cb.limiter = rate.NewLimiter(rate.Limit(perSecond), burst) }
}

// ConnectionBroker creates raw connections for factories. Create one per process and
// share it, so that switching targets always forces a fresh underlying transport.
type ConnectionBroker struct {
	dialer             Dialer
	lastDescriptorUsed string
	brokerLock         *sync.Mutex
	limiter            *rate.Limiter
	logger             *zap.Logger
}

// NewConnectionBroker creates a broker around dialer; a nil dialer uses the AMQP dialer.
func NewConnectionBroker(dialer Dialer, opts ...BrokerOption) *ConnectionBroker {

	if dialer == nil {
		dialer = NewAMQPDialer()
	}

	cb := &ConnectionBroker{
		dialer:     dialer,
		brokerLock: &sync.Mutex{},
		logger:     zap.NewNop(),
	}

	for _, opt := range opts {
		opt(cb)
	}

	return cb
}

// LastDescriptorUsed returns the last descriptor that forced a new underlying instance.
func (cb *ConnectionBroker) LastDescriptorUsed() string {
	cb.brokerLock.Lock()
	defer cb.brokerLock.Unlock()
	return cb.lastDescriptorUsed
}

// CreateConnection creates a raw connection to the target in descriptor.
// When the target differs from the previous one, the descriptor is given a
// RequireNewInstance directive so a stale transport is never silently reused.
// Failures are returned as *ActivationError with credentials redacted.
func (cb *ConnectionBroker) CreateConnection(ctx context.Context, descriptor string) (Connection, error) {

	descriptor = cb.directDescriptor(descriptor)
	redacted := RedactDescriptor(descriptor)

	if cb.limiter != nil {
		if err := cb.limiter.Wait(ctx); err != nil {
			return nil, cb.activationError(descriptor, err.Error(), err)
		}
	}

	conn, err := cb.dial(ctx, descriptor)
	if err != nil {
		return nil, cb.activationError(descriptor, err.Error(), err)
	}

	if reporter, ok := conn.(LastErrorReporter); ok {
		lastError, lastException := reporter.LastError(), reporter.LastException()
		if lastError != "" || lastException != nil {
			_ = conn.Close()

			reason := lastError
			if reason == "" {
				reason = lastException.Error()
			}

			return nil, cb.activationError(descriptor, reason, lastException)
		}
	}

	cb.logger.Debug("connection created", zap.String("descriptor", redacted))
	return conn, nil
}

func (cb *ConnectionBroker) directDescriptor(descriptor string) string {
	cb.brokerLock.Lock()
	defer cb.brokerLock.Unlock()

	if cb.lastDescriptorUsed != descriptor && !requiresNewInstance(descriptor) {
		cb.lastDescriptorUsed = descriptor
		return withNewInstanceDirective(descriptor)
	}

	return descriptor
}

func (cb *ConnectionBroker) dial(ctx context.Context, descriptor string) (conn Connection, err error) {

	defer func() {
		if r := recover(); r != nil {
			conn = nil
			err = fmt.Errorf("connection construction panicked: %v", r)
		}
	}()

	conn, err = cb.dialer(ctx, descriptor)
	if err == nil && conn == nil {
		err = errors.New("dialer returned no connection")
	}

	return conn, err
}

func (cb *ConnectionBroker) activationError(descriptor, reason string, cause error) error {

	ae := &ActivationError{
		Descriptor: RedactDescriptor(descriptor),
		Reason:     redactText(reason, descriptor),
	}

	if cause != nil {
		ae.Err = &redactedCause{msg: redactText(cause.Error(), descriptor), err: cause}
	}

	cb.logger.Warn("connection activation failed", zap.String("descriptor", ae.Descriptor), zap.String("reason", ae.Reason))
	return ae
}
