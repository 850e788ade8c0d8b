package eos

import (
	"errors"
	"fmt"
)

// BuilderState is the position of an EnhancedServiceBuilder in its lifecycle.
type BuilderState int

const (
	// Uninitialised is the state of a new builder.
	Uninitialised BuilderState = iota
	// Initialised is reached once a valid descriptor was supplied.
	Initialised
	// Finalised is terminal; the configuration is locked.
	Finalised
)

func (bs BuilderState) String() string {
	switch bs {
	case Uninitialised:
		return "Uninitialised"
	case Initialised:
		return "Initialised"
	case Finalised:
		return "Finalised"
	default:
		return fmt.Sprintf("BuilderState(%d)", int(bs))
	}
}

// EnhancedServiceBuilder assembles a Config for a ServiceFactory.
// Call Initialise, add features, then Finalise and GetBuild.
//
// Every method returns the builder so calls can be chained. A failing call is
// fatal to that call only: it leaves the state and configuration untouched, its
// error is reported by Err until the next call, and a corrected call can follow.
// GetBuild on a builder that never reached Finalised reports every failed call.
type EnhancedServiceBuilder struct {
	config *Config
	state  BuilderState
	err    error
	failed []error
}

// NewBuilder returns an Uninitialised builder.
func NewBuilder() *EnhancedServiceBuilder {
	return &EnhancedServiceBuilder{config: &Config{}}
}

// State returns the builder's current state.
func (b *EnhancedServiceBuilder) State() BuilderState {
	return b.state
}

// Err returns the error of the most recent call, nil if it succeeded.
func (b *EnhancedServiceBuilder) Err() error {
	return b.err
}

// Initialise validates and stores the target descriptor.
func (b *EnhancedServiceBuilder) Initialise(descriptor string) *EnhancedServiceBuilder {

	if !b.expect("Initialise", Uninitialised) {
		return b
	}

	if err := ValidateDescriptor(descriptor); err != nil {
		b.fail(err)
		return b
	}

	if b.apply(func() { b.config.descriptor = descriptor }) {
		b.state = Initialised
	}

	return b
}

// AddCaching enables response caching.
func (b *EnhancedServiceBuilder) AddCaching(options *CachingOptions) *EnhancedServiceBuilder {

	if !b.expectNewFeature("AddCaching", b.config.IsCachingEnabled()) {
		return b
	}

	caching, err := newCachingConfig(options)
	if err != nil {
		b.fail(err)
		return b
	}

	b.apply(func() { b.config.caching = caching })
	return b
}

// AddTransactions enables transaction scoping.
func (b *EnhancedServiceBuilder) AddTransactions(options *TransactionOptions) *EnhancedServiceBuilder {

	if !b.expectNewFeature("AddTransactions", b.config.IsTransactionsEnabled()) {
		return b
	}

	b.apply(func() { b.config.transactions = &TransactionConfig{} })
	return b
}

// AddConcurrency enables multi-connection services.
func (b *EnhancedServiceBuilder) AddConcurrency(options *ConcurrencyOptions) *EnhancedServiceBuilder {

	if !b.expectNewFeature("AddConcurrency", b.config.IsConcurrencyEnabled()) {
		return b
	}

	concurrency, err := newConcurrencyConfig(options)
	if err != nil {
		b.fail(err)
		return b
	}

	b.apply(func() { b.config.concurrency = concurrency })
	return b
}

// HoldAppForAsync makes shutdown wait for async operations in the services to finish.
// Concurrency must already be enabled.
func (b *EnhancedServiceBuilder) HoldAppForAsync() *EnhancedServiceBuilder {

	if !b.expect("HoldAppForAsync", Initialised) {
		return b
	}

	if !b.config.IsConcurrencyEnabled() {
		b.fail(errUnsupported("concurrency is not enabled"))
		return b
	}

	b.apply(func() { b.config.concurrency.holdAppForAsync = true })
	return b
}

// Finalise locks the configuration and every sub-config. Irreversible.
func (b *EnhancedServiceBuilder) Finalise() *EnhancedServiceBuilder {

	if !b.expect("Finalise", Initialised) {
		return b
	}

	if b.apply(b.config.lock) {
		b.state = Finalised
	}

	return b
}

// GetBuild returns the locked configuration to be used with a factory.
func (b *EnhancedServiceBuilder) GetBuild() (*Config, error) {

	b.err = nil
	if b.state != Finalised {
		err := fmt.Errorf("%w: GetBuild requires state %s, builder is %s", ErrInvalidOperation, Finalised, b.state)
		return nil, errors.Join(append([]error{err}, b.failed...)...)
	}

	return b.config, nil
}

// expect starts a call: it clears the previous call's error and checks the state.
func (b *EnhancedServiceBuilder) expect(operation string, state BuilderState) bool {

	b.err = nil
	if b.state != state {
		b.fail(fmt.Errorf("%w: %s requires state %s, builder is %s", ErrInvalidOperation, operation, state, b.state))
		return false
	}

	return true
}

func (b *EnhancedServiceBuilder) expectNewFeature(operation string, enabled bool) bool {

	if !b.expect(operation, Initialised) {
		return false
	}

	if enabled {
		b.fail(fmt.Errorf("%w: %s was already called", ErrInvalidOperation, operation))
		return false
	}

	return true
}

func (b *EnhancedServiceBuilder) apply(fn func()) bool {

	if err := b.config.mutate(fn); err != nil {
		b.fail(err)
		return false
	}

	return true
}

func (b *EnhancedServiceBuilder) fail(err error) {
	b.err = err
	b.failed = append(b.failed, err)
}
