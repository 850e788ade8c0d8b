package eos

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// FactoryOption configures a ServiceFactory.
type FactoryOption func(*factoryOptions)

type factoryOptions struct {
	logger *zap.Logger
}

// WithFactoryLogger sets the logger handed to the factory and the services it builds.
func WithFactoryLogger(logger *zap.Logger) FactoryOption {
	return func(fo *factoryOptions) { fo.logger = orNop(logger) }
}

// ServiceFactory assembles services of type T from a locked Config.
type ServiceFactory[T Service] struct {
	config       *Config
	serviceType  ServiceType[T]
	broker       *ConnectionBroker
	factoryStore Store
	namespace    string
	logger       *zap.Logger
}

// NewServiceFactory validates config against serviceType and resolves the factory-level cache store.
func NewServiceFactory[T Service](
	config *Config,
	serviceType ServiceType[T],
	broker *ConnectionBroker,
	opts ...FactoryOption) (*ServiceFactory[T], error) {

	if config == nil || !config.IsLocked() {
		return nil, fmt.Errorf("%w: the configuration must be finalised before use", ErrInvalidConfiguration)
	}

	if broker == nil {
		return nil, fmt.Errorf("%w: a connection broker is required", ErrInvalidConfiguration)
	}

	if serviceType.Construct == nil {
		return nil, fmt.Errorf("%w: service type %q has no constructor", ErrInvalidConfiguration, serviceType.Name)
	}

	options := &factoryOptions{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(options)
	}

	sf := &ServiceFactory[T]{
		config:      config,
		serviceType: serviceType,
		broker:      broker,
		namespace:   descriptorNamespace(config.Descriptor()),
		logger:      options.logger,
	}

	if config.IsCachingEnabled() {
		switch config.Caching().Mode() {
		case SharedCache:
			sf.factoryStore = SharedStore()
		case FactoryScopedCache:
			sf.factoryStore = config.Caching().Store()
			if sf.factoryStore == nil {
				sf.factoryStore = NewMemoryStore(sf.namespace)
			}
		case InstanceScopedCache:
		default:
			return nil, fmt.Errorf("%w: unknown cache mode %s", ErrInvalidConfiguration, config.Caching().Mode())
		}
	}

	if config.IsConcurrencyEnabled() && !serviceType.AsyncDispatch {
		return nil, fmt.Errorf("%w: %w: cannot create an async service factory unless %s is async",
			ErrInvalidConfiguration, ErrUnsupported, serviceType.Name)
	}

	if !config.IsConcurrencyEnabled() && serviceType.AsyncDispatch {
		return nil, fmt.Errorf("%w: %w: cannot create a factory for async %s unless concurrency is enabled",
			ErrInvalidConfiguration, ErrUnsupported, serviceType.Name)
	}

	sf.logger.Debug("service factory created",
		zap.String("serviceType", serviceType.Name),
		zap.String("descriptor", RedactDescriptor(config.Descriptor())),
		zap.Bool("caching", config.IsCachingEnabled()),
		zap.Bool("transactions", config.IsTransactionsEnabled()),
		zap.Bool("concurrency", config.IsConcurrencyEnabled()))

	return sf, nil
}

// Config returns the factory's configuration.
func (sf *ServiceFactory[T]) Config() *Config {
	return sf.config
}

// Store returns the factory-level cache store, nil when caching is off or instance scoped.
func (sf *ServiceFactory[T]) Store() Store {
	return sf.factoryStore
}

// DefaultThreads is the connection count used when a caller asks for fewer than one.
func (sf *ServiceFactory[T]) DefaultThreads() int {

	if sf.config.IsConcurrencyEnabled() {
		return sf.config.Concurrency().DefaultThreads()
	}

	return defaultThreads
}

// CreateEnhancedService builds a service owning threads raw connections to the configured target.
// If any connection fails, the ones already made are closed and the activation error is returned.
func (sf *ServiceFactory[T]) CreateEnhancedService(ctx context.Context, threads int) (T, error) {

	var zero T
	if threads < 1 {
		threads = sf.DefaultThreads()
	}

	conns := make([]Connection, 0, threads)
	for i := 0; i < threads; i++ {
		conn, err := sf.broker.CreateConnection(ctx, sf.config.Descriptor())
		if err != nil {
			closeConnections(conns)
			return zero, err
		}

		conns = append(conns, conn)
	}

	base := newEnhancedService(sf.config, sf.logger)

	if sf.config.IsTransactionsEnabled() {
		base.transactions = NewTransactionManager()
	}

	if sf.config.IsCachingEnabled() {
		caching := sf.config.Caching()

		store := sf.factoryStore
		if caching.Mode() == InstanceScopedCache {
			store = NewMemoryStore(sf.namespace + ":" + base.id.String())
		}

		base.cache = NewResponseCache(store, sf.namespace, caching.ExpirationPolicy(), caching.Compression())
	}

	if err := base.fillConnections(conns); err != nil {
		closeConnections(conns)
		return zero, err
	}

	sf.logger.Debug("service created", zap.String("id", base.id.String()), zap.Int("threads", threads))
	return sf.serviceType.Construct(base), nil
}

// ClearCache clears the factory-level store, which every service of a Shared or
// FactoryScoped factory reads from.
func (sf *ServiceFactory[T]) ClearCache(ctx context.Context) error {

	if !sf.config.IsCachingEnabled() {
		return errUnsupported("cannot clear the cache because caching is not enabled")
	}

	if sf.factoryStore == nil {
		return errUnsupported("cache is scoped to service instances, use each instance's ClearCache instead")
	}

	return sf.factoryStore.Clear(ctx)
}

func closeConnections(conns []Connection) {
	for _, conn := range conns {
		_ = conn.Close()
	}
}
