package eos

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Workiva/go-datastructures/queue"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const connectionPollInterval = 50 * time.Millisecond

const (
	serviceActive int32 = iota
	serviceReleased
	serviceClosed
)

// Service is implemented by every service type a factory can produce.
type Service interface {
	Enhanced() *EnhancedService
}

// Operation is one call to the remote service over a raw connection.
type Operation func(ctx context.Context, conn Connection) error

// EnhancedService is an assembled service instance: a queue of raw connections plus
// the optional cache and transaction scope configured for its factory.
type EnhancedService struct {
	id              uuid.UUID
	config          *Config
	connections     *queue.Queue
	connectionCount int
	transactions    *TransactionManager
	cache           *ResponseCache
	state           int32
	asyncLock       *sync.Mutex
	inflight        int
	drained         chan struct{}
	logger          *zap.Logger
}

func newEnhancedService(config *Config, logger *zap.Logger) *EnhancedService {
	return &EnhancedService{
		id:        uuid.New(),
		config:    config,
		asyncLock: &sync.Mutex{},
		logger:    logger,
	}
}

// Enhanced returns the service itself.
func (es *EnhancedService) Enhanced() *EnhancedService {
	return es
}

// ID identifies the instance.
func (es *EnhancedService) ID() uuid.UUID {
	return es.id
}

// Config returns the configuration the service was built from.
func (es *EnhancedService) Config() *Config {
	return es.config
}

// ConnectionCount returns the number of raw connections the service owns.
func (es *EnhancedService) ConnectionCount() int {
	return es.connectionCount
}

// IdleConnections returns how many raw connections are not in use right now.
func (es *EnhancedService) IdleConnections() int {

	if es.connections == nil {
		return 0
	}

	return int(es.connections.Len())
}

// Transactions returns the transaction manager.
func (es *EnhancedService) Transactions() (*TransactionManager, error) {

	if es.transactions == nil {
		return nil, errUnsupported("cannot use transactions because they are not enabled")
	}

	return es.transactions, nil
}

// Cache returns the response cache.
func (es *EnhancedService) Cache() (*ResponseCache, error) {

	if es.cache == nil {
		return nil, errUnsupported("cannot use the cache because caching is not enabled")
	}

	return es.cache, nil
}

// ClearCache empties the store this instance caches into.
func (es *EnhancedService) ClearCache(ctx context.Context) error {

	if es.cache == nil {
		return errUnsupported("cannot clear the cache because caching is not enabled")
	}

	return es.cache.Clear(ctx)
}

// Execute runs operation on one of the service's raw connections, blocking until one is
// free or ctx is done.
func (es *EnhancedService) Execute(ctx context.Context, operation Operation) error {

	if err := es.usable(); err != nil {
		return err
	}

	return es.execute(ctx, operation)
}

// execute skips the usable check, for work accepted before the service was released.
func (es *EnhancedService) execute(ctx context.Context, operation Operation) error {

	conn, err := es.takeConnection(ctx)
	if err != nil {
		return err
	}
	defer es.returnConnection(conn)

	return operation(ctx, conn)
}

// ExecuteCached is Execute behind the response cache: a cached response for request is
// decoded into out, otherwise operation fills out and the result is cached.
// Without caching it behaves like Execute.
func (es *EnhancedService) ExecuteCached(
	ctx context.Context,
	request interface{},
	out interface{},
	operation func(ctx context.Context, conn Connection, out interface{}) error) error {

	if err := es.usable(); err != nil {
		return err
	}

	if es.cache != nil {
		hit, err := es.cache.Get(ctx, request, out)
		if err != nil {
			es.logger.Warn("cache read failed", zap.Error(err))
		}

		if hit {
			return nil
		}
	}

	err := es.Execute(ctx, func(ctx context.Context, conn Connection) error {
		return operation(ctx, conn, out)
	})
	if err != nil || es.cache == nil {
		return err
	}

	if err := es.cache.Set(ctx, request, out); err != nil {
		es.logger.Warn("cache write failed", zap.Error(err))
	}

	return nil
}

func (es *EnhancedService) usable() error {

	switch atomic.LoadInt32(&es.state) {
	case serviceReleased:
		return ErrServiceReleased
	case serviceClosed:
		return ErrServiceClosed
	default:
		return nil
	}
}

func (es *EnhancedService) fillConnections(conns []Connection) error {

	es.connections = queue.New(int64(len(conns)))
	for _, conn := range conns {
		if err := es.connections.Put(conn); err != nil {
			return err
		}
	}

	es.connectionCount = len(conns)
	return nil
}

func (es *EnhancedService) takeConnection(ctx context.Context) (Connection, error) {

	for {
		items, err := es.connections.Poll(1, connectionPollInterval)
		if err == nil {
			conn, ok := items[0].(Connection)
			if !ok {
				return nil, errors.New("invalid struct type found in connection queue")
			}

			return conn, nil
		}

		if errors.Is(err, queue.ErrDisposed) {
			return nil, ErrServiceClosed
		}

		if !errors.Is(err, queue.ErrTimeout) {
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
	}
}

func (es *EnhancedService) returnConnection(conn Connection) {

	if err := es.connections.Put(conn); err != nil {
		// queue disposed while the connection was out
		_ = conn.Close()
	}
}

// lease and release are driven by the pool.
func (es *EnhancedService) lease() {
	atomic.CompareAndSwapInt32(&es.state, serviceReleased, serviceActive)
}

func (es *EnhancedService) release() {
	atomic.CompareAndSwapInt32(&es.state, serviceActive, serviceReleased)
}

// reset prepares a released instance for its next borrower.
func (es *EnhancedService) reset(ctx context.Context) error {

	if es.transactions == nil {
		return nil
	}

	return es.transactions.RollbackAll(ctx)
}

// beginAsync registers one unit of background work, refused once the service is unusable.
func (es *EnhancedService) beginAsync() error {
	es.asyncLock.Lock()
	defer es.asyncLock.Unlock()

	if err := es.usable(); err != nil {
		return err
	}

	if es.inflight == 0 {
		es.drained = make(chan struct{})
	}
	es.inflight++

	return nil
}

func (es *EnhancedService) endAsync() {
	es.asyncLock.Lock()
	defer es.asyncLock.Unlock()

	es.inflight--
	if es.inflight == 0 {
		close(es.drained)
	}
}

// waitForAsync blocks until no background work is in flight or ctx is done.
func (es *EnhancedService) waitForAsync(ctx context.Context) error {

	es.asyncLock.Lock()
	if es.inflight == 0 {
		es.asyncLock.Unlock()
		return nil
	}
	drained := es.drained
	es.asyncLock.Unlock()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close closes every raw connection. Connections in use are closed when they are returned.
func (es *EnhancedService) Close() error {

	if atomic.SwapInt32(&es.state, serviceClosed) == serviceClosed {
		return nil
	}

	if es.connections == nil {
		return nil
	}

	var errs []error
	for _, item := range es.connections.Dispose() {
		if conn, ok := item.(Connection); ok {
			if err := conn.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}

	es.logger.Debug("service closed", zap.String("id", es.id.String()))
	return errors.Join(errs...)
}

// AsyncEnhancedService is an EnhancedService that dispatches concurrently over its connections.
type AsyncEnhancedService struct {
	*EnhancedService
}

func newAsyncEnhancedService(base *EnhancedService) *AsyncEnhancedService {
	return &AsyncEnhancedService{EnhancedService: base}
}

// ExecuteAsync runs operation in the background. The channel yields its result once.
func (as *AsyncEnhancedService) ExecuteAsync(ctx context.Context, operation Operation) <-chan error {

	result := make(chan error, 1)
	if err := as.beginAsync(); err != nil {
		result <- err
		close(result)
		return result
	}

	go func() {
		defer as.endAsync()
		result <- as.execute(ctx, operation)
		close(result)
	}()

	return result
}

// ExecuteAll fans operations out over the service's connections and returns the first error.
func (as *AsyncEnhancedService) ExecuteAll(ctx context.Context, operations ...Operation) error {

	if err := as.beginAsync(); err != nil {
		return err
	}
	defer as.endAsync()

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(as.connectionCount)

	for _, operation := range operations {
		operation := operation
		group.Go(func() error {
			return as.execute(groupCtx, operation)
		})
	}

	return group.Wait()
}

// WaitForAsync blocks until all background work started by ExecuteAsync/ExecuteAll is done.
func (as *AsyncEnhancedService) WaitForAsync(ctx context.Context) error {
	return as.waitForAsync(ctx)
}
