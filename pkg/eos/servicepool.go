package eos

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// PoolOption configures a ServicePool.
type PoolOption func(*poolOptions)

type poolOptions struct {
	logger         *zap.Logger
	threads        int
	acquireTimeout time.Duration
}

// WithPoolLogger sets the pool's logger.
func WithPoolLogger(logger *zap.Logger) PoolOption {
	return func(po *poolOptions) { po.logger = orNop(logger) }
}

// WithPoolThreads sets the connection count of services built when a caller asks for fewer than one.
func WithPoolThreads(threads int) PoolOption {
	return func(po *poolOptions) { po.threads = threads }
}

// WithAcquireTimeout bounds how long GetService waits at capacity. Zero (the default) waits forever.
func WithAcquireTimeout(timeout time.Duration) PoolOption {
	return func(po *poolOptions) { po.acquireTimeout = timeout }
}

// PoolStats is a snapshot of a ServicePool.
type PoolStats struct {
	Capacity   int
	Available  int
	CheckedOut int
	Created    uint64
	Waits      uint64
}

// ServicePool hands out at most capacity services at a time, building them lazily
// through its factory and reusing released ones.
//
// GetService blocks while capacity services are checked out. Waiters are served
// in arrival order. Released services are reset (open transactions rolled back)
// before they are reused, and the releasing reference fails with
// ErrServiceReleased until the instance is handed out again.
type ServicePool[T Service] struct {
	factory        *ServiceFactory[T]
	capacity       int
	threads        int
	acquireTimeout time.Duration
	permits        *semaphore.Weighted
	available      []T
	checkedOut     map[*EnhancedService]T
	poolLock       *sync.Mutex
	closed         bool
	closeCtx       context.Context
	closeCancel    context.CancelFunc
	created        uint64
	waits          uint64
	logger         *zap.Logger
}

// NewServicePool creates an empty pool of at most capacity services.
func NewServicePool[T Service](factory *ServiceFactory[T], capacity int, opts ...PoolOption) (*ServicePool[T], error) {

	if factory == nil {
		return nil, fmt.Errorf("%w: a service factory is required", ErrInvalidConfiguration)
	}

	if capacity < 1 {
		return nil, fmt.Errorf("%w: pool capacity must be at least 1", ErrInvalidConfiguration)
	}

	options := &poolOptions{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(options)
	}

	closeCtx, closeCancel := context.WithCancel(context.Background())
	sp := &ServicePool[T]{
		factory:        factory,
		capacity:       capacity,
		threads:        options.threads,
		acquireTimeout: options.acquireTimeout,
		permits:        semaphore.NewWeighted(int64(capacity)),
		available:      make([]T, 0, capacity),
		checkedOut:     make(map[*EnhancedService]T, capacity),
		poolLock:       &sync.Mutex{},
		closeCtx:       closeCtx,
		closeCancel:    closeCancel,
		logger:         options.logger,
	}

	sp.logger.Debug("service pool created", zap.Int("capacity", capacity))
	return sp, nil
}

// GetService returns an idle service, or builds one with threads connections while
// under capacity, or blocks until a service is released.
func (sp *ServicePool[T]) GetService(threads int) (T, error) {

	if sp.acquireTimeout > 0 {
		return sp.GetServiceWithTimeout(sp.acquireTimeout, threads)
	}

	return sp.GetServiceContext(context.Background(), threads)
}

// GetServiceWithTimeout is GetService giving up after timeout with ErrAcquireTimeout.
func (sp *ServicePool[T]) GetServiceWithTimeout(timeout time.Duration, threads int) (T, error) {

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	svc, err := sp.GetServiceContext(ctx, threads)
	if errors.Is(err, context.DeadlineExceeded) {
		return svc, fmt.Errorf("%w after %s: %w", ErrAcquireTimeout, timeout, err)
	}

	return svc, err
}

// GetServiceContext is GetService bounded by ctx.
func (sp *ServicePool[T]) GetServiceContext(ctx context.Context, threads int) (T, error) {

	var zero T
	if threads < 1 {
		threads = sp.threads
	}

	if err := sp.acquirePermit(ctx); err != nil {
		return zero, err
	}

	sp.poolLock.Lock()
	if sp.closed {
		sp.poolLock.Unlock()
		sp.permits.Release(1)
		return zero, ErrPoolClosed
	}

	if svc, ok := sp.takeAvailableLocked(threads); ok {
		sp.checkedOut[svc.Enhanced()] = svc
		svc.Enhanced().lease()
		sp.poolLock.Unlock()
		return svc, nil
	}
	sp.poolLock.Unlock()

	// The permit reserves the slot, so building happens outside the lock.
	svc, err := sp.factory.CreateEnhancedService(ctx, threads)
	if err != nil {
		sp.permits.Release(1)
		sp.logger.Warn("service creation failed", zap.Error(err))
		return zero, err
	}

	sp.poolLock.Lock()
	defer sp.poolLock.Unlock()

	if sp.closed {
		_ = svc.Enhanced().Close()
		sp.permits.Release(1)
		return zero, ErrPoolClosed
	}

	sp.checkedOut[svc.Enhanced()] = svc
	atomic.AddUint64(&sp.created, 1)
	return svc, nil
}

func (sp *ServicePool[T]) acquirePermit(ctx context.Context) error {

	if sp.closeCtx.Err() != nil {
		return ErrPoolClosed
	}

	if sp.permits.TryAcquire(1) {
		return nil
	}

	atomic.AddUint64(&sp.waits, 1)
	sp.logger.Debug("waiting for a service to be released")

	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	stop := context.AfterFunc(sp.closeCtx, cancel)
	defer stop()

	if err := sp.permits.Acquire(waitCtx, 1); err != nil {
		if sp.closeCtx.Err() != nil && ctx.Err() == nil {
			return ErrPoolClosed
		}

		return err
	}

	return nil
}

// takeAvailableLocked prefers an idle service with the requested connection count.
func (sp *ServicePool[T]) takeAvailableLocked(threads int) (T, bool) {

	var zero T
	if len(sp.available) == 0 {
		return zero, false
	}

	index := len(sp.available) - 1
	for i := index; i >= 0; i-- {
		if sp.available[i].Enhanced().ConnectionCount() == threads {
			index = i
			break
		}
	}

	svc := sp.available[index]
	sp.available = append(sp.available[:index], sp.available[index+1:]...)
	return svc, true
}

// ReleaseService puts a checked-out service back into the pool and wakes one waiter.
// The caller's reference must not be used afterwards.
func (sp *ServicePool[T]) ReleaseService(svc T) error {

	base := svc.Enhanced()

	sp.poolLock.Lock()
	if _, ok := sp.checkedOut[base]; !ok {
		sp.poolLock.Unlock()
		return ErrUnknownService
	}
	delete(sp.checkedOut, base)
	sp.poolLock.Unlock()

	base.release()
	resetErr := base.reset(context.Background())
	if resetErr != nil {
		sp.logger.Warn("service reset failed", zap.String("id", base.id.String()), zap.Error(resetErr))
	}

	sp.poolLock.Lock()
	if sp.closed {
		sp.poolLock.Unlock()
		_ = base.Close()
	} else {
		sp.available = append(sp.available, svc)
		sp.poolLock.Unlock()
	}

	sp.permits.Release(1)
	return resetErr
}

// Stats returns a snapshot of the pool.
func (sp *ServicePool[T]) Stats() PoolStats {
	sp.poolLock.Lock()
	defer sp.poolLock.Unlock()

	return PoolStats{
		Capacity:   sp.capacity,
		Available:  len(sp.available),
		CheckedOut: len(sp.checkedOut),
		Created:    atomic.LoadUint64(&sp.created),
		Waits:      atomic.LoadUint64(&sp.waits),
	}
}

// Factory returns the pool's factory.
func (sp *ServicePool[T]) Factory() *ServiceFactory[T] {
	return sp.factory
}

// Close shuts the pool: waiters fail with ErrPoolClosed, idle services are closed now
// and checked-out ones when they are released. With HoldAppForAsync configured it
// first waits, bounded by ctx, for background work on every service to finish.
func (sp *ServicePool[T]) Close(ctx context.Context) error {

	sp.poolLock.Lock()
	if sp.closed {
		sp.poolLock.Unlock()
		return ErrPoolClosed
	}

	sp.closed = true
	sp.closeCancel()

	idle := sp.available
	sp.available = nil

	all := make([]*EnhancedService, 0, len(idle)+len(sp.checkedOut))
	for _, svc := range idle {
		all = append(all, svc.Enhanced())
	}
	for base := range sp.checkedOut {
		all = append(all, base)
	}
	sp.poolLock.Unlock()

	var errs []error
	if concurrency := sp.factory.Config().Concurrency(); concurrency != nil && concurrency.IsAsyncAppHold() {
		for _, base := range all {
			if err := base.waitForAsync(ctx); err != nil {
				errs = append(errs, err)
				break
			}
		}
	}

	for _, svc := range idle {
		if err := svc.Enhanced().Close(); err != nil {
			errs = append(errs, err)
		}
	}

	sp.logger.Debug("service pool closed", zap.Int("closedIdle", len(idle)))
	return errors.Join(errs...)
}
