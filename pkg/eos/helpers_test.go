package eos_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/houseofcat/enhancedservice/pkg/eos"
	"github.com/stretchr/testify/require"
)

const testDescriptor = "Host=rabbit.local;Port=5672;Username=svc;Password=hunter2;"

type fakeConn struct {
	id            int
	descriptor    string
	closed        int32
	lastError     string
	lastException error
}

func (fc *fakeConn) Close() error {
	atomic.StoreInt32(&fc.closed, 1)
	return nil
}

func (fc *fakeConn) IsClosed() bool {
	return atomic.LoadInt32(&fc.closed) == 1
}

// reportingConn is a fakeConn that reports activation problems after construction.
type reportingConn struct {
	*fakeConn
}

func (rc *reportingConn) LastError() string { return rc.lastError }
func (rc *reportingConn) LastException() error { return rc.lastException }

type fakeDialer struct {
	dialLock    *sync.Mutex
	descriptors []string
	conns       []*fakeConn
	failAt      int // 1-based dial that fails, zero never
	failErr     error
	panicWith   interface{}
	lastError   string
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{dialLock: &sync.Mutex{}}
}

func (fd *fakeDialer) Dial(_ context.Context, descriptor string) (eos.Connection, error) {
	fd.dialLock.Lock()
	defer fd.dialLock.Unlock()

	fd.descriptors = append(fd.descriptors, descriptor)
	attempt := len(fd.descriptors)

	if fd.panicWith != nil {
		panic(fd.panicWith)
	}

	if fd.failAt > 0 && attempt == fd.failAt {
		if fd.failErr != nil {
			return nil, fd.failErr
		}
		return nil, errors.New("connection refused")
	}

	conn := &fakeConn{id: attempt, descriptor: descriptor}
	fd.conns = append(fd.conns, conn)

	if fd.lastError != "" {
		conn.lastError = fd.lastError
		return &reportingConn{fakeConn: conn}, nil
	}

	return conn, nil
}

func (fd *fakeDialer) Descriptors() []string {
	fd.dialLock.Lock()
	defer fd.dialLock.Unlock()
	return append([]string(nil), fd.descriptors...)
}

func (fd *fakeDialer) Conns() []*fakeConn {
	fd.dialLock.Lock()
	defer fd.dialLock.Unlock()
	return append([]*fakeConn(nil), fd.conns...)
}

func buildConfig(t *testing.T, configure func(b *eos.EnhancedServiceBuilder)) *eos.Config {
	t.Helper()

	builder := eos.NewBuilder().Initialise(testDescriptor)
	if configure != nil {
		configure(builder)
	}

	config, err := builder.Finalise().GetBuild()
	require.NoError(t, err)
	return config
}

func newStandardFactory(t *testing.T, dialer *fakeDialer, configure func(b *eos.EnhancedServiceBuilder)) *eos.ServiceFactory[*eos.EnhancedService] {
	t.Helper()

	factory, err := eos.NewServiceFactory(
		buildConfig(t, configure),
		eos.StandardService,
		eos.NewConnectionBroker(dialer.Dial))
	require.NoError(t, err)
	return factory
}

func newAsyncFactory(t *testing.T, dialer *fakeDialer, configure func(b *eos.EnhancedServiceBuilder)) *eos.ServiceFactory[*eos.AsyncEnhancedService] {
	t.Helper()

	factory, err := eos.NewServiceFactory(
		buildConfig(t, func(b *eos.EnhancedServiceBuilder) {
			b.AddConcurrency(&eos.ConcurrencyOptions{DefaultThreads: 2})
			if configure != nil {
				configure(b)
			}
		}),
		eos.AsyncService,
		eos.NewConnectionBroker(dialer.Dial))
	require.NoError(t, err)
	return factory
}
