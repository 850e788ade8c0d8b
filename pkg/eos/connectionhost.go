package eos

import (
	"context"
	"crypto/tls"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/streadway/amqp"
)

// ConnectionHost is an AMQP-backed raw connection to the remote service.
type ConnectionHost struct {
	Connection     *amqp.Connection
	ConnectionName string
	errors         chan *amqp.Error
	lastErr        *amqp.Error
	hostLock       *sync.Mutex
}

// NewAMQPDialer returns the default Dialer, which maps the descriptor onto an AMQP URI.
func NewAMQPDialer() Dialer {
	return func(ctx context.Context, descriptor string) (Connection, error) {
		return NewConnectionHost(ctx, descriptor)
	}
}

// NewConnectionHost dials the AMQP target described by descriptor.
func NewConnectionHost(ctx context.Context, descriptor string) (*ConnectionHost, error) {

	target, err := DescriptorToAMQPTarget(descriptor)
	if err != nil {
		return nil, err
	}

	connectionName := target.ConnectionName + "-" + uuid.New().String()
	config := amqp.Config{
		Heartbeat: target.Heartbeat,
		Dial:      contextDial(ctx, target.ConnectionTimeout),
		Properties: amqp.Table{
			"connection_name": connectionName,
		},
	}

	if strings.HasPrefix(target.URI, "amqps://") {
		config.TLSClientConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	amqpConn, err := amqp.DialConfig(target.URI, config)
	if err != nil {
		return nil, err
	}

	connectionHost := &ConnectionHost{
		Connection:     amqpConn,
		ConnectionName: connectionName,
		errors:         make(chan *amqp.Error, 1),
		hostLock:       &sync.Mutex{},
	}

	connectionHost.Connection.NotifyClose(connectionHost.errors)

	return connectionHost, nil
}

// contextDial is amqp.DefaultDial bounded by ctx as well as the timeout.
func contextDial(ctx context.Context, timeout time.Duration) func(network, addr string) (net.Conn, error) {
	return func(network, addr string) (net.Conn, error) {

		dialer := &net.Dialer{Timeout: timeout}
		conn, err := dialer.DialContext(ctx, network, addr)
		if err != nil {
			return nil, err
		}

		// Heartbeating hasn't started yet, don't stall forever on a dead server.
		if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
			return nil, err
		}

		return conn, nil
	}
}

// Channel opens an AMQP channel on the connection.
func (ch *ConnectionHost) Channel() (*amqp.Channel, error) {
	return ch.Connection.Channel()
}

// IsClosed reports whether the underlying connection is closed.
func (ch *ConnectionHost) IsClosed() bool {
	return ch.Connection.IsClosed()
}

// LastError returns the reason the server closed the connection, if it did.
func (ch *ConnectionHost) LastError() string {

	if err := ch.lastError(); err != nil {
		return err.Reason
	}

	return ""
}

// LastException returns the close error reported by the server, if any.
func (ch *ConnectionHost) LastException() error {

	if err := ch.lastError(); err != nil {
		return err
	}

	return nil
}

func (ch *ConnectionHost) lastError() *amqp.Error {
	ch.hostLock.Lock()
	defer ch.hostLock.Unlock()

	select {
	case err, ok := <-ch.errors:
		if ok && err != nil {
			ch.lastErr = err
		}
	default:
	}

	return ch.lastErr
}

// Close closes the underlying connection.
func (ch *ConnectionHost) Close() error {

	if ch.Connection.IsClosed() {
		return nil
	}

	return ch.Connection.Close()
}
