package broker

import (
	"context"
	"errors"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	log "github.com/sirupsen/logrus"
)

// Connection is the part of an amqp connection used by the Connector.
type Connection interface {
	Channel() (Channel, error)
	NotifyClose(receiver chan *amqp.Error) chan *amqp.Error
	Close() error
}

type amqpConnection struct {
	*amqp.Connection
}

func (c amqpConnection) Channel() (Channel, error) {
	return c.Connection.Channel()
}

// DialFunc opens a connection, blocking until the broker accepts it or ctx is done.
type DialFunc func(ctx context.Context, config Config) (Connection, error)

func waitForAMQPConnection(ctx context.Context, config Config) (Connection, error) {
	conn, err := WaitForConnection(ctx, config)
	if err != nil {
		return nil, err
	}

	return amqpConnection{conn}, nil
}

// Connector shares one broker connection and redials it once the broker closes it.
type Connector struct {
	config Config
	dial   DialFunc

	mu     sync.Mutex
	conn   Connection
	closed chan *amqp.Error
}

// NewConnector creates a Connector that dials with WaitForConnection.
func NewConnector(config Config) *Connector {
	return NewConnectorWithDialer(config, waitForAMQPConnection)
}

// NewConnectorWithDialer creates a Connector that obtains connections from dial.
func NewConnectorWithDialer(config Config, dial DialFunc) *Connector {
	return &Connector{
		config: config,
		dial:   dial,
	}
}

// Connect returns the current connection, dialing a new one if there is none or the last one closed.
func (c *Connector) Connect(ctx context.Context) (Connection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		select {
		case amqpErr, ok := <-c.closed:
			fields := log.Fields{"Host": c.config.Host}
			if ok && amqpErr != nil {
				fields["Error"] = amqpErr.Error()
			}
			log.WithFields(fields).Warn("Broker connection closed, reconnecting.")
			c.conn = nil
		default:
			return c.conn, nil
		}
	}

	conn, err := c.dial(ctx, c.config)
	if err != nil {
		return nil, err
	}
	c.conn = conn
	c.closed = conn.NotifyClose(make(chan *amqp.Error, 1))

	return conn, nil
}

// Channel opens a channel on the current connection. A connection that closed before
// its close notification arrived is replaced.
func (c *Connector) Channel(ctx context.Context) (Channel, error) {
	conn, err := c.Connect(ctx)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if errors.Is(err, amqp.ErrClosed) {
		c.forget(conn)
		if conn, err = c.Connect(ctx); err != nil {
			return nil, err
		}
		ch, err = conn.Channel()
	}
	if err != nil {
		return nil, err
	}

	return ch, nil
}

func (c *Connector) forget(conn Connection) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == conn {
		c.conn = nil
	}
}

// Close closes the current connection, if any.
func (c *Connector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil

	return err
}
