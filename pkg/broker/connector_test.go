package broker

import (
	"context"
	"errors"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConnection struct {
	channels   []*fakeChannel
	channelErr error
	notify     chan *amqp.Error
	closed     bool
}

func (f *fakeConnection) Channel() (Channel, error) {
	if f.channelErr != nil {
		return nil, f.channelErr
	}
	ch := &fakeChannel{ack: true}
	f.channels = append(f.channels, ch)
	return ch, nil
}

func (f *fakeConnection) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error {
	f.notify = receiver
	return receiver
}

func (f *fakeConnection) Close() error {
	f.closed = true
	return nil
}

// lose simulates the broker dropping the connection.
func (f *fakeConnection) lose() {
	f.notify <- &amqp.Error{Code: amqp.ConnectionForced, Reason: "broker shutdown"}
	close(f.notify)
}

type fakeDialer struct {
	connections []*fakeConnection
	err         error
}

func (f *fakeDialer) dial(ctx context.Context, config Config) (Connection, error) {
	if f.err != nil {
		return nil, f.err
	}
	conn := &fakeConnection{}
	f.connections = append(f.connections, conn)
	return conn, nil
}

func TestConnector_ReusesOpenConnection(t *testing.T) {
	dialer := &fakeDialer{}
	connector := NewConnectorWithDialer(Config{Host: "rabbitmq"}, dialer.dial)

	first, err := connector.Connect(context.Background())
	require.Nil(t, err)
	second, err := connector.Connect(context.Background())
	require.Nil(t, err)

	assert.Same(t, first, second)
	assert.Len(t, dialer.connections, 1)
}

func TestPublisher_Publish_AfterConnectionLost(t *testing.T) {
	dialer := &fakeDialer{}
	connector := NewConnectorWithDialer(Config{Host: "rabbitmq"}, dialer.dial)
	p := NewPublisher(connector)

	err := p.Publish(context.Background(), PublicExchange, PublicQueue, TaskPackageMessage, TaskPackage{ID: "task-1"})
	require.Nil(t, err)
	require.Len(t, dialer.connections, 1)

	dialer.connections[0].lose()

	err = p.Publish(context.Background(), PublicExchange, PublicQueue, TaskPackageMessage, TaskPackage{ID: "task-2"})
	require.Nil(t, err)
	require.Len(t, dialer.connections, 2)
	require.Len(t, dialer.connections[1].channels, 1)
	assert.Len(t, dialer.connections[1].channels[0].published, 1)
}

func TestConnector_Channel_RedialsClosedConnection(t *testing.T) {
	dialer := &fakeDialer{}
	connector := NewConnectorWithDialer(Config{Host: "rabbitmq"}, dialer.dial)

	_, err := connector.Connect(context.Background())
	require.Nil(t, err)
	dialer.connections[0].channelErr = amqp.ErrClosed

	ch, err := connector.Channel(context.Background())
	require.Nil(t, err)
	assert.NotNil(t, ch)
	require.Len(t, dialer.connections, 2)
	assert.Len(t, dialer.connections[1].channels, 1)
}

func TestConnector_DialFails(t *testing.T) {
	dialer := &fakeDialer{err: errors.New("connection refused")}
	connector := NewConnectorWithDialer(Config{Host: "rabbitmq"}, dialer.dial)

	_, err := connector.Channel(context.Background())
	assert.NotNil(t, err)

	dialer.err = nil
	_, err = connector.Channel(context.Background())
	assert.Nil(t, err)
	assert.Len(t, dialer.connections, 1)
}

func TestConnector_Close(t *testing.T) {
	dialer := &fakeDialer{}
	connector := NewConnectorWithDialer(Config{Host: "rabbitmq"}, dialer.dial)

	_, err := connector.Connect(context.Background())
	require.Nil(t, err)

	require.Nil(t, connector.Close())
	assert.True(t, dialer.connections[0].closed)
	assert.Nil(t, connector.Close())
}
