package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	log "github.com/sirupsen/logrus"
)

var (
	// ErrUnroutable is returned when the broker returned a mandatory message.
	ErrUnroutable = errors.New("message could not be routed")
	// ErrNotConfirmed is returned when the broker nacked a publish.
	ErrNotConfirmed = errors.New("message was not confirmed by the broker")
)

// DefaultConfirmTimeout bounds the wait for a connection and a publisher confirm.
const DefaultConfirmTimeout = 30 * time.Second

// Channel is the part of an amqp channel used for confirmed publishing.
type Channel interface {
	Confirm(noWait bool) error
	NotifyPublish(confirm chan amqp.Confirmation) chan amqp.Confirmation
	NotifyReturn(c chan amqp.Return) chan amqp.Return
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// ChannelOpener opens a short lived channel for a single publish.
type ChannelOpener func(ctx context.Context) (Channel, error)

// Publisher sends messages with publisher confirms and mandatory routing.
type Publisher struct {
	open           ChannelOpener
	confirmTimeout time.Duration
}

// NewPublisher creates a Publisher that opens channels through connector, so publishing
// resumes on a new connection after the broker restarts.
func NewPublisher(connector *Connector) *Publisher {
	return NewPublisherWithOpener(connector.Channel)
}

// NewPublisherWithOpener creates a Publisher that obtains channels from open.
func NewPublisherWithOpener(open ChannelOpener) *Publisher {
	return &Publisher{
		open:           open,
		confirmTimeout: DefaultConfirmTimeout,
	}
}

// Publishing builds the amqp message for body with the standard properties.
func Publishing(msgType MessageType, body interface{}) (amqp.Publishing, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return amqp.Publishing{}, err
	}

	return amqp.Publishing{
		Headers:         amqp.Table{HeaderMessageType: string(msgType)},
		ContentType:     ContentType,
		ContentEncoding: ContentEncoding,
		DeliveryMode:    amqp.Transient,
		Timestamp:       time.Now().UTC(),
		Body:            data,
	}, nil
}

// Publish sends body as a msgType message and waits for the broker to confirm it.
// An unroutable message returns ErrUnroutable.
func (p *Publisher) Publish(ctx context.Context, exchange, routingKey string, msgType MessageType, body interface{}) error {
	msg, err := Publishing(msgType, body)
	if err != nil {
		return fmt.Errorf("failed to encode %v message: %w", msgType, err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.confirmTimeout)
	defer cancel()

	ch, err := p.open(ctx)
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	defer ch.Close()

	if err := ch.Confirm(false); err != nil {
		return fmt.Errorf("failed to enable publisher confirms: %w", err)
	}
	confirms := ch.NotifyPublish(make(chan amqp.Confirmation, 1))
	returns := ch.NotifyReturn(make(chan amqp.Return, 1))

	if err := ch.PublishWithContext(ctx, exchange, routingKey, true, false, msg); err != nil {
		return fmt.Errorf("failed to publish %v message: %w", msgType, err)
	}

	select {
	case returned := <-returns:
		return p.unroutable(exchange, routingKey, returned)
	case confirmation, ok := <-confirms:
		if !ok || !confirmation.Ack {
			return ErrNotConfirmed
		}
	case <-ctx.Done():
		return fmt.Errorf("waiting for publish confirm: %w", ctx.Err())
	}

	// A returned message arrives before its confirm.
	select {
	case returned := <-returns:
		return p.unroutable(exchange, routingKey, returned)
	default:
	}

	return nil
}

func (p *Publisher) unroutable(exchange, routingKey string, returned amqp.Return) error {
	log.WithFields(log.Fields{
		"Exchange":   exchange,
		"RoutingKey": routingKey,
		"ReplyText":  returned.ReplyText,
	}).Error("Failed to send message")

	return ErrUnroutable
}
