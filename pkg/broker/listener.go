package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/onepanelio/functionary/pkg/metrics"
	amqp "github.com/rabbitmq/amqp091-go"
	log "github.com/sirupsen/logrus"
)

// Handler hands the body of a message off for processing. It must not block on long running work.
type Handler func(ctx context.Context, body []byte) error

// Listener consumes a queue on a single goroutine and dispatches each delivery by its x-msg-type header.
type Listener struct {
	config   Config
	queue    string
	prefetch int
	handlers map[MessageType]Handler
}

// NewListener creates a Listener for queue.
func NewListener(config Config, queue string) *Listener {
	return &Listener{
		config:   config,
		queue:    queue,
		prefetch: 1,
		handlers: make(map[MessageType]Handler),
	}
}

// Handle registers handler for msgType.
func (l *Listener) Handle(msgType MessageType, handler Handler) *Listener {
	l.handlers[msgType] = handler
	return l
}

// SetPrefetch sets how many unacknowledged deliveries the broker may send.
func (l *Listener) SetPrefetch(prefetch int) *Listener {
	if prefetch > 0 {
		l.prefetch = prefetch
	}
	return l
}

// Run consumes until ctx is done, reconnecting when the connection is lost.
func (l *Listener) Run(ctx context.Context) error {
	log.WithFields(log.Fields{"Queue": l.queue}).Info("Starting listener")

	for {
		err := l.consume(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			log.WithFields(log.Fields{
				"Queue": l.queue,
				"Error": err.Error(),
			}).Error("Listener lost its connection.")
		}
	}
}

func (l *Listener) consume(ctx context.Context) error {
	conn, err := WaitForConnection(ctx, l.config)
	if err != nil {
		return err
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := DeclareTopology(ch); err != nil {
		return err
	}
	if err := ch.Qos(l.prefetch, 0, false); err != nil {
		return err
	}

	deliveries, err := ch.Consume(l.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume %v: %w", l.queue, err)
	}

	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	for {
		select {
		case <-ctx.Done():
			return nil
		case amqpErr, ok := <-closed:
			if ok && amqpErr != nil {
				return amqpErr
			}
			return errors.New("connection closed")
		case delivery, ok := <-deliveries:
			if !ok {
				return errors.New("delivery channel closed")
			}
			l.Dispatch(ctx, delivery)
		}
	}
}

// Dispatch routes one delivery to its handler. Successful hand off and unknown types are acked,
// decode and handler failures are nacked for redelivery.
func (l *Listener) Dispatch(ctx context.Context, delivery amqp.Delivery) {
	msgType := messageType(delivery.Headers)

	logger := log.WithFields(log.Fields{
		"Queue":       l.queue,
		"MessageType": msgType,
		"DeliveryTag": delivery.DeliveryTag,
	})
	logger.Info("Received message")

	if !json.Valid(delivery.Body) {
		logger.Error("Error handling received message: body is not valid JSON")
		metrics.MessagesReceived.WithLabelValues(string(msgType), "nack").Inc()
		l.nack(logger, delivery)
		return
	}

	handler, ok := l.handlers[msgType]
	if !ok {
		logger.Error("Unrecognized message type")
		metrics.MessagesReceived.WithLabelValues(string(msgType), "dropped").Inc()
		l.ack(logger, delivery)
		return
	}

	if err := handler(ctx, delivery.Body); err != nil {
		logger.WithField("Error", err.Error()).Error("Error handling received message")
		metrics.MessagesReceived.WithLabelValues(string(msgType), "nack").Inc()
		l.nack(logger, delivery)
		return
	}

	metrics.MessagesReceived.WithLabelValues(string(msgType), "ack").Inc()
	l.ack(logger, delivery)
}

func (l *Listener) ack(logger *log.Entry, delivery amqp.Delivery) {
	if err := delivery.Ack(false); err != nil {
		logger.WithField("Error", err.Error()).Error("Failed to ack message")
	}
}

func (l *Listener) nack(logger *log.Entry, delivery amqp.Delivery) {
	if err := delivery.Nack(false, true); err != nil {
		logger.WithField("Error", err.Error()).Error("Failed to nack message")
	}
}

func messageType(headers amqp.Table) MessageType {
	if headers == nil {
		return ""
	}

	switch v := headers[HeaderMessageType].(type) {
	case string:
		return MessageType(v)
	case []byte:
		return MessageType(v)
	}

	return ""
}
