package broker

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	log "github.com/sirupsen/logrus"
)

// Declarer is the part of an amqp channel used to declare the topology.
type Declarer interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
}

// DeclareTopology declares the exchanges and queues shared by the control plane and runners.
// Declarations are idempotent.
func DeclareTopology(ch Declarer) error {
	log.WithFields(log.Fields{"Exchange": PublicExchange}).Debug("Configuring exchange")
	if err := ch.ExchangeDeclare(PublicExchange, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange %v: %w", PublicExchange, err)
	}

	log.WithFields(log.Fields{"Queue": PublicQueue}).Debug("Configuring queue")
	if _, err := ch.QueueDeclare(PublicQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare queue %v: %w", PublicQueue, err)
	}
	if err := ch.QueueBind(PublicQueue, PublicQueue, PublicExchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue %v: %w", PublicQueue, err)
	}

	log.WithFields(log.Fields{"Queue": TaskResultsQueue}).Debug("Configuring queue")
	if _, err := ch.QueueDeclare(TaskResultsQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare queue %v: %w", TaskResultsQueue, err)
	}

	return nil
}

// Initialize connects to the broker and declares the topology.
func Initialize(c Config) error {
	conn, err := Dial(c)
	if err != nil {
		return err
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	return DeclareTopology(ch)
}
