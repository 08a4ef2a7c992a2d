package broker

import (
	"context"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	log "github.com/sirupsen/logrus"
)

const (
	amqp091Heartbeat = 10 * time.Second
	// ConnectRetryInterval is the wait between connection attempts in WaitForConnection.
	ConnectRetryInterval = 5 * time.Second
)

// Dial opens a connection using c.
func Dial(c Config) (*amqp.Connection, error) {
	config, err := c.amqpConfig()
	if err != nil {
		return nil, err
	}

	return amqp.DialConfig(c.URL(), config)
}

// WaitForConnection blocks until the broker accepts a connection or ctx is done.
func WaitForConnection(ctx context.Context, c Config) (*amqp.Connection, error) {
	log.Info("Checking message broker connection")

	for {
		conn, err := Dial(c)
		if err == nil {
			log.WithFields(log.Fields{
				"Host": c.Host,
			}).Info("Connected to message broker")
			return conn, nil
		}

		log.WithFields(log.Fields{
			"Host":  c.Host,
			"Error": err.Error(),
		}).Info("Unable to connect to message broker. Retry in 5s.")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(ConnectRetryInterval):
		}
	}
}
