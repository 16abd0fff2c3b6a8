package events

import (
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// SetupConn dials the broker, retrying while it starts up, opens a channel
// and declares the durable topic exchange.
func SetupConn(url, exchange string, logger *zap.Logger) (*amqp.Connection, *amqp.Channel, error) {
	var conn *amqp.Connection

	attempt := 0
	dial := func() error {
		attempt++
		var err error
		conn, err = amqp.Dial(url)
		if err != nil {
			logger.Warn("Failed to connect to RabbitMQ",
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
		}
		return err
	}

	policy := backoff.NewConstantBackOff(2 * time.Second)
	if err := backoff.Retry(dial, backoff.WithMaxRetries(policy, 4)); err != nil {
		return nil, nil, fmt.Errorf("could not connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("could not open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		exchange,     // name
		ExchangeType, // type
		true,         // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,          // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, nil, fmt.Errorf("could not declare exchange: %w", err)
	}

	return conn, ch, nil
}
