package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"storefront/internal/domain"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	ExchangeType = "topic"

	// RoutingKeyOrderCommitted is used for every order produced by checkout.
	RoutingKeyOrderCommitted = "order.committed"
)

// OrderCommitted is the message body published after a checkout commits.
type OrderCommitted struct {
	EventID    uuid.UUID     `json:"event_id"`
	Type       string        `json:"type"`
	OccurredAt time.Time     `json:"occurred_at"`
	Order      *domain.Order `json:"order"`
}

// channel is the subset of *amqp.Channel the publisher uses.
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// RabbitPublisher publishes order events to a durable topic exchange.
type RabbitPublisher struct {
	conn     *amqp.Connection
	ch       channel
	exchange string
	logger   *zap.Logger

	// amqp channels are not safe for concurrent publishing.
	mu sync.Mutex
}

// NewRabbitPublisher connects to url and declares exchange.
func NewRabbitPublisher(url, exchange string, logger *zap.Logger) (*RabbitPublisher, error) {
	conn, ch, err := SetupConn(url, exchange, logger)
	if err != nil {
		return nil, err
	}

	return &RabbitPublisher{
		conn:     conn,
		ch:       ch,
		exchange: exchange,
		logger:   logger,
	}, nil
}

func newRabbitPublisher(ch channel, exchange string, logger *zap.Logger) *RabbitPublisher {
	return &RabbitPublisher{ch: ch, exchange: exchange, logger: logger}
}

// PublishOrderCommitted sends the order as a persistent JSON message.
func (p *RabbitPublisher) PublishOrderCommitted(ctx context.Context, order *domain.Order) error {
	event := OrderCommitted{
		EventID:    uuid.New(),
		Type:       RoutingKeyOrderCommitted,
		OccurredAt: time.Now().UTC(),
		Order:      order,
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("could not marshal order event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.ch.PublishWithContext(ctx,
		p.exchange,               // exchange
		RoutingKeyOrderCommitted, // routing key
		false,                    // mandatory
		false,                    // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    event.EventID.String(),
			Timestamp:    event.OccurredAt,
			Type:         event.Type,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("could not publish order event: %w", err)
	}

	p.logger.Debug("Order event published",
		zap.String("order_id", order.ID.String()),
		zap.String("event_id", event.EventID.String()),
	)
	return nil
}

// Close closes the channel and the connection.
func (p *RabbitPublisher) Close() error {
	if err := p.ch.Close(); err != nil {
		return fmt.Errorf("could not close channel: %w", err)
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// LogPublisher writes order events to the log. It is used when no broker is configured.
type LogPublisher struct {
	logger *zap.Logger
}

func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) PublishOrderCommitted(ctx context.Context, order *domain.Order) error {
	p.logger.Info("Order committed",
		zap.String("order_id", order.ID.String()),
		zap.String("user_id", order.UserID.String()),
		zap.String("total", order.Total.StringFixed(2)),
		zap.String("currency", order.Currency),
	)
	return nil
}
