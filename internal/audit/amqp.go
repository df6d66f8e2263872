package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPConfig holds RabbitMQ shipper configuration.
// With an empty Exchange, entries go to the default exchange and RoutingKey
// defaults to Queue, which is declared durable on connect.
type AMQPConfig struct {
	URL        string
	Exchange   string
	RoutingKey string
	Queue      string
}

// amqpChannel is the subset of *amqp.Channel the shipper needs
type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPShipper publishes audit entries as persistent JSON messages to RabbitMQ
type AMQPShipper struct {
	cfg     *AMQPConfig
	conn    *amqp.Connection
	channel amqpChannel
	mu      sync.Mutex
}

// NewAMQPShipper dials the broker and declares the target queue
func NewAMQPShipper(cfg *AMQPConfig) (*AMQPShipper, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("amqp url is required")
	}
	if cfg.Exchange == "" && cfg.Queue == "" && cfg.RoutingKey == "" {
		return nil, fmt.Errorf("amqp shipper needs an exchange or a queue")
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if cfg.Queue != "" {
		_, err = ch.QueueDeclare(
			cfg.Queue, // name
			true,      // durable
			false,     // delete when unused
			false,     // exclusive
			false,     // no-wait
			nil,       // arguments
		)
		if err != nil {
			ch.Close()
			conn.Close()
			return nil, fmt.Errorf("failed to declare queue: %w", err)
		}
	}

	s := newAMQPShipper(cfg, ch)
	s.conn = conn
	return s, nil
}

func newAMQPShipper(cfg *AMQPConfig, ch amqpChannel) *AMQPShipper {
	return &AMQPShipper{cfg: cfg, channel: ch}
}

func (s *AMQPShipper) routingKey() string {
	if s.cfg.RoutingKey != "" {
		return s.cfg.RoutingKey
	}
	return s.cfg.Queue
}

// Ship publishes one entry
func (s *AMQPShipper) Ship(ctx context.Context, entry *LogEntry) error {
	body, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err = s.channel.PublishWithContext(ctx,
		s.cfg.Exchange, // exchange
		s.routingKey(), // routing key
		false,          // mandatory
		false,          // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    entry.ID,
			Type:         entry.Action,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish audit entry: %w", err)
	}
	return nil
}

// Close closes the channel and the connection
func (s *AMQPShipper) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	if s.channel != nil {
		if err := s.channel.Close(); err != nil {
			firstErr = err
		}
	}
	if s.conn != nil {
		if err := s.conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
