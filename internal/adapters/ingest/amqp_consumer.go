package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/mikey/sortana/internal/adapters/mailstore"
	"github.com/mikey/sortana/internal/core"
	"github.com/mikey/sortana/internal/ports"
)

// ErrInvalidNotification marks payloads that can never be processed
var ErrInvalidNotification = errors.New("invalid notification")

// Notification is the payload of a new-mail event
type Notification struct {
	MessageIDs []core.MessageID `json:"messageIds"`
	// Folder requests a sweep of a whole folder
	Folder string `json:"folder,omitempty"`
}

// AMQPOptions configures an AMQPConsumer
type AMQPOptions struct {
	URL        string
	Exchange   string
	RoutingKey string
}

// AMQPConsumer queues messages named in notifications published to a topic exchange
type AMQPConsumer struct {
	opts     AMQPOptions
	sorter   ports.Sorter
	recorder ports.IngestRecorder
	logger   *zap.Logger

	conn    *amqp091.Connection
	channel *amqp091.Channel
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewAMQPConsumer creates a consumer; it connects on Start
func NewAMQPConsumer(opts AMQPOptions, sorter ports.Sorter, recorder ports.IngestRecorder, logger *zap.Logger) *AMQPConsumer {
	return &AMQPConsumer{opts: opts, sorter: sorter, recorder: recorder, logger: logger}
}

// Name identifies the source
func (c *AMQPConsumer) Name() string { return "amqp" }

func (c *AMQPConsumer) queueName() string {
	return c.opts.RoutingKey + ".q"
}

// Start connects, declares the topology and consumes in the background
func (c *AMQPConsumer) Start() error {
	conn, err := amqp091.Dial(c.opts.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(c.opts.Exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("failed to declare exchange: %w", err)
	}
	q, err := ch.QueueDeclare(c.queueName(), true, false, false, false, nil)
	if err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("failed to declare queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, c.opts.RoutingKey, c.opts.Exchange, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("failed to bind queue: %w", err)
	}

	deliveries, err := ch.Consume(q.Name, "sortana", false, false, false, false, nil)
	if err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	c.conn, c.channel = conn, ch
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	c.logger.Info("AMQP ingest started",
		zap.String("exchange", c.opts.Exchange),
		zap.String("routing_key", c.opts.RoutingKey),
		zap.String("queue", q.Name))

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for d := range deliveries {
			c.deliver(ctx, d)
		}
	}()
	return nil
}

// Stop closes the channel and connection and waits for the consume loop
func (c *AMQPConsumer) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	var err error
	if c.channel != nil {
		err = c.channel.Close()
	}
	if c.conn != nil {
		if cerr := c.conn.Close(); err == nil {
			err = cerr
		}
	}
	c.wg.Wait()
	return err
}

// acknowledger is the subset of a delivery the consumer settles
type acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

func (c *AMQPConsumer) deliver(ctx context.Context, d amqp091.Delivery) {
	c.settle(ctx, d.Body, &d)
}

// settle handles one payload and acks or nacks it. Panics and transient
// failures requeue; invalid payloads are dropped.
func (c *AMQPConsumer) settle(ctx context.Context, body []byte, ack acknowledger) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Handler panic recovered", zap.Any("panic", r))
			if err := ack.Nack(false, true); err != nil {
				c.logger.Error("Failed to nack message after panic", zap.Error(err))
			}
		}
	}()

	err := c.handle(ctx, body)
	if c.recorder != nil {
		c.recorder.Ingested(c.Name(), err)
	}
	if err != nil {
		requeue := !errors.Is(err, ErrInvalidNotification)
		c.logger.Error("Failed to handle notification", zap.Bool("requeue", requeue), zap.Error(err))
		if err := ack.Nack(false, requeue); err != nil {
			c.logger.Error("Failed to nack message", zap.Error(err))
		}
		return
	}

	if err := ack.Ack(false); err != nil {
		c.logger.Error("Failed to ack message", zap.Error(err))
	}
}

func (c *AMQPConsumer) handle(ctx context.Context, body []byte) error {
	var n Notification
	if err := json.Unmarshal(body, &n); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidNotification, err)
	}
	if len(n.MessageIDs) == 0 && n.Folder == "" {
		return fmt.Errorf("%w: no message ids or folder", ErrInvalidNotification)
	}

	if len(n.MessageIDs) > 0 {
		c.sorter.ApplyRules(n.MessageIDs...)
		c.logger.Debug("Notification queued messages", zap.Int("count", len(n.MessageIDs)))
	}
	if n.Folder != "" {
		if _, err := c.sorter.ApplyToFolder(ctx, n.Folder); err != nil {
			if errors.Is(err, mailstore.ErrUnknownFolder) {
				return fmt.Errorf("%w: %v", ErrInvalidNotification, err)
			}
			return err
		}
	}
	return nil
}
