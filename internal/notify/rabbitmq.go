package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	EventRunCompleted = "run.completed"
	EventRunFailed    = "run.failed"

	defaultMaxRetries = 3
)

// Config selects the broker and routing for run notifications.
type Config struct {
	URL        string
	Exchange   string
	RoutingKey string
	// QueueName, when set, is declared and bound so messages are kept even
	// before a consumer attaches.
	QueueName  string
	MaxRetries uint64
}

// RunMessage is the JSON body of a notification.
type RunMessage struct {
	Event     string     `json:"event"`
	Run       RunSummary `json:"run"`
	Timestamp time.Time  `json:"timestamp"`
}

// RabbitMQ publishes run summaries to a direct exchange.
type RabbitMQ struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
}

// NewRabbitMQ connects and declares the exchange, retrying with exponential
// backoff until ctx is done or MaxRetries attempts fail.
func NewRabbitMQ(ctx context.Context, cfg Config, logger *slog.Logger) (*RabbitMQ, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	r := &RabbitMQ{cfg: cfg, logger: logger}
	err := backoff.RetryNotify(r.connect, r.policy(ctx), func(err error, wait time.Duration) {
		logger.Warn("rabbitmq connect failed; retrying", "err", err, "wait", wait)
	})
	if err != nil {
		return nil, err
	}
	logger.Info("connected to rabbitmq",
		"exchange", cfg.Exchange,
		"queue", cfg.QueueName,
		"routing_key", cfg.RoutingKey,
	)
	return r, nil
}

func (r *RabbitMQ) policy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxElapsedTime = 30 * time.Second
	return backoff.WithContext(backoff.WithMaxRetries(b, r.cfg.MaxRetries), ctx)
}

func (r *RabbitMQ) connect() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closeLocked()

	conn, err := amqp.Dial(r.cfg.URL)
	if err != nil {
		return fmt.Errorf("connect to rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}
	if err := declare(ch, r.cfg); err != nil {
		ch.Close()
		conn.Close()
		return err
	}
	r.conn, r.channel = conn, ch
	return nil
}

func declare(ch *amqp.Channel, cfg Config) error {
	err := ch.ExchangeDeclare(
		cfg.Exchange,
		"direct",
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}
	if cfg.QueueName == "" {
		return nil
	}
	q, err := ch.QueueDeclare(
		cfg.QueueName,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, cfg.RoutingKey, cfg.Exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}
	return nil
}

// NewMessage builds the AMQP publishing for s.
func NewMessage(s RunSummary, now time.Time) (amqp.Publishing, error) {
	event := EventRunCompleted
	if !s.OK() {
		event = EventRunFailed
	}
	body, err := json.Marshal(RunMessage{Event: event, Run: s, Timestamp: now.UTC()})
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("marshal message: %w", err)
	}
	return amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		MessageId:    s.RunID,
		Type:         event,
		Body:         body,
		Timestamp:    now,
	}, nil
}

// Notify publishes s. A failed publish reconnects and retries.
func (r *RabbitMQ) Notify(ctx context.Context, s RunSummary) error {
	msg, err := NewMessage(s, time.Now())
	if err != nil {
		return err
	}
	attempt := 0
	op := func() error {
		attempt++
		if attempt > 1 {
			if err := r.connect(); err != nil {
				return err
			}
		}
		r.mu.Lock()
		ch := r.channel
		r.mu.Unlock()
		if ch == nil {
			return fmt.Errorf("publish message: channel closed")
		}
		if err := ch.PublishWithContext(ctx, r.cfg.Exchange, r.cfg.RoutingKey, false, false, msg); err != nil {
			return fmt.Errorf("publish message: %w", err)
		}
		return nil
	}
	if err := backoff.Retry(op, r.policy(ctx)); err != nil {
		return err
	}
	r.logger.Debug("published run summary", "run_id", s.RunID, "event", msg.Type)
	return nil
}

func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closeLocked()
}

func (r *RabbitMQ) closeLocked() error {
	var err error
	if r.channel != nil {
		r.channel.Close()
		r.channel = nil
	}
	if r.conn != nil {
		err = r.conn.Close()
		r.conn = nil
	}
	return err
}
