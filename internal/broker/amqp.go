package broker

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/Arrow-air/svc-telemetry/internal/backend"
	"github.com/Arrow-air/svc-telemetry/pkg/logger"
)

// amqpSession is one connection with its publishing channel
type amqpSession struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

func (s *amqpSession) Close() error {
	s.ch.Close()
	return s.conn.Close()
}

// AMQPConnector dials the broker, opens a channel and declares every
// queue the gateway publishes to as durable.
func AMQPConnector(timeout time.Duration, queues []string) backend.Connector[*amqpSession] {
	return func(ctx context.Context, url string) (*amqpSession, error) {
		conn, err := amqp.DialConfig(url, amqp.Config{
			Dial:       amqp.DefaultDial(timeout),
			Properties: amqp.Table{"connection_name": "svc-telemetry"},
		})
		if err != nil {
			return nil, fmt.Errorf("dial: %w", err)
		}

		ch, err := conn.Channel()
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("open channel: %w", err)
		}

		for _, q := range queues {
			if _, err := ch.QueueDeclare(q, true, false, false, false, nil); err != nil {
				conn.Close()
				return nil, fmt.Errorf("declare queue %s: %w", q, err)
			}
		}

		return &amqpSession{conn: conn, ch: ch}, nil
	}
}

// AMQPPublisher publishes persistent messages to the default exchange,
// routed by queue name. The channel lives in a backend cache, so a broker
// outage fails the request and the next publish reconnects.
type AMQPPublisher struct {
	sessions *backend.Cache[*amqpSession]
	logger   *logger.Logger
}

func NewAMQPPublisher(url string, timeout time.Duration, queues []string, log *logger.Logger) *AMQPPublisher {
	return &AMQPPublisher{
		sessions: backend.New("amqp", url, AMQPConnector(timeout, queues), log),
		logger:   log,
	}
}

func (p *AMQPPublisher) Publish(ctx context.Context, msg Message) error {
	s, err := p.sessions.Get(ctx)
	if err != nil {
		return err
	}

	if s.conn.IsClosed() {
		p.sessions.Invalidate(ctx, s)
		if s, err = p.sessions.Get(ctx); err != nil {
			return err
		}
	}

	err = s.ch.PublishWithContext(ctx, "", msg.Topic, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.ID,
		Timestamp:    time.Now(),
		Body:         msg.Body,
	})
	if err != nil {
		p.logger.Error("amqp publish failed", "queue", msg.Topic, "error", err)
		p.sessions.Invalidate(ctx, s)
		return fmt.Errorf("%w: amqp: %v", backend.ErrBackendUnavailable, err)
	}
	return nil
}

func (p *AMQPPublisher) Close() error {
	return p.sessions.Close()
}
