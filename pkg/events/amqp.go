package events

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"libraryhub/internal/util"
	"libraryhub/pkg/domain"
)

const amqpDialTimeout = 5 * time.Second

// AMQPConfig configures the RabbitMQ publisher.
type AMQPConfig struct {
	URL      string
	Exchange string
}

// amqpSession is one connection and channel pair. done is closed once the
// broker or the client tears either of them down.
type amqpSession struct {
	publish func(ctx context.Context, exchange, key string, msg amqp.Publishing) error
	close   func() error
	done    <-chan struct{}
}

func (s *amqpSession) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

type amqpDialer func(url, exchange string) (*amqpSession, error)

// AMQPPublisher publishes loan events to a durable topic exchange, routed by
// event type. A session lost to a broker restart is redialed on the next publish.
type AMQPPublisher struct {
	url      string
	exchange string
	dial     amqpDialer

	mu      sync.Mutex
	session *amqpSession
	closed  bool
}

func NewAMQPPublisher(cfg AMQPConfig) (*AMQPPublisher, error) {
	return newAMQPPublisher(cfg, dialAMQP)
}

func newAMQPPublisher(cfg AMQPConfig, dial amqpDialer) (*AMQPPublisher, error) {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		return nil, errors.New("amqp url required")
	}
	exchange := strings.TrimSpace(cfg.Exchange)
	if exchange == "" {
		exchange = "libraryhub.circulation"
	}
	session, err := dial(url, exchange)
	if err != nil {
		return nil, err
	}
	return &AMQPPublisher{url: url, exchange: exchange, dial: dial, session: session}, nil
}

func dialAMQP(url, exchange string) (*amqpSession, error) {
	conn, err := amqp.DialConfig(url, amqp.Config{
		Locale: "en_US",
		Dial:   amqp.DefaultDial(amqpDialTimeout),
	})
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	connClosed := conn.NotifyClose(make(chan *amqp.Error, 1))
	chClosed := ch.NotifyClose(make(chan *amqp.Error, 1))
	done := make(chan struct{})
	go func() {
		select {
		case <-connClosed:
		case <-chClosed:
		}
		close(done)
	}()

	return &amqpSession{
		publish: func(ctx context.Context, exchange, key string, msg amqp.Publishing) error {
			return ch.PublishWithContext(ctx, exchange, key, false, false, msg)
		},
		close: func() error {
			_ = ch.Close()
			return conn.Close()
		},
		done: done,
	}, nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, e domain.LoanEvent) error {
	payload, err := encode(e)
	if err != nil {
		return err
	}
	ctx, cancel := publishTimeout(ctx)
	defer cancel()
	// amqp channels are not safe for concurrent publishing.
	p.mu.Lock()
	defer p.mu.Unlock()
	session, err := p.current()
	if err != nil {
		return err
	}
	return session.publish(ctx, p.exchange, RoutingKey(e), amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     e.ID,
		CorrelationId: util.RequestIDFromContext(ctx),
		Timestamp:     e.OccurredAt,
		Type:          string(e.Type),
		Body:          payload,
	})
}

// current returns a live session, redialing when the previous one was closed.
// Callers hold p.mu.
func (p *AMQPPublisher) current() (*amqpSession, error) {
	if p.closed {
		return nil, errors.New("amqp publisher closed")
	}
	if p.session != nil && !p.session.closed() {
		return p.session, nil
	}
	if p.session != nil {
		_ = p.session.close()
		p.session = nil
	}
	session, err := p.dial(p.url, p.exchange)
	if err != nil {
		return nil, fmt.Errorf("reconnect amqp: %w", err)
	}
	p.session = session
	return session, nil
}

func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	if p.session == nil {
		return nil
	}
	err := p.session.close()
	p.session = nil
	return err
}

// RoutingKey is the event type, e.g. "loan.returned".
func RoutingKey(e domain.LoanEvent) string {
	return string(e.Type)
}
