// Package eventbus implements spec.md's audit event bus (SPEC_FULL.md
// §4.14): a RabbitMQ publisher that mirrors every observability.AuditEvent
// onto a durable exchange for a downstream audit/compliance consumer,
// grounded on the teacher's components/consumer producer
// (ProducerDefault(ctx, exchange, key, message)) and the
// common/mrabbitmq.RabbitMQConnection singleton dial-and-declare lifecycle,
// adapted to the amqp091-go client rather than the teacher's legacy
// streadway/amqp one.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/lerianstudio/nl2sql/internal/logging"
	"github.com/lerianstudio/nl2sql/internal/observability"
)

// Publisher is the narrow contract internal/engine depends on, so it never
// imports amqp091-go directly. Publish failures must never be treated as
// pipeline failures by callers — the audit bus is a best-effort side
// channel, matching spec.md §7's principle that observability failures must
// not cascade into request failures.
type Publisher interface {
	Publish(ctx context.Context, ev observability.AuditEvent) error
	Close() error
}

// RabbitMQPublisher publishes AuditEvents as JSON to a topic exchange,
// keyed by node name, mirroring the teacher's
// ProducerDefault(ctx, exchange, key, message) signature.
type RabbitMQPublisher struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
	logger   logging.Logger
}

// NewRabbitMQPublisher dials url, opens a channel, and declares exchange as
// a durable topic exchange, matching common/mrabbitmq.RabbitMQConnection's
// connect-once-reuse lifecycle and healthCheck-via-declare pattern.
func NewRabbitMQPublisher(url, exchange string, logger logging.Logger) (*RabbitMQPublisher, error) {
	if logger == nil {
		logger = logging.NoneLogger{}
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open rabbitmq channel: %w", err)
	}

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()

		return nil, fmt.Errorf("declare rabbitmq exchange %s: %w", exchange, err)
	}

	logger.Infof("connected to rabbitmq audit exchange %s", exchange)

	return &RabbitMQPublisher{conn: conn, channel: ch, exchange: exchange, logger: logger}, nil
}

// Publish encodes ev as JSON and publishes it to the audit exchange, routed
// by ev.Node, matching the teacher's "exchange, key" producer shape.
func (p *RabbitMQPublisher) Publish(ctx context.Context, ev observability.AuditEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode audit event: %w", err)
	}

	p.logger.Infof("publishing audit event to exchange %s, key %s", p.exchange, ev.Node)

	err = p.channel.PublishWithContext(ctx, p.exchange, ev.Node, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish audit event to exchange %s: %w", p.exchange, err)
	}

	return nil
}

// Close tears down the channel and connection.
func (p *RabbitMQPublisher) Close() error {
	chErr := p.channel.Close()
	connErr := p.conn.Close()

	if chErr != nil {
		return fmt.Errorf("close rabbitmq channel: %w", chErr)
	}

	if connErr != nil {
		return fmt.Errorf("close rabbitmq connection: %w", connErr)
	}

	return nil
}

// NonePublisher discards every event. Used when RabbitMQURL is unset,
// matching observability.NoneSink's pattern for optional infrastructure.
type NonePublisher struct{}

func (NonePublisher) Publish(context.Context, observability.AuditEvent) error { return nil }
func (NonePublisher) Close() error                                            { return nil }

// MirroringSink wraps an observability.AuditSink and additionally mirrors
// every write onto a Publisher. A publish failure is logged and swallowed
// rather than returned, so a RabbitMQ outage never blocks the local audit
// log or the pipeline request it is recording.
type MirroringSink struct {
	inner     observability.AuditSink
	publisher Publisher
	logger    logging.Logger
}

// NewMirroringSink composes inner (typically a RotatingFileSink) with
// publisher (typically a RabbitMQPublisher) into a single AuditSink.
func NewMirroringSink(inner observability.AuditSink, publisher Publisher, logger logging.Logger) *MirroringSink {
	if logger == nil {
		logger = logging.NoneLogger{}
	}

	return &MirroringSink{inner: inner, publisher: publisher, logger: logger}
}

func (s *MirroringSink) Write(ctx context.Context, ev observability.AuditEvent) error {
	if err := s.inner.Write(ctx, ev); err != nil {
		return err
	}

	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.logger.Warnf("failed to mirror audit event for node %s to event bus: %s", ev.Node, err)
	}

	return nil
}

func (s *MirroringSink) Close() error {
	pubErr := s.publisher.Close()
	innerErr := s.inner.Close()

	if innerErr != nil {
		return innerErr
	}

	return pubErr
}
