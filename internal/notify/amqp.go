package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/seantiz/dataform-runner/internal/model"
)

// DefaultExchange is the topic exchange lifecycle events are published to.
const DefaultExchange = "dataform.workflows"

// RoutingKey returns the routing key for an event kind, e.g.
// "workflow.completed".
func RoutingKey(kind model.EventKind) string {
	return "workflow." + string(kind)
}

// publisher is the subset of *amqp.Channel used for publishing.
type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPNotifier publishes events as JSON to a topic exchange.
type AMQPNotifier struct {
	exchange string
	logger   *slog.Logger

	mu   sync.Mutex
	ch   publisher
	conn *amqp.Connection
}

// DialAMQP connects to url, declares exchange as a durable topic exchange and
// returns a notifier publishing to it.
func DialAMQP(url, exchange string, logger *slog.Logger) (*AMQPNotifier, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	logger.Info("connected to message broker", "exchange", exchange)
	return &AMQPNotifier{exchange: exchange, logger: logger, ch: ch, conn: conn}, nil
}

func newAMQPNotifier(ch publisher, exchange string, logger *slog.Logger) *AMQPNotifier {
	return &AMQPNotifier{exchange: exchange, logger: logger, ch: ch}
}

// Notify implements Notifier.
func (n *AMQPNotifier) Notify(ctx context.Context, e model.Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	key := RoutingKey(e.Kind)

	n.mu.Lock()
	defer n.mu.Unlock()

	err = n.ch.PublishWithContext(ctx,
		n.exchange, // exchange
		key,        // routing key
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    e.ID,
			Type:         key,
			Timestamp:    e.CreatedAt,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish to %s/%s: %w", n.exchange, key, err)
	}

	n.logger.Debug("published event",
		"exchange", n.exchange,
		"routing_key", key,
		"execution_id", e.ExecutionID,
	)
	return nil
}

// Close closes the broker connection.
func (n *AMQPNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.conn == nil {
		return nil
	}
	err := n.conn.Close()
	n.conn = nil
	return err
}
