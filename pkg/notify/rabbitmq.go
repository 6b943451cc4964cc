package notify

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitmqClient holds one connection and one channel to the broker
type RabbitmqClient struct {
	conn *amqp.Connection
	chn  *amqp.Channel
}

func NewRabbitmqClient(url string) (*RabbitmqClient, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	chn, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open rabbitmq channel: %w", err)
	}
	return &RabbitmqClient{conn: conn, chn: chn}, nil
}

// CreateQueue declares a durable queue
func (r *RabbitmqClient) CreateQueue(queueName string) error {
	_, err := r.chn.QueueDeclare(
		queueName,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
	return err
}

// Publish sends a persistent JSON message to queueName via the default exchange
func (r *RabbitmqClient) Publish(ctx context.Context, queueName string, body []byte) error {
	return r.chn.PublishWithContext(
		ctx,
		"",        // exchange
		queueName, // routing key
		false,     // mandatory
		false,     // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		},
	)
}

func (r *RabbitmqClient) Close() error {
	if err := r.chn.Close(); err != nil {
		return err
	}
	return r.conn.Close()
}

// QueuePublisher is the part of RabbitmqClient the notifier needs
type QueuePublisher interface {
	Publish(ctx context.Context, queueName string, body []byte) error
}

// QueueNotifier enqueues invitation emails for the mail worker
type QueueNotifier struct {
	publisher QueuePublisher
	queue     string
}

func NewQueueNotifier(p QueuePublisher, queue string) *QueueNotifier {
	return &QueueNotifier{publisher: p, queue: queue}
}

func (n *QueueNotifier) SendInvitation(ctx context.Context, msg InvitationEmail) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal invitation email: %w", err)
	}
	if err := n.publisher.Publish(ctx, n.queue, body); err != nil {
		return fmt.Errorf("publish invitation email: %w", err)
	}
	return nil
}
