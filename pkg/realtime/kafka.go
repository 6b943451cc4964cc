package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	skafka "github.com/segmentio/kafka-go"
)

// Writer is the part of kafka.Writer the producer uses
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...skafka.Message) error
	Close() error
}

// KafkaProducer publishes change events to a topic, keyed by stream id so a
// stream's events stay ordered within a partition.
type KafkaProducer struct {
	writer Writer
}

var _ Sink = (*KafkaProducer)(nil)

func NewKafkaProducer(brokers []string, topic string) *KafkaProducer {
	w := &skafka.Writer{
		Addr:         skafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &skafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: skafka.RequireOne,
	}
	return &KafkaProducer{writer: w}
}

// NewKafkaProducerWithWriter allows injecting a test writer.
func NewKafkaProducerWithWriter(w Writer) *KafkaProducer {
	return &KafkaProducer{writer: w}
}

func (p *KafkaProducer) Publish(ctx context.Context, key string, value interface{}) error {
	b, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal kafka value: %w", err)
	}
	if err := p.writer.WriteMessages(ctx, skafka.Message{Key: []byte(key), Value: b}); err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}

func (p *KafkaProducer) Close() error {
	return p.writer.Close()
}

// Reader is the part of kafka.Reader the relay uses
type Reader interface {
	FetchMessage(ctx context.Context) (skafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...skafka.Message) error
	Close() error
}

// Relay consumes the shared topic and replays events published by other
// instances into the local hub, so SSE clients on every instance see them.
type Relay struct {
	reader Reader
	hub    *Hub
	logger *slog.Logger
}

// NewRelay joins groupID; each instance needs its own group to see every event.
func NewRelay(brokers []string, topic, groupID string, hub *Hub, logger *slog.Logger) *Relay {
	r := skafka.NewReader(skafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  500 * time.Millisecond,
	})
	return NewRelayWithReader(r, hub, logger)
}

func NewRelayWithReader(r Reader, hub *Hub, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{reader: r, hub: hub, logger: logger}
}

// Run blocks until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) {
	r.logger.Info("change feed relay started")
	for {
		if ctx.Err() != nil {
			return
		}
		m, err := r.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logger.Warn("fetch change event", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		var ev Event
		if err := json.Unmarshal(m.Value, &ev); err != nil {
			// poison message: commit and move on
			r.logger.Warn("decode change event", "offset", m.Offset, "error", err)
		} else if ev.Origin != r.hub.Origin() {
			r.hub.deliver(ev)
		}

		if err := r.reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
			r.logger.Warn("commit change event", "offset", m.Offset, "error", err)
		}
	}
}

func (r *Relay) Close() error {
	return r.reader.Close()
}
