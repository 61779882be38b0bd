// Package publisher forwards progress events to external consumers.
package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/okian/tempo/internal/domain/model"
	"github.com/okian/tempo/pkg/logger"
	"github.com/okian/tempo/pkg/metrics"
)

const (
	sinkKafka = "kafka"
	sinkNop   = "nop"

	// EventType is carried in the "type" header of every message.
	EventType = "tempo.progress.v1"

	writeBatchTimeout = 10 * time.Millisecond
)

var (
	ErrNoBrokers = errors.New("at least one broker is required")
	ErrNoTopic   = errors.New("topic must not be empty")
)

// Publisher delivers progress events.
type Publisher interface {
	Publish(ctx context.Context, e model.ProgressEvent) error
	Close() error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, model.ProgressEvent) error {
	metrics.RecordEventPublished(sinkNop, nil)
	return nil
}

func (Nop) Close() error { return nil }

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka publishes each event as one JSON message keyed by player id, so a
// player's events stay ordered within a partition.
type Kafka struct {
	writer messageWriter
	topic  string
	log    logger.Logger
}

// NewKafka builds a publisher writing to topic on brokers.
func NewKafka(brokers []string, topic string) (*Kafka, error) {
	if len(brokers) == 0 {
		return nil, ErrNoBrokers
	}
	if strings.TrimSpace(topic) == "" {
		return nil, ErrNoTopic
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		BatchTimeout:           writeBatchTimeout,
		AllowAutoTopicCreation: false,
	}
	return newKafkaWithWriter(w, topic), nil
}

func newKafkaWithWriter(w messageWriter, topic string) *Kafka {
	return &Kafka{
		writer: w,
		topic:  topic,
		log:    logger.Get().Named("publisher"),
	}
}

// Publish writes e and waits for the broker acknowledgement.
func (k *Kafka) Publish(ctx context.Context, e model.ProgressEvent) (err error) {
	defer func() { metrics.RecordEventPublished(sinkKafka, err) }()

	msg, err := message(e)
	if err != nil {
		return err
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		k.log.Error(ctx, "progress publish failed",
			logger.String("topic", k.topic),
			logger.String("player", e.PlayerID),
			logger.Error(err))
		return fmt.Errorf("write %s: %w", k.topic, err)
	}
	return nil
}

// Close flushes pending messages and closes the writer.
func (k *Kafka) Close() error {
	return k.writer.Close()
}

func message(e model.ProgressEvent) (kafka.Message, error) {
	value, err := json.Marshal(e)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encode progress event: %w", err)
	}
	return kafka.Message{
		Key:     []byte(e.PlayerID),
		Value:   value,
		Headers: []kafka.Header{{Key: "type", Value: []byte(EventType)}},
		Time:    e.At,
	}, nil
}
