package broadcast

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"example.com/steptracker/internal/domain"
)

// EventTypeStepsUpdated labels outbound update records.
const EventTypeStepsUpdated = "steps.updated"

type messageWriter interface {
	WriteMessages(context.Context, string, ...kafka.Message) error
}

// KafkaProducer lazily manages writers per topic.
type KafkaProducer struct {
	brokers []string
	mu      sync.Mutex
	writers map[string]*kafka.Writer
}

// NewKafkaProducer creates a KafkaProducer.
func NewKafkaProducer(brokers []string) *KafkaProducer {
	return &KafkaProducer{
		brokers: brokers,
		writers: make(map[string]*kafka.Writer),
	}
}

// WriteMessages writes messages to the given topic, creating a writer if necessary.
func (p *KafkaProducer) WriteMessages(ctx context.Context, topic string, msgs ...kafka.Message) error {
	return p.writerForTopic(topic).WriteMessages(ctx, msgs...)
}

func (p *KafkaProducer) writerForTopic(topic string) *kafka.Writer {
	p.mu.Lock()
	defer p.mu.Unlock()

	if writer, ok := p.writers[topic]; ok {
		return writer
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(p.brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}
	p.writers[topic] = writer
	return writer
}

// Close releases all writers.
func (p *KafkaProducer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for topic, writer := range p.writers {
		if err := writer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(p.writers, topic)
	}
	return firstErr
}

// KafkaSink publishes each update as a JSON record keyed by session.
type KafkaSink struct {
	writer messageWriter
	topic  string
}

// NewKafkaSink constructs a KafkaSink writing to topic.
func NewKafkaSink(writer messageWriter, topic string) *KafkaSink {
	return &KafkaSink{writer: writer, topic: topic}
}

// Deliver implements Sink.
func (s *KafkaSink) Deliver(ctx context.Context, update domain.Update) error {
	payload, err := json.Marshal(update)
	if err != nil {
		return err
	}
	record := kafka.Message{
		Key:   []byte(update.SessionID),
		Value: payload,
		Time:  update.EmittedAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(EventTypeStepsUpdated)},
			{Key: "event_id", Value: []byte(uuid.NewString())},
		},
	}
	return s.writer.WriteMessages(ctx, s.topic, record)
}
