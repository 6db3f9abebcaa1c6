package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/twmb/franz-go/pkg/kgo"
)

// ErrProducerClosed is returned when publishing on a closed producer.
var ErrProducerClosed = errors.New("bus: producer is closed")

// Message represents a message to be published to or consumed from Kafka.
type Message struct {
	Topic     string
	Key       string // partition key
	Value     []byte
	Headers   map[string]string
	Timestamp time.Time
}

// Producer publishes messages to Kafka/RedPanda.
type Producer interface {
	// Publish sends a Message synchronously, waiting for broker acknowledgement.
	Publish(ctx context.Context, msg Message) error
	// PublishJSON marshals value as JSON and publishes synchronously.
	PublishJSON(ctx context.Context, topic, key string, value any) error
	// Flush waits for all buffered records to be delivered.
	Flush(timeout time.Duration) error
	// Close flushes pending records and shuts down the producer.
	Close()
}

// ProducerOption configures a KafkaProducer.
type ProducerOption func(*producerConfig)

type producerConfig struct {
	instanceID         string
	maxBufferedRecords int
	linger             time.Duration
}

// WithInstanceID sets the producer instance identifier used as ClientID and in message headers.
func WithInstanceID(id string) ProducerOption {
	return func(c *producerConfig) { c.instanceID = id }
}

// WithMaxBufferedRecords sets the maximum number of records buffered before blocking.
func WithMaxBufferedRecords(n int) ProducerOption {
	return func(c *producerConfig) { c.maxBufferedRecords = n }
}

// WithLinger sets the time to wait for batching before sending.
func WithLinger(d time.Duration) ProducerOption {
	return func(c *producerConfig) { c.linger = d }
}

// KafkaProducer is a Kafka producer backed by franz-go. Route events are
// keyed by route id so every event of one route lands on one partition.
type KafkaProducer struct {
	client         *kgo.Client
	defaultHeaders map[string]string
	mu             sync.RWMutex
	closed         bool
}

// NewProducer creates a franz-go producer with Snappy compression and
// all-ISR acknowledgements.
func NewProducer(brokers []string, opts ...ProducerOption) (*KafkaProducer, error) {
	cfg := &producerConfig{
		instanceID:         "routeintel-producer",
		maxBufferedRecords: 10000,
		linger:             5 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ClientID(cfg.instanceID),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerLinger(cfg.linger),
		kgo.MaxBufferedRecords(cfg.maxBufferedRecords),
	)
	if err != nil {
		return nil, fmt.Errorf("bus: create kafka producer: %w", err)
	}

	p := &KafkaProducer{
		client: client,
		defaultHeaders: map[string]string{
			"producer":       cfg.instanceID,
			"schema_version": SchemaVersion,
		},
	}

	log.Info().
		Strs("brokers", brokers).
		Str("instance_id", cfg.instanceID).
		Msg("bus: kafka producer created")

	return p, nil
}

// messageToRecord converts a bus.Message to a kgo.Record, injecting default headers.
func (p *KafkaProducer) messageToRecord(msg Message) *kgo.Record {
	headers := make(map[string]string, len(msg.Headers)+len(p.defaultHeaders)+1)
	for k, v := range msg.Headers {
		headers[k] = v
	}
	for k, v := range p.defaultHeaders {
		if _, exists := headers[k]; !exists {
			headers[k] = v
		}
	}
	if _, ok := headers["event_id"]; !ok {
		headers["event_id"] = uuid.New().String()
	}

	rh := make([]kgo.RecordHeader, 0, len(headers))
	for k, v := range headers {
		rh = append(rh, kgo.RecordHeader{Key: k, Value: []byte(v)})
	}

	ts := msg.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	return &kgo.Record{
		Topic:     msg.Topic,
		Key:       []byte(msg.Key),
		Value:     msg.Value,
		Headers:   rh,
		Timestamp: ts,
	}
}

// Publish sends a Message synchronously, waiting for broker acknowledgement.
func (p *KafkaProducer) Publish(ctx context.Context, msg Message) error {
	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()
	if closed {
		return ErrProducerClosed
	}

	results := p.client.ProduceSync(ctx, p.messageToRecord(msg))
	if err := results.FirstErr(); err != nil {
		log.Error().Err(err).
			Str("topic", msg.Topic).
			Str("key", msg.Key).
			Msg("bus: publish failed")
		return fmt.Errorf("bus: publish to %s: %w", msg.Topic, err)
	}

	r := results[0].Record
	log.Debug().
		Str("topic", r.Topic).
		Int32("partition", r.Partition).
		Int64("offset", r.Offset).
		Msg("bus: message published")

	return nil
}

// PublishJSON marshals value as JSON and publishes synchronously.
func (p *KafkaProducer) PublishJSON(ctx context.Context, topic, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("bus: marshal json: %w", err)
	}
	return p.Publish(ctx, Message{Topic: topic, Key: key, Value: data})
}

// PublishEvent marshals value as JSON and publishes it with eventID as the
// event_id header, so the header matches the id carried in the payload.
func PublishEvent(ctx context.Context, p Producer, topic, key, eventID string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("bus: marshal event %s: %w", eventID, err)
	}
	return p.Publish(ctx, Message{
		Topic:   topic,
		Key:     key,
		Value:   data,
		Headers: map[string]string{"event_id": eventID},
	})
}

// Flush waits for all buffered records to be delivered.
func (p *KafkaProducer) Flush(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := p.client.Flush(ctx); err != nil {
		return fmt.Errorf("bus: flush: %w", err)
	}
	return nil
}

// Close flushes pending records and shuts down the producer.
func (p *KafkaProducer) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	p.client.Close()
	log.Info().Msg("bus: kafka producer closed")
}

// --- Stub producer for development/testing ---

// StubProducer implements Producer by buffering messages in memory.
// Used when Kafka is disabled and in unit tests.
type StubProducer struct {
	Messages []StubMessage
	// Err, when set, is returned from every publish.
	Err error
	mu  sync.Mutex
}

// StubMessage is a message captured by StubProducer.
type StubMessage struct {
	Topic   string
	Key     string
	Value   []byte
	Headers map[string]string
}

// NewStubProducer creates a new in-memory stub producer.
func NewStubProducer() *StubProducer {
	return &StubProducer{Messages: make([]StubMessage, 0, 64)}
}

func (p *StubProducer) Publish(_ context.Context, msg Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	p.Messages = append(p.Messages, StubMessage{Topic: msg.Topic, Key: msg.Key, Value: msg.Value, Headers: msg.Headers})
	log.Debug().Str("topic", msg.Topic).Int("bytes", len(msg.Value)).Msg("stub: publish")
	return nil
}

func (p *StubProducer) PublishJSON(ctx context.Context, topic, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return p.Publish(ctx, Message{Topic: topic, Key: key, Value: data})
}

// ByTopic returns a copy of the captured messages for topic.
func (p *StubProducer) ByTopic(topic string) []StubMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []StubMessage
	for _, m := range p.Messages {
		if m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}

// Count returns the number of captured messages.
func (p *StubProducer) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Messages)
}

func (p *StubProducer) Flush(_ time.Duration) error { return nil }

func (p *StubProducer) Close() {
	log.Info().Msg("stub: producer closed")
}
