package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/twmb/franz-go/pkg/kgo"
)

// MessageHandler processes a consumed message.
// Return error to indicate processing failure (the message will still be committed).
type MessageHandler func(ctx context.Context, msg Message) error

// Consumer reads messages from Kafka/RedPanda topics.
type Consumer interface {
	// Consume starts the poll loop. Blocks until ctx is cancelled.
	Consume(ctx context.Context, handler MessageHandler) error
	// Close shuts down the consumer and commits final offsets.
	Close()
}

// KafkaConsumer is a franz-go consumer group member with auto-commit.
type KafkaConsumer struct {
	client  *kgo.Client
	groupID string
	topics  []string
	mu      sync.Mutex
	closed  bool
}

// NewConsumer creates a consumer subscribed to topics. New groups start at
// the earliest offset.
func NewConsumer(brokers []string, groupID string, topics []string) (*KafkaConsumer, error) {
	if len(topics) == 0 {
		return nil, errors.New("bus: at least one topic is required")
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ClientID(groupID),
		kgo.ConsumerGroup(groupID),
		kgo.ConsumeTopics(topics...),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	if err != nil {
		return nil, fmt.Errorf("bus: create kafka consumer: %w", err)
	}

	log.Info().
		Strs("brokers", brokers).
		Str("group_id", groupID).
		Strs("topics", topics).
		Msg("bus: kafka consumer created")

	return &KafkaConsumer{client: client, groupID: groupID, topics: topics}, nil
}

// Consume starts the poll loop. Handler errors are logged and do not stop
// consumption.
func (c *KafkaConsumer) Consume(ctx context.Context, handler MessageHandler) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.New("bus: consumer is closed")
	}
	c.mu.Unlock()

	log.Info().
		Strs("topics", c.topics).
		Str("group", c.groupID).
		Msg("bus: starting consumer loop")

	for {
		fetches := c.client.PollFetches(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		for _, fe := range fetches.Errors() {
			log.Error().
				Err(fe.Err).
				Str("topic", fe.Topic).
				Int32("partition", fe.Partition).
				Msg("bus: fetch error")
		}

		fetches.EachRecord(func(record *kgo.Record) {
			if err := handler(ctx, recordToMessage(record)); err != nil {
				log.Error().Err(err).
					Str("topic", record.Topic).
					Int32("partition", record.Partition).
					Int64("offset", record.Offset).
					Msg("bus: message handler error")
			}
		})

		c.client.AllowRebalance()
	}
}

// Close shuts down the consumer, committing final offsets.
func (c *KafkaConsumer) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.client.Close()
	log.Info().Str("group", c.groupID).Msg("bus: kafka consumer closed")
}

// recordToMessage converts a franz-go Record to a bus.Message.
func recordToMessage(r *kgo.Record) Message {
	headers := make(map[string]string, len(r.Headers))
	for _, h := range r.Headers {
		headers[h.Key] = string(h.Value)
	}
	return Message{
		Topic:     r.Topic,
		Key:       string(r.Key),
		Value:     r.Value,
		Headers:   headers,
		Timestamp: r.Timestamp,
	}
}

// TopicNaming provides canonical topic names.
// Pattern: <domain>.<entity>[.<variant>]
type TopicNaming struct{}

func (TopicNaming) RouteAnalyzed() string        { return "route.analyzed" }
func (TopicNaming) RouteExits() string           { return "route.exits" }
func (TopicNaming) RouteMixers() string          { return "route.mixers" }
func (TopicNaming) RouteAlerts() string          { return "route.alerts" }
func (TopicNaming) AnalyzeRequests() string      { return "route.analyze.requests" }
func (TopicNaming) Heartbeat() string            { return "ops.heartbeat" }
func (TopicNaming) DeadLetter(src string) string { return fmt.Sprintf("ops.dlq.%s", src) }

// Topics is the global topic naming instance.
var Topics = TopicNaming{}

// TopicRetention maps topics to their retention in hours.
var TopicRetention = map[string]int{
	"route.analyzed":         720,
	"route.exits":            2160,
	"route.mixers":           2160,
	"route.alerts":           2160,
	"route.analyze.requests": 72,
	"ops.heartbeat":          24,
	"ops.dlq.*":              168,
}

// AllTopicPrefixes returns all topic prefixes for provisioning.
func AllTopicPrefixes() []string {
	return []string{
		"route.analyzed",
		"route.exits",
		"route.mixers",
		"route.alerts",
		"route.analyze.requests",
		"ops.heartbeat",
		"ops.dlq",
	}
}
