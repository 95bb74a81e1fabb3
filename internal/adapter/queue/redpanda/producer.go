// Package redpanda publishes and consumes the message-pair events that
// persist conversations asynchronously. The producer is idempotent and
// keys records by conversation ID so each conversation's pairs stay in
// one partition; the persister consumer group applies them to Postgres
// at least once, relying on idempotent inserts to absorb redelivery.
package redpanda

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kotel"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/ai-writing-orchestrator/internal/adapter/observability"
	"github.com/fairyhunter13/ai-writing-orchestrator/internal/domain"
)

// DefaultTopic carries one record per processed request.
const DefaultTopic = "conversation-messages"

const ensureTopicTimeout = 30 * time.Second

// Producer publishes MessagePairEvents. It implements domain.MessageQueue.
type Producer struct {
	client *kgo.Client
	topic  string
}

// NewProducer connects an idempotent producer and makes sure the topic
// exists. Topic creation losing a race to another instance is fine; the
// broker answers TOPIC_ALREADY_EXISTS and startup continues.
func NewProducer(brokers []string, topic string) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("op=redpanda.producer: no seed brokers")
	}
	if topic == "" {
		topic = DefaultTopic
	}

	kotelService := kotel.NewKotel(kotel.WithTracer(
		kotel.NewTracer(kotel.TracerProvider(otel.GetTracerProvider())),
	))

	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.RequestRetries(10),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
		kgo.WithHooks(kotelService.Hooks()...),
	)
	if err != nil {
		return nil, fmt.Errorf("op=redpanda.producer: client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), ensureTopicTimeout)
	defer cancel()
	if err := ensureTopic(ctx, client, topic, 8, 1); err != nil {
		slog.Warn("topic ensure failed, assuming it exists",
			slog.String("topic", topic), slog.Any("error", err))
	}

	slog.Info("redpanda producer ready", slog.String("topic", topic))
	return &Producer{client: client, topic: topic}, nil
}

// PublishMessagePair produces one event and waits for the broker ack.
func (p *Producer) PublishMessagePair(ctx domain.Context, event domain.MessagePairEvent) error {
	record, err := pairRecord(p.topic, event)
	if err != nil {
		observability.RecordMessagePublished("error")
		return err
	}

	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		observability.RecordMessagePublished("error")
		return fmt.Errorf("op=redpanda.publish: produce: %w", err)
	}

	observability.RecordMessagePublished("ok")
	slog.DebugContext(ctx, "message pair published",
		slog.String("request_id", event.RequestID),
		slog.String("conversation_id", event.ConversationID))
	return nil
}

// Ping checks broker connectivity; readiness probes use it.
func (p *Producer) Ping(ctx domain.Context) error {
	if p.client == nil {
		return fmt.Errorf("op=redpanda.ping: client not connected")
	}
	return p.client.Ping(ctx)
}

// Close flushes buffered records and releases the client.
func (p *Producer) Close() {
	if p.client != nil {
		p.client.Close()
	}
}

// pairRecord shapes one event into its wire record: conversation-keyed,
// with routing headers consumers can read without decoding the value.
func pairRecord(topic string, event domain.MessagePairEvent) (*kgo.Record, error) {
	b, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("op=redpanda.publish: marshal: %w", err)
	}
	return &kgo.Record{
		Topic: topic,
		Key:   []byte(event.ConversationID),
		Value: b,
		Headers: []kgo.RecordHeader{
			{Key: "request_id", Value: []byte(event.RequestID)},
			{Key: "project_id", Value: []byte(event.User.ProjectID)},
			{Key: "user_id", Value: []byte(event.User.UserID)},
		},
	}, nil
}
