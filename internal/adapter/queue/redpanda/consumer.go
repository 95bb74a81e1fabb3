package redpanda

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kotel"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/fairyhunter13/ai-writing-orchestrator/internal/adapter/observability"
	"github.com/fairyhunter13/ai-writing-orchestrator/internal/domain"
	obsctx "github.com/fairyhunter13/ai-writing-orchestrator/internal/observability"
	"github.com/fairyhunter13/ai-writing-orchestrator/pkg/textx"
)

// DefaultGroup is the persister's consumer group.
const DefaultGroup = "persister"

// Consumer applies message-pair events to the message store. Records are
// marked only after their insert succeeded, so the committed offset never
// passes an unapplied record.
type Consumer struct {
	client   *kgo.Client
	messages domain.MessageRepository
	topic    string
	group    string

	maxConcurrent int

	retryBase time.Duration
	retryCap  time.Duration
	retries   uint64
}

// NewConsumer joins the consumer group and subscribes to the topic.
// maxConcurrent bounds how many partitions apply in parallel per poll;
// records within a partition always apply in order.
func NewConsumer(brokers []string, group, topic string, messages domain.MessageRepository, maxConcurrent int) (*Consumer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("op=redpanda.consumer: no seed brokers")
	}
	if group == "" {
		group = DefaultGroup
	}
	if topic == "" {
		topic = DefaultTopic
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}

	kotelService := kotel.NewKotel(kotel.WithTracer(
		kotel.NewTracer(kotel.TracerProvider(otel.GetTracerProvider())),
	))

	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ConsumerGroup(group),
		kgo.ConsumeTopics(topic),
		kgo.WithHooks(kotelService.Hooks()...),
		kgo.DialTimeout(10*time.Second),
		kgo.SessionTimeout(30*time.Second),
		kgo.HeartbeatInterval(3*time.Second),
		kgo.FetchMaxWait(5*time.Second),
		kgo.AutoCommitMarks(),
		kgo.AutoCommitInterval(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("op=redpanda.consumer: client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), ensureTopicTimeout)
	defer cancel()
	if err := ensureTopic(ctx, client, topic, 8, 1); err != nil {
		slog.Warn("topic ensure failed, assuming it exists",
			slog.String("topic", topic), slog.Any("error", err))
	}

	return &Consumer{
		client:        client,
		messages:      messages,
		topic:         topic,
		group:         group,
		maxConcurrent: maxConcurrent,
		retryBase:     500 * time.Millisecond,
		retryCap:      5 * time.Second,
		retries:       5,
	}, nil
}

// Run polls until ctx is cancelled or a record cannot be applied even
// after retries. Returning on a stuck record hands the decision to the
// supervisor: the next start replays from the last committed offset.
func (c *Consumer) Run(ctx domain.Context) error {
	slog.Info("persister consuming",
		slog.String("topic", c.topic), slog.String("group", c.group))

	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			slog.Error("fetch error",
				slog.String("topic", topic),
				slog.Int("partition", int(partition)),
				slog.Any("error", err))
		})

		// Partitions apply in parallel; records within one stay ordered,
		// and MarkCommitRecords is safe to call from several goroutines.
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(c.maxConcurrent)
		fetches.EachPartition(func(p kgo.FetchTopicPartition) {
			records := p.Records
			if len(records) == 0 {
				return
			}
			g.Go(func() error {
				for _, record := range records {
					if err := c.apply(gctx, record); err != nil {
						return err
					}
					c.client.MarkCommitRecords(record)
				}
				return nil
			})
		})
		if err := g.Wait(); err != nil {
			return fmt.Errorf("op=redpanda.consume: %w", err)
		}
	}
}

// Close leaves the group and releases the client. A final offset commit
// of marked records happens during the leave.
func (c *Consumer) Close() {
	if c.client != nil {
		c.client.Close()
	}
}

// apply decodes and persists one record. Malformed records are logged and
// skipped: they can never succeed on redelivery. Insert failures retry
// with exponential backoff before giving up.
func (c *Consumer) apply(ctx domain.Context, record *kgo.Record) error {
	var event domain.MessagePairEvent
	if err := json.Unmarshal(record.Value, &event); err != nil {
		observability.RecordMessagePersisted("malformed")
		slog.Error("malformed message pair event",
			slog.String("topic", record.Topic),
			slog.Int64("offset", record.Offset),
			slog.Any("error", err))
		return nil
	}

	// Model output occasionally carries control characters; Postgres text
	// columns reject NUL outright, so scrub before the insert.
	event.User.Content = textx.SanitizeText(event.User.Content)
	event.Agent.Content = textx.SanitizeText(event.Agent.Content)

	// Carry the request id from the producing side so persister logs
	// correlate with the HTTP request that minted the pair.
	ctx = obsctx.ContextWithRequestID(ctx, event.RequestID)
	lg := obsctx.LoggerFromContext(ctx).With(
		slog.String("conversation_id", event.ConversationID))
	ctx = obsctx.ContextWithLogger(ctx, lg)

	insert := func() error { return c.messages.InsertPair(ctx, event.User, event.Agent) }
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = c.retryBase
	expo.MaxInterval = c.retryCap
	expo.MaxElapsedTime = 0
	bo := backoff.WithMaxRetries(backoff.WithContext(expo, ctx), c.retries)

	if err := backoff.Retry(insert, bo); err != nil {
		observability.RecordMessagePersisted("error")
		lg.Error("message pair insert failed", slog.Any("error", err))
		return err
	}

	observability.RecordMessagePersisted("ok")
	lg.DebugContext(ctx, "message pair persisted")
	return nil
}
