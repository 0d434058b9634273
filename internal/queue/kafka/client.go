package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"

	"github.com/himanshugvu/eventAdapter/internal/queue"
)

// ErrClosed is returned by Receive after the consumer has been closed.
var ErrClosed = errors.New("kafka consumer closed")

type recordKey struct {
	topic     string
	partition int32
	offset    int64
}

// Consumer is one member of a consumer group. Offsets are committed only for
// acknowledged records.
type Consumer struct {
	client *kgo.Client
	log    *zap.Logger

	mu      sync.Mutex
	pending map[recordKey]*kgo.Record
}

// NewConsumer joins group and subscribes to topic
func NewConsumer(brokers []string, topic, group string, log *zap.Logger) (*Consumer, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ConsumerGroup(group),
		kgo.ConsumeTopics(topic),
		kgo.DisableAutoCommit(),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}

	log.Info("Kafka consumer created",
		zap.Strings("brokers", brokers),
		zap.String("topic", topic),
		zap.String("group", group))

	return &Consumer{
		client:  client,
		log:     log,
		pending: make(map[recordKey]*kgo.Record),
	}, nil
}

// Receive polls up to limit records
func (c *Consumer) Receive(ctx context.Context, limit int) ([]queue.Message, error) {
	fetches := c.client.PollRecords(ctx, limit)
	if fetches.IsClientClosed() {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var errs []error
	fetches.EachError(func(topic string, partition int32, err error) {
		errs = append(errs, fmt.Errorf("fetch %s/%d: %w", topic, partition, err))
	})

	var msgs []queue.Message
	c.mu.Lock()
	fetches.EachRecord(func(r *kgo.Record) {
		c.pending[recordKey{r.Topic, r.Partition, r.Offset}] = r
		msgs = append(msgs, toMessage(r))
	})
	c.mu.Unlock()

	if len(msgs) == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	for _, err := range errs {
		c.log.Warn("Partial fetch error", zap.Error(err))
	}
	return msgs, nil
}

// Ack commits the offsets of msgs
func (c *Consumer) Ack(ctx context.Context, msgs ...queue.Message) error {
	records := make([]*kgo.Record, 0, len(msgs))

	c.mu.Lock()
	for _, msg := range msgs {
		key := recordKey{msg.Topic, msg.Partition, msg.Offset}
		if r, ok := c.pending[key]; ok {
			records = append(records, r)
			delete(c.pending, key)
		}
	}
	c.mu.Unlock()

	if len(records) == 0 {
		return nil
	}
	if err := c.client.CommitRecords(ctx, records...); err != nil {
		return fmt.Errorf("failed to commit offsets: %w", err)
	}
	return nil
}

// Close leaves the group and closes the client
func (c *Consumer) Close() error {
	c.client.Close()
	return nil
}

// Producer writes to a single topic and waits for broker acknowledgment
type Producer struct {
	client *kgo.Client
	topic  string
}

// NewProducer creates a producer for topic. deliveryTimeout bounds how long the
// client keeps retrying a single record internally.
func NewProducer(brokers []string, topic string, deliveryTimeout time.Duration, log *zap.Logger) (*Producer, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.RecordDeliveryTimeout(deliveryTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	log.Info("Kafka producer created", zap.String("topic", topic))
	return &Producer{client: client, topic: topic}, nil
}

// Send produces msg synchronously and reports where it landed
func (p *Producer) Send(ctx context.Context, msg queue.Message) (queue.Destination, error) {
	topic := msg.Topic
	if topic == "" {
		topic = p.topic
	}

	r, err := p.client.ProduceSync(ctx, toRecord(topic, msg)).First()
	if err != nil {
		return queue.Destination{}, fmt.Errorf("failed to produce to %s: %w", topic, err)
	}
	return queue.Destination{Topic: r.Topic, Partition: r.Partition, Offset: r.Offset}, nil
}

// Close flushes buffered records and closes the client
func (p *Producer) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := p.client.Flush(ctx)
	p.client.Close()
	return err
}

func toMessage(r *kgo.Record) queue.Message {
	headers := make(map[string]string, len(r.Headers))
	for _, h := range r.Headers {
		headers[h.Key] = string(h.Value)
	}
	return queue.Message{
		Topic:     r.Topic,
		Partition: r.Partition,
		Offset:    r.Offset,
		Key:       string(r.Key),
		Value:     string(r.Value),
		Headers:   headers,
		Timestamp: r.Timestamp,
	}
}

func toRecord(topic string, msg queue.Message) *kgo.Record {
	r := &kgo.Record{
		Topic: topic,
		Value: []byte(msg.Value),
	}
	if msg.Key != "" {
		r.Key = []byte(msg.Key)
	}
	for k, v := range msg.Headers {
		r.Headers = append(r.Headers, kgo.RecordHeader{Key: k, Value: []byte(v)})
	}
	return r
}

var (
	_ queue.Consumer = (*Consumer)(nil)
	_ queue.Producer = (*Producer)(nil)
)
