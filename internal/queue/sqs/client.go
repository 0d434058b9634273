package sqs

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.uber.org/zap"

	envConfig "github.com/himanshugvu/eventAdapter/internal/config"
	"github.com/himanshugvu/eventAdapter/internal/queue"
)

// maxBatch is the SQS limit for messages per ReceiveMessage call
const maxBatch = 10

// API is the subset of the SQS client used by the adapters
type API interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// Client represents an SQS client
type Client struct {
	api API
	log *zap.Logger
}

// NewClient creates a new SQS client
func NewClient(ctx context.Context, cfg envConfig.SQS, log *zap.Logger) (*Client, error) {
	configOpts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}

	var clientOpts []func(*sqs.Options)

	// Configure for local development with ElasticMQ
	if cfg.Endpoint != "" {
		log.Info("Configuring SQS for local development",
			zap.String("endpoint", cfg.Endpoint))
		configOpts = append(configOpts,
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("dummy", "dummy", "")))

		clientOpts = append(clientOpts, func(o *sqs.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, configOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	log.Info("SQS client created", zap.String("region", cfg.Region))

	return NewClientWithAPI(sqs.NewFromConfig(awsCfg, clientOpts...), log), nil
}

// NewClientWithAPI wraps an existing SQS API implementation
func NewClientWithAPI(api API, log *zap.Logger) *Client {
	return &Client{api: api, log: log}
}

// Consumer receives messages from one queue
type Consumer struct {
	client          *Client
	queueURL        string
	waitTimeSeconds int32
}

// NewConsumer creates a consumer for queueURL using long polling
func (c *Client) NewConsumer(queueURL string, waitTimeSeconds int32) *Consumer {
	return &Consumer{client: c, queueURL: queueURL, waitTimeSeconds: waitTimeSeconds}
}

// Receive long-polls the queue. An empty result with a nil error means the poll expired.
func (c *Consumer) Receive(ctx context.Context, limit int) ([]queue.Message, error) {
	if limit <= 0 || limit > maxBatch {
		limit = maxBatch
	}

	out, err := c.client.api.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:              aws.String(c.queueURL),
		MaxNumberOfMessages:   int32(limit),
		WaitTimeSeconds:       c.waitTimeSeconds,
		MessageAttributeNames: []string{"All"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to receive messages from SQS: %w", err)
	}

	received := time.Now()
	msgs := make([]queue.Message, 0, len(out.Messages))
	for _, m := range out.Messages {
		headers := make(map[string]string, len(m.MessageAttributes))
		for name, attr := range m.MessageAttributes {
			if attr.StringValue != nil {
				headers[name] = aws.ToString(attr.StringValue)
			}
		}
		msgs = append(msgs, queue.Message{
			Topic:     c.queueURL,
			Key:       aws.ToString(m.MessageId),
			Value:     aws.ToString(m.Body),
			Headers:   headers,
			Timestamp: received,
			Receipt:   aws.ToString(m.ReceiptHandle),
		})
	}
	return msgs, nil
}

// Ack deletes messages from the queue
func (c *Consumer) Ack(ctx context.Context, msgs ...queue.Message) error {
	var errs []error
	for _, msg := range msgs {
		_, err := c.client.api.DeleteMessage(ctx, &sqs.DeleteMessageInput{
			QueueUrl:      aws.String(c.queueURL),
			ReceiptHandle: aws.String(msg.Receipt),
		})
		if err != nil {
			c.client.log.Error("Failed to delete message",
				zap.String("message_id", msg.Key),
				zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close is a no-op; the SQS client holds no per-consumer resources
func (c *Consumer) Close() error {
	return nil
}

// Producer sends messages to one queue
type Producer struct {
	client   *Client
	queueURL string
}

// NewProducer creates a producer for queueURL
func (c *Client) NewProducer(queueURL string) *Producer {
	return &Producer{client: c, queueURL: queueURL}
}

// Send publishes msg with its headers as string message attributes. SQS has no
// partitions; FIFO queues report their sequence number as the offset.
func (p *Producer) Send(ctx context.Context, msg queue.Message) (queue.Destination, error) {
	attributes := make(map[string]types.MessageAttributeValue, len(msg.Headers))
	for name, value := range msg.Headers {
		attributes[name] = types.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(value),
		}
	}

	out, err := p.client.api.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:          aws.String(p.queueURL),
		MessageBody:       aws.String(msg.Value),
		MessageAttributes: attributes,
	})
	if err != nil {
		return queue.Destination{}, fmt.Errorf("failed to send message to SQS: %w", err)
	}

	dest := queue.Destination{Topic: p.queueURL}
	if seq, err := strconv.ParseInt(aws.ToString(out.SequenceNumber), 10, 64); err == nil {
		dest.Offset = seq
	}
	return dest, nil
}

// Close is a no-op
func (p *Producer) Close() error {
	return nil
}

var (
	_ queue.Consumer = (*Consumer)(nil)
	_ queue.Producer = (*Producer)(nil)
)
