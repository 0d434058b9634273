package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/himanshugvu/eventAdapter/internal/config"
	"github.com/himanshugvu/eventAdapter/internal/consumer"
	"github.com/himanshugvu/eventAdapter/internal/queue"
	"github.com/himanshugvu/eventAdapter/internal/queue/kafka"
	"github.com/himanshugvu/eventAdapter/internal/queue/sqs"
)

// transport opens producers and per-worker consumers for the configured broker
type transport struct {
	producer queue.Producer
	factory  consumer.ConsumerFactory
}

func openTransport(ctx context.Context, cfg *config.Config, log *zap.Logger) (*transport, error) {
	switch cfg.Transport.Driver {
	case "kafka":
		producer, err := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Producer.Topic, cfg.Resilience.PublishTimeout, log)
		if err != nil {
			return nil, err
		}
		return &transport{
			producer: producer,
			factory: func(worker int) (queue.Consumer, error) {
				c, err := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Consumer.Topic, cfg.Consumer.GroupID,
					log.With(zap.Int("worker", worker)))
				if err != nil {
					return nil, err
				}
				return c, nil
			},
		}, nil

	case "sqs":
		client, err := sqs.NewClient(ctx, cfg.SQS, log)
		if err != nil {
			return nil, fmt.Errorf("failed to create SQS client: %w", err)
		}
		return &transport{
			producer: client.NewProducer(cfg.SQS.OutputQueueURL),
			factory: func(int) (queue.Consumer, error) {
				return client.NewConsumer(cfg.SQS.InputQueueURL, cfg.SQS.WaitTimeSeconds), nil
			},
		}, nil
	}

	return nil, fmt.Errorf("unsupported transport %q", cfg.Transport.Driver)
}
