package mq

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/cozy-creator/lineage-server/internal/config"

	"github.com/apache/pulsar-client-go/pulsar"
	"go.uber.org/zap"
)

type PulsarMQ struct {
	client    pulsar.Client
	producers sync.Map
	consumers sync.Map
	logger    *zap.Logger
}

func NewPulsarMQ(cfg *config.PulsarConfig, logger *zap.Logger) (*PulsarMQ, error) {
	client, err := pulsar.NewClient(pulsar.ClientOptions{URL: cfg.URL})
	if err != nil {
		return nil, fmt.Errorf("failed to create pulsar client: %w", err)
	}

	return &PulsarMQ{client: client, logger: logger}, nil
}

func (mq *PulsarMQ) Publish(ctx context.Context, topic string, message []byte) error {
	producer, err := mq.getProducer(topic)
	if err != nil {
		return err
	}

	_, err = producer.Send(ctx, &pulsar.ProducerMessage{Payload: message})
	return err
}

func (mq *PulsarMQ) Receive(ctx context.Context, topic string) (interface{}, error) {
	consumer, err := mq.getConsumer(topic)
	if err != nil {
		return nil, err
	}

	return consumer.Receive(ctx)
}

func (mq *PulsarMQ) GetMessageData(message interface{}) ([]byte, error) {
	msg, ok := message.(pulsar.Message)
	if !ok {
		return nil, fmt.Errorf("unexpected message type %T", message)
	}

	return msg.Payload(), nil
}

func (mq *PulsarMQ) Ack(topic string, message interface{}) error {
	consumer, err := mq.getConsumer(topic)
	if err != nil {
		return err
	}

	msg, ok := message.(pulsar.Message)
	if !ok {
		return fmt.Errorf("unexpected message type %T", message)
	}

	if err := consumer.Ack(msg); err != nil {
		mq.logger.Warn("failed to ack message", zap.String("topic", topic), zap.Error(err))
		return err
	}

	return nil
}

func (mq *PulsarMQ) CloseTopic(topic string) error {
	if producer, ok := mq.producers.LoadAndDelete(topic); ok {
		producer.(pulsar.Producer).Close()
	}

	if consumer, ok := mq.consumers.LoadAndDelete(topic); ok {
		consumer.(pulsar.Consumer).Close()
	}

	return nil
}

func (mq *PulsarMQ) Close() error {
	mq.producers.Range(func(_, value any) bool {
		value.(pulsar.Producer).Close()
		return true
	})
	mq.consumers.Range(func(_, value any) bool {
		value.(pulsar.Consumer).Close()
		return true
	})
	mq.client.Close()
	return nil
}

func (mq *PulsarMQ) getProducer(topic string) (pulsar.Producer, error) {
	if value, ok := mq.producers.Load(topic); ok {
		return value.(pulsar.Producer), nil
	}

	producer, err := mq.client.CreateProducer(pulsar.ProducerOptions{Topic: topic})
	if err != nil {
		return nil, fmt.Errorf("failed to create producer for %s: %w", topic, err)
	}

	if existing, loaded := mq.producers.LoadOrStore(topic, producer); loaded {
		producer.Close()
		return existing.(pulsar.Producer), nil
	}

	return producer, nil
}

func (mq *PulsarMQ) getConsumer(topic string) (pulsar.Consumer, error) {
	if value, ok := mq.consumers.Load(topic); ok {
		return value.(pulsar.Consumer), nil
	}

	consumer, err := mq.client.Subscribe(pulsar.ConsumerOptions{
		Topic:            topic,
		Type:             pulsar.Shared,
		SubscriptionName: strings.ReplaceAll(topic, "/", "-"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	if existing, loaded := mq.consumers.LoadOrStore(topic, consumer); loaded {
		consumer.Close()
		return existing.(pulsar.Consumer), nil
	}

	return consumer, nil
}
