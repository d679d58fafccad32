package mq

import (
	"context"
	"errors"

	"github.com/cozy-creator/lineage-server/internal/config"

	"go.uber.org/zap"
)

var (
	ErrTopicNotExists = errors.New("topic does not exist")
	ErrQueueFull      = errors.New("queue is full")
	ErrQueueClosed    = errors.New("queue closed")
	ErrTopicClosed    = errors.New("topic closed")
)

const (
	MQTypeInMemory = "inmemory"
	MQTypePulsar   = "pulsar"

	defaultInMemorySize = 256
)

type MQ interface {
	Publish(ctx context.Context, topic string, message []byte) error
	// Receive blocks until a message arrives on topic or ctx is done.
	Receive(ctx context.Context, topic string) (interface{}, error)
	GetMessageData(message interface{}) ([]byte, error)
	Ack(topic string, message interface{}) error
	CloseTopic(topic string) error
	Close() error
}

// NewMQ returns a Pulsar-backed queue when a Pulsar URL is configured and
// an in-process queue otherwise.
func NewMQ(cfg *config.Config, logger *zap.Logger) (MQ, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	if cfg != nil && cfg.Pulsar != nil && cfg.Pulsar.URL != "" {
		return NewPulsarMQ(cfg.Pulsar, logger)
	}

	return NewInMemoryMQ(defaultInMemorySize)
}
