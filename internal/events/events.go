// Package events publishes lineage changes on the message queue.
package events

import (
	"context"
	"errors"
	"time"

	"github.com/cozy-creator/lineage-server/internal/mq"

	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

type Type string

const (
	PipelineCreated Type = "pipeline.created"
	PipelineDeleted Type = "pipeline.deleted"
	VersionCreated  Type = "version.created"
	VersionDeleted  Type = "version.deleted"
)

type Event struct {
	Type             Type      `msgpack:"type"`
	UserID           string    `msgpack:"user_id"`
	ImageID          string    `msgpack:"image_id"`
	VersionID        string    `msgpack:"version_id,omitempty"`
	ParentID         string    `msgpack:"parent_id,omitempty"`
	Operation        string    `msgpack:"operation,omitempty"`
	AIModel          string    `msgpack:"ai_model,omitempty"`
	ProcessingTimeMs int64     `msgpack:"processing_time_ms,omitempty"`
	At               time.Time `msgpack:"at"`
}

type Publisher interface {
	Publish(ctx context.Context, event Event)
}

// MQPublisher never fails the caller: a lost event is logged, not
// propagated.
type MQPublisher struct {
	queue  mq.MQ
	topic  string
	logger *zap.Logger
}

func NewMQPublisher(queue mq.MQ, topic string, logger *zap.Logger) *MQPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &MQPublisher{queue: queue, topic: topic, logger: logger}
}

func (p *MQPublisher) Publish(ctx context.Context, event Event) {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}

	data, err := msgpack.Marshal(&event)
	if err != nil {
		p.logger.Error("failed to encode event", zap.String("type", string(event.Type)), zap.Error(err))
		return
	}

	if err := p.queue.Publish(ctx, p.topic, data); err != nil {
		p.logger.Warn("failed to publish event",
			zap.String("type", string(event.Type)),
			zap.String("image_id", event.ImageID),
			zap.Error(err))
	}
}

type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) {}

func Decode(data []byte) (Event, error) {
	var event Event
	err := msgpack.Unmarshal(data, &event)
	return event, err
}

// Consume delivers every event on topic to handle until ctx is done or the
// queue is closed.
func Consume(ctx context.Context, queue mq.MQ, topic string, logger *zap.Logger, handle func(Event)) error {
	for {
		message, err := queue.Receive(ctx, topic)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, mq.ErrQueueClosed) || errors.Is(err, mq.ErrTopicClosed) {
				return nil
			}
			return err
		}

		data, err := queue.GetMessageData(message)
		if err != nil {
			logger.Warn("failed to read event", zap.Error(err))
			continue
		}

		event, err := Decode(data)
		if err != nil {
			logger.Warn("failed to decode event", zap.Error(err))
		} else {
			handle(event)
		}

		if err := queue.Ack(topic, message); err != nil {
			logger.Warn("failed to ack event", zap.Error(err))
		}
	}
}
