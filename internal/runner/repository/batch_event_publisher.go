package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"codelens/internal/common/mq"
	"codelens/internal/runner/model"
	appErr "codelens/pkg/errors"

	"github.com/zeromicro/go-zero/core/logx"
)

// BatchEventPublisher publishes batch lifecycle events for async consumers.
type BatchEventPublisher interface {
	PublishBatchCompleted(ctx context.Context, status model.BatchStatus) error
}

// MQBatchEventPublisher publishes batch events to a message queue.
type MQBatchEventPublisher struct {
	producer mq.Producer
	topic    string
}

// NewMQBatchEventPublisher creates a new MQ batch event publisher.
func NewMQBatchEventPublisher(producer mq.Producer, topic string) *MQBatchEventPublisher {
	return &MQBatchEventPublisher{producer: producer, topic: topic}
}

// PublishBatchCompleted publishes the final event for a batch.
func (p *MQBatchEventPublisher) PublishBatchCompleted(ctx context.Context, status model.BatchStatus) error {
	logger := logx.WithContext(ctx)
	logger.Infof("publish batch event start batch_id=%s state=%s", status.BatchID, status.State)
	if p == nil || p.producer == nil {
		logger.Error("batch event publisher is not configured")
		return appErr.New(appErr.ServiceUnavailable).WithMessage("batch event publisher is not configured")
	}
	if p.topic == "" {
		logger.Error("batch event topic is required")
		return appErr.New(appErr.InvalidParams).WithMessage("batch event topic is required")
	}
	if status.BatchID == "" {
		logger.Error("batch_id is required")
		return appErr.ValidationError("batch_id", "required")
	}
	event := model.BatchEvent{
		Type:      model.BatchEventCompleted,
		Status:    status,
		CreatedAt: time.Now().Unix(),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		logger.Errorf("marshal batch event failed: %v", err)
		return fmt.Errorf("marshal batch event failed: %w", err)
	}
	message := mq.NewMessage(payload)
	message.ID = status.BatchID
	if err := p.producer.Publish(ctx, p.topic, message); err != nil {
		logger.Errorf("publish batch event failed: %v", err)
		return appErr.Wrapf(err, appErr.PublishFailed, "publish batch event failed")
	}
	return nil
}
