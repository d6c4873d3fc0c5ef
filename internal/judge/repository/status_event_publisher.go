package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"ojcore/internal/common/mq"
	"ojcore/internal/judge/model"
	appErr "ojcore/pkg/errors"
)

// StatusEventPublisher announces submissions that reached DONE.
type StatusEventPublisher interface {
	PublishFinal(ctx context.Context, event model.SubmissionFinalEvent) error
}

// MQStatusEventPublisher writes final events as JSON to one topic.
type MQStatusEventPublisher struct {
	queue mq.Producer
	topic string
}

func NewMQStatusEventPublisher(queue mq.Producer, topic string) *MQStatusEventPublisher {
	return &MQStatusEventPublisher{queue: queue, topic: topic}
}

// PublishFinal keys the message by submission id so consumers can deduplicate.
func (p *MQStatusEventPublisher) PublishFinal(ctx context.Context, event model.SubmissionFinalEvent) error {
	if p == nil || p.queue == nil {
		return appErr.New(appErr.ServiceUnavailable).WithMessage("status publisher is not configured")
	}
	if p.topic == "" {
		return appErr.New(appErr.InvalidParams).WithMessage("status topic is required")
	}
	if event.SubmissionID == "" {
		return appErr.ValidationError("submission_id", "required")
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal status event failed: %w", err)
	}
	message := mq.NewMessage(payload)
	message.ID = event.SubmissionID
	message.SetHeader("event", "submission.final")
	message.SetHeader("verdict", string(event.Verdict))
	message.SetHeader("problem_id", strconv.FormatInt(event.ProblemID, 10))
	if err := p.queue.Publish(ctx, p.topic, message); err != nil {
		return appErr.Wrapf(err, appErr.ServiceUnavailable, "publish status event failed")
	}
	return nil
}
