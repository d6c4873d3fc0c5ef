package service

import (
	"context"
	"encoding/json"
	"time"

	"ojcore/internal/common/mq"
	"ojcore/internal/judge/model"
	appErr "ojcore/pkg/errors"
)

// ResultIntake routes pushed execution results to the collector.
// With a producer configured, results travel through the result topic first.
type ResultIntake struct {
	signer    *CallbackSigner
	collector *Collector
	producer  mq.Producer
	topic     string
}

func NewResultIntake(signer *CallbackSigner, collector *Collector, producer mq.Producer, topic string) *ResultIntake {
	return &ResultIntake{signer: signer, collector: collector, producer: producer, topic: topic}
}

// Accept verifies the callback token and hands the outcome on.
func (r *ResultIntake) Accept(ctx context.Context, token, handle string, out model.Outcome) error {
	if r.signer == nil {
		return appErr.New(appErr.ServiceUnavailable).WithMessage("result callbacks are disabled")
	}
	submissionID, err := r.signer.Verify(token)
	if err != nil {
		return err
	}
	if handle == "" {
		return appErr.ValidationError("handle", "required")
	}
	event := model.ExecutionResultEvent{
		SubmissionID: submissionID,
		Handle:       handle,
		Outcome:      out,
		ReceivedAt:   time.Now(),
	}
	if r.producer == nil || r.topic == "" {
		return r.collector.Deliver(ctx, event)
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return appErr.Wrapf(err, appErr.InternalServerError, "encode result event failed")
	}
	message := mq.NewMessage(payload)
	message.ID = handle
	message.SetHeader("submission_id", submissionID)
	if err := r.producer.Publish(ctx, r.topic, message); err != nil {
		return appErr.Wrapf(err, appErr.ServiceUnavailable, "publish result event failed")
	}
	return nil
}

// HandleResultMessage is the result topic handler.
func (r *ResultIntake) HandleResultMessage(ctx context.Context, msg *mq.Message) error {
	if msg == nil {
		return appErr.New(appErr.InvalidParams).WithMessage("message is nil")
	}
	var event model.ExecutionResultEvent
	if err := json.Unmarshal(msg.Body, &event); err != nil {
		return appErr.Wrapf(err, appErr.InvalidParams, "decode result event failed")
	}
	return r.collector.Deliver(ctx, event)
}

// Subscribe registers the result handler on consumer.
func (r *ResultIntake) Subscribe(ctx context.Context, consumer mq.Consumer, opts *mq.SubscribeOptions) error {
	return consumer.SubscribeWithOptions(ctx, r.topic, r.HandleResultMessage, opts)
}
