package mq

import (
	"context"
	"errors"
	"sync"
	"time"
)

// MemoryQueue is an in-process MessageQueue.
// Publish delivers synchronously to every handler subscribed to the topic,
// retrying and dead-lettering with the same rules as KafkaQueue.
type MemoryQueue struct {
	mu       sync.RWMutex
	handlers map[string][]memorySubscription
	closed   bool
}

type memorySubscription struct {
	ctx     context.Context
	handler HandlerFunc
	opts    SubscribeOptions
}

// NewMemoryQueue creates an empty in-process queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{handlers: make(map[string][]memorySubscription)}
}

// Publish hands message to the topic's subscribers.
func (q *MemoryQueue) Publish(ctx context.Context, topic string, message *Message) error {
	if message == nil {
		return errors.New("message is nil")
	}
	if topic == "" {
		return errors.New("topic is required")
	}
	q.mu.RLock()
	if q.closed {
		q.mu.RUnlock()
		return errors.New("message queue is closed")
	}
	subs := append([]memorySubscription(nil), q.handlers[topic]...)
	q.mu.RUnlock()

	if message.Timestamp.IsZero() {
		message.Timestamp = time.Now()
	}
	for _, sub := range subs {
		q.deliver(sub, cloneMessage(message))
	}
	return nil
}

func (q *MemoryQueue) deliver(sub memorySubscription, m *Message) {
	runHandler(sub.ctx, sub.handler, m, sub.opts, q)
}

// SubscribeWithOptions registers handler for topic.
func (q *MemoryQueue) SubscribeWithOptions(ctx context.Context, topic string, handler HandlerFunc, opts *SubscribeOptions) error {
	if topic == "" {
		return errors.New("topic is required")
	}
	if handler == nil {
		return errors.New("handler is required")
	}
	var options SubscribeOptions
	if opts != nil {
		options = *opts
	}
	options.SetDefaults()
	if ctx == nil {
		ctx = context.Background()
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[topic] = append(q.handlers[topic], memorySubscription{ctx: ctx, handler: handler, opts: options})
	return nil
}

func (q *MemoryQueue) Start() error { return nil }

func (q *MemoryQueue) Stop() error { return nil }

func (q *MemoryQueue) Ping(ctx context.Context) error { return nil }

// Close drops all subscriptions.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.handlers = make(map[string][]memorySubscription)
	return nil
}

func cloneMessage(m *Message) *Message {
	out := *m
	out.Body = append([]byte(nil), m.Body...)
	out.Headers = make(map[string]string, len(m.Headers))
	for k, v := range m.Headers {
		out.Headers[k] = v
	}
	return &out
}

var _ MessageQueue = (*MemoryQueue)(nil)
