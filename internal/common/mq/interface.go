package mq

import (
	"context"
	"time"
)

// MessageQueue is a broker client that both publishes and consumes.
type MessageQueue interface {
	Producer
	Consumer
	Ping(ctx context.Context) error
	Close() error
}

type Producer interface {
	Publish(ctx context.Context, topic string, message *Message) error
}

// Consumer delivers messages to registered handlers between Start and Stop.
type Consumer interface {
	// SubscribeWithOptions registers handler for topic. A handler error retries the message.
	SubscribeWithOptions(ctx context.Context, topic string, handler HandlerFunc, opts *SubscribeOptions) error
	Start() error
	Stop() error
}

// Message is the broker-neutral envelope. ID doubles as the partition key on Kafka.
type Message struct {
	ID        string            `json:"id"`
	Body      []byte            `json:"body"`
	Headers   map[string]string `json:"headers"`
	Timestamp time.Time         `json:"timestamp"`

	// RetryCount counts failed handler attempts for this delivery.
	RetryCount int `json:"retry_count"`
	MaxRetries int `json:"max_retries"`
}

type HandlerFunc func(ctx context.Context, message *Message) error

// SubscribeOptions tunes one subscription.
type SubscribeOptions struct {
	ConsumerGroup string
	// Concurrency is the number of handler workers. Default 1.
	Concurrency int
	// MaxRetries bounds handler attempts after the first. Default 3.
	MaxRetries int
	// RetryDelay defaults to one second.
	RetryDelay time.Duration
	// DeadLetterTopic receives messages that exhausted MaxRetries.
	DeadLetterTopic string
}

// SetDefaults fills zero values.
func (o *SubscribeOptions) SetDefaults() {
	if o.Concurrency <= 0 {
		o.Concurrency = 1
	}
	if o.MaxRetries == 0 {
		o.MaxRetries = 3
	}
	if o.RetryDelay == 0 {
		o.RetryDelay = time.Second
	}
}

func NewMessage(body []byte) *Message {
	return &Message{
		Body:      body,
		Headers:   make(map[string]string),
		Timestamp: time.Now(),
	}
}

func (m *Message) SetHeader(key, value string) {
	if m.Headers == nil {
		m.Headers = make(map[string]string)
	}
	m.Headers[key] = value
}

func (m *Message) GetHeader(key string) (string, bool) {
	val, ok := m.Headers[key]
	return val, ok
}

// runHandler retries handler until it succeeds, retries are exhausted or ctx ends.
// It reports whether the message is settled; false means it should be redelivered.
func runHandler(ctx context.Context, handler HandlerFunc, m *Message, opts SubscribeOptions, deadLetter Producer) bool {
	if m.MaxRetries == 0 {
		m.MaxRetries = opts.MaxRetries
	}
	for {
		if err := handler(ctx, m); err == nil {
			return true
		}
		m.RetryCount++
		if m.RetryCount > m.MaxRetries {
			if opts.DeadLetterTopic != "" && deadLetter != nil {
				_ = deadLetter.Publish(ctx, opts.DeadLetterTopic, m)
			}
			return true
		}
		if !sleepCtx(ctx, opts.RetryDelay) {
			return false
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
