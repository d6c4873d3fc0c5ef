package mq

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"golang.org/x/sync/errgroup"
)

const (
	headerID         = "x-message-id"
	headerRetryCount = "x-message-retry"
	headerMaxRetries = "x-message-max-retries"

	fetchBackoff = 100 * time.Millisecond
)

// KafkaConfig configures the shared writer and the per-subscription readers.
type KafkaConfig struct {
	Brokers  []string `yaml:"brokers"`
	ClientID string   `yaml:"clientID"`

	// RequiredAcks is -1 for all replicas, 1 for the leader only.
	RequiredAcks int           `yaml:"requiredAcks"`
	Compression  string        `yaml:"compression"`
	BatchSize    int           `yaml:"batchSize"`
	BatchTimeout time.Duration `yaml:"batchTimeout"`

	MinBytes int           `yaml:"minBytes"`
	MaxBytes int           `yaml:"maxBytes"`
	MaxWait  time.Duration `yaml:"maxWait"`

	DialTimeout time.Duration `yaml:"dialTimeout"`
}

func (c *KafkaConfig) setDefaults() {
	if c.RequiredAcks == 0 {
		c.RequiredAcks = int(kafka.RequireOne)
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = 50 * time.Millisecond
	}
	if c.MinBytes <= 0 {
		c.MinBytes = 1
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 10 << 20
	}
	if c.MaxWait <= 0 {
		c.MaxWait = time.Second
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 10 * time.Second
	}
}

func parseCompression(name string) (kafka.Compression, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "none":
		return 0, nil
	case "gzip":
		return kafka.Gzip, nil
	case "snappy":
		return kafka.Snappy, nil
	case "lz4":
		return kafka.Lz4, nil
	case "zstd":
		return kafka.Zstd, nil
	default:
		return 0, fmt.Errorf("unknown kafka compression %q", name)
	}
}

// KafkaQueue publishes through one writer and consumes each subscription with its
// own consumer-group reader. Offsets are committed only after the handler settles a message.
type KafkaQueue struct {
	cfg    KafkaConfig
	writer *kafka.Writer
	dialer *kafka.Dialer

	mu      sync.Mutex
	subs    []*kafkaSubscription
	started bool
	closed  bool
}

type kafkaSubscription struct {
	topic   string
	handler HandlerFunc
	opts    SubscribeOptions
	parent  context.Context

	reader *kafka.Reader
	cancel context.CancelFunc
	group  *errgroup.Group
}

func NewKafkaQueue(cfg KafkaConfig) (*KafkaQueue, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	cfg.setDefaults()
	codec, err := parseCompression(cfg.Compression)
	if err != nil {
		return nil, err
	}

	dialer := &kafka.Dialer{ClientID: cfg.ClientID, Timeout: cfg.DialTimeout, DualStack: true}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequiredAcks(cfg.RequiredAcks),
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		Compression:  codec,
		Transport:    &kafka.Transport{ClientID: cfg.ClientID, DialTimeout: cfg.DialTimeout},
	}
	return &KafkaQueue{cfg: cfg, writer: writer, dialer: dialer}, nil
}

// Publish writes message keyed by its ID, so one submission's events stay in one partition.
func (k *KafkaQueue) Publish(ctx context.Context, topic string, message *Message) error {
	if message == nil {
		return errors.New("message is nil")
	}
	if topic == "" {
		return errors.New("topic is required")
	}
	return k.writer.WriteMessages(ctx, toKafkaMessage(topic, message))
}

func (k *KafkaQueue) SubscribeWithOptions(ctx context.Context, topic string, handler HandlerFunc, opts *SubscribeOptions) error {
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
	if options.ConsumerGroup == "" {
		options.ConsumerGroup = "ojcore-" + topic
	}
	if ctx == nil {
		ctx = context.Background()
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return errors.New("message queue is closed")
	}
	sub := &kafkaSubscription{topic: topic, handler: handler, opts: options, parent: ctx}
	k.subs = append(k.subs, sub)
	if k.started {
		k.run(sub)
	}
	return nil
}

// Start launches every registered subscription. Later subscriptions start immediately.
func (k *KafkaQueue) Start() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return errors.New("message queue is closed")
	}
	if k.started {
		return nil
	}
	for _, sub := range k.subs {
		k.run(sub)
	}
	k.started = true
	return nil
}

// Stop cancels all readers and waits for in-flight handlers. Unsettled messages are
// left uncommitted for redelivery.
func (k *KafkaQueue) Stop() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	for _, sub := range k.subs {
		if sub.cancel == nil {
			continue
		}
		sub.cancel()
		_ = sub.group.Wait()
		_ = sub.reader.Close()
		sub.cancel, sub.group, sub.reader = nil, nil, nil
	}
	k.started = false
	return nil
}

func (k *KafkaQueue) Ping(ctx context.Context) error {
	conn, err := k.dialer.DialContext(ctx, "tcp", k.cfg.Brokers[0])
	if err != nil {
		return err
	}
	return conn.Close()
}

// Close stops consumers and flushes the writer.
func (k *KafkaQueue) Close() error {
	k.mu.Lock()
	if k.closed {
		k.mu.Unlock()
		return nil
	}
	k.closed = true
	k.mu.Unlock()

	_ = k.Stop()
	return k.writer.Close()
}

func (k *KafkaQueue) run(sub *kafkaSubscription) {
	sub.reader = kafka.NewReader(kafka.ReaderConfig{
		Brokers:     k.cfg.Brokers,
		Topic:       sub.topic,
		GroupID:     sub.opts.ConsumerGroup,
		Dialer:      k.dialer,
		MinBytes:    k.cfg.MinBytes,
		MaxBytes:    k.cfg.MaxBytes,
		MaxWait:     k.cfg.MaxWait,
		StartOffset: kafka.FirstOffset,
	})
	ctx, cancel := context.WithCancel(sub.parent)
	sub.cancel = cancel
	sub.group = &errgroup.Group{}

	reader := sub.reader
	msgs := make(chan kafka.Message, sub.opts.Concurrency)
	sub.group.Go(func() error {
		defer close(msgs)
		for {
			msg, err := reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				if !sleepCtx(ctx, fetchBackoff) {
					return nil
				}
				continue
			}
			select {
			case msgs <- msg:
			case <-ctx.Done():
				return nil
			}
		}
	})
	for i := 0; i < sub.opts.Concurrency; i++ {
		sub.group.Go(func() error {
			for msg := range msgs {
				if runHandler(ctx, sub.handler, fromKafkaMessage(msg), sub.opts, k) {
					_ = reader.CommitMessages(ctx, msg)
				}
			}
			return nil
		})
	}
}

func toKafkaMessage(topic string, m *Message) kafka.Message {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	headers := make([]kafka.Header, 0, len(m.Headers)+3)
	for key, v := range m.Headers {
		headers = append(headers, kafka.Header{Key: key, Value: []byte(v)})
	}
	if m.ID != "" {
		headers = append(headers, kafka.Header{Key: headerID, Value: []byte(m.ID)})
	}
	if m.RetryCount > 0 {
		headers = append(headers, kafka.Header{Key: headerRetryCount, Value: []byte(strconv.Itoa(m.RetryCount))})
	}
	if m.MaxRetries > 0 {
		headers = append(headers, kafka.Header{Key: headerMaxRetries, Value: []byte(strconv.Itoa(m.MaxRetries))})
	}
	return kafka.Message{
		Topic:   topic,
		Key:     []byte(m.ID),
		Value:   m.Body,
		Headers: headers,
		Time:    m.Timestamp,
	}
}

func fromKafkaMessage(msg kafka.Message) *Message {
	m := &Message{
		ID:        string(msg.Key),
		Body:      msg.Value,
		Headers:   make(map[string]string, len(msg.Headers)),
		Timestamp: msg.Time,
	}
	for _, h := range msg.Headers {
		switch h.Key {
		case headerID:
			m.ID = string(h.Value)
		case headerRetryCount:
			m.RetryCount, _ = strconv.Atoi(string(h.Value))
		case headerMaxRetries:
			m.MaxRetries, _ = strconv.Atoi(string(h.Value))
		default:
			m.Headers[h.Key] = string(h.Value)
		}
	}
	return m
}

var _ MessageQueue = (*KafkaQueue)(nil)
