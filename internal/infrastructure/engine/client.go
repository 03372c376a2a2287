package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/corelink-io/corelink-core/internal/infrastructure/config"
)

// Header keys for correlation metadata carried on every engine message.
const (
	HeaderCorrelationID  = "correlation_id"
	HeaderExpirationTime = "expiration_time"
	HeaderOriginator     = "originator_id"
	HeaderDispatcher     = "dispatcher_id"
)

const (
	kafkaMinBytes = 1
	kafkaMaxBytes = 10 << 20 // 10MB

	// batchTimeout closes producer batches quickly; push latency matters
	// more than throughput on this bus.
	batchTimeout = 5 * time.Millisecond
)

// ReplyHandler is invoked for each reply consumed from the reply topic.
// The correlation id is extracted from the message headers; payload is the
// raw message value.
type ReplyHandler func(correlationID string, payload []byte)

// Client wraps a Kafka producer and reply consumer for the engine bus.
//
// Thread Safety: all methods are safe for concurrent use.
type Client struct {
	cfg    config.EngineConfig
	writer *kafka.Writer
	reader *kafka.Reader

	closed bool
	mu     sync.Mutex
}

// Connect creates the producer and reply consumer for the engine bus.
//
// The writer carries no fixed topic: each push names its own topic (the
// caller's queue-name hint or the configured default), which is how the
// routing hint in the envelope is honoured.
func Connect(cfg config.EngineConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{}, // key = correlation id, keeps per-call ordering
		BatchTimeout: batchTimeout,
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		GroupID:  cfg.GroupID,
		Topic:    cfg.ReplyTopic,
		MinBytes: kafkaMinBytes,
		MaxBytes: kafkaMaxBytes,
	})

	return &Client{
		cfg:    cfg,
		writer: writer,
		reader: reader,
	}, nil
}

// Publish produces a message onto the given topic with correlation headers.
// An empty topic falls back to the configured default request topic.
func (c *Client) Publish(ctx context.Context, topic string, key string, payload []byte, headers map[string]string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.mu.Unlock()

	if topic == "" {
		topic = c.cfg.RequestTopic
	}

	msg := kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: payload,
		Time:  time.Now(),
	}
	for k, v := range headers {
		msg.Headers = append(msg.Headers, kafka.Header{Key: k, Value: []byte(v)})
	}

	if err := c.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("%w: topic %s: %w", ErrPublishFailed, topic, err)
	}
	return nil
}

// ConsumeReplies reads the reply topic until ctx is cancelled, invoking
// handler for each message that carries a correlation id header. Messages
// without one are skipped; they cannot be matched to a pending call.
func (c *Client) ConsumeReplies(ctx context.Context, handler ReplyHandler) error {
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("reading engine reply: %w", err)
		}

		correlationID := headerValue(msg.Headers, HeaderCorrelationID)
		if correlationID == "" {
			continue
		}
		handler(correlationID, msg.Value)
	}
}

// headerValue returns the value of the named header, or "".
func headerValue(headers []kafka.Header, key string) string {
	for _, h := range headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

// HealthCheck verifies the client has not been closed. Broker liveness is
// observed lazily on the next produce/consume; kafka-go reconnects itself.
func (c *Client) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("engine health check: %w", ctx.Err())
	default:
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	return nil
}

// Close shuts down the producer and the reply consumer.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	var firstErr error
	if err := c.writer.Close(); err != nil {
		firstErr = fmt.Errorf("closing engine writer: %w", err)
	}
	if err := c.reader.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("closing engine reader: %w", err)
	}
	return firstErr
}
