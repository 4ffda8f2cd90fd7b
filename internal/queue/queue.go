package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Handler processes one job body. A non-nil error asks for a retry.
type Handler func(ctx context.Context, body []byte) error

// Queue is the at-least-once task transport shared by the server and workers.
type Queue interface {
	// Publish delivers payload to the topic's subscribers no earlier than delay from now.
	Publish(ctx context.Context, topic string, payload any, delay time.Duration) error
	Subscribe(topic string, handler Handler) error
	Close() error
}

const defaultMaxRetries = 3

// InMemoryQueue is an in-process queue with retry, used by tests and single-binary setups
type InMemoryQueue struct {
	mu       sync.Mutex
	handlers map[string][]Handler
	wg       sync.WaitGroup
	log      *zap.Logger

	MaxRetries int
	Backoff    time.Duration
}

// NewInMemoryQueue creates a new queue
func NewInMemoryQueue(log *zap.Logger) *InMemoryQueue {
	return &InMemoryQueue{
		handlers:   make(map[string][]Handler),
		log:        log,
		MaxRetries: defaultMaxRetries,
		Backoff:    500 * time.Millisecond,
	}
}

// job wraps a message payload with retry info
type job struct {
	topic      string
	body       []byte
	retryCount int
}

// Publish sends a message to all subscribers
func (q *InMemoryQueue) Publish(ctx context.Context, topic string, payload any, delay time.Duration) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", topic, err)
	}

	q.mu.Lock()
	handlers := append([]Handler(nil), q.handlers[topic]...)
	q.mu.Unlock()

	if len(handlers) == 0 {
		return fmt.Errorf("no subscribers for topic %s", topic)
	}

	for _, handler := range handlers {
		q.wg.Add(1)
		j := job{topic: topic, body: body}
		h := handler
		if delay <= 0 {
			go q.processJob(h, j)
			continue
		}
		time.AfterFunc(delay, func() { q.processJob(h, j) })
	}
	return nil
}

// processJob handles retries and errors
func (q *InMemoryQueue) processJob(handler Handler, j job) {
	defer q.wg.Done()

	for {
		err := handler(context.Background(), j.body)
		if err == nil {
			return // ACK
		}

		j.retryCount++
		q.log.Warn("job failed",
			zap.String("topic", j.topic),
			zap.Int("attempt", j.retryCount),
			zap.Int("max_retries", q.MaxRetries),
			zap.Error(err))

		if j.retryCount > q.MaxRetries {
			q.log.Error("job permanently failed", zap.String("topic", j.topic), zap.ByteString("body", j.body))
			return // No requeue
		}

		// Linear backoff before retry
		time.Sleep(time.Duration(j.retryCount) * q.Backoff)
	}
}

// Subscribe adds a handler for a topic
func (q *InMemoryQueue) Subscribe(topic string, handler Handler) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.handlers[topic] = append(q.handlers[topic], handler)
	return nil
}

// Wait blocks until every published job has finished, including delayed ones.
func (q *InMemoryQueue) Wait() {
	q.wg.Wait()
}

func (q *InMemoryQueue) Close() error {
	q.Wait()
	return nil
}

var _ Queue = (*InMemoryQueue)(nil)
