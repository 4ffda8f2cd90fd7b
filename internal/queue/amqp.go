package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/streadway/amqp"
	"go.uber.org/zap"
)

const (
	headerNotBefore  = "x-not-before"
	headerRetryCount = "x-retry-count"
)

// AMQPQueue publishes and consumes jobs on durable RabbitMQ queues, one per topic.
// Delays travel as a not-before header honoured by the consumer.
type AMQPQueue struct {
	conn *amqp.Connection
	log  *zap.Logger

	mu       sync.Mutex
	pubCh    *amqp.Channel
	declared map[string]bool
	channels []*amqp.Channel
	wg       sync.WaitGroup
	done     chan struct{}

	MaxRetries int
	// Queues maps topics to broker queue names; unmapped topics use the topic itself.
	Queues map[string]string
}

func DialAMQP(url string, log *zap.Logger) (*AMQPQueue, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	return &AMQPQueue{
		conn:       conn,
		log:        log,
		pubCh:      ch,
		declared:   make(map[string]bool),
		done:       make(chan struct{}),
		MaxRetries: defaultMaxRetries,
	}, nil
}

func (q *AMQPQueue) queueName(topic string) string {
	if name, ok := q.Queues[topic]; ok && name != "" {
		return name
	}
	return topic
}

func (q *AMQPQueue) declare(ch *amqp.Channel, topic string) error {
	_, err := ch.QueueDeclare(
		q.queueName(topic),
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
	return err
}

func (q *AMQPQueue) Publish(ctx context.Context, topic string, payload any, delay time.Duration) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", topic, err)
	}
	headers := amqp.Table{}
	if delay > 0 {
		headers[headerNotBefore] = strconv.FormatInt(time.Now().Add(delay).UnixMilli(), 10)
	}
	return q.publish(topic, body, headers)
}

func (q *AMQPQueue) publish(topic string, body []byte, headers amqp.Table) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.declared[topic] {
		if err := q.declare(q.pubCh, topic); err != nil {
			return fmt.Errorf("declare queue %s: %w", topic, err)
		}
		q.declared[topic] = true
	}

	return q.pubCh.Publish(
		"",
		q.queueName(topic),
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Headers:      headers,
			Body:         body,
		},
	)
}

// Subscribe starts a consumer goroutine for the topic. Manual acks: a job is
// acked only after the handler succeeds or the retry budget is spent.
func (q *AMQPQueue) Subscribe(topic string, handler Handler) error {
	ch, err := q.conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	if err := q.declare(ch, topic); err != nil {
		return fmt.Errorf("declare queue %s: %w", topic, err)
	}
	if err := ch.Qos(10, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}
	deliveries, err := ch.Consume(q.queueName(topic), "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("register consumer: %w", err)
	}

	q.mu.Lock()
	q.channels = append(q.channels, ch)
	q.mu.Unlock()

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		for d := range deliveries {
			q.handle(topic, handler, d)
		}
	}()
	return nil
}

func (q *AMQPQueue) handle(topic string, handler Handler, d amqp.Delivery) {
	if wait := notBefore(d.Headers).Sub(time.Now()); wait > 0 {
		select {
		case <-time.After(wait):
		case <-q.done:
			d.Nack(false, true)
			return
		}
	}

	err := handler(context.Background(), d.Body)
	if err == nil {
		d.Ack(false)
		return
	}

	retries := retryCount(d.Headers) + 1
	q.log.Warn("job failed",
		zap.String("topic", topic),
		zap.Int("attempt", retries),
		zap.Error(err))

	if retries > q.MaxRetries {
		q.log.Error("job permanently failed", zap.String("topic", topic), zap.ByteString("body", d.Body))
		d.Ack(false)
		return
	}

	headers := amqp.Table{headerRetryCount: strconv.Itoa(retries)}
	if err := q.publish(topic, d.Body, headers); err != nil {
		q.log.Error("requeue failed", zap.String("topic", topic), zap.Error(err))
		d.Nack(false, true)
		return
	}
	d.Ack(false)
}

func (q *AMQPQueue) Close() error {
	close(q.done)
	q.mu.Lock()
	for _, ch := range q.channels {
		ch.Close()
	}
	q.mu.Unlock()
	q.wg.Wait()
	q.pubCh.Close()
	return q.conn.Close()
}

func notBefore(h amqp.Table) time.Time {
	v, ok := h[headerNotBefore].(string)
	if !ok {
		return time.Time{}
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func retryCount(h amqp.Table) int {
	v, ok := h[headerRetryCount].(string)
	if !ok {
		return 0
	}
	n, _ := strconv.Atoi(v)
	return n
}

var _ Queue = (*AMQPQueue)(nil)
