package queue

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/streadway/amqp"
	"go.uber.org/zap"

	"github.com/unclebandit/campaign-engine/internal/metrics"
)

const retryHeader = "x-retry-count"

// AMQPQueue publishes each topic to a durable RabbitMQ queue of the same name.
// Failed deliveries are republished with an incremented x-retry-count header
// until maxRetries is reached, then dropped.
type AMQPQueue struct {
	conn       *amqp.Connection
	pubMu      sync.Mutex
	pub        *amqp.Channel
	maxRetries int
	log        *zap.Logger
}

func DialAMQP(url string, maxRetries int, log *zap.Logger) (*AMQPQueue, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open publish channel: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &AMQPQueue{conn: conn, pub: ch, maxRetries: maxRetries, log: log}, nil
}

func declare(ch *amqp.Channel, topic string) (amqp.Queue, error) {
	return ch.QueueDeclare(
		topic, // name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
}

func (q *AMQPQueue) Publish(topic string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", topic, err)
	}
	return q.publish(topic, body, 0)
}

func (q *AMQPQueue) publish(topic string, body []byte, retries int) error {
	q.pubMu.Lock()
	defer q.pubMu.Unlock()

	if _, err := declare(q.pub, topic); err != nil {
		return fmt.Errorf("declare %s: %w", topic, err)
	}
	return q.pub.Publish(
		"",
		topic,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Headers:      amqp.Table{retryHeader: int32(retries)},
			Body:         body,
		},
	)
}

// Subscribe starts a consumer goroutine on its own channel.
func (q *AMQPQueue) Subscribe(topic string, handler Handler) error {
	ch, err := q.conn.Channel()
	if err != nil {
		return fmt.Errorf("open consume channel: %w", err)
	}
	if _, err := declare(ch, topic); err != nil {
		return fmt.Errorf("declare %s: %w", topic, err)
	}
	msgs, err := ch.Consume(
		topic,
		"",
		false, // manual ack
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("register consumer for %s: %w", topic, err)
	}

	go func() {
		defer ch.Close()
		for d := range msgs {
			q.handle(topic, d, handler)
		}
		q.log.Info("consumer stopped", zap.String("topic", topic))
	}()
	return nil
}

func (q *AMQPQueue) handle(topic string, d amqp.Delivery, handler Handler) {
	err := handler(d.Body)
	if err == nil {
		metrics.QueueJobs.WithLabelValues(topic, "ok").Inc()
		d.Ack(false)
		return
	}

	retries := retryCount(d.Headers)
	if retries >= q.maxRetries {
		metrics.QueueJobs.WithLabelValues(topic, "dropped").Inc()
		q.log.Error("job permanently failed", zap.String("topic", topic), zap.Int("attempts", retries+1), zap.Error(err))
		d.Ack(false)
		return
	}

	metrics.QueueJobs.WithLabelValues(topic, "retry").Inc()
	q.log.Warn("job failed, requeueing", zap.String("topic", topic), zap.Int("attempt", retries+1), zap.Error(err))
	if perr := q.publish(topic, d.Body, retries+1); perr != nil {
		// could not republish; let the broker redeliver the original
		d.Nack(false, true)
		return
	}
	d.Ack(false)
}

func retryCount(h amqp.Table) int {
	switch v := h[retryHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	}
	return 0
}

func (q *AMQPQueue) Close() error {
	q.pubMu.Lock()
	q.pub.Close()
	q.pubMu.Unlock()
	return q.conn.Close()
}
