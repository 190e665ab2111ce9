package queue

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/unclebandit/campaign-engine/internal/metrics"
)

const (
	TopicTrackingEvents    = "tracking.events"
	TopicCampaignCompleted = "campaign.completed"
)

// Handler consumes one JSON-encoded payload. A non-nil error asks for a retry.
type Handler func(payload []byte) error

// Queue carries fire-and-forget work off the request path.
type Queue interface {
	Publish(topic string, payload any) error
	Subscribe(topic string, handler Handler) error
}

// InMemoryQueue delivers to in-process subscribers with retry and backoff.
type InMemoryQueue struct {
	mu         sync.Mutex
	handlers   map[string][]Handler
	maxRetries int
	backoff    time.Duration
	log        *zap.Logger
	wg         sync.WaitGroup
}

func NewInMemoryQueue(log *zap.Logger, maxRetries int) *InMemoryQueue {
	if log == nil {
		log = zap.NewNop()
	}
	return &InMemoryQueue{
		handlers:   make(map[string][]Handler),
		maxRetries: maxRetries,
		backoff:    500 * time.Millisecond,
		log:        log,
	}
}

// Publish encodes payload and hands it to every subscriber of topic.
func (q *InMemoryQueue) Publish(topic string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", topic, err)
	}

	q.mu.Lock()
	handlers := q.handlers[topic]
	q.mu.Unlock()

	if len(handlers) == 0 {
		return fmt.Errorf("no subscribers for topic %s", topic)
	}

	for _, handler := range handlers {
		q.wg.Add(1)
		go func(h Handler) {
			defer q.wg.Done()
			q.processJob(topic, h, body)
		}(handler)
	}
	return nil
}

func (q *InMemoryQueue) processJob(topic string, handler Handler, body []byte) {
	for attempt := 0; ; attempt++ {
		err := handler(body)
		if err == nil {
			metrics.QueueJobs.WithLabelValues(topic, "ok").Inc()
			return
		}

		if attempt >= q.maxRetries {
			metrics.QueueJobs.WithLabelValues(topic, "dropped").Inc()
			q.log.Error("job permanently failed",
				zap.String("topic", topic), zap.Int("attempts", attempt+1), zap.Error(err))
			return
		}

		metrics.QueueJobs.WithLabelValues(topic, "retry").Inc()
		q.log.Warn("job failed, retrying",
			zap.String("topic", topic), zap.Int("attempt", attempt+1), zap.Error(err))
		time.Sleep(time.Duration(attempt+1) * q.backoff)
	}
}

func (q *InMemoryQueue) Subscribe(topic string, handler Handler) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.handlers[topic] = append(q.handlers[topic], handler)
	return nil
}

// Wait blocks until every published job has finished, including retries.
func (q *InMemoryQueue) Wait() {
	q.wg.Wait()
}
