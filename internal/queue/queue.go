package queue

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// TopicCampaignDispatch carries DispatchJob payloads.
const TopicCampaignDispatch = "campaign_dispatch"

// Queue interface
type Queue interface {
	Publish(topic string, payload any) error
	Subscribe(topic string, handler func(payload any) error) error
}

// DispatchJob asks a worker to run a campaign on its tenant's stream.
type DispatchJob struct {
	TenantID   string `json:"tenant_id"`
	CampaignID int    `json:"campaign_id"`
}

// DecodeDispatchJob accepts the in-memory value or a JSON body.
func DecodeDispatchJob(payload any) (DispatchJob, error) {
	switch p := payload.(type) {
	case DispatchJob:
		return p, nil
	case *DispatchJob:
		return *p, nil
	case []byte:
		var job DispatchJob
		if err := json.Unmarshal(p, &job); err != nil {
			return DispatchJob{}, fmt.Errorf("decode dispatch job: %w", err)
		}
		return job, nil
	}
	return DispatchJob{}, fmt.Errorf("unexpected dispatch payload %T", payload)
}

// InMemoryQueue delivers to subscribers on goroutines and retries failed
// handlers with a linear backoff.
type InMemoryQueue struct {
	mu         sync.Mutex
	handlers   map[string][]func(payload any) error
	logger     *zap.Logger
	MaxRetries int
	Backoff    time.Duration
}

func NewInMemoryQueue(logger *zap.Logger) *InMemoryQueue {
	return &InMemoryQueue{
		handlers:   make(map[string][]func(payload any) error),
		logger:     logger.Named("queue"),
		MaxRetries: 3,
		Backoff:    500 * time.Millisecond,
	}
}

// JobPayload wraps a message payload with retry info
type JobPayload struct {
	Payload    any
	RetryCount int
	MaxRetries int
}

// Publish sends a message to all subscribers
func (q *InMemoryQueue) Publish(topic string, payload any) error {
	q.mu.Lock()
	handlers := q.handlers[topic]
	q.mu.Unlock()

	if len(handlers) == 0 {
		return fmt.Errorf("no subscribers for topic %s", topic)
	}

	for _, handler := range handlers {
		go q.processJob(topic, handler, JobPayload{Payload: payload, MaxRetries: q.MaxRetries})
	}
	return nil
}

func (q *InMemoryQueue) processJob(topic string, handler func(payload any) error, job JobPayload) {
	for {
		err := handler(job.Payload)
		if err == nil {
			return
		}

		job.RetryCount++
		q.logger.Warn("job failed",
			zap.String("topic", topic),
			zap.Int("attempt", job.RetryCount),
			zap.Int("max_retries", job.MaxRetries),
			zap.Error(err),
		)
		if job.RetryCount > job.MaxRetries {
			q.logger.Error("job permanently failed", zap.String("topic", topic), zap.Any("payload", job.Payload))
			return
		}
		time.Sleep(time.Duration(job.RetryCount) * q.Backoff)
	}
}

// Subscribe adds a handler for a topic
func (q *InMemoryQueue) Subscribe(topic string, handler func(payload any) error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.handlers[topic] = append(q.handlers[topic], handler)
	return nil
}

// StartDispatchSubscriber routes dispatch jobs to enqueue. A malformed
// payload is dropped rather than retried.
func StartDispatchSubscriber(q Queue, topic string, enqueue func(DispatchJob) error, logger *zap.Logger) error {
	return q.Subscribe(topic, func(payload any) error {
		job, err := DecodeDispatchJob(payload)
		if err != nil {
			logger.Warn("invalid dispatch job", zap.Error(err))
			return nil
		}
		if err := enqueue(job); err != nil {
			logger.Warn("enqueue dispatch job",
				zap.String("tenant_id", job.TenantID),
				zap.Int("campaign_id", job.CampaignID),
				zap.Error(err),
			)
			return err
		}
		return nil
	})
}
