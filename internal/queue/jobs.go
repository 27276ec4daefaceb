package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// PurgeObjectTask deletes a stored object after its bucket let go of it.
	PurgeObjectTask = "object:purge"
	// SweepBucketsTask applies the retention window to every bucket.
	SweepBucketsTask = "bucket:sweep"
)

// PurgePayload names the object to delete.
type PurgePayload struct {
	ObjectKey string `json:"object_key"`
}

// NewPurgeTask builds a purge task.
func NewPurgeTask(key string) (*asynq.Task, error) {
	data, err := json.Marshal(PurgePayload{ObjectKey: key})
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return asynq.NewTask(PurgeObjectTask, data), nil
}

// Enqueuer hands purges to asynq. It satisfies the bucket service's Purger.
type Enqueuer struct {
	client *asynq.Client
}

// NewEnqueuer wraps client.
func NewEnqueuer(client *asynq.Client) *Enqueuer {
	return &Enqueuer{client: client}
}

// Purge enqueues deletion of key.
func (e *Enqueuer) Purge(ctx context.Context, key string) error {
	task, err := NewPurgeTask(key)
	if err != nil {
		return err
	}
	if _, err := e.client.EnqueueContext(ctx, task, asynq.MaxRetry(5)); err != nil {
		return fmt.Errorf("enqueue purge task: %w", err)
	}
	return nil
}

// RegisterSweep schedules the retention sweep every interval. Unique keeps
// overlapping runs from piling up when a sweep is slow.
func RegisterSweep(s *asynq.Scheduler, interval time.Duration) (string, error) {
	task := asynq.NewTask(SweepBucketsTask, nil)
	id, err := s.Register(fmt.Sprintf("@every %s", interval), task, asynq.MaxRetry(1), asynq.Unique(interval))
	if err != nil {
		return "", fmt.Errorf("register sweep: %w", err)
	}
	return id, nil
}
