package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/hibiken/asynq"

	"github.com/dharsanguruparan/qrdrop/internal/bucket"
	"github.com/dharsanguruparan/qrdrop/internal/model"
	"github.com/dharsanguruparan/qrdrop/internal/queue"
)

// Sweeper runs the retention sweep.
type Sweeper interface {
	Sweep(ctx context.Context) (bucket.SweepResult, error)
}

// Processor is plugged into the asynq worker loop.
type Processor struct {
	content bucket.ContentStore
	sweeper Sweeper
}

// NewProcessor constructs a worker processor.
func NewProcessor(content bucket.ContentStore, sweeper Sweeper) *Processor {
	return &Processor{content: content, sweeper: sweeper}
}

// Handler registers the task handlers.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.PurgeObjectTask, p.handlePurge)
	mux.HandleFunc(queue.SweepBucketsTask, p.handleSweep)
	return mux
}

func (p *Processor) handlePurge(ctx context.Context, task *asynq.Task) error {
	var payload queue.PurgePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode payload: %w: %w", err, asynq.SkipRetry)
	}
	if payload.ObjectKey == "" {
		return fmt.Errorf("empty object key: %w", asynq.SkipRetry)
	}
	if err := p.content.Delete(ctx, payload.ObjectKey); err != nil && !errors.Is(err, model.ErrNotFound) {
		log.Printf("purge failed for %s: %v", payload.ObjectKey, err)
		return err
	}
	return nil
}

func (p *Processor) handleSweep(ctx context.Context, _ *asynq.Task) error {
	res, err := p.sweeper.Sweep(ctx)
	if err != nil {
		log.Printf("sweep failed: %v", err)
		return err
	}
	log.Printf("sweep cleared %d and deleted %d buckets", res.Cleared, res.Deleted)
	return nil
}
