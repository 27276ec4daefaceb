// Package processing runs background work inside the server process when no
// external queue is configured: a goroutine pool that deletes stored objects
// and a janitor that runs periodic maintenance.
package processing

import (
	"context"
	"log"
	"sync"
)

// Deleter removes stored objects.
type Deleter interface {
	Delete(ctx context.Context, key string) error
}

// Job is one object to delete.
type Job struct {
	ObjectKey string
}

// Processor consumes purge Jobs on a fixed number of goroutines.
type Processor struct {
	content Deleter
	queue   chan Job
	workers int
	wg      sync.WaitGroup

	mu      sync.RWMutex
	stopped bool
}

// New builds a Processor with queue capacity tied to worker count.
func New(content Deleter, workers int) *Processor {
	if workers <= 0 {
		workers = 1
	}
	return &Processor{
		content: content,
		queue:   make(chan Job, workers*16),
		workers: workers,
	}
}

// Start launches worker goroutines. They run until Stop.
func (p *Processor) Start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

// Stop closes the queue, lets the workers finish every queued job and waits
// for them. Purges after Stop are deleted inline. Stop must run after the
// last producer that relies on the queue has finished.
func (p *Processor) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.queue)
	p.mu.Unlock()
	p.wg.Wait()
}

// Purge queues key for deletion. When the queue is full or the pool has
// stopped the object is deleted inline so no purge is ever dropped.
func (p *Processor) Purge(ctx context.Context, key string) error {
	p.mu.RLock()
	stopped, queued := p.stopped, false
	if !stopped {
		select {
		case p.queue <- Job{ObjectKey: key}:
			queued = true
		default:
		}
	}
	p.mu.RUnlock()
	if queued {
		return nil
	}
	if !stopped {
		log.Printf("purge queue full, deleting %s inline", key)
	}
	return p.content.Delete(context.WithoutCancel(ctx), key)
}

func (p *Processor) worker() {
	defer p.wg.Done()
	for job := range p.queue {
		p.process(job)
	}
}

func (p *Processor) process(job Job) {
	if err := p.content.Delete(context.Background(), job.ObjectKey); err != nil {
		log.Printf("purge object %s: %v", job.ObjectKey, err)
	}
}
