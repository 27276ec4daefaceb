package processing

import (
	"context"
	"log"
	"time"
)

// Task is one periodic maintenance step.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// Janitor runs its tasks every interval until the context closes.
type Janitor struct {
	interval time.Duration
	tasks    []Task
}

// NewJanitor builds a Janitor.
func NewJanitor(interval time.Duration, tasks ...Task) *Janitor {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Janitor{interval: interval, tasks: tasks}
}

// Run blocks, running every task once per tick. A failing task is logged and
// does not stop the others.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.RunOnce(ctx)
		}
	}
}

// RunOnce runs every task a single time.
func (j *Janitor) RunOnce(ctx context.Context) {
	for _, t := range j.tasks {
		start := time.Now()
		if err := t.Run(ctx); err != nil {
			log.Printf("janitor %s failed: %v", t.Name, err)
			continue
		}
		log.Printf("janitor %s done in %s", t.Name, time.Since(start))
	}
}
