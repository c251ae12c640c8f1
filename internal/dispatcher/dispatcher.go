// Package dispatcher fans queue work out to workers and the lease reaper.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/nmkr-support-router/internal/support"
)

// Runner is a long-lived loop such as a worker or the lease reaper.
type Runner interface {
	Run(ctx context.Context)
}

// Dispatcher starts runners against a shared queue.
type Dispatcher struct {
	queue   support.Queue
	runners []Runner
}

// New creates a Dispatcher.
func New(queue support.Queue, runners []Runner) *Dispatcher {
	return &Dispatcher{
		queue:   queue,
		runners: runners,
	}
}

// Run starts all runners and blocks until the context finishes and every
// runner has returned.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, r := range d.runners {
		wg.Add(1)
		go func(rn Runner) {
			defer wg.Done()
			rn.Run(ctx)
		}(r)
	}
	<-ctx.Done()
	wg.Wait()
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, item support.QueueItem) error {
	if err := d.queue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}
