package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bakir004/expense-tracker-sub001/internal/log"
)

// Resyncer runs a full statement resync right away and then on every tick,
// covering events that were lost while the worker or the broker was down.
type Resyncer struct {
	worker   *StatementWorker
	interval time.Duration

	// Lifecycle management
	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewResyncer(worker *StatementWorker, interval time.Duration) *Resyncer {
	return &Resyncer{worker: worker, interval: interval}
}

// Start begins the resync loop. Returns an error if already running.
func (r *Resyncer) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return fmt.Errorf("resyncer is already running")
	}
	r.running = true
	r.stopCh = make(chan struct{})
	r.doneCh = make(chan struct{})

	go r.runLoop(ctx, r.stopCh, r.doneCh)

	slog.InfoContext(ctx, "Statement resyncer started",
		log.FieldComponent, log.ComponentWorker,
		"interval", r.interval)
	return nil
}

// Stop signals the loop and waits for the pass in flight to finish.
func (r *Resyncer) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	stopCh, doneCh := r.stopCh, r.doneCh
	r.running = false
	r.mu.Unlock()

	close(stopCh)

	select {
	case <-doneCh:
		slog.InfoContext(ctx, "Statement resyncer stopped gracefully", log.FieldComponent, log.ComponentWorker)
		return nil
	case <-ctx.Done():
		slog.WarnContext(ctx, "Statement resyncer stop timed out", log.FieldComponent, log.ComponentWorker)
		return ctx.Err()
	}
}

// IsRunning returns whether the resync loop is active
func (r *Resyncer) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

func (r *Resyncer) runLoop(ctx context.Context, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	// Resync immediately on startup
	r.resync(ctx)

	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.resync(ctx)
		}
	}
}

func (r *Resyncer) resync(ctx context.Context) {
	start := time.Now()
	if err := r.worker.ResyncAll(ctx); err != nil {
		slog.ErrorContext(ctx, "Statement resync finished with errors",
			log.FieldComponent, log.ComponentWorker,
			log.FieldError, err,
			log.FieldDuration, time.Since(start).Milliseconds())
	}
}
