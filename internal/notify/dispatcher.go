package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// DropCounter is told about every notification the dispatcher gives up on.
type DropCounter interface {
	NotificationDropped(reason string)
}

// Dispatcher sends notifications in the background. At most maxInFlight
// sends run at once; a batch that finds no free slot is dropped.
type Dispatcher struct {
	sink    Sink
	sem     *semaphore.Weighted
	timeout time.Duration
	logger  *slog.Logger
	drops   DropCounter
	wg      sync.WaitGroup
}

func NewDispatcher(sink Sink, maxInFlight int64, timeout time.Duration, logger *slog.Logger, drops DropCounter) *Dispatcher {
	if maxInFlight <= 0 {
		maxInFlight = 16
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		sink:    sink,
		sem:     semaphore.NewWeighted(maxInFlight),
		timeout: timeout,
		logger:  logger,
		drops:   drops,
	}
}

// Dispatch returns immediately. The send outlives the caller's context but
// keeps its values for tracing.
func (d *Dispatcher) Dispatch(ctx context.Context, ns ...Notification) {
	if len(ns) == 0 {
		return
	}
	if !d.sem.TryAcquire(1) {
		for _, n := range ns {
			d.drop(n, "saturated")
		}
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer d.sem.Release(1)

		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		defer cancel()
		for _, n := range ns {
			if err := d.sink.Send(sctx, n); err != nil {
				d.logger.Warn("notification send failed",
					slog.String("notification_id", n.ID),
					slog.String("user_id", n.UserID),
					slog.Any("error", err))
				d.drop(n, "send_failed")
			}
		}
	}()
}

func (d *Dispatcher) drop(n Notification, reason string) {
	if reason == "saturated" {
		d.logger.Warn("notification dropped",
			slog.String("notification_id", n.ID),
			slog.String("user_id", n.UserID),
			slog.String("reason", reason))
	}
	if d.drops != nil {
		d.drops.NotificationDropped(reason)
	}
}

// Wait blocks until in-flight sends finish.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
