// Package reminder periodically looks for overdue tasks and announces them.
package reminder

import (
	"context"
	"sync"
	"time"

	"github.com/fentz26/dealdesk/internal/events"
	"github.com/fentz26/dealdesk/internal/lifecycle"
	"github.com/fentz26/dealdesk/internal/store"
	"go.uber.org/zap"
)

// Publisher receives overdue notifications. *events.Hub satisfies it.
type Publisher interface {
	Publish(typ, dealID, id string)
}

// Counter is incremented once per notification.
type Counter interface {
	Inc()
}

// Sweeper scans open tasks on a ticker and publishes task.overdue once per
// task and due date. Moving the due date re-arms the notification.
type Sweeper struct {
	store    store.Store
	pub      Publisher
	counter  Counter
	logger   *zap.Logger
	interval time.Duration
	now      func() time.Time

	mu       sync.Mutex
	notified map[string]time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a sweeper. counter and logger may be nil.
func New(s store.Store, pub Publisher, counter Counter, logger *zap.Logger, interval time.Duration) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Sweeper{
		store:    s,
		pub:      pub,
		counter:  counter,
		logger:   logger,
		interval: interval,
		now:      func() time.Time { return time.Now().UTC() },
		notified: make(map[string]time.Time),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins the sweep loop.
func (sw *Sweeper) Start() {
	sw.wg.Add(1)
	go sw.loop()
	sw.logger.Info("reminder sweeper started", zap.Duration("interval", sw.interval))
}

// Stop halts the loop and waits for an in-progress sweep to finish.
func (sw *Sweeper) Stop() {
	sw.cancel()
	sw.wg.Wait()
	sw.logger.Info("reminder sweeper stopped")
}

func (sw *Sweeper) loop() {
	defer sw.wg.Done()

	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-sw.ctx.Done():
			return
		case <-ticker.C:
			if _, err := sw.Sweep(sw.ctx); err != nil && sw.ctx.Err() == nil {
				sw.logger.Warn("reminder sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep runs one scan and returns how many notifications were published.
func (sw *Sweeper) Sweep(ctx context.Context) (int, error) {
	tasks, err := sw.store.ListTasks(ctx, store.TaskFilter{OpenOnly: true})
	if err != nil {
		return 0, err
	}
	now := sw.now()

	sw.mu.Lock()
	defer sw.mu.Unlock()

	open := make(map[string]bool, len(tasks))
	sent := 0
	for i := range tasks {
		t := &tasks[i]
		open[t.ID] = true
		if !lifecycle.IsOverdue(t, now) {
			delete(sw.notified, t.ID)
			continue
		}
		if prev, ok := sw.notified[t.ID]; ok && prev.Equal(*t.DueDate) {
			continue
		}
		sw.notified[t.ID] = *t.DueDate
		sw.pub.Publish(events.TypeTaskOverdue, t.DealID, t.ID)
		if sw.counter != nil {
			sw.counter.Inc()
		}
		sw.logger.Info("task overdue",
			zap.String("task_id", t.ID),
			zap.String("deal_id", t.DealID),
			zap.Time("due_date", *t.DueDate),
		)
		sent++
	}
	for id := range sw.notified {
		if !open[id] {
			delete(sw.notified, id)
		}
	}
	return sent, nil
}
