package fanout

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"motion-event-backend/internal/db"
	"motion-event-backend/internal/metrics"
	"motion-event-backend/internal/worker"
)

// Task is the immutable unit of work handed from ingestion to the delivery
// workers. Workers only ever read it.
type Task struct {
	Event db.MotionEvent
}

// Store is the dispatch bookkeeping the sweep needs. Delivery workers never
// mutate event rows; only Dispatch and the sweep touch the dispatched flag.
type Store interface {
	LoadUndispatched(ctx context.Context, limit int) ([]db.MotionEvent, error)
	MarkDispatched(ctx context.Context, sensorID string, ts int64) error
}

type Config struct {
	QueueSize     int
	Workers       int
	MaxAttempts   int
	BackoffBase   time.Duration
	SweepInterval time.Duration
	Topic         string
	Subscriptions *Subscriptions
	Channels      map[string]Channel
	Store         Store

	// Sleep is injectable for tests; defaults to a context-aware sleep.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Dispatcher fans stored events out to confirmed subscriptions. Each event is
// delivered to every subscription independently, with bounded retries per
// subscription; an exhausted retry budget is logged as DeliveryFailed and
// never surfaces to the ingestion path.
type Dispatcher struct {
	queue         chan Task
	workers       int
	maxAttempts   int
	backoffBase   time.Duration
	sweepInterval time.Duration
	topic         string
	subs          *Subscriptions
	channels      map[string]Channel
	store         Store
	sleep         func(ctx context.Context, d time.Duration) error
	wg            sync.WaitGroup
}

func New(cfg *Config) *Dispatcher {
	d := &Dispatcher{
		queue:         make(chan Task, cfg.QueueSize),
		workers:       cfg.Workers,
		maxAttempts:   cfg.MaxAttempts,
		backoffBase:   cfg.BackoffBase,
		sweepInterval: cfg.SweepInterval,
		topic:         cfg.Topic,
		subs:          cfg.Subscriptions,
		channels:      cfg.Channels,
		store:         cfg.Store,
		sleep:         cfg.Sleep,
	}
	if d.sleep == nil {
		d.sleep = sleepCtx
	}
	if d.maxAttempts <= 0 {
		d.maxAttempts = 5
	}
	if d.backoffBase <= 0 {
		d.backoffBase = time.Second
	}
	return d
}

// Start launches the delivery workers and the background sweep.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.workers; i++ {
		w := worker.New(worker.Config{
			Name:      fmt.Sprintf("delivery-worker-%d", i),
			Processor: d,
		})
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			w.Run(ctx)
		}()
	}
	if d.store != nil && d.sweepInterval > 0 {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.sweepLoop(ctx)
		}()
	}
}

// Shutdown waits for workers to drain after their context is cancelled.
func (d *Dispatcher) Shutdown() {
	d.wg.Wait()
}

// Dispatch hands a newly stored event to the fan-out queue and records the
// handoff. A saturated queue is not an error: the event stays stored and the
// sweep re-enqueues it later.
func (d *Dispatcher) Dispatch(ctx context.Context, event db.MotionEvent) {
	if !d.Enqueue(event) {
		slog.WarnContext(ctx, "Fan-out queue saturated, deferring to sweep",
			"sensor_id", event.SensorID, "timestamp", event.Timestamp)
		return
	}
	if d.store != nil {
		if err := d.store.MarkDispatched(ctx, event.SensorID, event.Timestamp); err != nil {
			// The sweep may enqueue this event again; delivery is
			// at-least-once so that is tolerable.
			slog.ErrorContext(ctx, "Mark dispatched failed",
				"sensor_id", event.SensorID, "timestamp", event.Timestamp, "error", err)
		}
	}
}

// Enqueue places a fan-out task without blocking; false means the queue is
// full.
func (d *Dispatcher) Enqueue(event db.MotionEvent) bool {
	select {
	case d.queue <- Task{Event: event}:
		metrics.FanoutEnqueued.Inc()
		return true
	default:
		metrics.FanoutDropped.Inc()
		return false
	}
}

// QueueUtilization returns queue used / capacity (0-1).
func (d *Dispatcher) QueueUtilization() float64 {
	if cap(d.queue) == 0 {
		return 0
	}
	return float64(len(d.queue)) / float64(cap(d.queue))
}

// ProcessTask delivers the next queued event; delivery workers drive this in
// a loop.
func (d *Dispatcher) ProcessTask(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case task := <-d.queue:
		d.fanOut(ctx, task.Event)
		return nil
	}
}

// fanOut delivers one event to every confirmed subscription on the topic,
// each in its own goroutine so one slow or failing endpoint cannot delay the
// others.
func (d *Dispatcher) fanOut(ctx context.Context, event db.MotionEvent) {
	subs := d.subs.Confirmed(d.topic)
	var wg sync.WaitGroup
	for _, sub := range subs {
		ch, ok := d.channels[sub.Channel]
		if !ok {
			slog.ErrorContext(ctx, "No channel registered for subscription",
				"subscription", sub.ID, "channel", sub.Channel)
			continue
		}
		wg.Add(1)
		go func(sub Subscription, ch Channel) {
			defer wg.Done()
			d.deliver(ctx, sub, ch, event)
		}(sub, ch)
	}
	wg.Wait()
}

// deliver retries one subscription with exponential backoff until it succeeds
// or the attempt budget is spent.
func (d *Dispatcher) deliver(ctx context.Context, sub Subscription, ch Channel, event db.MotionEvent) {
	deliveryID := uuid.New().String()
	start := time.Now()
	var err error
	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		err = ch.Deliver(ctx, sub, event)
		if err == nil {
			metrics.Deliveries.WithLabelValues(ch.Name(), "success").Inc()
			metrics.DeliveryDuration.Observe(time.Since(start).Seconds())
			slog.InfoContext(ctx, "Notification delivered",
				"delivery_id", deliveryID,
				"subscription", sub.ID,
				"sensor_id", event.SensorID,
				"attempt", attempt,
			)
			return
		}
		if attempt < d.maxAttempts {
			if serr := d.sleep(ctx, d.backoffBase<<(attempt-1)); serr != nil {
				break
			}
		}
	}
	metrics.Deliveries.WithLabelValues(ch.Name(), "failed").Inc()
	slog.ErrorContext(ctx, "DeliveryFailed",
		"delivery_id", deliveryID,
		"subscription", sub.ID,
		"sensor_id", event.SensorID,
		"timestamp", event.Timestamp,
		"attempts", d.maxAttempts,
		"error", err,
	)
}

func (d *Dispatcher) sweepLoop(ctx context.Context) {
	t := time.NewTicker(d.sweepInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			d.sweepOnce(ctx)
		}
	}
}

// sweepOnce re-enqueues stored events whose earlier handoff was dropped.
func (d *Dispatcher) sweepOnce(ctx context.Context) {
	events, err := d.store.LoadUndispatched(ctx, cap(d.queue))
	if err != nil {
		slog.ErrorContext(ctx, "Fan-out sweep failed", "error", err)
		return
	}
	for _, event := range events {
		if !d.Enqueue(event) {
			return
		}
		if err := d.store.MarkDispatched(ctx, event.SensorID, event.Timestamp); err != nil {
			slog.ErrorContext(ctx, "Mark dispatched failed",
				"sensor_id", event.SensorID, "timestamp", event.Timestamp, "error", err)
			return
		}
	}
	if len(events) > 0 {
		slog.InfoContext(ctx, "Fan-out sweep re-enqueued events", "count", len(events))
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
