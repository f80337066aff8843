// README: Dispatcher queues lifecycle events and hands them to every sink off the request path.
package notify

import (
	"context"
	"log/slog"
	"time"

	"carpool/internal/observability"
)

// Publisher is an external delivery sink such as Kafka or FCM.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, e Event) error
}

type Dispatcher struct {
	broker  *Broker
	sinks   []Publisher
	queue   chan Event
	timeout time.Duration
	logger  *slog.Logger
}

type DispatcherOptions struct {
	QueueSize int
	// SinkTimeout bounds each sink call.
	SinkTimeout time.Duration
	Logger      *slog.Logger
}

func NewDispatcher(broker *Broker, sinks []Publisher, opts DispatcherOptions) *Dispatcher {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.SinkTimeout <= 0 {
		opts.SinkTimeout = 3 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	broker.onDrop = func() { observability.NotificationsDropped.Inc() }
	return &Dispatcher{
		broker:  broker,
		sinks:   sinks,
		queue:   make(chan Event, opts.QueueSize),
		timeout: opts.SinkTimeout,
		logger:  opts.Logger,
	}
}

// Notify enqueues e without blocking; a full queue drops the event.
func (d *Dispatcher) Notify(_ context.Context, e Event) {
	select {
	case d.queue <- e:
	default:
		observability.NotificationsDropped.Inc()
		d.logger.Warn("notification queue full, dropping event", "kind", e.Kind, "trip_id", e.TripID)
	}
}

// Run delivers queued events until ctx is done, then drains what is left.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			d.drain()
			return
		case e := <-d.queue:
			d.deliver(e)
		}
	}
}

func (d *Dispatcher) drain() {
	for {
		select {
		case e := <-d.queue:
			d.deliver(e)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(e Event) {
	e = d.broker.Publish(e)
	for _, sink := range d.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		err := sink.Publish(ctx, e)
		cancel()
		if err != nil {
			observability.NotificationErrors.WithLabelValues(sink.Name()).Inc()
			d.logger.Warn("notification sink failed", "sink", sink.Name(), "kind", e.Kind, "trip_id", e.TripID, "error", err)
		}
	}
}
