// Package pipeline provides the in-process event queue and worker pool that
// drive the processing stages. Stages are effectively stateless handlers
// keyed by topic; the queue invokes them with at-least-once semantics.
//
// Delivery model:
//   - Publish enqueues an event; Run's workers dispatch it to the handler
//     registered for its topic.
//   - A handler error requeues the event (bounded by MaxAttempts, spaced by
//     a fixed backoff). The same event can therefore be delivered more than
//     once, and handlers must be idempotent — stage transitions go through
//     the conditional-update guard in the repo package, so a duplicate or
//     late delivery is a recorded no-op rather than a double side effect.
//   - When attempts are exhausted the OnExhausted hook fires exactly once
//     for the event; wiring uses it to drive the request record into the
//     failed terminal state so nothing is left stuck mid-pipeline.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// Topic routes events to a registered stage handler.
type Topic string

// Stage topics.
const (
	TopicAnalyze Topic = "analyze"
	TopicRender  Topic = "render"
)

// Event is one unit of stage work. Attempt counts deliveries, starting at 1.
type Event struct {
	Topic     Topic
	RequestID string
	Attempt   int
}

// Handler processes one event. Returning an error requests redelivery.
type Handler func(ctx context.Context, ev Event) error

// ErrQueueClosed is returned by Publish after Close.
var ErrQueueClosed = errors.New("pipeline queue closed")

var (
	eventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_events_total",
			Help: "Pipeline events by topic and outcome.",
		},
		[]string{"topic", "outcome"}, // outcome: ok|retry|exhausted
	)
	eventDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pipeline_event_duration_seconds",
			Help:    "Stage handler duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"topic"},
	)
)

func init() {
	prometheus.MustRegister(eventsTotal, eventDuration)
}

// Options bound the queue's buffering and redelivery behavior.
type Options struct {
	QueueSize   int
	Workers     int
	MaxAttempts int
	Backoff     time.Duration

	// OnExhausted fires once per event whose attempts are spent. Optional.
	OnExhausted func(ctx context.Context, ev Event, err error)
}

// Queue is the in-process at-least-once event queue. Safe for concurrent
// Publish from any goroutine once Run has been started.
type Queue struct {
	ch       chan Event
	handlers map[Topic]Handler
	opts     Options
	closed   chan struct{}
}

// New constructs a Queue. Register handlers before calling Run.
func New(opts Options) *Queue {
	if opts.QueueSize < 1 {
		opts.QueueSize = 256
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 3
	}
	return &Queue{
		ch:       make(chan Event, opts.QueueSize),
		handlers: make(map[Topic]Handler),
		opts:     opts,
		closed:   make(chan struct{}),
	}
}

// Register binds a handler to a topic, replacing any previous binding.
func (q *Queue) Register(topic Topic, h Handler) {
	q.handlers[topic] = h
}

// Publish enqueues an event for requestID on topic. Blocks while the buffer
// is full; honors ctx cancellation.
func (q *Queue) Publish(ctx context.Context, topic Topic, requestID string) error {
	ev := Event{Topic: topic, RequestID: requestID, Attempt: 1}
	select {
	case <-q.closed:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	case q.ch <- ev:
		return nil
	}
}

// Run starts the worker pool and blocks until ctx is canceled. Events still
// buffered at cancellation are dropped; durable redelivery across restarts
// is the transport's concern, not this in-process queue's.
func (q *Queue) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < q.opts.Workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case ev := <-q.ch:
					q.dispatch(ctx, ev)
				}
			}
		})
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close stops accepting new events. In-flight events finish normally.
func (q *Queue) Close() {
	select {
	case <-q.closed:
	default:
		close(q.closed)
	}
}

// dispatch runs one delivery, with tracing, metrics, and bounded redelivery.
func (q *Queue) dispatch(ctx context.Context, ev Event) {
	h, ok := q.handlers[ev.Topic]
	if !ok {
		log.Error().Str("topic", string(ev.Topic)).Str("request_id", ev.RequestID).
			Msg("no handler registered for topic")
		return
	}

	tr := otel.Tracer("pipeline")
	ctx, span := tr.Start(ctx, "pipeline.dispatch",
		trace.WithAttributes(
			attribute.String("pipeline.topic", string(ev.Topic)),
			attribute.String("request.id", ev.RequestID),
			attribute.Int("pipeline.attempt", ev.Attempt),
		),
	)
	defer span.End()

	start := time.Now()
	err := h(ctx, ev)
	eventDuration.WithLabelValues(string(ev.Topic)).Observe(time.Since(start).Seconds())

	if err == nil {
		eventsTotal.WithLabelValues(string(ev.Topic), "ok").Inc()
		return
	}

	log.Warn().Err(err).
		Str("topic", string(ev.Topic)).
		Str("request_id", ev.RequestID).
		Int("attempt", ev.Attempt).
		Msg("stage handler failed")

	if ev.Attempt >= q.opts.MaxAttempts {
		eventsTotal.WithLabelValues(string(ev.Topic), "exhausted").Inc()
		if q.opts.OnExhausted != nil {
			q.opts.OnExhausted(ctx, ev, err)
		}
		return
	}

	eventsTotal.WithLabelValues(string(ev.Topic), "retry").Inc()
	ev.Attempt++
	go func(ev Event) {
		if q.opts.Backoff > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(q.opts.Backoff):
			}
		}
		select {
		case <-ctx.Done():
		case q.ch <- ev:
		}
	}(ev)
}
