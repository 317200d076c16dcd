package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// collector records handler invocations across goroutines.
type collector struct {
	mu    sync.Mutex
	seen  []Event
	errs  int
	errBy int // fail deliveries while attempt <= errBy
}

func (c *collector) handle(_ context.Context, ev Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen = append(c.seen, ev)
	if ev.Attempt <= c.errBy {
		c.errs++
		return errors.New("transient")
	}
	return nil
}

func (c *collector) events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.seen))
	copy(out, c.seen)
	return out
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestQueue_DeliversToRegisteredHandler(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := &collector{}
	q := New(Options{QueueSize: 8, Workers: 2, MaxAttempts: 1})
	q.Register(TopicAnalyze, c.handle)
	go q.Run(ctx)

	if err := q.Publish(ctx, TopicAnalyze, "req-1"); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	waitFor(t, time.Second, func() bool { return len(c.events()) == 1 })

	ev := c.events()[0]
	if ev.RequestID != "req-1" || ev.Topic != TopicAnalyze || ev.Attempt != 1 {
		t.Fatalf("delivered event = %+v", ev)
	}
}

func TestQueue_RedeliversUntilSuccess(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Fail the first two deliveries, succeed on the third.
	c := &collector{errBy: 2}
	q := New(Options{QueueSize: 8, Workers: 1, MaxAttempts: 5, Backoff: time.Millisecond})
	q.Register(TopicRender, c.handle)
	go q.Run(ctx)

	if err := q.Publish(ctx, TopicRender, "req-2"); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return len(c.events()) == 3 })

	got := c.events()
	for i, ev := range got {
		if ev.Attempt != i+1 {
			t.Fatalf("delivery %d attempt = %d; want %d", i, ev.Attempt, i+1)
		}
	}
}

func TestQueue_ExhaustionFiresHookOnce(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var exhausted []Event

	c := &collector{errBy: 100} // never succeeds
	q := New(Options{
		QueueSize:   8,
		Workers:     1,
		MaxAttempts: 3,
		Backoff:     time.Millisecond,
		OnExhausted: func(_ context.Context, ev Event, err error) {
			mu.Lock()
			defer mu.Unlock()
			exhausted = append(exhausted, ev)
		},
	})
	q.Register(TopicAnalyze, c.handle)
	go q.Run(ctx)

	if err := q.Publish(ctx, TopicAnalyze, "req-3"); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(exhausted) == 1
	})

	if got := c.events(); len(got) != 3 {
		t.Fatalf("deliveries = %d; want exactly MaxAttempts (3)", len(got))
	}
	mu.Lock()
	defer mu.Unlock()
	if exhausted[0].RequestID != "req-3" || exhausted[0].Attempt != 3 {
		t.Fatalf("exhausted event = %+v", exhausted[0])
	}
}

func TestQueue_PublishAfterClose(t *testing.T) {
	q := New(Options{QueueSize: 1, Workers: 1, MaxAttempts: 1})
	q.Close()
	if err := q.Publish(context.Background(), TopicAnalyze, "x"); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("err = %v; want ErrQueueClosed", err)
	}
	// Close is idempotent.
	q.Close()
}

func TestQueue_PublishHonorsContext(t *testing.T) {
	q := New(Options{QueueSize: 1, Workers: 1, MaxAttempts: 1})
	// Fill the buffer; no workers are draining it.
	if err := q.Publish(context.Background(), TopicAnalyze, "fill"); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := q.Publish(ctx, TopicAnalyze, "blocked"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v; want DeadlineExceeded", err)
	}
}
