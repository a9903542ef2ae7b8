package ingest

import (
	"context"
	"fmt"
	"sync"
)

// OverflowPolicy decides what Push does when a bounded queue is full.
type OverflowPolicy int

const (
	// OverflowBlock makes Push wait for space. Nothing is lost.
	OverflowBlock OverflowPolicy = iota

	// OverflowDropOldest evicts the oldest queued event to make room.
	OverflowDropOldest
)

// String returns the configuration name of the policy.
func (p OverflowPolicy) String() string {
	switch p {
	case OverflowBlock:
		return "block"
	case OverflowDropOldest:
		return "drop_oldest"
	default:
		return fmt.Sprintf("OverflowPolicy(%d)", int(p))
	}
}

// ParseOverflowPolicy maps a configuration name to a policy.
// An empty name selects OverflowBlock.
func ParseOverflowPolicy(name string) (OverflowPolicy, error) {
	switch name {
	case "", "block":
		return OverflowBlock, nil
	case "drop_oldest":
		return OverflowDropOldest, nil
	default:
		return OverflowBlock, fmt.Errorf("unknown overflow policy %q", name)
	}
}

// QueueMetrics receives handoff queue measurements.
type QueueMetrics interface {
	SetQueueDepth(n int)
	QueueOverflow()
}

type noopQueueMetrics struct{}

func (noopQueueMetrics) SetQueueDepth(int) {}
func (noopQueueMetrics) QueueOverflow()    {}

// Queue is the FIFO handoff between message handlers and the broadcast
// worker. Any number of goroutines may Push; one consumer Pops.
//
// Close acts as the terminal marker: events pushed before Close are still
// popped in order, after which Pop returns ErrQueueClosed.
type Queue struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond

	items []Event
	head  int

	capacity int // 0 means unbounded
	policy   OverflowPolicy
	closed   bool
	dropped  uint64

	metrics QueueMetrics
}

// NewQueue creates a handoff queue. A capacity of zero or less makes it
// unbounded and the policy is then irrelevant.
func NewQueue(capacity int, policy OverflowPolicy) *Queue {
	if capacity < 0 {
		capacity = 0
	}
	q := &Queue{
		capacity: capacity,
		policy:   policy,
		metrics:  noopQueueMetrics{},
	}
	q.notEmpty = sync.NewCond(&q.mu)
	q.notFull = sync.NewCond(&q.mu)
	return q
}

// SetMetrics sets the metrics sink. Call before the queue is shared.
func (q *Queue) SetMetrics(m QueueMetrics) {
	if m != nil {
		q.metrics = m
	}
}

// Push appends an event. On a full bounded queue it waits for space or
// evicts the oldest event, depending on the policy. It returns
// ErrQueueClosed once Close has been called, or ctx.Err() if ctx ends
// while waiting.
func (q *Queue) Push(ctx context.Context, ev Event) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}

	if q.capacity > 0 && q.lenLocked() >= q.capacity {
		switch q.policy {
		case OverflowDropOldest:
			q.popLocked()
			q.dropped++
			q.metrics.QueueOverflow()
		default:
			if err := q.waitForSpaceLocked(ctx); err != nil {
				return err
			}
		}
	}

	q.items = append(q.items, ev)
	q.metrics.SetQueueDepth(q.lenLocked())
	q.notEmpty.Signal()
	return nil
}

// waitForSpaceLocked blocks until the queue has room, is closed, or ctx ends.
// q.mu must be held.
func (q *Queue) waitForSpaceLocked(ctx context.Context) error {
	// Wake waiters when ctx ends so they can observe it.
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.notFull.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	for q.lenLocked() >= q.capacity && !q.closed {
		if err := ctx.Err(); err != nil {
			return err
		}
		q.notFull.Wait()
	}
	if q.closed {
		return ErrQueueClosed
	}
	return ctx.Err()
}

// Pop removes and returns the oldest event, waiting while the queue is
// empty. It returns ErrQueueClosed when the queue is closed and drained,
// or ctx.Err() if ctx ends first.
func (q *Queue) Pop(ctx context.Context) (Event, error) {
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.notEmpty.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()

	for q.lenLocked() == 0 {
		if q.closed {
			return Event{}, ErrQueueClosed
		}
		if err := ctx.Err(); err != nil {
			return Event{}, err
		}
		q.notEmpty.Wait()
	}

	ev := q.popLocked()
	q.metrics.SetQueueDepth(q.lenLocked())
	q.notFull.Signal()
	return ev, nil
}

// Close places the terminal marker. Further pushes fail; queued events
// remain poppable. Close is idempotent.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	q.notEmpty.Broadcast()
	q.notFull.Broadcast()
}

// Len returns the number of queued events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lenLocked()
}

// Capacity returns the configured bound, 0 for unbounded.
func (q *Queue) Capacity() int {
	return q.capacity
}

// Dropped returns how many events OverflowDropOldest has evicted.
func (q *Queue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Closed reports whether Close has been called.
func (q *Queue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

func (q *Queue) lenLocked() int {
	return len(q.items) - q.head
}

func (q *Queue) popLocked() Event {
	ev := q.items[q.head]
	q.items[q.head] = Event{}
	q.head++

	// Reclaim the consumed prefix once it dominates the backing array.
	if q.head > 64 && q.head*2 >= len(q.items) {
		n := copy(q.items, q.items[q.head:])
		clear(q.items[n:])
		q.items = q.items[:n]
		q.head = 0
	}
	return ev
}
