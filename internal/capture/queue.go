// Package capture reads physical input devices on the controller host and
// hands their events to the encoder through bounded queues.
package capture

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/bnema/xrelay/internal/wire"
)

// DefaultQueueSize is the per-source queue capacity.
const DefaultQueueSize = 256

// Kind classifies a captured input.
type Kind int

const (
	KindMove Kind = iota
	KindButton
	KindScroll
	KindKey
)

func (k Kind) String() string {
	switch k {
	case KindMove:
		return "move"
	case KindButton:
		return "button"
	case KindScroll:
		return "scroll"
	case KindKey:
		return "key"
	default:
		return "unknown"
	}
}

// Event is one physical input occurrence. Pointer events carry no position;
// it is resolved when the event is encoded.
type Event struct {
	Kind    Kind
	Button  wire.Button
	Pressed bool
	DX, DY  int32
	Code    uint16
	State   wire.KeyState
}

// Queue is a bounded FIFO that never blocks the producer. When full it
// evicts the oldest motion event, then the oldest scroll, and only then the
// oldest entry of any kind, so button and key transitions survive bursts of
// motion.
type Queue struct {
	mu      sync.Mutex
	buf     []Event
	size    int
	ready   chan struct{}
	dropped atomic.Uint64
}

// NewQueue returns a queue holding up to size events. Non-positive sizes
// use DefaultQueueSize.
func NewQueue(size int) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Queue{
		buf:   make([]Event, 0, size),
		size:  size,
		ready: make(chan struct{}, 1),
	}
}

// Push enqueues ev without blocking.
func (q *Queue) Push(ev Event) {
	q.mu.Lock()
	if len(q.buf) >= q.size {
		i := q.victim()
		q.buf = slices.Delete(q.buf, i, i+1)
		q.dropped.Add(1)
	}
	q.buf = append(q.buf, ev)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// victim returns the index to evict. Callers hold mu.
func (q *Queue) victim() int {
	for _, kind := range []Kind{KindMove, KindScroll} {
		if i := slices.IndexFunc(q.buf, func(e Event) bool { return e.Kind == kind }); i >= 0 {
			return i
		}
	}
	return 0
}

// Pop blocks until an event is available or ctx is done.
func (q *Queue) Pop(ctx context.Context) (Event, error) {
	for {
		q.mu.Lock()
		if len(q.buf) > 0 {
			ev := q.buf[0]
			q.buf = slices.Delete(q.buf, 0, 1)
			q.mu.Unlock()
			return ev, nil
		}
		q.mu.Unlock()

		select {
		case <-q.ready:
		case <-ctx.Done():
			return Event{}, ctx.Err()
		}
	}
}

// Len returns the number of queued events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buf)
}

// Dropped returns how many events were discarded on overflow.
func (q *Queue) Dropped() uint64 { return q.dropped.Load() }
