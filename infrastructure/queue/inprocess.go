package queue

import (
	"container/heap"
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Publish/Consume once Close has been called.
var ErrClosed = errors.New("queue: closed")

// pendingItem is one queued-but-undelivered message, ordered by priority
// (higher first) and then by arrival order within the same priority.
type pendingItem struct {
	seq      int64
	priority int
	body     []byte
}

// priorityHeap is a container/heap.Interface over pendingItem, popping the
// highest-priority, earliest-arrived item first.
type priorityHeap []*pendingItem

func (h priorityHeap) Len() int { return len(h) }
func (h priorityHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}
func (h priorityHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *priorityHeap) Push(x interface{}) { *h = append(*h, x.(*pendingItem)) }
func (h *priorityHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// namedQueue is one priority-ordered queue with a bounded capacity and a
// notification channel consumers block on when empty.
type namedQueue struct {
	mu         sync.Mutex
	items      priorityHeap
	notify     chan struct{}
	spaceAvail chan struct{}
	capacity   int
	nextSeq    int64
}

func newNamedQueue(capacity int) *namedQueue {
	return &namedQueue{notify: make(chan struct{}, 1), spaceAvail: make(chan struct{}, 1), capacity: capacity}
}

func (q *namedQueue) push(priority int, body []byte) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) >= q.capacity {
		return false
	}
	heap.Push(&q.items, &pendingItem{seq: q.nextSeq, priority: priority, body: body})
	q.nextSeq++
	select {
	case q.notify <- struct{}{}:
	default:
	}
	return true
}

func (q *namedQueue) pop() (*pendingItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	item := heap.Pop(&q.items).(*pendingItem)
	select {
	case q.spaceAvail <- struct{}{}:
	default:
	}
	return item, true
}

// InProcessQueue implements Queue with in-memory priority queues, one per
// named queue. It never crosses a process boundary and exists for local
// development and tests where a broker would be overkill.
type InProcessQueue struct {
	mu      sync.Mutex
	queues  map[string]*namedQueue
	closed  bool
	bufSize int
}

// NewInProcessQueue returns a Queue backed by bounded priority queues of
// bufSize capacity per named queue.
func NewInProcessQueue(bufSize int) *InProcessQueue {
	if bufSize <= 0 {
		bufSize = 64
	}
	return &InProcessQueue{queues: make(map[string]*namedQueue), bufSize: bufSize}
}

func (q *InProcessQueue) named(name string) *namedQueue {
	q.mu.Lock()
	defer q.mu.Unlock()
	nq, ok := q.queues[name]
	if !ok {
		nq = newNamedQueue(q.bufSize)
		q.queues[name] = nq
	}
	return nq
}

// Publish enqueues payload onto queue at priority, blocking if the queue is
// full and ctx is not canceled first.
func (q *InProcessQueue) Publish(ctx context.Context, queue string, payload []byte, priority int) error {
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return ErrClosed
	}

	nq := q.named(queue)
	for {
		if nq.push(priority, payload) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-nq.spaceAvail:
		}
	}
}

// Consume pops the highest-priority pending message from queue on each
// demand tick. prefetch is accepted for interface parity with the AMQP
// adapter but has no effect here: the whole priority queue is already
// in-process memory, so there is no network round trip to batch.
func (q *InProcessQueue) Consume(ctx context.Context, queue string, prefetch int) (<-chan Delivery, error) {
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	nq := q.named(queue)
	out := make(chan Delivery)
	go func() {
		defer close(out)
		for {
			item, ok := nq.pop()
			if !ok {
				select {
				case <-nq.notify:
					continue
				case <-ctx.Done():
					return
				}
			}
			delivery := Delivery{
				Body:     item.body,
				Priority: item.priority,
				Ack:      func() error { return nil },
				Nack:     func(bool) error { return nil },
			}
			select {
			case out <- delivery:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Close is a no-op beyond marking the queue closed; channels and heaps are
// garbage collected once unreferenced.
func (q *InProcessQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}
