package queueing

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// MemoryQueue is an in-process Queue with visibility-timeout redelivery,
// used by tests and local development.
type MemoryQueue struct {
	mu         sync.Mutex
	items      chan *memoryDelivery
	visibility time.Duration
	seq        int
	enqueued   []WorkItemData
}

func NewMemoryQueue(visibility time.Duration) *MemoryQueue {
	if visibility <= 0 {
		visibility = 30 * time.Second
	}
	return &MemoryQueue{
		items:      make(chan *memoryDelivery, 1024),
		visibility: visibility,
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, item WorkItemData) (string, error) {
	q.mu.Lock()
	q.seq++
	id := strconv.Itoa(q.seq)
	q.enqueued = append(q.enqueued, item)
	q.mu.Unlock()

	q.items <- &memoryDelivery{queue: q, id: id, item: item}
	return id, nil
}

// Enqueued returns a copy of everything ever enqueued, in order. Test use.
func (q *MemoryQueue) Enqueued() []WorkItemData {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]WorkItemData, len(q.enqueued))
	copy(out, q.enqueued)
	return out
}

func (q *MemoryQueue) Receive(ctx context.Context, handler func(ctx context.Context, d Delivery)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d := <-q.items:
			d.startVisibilityTimer()
			handler(ctx, d)
		}
	}
}

type memoryDelivery struct {
	queue *MemoryQueue
	id    string
	item  WorkItemData

	mu      sync.Mutex
	settled bool
	timer   *time.Timer
}

func (d *memoryDelivery) Item() WorkItemData { return d.item }

func (d *memoryDelivery) startVisibilityTimer() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.timer = time.AfterFunc(d.queue.visibility, func() {
		// Auto-abandon: the handler never settled within the visibility
		// window, put the item back.
		d.mu.Lock()
		if d.settled {
			d.mu.Unlock()
			return
		}
		d.settled = true
		d.mu.Unlock()
		d.queue.items <- &memoryDelivery{queue: d.queue, id: d.id, item: d.item}
	})
}

func (d *memoryDelivery) settle() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.settled {
		return false
	}
	d.settled = true
	if d.timer != nil {
		d.timer.Stop()
	}
	return true
}

func (d *memoryDelivery) Complete(ctx context.Context) error {
	d.settle()
	return nil
}

func (d *memoryDelivery) Abandon(ctx context.Context) error {
	if d.settle() {
		d.queue.items <- &memoryDelivery{queue: d.queue, id: d.id, item: d.item}
	}
	return nil
}
