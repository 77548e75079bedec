package messaging

import (
	"context"
	"sync"
)

// MemoryMessageBus records published messages in process. Test use.
type MemoryMessageBus struct {
	mu             sync.Mutex
	entityChanged  []EntityChanged
	workItemStatus []WorkItemStatus
}

func NewMemoryMessageBus() *MemoryMessageBus {
	return &MemoryMessageBus{}
}

func (b *MemoryMessageBus) PublishEntityChanged(ctx context.Context, message *EntityChanged) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entityChanged = append(b.entityChanged, *message)
	return nil
}

func (b *MemoryMessageBus) PublishWorkItemStatus(ctx context.Context, status *WorkItemStatus) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.workItemStatus = append(b.workItemStatus, *status)
	return nil
}

func (b *MemoryMessageBus) EntityChangedMessages() []EntityChanged {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]EntityChanged, len(b.entityChanged))
	copy(out, b.entityChanged)
	return out
}

func (b *MemoryMessageBus) WorkItemStatuses() []WorkItemStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]WorkItemStatus, len(b.workItemStatus))
	copy(out, b.workItemStatus)
	return out
}
