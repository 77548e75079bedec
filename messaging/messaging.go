package messaging

import "context"

type ChangeType string

const (
	ChangeTypeAdded      ChangeType = "added"
	ChangeTypeSaved      ChangeType = "saved"
	ChangeTypeRemoved    ChangeType = "removed"
	ChangeTypeRemovedAll ChangeType = "removed_all"
)

// EntityChanged announces a persisted change to one entity (or a bulk
// removal scoped to a parent). Subscribers use it to push live updates;
// nothing in the system relies on it for correctness.
type EntityChanged struct {
	EntityType     string     `json:"entity_type"`
	Id             string     `json:"id,omitempty"`
	OrganizationId string     `json:"organization_id,omitempty"`
	ProjectId      string     `json:"project_id,omitempty"`
	StackId        string     `json:"stack_id,omitempty"`
	ChangeType     ChangeType `json:"change_type"`
	CorrelationId  string     `json:"correlation_id,omitempty"`
}

// WorkItemStatus is the fire-and-forget progress side-channel for long
// running work items. Progress is a percentage, monotonically increasing
// per work item; an item that never reaches 100 and stopped being retried
// should be treated as failed by observers.
type WorkItemStatus struct {
	WorkItemId    string `json:"work_item_id"`
	Type          string `json:"type"`
	Progress      int    `json:"progress"`
	Message       string `json:"message,omitempty"`
	CorrelationId string `json:"correlation_id,omitempty"`
}

// PublishGate is consulted by the repositories before an entity-changed
// message goes out. Deny means "skip the broadcast", never "the change did
// not happen"; suppressed messages are not redelivered.
type PublishGate interface {
	ShouldPublish(ctx context.Context, message *EntityChanged) bool
}

// MessageBus publishes typed change notifications to every interested
// worker and UI bridge.
type MessageBus interface {
	PublishEntityChanged(ctx context.Context, message *EntityChanged) error
	PublishWorkItemStatus(ctx context.Context, status *WorkItemStatus) error
}
