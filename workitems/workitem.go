package workitems

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/events_backend/locking"
	"bitbucket.org/mmdatafocus/events_backend/queueing"
	"bitbucket.org/mmdatafocus/events_backend/utils"
)

const (
	TypeRemoveOrganization = "remove-organization"
	TypeThrottleBots       = "throttle-bots"
	TypeEventPost          = "event-post"
)

// RemoveOrganizationWorkItem triggers the cascading delete of one tenant.
type RemoveOrganizationWorkItem struct {
	OrganizationId string `json:"organization_id" validate:"required"`
	CurrentUserId  string `json:"current_user_id"`
	IsGlobalAdmin  bool   `json:"is_global_admin"`
}

// ThrottleBotsWorkItem requests retroactive cleanup of events accepted from
// a throttled client IP within one window.
type ThrottleBotsWorkItem struct {
	OrganizationId  string    `json:"organization_id" validate:"required"`
	ClientIpAddress string    `json:"client_ip_address" validate:"required"`
	UtcStartDate    time.Time `json:"utc_start_date"`
	UtcEndDate      time.Time `json:"utc_end_date"`
}

// EventPostWorkItem is one ingested batch of events for a single project,
// posted by the API surface for asynchronous processing.
type EventPostWorkItem struct {
	OrganizationId string        `json:"organization_id" validate:"required"`
	ProjectId      string        `json:"project_id" validate:"required"`
	Events         []PostedEvent `json:"events" validate:"required,min=1"`
}

// PostedEvent is the wire form of one event inside an EventPostWorkItem.
type PostedEvent struct {
	Id              string    `json:"id"`
	Type            string    `json:"type"`
	Source          string    `json:"source"`
	Message         string    `json:"message"`
	ClientIpAddress string    `json:"client_ip_address"`
	Date            time.Time `json:"date"`
}

// Handler processes one work item type. AcquireLock runs before HandleItem
// and must fail fast with locking.ErrNotObtained when the same discriminator
// is already being handled elsewhere; a nil lock means the handler needs no
// serialization.
type Handler interface {
	AcquireLock(ctx context.Context, data json.RawMessage) (locking.Lock, error)
	HandleItem(ctx *Context) error
}

// Enqueue marshals payload into a WorkItemData envelope and publishes it.
func Enqueue(ctx context.Context, queue queueing.Queue, itemType string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal %s work item: %w", itemType, err)
	}
	return queue.Enqueue(ctx, queueing.WorkItemData{
		Type:          itemType,
		Data:          data,
		CorrelationId: utils.CorrelationIdFromContextOrNew(ctx),
	})
}

// CalculateProgress maps completed/total into the [startProgress, endProgress]
// range for phase-relative progress reporting.
func CalculateProgress(total, completed int, startProgress, endProgress int) int {
	if total <= 0 {
		return endProgress
	}
	progress := startProgress + (endProgress-startProgress)*completed/total
	if progress > endProgress {
		progress = endProgress
	}
	return progress
}
