package services

import (
	"context"

	"bitbucket.org/mmdatafocus/events_backend/messaging"
	"github.com/sirupsen/logrus"
)

// ConnectionMapping tracks live subscriber connections per group
// (organization id). The UI bridge registers connections as users attach.
type ConnectionMapping interface {
	GetGroupConnectionCount(ctx context.Context, groupId string) (int64, error)
}

// MessageService is the publish gate for Stack and PersistentEvent change
// messages: when nobody is connected for the owning organization the
// broadcast is skipped. A suppressed message is not a delivery failure;
// clients reload state when they reconnect.
type MessageService struct {
	connections ConnectionMapping
	enabled     bool
	logger      *logrus.Logger
}

func NewMessageService(connections ConnectionMapping, enabled bool, logger *logrus.Logger) *MessageService {
	return &MessageService{connections: connections, enabled: enabled, logger: logger}
}

func (s *MessageService) ShouldPublish(ctx context.Context, message *messaging.EntityChanged) bool {
	if !s.enabled {
		return true
	}

	// No organization id means we have no idea who might be listening;
	// fail open.
	if message.OrganizationId == "" {
		return true
	}

	count, err := s.connections.GetGroupConnectionCount(ctx, message.OrganizationId)
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"module":          "services",
			"organization_id": message.OrganizationId,
		}).Warn("counting listener connections: " + err.Error())
		return true
	}
	return count > 0
}
