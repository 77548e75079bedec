package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/events_backend/billing"
	"bitbucket.org/mmdatafocus/events_backend/locking"
	"bitbucket.org/mmdatafocus/events_backend/models"
	"bitbucket.org/mmdatafocus/events_backend/utils"
	"bitbucket.org/mmdatafocus/events_backend/workitems"
	"github.com/sirupsen/logrus"
)

const removeOrganizationLockDuration = 15 * time.Minute

// RemoveOrganizationHandler cascades the delete of one tenant: billing
// subscription, user memberships, tokens, webhooks, project data, then the
// organization record, reporting percentage progress at each phase.
//
// There are no resumption markers between phases. A crash mid-cascade is
// recovered by redelivery: the rerun restarts at phase 0, where the
// organization-absent short-circuit and idempotent bulk deletes make
// already-finished phases cheap.
type RemoveOrganizationHandler struct {
	db            *models.Database
	subscriptions billing.SubscriptionService
	lockProvider  locking.Provider
	logger        *logrus.Logger
}

func NewRemoveOrganizationHandler(db *models.Database, subscriptions billing.SubscriptionService, lockProvider locking.Provider, logger *logrus.Logger) *RemoveOrganizationHandler {
	return &RemoveOrganizationHandler{
		db:            db,
		subscriptions: subscriptions,
		lockProvider:  lockProvider,
		logger:        logger,
	}
}

// AcquireLock serializes deletion per organization: concurrent removal items
// for the same tenant run one at a time, different tenants in parallel.
func (h *RemoveOrganizationHandler) AcquireLock(ctx context.Context, data json.RawMessage) (locking.Lock, error) {
	var wi workitems.RemoveOrganizationWorkItem
	if err := json.Unmarshal(data, &wi); err != nil {
		return nil, fmt.Errorf("unmarshal remove organization work item: %w", err)
	}
	key := fmt.Sprintf("remove-organization:%s", wi.OrganizationId)
	return h.lockProvider.Acquire(ctx, key, removeOrganizationLockDuration, 0)
}

func (h *RemoveOrganizationHandler) HandleItem(c *workitems.Context) error {
	var wi workitems.RemoveOrganizationWorkItem
	if err := c.Bind(&wi); err != nil {
		return err
	}
	c.Context = utils.SetOrganizationIdInContext(c.Context, wi.OrganizationId)

	log := h.logger.WithFields(logrus.Fields{
		"module":          "handlers",
		"handler":         "RemoveOrganization",
		"organization_id": wi.OrganizationId,
		"correlation_id":  c.Item.CorrelationId,
	})
	log.Info("received remove organization work item")

	c.ReportProgress(0, "Starting deletion...")
	organization, err := h.db.Organizations.GetById(c, wi.OrganizationId)
	if err != nil {
		return err
	}
	if organization == nil {
		// Already gone; this is the idempotent rerun path.
		c.ReportProgress(100, "Organization deleted")
		return nil
	}

	c.ReportProgress(10, "Removing subscriptions")
	if err := h.cancelSubscriptions(c, organization, log); err != nil {
		return err
	}

	c.ReportProgress(20, "Removing users")
	if err := h.removeUsers(c, organization, wi.CurrentUserId, log); err != nil {
		return err
	}

	c.ReportProgress(30, "Removing tokens")
	if _, err := h.db.Tokens.RemoveAllByOrganizationId(c, organization.Id); err != nil {
		return fmt.Errorf("removing tokens: %w", err)
	}

	c.ReportProgress(40, "Removing web hooks")
	if _, err := h.db.WebHooks.RemoveAllByOrganizationId(c, organization.Id); err != nil {
		return fmt.Errorf("removing web hooks: %w", err)
	}

	c.ReportProgress(50, "Removing projects")
	if err := h.removeProjects(c, organization, wi.IsGlobalAdmin, log); err != nil {
		return err
	}

	log.Info("deleting organization")
	c.ReportProgress(90, "Removing organization")
	if err := h.db.Organizations.Remove(c, organization.Id); err != nil {
		return fmt.Errorf("removing organization: %w", err)
	}

	c.ReportProgress(100, "Organization deleted")
	return nil
}

func (h *RemoveOrganizationHandler) cancelSubscriptions(ctx context.Context, organization *models.Organization, log *logrus.Entry) error {
	if organization.BillingCustomerId == "" || h.subscriptions == nil {
		return nil
	}
	log.Info("canceling billing subscriptions")

	subscriptions, err := h.subscriptions.ListByCustomer(ctx, organization.BillingCustomerId)
	if err != nil {
		return fmt.Errorf("listing billing subscriptions: %w", err)
	}
	for _, subscription := range subscriptions {
		if subscription.IsCanceled() {
			continue
		}
		if err := h.subscriptions.Cancel(ctx, subscription.Id); err != nil {
			return fmt.Errorf("canceling subscription %s: %w", subscription.Id, err)
		}
	}
	return nil
}

func (h *RemoveOrganizationHandler) removeUsers(ctx context.Context, organization *models.Organization, currentUserId string, log *logrus.Entry) error {
	users, err := h.db.Users.GetByOrganizationId(ctx, organization.Id)
	if err != nil {
		return fmt.Errorf("listing users: %w", err)
	}
	for _, user := range users {
		// Delete the user outright when this organization was their only
		// membership and they are not the user who initiated the deletion;
		// otherwise just drop the membership edge.
		onlyMembership := len(user.OrganizationIds.Without(organization.Id)) == 0
		if onlyMembership && user.Id != currentUserId {
			log.WithFields(logrus.Fields{"user_id": user.Id}).Info("removing user with no other organizations")
			if err := h.db.Users.Remove(ctx, user.Id); err != nil {
				return fmt.Errorf("removing user %s: %w", user.Id, err)
			}
			continue
		}
		log.WithFields(logrus.Fields{"user_id": user.Id}).Info("removing user membership")
		user.OrganizationIds = user.OrganizationIds.Without(organization.Id)
		if err := h.db.Users.Save(ctx, user); err != nil {
			return fmt.Errorf("saving user %s: %w", user.Id, err)
		}
	}
	return nil
}

// removeProjects resets and deletes project data. Only global admins may
// wipe arbitrary project data; for everyone else the phase is skipped and
// the organization shell deletion below still proceeds.
func (h *RemoveOrganizationHandler) removeProjects(c *workitems.Context, organization *models.Organization, isGlobalAdmin bool, log *logrus.Entry) error {
	if !isGlobalAdmin {
		return nil
	}
	projects, err := h.db.Projects.GetByOrganizationId(c, organization.Id)
	if err != nil {
		return fmt.Errorf("listing projects: %w", err)
	}
	if len(projects) == 0 {
		return nil
	}

	completed := 1
	for _, project := range projects {
		log.WithFields(logrus.Fields{"project_id": project.Id}).Info("resetting project data")
		if _, err := h.db.Events.RemoveAllByProjectId(c, organization.Id, project.Id); err != nil {
			return fmt.Errorf("removing events for project %s: %w", project.Id, err)
		}
		if _, err := h.db.Stacks.RemoveAllByProjectId(c, organization.Id, project.Id); err != nil {
			return fmt.Errorf("removing stacks for project %s: %w", project.Id, err)
		}
		c.ReportProgress(workitems.CalculateProgress(len(projects), completed, 51, 89), "Removing projects...")
		completed++
	}

	log.Info("deleting all projects")
	if err := h.db.Projects.RemoveAll(c, projects); err != nil {
		return fmt.Errorf("removing projects: %w", err)
	}
	return nil
}
