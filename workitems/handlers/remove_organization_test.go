package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/events_backend/billing"
	"bitbucket.org/mmdatafocus/events_backend/locking"
	"bitbucket.org/mmdatafocus/events_backend/messaging"
	"bitbucket.org/mmdatafocus/events_backend/models"
	"bitbucket.org/mmdatafocus/events_backend/workitems"
)

func seedOrganization(repos *fakeRepos) *models.Organization {
	org := &models.Organization{Id: "org1", Name: "Acme", BillingCustomerId: "cus_1"}
	repos.orgs.orgs[org.Id] = org
	return org
}

func TestRemoveOrganization_FullCascade(t *testing.T) {
	db, repos := newFakeDatabase()
	seedOrganization(repos)
	repos.projects.projects = []*models.Project{
		{Id: "proj1", OrganizationId: "org1"},
		{Id: "proj2", OrganizationId: "org1"},
	}
	repos.users.users = []*models.User{
		{Id: "user1", OrganizationIds: models.StringList{"org1"}},
		{Id: "user2", OrganizationIds: models.StringList{"org1", "org2"}},
	}
	canceledAt := time.Now()
	subscriptions := &fakeSubscriptionService{subscriptions: []billing.Subscription{
		{Id: "sub1", CustomerId: "cus_1"},
		{Id: "sub2", CustomerId: "cus_1", CanceledAt: &canceledAt},
	}}

	h := NewRemoveOrganizationHandler(db, subscriptions, newSingleLockProvider(), testLogger())
	bus := messaging.NewMemoryMessageBus()
	c := handlerContext(t, workitems.TypeRemoveOrganization, &workitems.RemoveOrganizationWorkItem{
		OrganizationId: "org1",
		CurrentUserId:  "admin1",
		IsGlobalAdmin:  true,
	}, bus)

	if err := h.HandleItem(c); err != nil {
		t.Fatalf("HandleItem: %v", err)
	}

	// Only the active subscription gets canceled.
	if len(subscriptions.canceled) != 1 || subscriptions.canceled[0] != "sub1" {
		t.Errorf("canceled = %v, want [sub1]", subscriptions.canceled)
	}

	// user1 had no other membership: deleted. user2 keeps their account but
	// loses the org1 edge.
	if len(repos.users.removed) != 1 || repos.users.removed[0] != "user1" {
		t.Errorf("removed users = %v, want [user1]", repos.users.removed)
	}
	if len(repos.users.saved) != 1 || repos.users.saved[0].Id != "user2" {
		t.Fatalf("saved users = %v, want [user2]", repos.users.saved)
	}
	if repos.users.saved[0].OrganizationIds.Contains("org1") {
		t.Error("user2 still holds the removed organization")
	}

	if len(repos.tokens.removedOrgs) != 1 || repos.tokens.removedOrgs[0] != "org1" {
		t.Errorf("token cleanup = %v, want [org1]", repos.tokens.removedOrgs)
	}
	if len(repos.webhooks.removedOrgs) != 1 || repos.webhooks.removedOrgs[0] != "org1" {
		t.Errorf("web hook cleanup = %v, want [org1]", repos.webhooks.removedOrgs)
	}

	if len(repos.events.removedProjects) != 2 || len(repos.stacks.removedProjects) != 2 {
		t.Errorf("project data cleanup: events=%v stacks=%v, want both projects",
			repos.events.removedProjects, repos.stacks.removedProjects)
	}
	if !repos.projects.removedAll {
		t.Error("projects were not deleted")
	}

	if len(repos.orgs.removed) != 1 || repos.orgs.removed[0] != "org1" {
		t.Errorf("removed organizations = %v, want [org1]", repos.orgs.removed)
	}
}

func TestRemoveOrganization_ProgressSequence(t *testing.T) {
	db, repos := newFakeDatabase()
	seedOrganization(repos)
	repos.projects.projects = []*models.Project{
		{Id: "proj1", OrganizationId: "org1"},
		{Id: "proj2", OrganizationId: "org1"},
	}

	h := NewRemoveOrganizationHandler(db, nil, newSingleLockProvider(), testLogger())
	bus := messaging.NewMemoryMessageBus()
	c := handlerContext(t, workitems.TypeRemoveOrganization, &workitems.RemoveOrganizationWorkItem{
		OrganizationId: "org1",
		IsGlobalAdmin:  true,
	}, bus)

	if err := h.HandleItem(c); err != nil {
		t.Fatalf("HandleItem: %v", err)
	}

	statuses := bus.WorkItemStatuses()
	var progress []int
	for _, s := range statuses {
		progress = append(progress, s.Progress)
	}

	want := []int{0, 10, 20, 30, 40, 50, 70, 89, 90, 100}
	if len(progress) != len(want) {
		t.Fatalf("progress = %v, want %v", progress, want)
	}
	for i := range want {
		if progress[i] != want[i] {
			t.Fatalf("progress = %v, want %v", progress, want)
		}
	}
	for i := 1; i < len(progress); i++ {
		if progress[i] < progress[i-1] {
			t.Fatalf("progress went backwards: %v", progress)
		}
	}
}

func TestRemoveOrganization_AbsentOrganization_Idempotent(t *testing.T) {
	db, repos := newFakeDatabase()
	repos.users.users = []*models.User{{Id: "user1", OrganizationIds: models.StringList{"gone"}}}

	h := NewRemoveOrganizationHandler(db, nil, newSingleLockProvider(), testLogger())
	bus := messaging.NewMemoryMessageBus()
	c := handlerContext(t, workitems.TypeRemoveOrganization, &workitems.RemoveOrganizationWorkItem{
		OrganizationId: "gone",
	}, bus)

	if err := h.HandleItem(c); err != nil {
		t.Fatalf("HandleItem: %v", err)
	}

	if len(repos.users.removed) != 0 || len(repos.tokens.removedOrgs) != 0 {
		t.Error("cascade ran against an absent organization")
	}
	statuses := bus.WorkItemStatuses()
	if len(statuses) != 2 || statuses[0].Progress != 0 || statuses[1].Progress != 100 {
		t.Fatalf("statuses = %+v, want 0 then 100", statuses)
	}
}

func TestRemoveOrganization_NonAdmin_SkipsProjectData(t *testing.T) {
	db, repos := newFakeDatabase()
	seedOrganization(repos)
	repos.projects.projects = []*models.Project{{Id: "proj1", OrganizationId: "org1"}}

	h := NewRemoveOrganizationHandler(db, nil, newSingleLockProvider(), testLogger())
	c := handlerContext(t, workitems.TypeRemoveOrganization, &workitems.RemoveOrganizationWorkItem{
		OrganizationId: "org1",
		IsGlobalAdmin:  false,
	}, messaging.NewMemoryMessageBus())

	if err := h.HandleItem(c); err != nil {
		t.Fatalf("HandleItem: %v", err)
	}

	if len(repos.events.removedProjects) != 0 || repos.projects.removedAll {
		t.Error("non-admin run touched project data")
	}
	if len(repos.orgs.removed) != 1 {
		t.Error("organization itself was not removed")
	}
}

func TestRemoveOrganization_InitiatorKeepsAccount(t *testing.T) {
	db, repos := newFakeDatabase()
	seedOrganization(repos)
	// The initiating user's only membership is the doomed organization; they
	// must keep their account, just without the membership.
	repos.users.users = []*models.User{{Id: "admin1", OrganizationIds: models.StringList{"org1"}}}

	h := NewRemoveOrganizationHandler(db, nil, newSingleLockProvider(), testLogger())
	c := handlerContext(t, workitems.TypeRemoveOrganization, &workitems.RemoveOrganizationWorkItem{
		OrganizationId: "org1",
		CurrentUserId:  "admin1",
	}, messaging.NewMemoryMessageBus())

	if err := h.HandleItem(c); err != nil {
		t.Fatalf("HandleItem: %v", err)
	}

	if len(repos.users.removed) != 0 {
		t.Fatalf("removed users = %v, want none", repos.users.removed)
	}
	if len(repos.users.saved) != 1 || len(repos.users.saved[0].OrganizationIds) != 0 {
		t.Fatalf("saved users = %+v, want admin1 with empty memberships", repos.users.saved)
	}
}

func TestRemoveOrganization_AcquireLock_SerializesPerOrganization(t *testing.T) {
	db, _ := newFakeDatabase()
	provider := newSingleLockProvider()
	h := NewRemoveOrganizationHandler(db, nil, provider, testLogger())
	payload, _ := json.Marshal(&workitems.RemoveOrganizationWorkItem{OrganizationId: "org1"})

	lock, err := h.AcquireLock(context.Background(), payload)
	if err != nil || lock == nil {
		t.Fatalf("first acquire: lock=%v err=%v", lock, err)
	}
	if _, err := h.AcquireLock(context.Background(), payload); !errors.Is(err, locking.ErrNotObtained) {
		t.Fatalf("second acquire err = %v, want ErrNotObtained", err)
	}

	otherPayload, _ := json.Marshal(&workitems.RemoveOrganizationWorkItem{OrganizationId: "org2"})
	if otherLock, err := h.AcquireLock(context.Background(), otherPayload); err != nil || otherLock == nil {
		t.Fatalf("different organization should lock independently: lock=%v err=%v", otherLock, err)
	}

	if err := lock.Release(context.Background()); err != nil {
		t.Fatalf("release: %v", err)
	}
	if relocked, err := h.AcquireLock(context.Background(), payload); err != nil || relocked == nil {
		t.Fatalf("reacquire after release: lock=%v err=%v", relocked, err)
	}
}
