package billing

import (
	"context"
	"time"
)

// Subscription is an external billing subscription tied to a customer.
type Subscription struct {
	Id         string
	CustomerId string
	CanceledAt *time.Time
}

func (s Subscription) IsCanceled() bool {
	return s.CanceledAt != nil
}

// SubscriptionService is the outbound billing provider. Implementations live
// outside this codebase; organization removal only needs to list and cancel.
type SubscriptionService interface {
	ListByCustomer(ctx context.Context, customerId string) ([]Subscription, error)
	Cancel(ctx context.Context, subscriptionId string) error
}
