package workitems

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/events_backend/config"
	"bitbucket.org/mmdatafocus/events_backend/locking"
	"bitbucket.org/mmdatafocus/events_backend/messaging"
	"bitbucket.org/mmdatafocus/events_backend/queueing"
	"bitbucket.org/mmdatafocus/events_backend/utils"
	"github.com/sirupsen/logrus"
)

// Processor drains the work item queue: resolve handler, take the handler's
// lock, run, settle the delivery. Any number of processor instances may run
// concurrently across the cluster; the per-item locks are what serialize
// work per discriminator.
type Processor struct {
	queue    queueing.Queue
	registry *Registry
	bus      messaging.MessageBus
	logger   *logrus.Logger

	// itemTimeout caps one handling attempt; keep it under the queue's
	// visibility timeout.
	itemTimeout time.Duration
}

func NewProcessor(queue queueing.Queue, registry *Registry, bus messaging.MessageBus, itemTimeout time.Duration, logger *logrus.Logger) *Processor {
	return &Processor{
		queue:       queue,
		registry:    registry,
		bus:         bus,
		logger:      logger,
		itemTimeout: itemTimeout,
	}
}

// Run blocks receiving items until ctx is cancelled.
func (p *Processor) Run(ctx context.Context) error {
	return p.queue.Receive(ctx, p.process)
}

func (p *Processor) process(ctx context.Context, d queueing.Delivery) {
	item := d.Item()
	fields := logrus.Fields{
		"module":         "workitems",
		"type":           item.Type,
		"correlation_id": item.CorrelationId,
	}
	ctx = utils.SetCorrelationIdInContext(ctx, item.CorrelationId)

	handler, err := p.registry.GetHandler(item.Type)
	if err != nil {
		// Misconfiguration: nothing can route this type until a deploy
		// registers it. Keep it loud and let the queue's retry policy decide.
		config.LogError(ctx, p.logger, "workitems", "Processor.process", logrus.Fields{"type": item.Type}, err)
		_ = d.Abandon(ctx)
		return
	}

	// The lock is mandatory: handling without it would break the
	// one-handler-per-discriminator invariant.
	lock, err := handler.AcquireLock(ctx, item.Data)
	if err != nil {
		if errors.Is(err, locking.ErrNotObtained) {
			p.logger.WithFields(fields).Warn("work item lock is held elsewhere; abandoning for redelivery")
		} else {
			config.LogError(ctx, p.logger, "workitems", "Processor.process", logrus.Fields{"type": item.Type}, fmt.Errorf("acquiring work item lock: %w", err))
		}
		_ = d.Abandon(ctx)
		return
	}

	itemCtx, cancel := context.WithTimeout(ctx, p.itemTimeout)
	itemContext := NewContext(itemCtx, item, p.bus, p.logger)
	err = p.handleItem(handler, itemContext)
	cancel()

	if lock != nil {
		if rerr := lock.Release(context.WithoutCancel(ctx)); rerr != nil {
			p.logger.WithFields(fields).Warn("releasing work item lock: " + rerr.Error())
		}
	}

	if err != nil {
		// Log through the handler's context: handlers enrich it with the
		// organization they were working on.
		config.LogError(itemContext, p.logger, "workitems", "Processor.process", logrus.Fields{"type": item.Type}, fmt.Errorf("handling work item: %w", err))
		_ = d.Abandon(ctx)
		return
	}
	if err := d.Complete(ctx); err != nil {
		p.logger.WithFields(fields).Warn("completing work item: " + err.Error())
	}
}

// handleItem converts handler panics into errors so one bad item cannot take
// the processor down.
func (p *Processor) handleItem(handler Handler, ctx *Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler.HandleItem(ctx)
}
