package pipeline

import (
	"context"
	"fmt"
	"sort"

	"bitbucket.org/mmdatafocus/events_backend/models"
	"github.com/sirupsen/logrus"
)

// EventContext is one event moving through the pipeline. Plugins mutate the
// flags (and the event itself) but never remove entries from the batch.
type EventContext struct {
	Event   *models.PersistentEvent
	Project *models.Project

	// IsDiscarded short-circuits persistence for this entry.
	IsDiscarded bool
}

// Plugin is one pipeline stage, invoked over the whole batch. Lower priority
// runs earlier; a later plugin sees the mutations of earlier ones.
type Plugin interface {
	Name() string
	Priority() int
	EventBatchProcessing(ctx context.Context, contexts []*EventContext) error
}

// Pipeline runs the registered plugins sequentially in priority order. One
// plugin failing is logged and isolated: the batch still reaches the
// remaining plugins and persistence.
type Pipeline struct {
	plugins []Plugin
	logger  *logrus.Logger
}

func NewPipeline(logger *logrus.Logger, plugins ...Plugin) *Pipeline {
	sorted := make([]Plugin, len(plugins))
	copy(sorted, plugins)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority() < sorted[j].Priority()
	})
	return &Pipeline{plugins: sorted, logger: logger}
}

func (p *Pipeline) Run(ctx context.Context, contexts []*EventContext) {
	if len(contexts) == 0 {
		return
	}
	for _, plugin := range p.plugins {
		if err := p.runPlugin(ctx, plugin, contexts); err != nil {
			p.logger.WithFields(logrus.Fields{
				"module":          "pipeline",
				"plugin":          plugin.Name(),
				"organization_id": contexts[0].Event.OrganizationId,
				"batch_size":      len(contexts),
			}).Error("event pipeline plugin failed: " + err.Error())
		}
	}
}

func (p *Pipeline) runPlugin(ctx context.Context, plugin Plugin, contexts []*EventContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("plugin panic: %v", r)
		}
	}()
	return plugin.EventBatchProcessing(ctx, contexts)
}
