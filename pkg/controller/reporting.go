package controller

import (
	"context"
	"time"

	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"

	"github.com/flowctl/core/pkg/classctx"
	"github.com/flowctl/core/pkg/graph"
	"github.com/flowctl/core/pkg/registry"
)

// reportingTaskTrigger is the optional extension point a reporting-task
// plug-in implements to actually do something on its schedule; a
// reporting task with only the Plugin contract is creatable and
// startable but never fires (§3's GLOSSARY entry covers only the
// scheduling envelope, not every plug-in's internals).
type reportingTaskTrigger interface {
	OnTrigger(ctx context.Context) error
}

// CreateReportingTask resolves taskType through the registry, configures
// it, and registers it at controller scope (§3, §4.1). Reporting tasks
// are not members of any process group.
func (c *Controller) CreateReportingTask(id, taskType string, config map[string]interface{}) (*graph.ReportingTaskNode, error) {
	restore := classctx.Enter(taskType)
	defer restore()

	p, err := registry.Get(registry.ReportingTaskPlugin, taskType)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if err := p.Configure(c.id, config); err != nil {
		return nil, errors.Annotatef(err, "configure reporting task %q", taskType)
	}

	c.mu.Lock()
	rt, err := c.g.AddReportingTask(id, taskType, config)
	c.mu.Unlock()
	if err != nil {
		return nil, errors.Trace(err)
	}

	c.instancesMu.Lock()
	c.tasks[id] = p
	c.instancesMu.Unlock()

	callLifecycle(p, func(h registry.OnAdded) error { return h.OnAdded() })
	return rt, nil
}

// StartReportingTask transitions a reporting task to Running and begins
// its periodic schedule, if its plug-in implements OnTrigger.
func (c *Controller) StartReportingTask(id string, period time.Duration) error {
	c.mu.Lock()
	rt, err := c.g.ReportingTask(id)
	if err != nil {
		c.mu.Unlock()
		return errors.Trace(err)
	}
	if rt.ScheduledState == graph.StateRunning {
		c.mu.Unlock()
		return errors.NewNotValid(nil, "reporting task is already running")
	}
	rt.ScheduledState = graph.StateRunning
	c.mu.Unlock()

	c.instancesMu.Lock()
	p := c.tasks[id]
	c.instancesMu.Unlock()
	callLifecycle(p, func(h registry.OnScheduled) error { return h.OnScheduled() })

	trigger, ok := p.(reportingTaskTrigger)
	if !ok {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.instancesMu.Lock()
	if c.reportingCancels == nil {
		c.reportingCancels = make(map[string]context.CancelFunc)
	}
	c.reportingCancels[id] = cancel
	c.instancesMu.Unlock()

	go func() {
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := trigger.OnTrigger(ctx); err != nil {
					log.Warnf("[controller] reporting task %s trigger failed: %v", id, err)
				}
			}
		}
	}()
	return nil
}

// StopReportingTask cancels a reporting task's periodic schedule and
// transitions it back to Stopped.
func (c *Controller) StopReportingTask(id string) error {
	c.mu.Lock()
	rt, err := c.g.ReportingTask(id)
	if err != nil {
		c.mu.Unlock()
		return errors.Trace(err)
	}
	rt.ScheduledState = graph.StateStopped
	c.mu.Unlock()

	c.instancesMu.Lock()
	if cancel, ok := c.reportingCancels[id]; ok {
		cancel()
		delete(c.reportingCancels, id)
	}
	p := c.tasks[id]
	c.instancesMu.Unlock()

	callLifecycle(p, func(h registry.OnUnscheduled) error { return h.OnUnscheduled() })
	return nil
}
