package controller

import (
	"context"
	"time"

	"github.com/juju/errors"

	"github.com/flowctl/core/pkg/repository"
	"github.com/flowctl/core/pkg/status"
)

// GroupStatus takes a point-in-time status snapshot of groupID and its
// descendants (§4.5). Safe to call concurrently with every mutation: it
// only ever takes the read lock.
func (c *Controller) GroupStatus(groupID string) (*status.ProcessGroupStatus, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap, err := c.aggregator.Snapshot(groupID)
	return snap, errors.Trace(err)
}

// ConnectionStatusHistory, ProcessorStatusHistory, ProcessGroupStatusHistory
// and RemoteProcessGroupStatusHistory pass a bounded window of a
// component's captured status samples through from the component status
// repository (§4.5, §6's history methods), the query half of the
// snapshot loop's Capture calls.
func (c *Controller) ConnectionStatusHistory(ctx context.Context, id string, from, to time.Time, maxPoints int) ([]repository.StatusSample, error) {
	if c.statusRepo == nil {
		return nil, errors.NewNotValid(nil, "no component status repository configured")
	}
	return c.statusRepo.GetConnectionStatusHistory(ctx, id, from, to, maxPoints)
}

func (c *Controller) ProcessorStatusHistory(ctx context.Context, id string, from, to time.Time, maxPoints int) ([]repository.StatusSample, error) {
	if c.statusRepo == nil {
		return nil, errors.NewNotValid(nil, "no component status repository configured")
	}
	return c.statusRepo.GetProcessorStatusHistory(ctx, id, from, to, maxPoints)
}

func (c *Controller) ProcessGroupStatusHistory(ctx context.Context, id string, from, to time.Time, maxPoints int) ([]repository.StatusSample, error) {
	if c.statusRepo == nil {
		return nil, errors.NewNotValid(nil, "no component status repository configured")
	}
	return c.statusRepo.GetProcessGroupStatusHistory(ctx, id, from, to, maxPoints)
}

func (c *Controller) RemoteProcessGroupStatusHistory(ctx context.Context, id string, from, to time.Time, maxPoints int) ([]repository.StatusSample, error) {
	if c.statusRepo == nil {
		return nil, errors.NewNotValid(nil, "no component status repository configured")
	}
	return c.statusRepo.GetRemoteProcessGroupStatusHistory(ctx, id, from, to, maxPoints)
}

// Counters returns a component's accumulated event counters without
// going through a full group status snapshot.
func (c *Controller) Counters(componentID string) status.EventCounters {
	return c.counters.CountersFor(componentID)
}
