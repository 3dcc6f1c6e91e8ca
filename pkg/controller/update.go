package controller

import (
	"github.com/juju/errors"
	"github.com/mitchellh/hashstructure"

	"github.com/flowctl/core/pkg/graph"
	"github.com/flowctl/core/pkg/queue"
)

// UpdateProcessorConfig reconfigures a processor instance in place. The
// new config's structural hash is compared against the last one applied
// for id before anything is touched: a management client that resends
// the current configuration unchanged (a common polling-UI pattern)
// never takes the write lock or calls the plug-in's Configure again
// (§9's no-op-update-skip decision).
func (c *Controller) UpdateProcessorConfig(id string, config map[string]interface{}) error {
	hash, err := hashstructure.Hash(config, nil)
	if err != nil {
		return errors.Annotate(err, "hash processor config")
	}

	c.updateHashesMu.Lock()
	unchanged := c.updateHashes[id] == hash && c.updateHashes[id] != 0
	c.updateHashesMu.Unlock()
	if unchanged {
		return nil
	}

	c.instancesMu.Lock()
	inst, ok := c.processors[id]
	c.instancesMu.Unlock()
	if !ok {
		return errors.NotFoundf("processor %q", id)
	}

	c.mu.RLock()
	conn, err := c.g.Connectable(id)
	c.mu.RUnlock()
	if err != nil {
		return errors.Trace(err)
	}
	if conn.ScheduledState == graph.StateRunning {
		return errors.NewNotValid(nil, "cannot reconfigure a running processor, stop it first")
	}

	if err := inst.Configure(c.id, config); err != nil {
		return errors.Annotatef(err, "reconfigure processor %q", id)
	}

	c.updateHashesMu.Lock()
	c.updateHashes[id] = hash
	c.updateHashesMu.Unlock()
	return nil
}

// UpdateConnectionQueueThresholds changes a connection's back-pressure
// thresholds in place, taking only the read lock: the queue's own mutex
// guards the mutation (§5 — workers never need the controller's write
// lock for a change that does not touch graph topology).
func (c *Controller) UpdateConnectionQueueThresholds(id string, thresholds queue.Thresholds) error {
	c.mu.RLock()
	conn, err := c.g.Connection(id)
	c.mu.RUnlock()
	if err != nil {
		return errors.Trace(err)
	}
	conn.Queue.SetThresholds(thresholds)
	return nil
}
