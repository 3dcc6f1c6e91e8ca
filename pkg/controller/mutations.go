package controller

import (
	"strings"

	"github.com/juju/errors"

	"github.com/flowctl/core/pkg/classctx"
	"github.com/flowctl/core/pkg/graph"
	"github.com/flowctl/core/pkg/queue"
	"github.com/flowctl/core/pkg/registry"
	"github.com/flowctl/core/pkg/state"
)

// CreateProcessGroup adds a child process group of parentID (§4.1).
func (c *Controller) CreateProcessGroup(id, name, parentID string) (*graph.ProcessGroup, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.createProcessGroupLocked(id, name, parentID)
}

// createProcessGroupLocked is CreateProcessGroup's body, callable by a
// caller that already holds c.mu for writing — in particular
// InstantiateSnippet, which spans validation and the entire apply loop
// under one lock so a snippet batch lands atomically (§8).
func (c *Controller) createProcessGroupLocked(id, name, parentID string) (*graph.ProcessGroup, error) {
	pg, err := c.g.AddProcessGroup(id, name, parentID)
	return pg, errors.Trace(err)
}

// CreateProcessor resolves className through the registry (or, for a
// "plugin:"/"fetch:" prefixed name, through the out-of-process extension
// resolver of §4.9), configures the resulting instance, and adds it to
// the graph as a Disabled processor vertex. firstTimeAdded is implicit:
// OnAdded runs exactly once here, never again for this id.
func (c *Controller) CreateProcessor(id, name, groupID, className string, config map[string]interface{}) (*graph.Connectable, error) {
	inst, err := c.resolveProcessor(className, config)
	if err != nil {
		return nil, errors.Trace(err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.addProcessorLocked(id, name, groupID, className, inst)
}

// createProcessorLocked is CreateProcessor's body, callable by a caller
// that already holds c.mu for writing. Unlike the public method, class
// resolution itself (including, for a "plugin:"/"fetch:" class, launching
// and configuring the out-of-process subprocess) runs inside the held
// lock here: InstantiateSnippet needs the whole batch, resolution
// included, to land or fail as one unit (§8), and a snippet is the only
// caller of this path.
func (c *Controller) createProcessorLocked(id, name, groupID, className string, config map[string]interface{}) (*graph.Connectable, error) {
	inst, err := c.resolveProcessor(className, config)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return c.addProcessorLocked(id, name, groupID, className, inst)
}

// addProcessorLocked wires an already-resolved processor instance into
// the graph and the controller's own bookkeeping, assuming c.mu is held
// for writing.
func (c *Controller) addProcessorLocked(id, name, groupID, className string, inst registry.Processor) (*graph.Connectable, error) {
	conn, err := c.g.AddProcessor(id, name, groupID)
	if err != nil {
		return nil, errors.Trace(err)
	}

	c.instancesMu.Lock()
	c.processors[id] = inst
	c.classNames[id] = className
	c.instancesMu.Unlock()

	callLifecycle(inst, func(h registry.OnAdded) error { return h.OnAdded() })
	return conn, nil
}

func (c *Controller) resolveProcessor(className string, config map[string]interface{}) (registry.Processor, error) {
	restore := classctx.Enter(className)
	defer restore()

	if strings.HasPrefix(className, "plugin:") || strings.HasPrefix(className, "fetch:") {
		remote, err := c.outOfProc.Resolve(className)
		if err != nil {
			return nil, errors.Trace(err)
		}
		adapter := &outOfProcessAdapter{remote: remote}
		if err := adapter.Configure(c.id, config); err != nil {
			return nil, errors.Trace(err)
		}
		return adapter, nil
	}

	p, err := registry.Get(registry.ProcessorPlugin, className)
	if err != nil {
		return nil, errors.Trace(err)
	}
	proc, ok := p.(registry.Processor)
	if !ok {
		return nil, errors.Errorf("class %q does not implement the processor contract", className)
	}
	if err := proc.Configure(c.id, config); err != nil {
		return nil, errors.Annotatef(err, "configure processor %q", className)
	}
	return proc, nil
}

// CreateFunnel adds a funnel vertex, always immediately Running (§3: a
// funnel has no lifecycle of its own).
func (c *Controller) CreateFunnel(id, groupID string) (*graph.Connectable, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.createFunnelLocked(id, groupID)
}

func (c *Controller) createFunnelLocked(id, groupID string) (*graph.Connectable, error) {
	conn, err := c.g.AddFunnel(id, groupID)
	return conn, errors.Trace(err)
}

// CreateLabel adds a cosmetic annotation.
func (c *Controller) CreateLabel(id, groupID, text string, pos graph.Position) (*graph.Label, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.createLabelLocked(id, groupID, text, pos)
}

func (c *Controller) createLabelLocked(id, groupID, text string, pos graph.Position) (*graph.Label, error) {
	l, err := c.g.AddLabel(id, groupID, text, pos)
	return l, errors.Trace(err)
}

// CreatePort adds an input or output port, a root port if groupID is the
// root group (§3).
func (c *Controller) CreatePort(id, name, groupID string, output bool) (*graph.Connectable, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.createPortLocked(id, name, groupID, output)
}

func (c *Controller) createPortLocked(id, name, groupID string, output bool) (*graph.Connectable, error) {
	conn, err := c.g.AddPort(id, name, groupID, output)
	return conn, errors.Trace(err)
}

// CreateRemoteProcessGroup adds a site-to-site vertex targeting
// targetURI (§3, §4.11). Its port descriptors are discovered later by
// the remote group refresher, not supplied here.
func (c *Controller) CreateRemoteProcessGroup(id, name, groupID, targetURI string) (*graph.RemoteProcessGroup, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rpg, err := c.g.AddRemoteProcessGroup(id, name, groupID, targetURI)
	return rpg, errors.Trace(err)
}

// CreateConnection wires source to destination on the given
// relationships (§3). The destination is woken immediately if it is
// event-driven and already has inbound work, mirroring
// scheduleEvent's own initial-readiness check for a freshly scheduled
// component.
func (c *Controller) CreateConnection(id, groupID, sourceID, destinationID string, relationships []string, thresholds queue.Thresholds) (*graph.Connection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.createConnectionLocked(id, groupID, sourceID, destinationID, relationships, thresholds)
}

func (c *Controller) createConnectionLocked(id, groupID, sourceID, destinationID string, relationships []string, thresholds queue.Thresholds) (*graph.Connection, error) {
	conn, err := c.g.AddConnection(id, groupID, sourceID, destinationID, relationships, thresholds)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if dest, derr := c.g.Connectable(destinationID); derr == nil && c.g.AnyInboundNonEmpty(dest) {
		c.sched.NotifyReady(dest)
	}
	return conn, nil
}

// RemoveConnectable deletes a processor/port/funnel after verifying it
// is stopped/disabled and unattached (§3's removal invariant), firing
// OnRemoved on a processor instance and dropping its bookkeeping.
func (c *Controller) RemoveConnectable(id string) error {
	c.mu.Lock()
	conn, err := c.g.Connectable(id)
	if err != nil {
		c.mu.Unlock()
		return errors.Trace(err)
	}
	if err := state.VerifyCanDelete(conn); err != nil {
		c.mu.Unlock()
		return errors.Trace(err)
	}
	if err := c.g.RemoveConnectable(id); err != nil {
		c.mu.Unlock()
		return errors.Trace(err)
	}
	c.mu.Unlock()

	c.instancesMu.Lock()
	inst := c.processors[id]
	delete(c.processors, id)
	delete(c.classNames, id)
	c.instancesMu.Unlock()

	callLifecycle(inst, func(h registry.OnRemoved) error { return h.OnRemoved() })
	return nil
}

// RemoveConnection deletes a connection after verifying its queue is
// empty (§3's removal invariant).
func (c *Controller) RemoveConnection(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	conn, err := c.g.Connection(id)
	if err != nil {
		return errors.Trace(err)
	}
	if err := state.VerifyCanDeleteConnection(conn); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(c.g.RemoveConnection(id))
}

// EnableProcessor transitions a Disabled connectable to Stopped (§4.2).
func (c *Controller) EnableProcessor(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	conn, err := c.g.Connectable(id)
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(state.Enable(conn))
}

// DisableProcessor transitions a Stopped connectable to Disabled.
func (c *Controller) DisableProcessor(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	conn, err := c.g.Connectable(id)
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(state.Disable(conn))
}

// StartProcessor transitions a Stopped connectable to Running and hands
// it to the scheduling agent matching its strategy (§4.2/§4.3). Calls
// issued before InitializeFlow has run are buffered and replayed in
// order once it completes.
func (c *Controller) StartProcessor(id string) error {
	c.mu.Lock()
	if !c.started {
		c.deferred = append(c.deferred, deferredStart{id: id})
		c.mu.Unlock()
		return nil
	}

	conn, err := c.g.Connectable(id)
	if err != nil {
		c.mu.Unlock()
		return errors.Trace(err)
	}
	if err := state.Start(conn); err != nil {
		c.mu.Unlock()
		return errors.Trace(err)
	}

	c.instancesMu.Lock()
	inst := c.processors[id]
	c.instancesMu.Unlock()
	callLifecycle(inst, func(h registry.OnScheduled) error { return h.OnScheduled() })

	err = c.sched.Schedule(conn)
	c.mu.Unlock()
	return errors.Trace(err)
}

// StopProcessor transitions a Running connectable back to Stopped and
// unschedules it (§4.2/§4.3).
func (c *Controller) StopProcessor(id string) error {
	c.mu.Lock()
	conn, err := c.g.Connectable(id)
	if err != nil {
		c.mu.Unlock()
		return errors.Trace(err)
	}
	if err := state.Stop(conn); err != nil {
		c.mu.Unlock()
		return errors.Trace(err)
	}
	c.sched.Unschedule(conn)
	c.mu.Unlock()

	c.instancesMu.Lock()
	inst := c.processors[id]
	c.instancesMu.Unlock()
	callLifecycle(inst, func(h registry.OnUnscheduled) error { return h.OnUnscheduled() })
	return nil
}

// StartProcessGroup recursively starts every processor and port that is
// currently Stopped within groupID, then descends into its sub-groups
// (§4.1). Funnels need no start: AddFunnel leaves them Running already.
func (c *Controller) StartProcessGroup(id string) error {
	c.mu.Lock()
	if !c.started {
		c.deferred = append(c.deferred, deferredStart{group: true, id: id})
		c.mu.Unlock()
		return nil
	}
	pg, err := c.g.Group(id)
	if err != nil {
		c.mu.Unlock()
		return errors.Trace(err)
	}
	members := append(idsOf(pg.Processors), append(idsOf(pg.InputPorts), idsOf(pg.OutputPorts)...)...)
	subgroups := idsOf(pg.SubGroups)
	c.mu.Unlock()

	var firstErr error
	for _, cid := range members {
		if err := c.StartProcessor(cid); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, sid := range subgroups {
		if err := c.StartProcessGroup(sid); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// StopProcessGroup recursively stops every Running processor and port
// within groupID, then descends into its sub-groups.
func (c *Controller) StopProcessGroup(id string) error {
	c.mu.Lock()
	pg, err := c.g.Group(id)
	if err != nil {
		c.mu.Unlock()
		return errors.Trace(err)
	}
	members := append(idsOf(pg.Processors), append(idsOf(pg.InputPorts), idsOf(pg.OutputPorts)...)...)
	subgroups := idsOf(pg.SubGroups)
	c.mu.Unlock()

	var firstErr error
	for _, cid := range members {
		if err := c.StopProcessor(cid); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, sid := range subgroups {
		if err := c.StopProcessGroup(sid); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func idsOf(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	return out
}
