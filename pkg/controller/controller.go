// Package controller implements the controller façade of §4.1: the
// public creation/mutation/query/lifecycle API that owns the graph, the
// scheduling agents, the two worker pools, and the clustered subsystems,
// and enforces the reader-writer lock discipline of §5 across all of
// them. Every write path below acquires the exclusive lock; every query
// path acquires the shared lock; scheduling-agent dispatch itself never
// enters this lock, per §5's "workers do not hold this lock" invariant.
package controller

import (
	"context"
	"sync"
	"time"

	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"

	"github.com/flowctl/core/pkg/classctx"
	"github.com/flowctl/core/pkg/contentclaim"
	"github.com/flowctl/core/pkg/eventqueue"
	"github.com/flowctl/core/pkg/extension"
	"github.com/flowctl/core/pkg/flowfile"
	"github.com/flowctl/core/pkg/graph"
	"github.com/flowctl/core/pkg/heartbeat"
	"github.com/flowctl/core/pkg/metrics"
	"github.com/flowctl/core/pkg/registry"
	"github.com/flowctl/core/pkg/remotegroup"
	"github.com/flowctl/core/pkg/replay"
	"github.com/flowctl/core/pkg/repository"
	"github.com/flowctl/core/pkg/scheduling"
	"github.com/flowctl/core/pkg/session"
	"github.com/flowctl/core/pkg/status"
	"github.com/flowctl/core/pkg/workerpool"
)

// Deps collects the external-collaborator repositories (§6) a Controller
// is wired against. Every field is required except Sender, which is nil
// in single-node (non-clustered) mode — heartbeating is then never
// started.
type Deps struct {
	FlowFiles  repository.FlowFileRepository
	Content    repository.ContentRepository
	Provenance repository.ProvenanceRepository
	Bulletins  repository.BulletinRepository
	Swap       repository.SwapManager
	StatusRepo repository.ComponentStatusRepository
	Sender     repository.NodeProtocolSender
}

// Tunables are the controller's own configuration knobs (§6).
type Tunables struct {
	TimerPoolSize            int
	EventPoolSize            int
	EventPoolQueueSize       int
	MinimumSchedulingPeriod  time.Duration
	HeartbeatDelay           time.Duration
	SnapshotPeriod           time.Duration
	GracefulShutdownPeriod   time.Duration
	RemoteGroupRefreshPeriod time.Duration
}

func (t *Tunables) setDefaults() {
	if t.TimerPoolSize <= 0 {
		t.TimerPoolSize = 10
	}
	if t.EventPoolSize <= 0 {
		t.EventPoolSize = 5
	}
	if t.EventPoolQueueSize <= 0 {
		t.EventPoolQueueSize = 256
	}
	if t.HeartbeatDelay <= 0 {
		t.HeartbeatDelay = 5 * time.Second
	}
	if t.SnapshotPeriod <= 0 {
		t.SnapshotPeriod = 5 * time.Second
	}
	if t.GracefulShutdownPeriod <= 0 {
		t.GracefulShutdownPeriod = 10 * time.Second
	}
	if t.RemoteGroupRefreshPeriod <= 0 {
		t.RemoteGroupRefreshPeriod = 30 * time.Second
	}
}

type deferredStart struct {
	group bool // true: id is a process group; false: id is a connectable
	id    string
}

// Controller is the single owner of a live dataflow graph, per §1/§4.1.
type Controller struct {
	id string

	mu sync.RWMutex

	g      *graph.Graph
	claims *contentclaim.Manager

	flowfiles  repository.FlowFileRepository
	content    repository.ContentRepository
	provenance repository.ProvenanceRepository
	bulletins  repository.BulletinRepository
	swap       repository.SwapManager
	statusRepo repository.ComponentStatusRepository

	timerPool *workerpool.Pool
	eventPool *workerpool.Pool
	eventQ    *eventqueue.Queue
	sched     *scheduling.Scheduler

	aggregator *status.Aggregator
	counters   *counterTracker
	replayer   *replay.Replayer
	remote     *remotegroup.Refresher
	outOfProc  *extension.Resolver

	bean *heartbeat.BeanHolder
	hb   *heartbeat.Subsystem

	gracefulShutdownPeriod time.Duration

	// started gates StartProcessGroup/StartProcessor calls issued before
	// InitializeFlow has run: they are buffered here instead of running
	// immediately, and flushed in order by InitializeFlow (§4.1's deferred
	// -start discipline for flows recovered at boot).
	started  bool
	deferred []deferredStart

	terminated bool

	instancesMu      sync.Mutex
	processors       map[string]registry.Processor // connectable id -> live instance
	classNames       map[string]string             // connectable id -> resolved class name
	tasks            map[string]registry.Plugin    // reporting-task id -> live instance
	reportingCancels map[string]context.CancelFunc  // reporting-task id -> its periodic schedule's cancel

	updateHashesMu sync.Mutex
	updateHashes   map[string]uint64
}

// New constructs a Controller bound to its repositories and tunables. It
// does not start anything — call InitializeFlow once the graph has been
// populated (typically via InstantiateSnippet) to begin scheduling.
func New(id, rootGroupID string, deps Deps, tunables Tunables, dial remotegroup.Dialer) *Controller {
	tunables.setDefaults()

	c := &Controller{
		id:                     id,
		g:                      graph.New(rootGroupID),
		claims:                 contentclaim.NewManager(),
		flowfiles:              deps.FlowFiles,
		content:                deps.Content,
		provenance:             deps.Provenance,
		bulletins:              deps.Bulletins,
		swap:                   deps.Swap,
		statusRepo:             deps.StatusRepo,
		gracefulShutdownPeriod: tunables.GracefulShutdownPeriod,
		processors:             make(map[string]registry.Processor),
		classNames:             make(map[string]string),
		tasks:                  make(map[string]registry.Plugin),
		updateHashes:           make(map[string]uint64),
		bean:                   heartbeat.NewBeanHolder(),
		outOfProc:              extension.NewResolver(),
	}

	c.timerPool = workerpool.New("timer", tunables.TimerPoolSize, tunables.TimerPoolSize*4)
	c.eventQ = eventqueue.New(tunables.EventPoolQueueSize)
	c.eventPool = workerpool.New("event", tunables.EventPoolSize, tunables.EventPoolQueueSize)
	metrics.PoolWorkerCountGauge.WithLabelValues(id, c.timerPool.Name()).Set(float64(tunables.TimerPoolSize))
	metrics.PoolWorkerCountGauge.WithLabelValues(id, c.eventPool.Name()).Set(float64(tunables.EventPoolSize))

	c.sched = scheduling.New(id, c.g, c.timerPool, c.eventPool, c.eventQ, c.trigger, tunables.MinimumSchedulingPeriod)
	c.sched.RunEventWorkers(tunables.EventPoolSize)

	c.counters = newCounterTracker(c.g)
	c.aggregator = status.New(id, c.g, c.counters, c.statusRepo)
	c.replayer = replay.New(c.g, c.provenance, c.content, c.flowfiles, c.claims)

	if dial != nil {
		c.remote = remotegroup.New(c.g, dial, tunables.RemoteGroupRefreshPeriod)
		c.remote.Start(rootGroupID)
	}

	if deps.Sender != nil {
		c.hb = heartbeat.New(id, c.bean, c.heartbeatSnapshot, deps.Sender, deps.Bulletins, tunables.HeartbeatDelay)
	}

	go c.runSnapshotLoop(tunables.SnapshotPeriod)

	return c
}

// ID returns the controller's own identity, the node id carried in every
// heartbeat.
func (c *Controller) ID() string { return c.id }

// Graph exposes the live graph for read-only inspection by callers that
// already hold (or do not need) the controller's lock, such as the
// snippet validation pass and tests. Mutating the returned graph outside
// the controller's own write-locked methods breaks the locking
// discipline of §5 and must never be done.
func (c *Controller) Graph() *graph.Graph { return c.g }

func (c *Controller) runSnapshotLoop(period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for range ticker.C {
		c.mu.RLock()
		terminated := c.terminated
		root := c.g.RootGroupID
		if !terminated {
			if _, err := c.aggregator.Snapshot(root); err != nil {
				log.Warnf("[controller] status snapshot failed: %v", err)
			}
		}
		c.mu.RUnlock()
		if terminated {
			return
		}
		c.expireQueues()
	}
}

// expireQueues sweeps every connection's queue for flow-files older than
// its ExpirationPeriod (§5's periodic expiration task, run from the same
// ticker as the status snapshot rather than a separate goroutine since
// both are lightweight and share the same cadence). A flow-file a queue
// gives up is auto-terminated exactly as Session.Commit auto-terminates
// one left pulled-but-untransferred: its content claim is released and a
// DROP provenance event is recorded, so an expired flow-file is neither a
// claim leak nor invisible to provenance.
func (c *Controller) expireQueues() {
	c.mu.RLock()
	conns := c.g.AllConnections()
	c.mu.RUnlock()

	now := time.Now()
	var toPersist []*flowfile.Record
	var events []repository.ProvenanceEvent
	for _, conn := range conns {
		expired := conn.Queue.ExpireOlderThan(now)
		for _, r := range expired {
			r.Attributes[flowfile.AttrDiscardReason] = "expired"
			toPersist = append(toPersist, r)
			c.releaseExpiredClaim(r.ContentClaim)
			previous := r.ContentClaim
			events = append(events, repository.ProvenanceEvent{
				Type: session.EventTypeDrop, Timestamp: now, FlowFileUUID: r.UUID,
				Attributes:          map[string]string{flowfile.AttrDiscardReason: "expired"},
				PreviousClaim:       &previous,
				PreviousClaimOffset: r.ContentClaimOffset,
				PreviousClaimSize:   r.Size,
				SourceQueueID:       conn.ID,
				LineageIdentifiers:  r.LineageIdentifiers,
				LineageStartDate:    r.LineageStartTimestamp,
			})
		}
	}

	if len(toPersist) > 0 {
		if err := c.flowfiles.UpdateRepository(toPersist); err != nil {
			log.Warnf("[controller] persist expired flowfiles: %v", err)
		}
	}
	for _, event := range events {
		if err := c.provenance.RegisterEvent(event); err != nil {
			log.Warnf("[controller] register expiration provenance event: %v", err)
		}
	}
}

// releaseExpiredClaim mirrors Session's own releaseClaim: it decrements
// the claimant count an expired flow-file's content claim held, and
// triggers a content-repository cleanup pass once nothing claims it any
// longer.
func (c *Controller) releaseExpiredClaim(claim contentclaim.Claim) {
	hadClaim := claim.Identifier != "" || claim.Container != ""
	if !hadClaim {
		return
	}
	if residual, err := c.claims.Decrement(claim); err == nil && residual == 0 {
		_ = c.content.Cleanup()
	}
}

// heartbeatSnapshot supplies the fields the heartbeat generator does not
// own itself (§4.6).
func (c *Controller) heartbeatSnapshot() (activeThreads int, queuedObjects, queuedBytes int64, groupStatusPayload []byte, diagnostics map[string]interface{}) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	diagnostics = status.SystemDiagnostics()
	snap, err := c.aggregator.Snapshot(c.g.RootGroupID)
	if err != nil {
		return 0, 0, 0, nil, diagnostics
	}
	return snap.ActiveThreadCount, snap.QueuedCount, snap.QueuedBytes, nil, diagnostics
}

// StartHeartbeating begins the heartbeat subsystem's three periodic
// tasks. Idempotent over StopHeartbeating (§4.6).
func (c *Controller) StartHeartbeating() {
	if c.hb != nil {
		c.hb.Start()
	}
}

// StopHeartbeating stops the heartbeat subsystem's periodic tasks.
func (c *Controller) StopHeartbeating() {
	if c.hb != nil {
		c.hb.Stop()
	}
}

// SetPrimary updates the node's primary-node flag, gating primary-only
// scheduling agents and the event queue's primary-only filtering (§4.3,
// §4.4), and refreshes the heartbeat bean.
func (c *Controller) SetPrimary(primary bool) {
	c.sched.SetPrimary(primary)
	b := c.bean.Get()
	b.IsPrimary = primary
	c.bean.Set(b)
}

// SetClustered toggles whether the event queue honors primary-only
// filtering at all (§4.4) and refreshes the heartbeat bean's connected
// flag.
func (c *Controller) SetClustered(clustered bool) {
	c.eventQ.SetClustered(clustered)
	b := c.bean.Get()
	b.IsConnected = clustered
	c.bean.Set(b)
}

// InitializeFlow performs the boot-time recovery sequence of §4.1/§4.10:
// initializes every repository, recovers any swapped-out flow-files, and
// flushes every StartProcessor/StartProcessGroup call buffered since
// construction. Call exactly once, after the graph has been populated
// (typically by InstantiateSnippet) and before serving any scheduling.
func (c *Controller) InitializeFlow() error {
	if err := c.flowfiles.Initialize(c.id); err != nil {
		return errors.Annotate(err, "initialize flowfile repository")
	}
	if err := c.content.Initialize(c.claims); err != nil {
		return errors.Annotate(err, "initialize content repository")
	}
	if err := c.provenance.Initialize(); err != nil {
		return errors.Annotate(err, "initialize provenance repository")
	}
	if c.swap != nil {
		if err := c.swap.Start(); err != nil {
			return errors.Annotate(err, "start swap manager")
		}
		if _, err := c.swap.RecoverSwappedFlowFiles(c.id, c.claims); err != nil {
			return errors.Annotate(err, "recover swapped flowfiles")
		}
	}

	c.mu.Lock()
	c.started = true
	pending := c.deferred
	c.deferred = nil
	c.mu.Unlock()

	for _, d := range pending {
		var err error
		if d.group {
			err = c.StartProcessGroup(d.id)
		} else {
			err = c.StartProcessor(d.id)
		}
		if err != nil {
			log.Warnf("[controller] deferred start of %s failed: %v", d.id, err)
		}
	}
	return nil
}

// Replay reconstructs and enqueues a flow-file from a prior provenance
// event (§4.7), and wakes the destination connectable's scheduling agent
// if it is event-driven.
func (c *Controller) Replay(eventID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, err := c.replayer.Replay(eventID)
	if err != nil {
		return errors.Trace(err)
	}
	conn, err := c.g.Connection(rec.QueueID)
	if err != nil {
		return nil
	}
	if dest, err := c.g.Connectable(conn.DestinationID); err == nil {
		c.sched.NotifyReady(dest)
	}
	return nil
}

// Shutdown implements §4.3's shutdown(kill): transitions to terminated
// state, stops every running component, cancels the periodic tasks, and
// either drains the pools within gracefulShutdownSeconds (kill=false) or
// kills them immediately (kill=true). It returns an error if the
// controller could not be cleanly terminated within budget.
func (c *Controller) Shutdown(kill bool) error {
	c.mu.Lock()
	c.terminated = true
	for _, conn := range c.g.AllConnectables() {
		if conn.ScheduledState == graph.StateRunning {
			c.sched.Unschedule(conn)
			c.instancesMu.Lock()
			inst := c.processors[conn.ID]
			c.instancesMu.Unlock()
			callLifecycle(inst, func(h registry.OnUnscheduled) error { return h.OnUnscheduled() })
			conn.ScheduledState = graph.StateStopped
		}
	}
	c.instancesMu.Lock()
	for _, cancel := range c.reportingCancels {
		cancel()
	}
	c.reportingCancels = nil
	for _, inst := range c.processors {
		callLifecycle(inst, func(h registry.OnShutdown) error { return h.OnShutdown() })
	}
	for _, inst := range c.tasks {
		callLifecycle(inst, func(h registry.OnShutdown) error { return h.OnShutdown() })
	}
	c.instancesMu.Unlock()

	c.sched.Close()
	if c.hb != nil {
		c.hb.Stop()
	}
	if c.remote != nil {
		c.remote.Close()
	}
	c.mu.Unlock()

	var cleanTimer, cleanEvent bool
	if kill {
		c.timerPool.Kill()
		c.eventPool.Kill()
	} else {
		half := c.gracefulShutdownPeriod / 2
		cleanTimer = c.timerPool.Drain(half)
		cleanEvent = c.eventPool.Drain(half)
	}

	_ = c.content.Shutdown()
	_ = c.flowfiles.Close()
	_ = c.provenance.Close()
	if c.swap != nil {
		_ = c.swap.Shutdown()
	}

	if !kill && (!cleanTimer || !cleanEvent) {
		return errors.New("controller not cleanly terminated: worker pools did not drain within graceful shutdown budget")
	}
	return nil
}

// callLifecycle invokes hook on inst if inst implements H, swallowing a
// nil instance and a non-implementing instance alike: every lifecycle
// call site treats the hook as optional (§4.9).
func callLifecycle[H any](inst registry.Plugin, hook func(H) error) {
	if inst == nil {
		return
	}
	h, ok := inst.(H)
	if !ok {
		return
	}
	if err := hook(h); err != nil {
		log.Warnf("[controller] lifecycle hook failed: %v", err)
	}
}

// trigger is the scheduling.TriggerFunc every agent dispatches through. A
// processor connectable runs its registered plug-in instance inside a
// fresh session; a funnel or port has no plug-in and is driven by the
// controller's own pass-through logic instead (§9's supplemented design
// decision — the original source never schedules funnels/ports through
// the same agent machinery as processors, but this core folds them into
// one dispatch path rather than special-casing two).
func (c *Controller) trigger(ctx context.Context, g *graph.Graph, conn *graph.Connectable) error {
	if conn.Type == graph.TypeProcessor {
		return c.triggerProcessor(ctx, g, conn)
	}
	return c.triggerPassthrough(g, conn)
}

func (c *Controller) triggerProcessor(ctx context.Context, g *graph.Graph, conn *graph.Connectable) error {
	c.instancesMu.Lock()
	inst, ok := c.processors[conn.ID]
	class := c.classNames[conn.ID]
	c.instancesMu.Unlock()
	if !ok {
		return errors.Errorf("no processor instance registered for %q", conn.ID)
	}

	restore := classctx.Enter(class)
	defer restore()

	sess := session.New(g, conn, c.claims, c.content, c.provenance, c.flowfiles)
	if err := inst.OnTrigger(ctx, sess); err != nil {
		sess.Rollback()
		return errors.Trace(err)
	}
	stats := sess.Stats()
	if err := sess.Commit(); err != nil {
		return errors.Trace(err)
	}
	c.counters.add(conn.ID, stats)

	for _, out := range g.OutboundConnections(conn) {
		if dest, err := g.Connectable(out.DestinationID); err == nil {
			c.sched.NotifyReady(dest)
		}
	}
	return nil
}

// passthroughRelationship is the fixed relationship name every
// funnel/port-originated connection is implicitly subscribed to; funnels
// and ports have no plug-in-declared relationships of their own (§3).
const passthroughRelationship = "success"

func (c *Controller) triggerPassthrough(g *graph.Graph, conn *graph.Connectable) error {
	outbound := g.OutboundConnections(conn)
	if len(outbound) == 0 {
		return nil
	}
	var moved, movedBytes int64
	for _, in := range g.InboundConnections(conn) {
		batch := in.Queue.PollBatch(100)
		for _, rec := range batch {
			routed := false
			for _, out := range outbound {
				if _, ok := out.Relationships[passthroughRelationship]; !ok {
					continue
				}
				dest := rec
				if routed {
					// fan-out to more than one subscribed connection clones the
					// record instead of sharing one mutable flow-file across two
					// independently-owned queues.
					dest = rec.Clone()
					c.claims.Increment(dest.ContentClaim)
				}
				routed = true
				out.Queue.Put(dest)
				if d, err := g.Connectable(out.DestinationID); err == nil {
					c.sched.NotifyReady(d)
				}
			}
			if !routed {
				in.Queue.Put(rec)
				continue
			}
			moved++
			movedBytes += rec.ByteSize()
		}
	}
	if moved > 0 {
		c.counters.add(conn.ID, session.Stats{InputCount: moved, InputBytes: movedBytes, OutputCount: moved, OutputBytes: movedBytes})
	}
	return nil
}
