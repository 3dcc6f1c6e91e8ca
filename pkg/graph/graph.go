// Package graph is the controller's arena: typed vertices, queued
// connections, and recursive process groups, per §3. Cyclic ownership
// (group <-> child <-> parent, connection <-> endpoint) is modelled as an
// arena of stable string identifiers rather than native pointers; parent
// links are weak references resolved by id lookup, never ownership, so the
// arena itself is the only thing that owns a vertex.
//
// Graph is not safe for concurrent use on its own — the controller façade
// serialises all mutation under its write lock and all traversal under its
// read lock (§5); nothing in this package takes a lock.
package graph

import (
	"sync/atomic"
	"time"

	"github.com/juju/errors"

	"github.com/flowctl/core/pkg/queue"
)

// ConnectableType enumerates the vertex kinds of §3.
type ConnectableType string

const (
	TypeProcessor       ConnectableType = "PROCESSOR"
	TypeInputPort       ConnectableType = "INPUT_PORT"
	TypeOutputPort      ConnectableType = "OUTPUT_PORT"
	TypeFunnel          ConnectableType = "FUNNEL"
	TypeRemoteInputPort ConnectableType = "REMOTE_INPUT_PORT"
	TypeRemoteOutputPort ConnectableType = "REMOTE_OUTPUT_PORT"
	TypeRootInputPort   ConnectableType = "ROOT_INPUT_PORT"
	TypeRootOutputPort  ConnectableType = "ROOT_OUTPUT_PORT"
)

// ScheduledState is the per-connectable lifecycle state of §4.2.
type ScheduledState string

const (
	StateDisabled ScheduledState = "DISABLED"
	StateStopped  ScheduledState = "STOPPED"
	StateRunning  ScheduledState = "RUNNING"
)

// SchedulingStrategy selects which scheduling agent drives a connectable
// (§4.3).
type SchedulingStrategy string

const (
	StrategyTimerDriven SchedulingStrategy = "TIMER_DRIVEN"
	StrategyCronDriven  SchedulingStrategy = "CRON_DRIVEN"
	StrategyEventDriven SchedulingStrategy = "EVENT_DRIVEN"
	StrategyPrimaryOnly SchedulingStrategy = "PRIMARY_NODE_ONLY"
)

// Position is a bend point or vertex location, carried opaquely by the
// graph for layout purposes only; nothing in the core interprets it.
type Position struct {
	X, Y float64
}

// ValidityFunc reports why a connectable is currently invalid, or nil if
// it is valid. It is supplied by the plug-in (§3's "validity predicate").
type ValidityFunc func() error

// Connectable is a graph vertex (§3).
type Connectable struct {
	ID   string
	Type ConnectableType
	Name string

	Position Position
	GroupID  string // weak back-link, resolved by lookup, never ownership

	Inbound  map[string]struct{} // connection ids
	Outbound map[string]struct{}

	ScheduledState ScheduledState

	MaxConcurrentTasks int
	YieldPeriod        time.Duration
	PenalizationPeriod time.Duration
	SchedulingStrategy SchedulingStrategy
	SchedulingPeriod   string // interpreted per strategy: duration string or cron expression

	IsValid ValidityFunc

	activeTriggers int32
}

func newConnectable(id string, t ConnectableType, name, groupID string) *Connectable {
	return &Connectable{
		ID:                 id,
		Type:               t,
		Name:               name,
		GroupID:            groupID,
		Inbound:            make(map[string]struct{}),
		Outbound:           make(map[string]struct{}),
		ScheduledState:     StateDisabled,
		MaxConcurrentTasks: 1,
		SchedulingStrategy: StrategyTimerDriven,
		SchedulingPeriod:   "0s",
	}
}

// Valid reports whether c currently passes its validity predicate. A nil
// predicate is always valid.
func (c *Connectable) Valid() error {
	if c.IsValid == nil {
		return nil
	}
	return c.IsValid()
}

// Connection is a directed edge (§3): source, destination, a non-empty set
// of relationship names the edge subscribes to, and the queue it owns.
type Connection struct {
	ID            string
	SourceID      string
	DestinationID string
	Relationships map[string]struct{}
	BendPoints    []Position
	GroupID       string

	Queue *queue.Queue
}

// ProcessGroup is a recursive container (§3). Membership sets hold ids,
// not pointers, so removal never has to walk and fix up pointers.
type ProcessGroup struct {
	ID       string
	Name     string
	ParentID string // "" iff root

	SubGroups   map[string]struct{}
	Processors  map[string]struct{}
	InputPorts  map[string]struct{}
	OutputPorts map[string]struct{}
	Funnels     map[string]struct{}
	Labels      map[string]struct{}
	RemoteGroups map[string]struct{}
	Connections map[string]struct{}
}

func newProcessGroup(id, name, parentID string) *ProcessGroup {
	return &ProcessGroup{
		ID:           id,
		Name:         name,
		ParentID:     parentID,
		SubGroups:    make(map[string]struct{}),
		Processors:   make(map[string]struct{}),
		InputPorts:   make(map[string]struct{}),
		OutputPorts:  make(map[string]struct{}),
		Funnels:      make(map[string]struct{}),
		Labels:       make(map[string]struct{}),
		RemoteGroups: make(map[string]struct{}),
		Connections:  make(map[string]struct{}),
	}
}

// RemotePortDescriptor is one port discovered by a remote process group's
// refresh (§4.11).
type RemotePortDescriptor struct {
	ID   string
	Name string
}

// RemoteProcessGroup is the site-to-site vertex of §3.
type RemoteProcessGroup struct {
	ID       string
	Name     string
	GroupID  string
	TargetURI string

	InputPorts  []RemotePortDescriptor
	OutputPorts []RemotePortDescriptor

	CommunicationsTimeout time.Duration
	YieldPeriod           time.Duration
	Transmitting          bool

	LastRefreshed               time.Time
	LastKnownError               string
	LastKnownAuthorizationIssue string
}

// ReportingTaskNode is the reporting-task vertex of §3. It is not part of
// any process group's membership — reporting tasks live at controller
// scope.
type ReportingTaskNode struct {
	ID     string
	Type   string
	Config map[string]interface{}

	SchedulingStrategy SchedulingStrategy
	SchedulingPeriod   string
	ScheduledState     ScheduledState
	Enabled            bool
}

// Label is a purely cosmetic annotation, carried because instantiateSnippet
// (§4.1) must place labels as part of its ordered instantiation even though
// nothing schedules them.
type Label struct {
	ID       string
	GroupID  string
	Text     string
	Position Position
}

// Graph is the controller's arena. Every identifier is unique across the
// whole graph (§3's uniqueness invariant); port names are additionally
// unique within the siblings of a single group.
type Graph struct {
	RootGroupID string

	connectables map[string]*Connectable
	connections  map[string]*Connection
	groups       map[string]*ProcessGroup
	remoteGroups map[string]*RemoteProcessGroup
	reportingTasks map[string]*ReportingTaskNode
	labels       map[string]*Label
}

// New constructs a graph with a single empty root group.
func New(rootGroupID string) *Graph {
	g := &Graph{
		RootGroupID:    rootGroupID,
		connectables:   make(map[string]*Connectable),
		connections:    make(map[string]*Connection),
		groups:         make(map[string]*ProcessGroup),
		remoteGroups:   make(map[string]*RemoteProcessGroup),
		reportingTasks: make(map[string]*ReportingTaskNode),
		labels:         make(map[string]*Label),
	}
	g.groups[rootGroupID] = newProcessGroup(rootGroupID, "root", "")
	return g
}

// idInUse reports whether id already identifies any entity in the graph,
// the uniqueness check instantiateSnippet's validation pass relies on.
func (g *Graph) idInUse(id string) bool {
	if _, ok := g.connectables[id]; ok {
		return true
	}
	if _, ok := g.connections[id]; ok {
		return true
	}
	if _, ok := g.groups[id]; ok {
		return true
	}
	if _, ok := g.remoteGroups[id]; ok {
		return true
	}
	if _, ok := g.reportingTasks[id]; ok {
		return true
	}
	if _, ok := g.labels[id]; ok {
		return true
	}
	return false
}

// Group returns the process group identified by id.
func (g *Graph) Group(id string) (*ProcessGroup, error) {
	pg, ok := g.groups[id]
	if !ok {
		return nil, errors.NotFoundf("process group %q", id)
	}
	return pg, nil
}

// Connectable returns the vertex identified by id.
func (g *Graph) Connectable(id string) (*Connectable, error) {
	c, ok := g.connectables[id]
	if !ok {
		return nil, errors.NotFoundf("connectable %q", id)
	}
	return c, nil
}

// Connection returns the edge identified by id.
func (g *Graph) Connection(id string) (*Connection, error) {
	c, ok := g.connections[id]
	if !ok {
		return nil, errors.NotFoundf("connection %q", id)
	}
	return c, nil
}

// RemoteProcessGroup returns the remote group identified by id.
func (g *Graph) RemoteProcessGroup(id string) (*RemoteProcessGroup, error) {
	rpg, ok := g.remoteGroups[id]
	if !ok {
		return nil, errors.NotFoundf("remote process group %q", id)
	}
	return rpg, nil
}

// ReportingTask returns the reporting-task node identified by id.
func (g *Graph) ReportingTask(id string) (*ReportingTaskNode, error) {
	rt, ok := g.reportingTasks[id]
	if !ok {
		return nil, errors.NotFoundf("reporting task %q", id)
	}
	return rt, nil
}

// portNameCollision reports whether name is already used by one of the
// ports in portIDs (one direction's ports of groupID), the
// sibling-uniqueness invariant of §3.
func (g *Graph) portNameCollision(groupID, name string, portIDs map[string]struct{}) bool {
	for id := range portIDs {
		if c, ok := g.connectables[id]; ok && c.Name == name {
			return true
		}
	}
	return false
}

// AddProcessGroup creates a child group of parentID.
func (g *Graph) AddProcessGroup(id, name, parentID string) (*ProcessGroup, error) {
	if g.idInUse(id) {
		return nil, errors.AlreadyExistsf("identifier %q", id)
	}
	parent, err := g.Group(parentID)
	if err != nil {
		return nil, errors.Trace(err)
	}
	pg := newProcessGroup(id, name, parentID)
	g.groups[id] = pg
	parent.SubGroups[id] = struct{}{}
	return pg, nil
}

// AddProcessor creates a processor vertex inside groupID.
func (g *Graph) AddProcessor(id, name, groupID string) (*Connectable, error) {
	if g.idInUse(id) {
		return nil, errors.AlreadyExistsf("identifier %q", id)
	}
	pg, err := g.Group(groupID)
	if err != nil {
		return nil, errors.Trace(err)
	}
	c := newConnectable(id, TypeProcessor, name, groupID)
	g.connectables[id] = c
	pg.Processors[id] = struct{}{}
	return c, nil
}

// AddFunnel creates a funnel vertex inside groupID.
func (g *Graph) AddFunnel(id, groupID string) (*Connectable, error) {
	if g.idInUse(id) {
		return nil, errors.AlreadyExistsf("identifier %q", id)
	}
	pg, err := g.Group(groupID)
	if err != nil {
		return nil, errors.Trace(err)
	}
	c := newConnectable(id, TypeFunnel, "funnel", groupID)
	c.ScheduledState = StateRunning // funnels have no lifecycle; always pass-through
	g.connectables[id] = c
	pg.Funnels[id] = struct{}{}
	return c, nil
}

// AddLabel creates a cosmetic label inside groupID.
func (g *Graph) AddLabel(id, groupID, text string, pos Position) (*Label, error) {
	if g.idInUse(id) {
		return nil, errors.AlreadyExistsf("identifier %q", id)
	}
	pg, err := g.Group(groupID)
	if err != nil {
		return nil, errors.Trace(err)
	}
	l := &Label{ID: id, GroupID: groupID, Text: text, Position: pos}
	g.labels[id] = l
	pg.Labels[id] = struct{}{}
	return l, nil
}

// AddPort creates an input or output port inside groupID, enforcing the
// port-name-unique-within-siblings invariant of §3.
func (g *Graph) AddPort(id, name, groupID string, output bool) (*Connectable, error) {
	if g.idInUse(id) {
		return nil, errors.AlreadyExistsf("identifier %q", id)
	}
	pg, err := g.Group(groupID)
	if err != nil {
		return nil, errors.Trace(err)
	}

	portType := TypeInputPort
	siblings := pg.InputPorts
	if output {
		portType = TypeOutputPort
		siblings = pg.OutputPorts
	}
	if pg.ParentID == "" {
		if output {
			portType = TypeRootOutputPort
		} else {
			portType = TypeRootInputPort
		}
	}
	if g.portNameCollision(groupID, name, siblings) {
		return nil, errors.AlreadyExistsf("port name %q among siblings of group %q", name, groupID)
	}

	c := newConnectable(id, portType, name, groupID)
	g.connectables[id] = c
	siblings[id] = struct{}{}
	return c, nil
}

// AddRemoteProcessGroup creates a remote process group inside groupID.
func (g *Graph) AddRemoteProcessGroup(id, name, groupID, targetURI string) (*RemoteProcessGroup, error) {
	if g.idInUse(id) {
		return nil, errors.AlreadyExistsf("identifier %q", id)
	}
	pg, err := g.Group(groupID)
	if err != nil {
		return nil, errors.Trace(err)
	}
	rpg := &RemoteProcessGroup{ID: id, Name: name, GroupID: groupID, TargetURI: targetURI}
	g.remoteGroups[id] = rpg
	pg.RemoteGroups[id] = struct{}{}
	return rpg, nil
}

// AddReportingTask registers a reporting-task node at controller scope; it
// does not belong to any process group.
func (g *Graph) AddReportingTask(id, taskType string, config map[string]interface{}) (*ReportingTaskNode, error) {
	if g.idInUse(id) {
		return nil, errors.AlreadyExistsf("identifier %q", id)
	}
	rt := &ReportingTaskNode{
		ID:                 id,
		Type:               taskType,
		Config:             config,
		SchedulingStrategy: StrategyTimerDriven,
		ScheduledState:     StateStopped,
	}
	g.reportingTasks[id] = rt
	return rt, nil
}

// AddConnection wires source to destination on the given relationships and
// allocates its queue. Both endpoints must already exist; their group
// membership is not checked against groupID (remote ports are reached via
// RemoteProcessGroup, not a graph Connection).
func (g *Graph) AddConnection(id, groupID, sourceID, destinationID string, relationships []string, thresholds queue.Thresholds) (*Connection, error) {
	if g.idInUse(id) {
		return nil, errors.AlreadyExistsf("identifier %q", id)
	}
	if len(relationships) == 0 {
		return nil, errors.NewNotValid(nil, "connection must select at least one relationship")
	}
	pg, err := g.Group(groupID)
	if err != nil {
		return nil, errors.Trace(err)
	}
	src, err := g.Connectable(sourceID)
	if err != nil {
		return nil, errors.Annotate(err, "connection source")
	}
	dst, err := g.Connectable(destinationID)
	if err != nil {
		return nil, errors.Annotate(err, "connection destination")
	}

	rels := make(map[string]struct{}, len(relationships))
	for _, r := range relationships {
		rels[r] = struct{}{}
	}

	conn := &Connection{
		ID:            id,
		SourceID:      sourceID,
		DestinationID: destinationID,
		Relationships: rels,
		GroupID:       groupID,
		Queue:         queue.New(id, thresholds),
	}
	g.connections[id] = conn
	pg.Connections[id] = struct{}{}
	src.Outbound[id] = struct{}{}
	dst.Inbound[id] = struct{}{}
	return conn, nil
}

// RemoveConnection deletes a connection. Its queue must be empty (§3's
// removal invariant).
func (g *Graph) RemoveConnection(id string) error {
	conn, err := g.Connection(id)
	if err != nil {
		return errors.Trace(err)
	}
	if conn.Queue.Size().ObjectCount != 0 {
		return errors.NewNotValid(nil, "connection queue is not empty")
	}
	if src, ok := g.connectables[conn.SourceID]; ok {
		delete(src.Outbound, id)
	}
	if dst, ok := g.connectables[conn.DestinationID]; ok {
		delete(dst.Inbound, id)
	}
	if pg, ok := g.groups[conn.GroupID]; ok {
		delete(pg.Connections, id)
	}
	delete(g.connections, id)
	return nil
}

// RemoveConnectable deletes a vertex. It must be Stopped or Disabled and
// must have no attached connections (§3's removal invariant: stop first).
func (g *Graph) RemoveConnectable(id string) error {
	c, err := g.Connectable(id)
	if err != nil {
		return errors.Trace(err)
	}
	if c.ScheduledState == StateRunning {
		return errors.NewNotValid(nil, "connectable is running, stop it before removal")
	}
	if len(c.Inbound) != 0 || len(c.Outbound) != 0 {
		return errors.NewNotValid(nil, "connectable still has attached connections")
	}
	if pg, ok := g.groups[c.GroupID]; ok {
		delete(pg.Processors, id)
		delete(pg.InputPorts, id)
		delete(pg.OutputPorts, id)
		delete(pg.Funnels, id)
	}
	delete(g.connectables, id)
	return nil
}

// AllConnectables returns every vertex in the graph, in no particular
// order. Used by controller shutdown and recursive start/stop to walk the
// whole graph without needing to know its group structure.
func (g *Graph) AllConnectables() []*Connectable {
	out := make([]*Connectable, 0, len(g.connectables))
	for _, c := range g.connectables {
		out = append(out, c)
	}
	return out
}

// AllConnections returns every connection in the graph, in no particular
// order. Used by the controller's periodic expiration sweep to visit
// every queue without needing to know the group structure.
func (g *Graph) AllConnections() []*Connection {
	out := make([]*Connection, 0, len(g.connections))
	for _, conn := range g.connections {
		out = append(out, conn)
	}
	return out
}

// IDInUse reports whether id already identifies any entity in the graph.
// Exported for the controller façade's snippet-validation pass (§4.1),
// which must check candidate ids against the live graph before mutating
// anything.
func (g *Graph) IDInUse(id string) bool {
	return g.idInUse(id)
}

// RootPortNameCollision reports whether name collides with an existing
// port name among the root group's direct children, the root-level
// port-name-collision check instantiateSnippet's validation rejects (§4.1).
func (g *Graph) RootPortNameCollision(name string) bool {
	root, err := g.Group(g.RootGroupID)
	if err != nil {
		return false
	}
	return g.portNameCollision(g.RootGroupID, name, root.InputPorts) ||
		g.portNameCollision(g.RootGroupID, name, root.OutputPorts)
}

// OutboundConnections returns the connections leaving c.
func (g *Graph) OutboundConnections(c *Connectable) []*Connection {
	out := make([]*Connection, 0, len(c.Outbound))
	for id := range c.Outbound {
		if conn, ok := g.connections[id]; ok {
			out = append(out, conn)
		}
	}
	return out
}

// InboundConnections returns the connections entering c.
func (g *Graph) InboundConnections(c *Connectable) []*Connection {
	out := make([]*Connection, 0, len(c.Inbound))
	for id := range c.Inbound {
		if conn, ok := g.connections[id]; ok {
			out = append(out, conn)
		}
	}
	return out
}

// AnyOutboundFull reports whether any outbound connection of c has a full
// queue, the back-pressure check scheduling agents run before dispatch
// (§4.3).
func (g *Graph) AnyOutboundFull(c *Connectable) bool {
	for id := range c.Outbound {
		if conn, ok := g.connections[id]; ok && conn.Queue.IsFull() {
			return true
		}
	}
	return false
}

// AnyInboundNonEmpty reports whether any inbound connection of c currently
// holds flow-files, the readiness signal the event-driven work queue
// watches (§4.4).
func (g *Graph) AnyInboundNonEmpty(c *Connectable) bool {
	for id := range c.Inbound {
		if conn, ok := g.connections[id]; ok && !conn.Queue.IsEmpty() {
			return true
		}
	}
	return false
}

// TryAcquireTrigger attempts to reserve one of maxConcurrentTasks dispatch
// slots, the atomic compare-and-increment dispatch gate of §5. Callers
// must call ReleaseTrigger exactly once per successful acquire.
func (c *Connectable) TryAcquireTrigger() bool {
	for {
		current := atomic.LoadInt32(&c.activeTriggers)
		if int(current) >= c.MaxConcurrentTasks {
			return false
		}
		if atomic.CompareAndSwapInt32(&c.activeTriggers, current, current+1) {
			return true
		}
	}
}

// ReleaseTrigger returns a dispatch slot reserved by TryAcquireTrigger.
func (c *Connectable) ReleaseTrigger() {
	atomic.AddInt32(&c.activeTriggers, -1)
}

// ActiveTriggers reports how many worker goroutines are currently inside
// c's trigger.
func (c *Connectable) ActiveTriggers() int {
	return int(atomic.LoadInt32(&c.activeTriggers))
}
