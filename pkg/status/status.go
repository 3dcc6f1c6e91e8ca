// Package status implements the status aggregator of §4.5: a periodic
// post-order pass over the graph composing per-vertex counters and
// per-connection queue sizes into a tree of ProcessGroupStatus, appended
// to the component status repository's fixed-size reservoir.
package status

import (
	"time"

	"github.com/juju/errors"

	"github.com/flowctl/core/pkg/graph"
	"github.com/flowctl/core/pkg/metrics"
	"github.com/flowctl/core/pkg/repository"
)

// EventCounters are the per-component counters sourced from the flow-file
// event repository's last-N-minutes report (external, not modelled here);
// the aggregator only sums what it is given.
type EventCounters struct {
	BytesRead, BytesWritten     int64
	InputCount, InputBytes      int64
	OutputCount, OutputBytes    int64
	SentCount, SentBytes        int64
	ReceivedCount, ReceivedBytes int64
	ActiveThreadCount           int
}

// CountersSource supplies a component's EventCounters for the current
// aggregation pass.
type CountersSource interface {
	CountersFor(componentID string) EventCounters
}

// ConnectionStatus is one connection's contribution to a group's status.
type ConnectionStatus struct {
	ID          string
	QueuedCount int64
	QueuedBytes int64
}

// ConnectableStatus is one vertex's contribution.
type ConnectableStatus struct {
	ID   string
	Type graph.ConnectableType
	Name string
	EventCounters
}

// ProcessGroupStatus is the aggregated tree node of §4.5. Aggregated
// fields are the sum of every descendant's contribution plus this group's
// own local contribution (always zero — groups themselves never process
// flow-files directly).
type ProcessGroupStatus struct {
	ID   string
	Name string

	ActiveThreadCount int
	BytesRead         int64
	BytesWritten      int64
	QueuedCount       int64
	QueuedBytes       int64
	InputCount        int64
	InputBytes        int64
	OutputCount       int64
	OutputBytes       int64
	SentCount         int64
	SentBytes         int64
	ReceivedCount     int64
	ReceivedBytes     int64

	Connections  []ConnectionStatus
	Connectables []ConnectableStatus
	Children     []*ProcessGroupStatus
}

func (s *ProcessGroupStatus) add(other *ProcessGroupStatus) {
	s.ActiveThreadCount += other.ActiveThreadCount
	s.BytesRead += other.BytesRead
	s.BytesWritten += other.BytesWritten
	s.QueuedCount += other.QueuedCount
	s.QueuedBytes += other.QueuedBytes
	s.InputCount += other.InputCount
	s.InputBytes += other.InputBytes
	s.OutputCount += other.OutputCount
	s.OutputBytes += other.OutputBytes
	s.SentCount += other.SentCount
	s.SentBytes += other.SentBytes
	s.ReceivedCount += other.ReceivedCount
	s.ReceivedBytes += other.ReceivedBytes
}

func (s *ProcessGroupStatus) addConnectable(c ConnectableStatus) {
	s.ActiveThreadCount += c.ActiveThreadCount
	s.BytesRead += c.BytesRead
	s.BytesWritten += c.BytesWritten
	s.InputCount += c.InputCount
	s.InputBytes += c.InputBytes
	s.OutputCount += c.OutputCount
	s.OutputBytes += c.OutputBytes
	s.SentCount += c.SentCount
	s.SentBytes += c.SentBytes
	s.ReceivedCount += c.ReceivedCount
	s.ReceivedBytes += c.ReceivedBytes
}

func (s *ProcessGroupStatus) addConnection(c ConnectionStatus) {
	s.QueuedCount += c.QueuedCount
	s.QueuedBytes += c.QueuedBytes
}

// Aggregator runs the periodic status snapshot pass.
type Aggregator struct {
	controllerID string
	g            *graph.Graph
	counters     CountersSource
	repo         repository.ComponentStatusRepository
}

// New constructs an Aggregator.
func New(controllerID string, g *graph.Graph, counters CountersSource, repo repository.ComponentStatusRepository) *Aggregator {
	return &Aggregator{controllerID: controllerID, g: g, counters: counters, repo: repo}
}

// Snapshot walks the graph rooted at rootGroupID in post-order and returns
// the aggregated tree, per §4.5.
func (a *Aggregator) Snapshot(rootGroupID string) (*ProcessGroupStatus, error) {
	return a.snapshotGroup(rootGroupID)
}

func (a *Aggregator) snapshotGroup(groupID string) (*ProcessGroupStatus, error) {
	pg, err := a.g.Group(groupID)
	if err != nil {
		return nil, errors.Trace(err)
	}

	out := &ProcessGroupStatus{ID: pg.ID, Name: pg.Name}

	for childID := range pg.SubGroups {
		child, err := a.snapshotGroup(childID)
		if err != nil {
			return nil, errors.Trace(err)
		}
		out.Children = append(out.Children, child)
		out.add(child)
	}

	for id := range pg.Processors {
		cs, err := a.connectableStatus(id)
		if err != nil {
			return nil, errors.Trace(err)
		}
		out.Connectables = append(out.Connectables, cs)
		out.addConnectable(cs)
	}
	for id := range pg.InputPorts {
		cs, err := a.connectableStatus(id)
		if err != nil {
			return nil, errors.Trace(err)
		}
		out.Connectables = append(out.Connectables, cs)
		out.addConnectable(cs)
	}
	for id := range pg.OutputPorts {
		cs, err := a.connectableStatus(id)
		if err != nil {
			return nil, errors.Trace(err)
		}
		out.Connectables = append(out.Connectables, cs)
		out.addConnectable(cs)
	}
	for id := range pg.Funnels {
		cs, err := a.connectableStatus(id)
		if err != nil {
			return nil, errors.Trace(err)
		}
		out.Connectables = append(out.Connectables, cs)
		out.addConnectable(cs)
	}

	for id := range pg.Connections {
		conn, err := a.g.Connection(id)
		if err != nil {
			return nil, errors.Trace(err)
		}
		size := conn.Queue.Size()
		cs := ConnectionStatus{ID: id, QueuedCount: size.ObjectCount, QueuedBytes: size.ByteCount}
		out.Connections = append(out.Connections, cs)
		out.addConnection(cs)

		metrics.QueueObjectCountGauge.WithLabelValues(a.controllerID, id).Set(float64(size.ObjectCount))
		metrics.QueueByteCountGauge.WithLabelValues(a.controllerID, id).Set(float64(size.ByteCount))
	}

	if a.repo != nil {
		sample := repository.StatusSample{
			Timestamp: time.Now(),
			Fields: map[string]int64{
				"activeThreadCount": int64(out.ActiveThreadCount),
				"bytesRead":         out.BytesRead,
				"bytesWritten":      out.BytesWritten,
				"queuedCount":       out.QueuedCount,
				"queuedBytes":       out.QueuedBytes,
				"inputCount":        out.InputCount,
				"outputCount":       out.OutputCount,
				"sentCount":         out.SentCount,
				"receivedCount":     out.ReceivedCount,
			},
		}
		if err := a.repo.Capture(pg.ID, sample); err != nil {
			return nil, errors.Annotatef(err, "capture status for group %s", pg.ID)
		}
	}

	return out, nil
}

func (a *Aggregator) connectableStatus(id string) (ConnectableStatus, error) {
	c, err := a.g.Connectable(id)
	if err != nil {
		return ConnectableStatus{}, errors.Trace(err)
	}
	counters := a.counters.CountersFor(id)
	return ConnectableStatus{ID: c.ID, Type: c.Type, Name: c.Name, EventCounters: counters}, nil
}
