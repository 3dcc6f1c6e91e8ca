// Package repository declares the external-collaborator contracts of §6:
// durable/queryable stores the core depends on but does not implement
// itself. Concrete, swappable implementations live in sibling packages
// (sqliterepo, fsrepo, esrepo, memrepo, mongorepo, grpctransport) and
// self-register under these plug-in types via pkg/registry so the
// controller only ever depends on the interfaces declared here.
package repository

import (
	"context"
	"time"

	"github.com/flowctl/core/pkg/contentclaim"
	"github.com/flowctl/core/pkg/flowfile"
)

// FlowFileRepository is the durable index of in-flight flow-file records
// (§6).
type FlowFileRepository interface {
	Initialize(controllerID string) error
	Load(controllerID string, startingID int64) (maxID int64, err error)
	NextSequence() (int64, error)
	UpdateRepository(batch []*flowfile.Record) error
	IsVolatile() bool
	Close() error
}

// ContentRepository is the blob store backing content claims (§6).
type ContentRepository interface {
	Initialize(claims *contentclaim.Manager) error
	IsAccessible(claim contentclaim.Claim) bool
	Read(claim contentclaim.Claim) (ReadCloser, error)
	Write(claim contentclaim.Claim, p []byte) error
	Cleanup() error
	Shutdown() error
}

// ReadCloser avoids pulling the io package's name into every caller's
// import just to read claim content.
type ReadCloser interface {
	Read(p []byte) (int, error)
	Close() error
}

// ProvenanceEvent is an immutable audit record describing a transformation
// of a flow file (§GLOSSARY).
type ProvenanceEvent struct {
	ID        int64
	Type      string // CREATE, JOIN, REPLAY, DROP, ATTRIBUTES_MODIFIED, ...
	Timestamp time.Time

	FlowFileUUID string
	ParentUUIDs  []string
	ChildUUIDs   []string

	PreviousClaim       *contentclaim.Claim
	PreviousClaimOffset int64
	PreviousClaimSize   int64
	SourceQueueID       string

	// LineageIdentifiers is the union of every flow-file UUID this record's
	// ancestry has ever passed through (its own UUID plus every ancestor's),
	// and LineageStartDate is when that lineage began. Replay restores both
	// onto the reconstructed record instead of starting a fresh lineage.
	LineageIdentifiers []string
	LineageStartDate   time.Time

	Attributes map[string]string
}

// ProvenanceRepository is the append-only event log (§6).
type ProvenanceRepository interface {
	Initialize() error
	RegisterEvent(event ProvenanceEvent) error
	GetEvent(id int64) (ProvenanceEvent, error)
	GetEvents(firstID int64, maxResults int) ([]ProvenanceEvent, error)
	Close() error
}

// Bulletin is a transient diagnostic record aggregated for operator
// visibility (§GLOSSARY).
type Bulletin struct {
	ID        int64
	Timestamp time.Time
	Category  string
	Level     string // INFO, WARN, ERROR
	Message   string
	SourceID  string
}

// BulletinRepository is the in-memory diagnostic feed (§6), with an
// override hook a clustered controller uses to also forward bulletins to
// the heartbeat subsystem's bulletins task.
type BulletinRepository interface {
	Add(b Bulletin)
	Drain(max int) []Bulletin
	SetOverride(f func(b Bulletin))
}

// SwapManager spills flow-file batches too large for the in-memory queue
// to an external spool and reads them back in order (§6).
type SwapManager interface {
	Start() error
	Purge() error
	RecoverSwappedFlowFiles(controllerID string, claims *contentclaim.Manager) (maxID int64, err error)
	SwapOut(queueID string, batch []*flowfile.Record) (swapLocation string, err error)
	SwapIn(swapLocation string) ([]*flowfile.Record, error)
	Shutdown() error
}

// StatusSample is one point of a component's historical status reservoir.
type StatusSample struct {
	Timestamp time.Time
	Fields    map[string]int64
}

// ComponentStatusRepository captures periodic status snapshots and serves
// bounded-size history queries (§6, §4.5, §10's status-history methods).
type ComponentStatusRepository interface {
	Capture(componentID string, sample StatusSample) error
	GetConnectionStatusHistory(ctx context.Context, id string, from, to time.Time, maxPoints int) ([]StatusSample, error)
	GetProcessorStatusHistory(ctx context.Context, id string, from, to time.Time, maxPoints int) ([]StatusSample, error)
	GetProcessGroupStatusHistory(ctx context.Context, id string, from, to time.Time, maxPoints int) ([]StatusSample, error)
	GetRemoteProcessGroupStatusHistory(ctx context.Context, id string, from, to time.Time, maxPoints int) ([]StatusSample, error)
}

// HeartbeatMessage is the payload the generator builds and the sender
// transmits (§4.6).
type HeartbeatMessage struct {
	NodeID              string
	SystemStartTime     time.Time
	ActiveThreadCount    int
	TotalQueuedObjects   int64
	TotalQueuedBytes     int64
	SystemDiagnostics    map[string]interface{}
	GroupStatusPayload   []byte // pre-serialized ProcessGroupStatus tree
	SiteToSiteListening  bool
}

// BulletinsMessage is what the bulletins task transmits (§4.6).
type BulletinsMessage struct {
	NodeID    string
	Bulletins []Bulletin
}

// NodeProtocolSender is the cluster transport for heartbeats and bulletins
// (§6). ErrUnknownServiceAddress is expected during cluster-manager
// failover and must not fail the calling task.
type NodeProtocolSender interface {
	Heartbeat(ctx context.Context, msg HeartbeatMessage) error
	SendBulletins(ctx context.Context, msg BulletinsMessage) error
}

// ErrUnknownServiceAddress is returned by a NodeProtocolSender when the
// cluster manager's address is not currently resolvable.
type ErrUnknownServiceAddress struct{ Address string }

func (e *ErrUnknownServiceAddress) Error() string {
	return "unknown service address: " + e.Address
}
