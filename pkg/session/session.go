// Package session implements the transactional unit of work a processor's
// trigger runs inside: pull flow-files from inbound queues, read/write their
// content, transfer them to a named relationship, and commit or roll the
// whole batch back atomically. It is the bridge between a Processor plug-in
// and the graph/queue/contentclaim/repository machinery (§4.1, §4.8).
package session

import (
	"time"

	uuid "github.com/satori/go.uuid"
	"github.com/juju/errors"

	"github.com/flowctl/core/pkg/contentclaim"
	"github.com/flowctl/core/pkg/flowfile"
	"github.com/flowctl/core/pkg/graph"
	"github.com/flowctl/core/pkg/repository"
)

const (
	EventTypeCreate             = "CREATE"
	EventTypeAttributesModified = "ATTRIBUTES_MODIFIED"
	EventTypeContentModified    = "CONTENT_MODIFIED"
	EventTypeDrop               = "DROP"
	EventTypeRoute              = "ROUTE"
)

// Session is a single trigger invocation's transactional scope. It is not
// safe for concurrent use: exactly one goroutine owns a session for the
// duration of one trigger call.
type Session struct {
	g          *graph.Graph
	c          *graph.Connectable
	claims     *contentclaim.Manager
	content    repository.ContentRepository
	provenance repository.ProvenanceRepository
	flowfiles  repository.FlowFileRepository

	pulled    []*flowfile.Record
	created   []*flowfile.Record
	transfers map[*flowfile.Record]string
	drops     map[*flowfile.Record]string
	events    []repository.ProvenanceEvent

	rolledBack bool
}

// New constructs a session scoped to one connectable's trigger invocation.
func New(g *graph.Graph, c *graph.Connectable, claims *contentclaim.Manager, content repository.ContentRepository, provenance repository.ProvenanceRepository, flowfiles repository.FlowFileRepository) *Session {
	return &Session{
		g:          g,
		c:          c,
		claims:     claims,
		content:    content,
		provenance: provenance,
		flowfiles:  flowfiles,
		transfers:  make(map[*flowfile.Record]string),
		drops:      make(map[*flowfile.Record]string),
	}
}

// Get pulls the next flow-file from whichever inbound connection has one
// ready, or nil if none do.
func (s *Session) Get() *flowfile.Record {
	for _, conn := range s.g.InboundConnections(s.c) {
		if r := conn.Queue.Poll(); r != nil {
			s.pulled = append(s.pulled, r)
			return r
		}
	}
	return nil
}

// GetBatch pulls up to max flow-files across all inbound connections.
func (s *Session) GetBatch(max int) []*flowfile.Record {
	var out []*flowfile.Record
	for _, conn := range s.g.InboundConnections(s.c) {
		if len(out) >= max {
			break
		}
		out = append(out, conn.Queue.PollBatch(max-len(out))...)
	}
	s.pulled = append(s.pulled, out...)
	return out
}

// Create allocates a brand new flow-file with no content and no lineage
// beyond itself, for source processors that originate data.
func (s *Session) Create() (*flowfile.Record, error) {
	sequence, err := s.flowfiles.NextSequence()
	if err != nil {
		return nil, errors.Trace(err)
	}
	id := uuid.NewV4().String()
	claim := s.claims.NewClaim(s.c.ID, id, "0", false)
	s.claims.Increment(claim)
	r := flowfile.NewRecord(sequence, id, claim, 0, 0)
	s.created = append(s.created, r)
	s.events = append(s.events, repository.ProvenanceEvent{
		Type: EventTypeCreate, Timestamp: time.Now(), FlowFileUUID: id,
		LineageIdentifiers: r.LineageIdentifiers, LineageStartDate: r.LineageStartTimestamp,
	})
	return r, nil
}

// PutAttribute sets a single attribute and records an ATTRIBUTES_MODIFIED
// event against r.
func (s *Session) PutAttribute(r *flowfile.Record, key, value string) {
	r.Attributes[key] = value
	event := repository.ProvenanceEvent{
		Type: EventTypeAttributesModified, Timestamp: time.Now(), FlowFileUUID: r.UUID,
		SourceQueueID:      r.QueueID,
		LineageIdentifiers: r.LineageIdentifiers, LineageStartDate: r.LineageStartTimestamp,
	}
	if r.ContentClaim.Identifier != "" || r.ContentClaim.Container != "" {
		event.PreviousClaim = claimPtr(r.ContentClaim)
		event.PreviousClaimOffset = r.ContentClaimOffset
		event.PreviousClaimSize = r.Size
	}
	s.events = append(s.events, event)
}

// Read opens r's content for reading.
func (s *Session) Read(r *flowfile.Record) (repository.ReadCloser, error) {
	return s.content.Read(r.ContentClaim)
}

// Write replaces r's content with p under a freshly minted claim, releasing
// the claimant the old content held.
func (s *Session) Write(r *flowfile.Record, p []byte) error {
	old := r.ContentClaim
	hadOld := old.Identifier != "" || old.Container != ""

	newClaim := s.claims.NewClaim(s.c.ID, r.UUID, sequenceSuffix(r), false)
	if err := s.content.Write(newClaim, p); err != nil {
		return errors.Annotate(err, "write flowfile content")
	}
	s.claims.Increment(newClaim)

	if hadOld {
		if _, err := s.claims.Decrement(old); err != nil {
			return errors.Trace(err)
		}
	}

	oldOffset, oldSize := r.ContentClaimOffset, r.Size
	r.ContentClaim = newClaim
	r.ContentClaimOffset = 0
	r.Size = int64(len(p))

	event := repository.ProvenanceEvent{
		Type: EventTypeContentModified, Timestamp: time.Now(), FlowFileUUID: r.UUID,
		SourceQueueID:      r.QueueID,
		LineageIdentifiers: r.LineageIdentifiers, LineageStartDate: r.LineageStartTimestamp,
	}
	if hadOld {
		event.PreviousClaim = claimPtr(old)
		event.PreviousClaimOffset = oldOffset
		event.PreviousClaimSize = oldSize
	}
	s.events = append(s.events, event)
	return nil
}

// claimPtr returns a pointer to c for a provenance event's PreviousClaim
// field, a separate value each call so no two events ever alias the same
// *Claim.
func claimPtr(c contentclaim.Claim) *contentclaim.Claim {
	return &c
}

func sequenceSuffix(r *flowfile.Record) string {
	return time.Now().Format("20060102T150405.000000000")
}

// Transfer marks r to be routed to relationship at Commit.
func (s *Session) Transfer(r *flowfile.Record, relationship string) {
	s.transfers[r] = relationship
}

// Drop marks r to be discarded at Commit, releasing its content claim.
func (s *Session) Drop(r *flowfile.Record, reason string) {
	s.drops[r] = reason
}

// Commit routes every transferred flow-file to the outbound connections
// subscribed to its relationship, persists the batch to the flow-file
// repository, registers accumulated provenance events, and releases
// dropped flow-files' content claims. A flow-file transferred to a
// relationship with no subscribed outbound connection is auto-terminated:
// its content claim is released and it is not requeued, mirroring a
// terminal relationship with nothing attached downstream.
func (s *Session) Commit() error {
	if s.rolledBack {
		return errors.NewNotValid(nil, "session already rolled back")
	}

	outbound := s.g.OutboundConnections(s.c)
	var toPersist []*flowfile.Record

	for r, relationship := range s.transfers {
		toPersist = append(toPersist, r)
		routed := false
		for _, conn := range outbound {
			if _, ok := conn.Relationships[relationship]; !ok {
				continue
			}
			dest := r
			if routed {
				// a relationship fanning out to more than one connection clones
				// the flow-file rather than sharing one mutable record across
				// two independently-owned queues.
				dest = r.Clone()
				s.claims.Increment(dest.ContentClaim)
			}
			routed = true
			conn.Queue.Put(dest)
			s.events = append(s.events, repository.ProvenanceEvent{
				Type: EventTypeRoute, Timestamp: time.Now(), FlowFileUUID: dest.UUID,
				PreviousClaim: claimPtr(dest.ContentClaim), PreviousClaimOffset: dest.ContentClaimOffset, PreviousClaimSize: dest.Size,
				SourceQueueID:      conn.ID,
				LineageIdentifiers: dest.LineageIdentifiers, LineageStartDate: dest.LineageStartTimestamp,
			})
		}
		if !routed {
			s.releaseClaim(r)
		}
	}

	for r, reason := range s.drops {
		r.Attributes[flowfile.AttrDiscardReason] = reason
		toPersist = append(toPersist, r)
		s.releaseClaim(r)
		s.events = append(s.events, repository.ProvenanceEvent{
			Type: EventTypeDrop, Timestamp: time.Now(), FlowFileUUID: r.UUID,
			Attributes:          map[string]string{flowfile.AttrDiscardReason: reason},
			PreviousClaim:       claimPtr(r.ContentClaim), PreviousClaimOffset: r.ContentClaimOffset, PreviousClaimSize: r.Size,
			SourceQueueID:       r.QueueID,
			LineageIdentifiers:  r.LineageIdentifiers, LineageStartDate: r.LineageStartTimestamp,
		})
	}

	for _, r := range s.pulled {
		if _, transferred := s.transfers[r]; transferred {
			continue
		}
		if _, dropped := s.drops[r]; dropped {
			continue
		}
		// pulled but neither routed nor dropped: a plug-in (particularly an
		// out-of-process one whose TriggerResponse can omit a flow-file
		// without this session ever seeing an explicit Drop call) left it
		// untransferred, and it is auto-terminated here exactly as a
		// transfer to a relationship with nothing subscribed is above.
		r.Attributes[flowfile.AttrDiscardReason] = "auto-terminated: not routed or dropped"
		toPersist = append(toPersist, r)
		s.releaseClaim(r)
		s.events = append(s.events, repository.ProvenanceEvent{
			Type: EventTypeDrop, Timestamp: time.Now(), FlowFileUUID: r.UUID,
			Attributes:          map[string]string{flowfile.AttrDiscardReason: "auto-terminated: not routed or dropped"},
			PreviousClaim:       claimPtr(r.ContentClaim), PreviousClaimOffset: r.ContentClaimOffset, PreviousClaimSize: r.Size,
			SourceQueueID:       r.QueueID,
			LineageIdentifiers:  r.LineageIdentifiers, LineageStartDate: r.LineageStartTimestamp,
		})
	}

	for _, r := range s.created {
		if _, transferred := s.transfers[r]; !transferred {
			continue
		}
		toPersist = append(toPersist, r)
	}

	if len(toPersist) > 0 {
		if err := s.flowfiles.UpdateRepository(toPersist); err != nil {
			return errors.Annotate(err, "persist committed flowfiles")
		}
	}

	for _, event := range s.events {
		if err := s.provenance.RegisterEvent(event); err != nil {
			return errors.Annotate(err, "register provenance event")
		}
	}

	return nil
}

// Stats summarizes a session's pulled/transferred activity for the
// status aggregator's per-component counters (§4.5). Safe to call any
// time after OnTrigger returns, including after Commit (Commit never
// clears the maps Stats reads) but not after Rollback.
type Stats struct {
	InputCount, InputBytes   int64
	OutputCount, OutputBytes int64
}

// Stats computes the current session's activity counts.
func (s *Session) Stats() Stats {
	var st Stats
	for _, r := range s.pulled {
		st.InputCount++
		st.InputBytes += r.Size
	}
	for r := range s.transfers {
		st.OutputCount++
		st.OutputBytes += r.Size
	}
	return st
}

func (s *Session) releaseClaim(r *flowfile.Record) {
	hadClaim := r.ContentClaim.Identifier != "" || r.ContentClaim.Container != ""
	if !hadClaim {
		return
	}
	if residual, err := s.claims.Decrement(r.ContentClaim); err == nil && residual == 0 {
		_ = s.content.Cleanup()
	}
}

// Rollback returns every pulled flow-file to the front of its originating
// connection's queue, undoing Get/GetBatch, and discards any pending
// transfers, drops, or newly created flow-files. Call instead of Commit
// when the trigger's business logic fails.
func (s *Session) Rollback() {
	s.rolledBack = true
	for _, r := range s.pulled {
		for _, conn := range s.g.InboundConnections(s.c) {
			if conn.ID == r.QueueID {
				conn.Queue.Put(r)
				break
			}
		}
	}
	s.pulled = nil
	s.transfers = make(map[*flowfile.Record]string)
	s.drops = make(map[*flowfile.Record]string)
	s.created = nil
	s.events = nil
}
