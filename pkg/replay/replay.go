// Package replay implements the replay subsystem of §4.7: reconstructing
// a flow-file from a prior provenance event's content-claim reference.
package replay

import (
	"time"

	uuid "github.com/satori/go.uuid"
	"github.com/juju/errors"

	"github.com/flowctl/core/pkg/contentclaim"
	"github.com/flowctl/core/pkg/flowfile"
	"github.com/flowctl/core/pkg/graph"
	"github.com/flowctl/core/pkg/repository"
)

// Replayer reconstructs a flow-file from a provenance event.
type Replayer struct {
	g          *graph.Graph
	provenance repository.ProvenanceRepository
	content    repository.ContentRepository
	flowfiles  repository.FlowFileRepository
	claims     *contentclaim.Manager
}

// New constructs a Replayer bound to its collaborators.
func New(g *graph.Graph, provenance repository.ProvenanceRepository, content repository.ContentRepository, flowfiles repository.FlowFileRepository, claims *contentclaim.Manager) *Replayer {
	return &Replayer{g: g, provenance: provenance, content: content, flowfiles: flowfiles, claims: claims}
}

const provenanceEventTypeJoin = "JOIN"
const provenanceEventTypeReplay = "REPLAY"

// Replay reconstructs and enqueues the flow-file described by eventID,
// running every precondition of §4.7 in order and returning a specific
// reason string on the first failing check.
func (r *Replayer) Replay(eventID int64) (*flowfile.Record, error) {
	event, err := r.provenance.GetEvent(eventID)
	if err != nil {
		return nil, errors.Annotate(err, "load provenance event")
	}

	if event.Type == provenanceEventTypeJoin {
		return nil, errors.NewNotValid(nil, "Cannot replay events that are created from multiple parents")
	}

	if event.PreviousClaim == nil {
		return nil, errors.NewNotValid(nil, "event does not have a previous content claim")
	}

	if event.SourceQueueID == "" {
		return nil, errors.NewNotValid(nil, "event does not have a source queue identifier")
	}

	conn, err := r.g.Connection(event.SourceQueueID)
	if err != nil {
		return nil, errors.NewNotValid(nil, "no live connection exists for the event's source queue")
	}

	claim := *event.PreviousClaim
	r.claims.Increment(claim)

	if !r.content.IsAccessible(claim) {
		if _, decErr := r.claims.Decrement(claim); decErr != nil {
			return nil, errors.Trace(decErr)
		}
		return nil, errors.NewNotValid(nil, "previous content claim is no longer accessible")
	}

	sequence, err := r.flowfiles.NextSequence()
	if err != nil {
		return nil, errors.Trace(err)
	}

	newUUID := uuid.NewV4().String()
	rec := flowfile.NewRecord(sequence, newUUID, claim, event.PreviousClaimOffset, event.PreviousClaimSize)

	// A replayed flow-file carries forward the lineage of the flow-file the
	// event describes rather than starting a fresh one: it is the same
	// lineage continuing through a new identity, not a new flow-file.
	if len(event.LineageIdentifiers) > 0 {
		rec.LineageIdentifiers = append(append([]string(nil), event.LineageIdentifiers...), newUUID)
	}
	if !event.LineageStartDate.IsZero() {
		rec.LineageStartTimestamp = event.LineageStartDate
	}

	for k, v := range event.Attributes {
		if k == flowfile.AttrDiscardReason || k == flowfile.AttrAlternateID {
			continue
		}
		rec.Attributes[k] = v
	}
	rec.Attributes[flowfile.AttrReplay] = "true"
	rec.Attributes[flowfile.AttrReplayTimestamp] = time.Now().Format(time.RFC3339Nano)

	if err := r.flowfiles.UpdateRepository([]*flowfile.Record{rec}); err != nil {
		return nil, errors.Annotate(err, "persist replayed flowfile")
	}

	conn.Queue.Put(rec)

	replayEvent := repository.ProvenanceEvent{
		Type:                provenanceEventTypeReplay,
		Timestamp:           time.Now(),
		FlowFileUUID:        newUUID,
		ParentUUIDs:         []string{event.FlowFileUUID},
		SourceQueueID:       event.SourceQueueID,
		PreviousClaim:       &claim,
		PreviousClaimOffset: rec.ContentClaimOffset,
		PreviousClaimSize:   rec.Size,
		LineageIdentifiers:  rec.LineageIdentifiers,
		LineageStartDate:    rec.LineageStartTimestamp,
	}
	if err := r.provenance.RegisterEvent(replayEvent); err != nil {
		return nil, errors.Annotate(err, "register replay provenance event")
	}

	return rec, nil
}
