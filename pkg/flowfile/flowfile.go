// Package flowfile defines the unit of work that traverses connections:
// an attribute map plus a reference to immutable content (§3).
package flowfile

import (
	"time"

	"github.com/flowctl/core/pkg/contentclaim"
)

// CoreAttributes are the well-known attribute keys the controller itself
// sets or reads, mirroring the original's CoreAttributes enum.
const (
	AttrUUID            = "uuid"
	AttrFilename        = "filename"
	AttrDiscardReason   = "discard.reason"
	AttrAlternateID     = "alternate.identifier"
	AttrReplay          = "flowfile.replay"
	AttrReplayTimestamp = "flowfile.replay.timestamp"
)

// Record is a flow-file: identity, timestamps, lineage, attributes, and a
// reference to its content claim. It does not carry the content itself —
// that lives in the (external) content repository, addressed by
// ContentClaim+ContentClaimOffset.
type Record struct {
	// Sequence is the monotone sequence number assigned by the flow-file
	// repository; UUID is the externally visible identity carried as the
	// "uuid" attribute.
	Sequence int64
	UUID     string

	EntryTimestamp       time.Time
	LineageStartTimestamp time.Time
	LineageIdentifiers    []string

	Attributes map[string]string

	ContentClaim       contentclaim.Claim
	ContentClaimOffset int64
	Size               int64

	// QueueID is the identifier of the connection queue currently owning
	// this record, "" if not enqueued (e.g. in flight inside a processor
	// trigger).
	QueueID string
}

// NewRecord builds a flow-file with a fresh identity, no lineage beyond
// itself, and an empty attribute map.
func NewRecord(sequence int64, uuid string, claim contentclaim.Claim, offset, size int64) *Record {
	now := time.Now()
	r := &Record{
		Sequence:              sequence,
		UUID:                  uuid,
		EntryTimestamp:        now,
		LineageStartTimestamp: now,
		LineageIdentifiers:    []string{uuid},
		Attributes:            make(map[string]string),
		ContentClaim:          claim,
		ContentClaimOffset:    offset,
		Size:                  size,
	}
	r.Attributes[AttrUUID] = uuid
	return r
}

// Clone returns a deep copy of the attribute map and lineage slice so
// mutating the copy (e.g. during replay) never touches the original.
func (r *Record) Clone() *Record {
	clone := *r
	clone.Attributes = make(map[string]string, len(r.Attributes))
	for k, v := range r.Attributes {
		clone.Attributes[k] = v
	}
	clone.LineageIdentifiers = append([]string(nil), r.LineageIdentifiers...)
	return &clone
}

// ByteSize returns Size, the unit queue back-pressure accounting sums.
func (r *Record) ByteSize() int64 {
	return r.Size
}
