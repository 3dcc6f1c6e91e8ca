package replay_test

import (
	"errors"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/flowctl/core/pkg/contentclaim"
	"github.com/flowctl/core/pkg/flowfile"
	"github.com/flowctl/core/pkg/graph"
	"github.com/flowctl/core/pkg/queue"
	"github.com/flowctl/core/pkg/replay"
	"github.com/flowctl/core/pkg/repository"
)

var errNotFound = errors.New("provenance event not found")

type fakeProvenance struct {
	events     map[int64]repository.ProvenanceEvent
	registered []repository.ProvenanceEvent
}

func (f *fakeProvenance) Initialize() error { return nil }
func (f *fakeProvenance) RegisterEvent(e repository.ProvenanceEvent) error {
	f.registered = append(f.registered, e)
	return nil
}
func (f *fakeProvenance) GetEvent(id int64) (repository.ProvenanceEvent, error) {
	e, ok := f.events[id]
	if !ok {
		return repository.ProvenanceEvent{}, errNotFound
	}
	return e, nil
}
func (f *fakeProvenance) GetEvents(firstID int64, maxResults int) ([]repository.ProvenanceEvent, error) {
	return nil, nil
}
func (f *fakeProvenance) Close() error { return nil }

type fakeContent struct {
	accessible bool
}

func (f *fakeContent) Initialize(claims *contentclaim.Manager) error { return nil }
func (f *fakeContent) IsAccessible(claim contentclaim.Claim) bool    { return f.accessible }
func (f *fakeContent) Read(claim contentclaim.Claim) (repository.ReadCloser, error) {
	return nil, errNotFound
}
func (f *fakeContent) Write(claim contentclaim.Claim, p []byte) error { return nil }
func (f *fakeContent) Cleanup() error                                 { return nil }
func (f *fakeContent) Shutdown() error                                 { return nil }

type fakeFlowFiles struct {
	nextSeq int64
	saved   []*flowfile.Record
}

func (f *fakeFlowFiles) Initialize(controllerID string) error { return nil }
func (f *fakeFlowFiles) Load(controllerID string, startingID int64) (int64, error) {
	return 0, nil
}
func (f *fakeFlowFiles) NextSequence() (int64, error) {
	f.nextSeq++
	return f.nextSeq, nil
}
func (f *fakeFlowFiles) UpdateRepository(batch []*flowfile.Record) error {
	f.saved = append(f.saved, batch...)
	return nil
}
func (f *fakeFlowFiles) IsVolatile() bool { return false }
func (f *fakeFlowFiles) Close() error     { return nil }

var _ = Describe("Replayer", func() {
	var (
		r         *replay.Replayer
		g         *graph.Graph
		prov      *fakeProvenance
		content   *fakeContent
		flowfiles *fakeFlowFiles
		claims    *contentclaim.Manager
	)

	BeforeEach(func() {
		g = graph.New("root")
		src, err := g.AddProcessor("src", "src", "root")
		Expect(err).NotTo(HaveOccurred())
		dst, err := g.AddProcessor("dst", "dst", "root")
		Expect(err).NotTo(HaveOccurred())
		_, err = g.AddConnection("conn-1", "root", src.ID, dst.ID, []string{"success"}, queue.Thresholds{})
		Expect(err).NotTo(HaveOccurred())

		prov = &fakeProvenance{events: make(map[int64]repository.ProvenanceEvent)}
		content = &fakeContent{accessible: true}
		flowfiles = &fakeFlowFiles{}
		claims = contentclaim.NewManager()

		r = replay.New(g, prov, content, flowfiles, claims)
	})

	Context("given a well-formed CREATE event with an accessible previous claim", func() {
		claim := contentclaim.Claim{Container: "c", Section: "s", Identifier: "1"}

		BeforeEach(func() {
			prov.events[1] = repository.ProvenanceEvent{
				ID:                1,
				Type:              "CREATE",
				FlowFileUUID:      "parent-uuid",
				PreviousClaim:     &claim,
				PreviousClaimSize: 42,
				SourceQueueID:     "conn-1",
				Attributes:        map[string]string{"custom": "value"},
				Timestamp:         time.Now(),
			}
		})

		It("reconstructs the flow-file, persists it, enqueues it, and registers a REPLAY event", func() {
			rec, err := r.Replay(1)
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.Attributes["custom"]).To(Equal("value"))
			Expect(rec.Attributes[flowfile.AttrReplay]).To(Equal("true"))
			Expect(rec.Attributes[flowfile.AttrReplayTimestamp]).NotTo(BeEmpty())
			Expect(flowfiles.saved).To(HaveLen(1))
			Expect(prov.registered).To(HaveLen(1))
			Expect(prov.registered[0].Type).To(Equal("REPLAY"))

			conn, err := g.Connection("conn-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(conn.Queue.Size().ObjectCount).To(BeEquivalentTo(1))
		})

		It("carries the previous claim's offset and the original lineage forward", func() {
			event := prov.events[1]
			event.PreviousClaimOffset = 128
			event.LineageIdentifiers = []string{"ancestor-1", "parent-uuid"}
			event.LineageStartDate = time.Now().Add(-time.Hour)
			prov.events[1] = event

			rec, err := r.Replay(1)
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.ContentClaimOffset).To(BeEquivalentTo(128))
			Expect(rec.LineageStartTimestamp).To(Equal(event.LineageStartDate))
			Expect(rec.LineageIdentifiers).To(Equal([]string{"ancestor-1", "parent-uuid", rec.UUID}))
		})
	})

	It("rejects events created by joining multiple parents", func() {
		prov.events[1] = repository.ProvenanceEvent{ID: 1, Type: "JOIN"}
		_, err := r.Replay(1)
		Expect(err).To(HaveOccurred())
	})

	It("rejects an event with no previous content claim", func() {
		prov.events[1] = repository.ProvenanceEvent{ID: 1, Type: "CREATE"}
		_, err := r.Replay(1)
		Expect(err).To(HaveOccurred())
	})

	It("rejects an event with no source queue identifier", func() {
		claim := contentclaim.Claim{Container: "c", Section: "s", Identifier: "1"}
		prov.events[1] = repository.ProvenanceEvent{ID: 1, Type: "CREATE", PreviousClaim: &claim}
		_, err := r.Replay(1)
		Expect(err).To(HaveOccurred())
	})

	It("rejects an event whose source queue no longer exists", func() {
		claim := contentclaim.Claim{Container: "c", Section: "s", Identifier: "1"}
		prov.events[1] = repository.ProvenanceEvent{ID: 1, Type: "CREATE", PreviousClaim: &claim, SourceQueueID: "no-such-connection"}
		_, err := r.Replay(1)
		Expect(err).To(HaveOccurred())
	})

	It("rejects and decrements an inaccessible previous claim", func() {
		content.accessible = false
		claim := contentclaim.Claim{Container: "c", Section: "s", Identifier: "1"}
		prov.events[1] = repository.ProvenanceEvent{ID: 1, Type: "CREATE", PreviousClaim: &claim, SourceQueueID: "conn-1"}

		_, err := r.Replay(1)
		Expect(err).To(HaveOccurred())
		Expect(claims.Count(claim)).To(BeEquivalentTo(0))
	})
})
