package session

import (
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowctl/core/pkg/contentclaim"
	"github.com/flowctl/core/pkg/flowfile"
	"github.com/flowctl/core/pkg/graph"
	"github.com/flowctl/core/pkg/queue"
	"github.com/flowctl/core/pkg/repository"
	"github.com/flowctl/core/pkg/repository/mock_repository"
)

type fakeContent struct {
	written map[string][]byte
}

func newFakeContent() *fakeContent { return &fakeContent{written: make(map[string][]byte)} }

func (f *fakeContent) Initialize(claims *contentclaim.Manager) error { return nil }
func (f *fakeContent) IsAccessible(claim contentclaim.Claim) bool {
	_, ok := f.written[claim.Identifier]
	return ok
}
func (f *fakeContent) Read(claim contentclaim.Claim) (repository.ReadCloser, error) { return nil, nil }
func (f *fakeContent) Write(claim contentclaim.Claim, p []byte) error {
	f.written[claim.Identifier] = p
	return nil
}
func (f *fakeContent) Cleanup() error { return nil }
func (f *fakeContent) Shutdown() error { return nil }

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

func newTestSession(t *testing.T) (*Session, *graph.Graph, *graph.Connectable, *contentclaim.Manager, *fakeContent, *fakeFlowFiles) {
	g := graph.New("root")
	proc, err := g.AddProcessor("proc-1", "proc", "root")
	require.NoError(t, err)
	claims := contentclaim.NewManager()
	content := newFakeContent()
	flowfiles := &fakeFlowFiles{}
	prov := &noopProvenance{}

	s := New(g, proc, claims, content, prov, flowfiles)
	return s, g, proc, claims, content, flowfiles
}

type noopProvenance struct{ events []repository.ProvenanceEvent }

func (n *noopProvenance) Initialize() error { return nil }
func (n *noopProvenance) RegisterEvent(e repository.ProvenanceEvent) error {
	n.events = append(n.events, e)
	return nil
}
func (n *noopProvenance) GetEvent(id int64) (repository.ProvenanceEvent, error) {
	return repository.ProvenanceEvent{}, nil
}
func (n *noopProvenance) GetEvents(firstID int64, maxResults int) ([]repository.ProvenanceEvent, error) {
	return nil, nil
}
func (n *noopProvenance) Close() error { return nil }

// TestCreateThenWriteDoesNotDecrementAnUnincrementedClaim is the regression
// test for Create's claim allocation: a source processor's usual first move
// is Create followed immediately by a Write of its initial content, and that
// must not fail trying to release a claimant count Create never took out.
func TestCreateThenWriteDoesNotDecrementAnUnincrementedClaim(t *testing.T) {
	s, _, proc, claims, _, _ := newTestSession(t)

	r, err := s.Create()
	require.NoError(t, err)
	assert.EqualValues(t, 1, claims.Count(r.ContentClaim))

	err = s.Write(r, []byte("hello"))
	require.NoError(t, err, "Write immediately after Create must not fail decrementing the fresh claim")
	assert.EqualValues(t, 1, claims.Count(r.ContentClaim), "Write's new claim must hold exactly one claimant")

	s.Transfer(r, "success")
	require.NoError(t, s.Commit())
	_ = proc
}

func TestWriteReplacesClaimAndReleasesThePrevious(t *testing.T) {
	s, _, _, claims, _, _ := newTestSession(t)

	r, err := s.Create()
	require.NoError(t, err)
	firstClaim := r.ContentClaim
	require.NoError(t, s.Write(r, []byte("one")))
	secondClaim := r.ContentClaim

	require.NoError(t, s.Write(r, []byte("two")))
	assert.EqualValues(t, 0, claims.Count(secondClaim), "the superseded second claim must have been released")
	assert.EqualValues(t, 1, claims.Count(r.ContentClaim))
	assert.NotEqual(t, firstClaim, r.ContentClaim)
}

func TestCommitRoutesToSubscribedOutboundConnection(t *testing.T) {
	g := graph.New("root")
	src, err := g.AddProcessor("src", "src", "root")
	require.NoError(t, err)
	dst, err := g.AddProcessor("dst", "dst", "root")
	require.NoError(t, err)
	_, err = g.AddConnection("conn-1", "root", src.ID, dst.ID, []string{"success"}, queue.Thresholds{})
	require.NoError(t, err)

	claims := contentclaim.NewManager()
	s := New(g, src, claims, newFakeContent(), &noopProvenance{}, &fakeFlowFiles{})

	r, err := s.Create()
	require.NoError(t, err)
	require.NoError(t, s.Write(r, []byte("payload")))
	s.Transfer(r, "success")
	require.NoError(t, s.Commit())

	conn, err := g.Connection("conn-1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, conn.Queue.Size().ObjectCount)
}

// TestCommitRegistersProvenanceEventsThroughTheRepositoryInterface uses a
// gomock double of repository.ProvenanceRepository to verify Commit drives
// the provenance repository strictly through its interface, independent of
// any concrete store's own behaviour.
func TestCommitRegistersProvenanceEventsThroughTheRepositoryInterface(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	g := graph.New("root")
	proc, err := g.AddProcessor("proc-1", "proc", "root")
	require.NoError(t, err)

	claims := contentclaim.NewManager()
	prov := mock_repository.NewMockProvenanceRepository(ctrl)

	var captured []repository.ProvenanceEvent
	prov.EXPECT().RegisterEvent(gomock.Any()).DoAndReturn(func(e repository.ProvenanceEvent) error {
		captured = append(captured, e)
		return nil
	}).Times(3) // CREATE, CONTENT_MODIFIED (recorded as the session runs) and DROP (recorded at Commit)

	s := New(g, proc, claims, newFakeContent(), prov, &fakeFlowFiles{})
	r, err := s.Create()
	require.NoError(t, err)
	require.NoError(t, s.Write(r, []byte("payload")))
	s.Drop(r, "test-drop")

	require.NoError(t, s.Commit())
	require.Len(t, captured, 3)
	assert.Equal(t, EventTypeCreate, captured[0].Type)
	assert.Equal(t, EventTypeContentModified, captured[1].Type)
	assert.Equal(t, EventTypeDrop, captured[2].Type)
}
