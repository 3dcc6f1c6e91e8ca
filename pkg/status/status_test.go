package status

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowctl/core/pkg/contentclaim"
	"github.com/flowctl/core/pkg/flowfile"
	"github.com/flowctl/core/pkg/graph"
	"github.com/flowctl/core/pkg/queue"
	"github.com/flowctl/core/pkg/repository"
)

type fakeCounters struct {
	byID map[string]EventCounters
}

func (f *fakeCounters) CountersFor(id string) EventCounters {
	return f.byID[id]
}

type fakeStatusRepo struct {
	captured []repository.StatusSample
}

func (f *fakeStatusRepo) Capture(id string, sample repository.StatusSample) error {
	f.captured = append(f.captured, sample)
	return nil
}
func (f *fakeStatusRepo) GetConnectionStatusHistory(ctx context.Context, id string, from, to time.Time, maxPoints int) ([]repository.StatusSample, error) {
	return nil, nil
}
func (f *fakeStatusRepo) GetProcessorStatusHistory(ctx context.Context, id string, from, to time.Time, maxPoints int) ([]repository.StatusSample, error) {
	return nil, nil
}
func (f *fakeStatusRepo) GetProcessGroupStatusHistory(ctx context.Context, id string, from, to time.Time, maxPoints int) ([]repository.StatusSample, error) {
	return nil, nil
}
func (f *fakeStatusRepo) GetRemoteProcessGroupStatusHistory(ctx context.Context, id string, from, to time.Time, maxPoints int) ([]repository.StatusSample, error) {
	return nil, nil
}

func TestSnapshotAggregatesConnectablesAndConnections(t *testing.T) {
	g := graph.New("root")
	src, err := g.AddProcessor("src", "src", "root")
	require.NoError(t, err)
	dst, err := g.AddProcessor("dst", "dst", "root")
	require.NoError(t, err)
	conn, err := g.AddConnection("c1", "root", src.ID, dst.ID, []string{"success"}, queue.Thresholds{})
	require.NoError(t, err)
	conn.Queue.Put(flowfile.NewRecord(0, "a", contentclaim.Claim{}, 0, 10))

	counters := &fakeCounters{byID: map[string]EventCounters{
		"src": {InputCount: 3, OutputCount: 3, ActiveThreadCount: 1},
	}}
	repo := &fakeStatusRepo{}
	agg := New("controller-1", g, counters, repo)

	snap, err := agg.Snapshot("root")
	require.NoError(t, err)
	assert.EqualValues(t, 3, snap.InputCount)
	assert.EqualValues(t, 3, snap.OutputCount)
	assert.Len(t, snap.Connectables, 2)
	assert.Len(t, snap.Connections, 1)
	assert.Len(t, repo.captured, 1)
}

func TestSnapshotRecursesIntoChildGroups(t *testing.T) {
	g := graph.New("root")
	_, err := g.AddProcessGroup("child", "child", "root")
	require.NoError(t, err)
	_, err = g.AddProcessor("p1", "p1", "child")
	require.NoError(t, err)

	counters := &fakeCounters{byID: map[string]EventCounters{}}
	agg := New("controller-1", g, counters, nil)

	snap, err := agg.Snapshot("root")
	require.NoError(t, err)
	require.Len(t, snap.Children, 1)
	assert.Equal(t, "child", snap.Children[0].ID)
	assert.Len(t, snap.Children[0].Connectables, 1)
}

func TestSnapshotSkipsCaptureWhenNoRepository(t *testing.T) {
	g := graph.New("root")
	agg := New("controller-1", g, &fakeCounters{byID: map[string]EventCounters{}}, nil)

	_, err := agg.Snapshot("root")
	assert.NoError(t, err)
}
