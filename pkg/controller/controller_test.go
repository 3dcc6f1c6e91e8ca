package controller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowctl/core/pkg/contentclaim"
	"github.com/flowctl/core/pkg/flowfile"
	"github.com/flowctl/core/pkg/graph"
	"github.com/flowctl/core/pkg/queue"
	"github.com/flowctl/core/pkg/registry"
	"github.com/flowctl/core/pkg/repository"
	"github.com/flowctl/core/pkg/session"
)

var errNotFound = errors.New("fake: not found")

// fakeProcessor is registered once under "fake-processor" and resolved
// fresh (non-singleton) by every CreateProcessor call, mirroring the
// registry's real per-component instantiation. Tests recover the specific
// instance a given call produced via the "token" config key.
type fakeProcessor struct {
	mu             sync.Mutex
	configureCalls int
	lastConfig     map[string]interface{}
	triggerCalls   int
	onAdded        int
	onRemoved      int
	onScheduled    int
	onUnscheduled  int
	triggerErr     error
	onTrigger      func(ctx context.Context, sess *session.Session) error
}

var (
	fakeProcessorRegistryMu sync.Mutex
	fakeProcessorRegistry   = map[string]*fakeProcessor{}
)

func init() {
	registry.RegisterPlugin(registry.ProcessorPlugin, "fake-processor", &fakeProcessor{}, false)
	registry.RegisterPlugin(registry.ProcessorPlugin, "slow-processor", &slowProcessor{}, false)
}

// slowProcessor's Configure blocks on the package-level slowProcessorGate
// until a test closes it, giving a test a window in which a snippet's
// apply loop is known to be mid-flight (inside createProcessorLocked,
// still holding c.mu) so it can probe the lock from another goroutine.
type slowProcessor struct{}

var slowProcessorGate = make(chan struct{})

func (p *slowProcessor) Configure(controllerID string, data map[string]interface{}) error {
	<-slowProcessorGate
	return nil
}
func (p *slowProcessor) OnTrigger(ctx context.Context, sess *session.Session) error { return nil }
func (p *slowProcessor) OnAdded() error                                             { return nil }
func (p *slowProcessor) OnRemoved() error                                           { return nil }
func (p *slowProcessor) OnScheduled() error                                         { return nil }
func (p *slowProcessor) OnUnscheduled() error                                       { return nil }

func (p *fakeProcessor) Configure(controllerID string, data map[string]interface{}) error {
	p.mu.Lock()
	p.configureCalls++
	p.lastConfig = data
	p.mu.Unlock()
	if tok, ok := data["token"].(string); ok {
		fakeProcessorRegistryMu.Lock()
		fakeProcessorRegistry[tok] = p
		fakeProcessorRegistryMu.Unlock()
	}
	return nil
}

func (p *fakeProcessor) OnTrigger(ctx context.Context, sess *session.Session) error {
	p.mu.Lock()
	p.triggerCalls++
	fn := p.onTrigger
	err := p.triggerErr
	p.mu.Unlock()
	if fn != nil {
		return fn(ctx, sess)
	}
	return err
}

func (p *fakeProcessor) OnAdded() error       { p.mu.Lock(); p.onAdded++; p.mu.Unlock(); return nil }
func (p *fakeProcessor) OnRemoved() error     { p.mu.Lock(); p.onRemoved++; p.mu.Unlock(); return nil }
func (p *fakeProcessor) OnScheduled() error   { p.mu.Lock(); p.onScheduled++; p.mu.Unlock(); return nil }
func (p *fakeProcessor) OnUnscheduled() error { p.mu.Lock(); p.onUnscheduled++; p.mu.Unlock(); return nil }

func (p *fakeProcessor) triggerCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.triggerCalls
}

func getFakeProcessor(token string) *fakeProcessor {
	fakeProcessorRegistryMu.Lock()
	defer fakeProcessorRegistryMu.Unlock()
	return fakeProcessorRegistry[token]
}

type fakeFlowFileRepo struct {
	mu      sync.Mutex
	nextSeq int64
	saved   []*flowfile.Record
}

func (f *fakeFlowFileRepo) Initialize(controllerID string) error             { return nil }
func (f *fakeFlowFileRepo) Load(controllerID string, startingID int64) (int64, error) {
	return 0, nil
}
func (f *fakeFlowFileRepo) NextSequence() (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextSeq++
	return f.nextSeq, nil
}
func (f *fakeFlowFileRepo) UpdateRepository(batch []*flowfile.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, batch...)
	return nil
}
func (f *fakeFlowFileRepo) IsVolatile() bool { return true }
func (f *fakeFlowFileRepo) Close() error     { return nil }

type fakeContentRepo struct {
	mu         sync.Mutex
	accessible bool
}

func (f *fakeContentRepo) Initialize(claims *contentclaim.Manager) error { return nil }
func (f *fakeContentRepo) IsAccessible(claim contentclaim.Claim) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.accessible
}
func (f *fakeContentRepo) Read(claim contentclaim.Claim) (repository.ReadCloser, error) {
	return nil, errNotFound
}
func (f *fakeContentRepo) Write(claim contentclaim.Claim, p []byte) error { return nil }
func (f *fakeContentRepo) Cleanup() error                                 { return nil }
func (f *fakeContentRepo) Shutdown() error                                { return nil }

type fakeProvenanceRepo struct {
	mu         sync.Mutex
	events     map[int64]repository.ProvenanceEvent
	registered []repository.ProvenanceEvent
}

func (f *fakeProvenanceRepo) Initialize() error { return nil }
func (f *fakeProvenanceRepo) RegisterEvent(e repository.ProvenanceEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registered = append(f.registered, e)
	return nil
}
func (f *fakeProvenanceRepo) GetEvent(id int64) (repository.ProvenanceEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.events[id]
	if !ok {
		return repository.ProvenanceEvent{}, errNotFound
	}
	return e, nil
}
func (f *fakeProvenanceRepo) GetEvents(firstID int64, maxResults int) ([]repository.ProvenanceEvent, error) {
	return nil, nil
}
func (f *fakeProvenanceRepo) Close() error { return nil }

type fakeBulletinRepo struct {
	mu       sync.Mutex
	pending  []repository.Bulletin
	override func(repository.Bulletin)
}

func (f *fakeBulletinRepo) Add(b repository.Bulletin) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending = append(f.pending, b)
}
func (f *fakeBulletinRepo) Drain(max int) []repository.Bulletin {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := max
	if n > len(f.pending) {
		n = len(f.pending)
	}
	out := f.pending[:n]
	f.pending = f.pending[n:]
	return out
}
func (f *fakeBulletinRepo) SetOverride(fn func(repository.Bulletin)) { f.override = fn }

type fakeSwapManager struct{}

func (f *fakeSwapManager) Start() error { return nil }
func (f *fakeSwapManager) Purge() error { return nil }
func (f *fakeSwapManager) RecoverSwappedFlowFiles(controllerID string, claims *contentclaim.Manager) (int64, error) {
	return 0, nil
}
func (f *fakeSwapManager) SwapOut(queueID string, batch []*flowfile.Record) (string, error) {
	return "", nil
}
func (f *fakeSwapManager) SwapIn(swapLocation string) ([]*flowfile.Record, error) { return nil, nil }
func (f *fakeSwapManager) Shutdown() error                                        { return nil }

type fakeStatusRepo struct {
	mu       sync.Mutex
	captured int
}

func (f *fakeStatusRepo) Capture(id string, sample repository.StatusSample) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.captured++
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

func newTestController(t *testing.T) (*Controller, *fakeFlowFileRepo, *fakeProvenanceRepo, *fakeContentRepo) {
	flowfiles := &fakeFlowFileRepo{}
	content := &fakeContentRepo{accessible: true}
	provenance := &fakeProvenanceRepo{events: make(map[int64]repository.ProvenanceEvent)}

	c := New("controller-1", "root", Deps{
		FlowFiles:  flowfiles,
		Content:    content,
		Provenance: provenance,
		Bulletins:  &fakeBulletinRepo{},
		Swap:       &fakeSwapManager{},
		StatusRepo: &fakeStatusRepo{},
	}, Tunables{
		TimerPoolSize:           2,
		EventPoolSize:           2,
		EventPoolQueueSize:      16,
		MinimumSchedulingPeriod: time.Millisecond,
		SnapshotPeriod:          time.Hour,
		GracefulShutdownPeriod:  100 * time.Millisecond,
	}, nil)
	require.NoError(t, c.InitializeFlow())
	t.Cleanup(func() { c.Shutdown(true) })
	return c, flowfiles, provenance, content
}

func TestInstantiateSnippetAtomicOnValidationFailure(t *testing.T) {
	c, _, _, _ := newTestController(t)

	spec := &SnippetSpec{}
	spec.Processors = append(spec.Processors, struct {
		ID        string                 `mapstructure:"id"`
		Name      string                 `mapstructure:"name"`
		ClassName string                 `mapstructure:"className"`
		Config    map[string]interface{} `mapstructure:"config"`
	}{ID: "good", Name: "good", ClassName: "fake-processor"})
	spec.Processors = append(spec.Processors, struct {
		ID        string                 `mapstructure:"id"`
		Name      string                 `mapstructure:"name"`
		ClassName string                 `mapstructure:"className"`
		Config    map[string]interface{} `mapstructure:"config"`
	}{ID: "bad", Name: "bad", ClassName: "no-such-class"})

	err := c.InstantiateSnippet("root", spec)
	assert.Error(t, err)
	assert.False(t, c.Graph().IDInUse("good"), "validation failure must leave the graph completely unmodified")
	assert.False(t, c.Graph().IDInUse("bad"))
}

func TestInstantiateSnippetAtomicOnDuplicateIDWithinBatch(t *testing.T) {
	c, _, _, _ := newTestController(t)

	spec := &SnippetSpec{}
	spec.Processors = append(spec.Processors, struct {
		ID        string                 `mapstructure:"id"`
		Name      string                 `mapstructure:"name"`
		ClassName string                 `mapstructure:"className"`
		Config    map[string]interface{} `mapstructure:"config"`
	}{ID: "dup", Name: "p1", ClassName: "fake-processor"})
	spec.Ports = append(spec.Ports, struct {
		ID     string `mapstructure:"id"`
		Name   string `mapstructure:"name"`
		Output bool   `mapstructure:"output"`
	}{ID: "dup", Name: "port1", Output: true})

	err := c.InstantiateSnippet("root", spec)
	assert.Error(t, err)
	assert.False(t, c.Graph().IDInUse("dup"), "validation failure must leave the graph completely unmodified")
}

func TestInstantiateSnippetAtomicOnDanglingConnectionEndpoint(t *testing.T) {
	c, _, _, _ := newTestController(t)

	spec := &SnippetSpec{}
	spec.Processors = append(spec.Processors, struct {
		ID        string                 `mapstructure:"id"`
		Name      string                 `mapstructure:"name"`
		ClassName string                 `mapstructure:"className"`
		Config    map[string]interface{} `mapstructure:"config"`
	}{ID: "src", Name: "src", ClassName: "fake-processor"})
	spec.Connections = append(spec.Connections, struct {
		ID             string   `mapstructure:"id"`
		SourceID       string   `mapstructure:"sourceId"`
		DestinationID  string   `mapstructure:"destinationId"`
		Relationships  []string `mapstructure:"relationships"`
		MaxObjectCount int64    `mapstructure:"maxObjectCount"`
		MaxByteCount   int64    `mapstructure:"maxByteCount"`
		ExpirationSecs int64    `mapstructure:"expirationSeconds"`
	}{ID: "conn-1", SourceID: "src", DestinationID: "no-such-destination", Relationships: []string{"success"}})

	err := c.InstantiateSnippet("root", spec)
	assert.Error(t, err)
	assert.False(t, c.Graph().IDInUse("src"), "validation failure must leave the graph completely unmodified")
	assert.False(t, c.Graph().IDInUse("conn-1"))
}

func TestInstantiateSnippetAppliesWhenValid(t *testing.T) {
	c, _, _, _ := newTestController(t)

	spec := &SnippetSpec{}
	spec.Processors = append(spec.Processors, struct {
		ID        string                 `mapstructure:"id"`
		Name      string                 `mapstructure:"name"`
		ClassName string                 `mapstructure:"className"`
		Config    map[string]interface{} `mapstructure:"config"`
	}{ID: "p1", Name: "p1", ClassName: "fake-processor", Config: map[string]interface{}{"token": "snippet-p1"}})

	require.NoError(t, c.InstantiateSnippet("root", spec))
	assert.True(t, c.Graph().IDInUse("p1"))
	require.NotNil(t, getFakeProcessor("snippet-p1"))
}

// TestInstantiateSnippetHoldsOneContinuousLockAcrossTheWholeBatch proves
// InstantiateSnippet's atomicity is actually enforced by a single lock
// span, not just by validation closing every foreseeable apply-time
// failure: a slow-resolving processor holds c.mu inside the apply loop
// long enough for this test to observe, from another goroutine, that the
// lock cannot be acquired until the whole batch — validation and apply —
// has finished.
func TestInstantiateSnippetHoldsOneContinuousLockAcrossTheWholeBatch(t *testing.T) {
	c, _, _, _ := newTestController(t)

	slowProcessorGate = make(chan struct{})

	spec := &SnippetSpec{}
	spec.Processors = append(spec.Processors, struct {
		ID        string                 `mapstructure:"id"`
		Name      string                 `mapstructure:"name"`
		ClassName string                 `mapstructure:"className"`
		Config    map[string]interface{} `mapstructure:"config"`
	}{ID: "slow-1", Name: "slow-1", ClassName: "slow-processor"})

	done := make(chan error, 1)
	go func() { done <- c.InstantiateSnippet("root", spec) }()

	// wait until InstantiateSnippet has acquired c.mu and is blocked
	// inside createProcessorLocked's Configure call, still holding it.
	deadline := time.Now().Add(time.Second)
	locked := false
	for time.Now().Before(deadline) {
		if c.mu.TryLock() {
			c.mu.Unlock()
			time.Sleep(time.Millisecond)
			continue
		}
		locked = true
		break
	}
	require.True(t, locked, "InstantiateSnippet never appeared to hold c.mu during its apply loop")

	close(slowProcessorGate)
	require.NoError(t, <-done)

	require.True(t, c.mu.TryLock(), "c.mu must be free once InstantiateSnippet has returned")
	c.mu.Unlock()
}

func TestUpdateProcessorConfigSkipsNoOpAndAppliesChange(t *testing.T) {
	c, _, _, _ := newTestController(t)

	_, err := c.CreateProcessor("p1", "p1", "root", "fake-processor", map[string]interface{}{"token": "update-p1"})
	require.NoError(t, err)
	proc := getFakeProcessor("update-p1")
	require.NotNil(t, proc)
	require.Equal(t, 1, proc.configureCalls)

	cfgA := map[string]interface{}{"token": "update-p1", "value": "a"}
	require.NoError(t, c.UpdateProcessorConfig("p1", cfgA))
	assert.Equal(t, 2, proc.configureCalls)

	require.NoError(t, c.UpdateProcessorConfig("p1", cfgA))
	assert.Equal(t, 2, proc.configureCalls, "identical config must not re-invoke Configure")

	cfgB := map[string]interface{}{"token": "update-p1", "value": "b"}
	require.NoError(t, c.UpdateProcessorConfig("p1", cfgB))
	assert.Equal(t, 3, proc.configureCalls)
}

func TestUpdateProcessorConfigRejectsRunningProcessor(t *testing.T) {
	c, _, _, _ := newTestController(t)

	_, err := c.CreateProcessor("p1", "p1", "root", "fake-processor", map[string]interface{}{"token": "running-p1"})
	require.NoError(t, err)
	require.NoError(t, c.EnableProcessor("p1"))
	require.NoError(t, c.StartProcessor("p1"))

	err = c.UpdateProcessorConfig("p1", map[string]interface{}{"value": "x"})
	assert.Error(t, err)

	require.NoError(t, c.StopProcessor("p1"))
}

func TestStartProcessorTriggersRepeatedlyUntilStopped(t *testing.T) {
	c, _, _, _ := newTestController(t)

	_, err := c.CreateProcessor("p1", "p1", "root", "fake-processor", map[string]interface{}{"token": "trigger-p1"})
	require.NoError(t, err)
	proc := getFakeProcessor("trigger-p1")
	require.NotNil(t, proc)

	conn, err := c.Graph().Connectable("p1")
	require.NoError(t, err)
	conn.SchedulingPeriod = "5ms"

	require.NoError(t, c.EnableProcessor("p1"))
	require.NoError(t, c.StartProcessor("p1"))

	assert.Eventually(t, func() bool { return proc.triggerCount() >= 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, proc.onScheduled)

	require.NoError(t, c.StopProcessor("p1"))
	seen := proc.triggerCount()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, seen, proc.triggerCount(), "stopping must suppress further dispatch")
	assert.Equal(t, 1, proc.onUnscheduled)
}

func TestTriggerCountRespectsMaxConcurrentTasks(t *testing.T) {
	c, _, _, _ := newTestController(t)

	release := make(chan struct{})
	entered := make(chan struct{}, 8)

	_, err := c.CreateProcessor("p1", "p1", "root", "fake-processor", map[string]interface{}{"token": "bound-p1"})
	require.NoError(t, err)
	proc := getFakeProcessor("bound-p1")
	require.NotNil(t, proc)
	proc.onTrigger = func(ctx context.Context, sess *session.Session) error {
		entered <- struct{}{}
		<-release
		return nil
	}

	conn, err := c.Graph().Connectable("p1")
	require.NoError(t, err)
	conn.SchedulingPeriod = "1ms"
	conn.MaxConcurrentTasks = 1

	require.NoError(t, c.EnableProcessor("p1"))
	require.NoError(t, c.StartProcessor("p1"))

	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatal("trigger never entered")
	}
	// with MaxConcurrentTasks=1 and the only slot held, no second
	// concurrent trigger may enter while the first is blocked.
	select {
	case <-entered:
		t.Fatal("a second concurrent trigger entered despite MaxConcurrentTasks=1")
	case <-time.After(30 * time.Millisecond):
	}
	close(release)
	require.NoError(t, c.StopProcessor("p1"))
}

func TestRemoveConnectableFiresOnRemovedAndClearsInstance(t *testing.T) {
	c, _, _, _ := newTestController(t)

	_, err := c.CreateProcessor("p1", "p1", "root", "fake-processor", map[string]interface{}{"token": "remove-p1"})
	require.NoError(t, err)
	proc := getFakeProcessor("remove-p1")
	require.NotNil(t, proc)

	require.NoError(t, c.RemoveConnectable("p1"))
	assert.Equal(t, 1, proc.onRemoved)
	assert.False(t, c.Graph().IDInUse("p1"))
}

func TestBackPressureClearsWhenThresholdRaised(t *testing.T) {
	c, _, _, _ := newTestController(t)

	_, err := c.CreateProcessor("src", "src", "root", "fake-processor", nil)
	require.NoError(t, err)
	_, err = c.CreateProcessor("dst", "dst", "root", "fake-processor", nil)
	require.NoError(t, err)

	conn, err := c.CreateConnection("c1", "root", "src", "dst", []string{"success"}, queue.Thresholds{MaxObjectCount: 1})
	require.NoError(t, err)

	conn.Queue.Put(flowfile.NewRecord(1, "a", contentclaim.Claim{}, 0, 10))
	assert.True(t, conn.Queue.IsFull())

	require.NoError(t, c.UpdateConnectionQueueThresholds("c1", queue.Thresholds{MaxObjectCount: 10}))
	assert.False(t, conn.Queue.IsFull())
}

// TestExpireQueuesReleasesClaimAndRecordsDropEvent is the regression test
// for flow-file expiration: a connection with a non-zero ExpirationPeriod
// must have its overdue entries swept, their content claims released,
// and a DROP provenance event recorded for each — the same cleanup
// Session.Commit performs for an ordinary drop, run here by the
// controller's own periodic sweep instead of a processor's trigger.
func TestExpireQueuesReleasesClaimAndRecordsDropEvent(t *testing.T) {
	c, flowfiles, provenance, _ := newTestController(t)

	_, err := c.CreateProcessor("src", "src", "root", "fake-processor", nil)
	require.NoError(t, err)
	_, err = c.CreateProcessor("dst", "dst", "root", "fake-processor", nil)
	require.NoError(t, err)

	conn, err := c.CreateConnection("expiring-conn", "root", "src", "dst", []string{"success"}, queue.Thresholds{ExpirationPeriod: time.Minute})
	require.NoError(t, err)

	claim := c.claims.NewClaim("src", "expired-uuid", "0", false)
	c.claims.Increment(claim)
	r := flowfile.NewRecord(1, "expired-uuid", claim, 0, 5)
	r.EntryTimestamp = time.Now().Add(-time.Hour)
	conn.Queue.Put(r)

	fresh := flowfile.NewRecord(2, "fresh-uuid", contentclaim.Claim{}, 0, 5)
	conn.Queue.Put(fresh)

	c.expireQueues()

	assert.EqualValues(t, 1, conn.Queue.Size().ObjectCount, "only the overdue entry must be swept")
	assert.EqualValues(t, 0, c.claims.Count(claim), "the expired entry's content claim must be released")

	require.Len(t, flowfiles.saved, 1)
	assert.Equal(t, "expired-uuid", flowfiles.saved[0].UUID)

	require.Len(t, provenance.registered, 1)
	assert.Equal(t, session.EventTypeDrop, provenance.registered[0].Type)
	assert.Equal(t, "expired-uuid", provenance.registered[0].FlowFileUUID)
	assert.Equal(t, "expired", provenance.registered[0].Attributes[flowfile.AttrDiscardReason])
}

func TestPrimaryNodeOnlyGatesDispatchOnSetPrimary(t *testing.T) {
	c, _, _, _ := newTestController(t)

	_, err := c.CreateProcessor("p1", "p1", "root", "fake-processor", map[string]interface{}{"token": "primary-p1"})
	require.NoError(t, err)
	proc := getFakeProcessor("primary-p1")
	require.NotNil(t, proc)

	conn, err := c.Graph().Connectable("p1")
	require.NoError(t, err)
	conn.SchedulingPeriod = "5ms"
	conn.SchedulingStrategy = graph.StrategyPrimaryOnly

	c.SetClustered(true)
	c.SetPrimary(false)

	require.NoError(t, c.EnableProcessor("p1"))
	require.NoError(t, c.StartProcessor("p1"))

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 0, proc.triggerCount(), "a non-primary node must never dispatch a primary-only component")

	c.SetPrimary(true)
	assert.Eventually(t, func() bool { return proc.triggerCount() > 0 }, time.Second, 5*time.Millisecond)

	require.NoError(t, c.StopProcessor("p1"))
}

func TestReplayReconstructsAndNotifiesDestination(t *testing.T) {
	c, flowfiles, provenance, _ := newTestController(t)

	_, err := c.CreateProcessor("src", "src", "root", "fake-processor", nil)
	require.NoError(t, err)
	_, err = c.CreateProcessor("dst", "dst", "root", "fake-processor", nil)
	require.NoError(t, err)
	_, err = c.CreateConnection("conn-1", "root", "src", "dst", []string{"success"}, queue.Thresholds{})
	require.NoError(t, err)

	claim := contentclaim.Claim{Container: "c", Section: "s", Identifier: "1"}
	provenance.events[1] = repository.ProvenanceEvent{
		ID: 1, Type: "CREATE", FlowFileUUID: "parent",
		PreviousClaim: &claim, SourceQueueID: "conn-1",
	}

	require.NoError(t, c.Replay(1))
	assert.Len(t, flowfiles.saved, 1)

	conn, err := c.Graph().Connection("conn-1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, conn.Queue.Size().ObjectCount)
}

func TestHeartbeatSnapshotReflectsAggregatedStatus(t *testing.T) {
	c, _, _, _ := newTestController(t)

	_, err := c.CreateProcessor("p1", "p1", "root", "fake-processor", nil)
	require.NoError(t, err)

	threads, objects, bytes, payload, diagnostics := c.heartbeatSnapshot()
	assert.GreaterOrEqual(t, threads, 0)
	assert.GreaterOrEqual(t, objects, int64(0))
	assert.GreaterOrEqual(t, bytes, int64(0))
	assert.Nil(t, payload)
	assert.NotNil(t, diagnostics)
}

func TestShutdownStopsRunningComponents(t *testing.T) {
	c, _, _, _ := newTestController(t)

	_, err := c.CreateProcessor("p1", "p1", "root", "fake-processor", map[string]interface{}{"token": "shutdown-p1"})
	require.NoError(t, err)
	proc := getFakeProcessor("shutdown-p1")
	require.NotNil(t, proc)

	conn, err := c.Graph().Connectable("p1")
	require.NoError(t, err)
	conn.SchedulingPeriod = "5ms"

	require.NoError(t, c.EnableProcessor("p1"))
	require.NoError(t, c.StartProcessor("p1"))
	assert.Eventually(t, func() bool { return proc.triggerCount() > 0 }, time.Second, 5*time.Millisecond)

	require.NoError(t, c.Shutdown(true))
	assert.Equal(t, graph.StateStopped, conn.ScheduledState)
}
