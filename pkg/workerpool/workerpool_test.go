package workerpool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSubmitRunsJobOnAWorker(t *testing.T) {
	p := New("test", 2, 4)
	defer p.Kill()

	var ran atomic.Bool
	done := make(chan struct{})
	p.Submit(func(ctx context.Context) {
		ran.Store(true)
		close(done)
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("job did not run within timeout")
	}
	assert.True(t, ran.Load())
}

func TestNameReturnsConfiguredLabel(t *testing.T) {
	p := New("event", 1, 1)
	defer p.Kill()
	assert.Equal(t, "event", p.Name())
}

func TestResizeGrowsWorkerCount(t *testing.T) {
	p := New("test", 1, 8)
	defer p.Kill()

	p.Resize(3)
	assert.Equal(t, 3, p.Size())

	var wg sync.WaitGroup
	wg.Add(3)
	for i := 0; i < 3; i++ {
		p.Submit(func(ctx context.Context) {
			time.Sleep(50 * time.Millisecond)
			wg.Done()
		})
	}

	doneAll := make(chan struct{})
	go func() {
		wg.Wait()
		close(doneAll)
	}()
	select {
	case <-doneAll:
	case <-time.After(time.Second):
		t.Fatal("jobs did not complete concurrently within timeout")
	}
}

func TestDrainWaitsForInFlightJobs(t *testing.T) {
	p := New("test", 1, 4)

	var ran atomic.Bool
	p.Submit(func(ctx context.Context) {
		time.Sleep(20 * time.Millisecond)
		ran.Store(true)
	})

	clean := p.Drain(time.Second)
	assert.True(t, clean)
	assert.True(t, ran.Load())
}

func TestDrainTimesOutWhenWorkerHangs(t *testing.T) {
	p := New("test", 1, 4)

	block := make(chan struct{})
	p.Submit(func(ctx context.Context) {
		<-block
	})

	clean := p.Drain(30 * time.Millisecond)
	assert.False(t, clean)
	close(block)
}

func TestTrySubmitFailsWhenQueueFull(t *testing.T) {
	p := New("test", 1, 1)
	defer p.Kill()

	block := make(chan struct{})
	p.Submit(func(ctx context.Context) { <-block })
	ok := p.TrySubmit(func(ctx context.Context) {})
	for i := 0; i < 10 && ok; i++ {
		ok = p.TrySubmit(func(ctx context.Context) {})
	}
	assert.False(t, ok)
	close(block)
}

func TestKillCancelsContextPassedToJobs(t *testing.T) {
	p := New("test", 1, 1)

	seenDone := make(chan bool, 1)
	started := make(chan struct{})
	p.Submit(func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		seenDone <- true
	})
	<-started
	p.Kill()

	select {
	case v := <-seenDone:
		assert.True(t, v)
	case <-time.After(time.Second):
		t.Fatal("job never observed context cancellation")
	}
}
