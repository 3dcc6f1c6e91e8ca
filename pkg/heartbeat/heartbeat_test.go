package heartbeat_test

import (
	"context"
	"sync"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/flowctl/core/pkg/heartbeat"
	"github.com/flowctl/core/pkg/repository"
)

type fakeSender struct {
	mu         sync.Mutex
	heartbeats []repository.HeartbeatMessage
	bulletins  []repository.BulletinsMessage
}

func (f *fakeSender) Heartbeat(ctx context.Context, msg repository.HeartbeatMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.heartbeats = append(f.heartbeats, msg)
	return nil
}

func (f *fakeSender) SendBulletins(ctx context.Context, msg repository.BulletinsMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bulletins = append(f.bulletins, msg)
	return nil
}

func (f *fakeSender) heartbeatCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.heartbeats)
}

func (f *fakeSender) lastHeartbeat() repository.HeartbeatMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.heartbeats[len(f.heartbeats)-1]
}

func (f *fakeSender) bulletinCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.bulletins)
}

type fakeBulletins struct {
	mu      sync.Mutex
	pending []repository.Bulletin
}

func (f *fakeBulletins) Add(b repository.Bulletin) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending = append(f.pending, b)
}

func (f *fakeBulletins) Drain(max int) []repository.Bulletin {
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

func (f *fakeBulletins) SetOverride(func(repository.Bulletin)) {}

func noopSnapshot() (int, int64, int64, []byte, map[string]interface{}) {
	return 3, 10, 100, nil, nil
}

var _ = Describe("Subsystem", func() {
	var (
		sender    *fakeSender
		bulletins *fakeBulletins
		bean      *heartbeat.BeanHolder
		sub       *heartbeat.Subsystem
	)

	BeforeEach(func() {
		sender = &fakeSender{}
		bulletins = &fakeBulletins{}
		bean = heartbeat.NewBeanHolder()
	})

	AfterEach(func() {
		if sub != nil {
			sub.Stop()
		}
	})

	Context("once started", func() {
		BeforeEach(func() {
			bean.Set(heartbeat.Bean{RootGroupID: "root", IsPrimary: true, IsConnected: true})
			sub = heartbeat.New("controller-1", bean, noopSnapshot, sender, bulletins, 5*time.Millisecond)
			sub.Start()
		})

		It("periodically transmits a heartbeat reflecting the current bean", func() {
			Eventually(sender.heartbeatCount, time.Second, 5*time.Millisecond).Should(BeNumerically(">", 0))
			msg := sender.lastHeartbeat()
			Expect(msg.NodeID).To(Equal("controller-1"))
			Expect(msg.ActiveThreadCount).To(Equal(3))
			Expect(msg.SiteToSiteListening).To(BeTrue())
		})

		It("stops transmitting once suspended and resumes on demand", func() {
			Eventually(sender.heartbeatCount, time.Second, 5*time.Millisecond).Should(BeNumerically(">", 0))
			sub.Suspend()
			countAtSuspend := sender.heartbeatCount()
			time.Sleep(30 * time.Millisecond)
			Expect(sender.heartbeatCount()).To(Equal(countAtSuspend), "suspended sender must not transmit further heartbeats")

			sub.Resume()
			Eventually(sender.heartbeatCount, time.Second, 5*time.Millisecond).Should(BeNumerically(">", countAtSuspend))
		})

		It("is idempotent to start and cleanly stoppable", func() {
			sub.Start() // restarting must not leak a second set of tasks
			Eventually(sender.heartbeatCount, time.Second, 5*time.Millisecond).Should(BeNumerically(">", 0))

			sub.Stop()
			countAtStop := sender.heartbeatCount()
			time.Sleep(30 * time.Millisecond)
			Expect(sender.heartbeatCount()).To(Equal(countAtStop), "a stopped subsystem must not keep transmitting")
		})
	})

	Context("with a pending bulletin containing an illegal XML character", func() {
		BeforeEach(func() {
			bulletins.Add(repository.Bulletin{Message: "bad\x01char"})
			sub = heartbeat.New("controller-1", bean, noopSnapshot, sender, bulletins, time.Hour)
			sub.Start()
		})

		It("drains and transmits it with the illegal character escaped", func() {
			// bulletinsPeriod is fixed at 2s regardless of the constructor's
			// generatorPeriod argument, so this waits out a real tick.
			Eventually(sender.bulletinCount, 3*time.Second, 50*time.Millisecond).Should(BeNumerically(">", 0))
			sender.mu.Lock()
			defer sender.mu.Unlock()
			Expect(sender.bulletins[0].Bulletins).To(HaveLen(1))
			Expect(sender.bulletins[0].Bulletins[0].Message).To(Equal("bad?char"))
		})
	})
})
