// Package heartbeat implements the clustered heartbeat subsystem of
// §4.6: three cooperating periodic tasks — generator, sender, bulletins —
// built around a single-slot atomic overwrite cell instead of a queue, per
// the design note that a dropped-but-superseded heartbeat is correct
// behaviour, not data loss.
package heartbeat

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/flowctl/core/pkg/metrics"
	"github.com/flowctl/core/pkg/repository"
)

// Bean is the immutable snapshot swapped atomically whenever the root
// group, primary flag, or connected flag changes (§3).
type Bean struct {
	RootGroupID string
	IsPrimary   bool
	IsConnected bool
}

// BeanHolder is the single-writer/single-reader cell the generator reads
// from; the controller calls Set whenever any of the three fields change.
type BeanHolder struct {
	v atomic.Value
}

// NewBeanHolder constructs a holder seeded with an empty bean.
func NewBeanHolder() *BeanHolder {
	h := &BeanHolder{}
	h.v.Store(Bean{})
	return h
}

func (h *BeanHolder) Get() Bean       { return h.v.Load().(Bean) }
func (h *BeanHolder) Set(b Bean)      { h.v.Store(b) }

// StatusSnapshotFunc builds the payload fields the generator does not own
// itself: active thread count, queued totals, group status tree, system
// diagnostics. Supplied by the controller, which has the graph and status
// aggregator.
type StatusSnapshotFunc func() (activeThreads int, queuedObjects, queuedBytes int64, groupStatusPayload []byte, diagnostics map[string]interface{})

// messageCell is the single-slot atomic overwrite cell of §4.6's design
// note: store-unconditional by the generator, swap-and-take by the sender.
type messageCell struct {
	mu  sync.Mutex
	msg *repository.HeartbeatMessage
}

// store reports whether it overwrote a message the sender had not yet taken.
func (c *messageCell) store(msg repository.HeartbeatMessage) bool {
	c.mu.Lock()
	overwrote := c.msg != nil
	c.msg = &msg
	c.mu.Unlock()
	return overwrote
}

func (c *messageCell) take() *repository.HeartbeatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	msg := c.msg
	c.msg = nil
	return msg
}

// Subsystem owns the three periodic tasks and can be started/stopped
// idempotently (§4.6's startHeartbeating/stopHeartbeating).
type Subsystem struct {
	controllerID string
	bean         *BeanHolder
	snapshot     StatusSnapshotFunc
	sender       repository.NodeProtocolSender
	bulletins    repository.BulletinRepository

	generatorPeriod time.Duration
	senderPeriod    time.Duration
	bulletinsPeriod time.Duration

	startTime time.Time

	cell messageCell

	mu      sync.Mutex
	cancel  context.CancelFunc
	running bool
	suspended int32
}

// New constructs a heartbeat subsystem. generatorPeriod is
// heartbeatDelaySeconds (§4.6); sender and bulletins periods are fixed at
// 250ms and 2s respectively.
func New(controllerID string, bean *BeanHolder, snapshot StatusSnapshotFunc, sender repository.NodeProtocolSender, bulletins repository.BulletinRepository, generatorPeriod time.Duration) *Subsystem {
	return &Subsystem{
		controllerID:    controllerID,
		bean:            bean,
		snapshot:        snapshot,
		sender:          sender,
		bulletins:       bulletins,
		generatorPeriod: generatorPeriod,
		senderPeriod:    250 * time.Millisecond,
		bulletinsPeriod: 2 * time.Second,
		startTime:       time.Now(),
	}
}

// Suspend stops the sender from transmitting without stopping generation,
// the "suspended" check of §4.6 step 2.
func (s *Subsystem) Suspend() { atomic.StoreInt32(&s.suspended, 1) }

// Resume re-enables the sender.
func (s *Subsystem) Resume() { atomic.StoreInt32(&s.suspended, 0) }

func (s *Subsystem) isSuspended() bool { return atomic.LoadInt32(&s.suspended) != 0 }

// Start begins all three periodic tasks. Idempotent over Stop: it stops
// any previously running tasks first, matching the
// startHeartbeating-always-calls-stopHeartbeating-first invariant.
func (s *Subsystem) Start() {
	s.Stop()

	s.mu.Lock()
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.running = true
	s.mu.Unlock()

	go s.runPeriodic(ctx, s.generatorPeriod, s.generate)
	go s.runPeriodic(ctx, s.senderPeriod, s.send)
	go s.runPeriodic(ctx, s.bulletinsPeriod, s.drainBulletins)
}

// Stop cancels all three tasks if running.
func (s *Subsystem) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.cancel()
	s.running = false
}

// runPeriodic wraps body in an exception barrier (a panic is logged, not
// propagated) so one failure never cancels the schedule, per §7's
// periodic-task error handling rule.
func (s *Subsystem) runPeriodic(ctx context.Context, period time.Duration, body func()) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			func() {
				defer func() {
					if r := recover(); r != nil {
						log.Errorf("[heartbeat] periodic task panicked: %v", r)
					}
				}()
				body()
			}()
		}
	}
}

func (s *Subsystem) generate() {
	bean := s.bean.Get()
	activeThreads, queuedObjects, queuedBytes, groupStatus, diagnostics := s.snapshot()

	msg := repository.HeartbeatMessage{
		NodeID:              s.controllerID,
		SystemStartTime:     s.startTime,
		ActiveThreadCount:   activeThreads,
		TotalQueuedObjects:  queuedObjects,
		TotalQueuedBytes:    queuedBytes,
		SystemDiagnostics:   diagnostics,
		GroupStatusPayload:  groupStatus,
		SiteToSiteListening: bean.IsConnected,
	}
	if s.cell.store(msg) {
		metrics.HeartbeatDroppedCounter.WithLabelValues(s.controllerID).Inc()
	}
	metrics.HeartbeatGeneratedCounter.WithLabelValues(s.controllerID).Inc()
}

func (s *Subsystem) send() {
	if s.isSuspended() {
		return
	}
	msg := s.cell.take()
	if msg == nil {
		return
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), s.senderPeriod*4)
	defer cancel()

	err := s.sender.Heartbeat(ctx, *msg)
	metrics.HeartbeatSendLatency.WithLabelValues(s.controllerID).Observe(time.Since(start).Seconds())

	if err != nil {
		if _, unknownAddr := err.(*repository.ErrUnknownServiceAddress); unknownAddr {
			log.Debugf("[heartbeat] sender: %v", err)
		} else {
			log.Debugf("[heartbeat] transport failure: %v", err)
		}
		return
	}
	metrics.HeartbeatSentCounter.WithLabelValues(s.controllerID).Inc()
}

func (s *Subsystem) drainBulletins() {
	drained := s.bulletins.Drain(1000)
	if len(drained) == 0 {
		return
	}

	msg := repository.BulletinsMessage{NodeID: s.controllerID, Bulletins: make([]repository.Bulletin, len(drained))}
	for i, b := range drained {
		b.Message = escapeXMLIllegal(b.Message)
		msg.Bulletins[i] = b
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.bulletinsPeriod*2)
	defer cancel()
	if err := s.sender.SendBulletins(ctx, msg); err != nil {
		log.Debugf("[heartbeat] bulletins transport failure: %v", err)
	}
}

// escapeXMLIllegal replaces any character below 0x20 other than tab, LF,
// CR with '?' (§4.6).
func escapeXMLIllegal(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c < 0x20 && c != 0x09 && c != 0x0A && c != 0x0D {
			b[i] = '?'
		}
	}
	return string(b)
}
