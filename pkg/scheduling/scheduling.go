// Package scheduling implements the four scheduling agents of §4.3: timer-
// driven, CRON-driven, event-driven, and primary-node-only. Each strategy
// binds to one of the two worker pools (event-driven to the event pool,
// everything else to the timer pool) and is responsible for the
// back-pressure check, yield, and penalisation semantics before every
// dispatch.
package scheduling

import (
	"context"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"github.com/flowctl/core/pkg/eventqueue"
	"github.com/flowctl/core/pkg/graph"
	"github.com/flowctl/core/pkg/metrics"
	"github.com/flowctl/core/pkg/workerpool"
)

// TriggerFunc runs one invocation of a component's processing logic. A
// non-nil error is treated as a failed processing attempt and triggers
// penalisation (§4.3).
type TriggerFunc func(ctx context.Context, g *graph.Graph, c *graph.Connectable) error

type scheduledEntry struct {
	cancel  context.CancelFunc
	cronID  cron.EntryID
	hasCron bool
}

// Scheduler owns the four agents. It does not itself hold the controller's
// reader-writer lock — callers (the controller façade) are responsible for
// that; the scheduler only reads graph state it has been handed and trusts
// it not to be concurrently mutated out from under a dispatch decision
// beyond what the graph package's own data-race-free accessors guarantee.
type Scheduler struct {
	controllerID string

	g *graph.Graph

	timerPool *workerpool.Pool
	eventPool *workerpool.Pool
	eventQ    *eventqueue.Queue
	cron      *cron.Cron

	trigger TriggerFunc

	minimumPeriod time.Duration

	mu       sync.Mutex
	entries  map[string]*scheduledEntry
	yieldUntil      map[string]time.Time
	penalizedUntil  map[string]time.Time

	isPrimary bool

	eventWorkersCancel context.CancelFunc
}

// New constructs a scheduler. minimumPeriod floors any timer-driven or
// primary-only period (flowcontroller.minimum.nanoseconds, §6).
func New(controllerID string, g *graph.Graph, timerPool, eventPool *workerpool.Pool, eventQ *eventqueue.Queue, trigger TriggerFunc, minimumPeriod time.Duration) *Scheduler {
	s := &Scheduler{
		controllerID:   controllerID,
		g:              g,
		timerPool:      timerPool,
		eventPool:      eventPool,
		eventQ:         eventQ,
		cron:           cron.New(),
		trigger:        trigger,
		minimumPeriod:  minimumPeriod,
		entries:        make(map[string]*scheduledEntry),
		yieldUntil:     make(map[string]time.Time),
		penalizedUntil: make(map[string]time.Time),
	}
	s.cron.Start()
	return s
}

// SetPrimary updates the node's primary flag; primary-node-only agents
// gate on it immediately and the event queue drops primary-only offers
// while it is false (§4.3/§4.4).
func (s *Scheduler) SetPrimary(primary bool) {
	s.mu.Lock()
	s.isPrimary = primary
	s.mu.Unlock()
	s.eventQ.SetPrimary(primary)
}

// Yield excludes c from scheduling for its configured yield period, the
// back-pressure response of §4.3.
func (s *Scheduler) Yield(c *graph.Connectable) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.yieldUntil[c.ID] = time.Now().Add(c.YieldPeriod)
	metrics.QueueBackPressureCounter.WithLabelValues(s.controllerID, c.ID).Inc()
}

// Penalize suppresses further triggers of c until its penalisation period
// expires, the self-applied cooldown after a failed processing attempt.
func (s *Scheduler) Penalize(c *graph.Connectable) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.penalizedUntil[c.ID] = time.Now().Add(c.PenalizationPeriod)
	metrics.AgentPenalizedGauge.WithLabelValues(s.controllerID, c.ID).Set(1)
}

func (s *Scheduler) isSuppressed(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	if until, ok := s.yieldUntil[id]; ok && now.Before(until) {
		return true
	}
	if until, ok := s.penalizedUntil[id]; ok {
		if now.Before(until) {
			return true
		}
		delete(s.penalizedUntil, id)
		metrics.AgentPenalizedGauge.WithLabelValues(s.controllerID, id).Set(0)
	}
	return false
}

// Schedule begins dispatching c according to its SchedulingStrategy. c
// must already be Running.
func (s *Scheduler) Schedule(c *graph.Connectable) error {
	s.mu.Lock()
	if _, already := s.entries[c.ID]; already {
		s.mu.Unlock()
		return errors.AlreadyExistsf("schedule entry for %q", c.ID)
	}
	s.mu.Unlock()

	switch c.SchedulingStrategy {
	case graph.StrategyTimerDriven:
		return s.scheduleTimer(c, false)
	case graph.StrategyPrimaryOnly:
		return s.scheduleTimer(c, true)
	case graph.StrategyCronDriven:
		return s.scheduleCron(c)
	case graph.StrategyEventDriven:
		return s.scheduleEvent(c)
	default:
		return errors.Errorf("unknown scheduling strategy %q", c.SchedulingStrategy)
	}
}

// Unschedule stops dispatching c, whatever strategy it used.
func (s *Scheduler) Unschedule(c *graph.Connectable) {
	s.mu.Lock()
	entry, ok := s.entries[c.ID]
	if ok {
		delete(s.entries, c.ID)
	}
	delete(s.yieldUntil, c.ID)
	delete(s.penalizedUntil, c.ID)
	s.mu.Unlock()

	if !ok {
		return
	}
	if entry.hasCron {
		s.cron.Remove(entry.cronID)
	}
	if entry.cancel != nil {
		entry.cancel()
	}
	s.eventQ.Remove(c.ID)
}

func (s *Scheduler) period(c *graph.Connectable) (time.Duration, error) {
	d, err := time.ParseDuration(c.SchedulingPeriod)
	if err != nil {
		return 0, errors.Annotatef(err, "scheduling period %q", c.SchedulingPeriod)
	}
	if d < s.minimumPeriod {
		d = s.minimumPeriod
	}
	return d, nil
}

func (s *Scheduler) scheduleTimer(c *graph.Connectable, primaryOnly bool) error {
	period, err := s.period(c)
	if err != nil {
		return errors.Trace(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.entries[c.ID] = &scheduledEntry{cancel: cancel}
	s.mu.Unlock()

	go func() {
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if primaryOnly {
					s.mu.Lock()
					primary := s.isPrimary
					s.mu.Unlock()
					if !primary {
						continue
					}
				}
				s.dispatch(s.timerPool, c)
			}
		}
	}()
	return nil
}

func (s *Scheduler) scheduleCron(c *graph.Connectable) error {
	id, err := s.cron.AddFunc(c.SchedulingPeriod, func() {
		s.dispatch(s.timerPool, c)
	})
	if err != nil {
		return errors.Annotatef(err, "cron expression %q", c.SchedulingPeriod)
	}
	s.mu.Lock()
	s.entries[c.ID] = &scheduledEntry{cronID: id, hasCron: true}
	s.mu.Unlock()
	return nil
}

func (s *Scheduler) scheduleEvent(c *graph.Connectable) error {
	s.mu.Lock()
	s.entries[c.ID] = &scheduledEntry{cancel: func() {}}
	s.mu.Unlock()
	if c.SchedulingStrategy == graph.StrategyPrimaryOnly {
		s.eventQ.MarkPrimaryOnly(c.ID)
	}
	if s.g.AnyInboundNonEmpty(c) {
		s.eventQ.Offer(c.ID)
	}
	return nil
}

// RunEventWorkers starts n goroutines pulling ready event-driven
// components off the event queue and dispatching them on the event pool.
// Call once after the scheduler and event pool are constructed.
func (s *Scheduler) RunEventWorkers(n int) {
	ctx, cancel := context.WithCancel(context.Background())
	s.eventWorkersCancel = cancel
	for i := 0; i < n; i++ {
		go func() {
			for {
				id, ok := s.eventQ.Poll(ctx)
				if !ok {
					return
				}
				c, err := s.g.Connectable(id)
				if err != nil {
					continue
				}
				s.dispatch(s.eventPool, c)
				s.eventQ.ReconsiderAfterTrigger(s.g, c)
			}
		}()
	}
}

// StopEventWorkers stops the event-worker goroutines started by
// RunEventWorkers.
func (s *Scheduler) StopEventWorkers() {
	if s.eventWorkersCancel != nil {
		s.eventWorkersCancel()
	}
}

// NotifyReady offers c to the event queue if it uses the event-driven
// strategy and has become ready; the controller calls this whenever a
// flow-file is enqueued onto one of c's inbound connections.
func (s *Scheduler) NotifyReady(c *graph.Connectable) {
	if c.SchedulingStrategy == graph.StrategyEventDriven {
		s.eventQ.Offer(c.ID)
	}
}

// dispatch runs the back-pressure check, the dispatch-slot compare-and-
// increment, and submits the trigger to pool if both pass.
func (s *Scheduler) dispatch(pool *workerpool.Pool, c *graph.Connectable) {
	if c.ScheduledState != graph.StateRunning {
		return
	}
	if s.isSuppressed(c.ID) {
		return
	}
	if s.g.AnyOutboundFull(c) {
		s.Yield(c)
		return
	}
	if !c.TryAcquireTrigger() {
		return
	}

	poolName := poolLabelName(pool)
	metrics.PoolActiveJobsGauge.WithLabelValues(s.controllerID, poolName).Inc()
	pool.Submit(func(ctx context.Context) {
		defer c.ReleaseTrigger()
		defer metrics.PoolActiveJobsGauge.WithLabelValues(s.controllerID, poolName).Dec()

		start := time.Now()
		err := s.trigger(ctx, s.g, c)
		metrics.AgentTriggerLatency.WithLabelValues(s.controllerID, c.ID).Observe(time.Since(start).Seconds())
		metrics.AgentTriggerCounter.WithLabelValues(s.controllerID, c.ID, string(c.SchedulingStrategy)).Inc()

		if err != nil {
			log.Warnf("[scheduling] component %s trigger failed, penalising: %v", c.ID, errors.ErrorStack(err))
			s.Penalize(c)
		}
	})
}

func poolLabelName(pool *workerpool.Pool) string {
	return pool.Name()
}

// Close stops the cron scheduler and event workers. Worker pool shutdown
// is the caller's responsibility (§4.3's shutdown(kill) owns pool drain).
func (s *Scheduler) Close() {
	s.cron.Stop()
	s.StopEventWorkers()
}
