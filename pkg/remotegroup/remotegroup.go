// Package remotegroup implements the remote-process-group refresh and
// transmit subsystem of SPEC_FULL.md §4.11: a periodic task that
// discovers a remote controller's port descriptors over the same gRPC
// transport the heartbeat subsystem uses for the cluster manager, and a
// transmit path that ships a batch of flow-file content to one of those
// ports honoring the remote group's communicationsTimeout.
package remotegroup

import (
	"context"
	"sync"
	"time"

	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"

	"github.com/flowctl/core/pkg/graph"
	"github.com/flowctl/core/pkg/grpctransport"
	"github.com/flowctl/core/pkg/utils/retry"
)

// Dialer opens a transport client to a remote process group's target URI.
// Tests substitute a fake; production wires grpctransport.Dial.
type Dialer func(targetURI string) (*grpctransport.Client, error)

// Refresher periodically discovers remote port descriptors for every
// remote process group in the graph and serves Transmit on demand.
type Refresher struct {
	g      *graph.Graph
	dial   Dialer
	period time.Duration

	mu      sync.Mutex
	clients map[string]*grpctransport.Client

	cancel context.CancelFunc
}

// New constructs a Refresher. period is the cadence of the periodic
// refresh pass.
func New(g *graph.Graph, dial Dialer, period time.Duration) *Refresher {
	return &Refresher{g: g, dial: dial, period: period, clients: make(map[string]*grpctransport.Client)}
}

// Start begins the periodic refresh task. Idempotent: a second Start
// stops the first.
func (r *Refresher) Start(rootGroupID string) {
	r.Stop()
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	go func() {
		ticker := time.NewTicker(r.period)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.refreshAll(rootGroupID)
			}
		}
	}()
}

// Stop cancels the periodic refresh task, if running.
func (r *Refresher) Stop() {
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
}

func (r *Refresher) refreshAll(rootGroupID string) {
	pg, err := r.g.Group(rootGroupID)
	if err != nil {
		return
	}
	r.refreshGroup(pg)
}

func (r *Refresher) refreshGroup(pg *graph.ProcessGroup) {
	for id := range pg.RemoteGroups {
		rpg, err := r.g.RemoteProcessGroup(id)
		if err != nil {
			continue
		}
		if err := r.refreshOne(rpg); err != nil {
			// a single unreachable remote must not block the refresh pass of
			// the other remote groups, mirroring updateRemoteProcessGroups'
			// swallow-per-remote-error behaviour (§4.11).
			log.Warnf("[remotegroup] refresh of %s (%s) failed: %v", rpg.ID, rpg.TargetURI, err)
		}
	}
	for id := range pg.SubGroups {
		child, err := r.g.Group(id)
		if err != nil {
			continue
		}
		r.refreshGroup(child)
	}
}

func (r *Refresher) client(targetURI string) (*grpctransport.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.clients[targetURI]; ok {
		return c, nil
	}
	c, err := r.dial(targetURI)
	if err != nil {
		return nil, errors.Trace(err)
	}
	r.clients[targetURI] = c
	return c, nil
}

// refreshOne discovers rpg's current port descriptors, retrying a
// transient dial/RPC failure with backoff before giving up for this pass -
// remote controllers are frequently mid-restart, and one missed refresh
// cycle is cheap compared to flapping lastKnownError on every blip.
func (r *Refresher) refreshOne(rpg *graph.RemoteProcessGroup) error {
	timeout := rpg.CommunicationsTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	var resp *grpctransport.RefreshResponse
	err := retry.Do(func() error {
		c, dialErr := r.client(rpg.TargetURI)
		if dialErr != nil {
			return dialErr
		}
		var callErr error
		resp, callErr = c.Refresh(context.Background(), timeout)
		return callErr
	}, 3, 500*time.Millisecond)

	if err != nil {
		rpg.LastKnownError = err.Error()
		return errors.Trace(err)
	}

	rpg.LastRefreshed = time.Now()
	rpg.LastKnownError = ""
	rpg.InputPorts = make([]graph.RemotePortDescriptor, 0, len(resp.InputPorts))
	for _, p := range resp.InputPorts {
		rpg.InputPorts = append(rpg.InputPorts, graph.RemotePortDescriptor{ID: p.ID, Name: p.Name})
	}
	rpg.OutputPorts = make([]graph.RemotePortDescriptor, 0, len(resp.OutputPorts))
	for _, p := range resp.OutputPorts {
		rpg.OutputPorts = append(rpg.OutputPorts, graph.RemotePortDescriptor{ID: p.ID, Name: p.Name})
	}
	return nil
}

// Transmit sends a batch of flow-file content to portID on rpg, honoring
// its communicationsTimeout. A failure sets LastKnownAuthorizationIssue
// and is returned to the caller (the scheduling agent, via its trigger)
// but never raised as a panic — callers decide whether to penalise.
func (r *Refresher) Transmit(rpg *graph.RemoteProcessGroup, portID string, entries []grpctransport.TransmitEntry) error {
	timeout := rpg.CommunicationsTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c, err := r.client(rpg.TargetURI)
	if err != nil {
		rpg.LastKnownAuthorizationIssue = err.Error()
		return errors.Trace(err)
	}
	if err := c.Transmit(context.Background(), timeout, portID, entries); err != nil {
		rpg.LastKnownAuthorizationIssue = err.Error()
		return errors.Trace(err)
	}
	rpg.LastKnownAuthorizationIssue = ""
	return nil
}

// Close closes every cached client connection.
func (r *Refresher) Close() {
	r.Stop()
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.clients {
		_ = c.Close()
	}
	r.clients = make(map[string]*grpctransport.Client)
}
