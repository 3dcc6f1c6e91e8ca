// Package state implements the per-connectable scheduled-state machine of
// §4.2: Disabled -> Stopped -> Running, plus the verifyCanStart /
// verifyCanStop / verifyCanDelete predicates the controller façade calls
// before committing a transition.
package state

import (
	"github.com/juju/errors"

	"github.com/flowctl/core/pkg/graph"
)

// VerifyCanStart reports why c cannot be started, or nil if it can. It does
// not mutate c.
func VerifyCanStart(c *graph.Connectable) error {
	switch c.ScheduledState {
	case graph.StateRunning:
		return errors.NewNotValid(nil, "component is already running")
	case graph.StateDisabled:
		return errors.NewNotValid(nil, "component is disabled")
	}
	if err := c.Valid(); err != nil {
		return errors.Annotate(err, "component is not valid")
	}
	return nil
}

// VerifyCanStop reports why c cannot be stopped, or nil if it can.
func VerifyCanStop(c *graph.Connectable) error {
	if c.ScheduledState != graph.StateRunning {
		return errors.NewNotValid(nil, "component is not running")
	}
	return nil
}

// VerifyCanEnable reports why c cannot be enabled, or nil if it can.
func VerifyCanEnable(c *graph.Connectable) error {
	if c.ScheduledState != graph.StateDisabled {
		return errors.NewNotValid(nil, "component is not disabled")
	}
	return nil
}

// VerifyCanDisable reports why c cannot be disabled, or nil if it can.
// Disabling a running component is rejected per §4.2's transition table.
func VerifyCanDisable(c *graph.Connectable) error {
	if c.ScheduledState == graph.StateRunning {
		return errors.NewNotValid(nil, "cannot disable a running component")
	}
	if c.ScheduledState == graph.StateDisabled {
		return errors.NewNotValid(nil, "component is already disabled")
	}
	return nil
}

// VerifyCanDelete reports why c cannot be removed, or nil if it can:
// running components must be stopped first, and any attached connection
// must be empty (§3's removal invariant).
func VerifyCanDelete(c *graph.Connectable) error {
	if c.ScheduledState == graph.StateRunning {
		return errors.NewNotValid(nil, "component is running, stop it before deletion")
	}
	if len(c.Inbound) != 0 || len(c.Outbound) != 0 {
		return errors.NewNotValid(nil, "component still has attached connections")
	}
	return nil
}

// VerifyCanDeleteConnection reports why conn cannot be removed, or nil if
// it can: its queue must be empty.
func VerifyCanDeleteConnection(conn *graph.Connection) error {
	if conn.Queue.Size().ObjectCount != 0 {
		return errors.NewNotValid(nil, "connection queue is not empty")
	}
	return nil
}

// Enable transitions c from Disabled to Stopped.
func Enable(c *graph.Connectable) error {
	if err := VerifyCanEnable(c); err != nil {
		return errors.Trace(err)
	}
	c.ScheduledState = graph.StateStopped
	return nil
}

// Disable transitions c from Stopped to Disabled.
func Disable(c *graph.Connectable) error {
	if err := VerifyCanDisable(c); err != nil {
		return errors.Trace(err)
	}
	c.ScheduledState = graph.StateDisabled
	return nil
}

// Start transitions c from Stopped to Running.
func Start(c *graph.Connectable) error {
	if err := VerifyCanStart(c); err != nil {
		return errors.Trace(err)
	}
	c.ScheduledState = graph.StateRunning
	return nil
}

// Stop transitions c from Running to Stopped.
func Stop(c *graph.Connectable) error {
	if err := VerifyCanStop(c); err != nil {
		return errors.Trace(err)
	}
	c.ScheduledState = graph.StateStopped
	return nil
}
