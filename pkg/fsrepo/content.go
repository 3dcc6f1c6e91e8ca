// Package fsrepo implements the filesystem-backed content repository and
// swap manager of §4.10. Both are the only sensible implementation of
// their contract per the spec's own reasoning (a local spool/blob
// directory is what the real subsystems do), so they are built on
// os/io directly rather than a third-party storage client — the
// stdlib-justification the grounding ledger records for this package.
package fsrepo

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"

	"github.com/flowctl/core/pkg/contentclaim"
	"github.com/flowctl/core/pkg/registry"
	"github.com/flowctl/core/pkg/repository"
)

const ContentClassName = "filesystem"

// ContentRepository stores each claim's bytes at
// <root>/<container>/<section>/<identifier>.
type ContentRepository struct {
	root   string
	claims *contentclaim.Manager

	mu    sync.Mutex
	known map[string]contentclaim.Claim
}

func init() {
	registry.RegisterPlugin(registry.ContentRepoPlugin, ContentClassName, &ContentRepository{}, true)
}

// Configure implements registry.Plugin. Expected key: "directory".
func (c *ContentRepository) Configure(controllerID string, data map[string]interface{}) error {
	dir, _ := data["directory"].(string)
	if dir == "" {
		dir = "content-repository"
	}
	c.root = dir
	return nil
}

func (c *ContentRepository) pathFor(claim contentclaim.Claim) string {
	return filepath.Join(c.root, claim.Container, claim.Section, claim.Identifier)
}

// Initialize creates the root directory and keeps a reference to the
// claim manager for future cleanup passes.
func (c *ContentRepository) Initialize(claims *contentclaim.Manager) error {
	c.claims = claims
	c.known = make(map[string]contentclaim.Claim)
	if err := os.MkdirAll(c.root, 0o755); err != nil {
		return errors.Annotate(err, "create content repository root")
	}
	return nil
}

// IsAccessible reports whether claim's blob currently exists on disk,
// the precondition replay's step 3 checks.
func (c *ContentRepository) IsAccessible(claim contentclaim.Claim) bool {
	_, err := os.Stat(c.pathFor(claim))
	return err == nil
}

// Write stores p as the content of claim, creating parent directories as
// needed.
func (c *ContentRepository) Write(claim contentclaim.Claim, p []byte) error {
	path := c.pathFor(claim)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Trace(err)
	}
	if err := os.WriteFile(path, p, 0o644); err != nil {
		return errors.Trace(err)
	}
	c.mu.Lock()
	c.known[c.pathFor(claim)] = claim
	c.mu.Unlock()
	return nil
}

// Read opens claim's blob for streaming.
func (c *ContentRepository) Read(claim contentclaim.Claim) (repository.ReadCloser, error) {
	f, err := os.Open(c.pathFor(claim))
	if err != nil {
		return nil, errors.Trace(err)
	}
	return f, nil
}

// Cleanup removes every blob this repository has written whose claimant
// count has dropped to zero, the reclaim signal of §4.8's invariant.
func (c *ContentRepository) Cleanup() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for path, claim := range c.known {
		if c.claims.Count(claim) > 0 {
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.Warnf("[fsrepo] cleanup failed to remove %s: %v", path, err)
			continue
		}
		delete(c.known, path)
	}
	return nil
}

// Shutdown is a no-op: the filesystem needs no explicit close.
func (c *ContentRepository) Shutdown() error { return nil }
