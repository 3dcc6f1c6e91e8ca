package controller

import (
	"strings"
	"time"

	"github.com/juju/errors"
	"github.com/mitchellh/mapstructure"

	"github.com/flowctl/core/pkg/graph"
	"github.com/flowctl/core/pkg/queue"
	"github.com/flowctl/core/pkg/registry"
)

// SnippetSpec is the decoded shape of a flow-definition fragment, the
// payload InstantiateSnippet applies atomically (§4.1's two-phase
// validate-then-apply instantiation). Every entry carries its own id:
// ids are chosen by the caller, not generated here, so that a template
// applied twice under different prefixes produces stable, predictable
// identifiers.
type SnippetSpec struct {
	ProcessGroups []struct {
		ID   string `mapstructure:"id"`
		Name string `mapstructure:"name"`
	} `mapstructure:"processGroups"`

	Processors []struct {
		ID        string                 `mapstructure:"id"`
		Name      string                 `mapstructure:"name"`
		ClassName string                 `mapstructure:"className"`
		Config    map[string]interface{} `mapstructure:"config"`
	} `mapstructure:"processors"`

	Ports []struct {
		ID     string `mapstructure:"id"`
		Name   string `mapstructure:"name"`
		Output bool   `mapstructure:"output"`
	} `mapstructure:"ports"`

	Funnels []struct {
		ID string `mapstructure:"id"`
	} `mapstructure:"funnels"`

	Labels []struct {
		ID   string        `mapstructure:"id"`
		Text string        `mapstructure:"text"`
		X    float64       `mapstructure:"x"`
		Y    float64       `mapstructure:"y"`
	} `mapstructure:"labels"`

	Connections []struct {
		ID              string            `mapstructure:"id"`
		SourceID        string            `mapstructure:"sourceId"`
		DestinationID   string            `mapstructure:"destinationId"`
		Relationships   []string          `mapstructure:"relationships"`
		MaxObjectCount  int64             `mapstructure:"maxObjectCount"`
		MaxByteCount    int64             `mapstructure:"maxByteCount"`
		ExpirationSecs  int64             `mapstructure:"expirationSeconds"`
	} `mapstructure:"connections"`
}

// DecodeSnippet decodes a generic payload (as received over a management
// API, already unmarshalled from JSON/YAML into Go's generic map/slice
// shapes) into a SnippetSpec, the same generic-map-to-typed-struct step
// CreateReportingTask's config argument and CreateProcessor's config
// argument both skip because their destination is a plug-in's own,
// unknown-at-compile-time struct — a snippet's shape, by contrast, is
// fixed and known here.
func DecodeSnippet(payload map[string]interface{}) (*SnippetSpec, error) {
	var spec SnippetSpec
	if err := mapstructure.Decode(payload, &spec); err != nil {
		return nil, errors.Annotate(err, "decode snippet payload")
	}
	return &spec, nil
}

// InstantiateSnippet validates every id and class name in spec against
// the live graph before creating anything (§4.1): either the whole
// snippet lands, or none of it does. Validation and the entire apply
// loop run under one continuous c.mu.Lock() held for the whole call, not
// released and reacquired between or within steps: a concurrent
// Create*/Remove* from another goroutine can never observe, or be
// observed by, a partially-applied batch, and can never collide with an
// id this batch is about to claim between validation and apply (§8).
// Ordering within the apply phase follows the original's dependency
// order — groups, then vertices, then connections — so that a
// connection's endpoints already exist by the time it is wired.
func (c *Controller) InstantiateSnippet(groupID string, spec *SnippetSpec) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.validateSnippetLocked(spec); err != nil {
		return errors.Trace(err)
	}

	for _, pg := range spec.ProcessGroups {
		if _, err := c.createProcessGroupLocked(pg.ID, pg.Name, groupID); err != nil {
			return errors.Annotatef(err, "instantiate process group %s", pg.ID)
		}
	}
	for _, p := range spec.Processors {
		if _, err := c.createProcessorLocked(p.ID, p.Name, groupID, p.ClassName, p.Config); err != nil {
			return errors.Annotatef(err, "instantiate processor %s", p.ID)
		}
	}
	for _, p := range spec.Ports {
		if _, err := c.createPortLocked(p.ID, p.Name, groupID, p.Output); err != nil {
			return errors.Annotatef(err, "instantiate port %s", p.ID)
		}
	}
	for _, f := range spec.Funnels {
		if _, err := c.createFunnelLocked(f.ID, groupID); err != nil {
			return errors.Annotatef(err, "instantiate funnel %s", f.ID)
		}
	}
	for _, l := range spec.Labels {
		if _, err := c.createLabelLocked(l.ID, groupID, l.Text, graph.Position{X: l.X, Y: l.Y}); err != nil {
			return errors.Annotatef(err, "instantiate label %s", l.ID)
		}
	}
	for _, conn := range spec.Connections {
		thresholds := queue.Thresholds{
			MaxObjectCount:   conn.MaxObjectCount,
			MaxByteCount:     conn.MaxByteCount,
			ExpirationPeriod: time.Duration(conn.ExpirationSecs) * time.Second,
		}
		if _, err := c.createConnectionLocked(conn.ID, groupID, conn.SourceID, conn.DestinationID, conn.Relationships, thresholds); err != nil {
			return errors.Annotatef(err, "instantiate connection %s", conn.ID)
		}
	}
	return nil
}

// validateSnippetLocked is the snippet's validation phase: every
// candidate id must be free against both the live graph and the rest of
// the batch, every processor class name must be registered (or be an
// out-of-process "plugin:"/"fetch:" reference, which resolveProcessor
// validates lazily at creation time since it cannot be checked without
// actually launching the subprocess), no port name may collide with an
// existing root-level port if groupID is the root group, and every
// connection's endpoints must resolve to a connectable that either
// already exists or is itself part of this batch. Called with c.mu
// already held for writing by InstantiateSnippet, for the whole call,
// spanning this check and the apply loop that follows it — that single
// lock span is what makes the apply phase a straight run with no
// rollback to perform: nothing else can claim a batch id, or half of one,
// while this runs.
func (c *Controller) validateSnippetLocked(spec *SnippetSpec) error {
	known := make(map[string]bool)
	for _, name := range registry.Classes(registry.ProcessorPlugin) {
		known[name] = true
	}

	seen := make(map[string]bool)
	checkID := func(kind, id string) error {
		if id == "" {
			return errors.NewNotValid(nil, kind+" id must not be empty")
		}
		if c.g.IDInUse(id) {
			return errors.AlreadyExistsf("%s id %q", kind, id)
		}
		if seen[id] {
			return errors.AlreadyExistsf("%s id %q duplicated within snippet", kind, id)
		}
		seen[id] = true
		return nil
	}

	// connectables accumulates every id this batch will wire a connection
	// endpoint into: processors, ports, and funnels, the same set
	// graph.Connectable resolves against for the live graph.
	connectables := make(map[string]bool)

	for _, pg := range spec.ProcessGroups {
		if err := checkID("process group", pg.ID); err != nil {
			return errors.Trace(err)
		}
	}
	for _, p := range spec.Processors {
		if err := checkID("processor", p.ID); err != nil {
			return errors.Trace(err)
		}
		if !known[p.ClassName] && !isOutOfProcessClass(p.ClassName) {
			return errors.NotFoundf("processor class %q", p.ClassName)
		}
		connectables[p.ID] = true
	}
	for _, p := range spec.Ports {
		if err := checkID("port", p.ID); err != nil {
			return errors.Trace(err)
		}
		if c.g.RootPortNameCollision(p.Name) {
			return errors.AlreadyExistsf("root port name %q", p.Name)
		}
		connectables[p.ID] = true
	}
	for _, f := range spec.Funnels {
		if err := checkID("funnel", f.ID); err != nil {
			return errors.Trace(err)
		}
		connectables[f.ID] = true
	}
	for _, l := range spec.Labels {
		if err := checkID("label", l.ID); err != nil {
			return errors.Trace(err)
		}
	}
	for _, conn := range spec.Connections {
		if err := checkID("connection", conn.ID); err != nil {
			return errors.Trace(err)
		}
		if len(conn.Relationships) == 0 {
			return errors.NewNotValid(nil, "connection "+conn.ID+" must select at least one relationship")
		}
		if err := c.checkEndpoint("source", conn.SourceID, connectables); err != nil {
			return errors.Annotatef(err, "connection %s", conn.ID)
		}
		if err := c.checkEndpoint("destination", conn.DestinationID, connectables); err != nil {
			return errors.Annotatef(err, "connection %s", conn.ID)
		}
	}
	return nil
}

// checkEndpoint reports whether id resolves to a connectable that either
// already exists in the live graph or is one of the batch's own
// processors/ports/funnels, called with c.mu already held for writing.
func (c *Controller) checkEndpoint(role, id string, batchConnectables map[string]bool) error {
	if id == "" {
		return errors.NewNotValid(nil, role+" id must not be empty")
	}
	if batchConnectables[id] {
		return nil
	}
	if _, err := c.g.Connectable(id); err != nil {
		return errors.Annotatef(err, "%s %q does not exist", role, id)
	}
	return nil
}

func isOutOfProcessClass(className string) bool {
	return strings.HasPrefix(className, "plugin:") || strings.HasPrefix(className, "fetch:")
}
