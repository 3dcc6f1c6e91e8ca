// Package registry is the controller's extension/class-loader: a registry
// of plug-in factories keyed by (PluginType, class name). It stands in for
// the NAR/class-loading subsystem, which the core treats as an external
// collaborator (§1) — the core only needs a resolver from class name to
// constructor.
package registry

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"

	"github.com/flowctl/core/pkg/session"
)

type PluginType string

const (
	ProcessorPlugin          PluginType = "processor"
	PrioritizerPlugin        PluginType = "prioritizer"
	ReportingTaskPlugin      PluginType = "reportingTask"
	FlowFileRepoPlugin       PluginType = "flowFileRepository"
	ContentRepoPlugin        PluginType = "contentRepository"
	ProvenanceRepoPlugin     PluginType = "provenanceRepository"
	BulletinRepoPlugin       PluginType = "bulletinRepository"
	SwapManagerPlugin        PluginType = "swapManager"
	ComponentStatusRepoPlugin PluginType = "componentStatusRepository"
	NodeProtocolSenderPlugin PluginType = "nodeProtocolSender"
)

// Plugin is the minimal lifecycle every class the registry resolves must
// satisfy: it is handed its configuration map before first use.
type Plugin interface {
	Configure(controllerID string, data map[string]interface{}) error
}

// Processor is the extension point scheduling agents actually invoke:
// every class registered under ProcessorPlugin must implement OnTrigger in
// addition to Plugin's Configure (§4.1, §4.3).
type Processor interface {
	Plugin
	OnTrigger(ctx context.Context, session *session.Session) error
}

// Prioritizer is the extension point connections order their queue by; the
// default FIFO ordering lives in pkg/queue and never goes through the
// registry, but a named prioritiser class referenced by a connection's
// configuration resolves here.
type Prioritizer interface {
	Plugin
	Less(a, b []byte) bool
}

// The lifecycle-hook interfaces below model §4.9's "explicit set of
// optional capabilities on the plug-in interface" in place of the
// original's annotation-discovered hooks: the controller façade checks
// each with a type assertion and invokes it if present, never requiring a
// plug-in to implement more than the Plugin/Processor contract it needs.
type (
	// OnAdded is invoked exactly once, when firstTimeAdded is true (§4.1).
	OnAdded interface{ OnAdded() error }
	// OnRemoved is invoked when a component is permanently deleted from the
	// graph, after it has already been stopped.
	OnRemoved interface{ OnRemoved() error }
	// OnScheduled is invoked once when a component transitions to Running,
	// before the scheduling agent issues its first trigger.
	OnScheduled interface{ OnScheduled() error }
	// OnUnscheduled is invoked once when a component transitions away from
	// Running, after the scheduling agent has stopped issuing triggers.
	OnUnscheduled interface{ OnUnscheduled() error }
	// OnShutdown is invoked once per plug-in instance during controller
	// shutdown, after every component has been stopped.
	OnShutdown interface{ OnShutdown() error }
)

type PluginFactory func() Plugin

var (
	mutex sync.Mutex
	reg   map[PluginType]map[string]PluginFactory
)

// RegisterPluginFactory registers a named constructor for a plug-in type.
// Called from package init() by every concrete implementation, mirroring
// how each processor/repository implementation self-registers.
func RegisterPluginFactory(pluginType PluginType, className string, f PluginFactory) {
	mutex.Lock()
	defer mutex.Unlock()

	log.Debugf("[registry] register type=%v class=%v", pluginType, className)
	if reg == nil {
		reg = make(map[PluginType]map[string]PluginFactory)
	}
	if _, ok := reg[pluginType]; !ok {
		reg[pluginType] = make(map[string]PluginFactory)
	}
	if _, ok := reg[pluginType][className]; ok {
		panic(fmt.Sprintf("plugin class already registered: type=%v class=%v", pluginType, className))
	}
	reg[pluginType][className] = f
}

// RegisterPlugin registers v's type under className. When singleton is
// false a fresh zero value is allocated via reflection for every
// resolution, matching the original source's "new instance per component"
// semantics for processors; singleton is used for stateless repository
// implementations.
func RegisterPlugin(pluginType PluginType, className string, v Plugin, singleton bool) {
	var f PluginFactory
	if singleton {
		f = func() Plugin { return v }
	} else {
		f = func() Plugin {
			return reflect.New(reflect.TypeOf(v).Elem()).Interface().(Plugin)
		}
	}
	RegisterPluginFactory(pluginType, className, f)
}

// Get resolves className under pluginType to a Plugin instance: a fresh one
// per call, or the one shared instance for a singleton registration. This
// is the "load their class through the extension manager" step of
// §4.1 createProcessor/createReportingTask and the repository
// *.implementation configuration keys of §6.
func Get(pluginType PluginType, className string) (Plugin, error) {
	mutex.Lock()
	defer mutex.Unlock()

	if reg == nil {
		return nil, errors.Errorf("extension registry is empty, cannot resolve class %q", className)
	}
	classes, ok := reg[pluginType]
	if !ok {
		return nil, errors.Errorf("no plugin class registered for type %v", pluginType)
	}
	f, ok := classes[className]
	if !ok {
		return nil, errors.Errorf("unknown class %q for plugin type %v", className, pluginType)
	}
	return f(), nil
}

// Classes lists the class names registered under pluginType, used by
// instantiateSnippet's validation pass to reject unknown processor classes
// before mutating the graph.
func Classes(pluginType PluginType) []string {
	mutex.Lock()
	defer mutex.Unlock()

	classes, ok := reg[pluginType]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(classes))
	for name := range classes {
		names = append(names, name)
	}
	return names
}
