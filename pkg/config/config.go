// Package config loads and hot-reloads the controller's TOML
// configuration, in the teacher's flag.FlagSet + BurntSushi/toml style.
package config

import (
	"flag"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"

	"github.com/flowctl/core/pkg/logutil"
)

const (
	defaultFlowFileRepositoryImpl  = "sqlite"
	defaultContentRepositoryImpl   = "filesystem"
	defaultProvenanceRepositoryImpl = "elasticsearch"
	defaultComponentStatusRepoImpl = "mongo"
	defaultSwapManagerImpl         = "filesystem"

	defaultHeartbeatDelay          = "5s"
	defaultSnapshotMillis          = 5000
	defaultGracefulShutdownSeconds = 30
	defaultMinimumSchedulingMillis = 10
)

// RepositoryConfig selects one external-collaborator implementation by
// class name (§6's *.implementation keys) plus its class-specific config
// sub-map, decoded with mapstructure against the concrete plug-in's own
// struct once resolved.
type RepositoryConfig struct {
	Implementation string                 `toml:"implementation" json:"implementation"`
	Config         map[string]interface{} `toml:"config" json:"config,omitempty"`
}

// RepositoriesConfig groups the five swappable repository selections of
// §4.10/§6.
type RepositoriesConfig struct {
	FlowFile        RepositoryConfig `toml:"flowfile" json:"flowfile"`
	Content         RepositoryConfig `toml:"content" json:"content"`
	Provenance      RepositoryConfig `toml:"provenance" json:"provenance"`
	ComponentStatus RepositoryConfig `toml:"component-status" json:"component-status"`
	SwapManager     RepositoryConfig `toml:"swap-manager" json:"swap-manager"`
}

// ClusterConfig carries the node protocol sender's target (§6); an unset
// address runs the controller in single-node mode with cluster transport
// disabled entirely.
type ClusterConfig struct {
	ProtocolSenderAddress string `toml:"protocol-sender-address" json:"protocol-sender-address"`
}

// MetricsConfig controls the optional Prometheus exposition endpoint.
type MetricsConfig struct {
	ListenAddress string `toml:"listen-address" json:"listen-address"`
}

// ControllerConfig is the core's own tunables: identity and the periods
// governing heartbeat generation, status snapshotting, scheduling floor,
// and shutdown escalation.
type ControllerConfig struct {
	ControllerID string `toml:"id" json:"id"`
	RootGroupID  string `toml:"root-group-id" json:"root-group-id"`

	HeartbeatDelay          string `toml:"heartbeat-delay" json:"heartbeat-delay"`
	SnapshotMillis          int    `toml:"snapshot-millis" json:"snapshot-millis"`
	GracefulShutdownSeconds int    `toml:"graceful-shutdown-seconds" json:"graceful-shutdown-seconds"`
	MinimumSchedulingMillis int    `toml:"minimum-scheduling-millis" json:"minimum-scheduling-millis"`
}

// Config is the controller's top-level TOML document.
type Config struct {
	*flag.FlagSet `json:"-"`

	ConfigFile string `toml:"-" json:"-"`
	Version    bool   `toml:"-" json:"-"`

	Controller   ControllerConfig    `toml:"controller" json:"controller"`
	Repositories RepositoriesConfig  `toml:"repositories" json:"repositories"`
	Cluster      ClusterConfig       `toml:"cluster" json:"cluster"`
	Metrics      MetricsConfig       `toml:"metrics" json:"metrics"`
	Log          logutil.LogConfig   `toml:"log" json:"log"`

	ReportingTasks []ReportingTaskConfig `toml:"reporting-tasks" json:"reporting-tasks,omitempty"`
}

// SetDefault fills every unset *.implementation and period field with its
// documented default (§6), the same one-shot defaulting idiom as the
// teacher's PipelineConfigV3.SetDefault.
func (c *Config) SetDefault() {
	if c.Controller.ControllerID == "" {
		c.Controller.ControllerID = "flowctl-0"
	}
	if c.Controller.RootGroupID == "" {
		c.Controller.RootGroupID = "root"
	}
	if c.Controller.HeartbeatDelay == "" {
		c.Controller.HeartbeatDelay = defaultHeartbeatDelay
	}
	if c.Controller.SnapshotMillis == 0 {
		c.Controller.SnapshotMillis = defaultSnapshotMillis
	}
	if c.Controller.GracefulShutdownSeconds == 0 {
		c.Controller.GracefulShutdownSeconds = defaultGracefulShutdownSeconds
	}
	if c.Controller.MinimumSchedulingMillis == 0 {
		c.Controller.MinimumSchedulingMillis = defaultMinimumSchedulingMillis
	}

	if c.Repositories.FlowFile.Implementation == "" {
		c.Repositories.FlowFile.Implementation = defaultFlowFileRepositoryImpl
	}
	if c.Repositories.Content.Implementation == "" {
		c.Repositories.Content.Implementation = defaultContentRepositoryImpl
	}
	if c.Repositories.Provenance.Implementation == "" {
		c.Repositories.Provenance.Implementation = defaultProvenanceRepositoryImpl
	}
	if c.Repositories.ComponentStatus.Implementation == "" {
		c.Repositories.ComponentStatus.Implementation = defaultComponentStatusRepoImpl
	}
	if c.Repositories.SwapManager.Implementation == "" {
		c.Repositories.SwapManager.Implementation = defaultSwapManagerImpl
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// NewConfig builds a Config with its flag set wired, in the teacher's
// NewConfig style.
func NewConfig() *Config {
	cfg := &Config{}
	cfg.FlagSet = flag.NewFlagSet("flowctl", flag.ContinueOnError)
	fs := cfg.FlagSet

	fs.BoolVar(&cfg.Version, "V", false, "print version and exit")
	fs.StringVar(&cfg.ConfigFile, "config", "", "path to controller config file")
	fs.StringVar(&cfg.Controller.ControllerID, "id", "", "controller identity")
	fs.StringVar(&cfg.Log.Level, "L", "info", "log level: debug, info, warn, error, fatal")
	fs.StringVar(&cfg.Log.Format, "log-format", "text", "log format: text or json")
	fs.StringVar(&cfg.Log.File.Filename, "log-file", "", "log file path")
	fs.StringVar(&cfg.Metrics.ListenAddress, "metrics-addr", "", "prometheus /metrics listen address")
	return cfg
}

// ParseCmd parses the flag definitions from arguments, the teacher's
// ParseCmd idiom unchanged.
func (c *Config) ParseCmd(arguments []string) error {
	if err := c.FlagSet.Parse(arguments); err != nil {
		return errors.Trace(err)
	}
	if len(c.FlagSet.Args()) != 0 {
		return errors.Errorf("%q is an invalid flag", c.FlagSet.Arg(0))
	}
	return nil
}

// LoadConfigFromFile loads and defaults a Config from path, panicking on
// failure, matching the teacher's LoadConfigFromFile boot-time idiom.
func LoadConfigFromFile(path string) *Config {
	cfg := NewConfig()
	if err := cfg.ConfigFromFile(path); err != nil {
		panic(errors.ErrorStack(err))
	}
	return cfg
}

// ConfigFromFile decodes path's TOML document into c and applies defaults.
func (c *Config) ConfigFromFile(path string) error {
	if !strings.HasSuffix(path, ".toml") {
		return errors.Errorf("unrecognized config file extension for %q, expected .toml", path)
	}
	if _, err := toml.DecodeFile(path, c); err != nil {
		return errors.Trace(err)
	}
	c.SetDefault()
	c.ConfigFile = path
	return nil
}

// Watch watches ConfigFile for writes and invokes onChange with a freshly
// decoded and defaulted Config on every one, the hot-reload path of §9.
// The returned watcher's Close stops watching.
func (c *Config) Watch(onChange func(*Config)) (*fsnotify.Watcher, error) {
	if c.ConfigFile == "" {
		return nil, errors.NewNotValid(nil, "config was not loaded from a file, nothing to watch")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Trace(err)
	}
	if err := watcher.Add(c.ConfigFile); err != nil {
		_ = watcher.Close()
		return nil, errors.Trace(err)
	}

	go func() {
		for event := range watcher.Events {
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			reloaded := NewConfig()
			if err := reloaded.ConfigFromFile(c.ConfigFile); err != nil {
				log.Warnf("[config] reload of %s failed, keeping previous config: %v", c.ConfigFile, err)
				continue
			}
			onChange(reloaded)
		}
	}()

	return watcher, nil
}
