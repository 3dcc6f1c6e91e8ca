// Package extension is the out-of-process half of §4.9's resolver: class
// names of the form "plugin:<path>" launch a hashicorp/go-plugin
// subprocess and bind to its exported Processor RPC surface; "fetch:<url>"
// first retrieves the binary with hashicorp/go-getter into a local plug-in
// directory before launching it. In-process resolution still goes through
// pkg/registry directly — this package only exists for the two prefixed
// forms.
package extension

import (
	"fmt"
	"net/rpc"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/hashicorp/go-getter"
	plugin "github.com/hashicorp/go-plugin"
	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"
)

const (
	fetchPrefix  = "fetch:"
	pluginPrefix = "plugin:"
	pluginDir    = "./go-plugins"
)

// Handshake is the magic cookie both the host and every plug-in binary must
// agree on before a connection is trusted, go-plugin's standard guard
// against accidentally executing an unrelated binary as a plug-in.
var Handshake = plugin.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "FLOWCTL_PROCESSOR_PLUGIN",
	MagicCookieValue: "flowctl",
}

// FlowFileIO is the wire shape of one flow-file crossing the process
// boundary: attributes plus content. A live session or queue reference
// cannot itself be serialised over net/rpc, so the host pulls flow-files
// locally and ships only their data across.
type FlowFileIO struct {
	Attributes map[string]string
	Content    []byte
}

// ConfigureArgs is the RPC payload for Configure.
type ConfigureArgs struct {
	ControllerID string
	Data         map[string]interface{}
}

// TriggerRequest is the RPC payload for one OnTrigger call.
type TriggerRequest struct {
	Input []FlowFileIO
}

// Routed pairs a flow-file with the relationship the plug-in routed it to.
type Routed struct {
	FlowFile     FlowFileIO
	Relationship string
}

// TriggerResponse is what the plug-in hands back: routed flow-files and
// flow-files it chose to drop, each with a reason.
type TriggerResponse struct {
	Routed  []Routed
	Dropped []FlowFileIO
}

// Server is the minimal, RPC-transportable surface an out-of-process
// plug-in binary implements and registers with plugin.Serve.
type Server interface {
	Configure(args ConfigureArgs, _ *struct{}) error
	Trigger(req TriggerRequest, resp *TriggerResponse) error
}

// ProcessorPlugin adapts a Server to go-plugin's net/rpc plugin.Plugin
// contract. A plug-in binary's main() calls plugin.Serve with this on the
// server side; the controller never constructs the server side itself.
type ProcessorPlugin struct {
	Impl Server
}

func (p *ProcessorPlugin) Server(*plugin.MuxBroker) (interface{}, error) {
	return p.Impl, nil
}

func (p *ProcessorPlugin) Client(_ *plugin.MuxBroker, c *rpc.Client) (interface{}, error) {
	return &remoteServer{client: c}, nil
}

type remoteServer struct {
	client *rpc.Client
}

func (r *remoteServer) Configure(args ConfigureArgs) error {
	return r.client.Call("Plugin.Configure", args, &struct{}{})
}

func (r *remoteServer) Trigger(req TriggerRequest) (*TriggerResponse, error) {
	resp := new(TriggerResponse)
	if err := r.client.Call("Plugin.Trigger", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// RemoteProcessor wraps one launched subprocess, reachable as if it were a
// local registry.Processor from the session-loop's point of view, minus
// the *session.Session argument: callers translate to/from FlowFileIO
// themselves, since that translation is the whole reason this package
// exists.
type RemoteProcessor struct {
	className string
	client    *plugin.Client
	remote    *remoteServer
	mu        sync.Mutex
}

func (p *RemoteProcessor) Configure(args ConfigureArgs) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.remote.Configure(args)
}

func (p *RemoteProcessor) Trigger(req TriggerRequest) (*TriggerResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.remote.Trigger(req)
}

// Close terminates the subprocess.
func (p *RemoteProcessor) Close() {
	p.client.Kill()
}

// Resolver launches and caches out-of-process plug-in subprocesses, one
// per class name, for the lifetime of the controller.
type Resolver struct {
	mu      sync.Mutex
	remotes map[string]*RemoteProcessor
}

// NewResolver constructs an empty resolver.
func NewResolver() *Resolver {
	return &Resolver{remotes: make(map[string]*RemoteProcessor)}
}

// Resolve resolves a "plugin:<path>" or "fetch:<url>" class name to a
// running subprocess, reusing an already-launched instance for the same
// class name. It is a no-op for any other class name: callers should check
// HasPrefix first and fall back to pkg/registry.
func (r *Resolver) Resolve(className string) (*RemoteProcessor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.remotes[className]; ok {
		return existing, nil
	}

	var path string
	var err error
	switch {
	case strings.HasPrefix(className, fetchPrefix):
		path, err = r.fetch(className[len(fetchPrefix):])
	case strings.HasPrefix(className, pluginPrefix):
		path = className[len(pluginPrefix):]
	default:
		return nil, errors.Errorf("class %q is not an out-of-process plug-in reference", className)
	}
	if err != nil {
		return nil, errors.Trace(err)
	}

	rp, err := r.launch(className, path)
	if err != nil {
		return nil, errors.Trace(err)
	}
	r.remotes[className] = rp
	return rp, nil
}

// fetch retrieves url into the local plug-in directory with go-getter,
// mirroring the teacher's DownloadGoPlugin.
func (r *Resolver) fetch(url string) (string, error) {
	if _, err := os.Stat(pluginDir); os.IsNotExist(err) {
		if err := os.MkdirAll(pluginDir, 0o755); err != nil {
			return "", errors.Trace(err)
		}
	}

	name := sanitizeFileName(url)
	dst := fmt.Sprintf("%s/%s", pluginDir, name)

	pwd, err := os.Getwd()
	if err != nil {
		return "", errors.Trace(err)
	}

	log.Infof("[extension] fetching plug-in %s -> %s", url, dst)

	client := getter.Client{
		Src:     url,
		Dst:     dst,
		Dir:     false,
		Mode:    getter.ClientModeFile,
		Getters: getter.Getters,
		Pwd:     pwd,
	}
	if err := client.Get(); err != nil {
		return "", errors.Trace(err)
	}
	return dst, nil
}

func sanitizeFileName(url string) string {
	r := strings.NewReplacer("/", "_", ":", "_", "?", "_", "&", "_")
	return r.Replace(url)
}

// launch starts path as a go-plugin subprocess and completes the
// handshake, the in-process equivalent of the original's class-loader
// namespace swap: the scoped construction context is the subprocess
// itself, not a goroutine-local value, since the plug-in's code never runs
// in the host process at all.
func (r *Resolver) launch(className, path string) (*RemoteProcessor, error) {
	client := plugin.NewClient(&plugin.ClientConfig{
		HandshakeConfig: Handshake,
		Plugins: map[string]plugin.Plugin{
			"processor": &ProcessorPlugin{},
		},
		Cmd: exec.Command(path),
	})

	rpcClient, err := client.Client()
	if err != nil {
		client.Kill()
		return nil, errors.Annotatef(err, "start plug-in subprocess %s", path)
	}

	raw, err := rpcClient.Dispense("processor")
	if err != nil {
		client.Kill()
		return nil, errors.Annotatef(err, "dispense processor plug-in %s", path)
	}

	remote, ok := raw.(*remoteServer)
	if !ok {
		client.Kill()
		return nil, errors.Errorf("plug-in %s does not implement the processor RPC surface", path)
	}

	return &RemoteProcessor{className: className, client: client, remote: remote}, nil
}
