package main

import (
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	hplugin "github.com/hashicorp/go-plugin"
	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/flowctl/core/pkg/config"
	"github.com/flowctl/core/pkg/controller"
	"github.com/flowctl/core/pkg/grpctransport"
	"github.com/flowctl/core/pkg/logutil"
	"github.com/flowctl/core/pkg/memrepo"
	"github.com/flowctl/core/pkg/registry"
	"github.com/flowctl/core/pkg/remotegroup"
	"github.com/flowctl/core/pkg/repository"
	"github.com/flowctl/core/pkg/utils"

	// Every swappable repository implementation self-registers with the
	// extension registry from its own init(); main only needs to import
	// the packages for that side effect to take hold.
	_ "github.com/flowctl/core/pkg/esrepo"
	_ "github.com/flowctl/core/pkg/fsrepo"
	_ "github.com/flowctl/core/pkg/mongorepo"
	_ "github.com/flowctl/core/pkg/sqliterepo"
)

func main() {
	cfg := config.NewConfig()
	switch err := cfg.ParseCmd(os.Args[1:]); errors.Cause(err) {
	case nil:
	case flag.ErrHelp:
		os.Exit(0)
	default:
		log.Fatalf("parse cmd flags: %s", err)
	}

	if cfg.Version {
		utils.PrintRawInfo("flowctl")
		os.Exit(0)
	}

	if cfg.ConfigFile == "" {
		log.Fatal("-config must be given")
	}
	if err := cfg.ConfigFromFile(cfg.ConfigFile); err != nil {
		log.Fatalf("load config from %s: %s", cfg.ConfigFile, errors.ErrorStack(err))
	}

	logutil.MustInitLogger(&cfg.Log)
	logutil.ControllerID = cfg.Controller.ControllerID
	utils.LogRawInfo("flowctl")

	log.RegisterExitHandler(func() {
		hplugin.CleanupClients()
	})

	ctl, err := buildController(cfg)
	if err != nil {
		log.Fatalf("build controller: %s", errors.ErrorStack(err))
	}

	if err := ctl.InitializeFlow(); err != nil {
		log.Fatalf("initialize flow: %s", errors.ErrorStack(err))
	}
	ctl.StartHeartbeating()

	for _, rt := range cfg.ReportingTasks {
		if _, err := ctl.CreateReportingTask(rt.ID, rt.Type, rt.Config); err != nil {
			log.Fatalf("create reporting task %s: %s", rt.ID, errors.ErrorStack(err))
		}
		period := 60 * time.Second
		if rt.Period != "" {
			if d, err := time.ParseDuration(rt.Period); err == nil {
				period = d
			}
		}
		if err := ctl.StartReportingTask(rt.ID, period); err != nil {
			log.Fatalf("start reporting task %s: %s", rt.ID, errors.ErrorStack(err))
		}
	}

	if cfg.Metrics.ListenAddress != "" {
		go func() {
			http.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(cfg.Metrics.ListenAddress, nil); err != nil {
				log.Errorf("metrics listener stopped: %v", err)
			}
		}()
	}

	watcher, err := cfg.Watch(func(reloaded *config.Config) {
		log.Info("[flowctl] config file changed; repository/cluster wiring requires a restart to take effect")
	})
	if err != nil {
		log.Warnf("config hot-reload watch disabled: %v", err)
	} else {
		defer watcher.Close()
	}

	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	sig := <-sc
	log.Infof("[flowctl] received signal %v, shutting down", sig)

	if err := ctl.Shutdown(false); err != nil {
		log.Warnf("graceful shutdown incomplete: %v", err)
		os.Exit(1)
	}
}

// buildController resolves every configured repository implementation
// through the registry, wires cluster transport if configured, and
// constructs the controller, the boot sequence of §4.1/§6.
func buildController(cfg *config.Config) (*controller.Controller, error) {
	flowfiles, err := resolveRepo[repository.FlowFileRepository](registry.FlowFileRepoPlugin, cfg.Controller.ControllerID, cfg.Repositories.FlowFile)
	if err != nil {
		return nil, errors.Annotate(err, "flowfile repository")
	}
	content, err := resolveRepo[repository.ContentRepository](registry.ContentRepoPlugin, cfg.Controller.ControllerID, cfg.Repositories.Content)
	if err != nil {
		return nil, errors.Annotate(err, "content repository")
	}
	provenance, err := resolveRepo[repository.ProvenanceRepository](registry.ProvenanceRepoPlugin, cfg.Controller.ControllerID, cfg.Repositories.Provenance)
	if err != nil {
		return nil, errors.Annotate(err, "provenance repository")
	}
	statusRepo, err := resolveRepo[repository.ComponentStatusRepository](registry.ComponentStatusRepoPlugin, cfg.Controller.ControllerID, cfg.Repositories.ComponentStatus)
	if err != nil {
		return nil, errors.Annotate(err, "component status repository")
	}
	swap, err := resolveRepo[repository.SwapManager](registry.SwapManagerPlugin, cfg.Controller.ControllerID, cfg.Repositories.SwapManager)
	if err != nil {
		return nil, errors.Annotate(err, "swap manager")
	}

	bulletins := &memrepo.BulletinRepository{}
	if err := bulletins.Configure(cfg.Controller.ControllerID, nil); err != nil {
		return nil, errors.Annotate(err, "bulletin repository")
	}

	var sender repository.NodeProtocolSender
	var dial remotegroup.Dialer
	if cfg.Cluster.ProtocolSenderAddress != "" {
		client, err := grpctransport.Dial(cfg.Cluster.ProtocolSenderAddress)
		if err != nil {
			return nil, errors.Annotate(err, "dial cluster manager")
		}
		sender = client
		dial = grpctransport.Dial
	}

	heartbeatDelay, err := time.ParseDuration(cfg.Controller.HeartbeatDelay)
	if err != nil {
		return nil, errors.Annotatef(err, "heartbeat delay %q", cfg.Controller.HeartbeatDelay)
	}

	deps := controller.Deps{
		FlowFiles:  flowfiles,
		Content:    content,
		Provenance: provenance,
		Bulletins:  bulletins,
		Swap:       swap,
		StatusRepo: statusRepo,
		Sender:     sender,
	}
	tunables := controller.Tunables{
		HeartbeatDelay:         heartbeatDelay,
		SnapshotPeriod:         time.Duration(cfg.Controller.SnapshotMillis) * time.Millisecond,
		GracefulShutdownPeriod: time.Duration(cfg.Controller.GracefulShutdownSeconds) * time.Second,
		MinimumSchedulingPeriod: time.Duration(cfg.Controller.MinimumSchedulingMillis) * time.Millisecond,
	}

	return controller.New(cfg.Controller.ControllerID, cfg.Controller.RootGroupID, deps, tunables, dial), nil
}

// resolveRepo resolves a config.RepositoryConfig's implementation
// class through the registry, type-asserts it to T, and configures it;
// the generic parameter lets one helper serve all five swappable
// collaborator kinds instead of five near-identical functions.
func resolveRepo[T any](pluginType registry.PluginType, controllerID string, rc config.RepositoryConfig) (T, error) {
	var zero T
	p, err := registry.Get(pluginType, rc.Implementation)
	if err != nil {
		return zero, errors.Trace(err)
	}
	impl, ok := p.(T)
	if !ok {
		return zero, errors.Errorf("class %q does not implement the expected repository contract", rc.Implementation)
	}
	if err := p.Configure(controllerID, rc.Config); err != nil {
		return zero, errors.Annotatef(err, "configure %q", rc.Implementation)
	}
	return impl, nil
}
