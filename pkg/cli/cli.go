// Package cli implements the guapow_opt daemon's command line: flag
// parsing, settings loading, key publication, and the run/shutdown loop
// tying the transport listener to the request pipeline.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/guapow/opt/internal/runtime"
	"github.com/guapow/opt/internal/security"
	"github.com/guapow/opt/pkg/cli/base"
	"github.com/guapow/opt/pkg/session"
	"github.com/guapow/opt/pkg/settings"
	"github.com/guapow/opt/pkg/sysutil/proc"
	"github.com/guapow/opt/pkg/transport"
	"github.com/prometheus/common/promslog"
	"github.com/prometheus/common/promslog/flag"
	"github.com/prometheus/common/version"
	"kernel.org/pub/linux/libs/security/libcap/cap"
)

// shutdownBudget bounds how long the daemon waits for every in-flight
// Session to finish its rollback phase on SIGINT/SIGTERM before exiting
// anyway.
const shutdownBudget = 10 * time.Second

// OptServer represents the `guapow_opt` CLI.
type OptServer struct {
	App kingpin.Application
}

// NewOptServer creates a new OptServer instance.
func NewOptServer() (*OptServer, error) {
	return &OptServer{App: base.App}, nil
}

// appCaps are the capabilities the daemon keeps permitted (never effective
// except inside a privileged applier) so it can renice/reprioritize/reschedule
// processes it does not own after dropping out of root.
var appCaps = []cap.Value{cap.SYS_NICE, cap.SYS_RESOURCE} //nolint:gochecknoglobals

// Main is the entry point of the `guapow_opt` command.
func (o *OptServer) Main() error {
	defaultRunAsUser, err := security.DefaultRunAsUser()
	if err != nil {
		return err
	}

	var (
		configFile = o.App.Flag(
			"config.file",
			"Path to the guapow_opt configuration file (opt.conf). Defaults to the user then system config path.",
		).Envar("GUAPOW_OPT_CONFIG").Default("").String()
		keyDir = o.App.Flag(
			"request.key-dir",
			"Directory the daemon publishes its ephemeral request-encryption key under.",
		).Default(transport.DefaultKeyDir()).String()
		runAsUser = o.App.Flag(
			"security.run-as-user",
			"User the daemon drops to when started as root. Accepts a username or uid. Ignored when already unprivileged.",
		).Default(defaultRunAsUser).String()
		dropPrivileges = o.App.Flag(
			"security.drop-privileges",
			"Drop privileges and run as security.run-as-user when started as root.",
		).Default("true").Hidden().Bool()
		disableCapAwareness = o.App.Flag(
			"security.disable-cap-awareness",
			"Disable capability awareness and run as a fully privileged process.",
		).Default("false").Hidden().Bool()
	)

	promslogConfig := &promslog.Config{}
	flag.AddFlags(&o.App, promslogConfig)
	o.App.Version(version.Print(base.AppName))
	o.App.UsageWriter(os.Stdout)
	o.App.HelpFlag.Short('h')

	if _, err := o.App.Parse(os.Args[1:]); err != nil {
		return fmt.Errorf("failed to parse CLI flags: %w", err)
	}

	logger := promslog.New(promslogConfig)

	logger.Info("starting "+base.AppName, "version", version.Info())
	logger.Info("build context", "build_context", version.BuildContext())
	logger.Debug("host", "uname", runtime.Uname(), "fd_limits", runtime.FdLimits())

	if online, err := proc.OnlineCPUs(); err != nil {
		logger.Warn("failed to read online CPUs", "err", err)
	} else {
		logger.Debug("host", "online_cpus", online)
	}

	securityManager, err := security.NewManager(&security.Config{
		RunAsUser: *runAsUser,
		Caps:      appCaps,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create security manager: %w", err)
	}

	if *dropPrivileges {
		if err := securityManager.DropPrivileges(*disableCapAwareness); err != nil {
			return fmt.Errorf("failed to drop privileges: %w", err)
		}
	}

	cfgPath, err := settings.ResolvePath(*configFile)
	if err != nil {
		return fmt.Errorf("failed to resolve config path: %w", err)
	}

	cfg, err := settings.Load(cfgPath, logger)
	if err != nil {
		return fmt.Errorf("failed to load settings from %s: %w", cfgPath, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pipeline, err := session.New(cfg, dirs(), logger)
	if err != nil {
		return fmt.Errorf("failed to build optimizer pipeline: %w", err)
	}

	// With gpu.cache on, an interactively started daemon pre-warms the
	// GPU map now; under a system service probing stays lazy until the
	// first request, when vendor tooling and the display stack are up.
	if cfg.GPUCache && !runningAsService() {
		pipeline.WarmGPUMap()
	}

	key, err := transport.GenerateKey()
	if err != nil {
		return err
	}

	if cfg.RequestEncrypted {
		keyPath, err := transport.PublishKey(*keyDir, key, cfg.RequestAllowedUsers)
		if err != nil {
			return fmt.Errorf("failed to publish request key: %w", err)
		}

		logger.Info("published request key", "path", keyPath)
	}

	server := transport.NewServer(transport.Config{
		Port:         cfg.Port,
		Key:          key,
		Encrypted:    cfg.RequestEncrypted,
		AllowedUsers: cfg.RequestAllowedUsers,
		Logger:       logger,
	}, pipeline.Handle)

	serveErr := make(chan error, 1)

	go func() {
		serveErr <- server.ListenAndServe(ctx)
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("transport listener exited", "err", err)

			return err
		}
	case <-ctx.Done():
	}

	stop()
	logger.Info("shutting down gracefully, press Ctrl+C again to force")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownBudget)
	defer cancel()

	pipeline.Shutdown(shutdownCtx)

	logger.Info("see you next time")

	return nil
}

// runningAsService reports whether the daemon was started by systemd as
// a service unit, detected via the INVOCATION_ID variable systemd sets
// for every unit it spawns.
func runningAsService() bool {
	return os.Getenv("INVOCATION_ID") != ""
}

// dirs resolves the user/system profile and launcher config directories,
// user directory taking precedence.
func dirs() session.Dirs {
	d := session.Dirs{SystemConfigDir: "/etc/guapow"}

	if home, err := os.UserHomeDir(); err == nil {
		d.UserConfigDir = filepath.Join(home, ".config", "guapow")
	}

	return d
}
