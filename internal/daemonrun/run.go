// Package daemonrun assembles and runs the loomd daemon process: logging,
// stores, the governance engine, the workflow manager, the IPC server, and
// signal handling.
package daemonrun

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"loom/internal/api"
	"loom/internal/cascade"
	"loom/internal/config"
	"loom/internal/daemon"
	"loom/internal/governance"
	"loom/internal/ipc"
	"loom/internal/logging"
	"loom/internal/queue"
	"loom/internal/substrate"
	"loom/internal/workflow"
	"loom/internal/workitem"
)

// Options configures daemon process runtime behavior. Handlers supplies the
// stage implementations of the embedding process; without any the daemon
// serves the control plane only.
type Options struct {
	LogLevel   string
	SocketPath string
	Handlers   map[workitem.Type]workflow.Handler
}

// Run starts the loom daemon runtime loop and blocks until a signal arrives.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}

	runID := time.Now().UTC().Format("20060102T150405.000Z")
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("loomd-%s.log", runID))
	logger, err := logging.New(logging.Options{
		Level:            defaultLevel(opts.LogLevel, cfg.Logging.Level),
		Format:           cfg.Logging.Format,
		OutputPaths:      []string{"stdout", logPath},
		ErrorOutputPaths: []string{"stderr", logPath},
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if err := ensureCurrentLogPointer(cfg.Paths.LogDir, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update loomd.log link: %v\n", err)
	}

	pidPath := filepath.Join(cfg.Paths.LogDir, "loomd.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	registry, err := workitem.NewRegistry(cfg.Pipeline.Sequence)
	if err != nil {
		return fmt.Errorf("build stage registry: %w", err)
	}

	store, err := queue.Open(cfg, registry)
	if err != nil {
		logger.Error("open queue store", logging.Error(err))
		return err
	}
	defer store.Close()

	entities, err := substrate.Open(cfg)
	if err != nil {
		logger.Error("open entity store", logging.Error(err))
		return err
	}
	defer entities.Close()

	proposals, err := governance.Open(cfg)
	if err != nil {
		logger.Error("open proposal store", logging.Error(err))
		return err
	}
	defer proposals.Close()

	engine := governance.NewEngine(proposals, entities, cfg.Governance, logger)

	cascades, err := cascade.NewManager(store, registry, cfg.Pipeline.Cascades, logger)
	if err != nil {
		logger.Error("build cascade manager", logging.Error(err))
		return err
	}

	manager := workflow.NewManager(cfg, store, cascades, registry, logger)
	for tag, handler := range opts.Handlers {
		if err := manager.RegisterHandler(tag, handler); err != nil {
			return fmt.Errorf("register handler for %q: %w", tag, err)
		}
	}

	d, err := daemon.New(cfg, store, logger, manager,
		api.NewWorkService(store, registry),
		api.NewProposalService(engine),
		logPath)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	socketPath := opts.SocketPath
	if socketPath == "" {
		socketPath = filepath.Join(cfg.Paths.LogDir, "loom.sock")
	}
	ipcServer, err := ipc.NewServer(signalCtx, socketPath, d, logger)
	if err != nil {
		return fmt.Errorf("start IPC server: %w", err)
	}
	defer ipcServer.Close()
	ipcServer.Serve()

	if err := d.Start(signalCtx); err != nil {
		logger.Warn("daemon start failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "daemon_start_failed"))
	}

	<-signalCtx.Done()
	logger.Info("loom daemon shutting down")
	return nil
}

func defaultLevel(override, configured string) string {
	if override != "" {
		return override
	}
	return configured
}

func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, "loomd.log")
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}
