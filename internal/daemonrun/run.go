package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"ffqueue/internal/config"
	"ffqueue/internal/daemon"
	"ffqueue/internal/deps"
	"ffqueue/internal/encoding"
	"ffqueue/internal/ipc"
	"ffqueue/internal/logging"
	"ffqueue/internal/queue"
)

// ipcDrainTimeout bounds how long exit waits for IPC replies in flight.
const ipcDrainTimeout = 2 * time.Second

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
	// SocketPath overrides the configured IPC socket.
	SocketPath string
}

// Run starts the ffqueue daemon and blocks until it is signalled or asked
// to stop over IPC.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger, err := newLogger(cfg, opts)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logDependencySnapshot(signalCtx, logger, cfg)

	pidPath := cfg.PIDPath()
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	store, err := queue.Open(cfg)
	if err != nil {
		logging.ErrorWithContext(logger, "open queue store", "store_open_failed", logging.Error(err))
		return err
	}

	d, err := daemon.New(cfg, store, encoding.NewFFmpegFromConfig(cfg, logger), logger)
	if err != nil {
		_ = store.Close()
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	socketPath := strings.TrimSpace(opts.SocketPath)
	if socketPath == "" {
		socketPath = cfg.SocketPath()
	}
	ipcServer, err := ipc.NewServer(signalCtx, socketPath, d, logger, ipc.WithShutdown(cancel))
	if err != nil {
		return fmt.Errorf("start IPC server: %w", err)
	}
	ipcServer.Serve()
	defer func() {
		ipcServer.Close()
		drained := make(chan struct{})
		go func() {
			ipcServer.Wait()
			close(drained)
		}()
		select {
		case <-drained:
		case <-time.After(ipcDrainTimeout):
		}
	}()

	if err := d.Start(signalCtx); err != nil {
		logging.ErrorWithContext(logger, "daemon start failed", "daemon_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check configuration and queue database access"),
		)
		return err
	}

	<-signalCtx.Done()
	logger.Info("ffqueue daemon shutting down")
	return nil
}

func newLogger(cfg *config.Config, opts Options) (*slog.Logger, error) {
	if opts.LogLevel == "" && !opts.Development {
		return logging.NewFromConfig(cfg)
	}
	level := opts.LogLevel
	if level == "" {
		level = cfg.Logging.Level
	}
	return logging.New(logging.Options{
		Level:       level,
		Format:      cfg.Logging.Format,
		OutputPaths: []string{"stdout", filepath.Join(cfg.Paths.LogDir, "ffqueue.log")},
		Development: opts.Development,
	})
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logDependencySnapshot(ctx context.Context, logger *slog.Logger, cfg *config.Config) {
	statuses := deps.CheckEncoder(ctx, cfg)
	attrs := []any{
		logging.String(logging.FieldEventType, "dependency_snapshot"),
		logging.String("concurrency_mode", cfg.Queue.ConcurrencyMode),
		logging.Int("presets", len(cfg.Presets)),
	}
	for _, s := range statuses {
		key := strings.ToLower(s.Name)
		attrs = append(attrs,
			logging.Bool(key+"_available", s.Available),
			logging.String(key+"_binary", s.Command),
		)
		if s.Version != "" {
			attrs = append(attrs, logging.String(key+"_version", s.Version))
		}
	}
	logger.Info("dependency snapshot", attrs...)
	for _, s := range deps.Missing(statuses) {
		logging.WarnWithContext(logger, "encoder dependency not found", "dependency_missing",
			logging.String("dependency", s.Name),
			logging.String("binary", s.Command),
			logging.String(logging.FieldImpact, "encodes that need it fail until it is installed"),
			logging.String(logging.FieldErrorHint, "install ffmpeg or set encoder.ffmpeg_binary / encoder.ffprobe_binary"),
		)
	}
}
