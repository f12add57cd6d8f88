package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"ffqueue/internal/config"
	"ffqueue/internal/daemon"
	"ffqueue/internal/encoding"
	"ffqueue/internal/ipc"
	"ffqueue/internal/logging"
	"ffqueue/internal/queue"
	"ffqueue/internal/testsupport"
)

// holdEncoder keeps every encode running until it is stopped.
type holdEncoder struct{}

func (holdEncoder) Start(_ context.Context, req encoding.Request, _ encoding.Events) (encoding.Handle, error) {
	if err := os.WriteFile(req.OutputPath, []byte("partial"), 0o644); err != nil {
		return nil, err
	}
	return &holdHandle{done: make(chan struct{})}, nil
}

func (holdEncoder) Join(context.Context, queue.ConcatPlan, string) error { return nil }

func (holdEncoder) ProbeDuration(context.Context, string) (float64, error) { return 60, nil }

type holdHandle struct {
	once   sync.Once
	done   chan struct{}
	result encoding.Result
}

func (h *holdHandle) end(res encoding.Result) {
	h.once.Do(func() {
		h.result = res
		close(h.done)
	})
}

func (h *holdHandle) RequestStop() error {
	h.end(encoding.Result{Stopped: true, LastProgress: encoding.Progress{TimelineSeconds: 10}})
	return nil
}

func (h *holdHandle) Abort() { h.end(encoding.Result{Aborted: true}) }

func (h *holdHandle) Terminate(time.Duration) { h.Abort() }

func (h *holdHandle) Wait() encoding.Result {
	<-h.done
	return h.result
}

type cliTestEnv struct {
	cfg        *config.Config
	store      *queue.Store
	daemon     *daemon.Daemon
	socketPath string
	configPath string
}

// writeConfigFile persists cfg so CLI invocations load the same settings.
func writeConfigFile(t *testing.T, cfg *config.Config) string {
	t.Helper()
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	path := filepath.Join(testsupport.BaseDir(cfg), "config.toml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	t.Setenv("HOME", t.TempDir())
	cfg := testsupport.NewConfig(t)
	cfg.Paths.APIBind = ""
	configPath := writeConfigFile(t, cfg)
	store := testsupport.MustOpenStore(t, cfg)
	logger := logging.NewNop()

	d, err := daemon.New(cfg, store, holdEncoder{}, logger)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() { d.Stop() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	socket := cfg.SocketPath()
	srv, err := ipc.NewServer(ctx, socket, d, logger)
	if err != nil {
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping CLI test: %v", err)
		}
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()
	t.Cleanup(srv.Close)

	return &cliTestEnv{
		cfg:        cfg,
		store:      store,
		daemon:     d,
		socketPath: socket,
		configPath: configPath,
	}
}

func runCLI(t *testing.T, args []string, socket, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	full := make([]string, 0, len(args)+4)
	if socket != "" {
		full = append(full, "--socket", socket)
	}
	if configPath != "" {
		full = append(full, "--config", configPath)
	}
	cmd.SetArgs(append(full, args...))
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, haystack, needle string) {
	t.Helper()
	if !strings.Contains(haystack, needle) {
		t.Fatalf("expected output to contain %q\noutput:\n%s", needle, haystack)
	}
}
