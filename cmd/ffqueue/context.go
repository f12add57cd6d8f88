package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"ffqueue/internal/config"
	"ffqueue/internal/ipc"
)

// globalFlags holds the persistent flags shared by every subcommand.
type globalFlags struct {
	socket string
	config string
}

// commandContext resolves configuration lazily so commands that never touch
// it (config init) work without a valid file.
type commandContext struct {
	flags *globalFlags

	load   sync.Once
	cfg    *config.Config
	cfgErr error
}

func newCommandContext(flags *globalFlags) *commandContext {
	return &commandContext{flags: flags}
}

func (c *commandContext) configPath() string {
	return strings.TrimSpace(c.flags.config)
}

// socketOverride is the --socket value, or "" when unset.
func (c *commandContext) socketOverride() string {
	return strings.TrimSpace(c.flags.socket)
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.load.Do(func() {
		cfg, _, _, err := config.Load(c.configPath())
		if err == nil {
			err = cfg.EnsureDirectories()
		}
		if err != nil {
			c.cfgErr = err
			return
		}
		c.cfg = cfg
	})
	return c.cfg, c.cfgErr
}

func (c *commandContext) configValue() *config.Config {
	cfg, _ := c.ensureConfig()
	return cfg
}

func (c *commandContext) socketPath() string {
	if socket := c.socketOverride(); socket != "" {
		return socket
	}
	if cfg := c.configValue(); cfg != nil {
		return cfg.SocketPath()
	}
	return defaultSocketPath()
}

func (c *commandContext) withClient(fn func(*ipc.Client) error) error {
	client, err := c.dialClient()
	if err != nil {
		return err
	}
	defer client.Close()
	return fn(client)
}

func (c *commandContext) dialClient() (*ipc.Client, error) {
	socket := c.socketPath()
	client, err := ipc.Dial(socket)
	if err != nil {
		return nil, wrapDialError(err, socket)
	}
	return client, nil
}

func wrapDialError(err error, socket string) error {
	if errors.Is(err, syscall.ENOENT) || errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("connect to daemon: no socket at %s (run `ffqueue start`)", socket)
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return fmt.Errorf("connect to daemon: %s refused the connection; the daemon may have crashed", socket)
	}
	return fmt.Errorf("connect to daemon: %w", err)
}

func defaultSocketPath() string {
	dataDir, err := config.ExpandPath(config.Default().Paths.DataDir)
	if err != nil {
		dataDir = os.TempDir()
	}
	return filepath.Join(dataDir, "ffqueue.sock")
}

const skipConfigAnnotation = "skipConfigLoad"

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations[skipConfigAnnotation] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
