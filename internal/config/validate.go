package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateQueue(); err != nil {
		return err
	}
	if err := c.validatePresets(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateQueue() error {
	switch c.Queue.ConcurrencyMode {
	case ConcurrencyUnified:
		if c.Queue.MaxParallel <= 0 {
			return errors.New("queue.max_parallel must be positive in unified mode")
		}
	case ConcurrencySplit:
		if c.Queue.MaxParallelCPU <= 0 {
			return errors.New("queue.max_parallel_cpu must be positive in split mode")
		}
		if c.Queue.MaxParallelHW <= 0 {
			return errors.New("queue.max_parallel_hw must be positive in split mode")
		}
	default:
		return fmt.Errorf("queue.concurrency_mode: unsupported value %q (use %q or %q)", c.Queue.ConcurrencyMode, ConcurrencyUnified, ConcurrencySplit)
	}
	return nil
}

func (c *Config) validatePresets() error {
	if len(c.Presets) == 0 {
		return errors.New("at least one [[presets]] entry is required")
	}
	seen := make(map[string]struct{}, len(c.Presets))
	for i, p := range c.Presets {
		if p.ID == "" {
			return fmt.Errorf("presets[%d].id must be set", i)
		}
		if _, dup := seen[p.ID]; dup {
			return fmt.Errorf("presets[%d].id %q is duplicated", i, p.ID)
		}
		seen[p.ID] = struct{}{}
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}
