package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"logsentinel/internal/checkpoint"
	"logsentinel/internal/config"
	"logsentinel/internal/daemon"
	"logsentinel/internal/history"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configPath string
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, resolved, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.configPath = resolved
	})
	return c.config, c.configErr
}

func (c *commandContext) checkpoints() (*checkpoint.Store, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return checkpoint.New(cfg.Paths.StateDir, cfg.StateNamespace(), nil)
}

// openHistory opens the namespaced history database read-write.
func (c *commandContext) openHistory() (*history.Store, error) {
	store, err := c.checkpoints()
	if err != nil {
		return nil, err
	}
	return history.Open(filepath.Join(store.Dir(), history.FileName))
}

// requireStopped fails when a daemon currently holds the lock.
func (c *commandContext) requireStopped(action string) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	running, err := daemon.IsRunning(cfg)
	if err != nil {
		return err
	}
	if running {
		return fmt.Errorf("%s: %w; stop the daemon first", action, daemon.ErrAlreadyRunning)
	}
	return nil
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

var errSourceRequired = errors.New("source id is required")
