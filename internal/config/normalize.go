package config

import (
	"fmt"
	"os"
	"os/user"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeWorkspace(); err != nil {
		return err
	}
	c.normalizeSession()
	c.normalizeWorker()
	c.normalizeMedia()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeWorkspace() error {
	root := strings.TrimSpace(c.Workspace.Root)
	if root == "" {
		c.Workspace.Root = ""
		return nil
	}
	expanded, err := expandPath(root)
	if err != nil {
		return fmt.Errorf("workspace.root: %w", err)
	}
	c.Workspace.Root = expanded
	return nil
}

func (c *Config) normalizeSession() {
	c.Session.UserID = strings.TrimSpace(c.Session.UserID)
	if c.Session.UserID != "" {
		return
	}
	if value, ok := os.LookupEnv("MEDIADESK_USER"); ok && strings.TrimSpace(value) != "" {
		c.Session.UserID = strings.TrimSpace(value)
		return
	}
	if current, err := user.Current(); err == nil && strings.TrimSpace(current.Username) != "" {
		c.Session.UserID = strings.TrimSpace(current.Username)
		return
	}
	c.Session.UserID = "local"
}

func (c *Config) normalizeWorker() {
	c.Worker.BaseURL = strings.TrimRight(strings.TrimSpace(c.Worker.BaseURL), "/")
	c.Worker.APIKey = strings.TrimSpace(c.Worker.APIKey)
	if c.Worker.APIKey == "" {
		if value, ok := os.LookupEnv("MEDIADESK_WORKER_API_KEY"); ok {
			c.Worker.APIKey = strings.TrimSpace(value)
		}
	}
	c.Worker.DefaultModel = strings.ToLower(strings.TrimSpace(c.Worker.DefaultModel))
	if c.Worker.DefaultModel == "" {
		c.Worker.DefaultModel = defaultWorkerModel
	}
	c.Worker.ConversionFormat = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(c.Worker.ConversionFormat), "."))
	if c.Worker.ConversionFormat == "" {
		c.Worker.ConversionFormat = defaultConversionFormat
	}
}

func (c *Config) normalizeMedia() {
	if strings.TrimSpace(c.Media.FFmpegBinary) == "" {
		c.Media.FFmpegBinary = defaultFFmpegBinary
	}
	if strings.TrimSpace(c.Media.FFprobeBinary) == "" {
		c.Media.FFprobeBinary = defaultFFprobeBinary
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
