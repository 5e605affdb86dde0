package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var supportedModels = map[string]struct{}{
	"assemblyai": {},
	"gemini":     {},
}

var supportedConversionFormats = map[string]struct{}{
	"mp3":  {},
	"wav":  {},
	"m4a":  {},
	"flac": {},
	"ogg":  {},
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateQueue(); err != nil {
		return err
	}
	if err := c.validateWorker(); err != nil {
		return err
	}
	if err := c.validateWorkspace(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	if c.Notifications.RequestTimeout < 0 {
		return errors.New("notifications.request_timeout must be >= 0")
	}
	return nil
}

func (c *Config) validateQueue() error {
	if c.Queue.MaxBatch <= 0 {
		return errors.New("queue.max_batch must be positive")
	}
	if c.Queue.MaxPersisted <= 0 {
		return errors.New("queue.max_persisted must be positive")
	}
	if c.Queue.MaxPersisted < c.Queue.MaxBatch {
		return fmt.Errorf("queue.max_persisted (%d) must be >= queue.max_batch (%d)", c.Queue.MaxPersisted, c.Queue.MaxBatch)
	}
	if c.Queue.ExtractionTimeoutSeconds <= 0 {
		return errors.New("queue.extraction_timeout must be positive")
	}
	if c.Queue.SubmitTimeoutSeconds <= 0 {
		return errors.New("queue.submit_timeout must be positive")
	}
	if c.Queue.FallbackCeilingMiB < 0 {
		return errors.New("queue.fallback_ceiling_mib must be >= 0")
	}
	if c.Queue.RecentLimit < 0 {
		return errors.New("queue.recent_limit must be >= 0")
	}
	return nil
}

func (c *Config) validateWorker() error {
	if _, ok := supportedModels[c.Worker.DefaultModel]; !ok {
		return fmt.Errorf("worker.default_model %q is not supported (use assemblyai or gemini)", c.Worker.DefaultModel)
	}
	if _, ok := supportedConversionFormats[c.Worker.ConversionFormat]; !ok {
		return fmt.Errorf("worker.conversion_format %q is not supported", c.Worker.ConversionFormat)
	}
	if c.Worker.BaseURL == "" {
		return errors.New("worker.base_url must be set")
	}
	parsed, err := url.Parse(c.Worker.BaseURL)
	if err != nil {
		return fmt.Errorf("worker.base_url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("worker.base_url must use http or https, got %q", parsed.Scheme)
	}
	return nil
}

func (c *Config) validateWorkspace() error {
	if c.Workspace.CoordinatorIntervalSeconds <= 0 {
		return errors.New("workspace.coordinator_interval must be positive")
	}
	if c.Workspace.CoordinatorStaleSeconds <= c.Workspace.CoordinatorIntervalSeconds {
		return errors.New("workspace.coordinator_stale_after must exceed workspace.coordinator_interval")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format %q is not supported (use console or json)", c.Logging.Format)
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not supported", c.Logging.Level)
	}
	if c.Logging.RetentionDays < 0 {
		return errors.New("logging.retention_days must be >= 0")
	}
	return nil
}

// SupportedModel reports whether the transcription model is known.
func SupportedModel(model string) bool {
	_, ok := supportedModels[strings.ToLower(strings.TrimSpace(model))]
	return ok
}

// SupportedConversionFormat reports whether the conversion target is known.
func SupportedConversionFormat(format string) bool {
	_, ok := supportedConversionFormats[strings.ToLower(strings.TrimPrefix(strings.TrimSpace(format), "."))]
	return ok
}
