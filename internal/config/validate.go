package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateRedis(); err != nil {
		return err
	}
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		return errors.New("paths.data_dir must be set")
	}
	if strings.TrimSpace(c.Paths.StagingDir) == "" {
		return errors.New("paths.staging_dir must be set")
	}
	if strings.TrimSpace(c.Paths.APIBind) == "" {
		return errors.New("paths.api_bind must be set")
	}
	return nil
}

func (c *Config) validateRedis() error {
	uri := strings.TrimSpace(c.Redis.URI)
	if uri == "" {
		return errors.New("redis.uri must be set")
	}
	if !strings.HasPrefix(uri, "redis://") && !strings.HasPrefix(uri, "rediss://") {
		return fmt.Errorf("redis.uri %q must use the redis:// or rediss:// scheme", uri)
	}
	return nil
}

func (c *Config) validatePipeline() error {
	if c.Pipeline.MaxAttempts < 1 {
		return errors.New("pipeline.max_attempts must be at least 1")
	}
	if c.Pipeline.TimeoutSeconds < 1 {
		return errors.New("pipeline.timeout_seconds must be at least 1")
	}
	if c.Pipeline.BackoffBaseSeconds < 1 {
		return errors.New("pipeline.backoff_base_seconds must be at least 1")
	}
	if c.Pipeline.BackoffCapSeconds < c.Pipeline.BackoffBaseSeconds {
		return errors.New("pipeline.backoff_cap_seconds must not be below backoff_base_seconds")
	}
	for name, limits := range c.Pipeline.StageOverrides {
		if limits.TimeoutSeconds < 0 || limits.MaxAttempts < 0 {
			return fmt.Errorf("pipeline.stage_overrides.%s must not use negative values", name)
		}
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if c.Workflow.Concurrency < 1 {
		return errors.New("workflow.concurrency must be at least 1")
	}
	if c.Workflow.SweepInterval < 1 {
		return errors.New("workflow.sweep_interval must be at least 1")
	}
	if c.Workflow.LeaseTTL < 1 {
		return errors.New("workflow.lease_ttl must be at least 1")
	}
	if c.Workflow.HeartbeatInterval < 1 {
		return errors.New("workflow.heartbeat_interval must be at least 1")
	}
	if c.Workflow.HeartbeatInterval*2 > c.Workflow.LeaseTTL {
		return errors.New("workflow.lease_ttl must be at least twice heartbeat_interval")
	}
	if c.Workflow.DailyContentEnabled && strings.TrimSpace(c.Workflow.DailyCron) == "" {
		return errors.New("workflow.daily_cron must be set when daily_content_enabled is true")
	}
	if c.Workflow.DailyContentEnabled && strings.TrimSpace(c.Series.Title) == "" {
		return errors.New("series.title must be set when daily_content_enabled is true")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch strings.ToLower(strings.TrimSpace(c.Logging.Format)) {
	case "", "console", "json":
	default:
		return fmt.Errorf("logging.format %q must be console or json", c.Logging.Format)
	}
	return nil
}

func (c *Config) normalize() error {
	var err error
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return err
	}
	if c.Paths.StagingDir, err = expandPath(c.Paths.StagingDir); err != nil {
		return err
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return err
	}
	if c.Assembly.BackgroundImage, err = expandPath(c.Assembly.BackgroundImage); err != nil {
		return err
	}

	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	c.Redis.URI = strings.TrimSpace(c.Redis.URI)
	c.Script.APIKey = strings.TrimSpace(c.Script.APIKey)
	c.Voice.APIKey = strings.TrimSpace(c.Voice.APIKey)
	c.Publish.APIKey = strings.TrimSpace(c.Publish.APIKey)
	c.Workflow.DailyCron = strings.TrimSpace(c.Workflow.DailyCron)
	return nil
}
