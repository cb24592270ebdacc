package main

import (
	"fmt"
	"os"
	"time"

	"codelens/internal/common/cache"
	"codelens/internal/common/mq"
	"codelens/internal/runner/sandbox"
	"codelens/internal/runner/sandbox/spec"
	"codelens/internal/runner/service"
	"codelens/pkg/utils/logger"

	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr        = "0.0.0.0:8090"
	defaultReadTimeout     = 5 * time.Second
	defaultWriteTimeout    = 10 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second

	defaultBatchEventTopic = "runner.batch.completed"
	defaultStatusTTL       = 30 * time.Minute
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
}

// ProfileConfig overrides one category's execution profile.
type ProfileConfig struct {
	Category       string        `yaml:"category"`
	Image          string        `yaml:"image"`
	CPULimit       string        `yaml:"cpuLimit"`
	MemoryLimit    string        `yaml:"memoryLimit"`
	DefaultTimeout time.Duration `yaml:"defaultTimeout"`
}

// RunnerConfig holds execution settings.
type RunnerConfig struct {
	Governor        service.GovernorConfig `yaml:"governor"`
	Watcher         sandbox.WatcherConfig  `yaml:"watcher"`
	Sweeper         sandbox.SweeperConfig  `yaml:"sweeper"`
	StatusTTL       time.Duration          `yaml:"statusTTL"`
	BatchEventTopic string                 `yaml:"batchEventTopic"`
	Profiles        []ProfileConfig        `yaml:"profiles"`
}

// AppConfig holds runner-service configuration.
type AppConfig struct {
	Server ServerConfig       `yaml:"server"`
	Logger logger.Config      `yaml:"logger"`
	Kube   sandbox.KubeConfig `yaml:"kube"`
	Redis  cache.RedisConfig  `yaml:"redis"`
	Kafka  mq.KafkaConfig     `yaml:"kafka"`
	Runner RunnerConfig       `yaml:"runner"`
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

func loadAppConfig(path string) (*AppConfig, error) {
	var cfg AppConfig
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultHTTPAddr
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = defaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = defaultIdleTimeout
	}
	if cfg.Runner.StatusTTL == 0 {
		cfg.Runner.StatusTTL = defaultStatusTTL
	}
	if cfg.Runner.BatchEventTopic == "" {
		cfg.Runner.BatchEventTopic = defaultBatchEventTopic
	}
	return &cfg, nil
}

// profileOverrides converts the yaml profile entries into the typed form.
func (c RunnerConfig) profileOverrides() []spec.CategoryProfile {
	overrides := make([]spec.CategoryProfile, 0, len(c.Profiles))
	for _, p := range c.Profiles {
		overrides = append(overrides, spec.CategoryProfile{
			Category:       spec.TestCategory(p.Category),
			Image:          p.Image,
			CPULimit:       p.CPULimit,
			MemoryLimit:    p.MemoryLimit,
			DefaultTimeout: p.DefaultTimeout,
		})
	}
	return overrides
}
