// internal/config/config.go
package config

import (
	"fmt"
	"net"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Prometheus PrometheusConfig `yaml:"prometheus"`
	Logging    LoggingConfig    `yaml:"logging"`

	// Hosts may be listed inline and/or loaded from a hosts file in
	// "hostname,address" format. Both feed the same host list.
	HostsFile string       `yaml:"hosts_file"`
	Hosts     []HostConfig `yaml:"hosts"`
}

type ServerConfig struct {
	Port         string        `yaml:"port"`
	Workers      int           `yaml:"workers"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type MonitoringConfig struct {
	Interval      time.Duration `yaml:"interval"`
	ProbeAttempts int           `yaml:"probe_attempts"`
	ProbeTimeout  time.Duration `yaml:"probe_timeout"`
	Privileged    bool          `yaml:"privileged"`
}

type PrometheusConfig struct {
	Enabled     bool   `yaml:"enabled"`
	MetricsPath string `yaml:"metrics_path"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type HostConfig struct {
	Hostname string `yaml:"hostname"`
	Address  string `yaml:"address"`
}

// Load reads and parses the config file, filling in defaults.
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Defaults()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	config.applyDefaults()

	return config, nil
}

// Defaults returns a config with every knob at its default value.
func Defaults() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = ":8082"
	}
	if c.Server.Workers <= 0 {
		c.Server.Workers = 8
	}
	if c.Server.ReadTimeout <= 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	if c.Server.WriteTimeout <= 0 {
		c.Server.WriteTimeout = 15 * time.Second
	}
	if c.Database.Path == "" {
		c.Database.Path = "watchpost.db"
	}
	if c.Monitoring.Interval <= 0 {
		c.Monitoring.Interval = 10 * time.Second
	}
	if c.Monitoring.ProbeAttempts <= 0 {
		c.Monitoring.ProbeAttempts = 3
	}
	if c.Monitoring.ProbeTimeout <= 0 {
		c.Monitoring.ProbeTimeout = 5 * time.Second
	}
	if c.Prometheus.MetricsPath == "" {
		c.Prometheus.MetricsPath = "/metrics"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// HostList returns every validly configured host, inline entries first,
// then the hosts file. Invalid entries are returned as errors instead of
// blocking the rest: one bad host never stops monitoring of the others.
func (c *Config) HostList() ([]HostConfig, []error) {
	var hosts []HostConfig
	var errs []error

	for i, host := range c.Hosts {
		if err := validateHost(host); err != nil {
			errs = append(errs, fmt.Errorf("hosts[%d]: %w", i, err))
			continue
		}
		hosts = append(hosts, host)
	}

	if c.HostsFile != "" {
		fileHosts, fileErrs, err := LoadHostsFile(c.HostsFile)
		if err != nil {
			errs = append(errs, err)
		} else {
			hosts = append(hosts, fileHosts...)
			errs = append(errs, fileErrs...)
		}
	}

	return hosts, errs
}

func validateHost(host HostConfig) error {
	if host.Hostname == "" {
		return fmt.Errorf("hostname is required")
	}
	if net.ParseIP(host.Address) == nil {
		return fmt.Errorf("invalid address %q for host %s", host.Address, host.Hostname)
	}
	return nil
}
