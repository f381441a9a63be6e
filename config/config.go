// Package config loads the reaper's settings: built-in defaults, then an
// optional YAML file, then environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"tunnel-reaper/discovery"
	"tunnel-reaper/loadbalance"
	"tunnel-reaper/orchestrator"
)

type Config struct {
	Listen   string `yaml:"listen"`
	LogLevel string `yaml:"log_level"`
	LogJSON  bool   `yaml:"log_json"`

	// Production selects discovered addressing for the orchestrator.
	Production bool `yaml:"production"`

	DNS       DNSConfig       `yaml:"dns"`
	Nomad     NomadConfig     `yaml:"nomad"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Registry  RegistryConfig  `yaml:"registry"`
}

type DNSConfig struct {
	Resolver      string        `yaml:"resolver"`
	SearchDomains []string      `yaml:"search_domains"`
	Timeout       time.Duration `yaml:"timeout"`
	PriorityOrder string        `yaml:"priority_order"` // highest | lowest
	Balancer      string        `yaml:"balancer"`
}

type NomadConfig struct {
	Host              string        `yaml:"host"`
	ServiceName       string        `yaml:"service_name"`
	Port              int           `yaml:"port"`
	UseDiscoveredPort bool          `yaml:"use_discovered_port"`
	Token             string        `yaml:"token"`
	Namespace         string        `yaml:"namespace"`
	Region            string        `yaml:"region"`
	Timeout           time.Duration `yaml:"timeout"`
	RateLimit         float64       `yaml:"rate_limit"`
	Burst             int           `yaml:"burst"`
	Retries           int           `yaml:"retries"`
	RetryBaseDelay    time.Duration `yaml:"retry_base_delay"`
}

type SchedulerConfig struct {
	JobClass     string        `yaml:"job_class"`
	RetryDelay   time.Duration `yaml:"retry_delay"`
	Interval     time.Duration `yaml:"interval"`
	Jitter       time.Duration `yaml:"jitter"`
	SweepTimeout time.Duration `yaml:"sweep_timeout"`
	TaskTimeout  time.Duration `yaml:"task_timeout"`
	Workers      int           `yaml:"workers"`
}

type RegistryConfig struct {
	Backend     string        `yaml:"backend"` // memory | etcd
	Endpoints   []string      `yaml:"endpoints"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
	Prefix      string        `yaml:"prefix"`
	Retention   time.Duration `yaml:"retention"`
}

func Default() Config {
	return Config{
		Listen:   ":9640",
		LogLevel: "info",
		DNS: DNSConfig{
			Resolver:      "172.31.1.88:53",
			SearchDomains: append([]string(nil), discovery.DefaultSearchDomains...),
			Timeout:       5 * time.Second,
			PriorityOrder: "highest",
			Balancer:      "weighted_random",
		},
		Nomad: NomadConfig{
			Host:           "0.0.0.0",
			ServiceName:    "nomad",
			Port:           orchestrator.DefaultPort,
			Timeout:        30 * time.Second,
			RateLimit:      10,
			Burst:          20,
			RetryBaseDelay: 500 * time.Millisecond,
		},
		Scheduler: SchedulerConfig{
			JobClass:     "ssh-client",
			RetryDelay:   2 * time.Hour,
			Interval:     10 * time.Minute,
			Jitter:       30 * time.Second,
			SweepTimeout: 100 * time.Second,
			TaskTimeout:  60 * time.Second,
			Workers:      4,
		},
		Registry: RegistryConfig{
			Backend:     "memory",
			DialTimeout: 5 * time.Second,
			Prefix:      "/tunnel-reaper",
			Retention:   24 * time.Hour,
		},
	}
}

// Load reads path (skipped when empty), applies the environment and
// validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("yaml unmarshal: %w", err)
		}
	}

	cfg.applyEnv(os.Getenv)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv("DNS_ADDR"); v != "" {
		c.DNS.Resolver = v
	}
	if v := getenv("APP_ENV"); v != "" {
		c.Production = v == "production"
	}
	if v := getenv("SEA_HOST"); v != "" {
		c.Nomad.Host = v
	}
	if v := getenv("NOMAD_TOKEN"); v != "" {
		c.Nomad.Token = v
	}
	if v := getenv("ETCD_ENDPOINTS"); v != "" {
		c.Registry.Endpoints = splitList(v)
		c.Registry.Backend = "etcd"
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := getenv("REAPER_LISTEN"); v != "" {
		c.Listen = v
	}
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs error

	if c.DNS.Resolver == "" {
		errs = multierr.Append(errs, errors.New("dns.resolver is empty"))
	}
	if _, err := discovery.ParsePriorityOrder(c.DNS.PriorityOrder); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("dns.priority_order: %w", err))
	}
	if _, err := loadbalance.ByName(c.DNS.Balancer); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("dns.balancer: %w", err))
	}
	if c.Production && c.Nomad.ServiceName == "" {
		errs = multierr.Append(errs, errors.New("nomad.service_name is empty"))
	}
	if !c.Production && c.Nomad.Host == "" {
		errs = multierr.Append(errs, errors.New("nomad.host is empty"))
	}
	if c.Nomad.Port <= 0 || c.Nomad.Port > 65535 {
		errs = multierr.Append(errs, fmt.Errorf("nomad.port %d out of range", c.Nomad.Port))
	}
	if c.Nomad.RateLimit < 0 || c.Nomad.Burst < 0 || c.Nomad.Retries < 0 {
		errs = multierr.Append(errs, errors.New("nomad.rate_limit, burst and retries must not be negative"))
	}
	if c.Scheduler.JobClass == "" {
		errs = multierr.Append(errs, errors.New("scheduler.job_class is empty"))
	}
	if c.Scheduler.RetryDelay <= 0 {
		errs = multierr.Append(errs, errors.New("scheduler.retry_delay must be positive"))
	}
	if c.Scheduler.Interval <= 0 {
		errs = multierr.Append(errs, errors.New("scheduler.interval must be positive"))
	}
	if c.Scheduler.Workers <= 0 {
		errs = multierr.Append(errs, errors.New("scheduler.workers must be positive"))
	}
	switch c.Registry.Backend {
	case "memory":
	case "etcd":
		if len(c.Registry.Endpoints) == 0 {
			errs = multierr.Append(errs, errors.New("registry.endpoints is empty"))
		}
	default:
		errs = multierr.Append(errs, fmt.Errorf("unknown registry backend %q", c.Registry.Backend))
	}
	return errs
}

// Addressing is discovered in production, direct otherwise.
func (c Config) Addressing() orchestrator.Addressing {
	if c.Production {
		return orchestrator.DiscoveredAddressing(c.Nomad.ServiceName)
	}
	return orchestrator.DirectAddressing(c.Nomad.Host)
}

// Discovery builds the DNS client settings.
func (c Config) Discovery() (discovery.Config, error) {
	order, err := discovery.ParsePriorityOrder(c.DNS.PriorityOrder)
	if err != nil {
		return discovery.Config{}, err
	}
	balancer, err := loadbalance.ByName(c.DNS.Balancer)
	if err != nil {
		return discovery.Config{}, err
	}
	return discovery.Config{
		Resolver:      c.DNS.Resolver,
		SearchDomains: c.DNS.SearchDomains,
		Timeout:       c.DNS.Timeout,
		Order:         order,
		Balancer:      balancer,
	}, nil
}
