// Package config loads harness configuration from YAML files. Everything is
// optional; zero values fall back to defaults so tests can run with no
// config file at all.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultAgentPort  = 8080
	DefaultImage      = "ubuntu:jammy"
	DefaultStartWait  = 60 * time.Second
	DefaultStopSettle = 5 * time.Second
)

// Config is the top-level harness configuration.
type Config struct {
	Cluster  ClusterConfig  `yaml:"cluster"`
	Agent    AgentConfig    `yaml:"agent"`
	Services ServicesConfig `yaml:"services"`
	LogLevel string         `yaml:"logLevel"`
}

// ClusterConfig selects and parameterizes the cluster backend.
type ClusterConfig struct {
	// Backend is one of "local" or "docker".
	Backend string `yaml:"backend"`
	Docker  DockerConfig `yaml:"docker"`
}

// DockerConfig parameterizes the docker backend.
type DockerConfig struct {
	Image string `yaml:"image"`
	// AgentBin is the path to a Linux agent binary to mount into each
	// container. Defaults to the running executable, which only works when
	// the host is also Linux.
	AgentBin string `yaml:"agentBin"`
}

type AgentConfig struct {
	ListenAddr string `yaml:"listenAddr"`
	Port       int    `yaml:"port"`
}

// ServicesConfig carries timing knobs shared by service harnesses.
type ServicesConfig struct {
	StartWait  time.Duration `yaml:"startWait"`
	StopSettle time.Duration `yaml:"stopSettle"`
}

// Default returns a config suitable for running against the local backend
// with no file present.
func Default() Config {
	return Config{
		Cluster: ClusterConfig{
			Backend: "local",
			Docker:  DockerConfig{Image: DefaultImage},
		},
		Agent: AgentConfig{
			ListenAddr: "0.0.0.0",
			Port:       DefaultAgentPort,
		},
		Services: ServicesConfig{
			StartWait:  DefaultStartWait,
			StopSettle: DefaultStopSettle,
		},
		LogLevel: "info",
	}
}

// Load reads the config at path, layered over the defaults. A missing file
// is not an error; the defaults are returned unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Cluster.Backend {
	case "local", "docker":
	default:
		return fmt.Errorf("unsupported cluster backend %q", c.Cluster.Backend)
	}
	if !isValidPort(c.Agent.Port) {
		return fmt.Errorf("%d is an invalid agent port", c.Agent.Port)
	}
	if c.Cluster.Backend == "docker" && c.Cluster.Docker.Image == "" {
		return fmt.Errorf("docker backend requires an image")
	}
	if c.Services.StartWait < 0 {
		return fmt.Errorf("startWait must not be negative")
	}
	if c.Services.StopSettle < 0 {
		return fmt.Errorf("stopSettle must not be negative")
	}
	switch c.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unsupported log level %q", c.LogLevel)
	}
	return nil
}

func isValidPort(p int) bool {
	return p > 0 && p < (1 << 16)
}
