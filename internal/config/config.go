// Package config loads the sidecarctl configuration file.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/guseggert/sidecar/control"
	"github.com/guseggert/sidecar/supervisor"
	"gopkg.in/yaml.v3"
)

const DefaultStartupTimeout = 15 * time.Second

type Config struct {
	Sidecar Sidecar `yaml:"sidecar"`
	Control Control `yaml:"control"`
	Log     Log     `yaml:"log"`
}

type Sidecar struct {
	Name string `yaml:"name"`
	// Executable skips the search for the sidecar binary when set.
	Executable     string        `yaml:"executable"`
	Port           int           `yaml:"port"`
	HealthPath     string        `yaml:"health_path"`
	MatchNames     []string      `yaml:"match_names"`
	DevDirs        []string      `yaml:"dev_dirs"`
	Env            []string      `yaml:"env"`
	StartupTimeout time.Duration `yaml:"startup_timeout"`
}

type Control struct {
	ListenAddr string `yaml:"listen_addr"`
}

type Log struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

func Default() Config {
	return Config{
		Sidecar: Sidecar{
			Name:           supervisor.DefaultName,
			Port:           supervisor.DefaultPort,
			HealthPath:     supervisor.DefaultHealthPath,
			DevDirs:        supervisor.DefaultDevDirs,
			StartupTimeout: DefaultStartupTimeout,
		},
		Control: Control{ListenAddr: control.DefaultListenAddr},
		Log:     Log{Level: "info"},
	}
}

// Load reads the YAML file at path over the defaults. An empty path returns the defaults.
// Unknown keys are rejected.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("opening config file: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("decoding config file %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if c.Sidecar.Name == "" && c.Sidecar.Executable == "" {
		return errors.New("one of sidecar.name or sidecar.executable is required")
	}
	if c.Sidecar.Port <= 0 || c.Sidecar.Port > 65535 {
		return fmt.Errorf("invalid sidecar.port %d", c.Sidecar.Port)
	}
	if c.Sidecar.StartupTimeout <= 0 {
		return fmt.Errorf("invalid sidecar.startup_timeout %s", c.Sidecar.StartupTimeout)
	}
	if c.Control.ListenAddr == "" {
		return errors.New("control.listen_addr is required")
	}
	return nil
}

// SupervisorOptions converts the sidecar section into supervisor options.
func (c Config) SupervisorOptions() []supervisor.Option {
	s := c.Sidecar
	opts := []supervisor.Option{
		supervisor.WithPort(s.Port),
		supervisor.WithDevDirs(s.DevDirs...),
	}
	if s.Name != "" {
		opts = append(opts, supervisor.WithName(s.Name))
	}
	if s.Executable != "" {
		opts = append(opts, supervisor.WithExecutable(s.Executable))
	}
	if s.HealthPath != "" {
		opts = append(opts, supervisor.WithHealthPath(s.HealthPath))
	}
	if len(s.MatchNames) > 0 {
		opts = append(opts, supervisor.WithMatchNames(s.MatchNames...))
	}
	if len(s.Env) > 0 {
		opts = append(opts, supervisor.WithEnv(s.Env...))
	}
	return opts
}
