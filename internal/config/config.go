// Package config loads worker configuration and the per-app command
// registry. The dependency graph itself (which apps exist, their edges) is
// owned by an external configuration backend; this package consumes only
// the slice of it the execution core needs: command templates, job-id
// dimension names, and watchdog settings.
package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/me/zkq/internal/coord"
)

// ErrNoCommand is the configuration error raised when a job is executed
// for an app that has no command template. Fatal to the specific attempt;
// the coordinator marks the job failed.
var ErrNoCommand = errors.New("config: no command configured for app")

// Config is the full worker configuration file.
type Config struct {
	ZooKeeper coord.ZKConfig `yaml:"zookeeper"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// HistoryDB is the path of the local run-history database;
	// empty disables journaling.
	HistoryDB string `yaml:"history_db"`

	// MonitorAddr, when set, serves the monitoring HTTP API.
	MonitorAddr string `yaml:"monitor_addr"`

	Apps map[string]AppConfig `yaml:"apps"`
}

// AppConfig is the execution recipe for one app.
type AppConfig struct {
	// Command is a template rendered with {app_name}, {job_id} and one
	// {dim} placeholder per dimension, then run through the shell.
	Command string `yaml:"command"`

	// Dimensions name the underscore-joined components of this app's
	// job ids, in order.
	Dimensions []string `yaml:"dimensions"`

	// WatchdogSeconds bounds a run's wall-clock time; nil or negative
	// disables the watchdog.
	WatchdogSeconds *int `yaml:"watchdog_seconds"`

	// Executor selects the plugin; empty means the shell executor.
	Executor string `yaml:"executor"`

	WorkDir string            `yaml:"workdir"`
	Env     map[string]string `yaml:"env"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "text",
		Apps:      map[string]AppConfig{},
	}
}

// Load reads a YAML configuration file on top of the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// App looks up one app's configuration.
func (c *Config) App(name string) (AppConfig, bool) {
	a, ok := c.Apps[name]
	return a, ok
}

// AppNames returns the configured app names, sorted.
func (c *Config) AppNames() []string {
	names := make([]string, 0, len(c.Apps))
	for n := range c.Apps {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Watchdog returns the effective watchdog seconds, -1 when disabled.
func (a AppConfig) Watchdog() int {
	if a.WatchdogSeconds == nil || *a.WatchdogSeconds < 0 {
		return -1
	}
	return *a.WatchdogSeconds
}

// ParseJobID splits an opaque job id into its named dimension values.
// A job id with fewer components than dimensions maps what it has; extra
// components stay inside the last value unnamed.
func ParseJobID(dims []string, jobID string) map[string]string {
	vals := strings.SplitN(jobID, "_", len(dims))
	out := make(map[string]string, len(dims))
	for i, d := range dims {
		if i < len(vals) {
			out[d] = vals[i]
		}
	}
	return out
}

// RenderCommand produces the concrete shell command for one job by filling
// the app's template with its parsed job-id dimensions.
func (a AppConfig) RenderCommand(appName, jobID string) (string, error) {
	if strings.TrimSpace(a.Command) == "" {
		return "", fmt.Errorf("%w: %s", ErrNoCommand, appName)
	}
	pairs := []string{
		"{app_name}", appName,
		"{job_id}", jobID,
	}
	for dim, val := range ParseJobID(a.Dimensions, jobID) {
		pairs = append(pairs, "{"+dim+"}", val)
	}
	return strings.NewReplacer(pairs...).Replace(a.Command), nil
}

// Environ renders the app's extra environment as KEY=VALUE pairs, sorted
// for stable process environments.
func (a AppConfig) Environ() []string {
	if len(a.Env) == 0 {
		return nil
	}
	out := make([]string, 0, len(a.Env))
	for k, v := range a.Env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}
