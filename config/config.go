// Package config loads the TOML configuration of the isothread CLI.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/pelletier/go-toml"

	"github.com/NetPo4ki/isothread/attr"
	"github.com/NetPo4ki/isothread/isolate"
)

// Config is the whole configuration file.
type Config struct {
	Log     LogCfg     `toml:"log"`
	Threads ThreadsCfg `toml:"threads"`
	Isolate IsolateCfg `toml:"isolate"`
	Metrics MetricsCfg `toml:"metrics"`
}

// LogCfg selects the logger.
type LogCfg struct {
	Level       string `toml:"level"`
	Development bool   `toml:"development"`
}

// ThreadsCfg bounds threads and sets their default attributes.
type ThreadsCfg struct {
	Max      int         `toml:"max"`
	Defaults DefaultsCfg `toml:"defaults"`
}

// DefaultsCfg is the attribute set applied to threads created without one.
// Zero values leave the attribute unset.
type DefaultsCfg struct {
	StackSize     int    `toml:"stack_size"`
	GuardSize     int    `toml:"guard_size"`
	InheritSched  string `toml:"inherit_sched"`
	SchedPolicy   string `toml:"sched_policy"`
	SchedPriority int    `toml:"sched_priority"`
	CPUs          []int  `toml:"cpus"`
}

// IsolateCfg tunes interpreter states.
type IsolateCfg struct {
	CallStackSize   int `toml:"call_stack_size"`
	RegistrySize    int `toml:"registry_size"`
	RegistryMaxSize int `toml:"registry_max_size"`
}

// MetricsCfg configures the Prometheus endpoint.
type MetricsCfg struct {
	Enabled   bool   `toml:"enabled"`
	Namespace string `toml:"namespace"`
	Listen    string `toml:"listen"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Log:     LogCfg{Level: "info"},
		Metrics: MetricsCfg{Namespace: "isothread", Listen: "127.0.0.1:9464"},
	}
}

// Load reads path over the defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	if err := Parse(data, cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes data into cfg and validates the result.
func Parse(data []byte, cfg *Config) error {
	if err := toml.Unmarshal(data, cfg); err != nil {
		return err
	}
	if cfg.Threads.Max < 0 {
		return errors.New("threads.max must not be negative")
	}
	if _, err := cfg.Threads.Defaults.Attr(); err != nil {
		return fmt.Errorf("threads.defaults: %w", err)
	}
	return nil
}

// Attr converts the defaults to a thread attribute set, or nil when none is
// set.
func (d DefaultsCfg) Attr() (*attr.Thread, error) {
	a := &attr.Thread{}
	set := false
	if d.StackSize != 0 {
		a.StackSize, set = attr.Ptr(d.StackSize), true
	}
	if d.GuardSize != 0 {
		a.GuardSize, set = attr.Ptr(d.GuardSize), true
	}
	if d.InheritSched != "" {
		v, err := attr.ParseInheritSched(d.InheritSched)
		if err != nil {
			return nil, err
		}
		a.InheritSched, set = &v, true
	}
	if d.SchedPolicy != "" {
		v, err := attr.ParsePolicy(d.SchedPolicy)
		if err != nil {
			return nil, err
		}
		a.SchedPolicy, set = &v, true
	}
	if d.SchedPriority != 0 {
		a.SchedPriority, set = attr.Ptr(d.SchedPriority), true
	}
	if len(d.CPUs) > 0 {
		a.CPUs, set = append([]int(nil), d.CPUs...), true
	}
	if !set {
		return nil, nil
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return a, nil
}

// IsolateOptions converts the isolate section.
func (c IsolateCfg) IsolateOptions() isolate.Options {
	return isolate.Options{
		CallStackSize:   c.CallStackSize,
		RegistrySize:    c.RegistrySize,
		RegistryMaxSize: c.RegistryMaxSize,
	}
}
