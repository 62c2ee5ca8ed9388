// Package config defines the tuning knobs for the concurrency machine and
// loads them from YAML. The zero value is not usable; start from
// DefaultConfig and override selectively, the same way the machine façade
// does via functional options.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config defines tuning parameters for the machine's operational behavior.
//
// This configuration focuses on the resources owned by the concurrency core:
//   - Fiber stacks: how many pooled regions exist and how large they are
//   - Thread stacks: the minimum and default stack size requests
//   - Marking: the incremental work bound and the idle sleep interval
//
// Additional concerns such as collector policy or dispatch caching belong to
// the external collaborators and are configured there, not here.
type Config struct {
	// MaxFiberStacks bounds the number of stack regions the pool will own.
	// Past the bound the pool evicts instead of allocating; it never blocks.
	MaxFiberStacks int `yaml:"max_fiber_stacks"`

	// FiberStackSlots is the default capacity, in value slots, of a leased
	// stack region.
	FiberStackSlots int `yaml:"fiber_stack_slots"`

	// MinThreadStackSize is the smallest stack size request accepted when
	// spawning a native thread.
	MinThreadStackSize int `yaml:"min_thread_stack_size"`

	// DefaultThreadStackSize is used when a thread is created without an
	// explicit stack size request.
	DefaultThreadStackSize int `yaml:"default_thread_stack_size"`

	// MarkUnitSize bounds how much mark work the concurrent marker drains
	// between safepoint checks.
	MarkUnitSize int `yaml:"mark_unit_size"`

	// MarkerSleepInterval is how long the marker sleeps when no mark work
	// is available before re-checking.
	MarkerSleepInterval time.Duration `yaml:"marker_sleep_interval"`
}

// DefaultConfig provides production-ready default configuration values.
//
// The fiber stack bound and slot count mirror the defaults the original
// machine shipped with; the marker values keep safepoint latency low without
// spinning when the heap is idle.
var DefaultConfig = Config{
	MaxFiberStacks:         10,
	FiberStackSlots:        512,
	MinThreadStackSize:     4096,
	DefaultThreadStackSize: 1 << 20,
	MarkUnitSize:           1024,
	MarkerSleepInterval:    10 * time.Millisecond,
}

// Validate reports the first configuration value that is unusable.
func (c Config) Validate() error {
	if c.MaxFiberStacks < 1 {
		return fmt.Errorf("max_fiber_stacks must be at least 1, got %d", c.MaxFiberStacks)
	}
	if c.FiberStackSlots < 1 {
		return fmt.Errorf("fiber_stack_slots must be at least 1, got %d", c.FiberStackSlots)
	}
	if c.MinThreadStackSize < 0 {
		return fmt.Errorf("min_thread_stack_size must not be negative, got %d", c.MinThreadStackSize)
	}
	if c.DefaultThreadStackSize < c.MinThreadStackSize {
		return fmt.Errorf("default_thread_stack_size %d is below the minimum %d",
			c.DefaultThreadStackSize, c.MinThreadStackSize)
	}
	if c.MarkUnitSize < 1 {
		return fmt.Errorf("mark_unit_size must be at least 1, got %d", c.MarkUnitSize)
	}
	if c.MarkerSleepInterval <= 0 {
		return fmt.Errorf("marker_sleep_interval must be positive, got %s", c.MarkerSleepInterval)
	}
	return nil
}

// UnmarshalYAML decodes a config document field by field so omitted keys keep
// whatever the target already holds, and accepts human-readable durations
// ("10ms"); yaml.v3 has no native duration decoding.
func (c *Config) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		MaxFiberStacks         *int    `yaml:"max_fiber_stacks"`
		FiberStackSlots        *int    `yaml:"fiber_stack_slots"`
		MinThreadStackSize     *int    `yaml:"min_thread_stack_size"`
		DefaultThreadStackSize *int    `yaml:"default_thread_stack_size"`
		MarkUnitSize           *int    `yaml:"mark_unit_size"`
		MarkerSleepInterval    *string `yaml:"marker_sleep_interval"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}

	if raw.MaxFiberStacks != nil {
		c.MaxFiberStacks = *raw.MaxFiberStacks
	}
	if raw.FiberStackSlots != nil {
		c.FiberStackSlots = *raw.FiberStackSlots
	}
	if raw.MinThreadStackSize != nil {
		c.MinThreadStackSize = *raw.MinThreadStackSize
	}
	if raw.DefaultThreadStackSize != nil {
		c.DefaultThreadStackSize = *raw.DefaultThreadStackSize
	}
	if raw.MarkUnitSize != nil {
		c.MarkUnitSize = *raw.MarkUnitSize
	}
	if raw.MarkerSleepInterval != nil {
		d, err := time.ParseDuration(*raw.MarkerSleepInterval)
		if err != nil {
			return fmt.Errorf("marker_sleep_interval: %w", err)
		}
		c.MarkerSleepInterval = d
	}
	return nil
}

// Parse decodes a YAML document on top of DefaultConfig, so omitted keys keep
// their defaults.
func Parse(data []byte) (Config, error) {
	cfg := DefaultConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Load reads and parses a YAML config file.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}
