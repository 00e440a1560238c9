// Copyright 2026 The Yetty Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the host configuration.
type Config struct {
	// Socket is the Unix socket path for the RPC server. Empty means
	// the per-instance default under the runtime directory
	// (yetty-<pid>.sock).
	Socket string `yaml:"socket"`

	// Stream configures the shared-memory streaming channel.
	Stream StreamConfig `yaml:"stream"`

	// Limits bounds producer input.
	Limits LimitsConfig `yaml:"limits"`
}

// StreamConfig configures the shared-memory region.
type StreamConfig struct {
	// RegionSize is the size of the shared-memory arena in bytes.
	RegionSize uint32 `yaml:"region_size"`

	// ReadDeadlineMillis bounds the consumer's seqlock spin before an
	// allocation is treated as abandoned for this frame.
	ReadDeadlineMillis int `yaml:"read_deadline_millis"`
}

// LimitsConfig bounds producer input.
type LimitsConfig struct {
	// MaxSequenceBytes caps the body of a single control sequence. A
	// producer exceeding it has the sequence dropped, not the host
	// killed.
	MaxSequenceBytes int `yaml:"max_sequence_bytes"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Stream: StreamConfig{
			RegionSize:         16 * 1024 * 1024,
			ReadDeadlineMillis: 2,
		},
		Limits: LimitsConfig{
			MaxSequenceBytes: 8 * 1024 * 1024,
		},
	}
}

// Load reads the configuration file at path. If path is empty, the
// YETTY_CONFIG environment variable is consulted; if that is also
// empty, the defaults are returned without touching the filesystem.
func Load(path string) (Config, error) {
	if path == "" {
		path = os.Getenv("YETTY_CONFIG")
	}
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks invariants that would otherwise surface as obscure
// runtime failures.
func (c Config) Validate() error {
	if c.Stream.RegionSize == 0 {
		return fmt.Errorf("stream.region_size must be positive")
	}
	if c.Stream.ReadDeadlineMillis <= 0 {
		return fmt.Errorf("stream.read_deadline_millis must be positive")
	}
	if c.Limits.MaxSequenceBytes <= 0 {
		return fmt.Errorf("limits.max_sequence_bytes must be positive")
	}
	if c.Socket != "" && !filepath.IsAbs(c.Socket) {
		return fmt.Errorf("socket path %q must be absolute", c.Socket)
	}
	return nil
}
