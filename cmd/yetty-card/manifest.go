// Copyright 2026 The Yetty Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/zokrezyl/yetty-poc-sub003/osc"
)

// manifest is the YAML card description accepted by create --manifest.
// Command-line flags override individual fields.
type manifest struct {
	Kind     string `yaml:"kind"`
	Name     string `yaml:"name"`
	X        *int   `yaml:"x"`
	Y        *int   `yaml:"y"`
	Width    *int   `yaml:"width"`
	Height   *int   `yaml:"height"`
	Args     string `yaml:"args"`
	Replace  bool   `yaml:"replace"`
	Compress bool   `yaml:"compress"`

	// PayloadFile is resolved relative to the working directory, like
	// the --payload-file flag.
	PayloadFile string `yaml:"payload_file"`
}

func applyManifest(path string, cmd *osc.Command) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading manifest: %w", err)
	}
	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("parsing manifest %s: %w", path, err)
	}

	cmd.Kind = m.Kind
	cmd.Name = m.Name
	cmd.X, cmd.Y, cmd.W, cmd.H = m.X, m.Y, m.Width, m.Height
	cmd.PluginArgs = m.Args
	cmd.Replace = m.Replace
	cmd.Compressed = m.Compress

	if m.PayloadFile != "" {
		payload, err := os.ReadFile(m.PayloadFile)
		if err != nil {
			return fmt.Errorf("reading manifest payload: %w", err)
		}
		cmd.Payload = payload
		cmd.HasPayload = true
	}
	return nil
}

func readAll(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading stdin: %w", err)
	}
	return data, nil
}
