// Copyright 2026 The Yetty Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for the yetty host.
//
// Configuration is loaded from a single YAML file specified by:
//   - YETTY_CONFIG environment variable, or
//   - --config flag passed to the command
//
// There are no fallbacks or automatic discovery. This ensures
// deterministic, auditable configuration with no hidden overrides.
// Every field has a code-level default so a host with no config file
// at all is fully functional.
package config
