// Copyright 2026 The Yetty Authors
// SPDX-License-Identifier: Apache-2.0

package rpc

import (
	"fmt"
	"os"
	"path/filepath"
)

// EnvSocket is the environment variable through which the host exports
// its socket path to spawned producers. Child processes discover the
// RPC endpoint from it without any other configuration.
const EnvSocket = "YETTY_SOCKET"

// SocketPath resolves the RPC socket path from the producer side:
// the YETTY_SOCKET environment variable set by the enclosing host.
func SocketPath() (string, error) {
	if path := os.Getenv(EnvSocket); path != "" {
		return path, nil
	}
	return "", fmt.Errorf("rpc: %s is not set (not running inside a yetty host?)", EnvSocket)
}

// DefaultSocketPath returns the host-side per-instance convention:
// yetty-<pid>.sock under the runtime directory. Used when the config
// does not pin a path.
func DefaultSocketPath() string {
	dir := os.Getenv("XDG_RUNTIME_DIR")
	if dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, fmt.Sprintf("yetty-%d.sock", os.Getpid()))
}

// removeStaleSocket removes a leftover socket file, tolerating
// absence.
func removeStaleSocket(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("rpc: removing stale socket %s: %w", path, err)
	}
	return nil
}
