// Package common provides shared types and constants used across the proxydl
// daemon and its RPC clients.
package common

import "github.com/warpdl/proxydl/pkg/logger"

// Environment variable names for configuration.
const (
	// ListenAddrEnv overrides the daemon's RPC listen address.
	ListenAddrEnv = "PROXYDL_LISTEN"

	// SecretEnv holds the bearer token clients present to the daemon.
	SecretEnv = "PROXYDL_RPC_SECRET"

	// DebugEnv is the environment variable to enable debug logging.
	DebugEnv = logger.DebugEnv
)

// DefaultListenAddr is the loopback address the daemon binds when
// ListenAddrEnv is unset.
const DefaultListenAddr = "127.0.0.1:6801"
