//go:build windows

package main

import (
	"os"
	"syscall"
)

// getShutdownSignals returns the signals that should trigger shutdown handling
func getShutdownSignals() []os.Signal {
	return []os.Signal{
		syscall.SIGINT,
		syscall.SIGTERM,
	}
}

// handlePlatformSignal handles platform-specific signals.
// Windows has no SIGHUP; nothing to handle here.
func handlePlatformSignal(sig os.Signal, app *App) bool {
	return false
}
