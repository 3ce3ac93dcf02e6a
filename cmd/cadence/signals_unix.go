//go:build !windows

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
		syscall.SIGHUP,
	}
}

// handlePlatformSignal handles platform-specific signals.
// Returns true if the signal was handled and the loop should continue.
func handlePlatformSignal(sig os.Signal, app *App) bool {
	if sig == syscall.SIGHUP {
		app.Logger.Info("SIGHUP received, reloading config")
		result, err := app.Config.Reload(app.ConfigPath)
		if err != nil {
			app.Logger.Error("config reload failed", "error", err)
			return true
		}
		result.LogResult(app.Logger)
		return true
	}
	return false
}
