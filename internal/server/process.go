package server

import (
	"os"
	"syscall"
)

// processAlive reports whether pid names a running process, using a signal-0
// probe. This is a liveness hint only — it can't distinguish "gone" from
// "permission denied to signal it" on some platforms — which is why ports
// cleanup treats it as best-effort, never authoritative.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil
}
