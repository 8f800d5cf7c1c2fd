package session

import (
	"net"
	"syscall"
	"time"
)

// syscallKill SIGKILLs pid, ignoring errors — used for rollback paths in
// CreateSession where the shellper never completed its handshake (spec
// §7 SpawnError: "kill the child pid, unlink the socket, surface to the
// caller").
func syscallKill(pid int) {
	if pid <= 0 {
		return
	}
	syscall.Kill(pid, syscall.SIGKILL)
}

// probeStale attempts a brief connect to path; a refusal or timeout means
// the socket is stale (spec §4.4.5).
func probeStale(path string, timeout time.Duration) bool {
	c, err := net.DialTimeout("unix", path, timeout)
	if err != nil {
		return true
	}
	c.Close()
	return false
}
