package session

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/xhd2015/shellper/config"
	"github.com/xhd2015/shellper/registry"
)

func testLayout(t *testing.T) config.Layout {
	t.Helper()
	dir := t.TempDir()
	layout := config.NewLayout(dir)
	if err := layout.EnsureSocketsDir(); err != nil {
		t.Fatalf("EnsureSocketsDir: %v", err)
	}
	return layout
}

func TestReconnectSessionReturnsNilForDeadProcess(t *testing.T) {
	layout := testLayout(t)
	m := New(layout, "shellper", nil, EventHandlers{})

	cmd := exec.Command("/bin/true")
	if err := cmd.Run(); err != nil {
		t.Fatalf("run /bin/true: %v", err)
	}
	deadPid := cmd.Process.Pid

	ms, err := m.ReconnectSession("s1", layout.SocketPath("s1"), deadPid, 0, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ms != nil {
		t.Fatalf("expected nil ManagedSession for a dead pid, got %+v", ms)
	}
}

func TestReconnectSessionReturnsNilForStartTimeMismatch(t *testing.T) {
	layout := testLayout(t)
	m := New(layout, "shellper", nil, EventHandlers{})

	pid := os.Getpid() // definitely alive for the duration of this test
	observed, ok := registry.GetProcessStartTime(pid)
	if !ok {
		t.Skip("GetProcessStartTime unsupported on this platform")
	}
	wrong := observed + int64(registry.StartTimeTolerance/time.Millisecond) + 100000

	ms, err := m.ReconnectSession("s1", layout.SocketPath("s1"), pid, wrong, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ms != nil {
		t.Fatalf("expected nil ManagedSession on start-time mismatch, got %+v", ms)
	}
}

func TestReconnectSessionReturnsNilWhenSocketMissing(t *testing.T) {
	layout := testLayout(t)
	m := New(layout, "shellper", nil, EventHandlers{})

	pid := os.Getpid()
	observed, ok := registry.GetProcessStartTime(pid)
	if !ok {
		t.Skip("GetProcessStartTime unsupported on this platform")
	}

	ms, err := m.ReconnectSession("s1", filepath.Join(layout.SocketsDir(), "no-such.sock"), pid, observed, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ms != nil {
		t.Fatalf("expected nil ManagedSession when socket path does not exist, got %+v", ms)
	}
}

func TestKillSessionOnUnknownSessionIsNoop(t *testing.T) {
	layout := testLayout(t)
	m := New(layout, "shellper", nil, EventHandlers{})

	if err := m.KillSession("does-not-exist"); err != nil {
		t.Fatalf("expected nil error for unknown session, got %v", err)
	}
}

func TestCleanupStaleSocketsSkipsNonSocketFiles(t *testing.T) {
	layout := testLayout(t)
	m := New(layout, "shellper", nil, EventHandlers{})

	// A plain file named like a socket must never be treated as one.
	path := filepath.Join(layout.SocketsDir(), "shellper-decoy.sock")
	if err := os.WriteFile(path, []byte("not a socket"), 0644); err != nil {
		t.Fatalf("write decoy file: %v", err)
	}

	if err := m.CleanupStaleSockets(); err != nil {
		t.Fatalf("CleanupStaleSockets: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected decoy file to survive cleanup, stat error: %v", err)
	}
}
