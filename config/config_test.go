package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLayoutPaths(t *testing.T) {
	l := NewLayout("/ws")

	if got := l.SocketPath("abc"); got != "/ws/.sockets/shellper-abc.sock" {
		t.Fatalf("SocketPath: %s", got)
	}
	if got := l.StderrLogPath("abc"); got != "/ws/.sockets/shellper-abc.log" {
		t.Fatalf("StderrLogPath: %s", got)
	}
	if got := l.SessionLogPath("abc"); got != "/ws/.logs/abc.log" {
		t.Fatalf("SessionLogPath: %s", got)
	}
	if got := l.RegistryPath(); got != "/ws/.sockets/registry.json" {
		t.Fatalf("RegistryPath: %s", got)
	}
	if got := l.RegistryLockPath(); got != "/ws/.sockets/registry.json.lock" {
		t.Fatalf("RegistryLockPath: %s", got)
	}
}

func TestEnsureDirsCreatesWithExpectedModes(t *testing.T) {
	root := t.TempDir()
	l := NewLayout(root)

	if err := l.EnsureSocketsDir(); err != nil {
		t.Fatalf("EnsureSocketsDir: %v", err)
	}
	if err := l.EnsureLogsDir(); err != nil {
		t.Fatalf("EnsureLogsDir: %v", err)
	}

	info, err := os.Stat(l.SocketsDir())
	if err != nil {
		t.Fatalf("stat sockets dir: %v", err)
	}
	if info.Mode().Perm() != 0700 {
		t.Fatalf("expected sockets dir mode 0700, got %o", info.Mode().Perm())
	}

	if _, err := os.Stat(l.LogsDir()); err != nil {
		t.Fatalf("stat logs dir: %v", err)
	}
}

func TestEffectiveResetAfterMSClampsToRestartDelay(t *testing.T) {
	p := RestartPolicy{RestartDelayMS: 2000, ResetAfterMS: 500}
	if got := p.EffectiveResetAfterMS(); got != 2000 {
		t.Fatalf("expected clamp to restart delay 2000, got %d", got)
	}

	p2 := RestartPolicy{RestartDelayMS: 2000, ResetAfterMS: 300000}
	if got := p2.EffectiveResetAfterMS(); got != 300000 {
		t.Fatalf("expected unclamped 300000, got %d", got)
	}
}

func TestLoadTowerOptionsFallsBackToDefaultsOnMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tower.yaml")
	opts, err := LoadTowerOptions(path, "/ws")
	if err != nil {
		t.Fatalf("LoadTowerOptions: %v", err)
	}
	want := DefaultTowerOptions("/ws")
	if opts != want {
		t.Fatalf("expected defaults %+v, got %+v", want, opts)
	}
}

func TestSaveThenLoadTowerOptionsRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tower.yaml")
	opts := DefaultTowerOptions("/ws")
	opts.ReplayLines = 42
	opts.Restart.MaxRestarts = 7

	if err := SaveTowerOptions(path, opts); err != nil {
		t.Fatalf("SaveTowerOptions: %v", err)
	}
	got, err := LoadTowerOptions(path, "/ws")
	if err != nil {
		t.Fatalf("LoadTowerOptions: %v", err)
	}
	if got.ReplayLines != 42 || got.Restart.MaxRestarts != 7 {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}
