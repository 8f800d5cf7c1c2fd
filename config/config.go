// Package config defines the workspace layout and Tower-side restart policy
// defaults used across the Shellper/Session subsystem (spec §6).
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Layout describes where, under a workspace root, sessions keep their
// sockets and logs (spec §6 Filesystem layout).
type Layout struct {
	Root string
}

// NewLayout returns a Layout rooted at root.
func NewLayout(root string) Layout {
	return Layout{Root: root}
}

// SocketsDir is ".sockets" under the workspace root, mode 0700.
func (l Layout) SocketsDir() string {
	return filepath.Join(l.Root, ".sockets")
}

// LogsDir is ".logs" under the workspace root.
func (l Layout) LogsDir() string {
	return filepath.Join(l.Root, ".logs")
}

// SocketPath returns the shellper socket path for a session id.
func (l Layout) SocketPath(sessionID string) string {
	return filepath.Join(l.SocketsDir(), "shellper-"+sessionID+".sock")
}

// StderrLogPath returns the shellper's companion stderr log path.
func (l Layout) StderrLogPath(sessionID string) string {
	return filepath.Join(l.SocketsDir(), "shellper-"+sessionID+".log")
}

// SessionLogPath returns the session wrapper's disk log path.
func (l Layout) SessionLogPath(sessionID string) string {
	return filepath.Join(l.LogsDir(), sessionID+".log")
}

// RegistryPath returns the persisted session-map file path (spec §4.7.G).
func (l Layout) RegistryPath() string {
	return filepath.Join(l.SocketsDir(), "registry.json")
}

// RegistryLockPath returns the flock-guarded lock file path for the
// registry.
func (l Layout) RegistryLockPath() string {
	return l.RegistryPath() + ".lock"
}

// EnsureSocketsDir creates the sockets directory with mode 0700 (spec §4.3.1
// step 2, §4.4.1 step 1).
func (l Layout) EnsureSocketsDir() error {
	if err := os.MkdirAll(l.SocketsDir(), 0700); err != nil {
		return fmt.Errorf("config: ensure sockets dir: %w", err)
	}
	return nil
}

// EnsureLogsDir creates the logs directory.
func (l Layout) EnsureLogsDir() error {
	if err := os.MkdirAll(l.LogsDir(), 0755); err != nil {
		return fmt.Errorf("config: ensure logs dir: %w", err)
	}
	return nil
}

// RestartPolicy controls the Session Manager's auto-restart behavior
// (spec §4.4.3).
type RestartPolicy struct {
	Enabled          bool `yaml:"enabled"`
	MaxRestarts      int  `yaml:"max_restarts"`
	RestartDelayMS   int  `yaml:"restart_delay_ms"`
	ResetAfterMS     int  `yaml:"reset_after_ms"`
}

// DefaultRestartPolicy matches the defaults named in spec §4.4.3.
func DefaultRestartPolicy() RestartPolicy {
	return RestartPolicy{
		Enabled:        true,
		MaxRestarts:    50,
		RestartDelayMS: 2000,
		ResetAfterMS:   300000,
	}
}

// EffectiveResetAfterMS applies the clamp called out in spec §4.4.3/§9: the
// reset window must never be shorter than the restart delay, or the restart
// counter could reset mid-flight during a restart storm.
func (p RestartPolicy) EffectiveResetAfterMS() int {
	if p.ResetAfterMS < p.RestartDelayMS {
		return p.RestartDelayMS
	}
	return p.ResetAfterMS
}

// TowerOptions is the YAML-loadable configuration for a Tower process.
type TowerOptions struct {
	WorkspaceRoot   string        `yaml:"workspace_root"`
	ReplayLines     int           `yaml:"replay_lines"`
	UILineCapacity  int           `yaml:"ui_line_capacity"`
	SessionLogQuota int64         `yaml:"session_log_quota_bytes"`
	Restart         RestartPolicy `yaml:"restart"`
}

// DefaultTowerOptions returns sane defaults for a Tower process rooted at
// workspaceRoot.
func DefaultTowerOptions(workspaceRoot string) TowerOptions {
	return TowerOptions{
		WorkspaceRoot:   workspaceRoot,
		ReplayLines:     10000,
		UILineCapacity:  10000,
		SessionLogQuota: 10 * 1024 * 1024,
		Restart:         DefaultRestartPolicy(),
	}
}

// LoadTowerOptions reads a YAML options file, falling back to defaults for
// any field not present and for a missing file entirely.
func LoadTowerOptions(path, workspaceRoot string) (TowerOptions, error) {
	opts := DefaultTowerOptions(workspaceRoot)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return opts, nil
		}
		return opts, fmt.Errorf("config: read tower options: %w", err)
	}
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return opts, fmt.Errorf("config: parse tower options: %w", err)
	}
	return opts, nil
}

// SaveTowerOptions writes opts as YAML to path.
func SaveTowerOptions(path string, opts TowerOptions) error {
	data, err := yaml.Marshal(opts)
	if err != nil {
		return fmt.Errorf("config: marshal tower options: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("config: create directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("config: write tower options: %w", err)
	}
	return nil
}
