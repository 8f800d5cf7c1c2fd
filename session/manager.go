// Package session implements the Tower-side Session Manager: spawning,
// supervising, reconnecting, and tearing down shellper-backed sessions
// (spec §4.4). It is grounded on the teacher's subprocess.Manager
// supervision loop (detached start, monitor-goroutine, graceful-then-force
// kill) combined with its run/daemon/process.go detached-spawn idiom,
// generalized from "manage one supervised server binary" to "manage N
// shellper daemons with restart policy and PID-reuse-safe reconnect".
package session

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/xhd2015/shellper/config"
	"github.com/xhd2015/shellper/protocol"
	"github.com/xhd2015/shellper/registry"
	"github.com/xhd2015/shellper/shellperclient"
	"github.com/xhd2015/shellper/shellperd"
)

const (
	defaultStdoutTimeout   = 10 * time.Second
	defaultSocketWait      = 5 * time.Second
	defaultHandshakeWait   = 2 * time.Second
	defaultKillWait        = 5 * time.Second
	defaultStaleProbeWait  = 2 * time.Second
)

type logger interface {
	Printf(format string, args ...interface{})
}

// EventHandlers lets a caller (typically the sessionwrap layer) observe
// session lifecycle events.
type EventHandlers struct {
	OnExit  func(sessionID string, client *shellperclient.Client)
	OnError func(sessionID string, err error)
}

// Manager owns the set of live ManagedSessions for one workspace.
type Manager struct {
	layout         config.Layout
	shellperBinary string
	logger         logger
	handlers       EventHandlers

	mu       sync.Mutex
	sessions map[string]*ManagedSession
	shutdown bool
}

// New creates a Manager rooted at layout, spawning shellpers via
// shellperBinary (a path to the cmd/shellper executable).
func New(layout config.Layout, shellperBinary string, lg logger, h EventHandlers) *Manager {
	return &Manager{
		layout:         layout,
		shellperBinary: shellperBinary,
		logger:         lg,
		handlers:       h,
		sessions:       make(map[string]*ManagedSession),
	}
}

func (m *Manager) log(format string, args ...interface{}) {
	if m.logger != nil {
		m.logger.Printf(format, args...)
	}
}

// Get returns a session by id.
func (m *Manager) Get(sessionID string) (*ManagedSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	return s, ok
}

// CreateSession implements spec §4.4.1.
func (m *Manager) CreateSession(opts CreateOptions) (*ManagedSession, error) {
	if err := m.layout.EnsureSocketsDir(); err != nil {
		return nil, err
	}
	socketPath := m.layout.SocketPath(opts.SessionID)
	os.Remove(socketPath)

	cfg := shellperd.Config{
		Command:    opts.Command,
		Args:       opts.Args,
		Cwd:        opts.Cwd,
		Env:        opts.Env,
		Cols:       opts.Cols,
		Rows:       opts.Rows,
		SocketPath: socketPath,
	}

	stderrLog := m.layout.StderrLogPath(opts.SessionID)
	res, err := spawnShellper(m.shellperBinary, cfg, stderrLog, defaultStdoutTimeout)
	if err != nil {
		os.Remove(socketPath)
		return nil, err
	}

	if !waitForSocket(socketPath, defaultSocketWait) {
		syscallKill(res.pid)
		os.Remove(socketPath)
		return nil, fmt.Errorf("%w: socket never appeared", ErrSpawnFailed)
	}

	client, err := connectAndHandshake(socketPath)
	if err != nil {
		syscallKill(res.pid)
		os.Remove(socketPath)
		return nil, fmt.Errorf("%w: handshake: %v", ErrSpawnFailed, err)
	}

	ms := &ManagedSession{
		SessionID:  opts.SessionID,
		SocketPath: socketPath,
		Pid:        res.pid,
		StartTime:  res.startTime,
		Cols:       opts.Cols,
		Rows:       opts.Rows,
		Options:    opts,
		Client:     client,
	}
	m.register(ms)
	m.wireClientEvents(ms)
	return ms, nil
}

// ReconnectSession implements spec §4.4.2.
func (m *Manager) ReconnectSession(sessionID, socketPath string, pid int, startTime int64, opts *CreateOptions) (*ManagedSession, error) {
	if !registry.IsProcessAlive(pid) {
		return nil, nil
	}
	observed, ok := registry.GetProcessStartTime(pid)
	if !ok || !registry.MatchesStartTime(startTime, observed) {
		return nil, nil // PID reuse (spec §8 S2) or unknown platform
	}
	info, err := os.Lstat(socketPath)
	if err != nil || info.Mode()&os.ModeSocket == 0 {
		return nil, nil
	}

	client, err := connectAndHandshake(socketPath)
	if err != nil {
		return nil, nil
	}

	ms := &ManagedSession{
		SessionID:  sessionID,
		SocketPath: socketPath,
		Pid:        pid,
		StartTime:  startTime,
		Client:     client,
	}
	if opts != nil {
		ms.Options = *opts
		ms.Cols = opts.Cols
		ms.Rows = opts.Rows
	}
	m.register(ms)
	m.wireClientEvents(ms)
	return ms, nil
}

func connectAndHandshake(socketPath string) (*shellperclient.Client, error) {
	return shellperclient.Connect(socketPath, defaultHandshakeWait, shellperclient.Handlers{})
}

func (m *Manager) register(ms *ManagedSession) {
	m.mu.Lock()
	m.sessions[ms.SessionID] = ms
	m.mu.Unlock()
}

// wireClientEvents installs OnExit/OnClose handlers implementing the
// auto-restart policy (spec §4.4.3) and the LivenessError path (spec §7).
func (m *Manager) wireClientEvents(ms *ManagedSession) {
	ms.Client.SetHandlers(shellperclient.Handlers{
		OnExit: func(_ protocol.ExitPayload) {
			m.onSessionExit(ms)
		},
		OnClose: func(err error) {
			if err != nil {
				m.onLivenessError(ms, err)
			}
		},
	})
}

// onSessionExit implements the auto-restart policy (spec §4.4.3).
func (m *Manager) onSessionExit(ms *ManagedSession) {
	ms.cancelResetTimer()

	m.mu.Lock()
	_, stillRegistered := m.sessions[ms.SessionID]
	m.mu.Unlock()
	if !stillRegistered {
		return
	}

	policy := ms.Options.Restart
	if policy.MaxRestarts == 0 && policy.RestartDelayMS == 0 {
		policy = config.DefaultRestartPolicy()
	}
	if !ms.Options.RestartOnExit {
		m.removeSession(ms.SessionID)
		return
	}

	if ms.restartCountValue() >= policy.MaxRestarts {
		m.log("session %s exceeded max restarts (%d)", ms.SessionID, policy.MaxRestarts)
		if m.handlers.OnError != nil {
			m.handlers.OnError(ms.SessionID, fmt.Errorf("session: max restarts exhausted"))
		}
		m.removeSession(ms.SessionID)
		return
	}

	ms.incrementRestartCount()
	delay := time.Duration(policy.RestartDelayMS) * time.Millisecond
	time.AfterFunc(delay, func() {
		m.mu.Lock()
		_, stillThere := m.sessions[ms.SessionID]
		m.mu.Unlock()
		if !stillThere {
			return // killSession removed it before the timer fired
		}
		ms.Client.SendSpawn(protocol.SpawnPayload{
			Command: ms.Options.Command,
			Args:    ms.Options.Args,
			Cwd:     ms.Options.Cwd,
			Env:     ms.Options.Env,
		})
		resetAfter := time.Duration(policy.EffectiveResetAfterMS()) * time.Millisecond
		ms.startResetTimer(resetAfter, ms.resetRestartCount)
	})

	if m.handlers.OnExit != nil {
		m.handlers.OnExit(ms.SessionID, ms.Client)
	}
}

func (m *Manager) onLivenessError(ms *ManagedSession, err error) {
	m.mu.Lock()
	_, stillRegistered := m.sessions[ms.SessionID]
	m.mu.Unlock()
	if !stillRegistered {
		return
	}
	m.log("session %s liveness error: %v", ms.SessionID, err)
	if m.handlers.OnError != nil {
		m.handlers.OnError(ms.SessionID, err)
	}
	m.removeSession(ms.SessionID)
}

func (m *Manager) removeSession(sessionID string) {
	m.mu.Lock()
	ms, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
	}
	m.mu.Unlock()
	if ok {
		ms.cancelResetTimer()
	}
}

// KillSession implements spec §4.4.4: remove from the map first (disabling
// auto-restart), detach and disconnect the client, then SIGTERM/wait/SIGKILL
// the shellper, and unlink the socket and its companion stderr log.
func (m *Manager) KillSession(sessionID string) error {
	m.mu.Lock()
	ms, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
	}
	m.mu.Unlock()
	if !ok {
		return nil
	}

	ms.cancelResetTimer()
	if ms.Client != nil {
		ms.Client.Detach()
		ms.Client.Close()
	}
	if err := registry.StopProcess(ms.Pid, defaultKillWait); err != nil {
		return err
	}
	os.Remove(ms.SocketPath)
	os.Remove(m.layout.StderrLogPath(sessionID))
	return nil
}

// CleanupStaleSockets implements spec §4.4.5: any shellper-*.sock not
// claimed by a live session is probed with a brief connect; refused or
// timed out means stale, and the socket plus its companion log are
// unlinked. Accepted means a shellper still owns it and it is left alone.
func (m *Manager) CleanupStaleSockets() error {
	entries, err := os.ReadDir(m.layout.SocketsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("session: read sockets dir: %w", err)
	}

	m.mu.Lock()
	live := make(map[string]bool, len(m.sessions))
	for _, ms := range m.sessions {
		live[ms.SocketPath] = true
	}
	m.mu.Unlock()

	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "shellper-") || !strings.HasSuffix(name, ".sock") {
			continue
		}
		path := filepath.Join(m.layout.SocketsDir(), name)
		if live[path] {
			continue
		}
		info, err := os.Lstat(path)
		if err != nil || info.Mode()&os.ModeSocket == 0 {
			continue
		}
		if probeStale(path, defaultStaleProbeWait) {
			os.Remove(path)
			os.Remove(strings.TrimSuffix(path, ".sock") + ".log")
		}
	}
	return nil
}

// Shutdown implements spec §4.4.6: disconnects without killing shellpers,
// so sessions survive a Tower restart. Every client is Detach()ed first so
// the socket close this triggers does not cascade into removeSession.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		return
	}
	m.shutdown = true
	sessions := make([]*ManagedSession, 0, len(m.sessions))
	for _, ms := range m.sessions {
		sessions = append(sessions, ms)
	}
	m.sessions = make(map[string]*ManagedSession)
	m.mu.Unlock()

	for _, ms := range sessions {
		ms.cancelResetTimer()
		if ms.Client != nil {
			ms.Client.Detach()
			ms.Client.Close()
		}
	}
}
