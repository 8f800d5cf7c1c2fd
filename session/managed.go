package session

import (
	"sync"
	"time"

	"github.com/xhd2015/shellper/config"
	"github.com/xhd2015/shellper/shellperclient"
)

// CreateOptions is the input to Manager.CreateSession (spec §4.4.1).
type CreateOptions struct {
	SessionID     string
	Command       string
	Args          []string
	Cwd           string
	Env           map[string]string
	Cols          int
	Rows          int
	RestartOnExit bool
	Restart       config.RestartPolicy
}

// ManagedSession is the Session Manager's record of one live session (spec
// §4.4 "Maintains sessions: Map<sessionId, ManagedSession>").
type ManagedSession struct {
	SessionID  string
	SocketPath string
	Pid        int
	StartTime  int64
	Cols       int
	Rows       int
	Options    CreateOptions

	Client *shellperclient.Client

	mu               sync.Mutex
	restartCount     int
	restartResetTime *time.Timer
}

func (m *ManagedSession) restartCountValue() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.restartCount
}

func (m *ManagedSession) incrementRestartCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.restartCount++
	return m.restartCount
}

func (m *ManagedSession) resetRestartCount() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.restartCount = 0
}

func (m *ManagedSession) cancelResetTimer() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.restartResetTime != nil {
		m.restartResetTime.Stop()
		m.restartResetTime = nil
	}
}

func (m *ManagedSession) startResetTimer(d time.Duration, fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.restartResetTime != nil {
		m.restartResetTime.Stop()
	}
	m.restartResetTime = time.AfterFunc(d, fn)
}
