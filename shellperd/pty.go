package shellperd

import (
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/creack/pty"
)

// ptyProc wraps one PTY-backed child process. Every generation (see
// Daemon.spawn) gets a fresh ptyProc, so a callback from a replaced
// generation recognizes itself as stale by comparing its ptyProc against the
// daemon's current one and discards its own output (spec §4.3.5). The
// monotonic generation id is used only in log messages.
type ptyProc struct {
	generation uint64
	cmd        *exec.Cmd
	f          *os.File

	mu       sync.Mutex
	cols     int
	rows     int
	exited   bool
	exitCode *int
	exitSig  *int

	waitOnce sync.Once
	waitErr  error
}

// wait reaps the process exactly once, no matter how many of readLoop's
// onExit and spawn's terminate race to call it for the same generation
// (spec §4.3.5 guards against a stale generation's callbacks corrupting a
// new one; this guards the underlying cmd.Wait, which panics if called
// twice concurrently).
func (p *ptyProc) wait() error {
	p.waitOnce.Do(func() {
		p.waitErr = p.cmd.Wait()
	})
	return p.waitErr
}

func startPTY(command string, args []string, cwd string, env map[string]string, cols, rows int) (*ptyProc, error) {
	cmd := exec.Command(command, args...)
	cmd.Dir = cwd

	envList := os.Environ()
	for k, v := range env {
		envList = append(envList, k+"="+v)
	}
	hasTerm := false
	for _, e := range envList {
		if len(e) >= 5 && e[:5] == "TERM=" {
			hasTerm = true
			break
		}
	}
	if !hasTerm {
		envList = append(envList, "TERM=xterm-256color")
	}
	cmd.Env = envList

	f, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)})
	if err != nil {
		return nil, fmt.Errorf("shellperd: start pty: %w", err)
	}

	return &ptyProc{
		cmd:  cmd,
		f:    f,
		cols: cols,
		rows: rows,
	}, nil
}

func (p *ptyProc) resize(cols, rows int) error {
	p.mu.Lock()
	p.cols, p.rows = cols, rows
	p.mu.Unlock()
	return pty.Setsize(p.f, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)})
}

func (p *ptyProc) size() (cols, rows int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cols, p.rows
}

func (p *ptyProc) write(b []byte) error {
	p.mu.Lock()
	exited := p.exited
	p.mu.Unlock()
	if exited {
		return nil
	}
	_, err := p.f.Write(b)
	return err
}

func (p *ptyProc) signal(sig int) error {
	if p.cmd.Process == nil {
		return nil
	}
	return p.cmd.Process.Signal(signalFromInt(sig))
}

// terminate sends SIGTERM, waits briefly, then SIGKILL (spec §4.3.2 SPAWN
// step: "kill the current PTY with SIGTERM").
func (p *ptyProc) terminate(wait time.Duration) {
	if p.cmd.Process == nil {
		return
	}
	p.cmd.Process.Signal(signalFromInt(15))
	done := make(chan struct{})
	go func() {
		p.wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(wait):
		p.cmd.Process.Kill()
		<-done
	}
}

func (p *ptyProc) markExited(code, sig *int) {
	p.mu.Lock()
	p.exited = true
	p.exitCode = code
	p.exitSig = sig
	p.mu.Unlock()
	p.f.Close()
}

func (p *ptyProc) hasExited() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exited
}
