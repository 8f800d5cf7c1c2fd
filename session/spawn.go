package session

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/xhd2015/shellper/shellperd"
)

// ErrSpawnFailed covers every failure mode of spawnShellper (spec §7
// SpawnError): bad argv, socket didn't appear, child exited early.
var ErrSpawnFailed = fmt.Errorf("session: spawn failed")

// spawnResult carries what createSession needs once the detached shellper
// has announced itself.
type spawnResult struct {
	cmd       *exec.Cmd
	pid       int
	startTime int64
}

// spawnShellper launches a shellper binary as a detached child: stdin
// ignored, stdout piped (read once for the startup JSON line, then
// closed), stderr redirected to a log file, never a pipe (a pipe would
// synchronously break the shellper when Tower exits). Mirrors the
// teacher's run/daemon/process.go detached-spawn idiom (Setpgid, pipe
// stdout only) combined with subprocess/manager.go's process-group
// convention (spec §4.4.1 steps 2-4).
func spawnShellper(shellperBinary string, cfg shellperd.Config, stderrLogPath string, stdoutTimeout time.Duration) (*spawnResult, error) {
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal config: %v", ErrSpawnFailed, err)
	}

	cmd := exec.Command(shellperBinary, string(cfgJSON))
	cmd.Stdin = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stderrFile, err := os.OpenFile(stderrLogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("%w: open stderr log: %v", ErrSpawnFailed, err)
	}
	cmd.Stderr = stderrFile
	defer stderrFile.Close()

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdout pipe: %v", ErrSpawnFailed, err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: start: %v", ErrSpawnFailed, err)
	}

	type lineResult struct {
		info shellperd.StartupInfo
		err  error
	}
	lineCh := make(chan lineResult, 1)
	go func() {
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 4096), 64*1024)
		if scanner.Scan() {
			var info shellperd.StartupInfo
			if err := json.Unmarshal(scanner.Bytes(), &info); err != nil {
				lineCh <- lineResult{err: err}
				return
			}
			lineCh <- lineResult{info: info}
			return
		}
		lineCh <- lineResult{err: scanner.Err()}
	}()

	// Step 3: wait for the exit or the stdout line, whichever first, bounded
	// by stdoutTimeout (spec "On timeout (10s)... kill the child, unlink the
	// socket, fail with SPAWN_FAILED").
	exitCh := make(chan error, 1)
	go func() { exitCh <- cmd.Wait() }()

	select {
	case res := <-lineCh:
		if res.err != nil {
			killChild(cmd)
			return nil, fmt.Errorf("%w: invalid startup line: %v", ErrSpawnFailed, res.err)
		}
		return &spawnResult{cmd: cmd, pid: res.info.Pid, startTime: res.info.StartTime}, nil
	case err := <-exitCh:
		return nil, fmt.Errorf("%w: child exited early: %v", ErrSpawnFailed, err)
	case <-time.After(stdoutTimeout):
		killChild(cmd)
		return nil, fmt.Errorf("%w: timeout waiting for startup line", ErrSpawnFailed)
	}
}

func killChild(cmd *exec.Cmd) {
	if cmd.Process != nil {
		cmd.Process.Kill()
	}
}

// waitForSocket polls for socketPath to exist, up to timeout (spec §4.4.1
// step 5: "Poll for the socket file to exist (≤ 5s)").
func waitForSocket(socketPath string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if info, err := os.Lstat(socketPath); err == nil && info.Mode()&os.ModeSocket != 0 {
			return true
		}
		time.Sleep(50 * time.Millisecond)
	}
	return false
}
