// Package shellperd implements the shellper daemon: a process that owns one
// PTY and serves it to multiple clients over a Unix domain socket using the
// framed wire protocol in package protocol. One shellperd.Daemon corresponds
// to one running shellper process (spec §4.3).
package shellperd

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/xhd2015/shellper/protocol"
	"github.com/xhd2015/shellper/ring"
)

// Config is the JSON configuration a shellper process reads from argv
// (spec §4.3.1 step 1).
type Config struct {
	Command           string            `json:"command"`
	Args              []string          `json:"args"`
	Cwd               string            `json:"cwd"`
	Env               map[string]string `json:"env"`
	Cols              int               `json:"cols"`
	Rows              int               `json:"rows"`
	SocketPath        string            `json:"socketPath"`
	ReplayBufferLines int               `json:"replayBufferLines"`
}

// StartupInfo is the single JSON line a shellper prints to stdout before
// closing it (spec §3.1.1, §6).
type StartupInfo struct {
	Pid       int   `json:"pid"`
	StartTime int64 `json:"startTime"`
}

// Daemon is a running shellper: one PTY, one listener, many connections.
type Daemon struct {
	cfg       Config
	startTime int64

	logger *logger

	mu      sync.Mutex
	pty     *ptyProc
	ring    *ring.Ring
	conns   map[uint64]*conn
	nextConn uint64

	listener net.Listener

	shutdown chan struct{}
	closed   bool
}

type logger interface {
	Printf(format string, args ...interface{})
}

// New constructs a Daemon from cfg. It does not spawn the PTY or start
// listening; call Start for that (spec §4.3.1).
func New(cfg Config, lg logger) (*Daemon, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("shellperd: config.command is required")
	}
	if cfg.SocketPath == "" {
		return nil, fmt.Errorf("shellperd: config.socketPath is required")
	}
	if cfg.Cols <= 0 {
		cfg.Cols = 80
	}
	if cfg.Rows <= 0 {
		cfg.Rows = 24
	}
	replayLines := cfg.ReplayBufferLines
	if replayLines <= 0 {
		replayLines = 10000
	}
	return &Daemon{
		cfg:      cfg,
		ring:     ring.New(replayLines),
		conns:    make(map[uint64]*conn),
		shutdown: make(chan struct{}),
		logger:   lg,
	}, nil
}

func (d *Daemon) log(format string, args ...interface{}) {
	if d.logger != nil {
		d.logger.Printf(format, args...)
	}
}

// Start spawns the PTY, begins listening on the configured socket, and
// writes the startup JSON line to stdout (spec §4.3.1 steps 2-5).
func (d *Daemon) Start(stdout *os.File) error {
	if err := removeStaleSocket(d.cfg.SocketPath); err != nil {
		return err
	}

	p, err := startPTY(d.cfg.Command, d.cfg.Args, d.cfg.Cwd, d.cfg.Env, d.cfg.Cols, d.cfg.Rows)
	if err != nil {
		return err
	}
	d.startTime = time.Now().UnixMilli()

	d.mu.Lock()
	d.pty = p
	d.mu.Unlock()

	ln, err := net.Listen("unix", d.cfg.SocketPath)
	if err != nil {
		return fmt.Errorf("shellperd: listen: %w", err)
	}
	if err := os.Chmod(d.cfg.SocketPath, 0600); err != nil {
		ln.Close()
		return fmt.Errorf("shellperd: chmod socket: %w", err)
	}
	d.listener = ln

	info := StartupInfo{Pid: os.Getpid(), StartTime: d.startTime}
	enc := json.NewEncoder(stdout)
	if err := enc.Encode(info); err != nil {
		ln.Close()
		return fmt.Errorf("shellperd: write startup line: %w", err)
	}
	stdout.Close()

	go d.readLoop(p)

	return nil
}

// removeStaleSocket ensures socketPath's parent directory exists (0700) and
// unlinks any pre-existing socket file at that path (spec §4.3.1 step 2).
func removeStaleSocket(socketPath string) error {
	dir := dirOf(socketPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("shellperd: create socket dir: %w", err)
	}
	info, err := os.Lstat(socketPath)
	if err == nil {
		if info.Mode()&os.ModeSocket != 0 {
			os.Remove(socketPath)
		}
	}
	return nil
}

func dirOf(p string) string {
	i := len(p) - 1
	for i >= 0 && p[i] != '/' {
		i--
	}
	if i < 0 {
		return "."
	}
	return p[:i]
}

// Serve accepts connections until the listener is closed.
func (d *Daemon) Serve() error {
	for {
		c, err := d.listener.Accept()
		if err != nil {
			select {
			case <-d.shutdown:
				return nil
			default:
			}
			return err
		}
		go d.handleConn(c)
	}
}

// Shutdown performs graceful shutdown (spec §4.3.1 step 6): it closes the
// listener and every connection, terminates the current PTY process
// (SIGTERM, then SIGKILL if it has not exited within 5s), and removes the
// socket file. Calls after the first are no-ops.
func (d *Daemon) Shutdown() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.shutdown)
	conns := make([]*conn, 0, len(d.conns))
	for _, c := range d.conns {
		conns = append(conns, c)
	}
	d.mu.Unlock()

	if d.listener != nil {
		d.listener.Close()
	}
	for _, c := range conns {
		c.stopWriteLoop()
		c.nc.Close()
	}
	d.mu.Lock()
	p := d.pty
	d.mu.Unlock()
	if p != nil {
		p.terminate(5 * time.Second)
	}
	os.Remove(d.cfg.SocketPath)
}

// currentPTY returns the active PTY generation under lock.
func (d *Daemon) currentPTY() *ptyProc {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pty
}

// readLoop reads PTY output for one generation and fans it out (spec
// §4.3.3). It checks the generation guard on every iteration so a replaced
// PTY's trailing reads do not corrupt the new generation's state (§4.3.5).
func (d *Daemon) readLoop(p *ptyProc) {
	buf := make([]byte, 32*1024)
	for {
		n, err := p.f.Read(buf)
		if n > 0 {
			d.onData(p, append([]byte(nil), buf[:n]...))
		}
		if err != nil {
			d.onExit(p, err)
			return
		}
	}
}

func (d *Daemon) onData(p *ptyProc, data []byte) {
	d.mu.Lock()
	if d.pty != p {
		d.mu.Unlock()
		return
	}
	d.ring.Append(data)
	conns := make([]*conn, 0, len(d.conns))
	for _, c := range d.conns {
		conns = append(conns, c)
	}
	d.mu.Unlock()

	frame, err := protocol.Encode(nil, protocol.TypeData, data)
	if err != nil {
		return
	}
	d.broadcast(conns, frame)
}

func (d *Daemon) onExit(p *ptyProc, readErr error) {
	code, sig := exitInfo(p)
	p.markExited(code, sig)

	d.mu.Lock()
	if d.pty != p {
		d.mu.Unlock()
		return
	}
	conns := make([]*conn, 0, len(d.conns))
	for _, c := range d.conns {
		conns = append(conns, c)
	}
	d.mu.Unlock()

	payload, _ := json.Marshal(protocol.ExitPayload{Code: code, Signal: sig})
	frame, err := protocol.Encode(nil, protocol.TypeExit, payload)
	if err != nil {
		return
	}
	d.broadcast(conns, frame)
	d.log("pty generation %d exited code=%v signal=%v", p.generation, deref(code), deref(sig))
}

func deref(p *int) int {
	if p == nil {
		return -1
	}
	return *p
}

// broadcast enqueues frame onto every connection's outbox. enqueue never
// blocks: a connection whose outbox is full is evicted instead (backpressure
// eviction, spec §4.3.3, invariant 5), so a slow client can never stall this
// call, which runs inline in the PTY read loop.
func (d *Daemon) broadcast(conns []*conn, frame []byte) {
	for _, c := range conns {
		c.enqueue(frame)
	}
}

func (d *Daemon) removeConn(id uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.conns, id)
}

// spawn implements the SPAWN frame: kill the current PTY, clear the ring,
// spawn a new PTY preserving current size (spec §4.3.2, §4.3.5).
func (d *Daemon) spawn(p protocol.SpawnPayload) error {
	d.mu.Lock()
	old := d.pty
	cols, rows := old.size()
	d.mu.Unlock()

	go old.terminate(5 * time.Second)

	newPTY, err := startPTY(p.Command, p.Args, p.Cwd, p.Env, cols, rows)
	if err != nil {
		return err
	}

	d.mu.Lock()
	newPTY.generation = old.generation + 1
	d.pty = newPTY
	d.ring.Reset()
	d.mu.Unlock()

	go d.readLoop(newPTY)
	return nil
}
