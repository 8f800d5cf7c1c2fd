// Package sessionwrap implements the session wrapper: UI WebSocket fan-out,
// the Line Ring, disk log rotation, and resume-by-seq (spec §4.6). It is
// grounded on the teacher's terminal.go session struct (attach/detach,
// scrollback-on-mutex) combined with server/logs/logfiles.go's rotation
// bookkeeping, generalized from one in-process PTY + one WebSocket client
// to many UI clients fed from either a PTY or a shellper client.
package sessionwrap

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/xhd2015/shellper/linering"
	"github.com/xhd2015/shellper/wsproto"
)

// UIClient is a thin wrapper around a UI WebSocket connection.
type UIClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// NewUIClient wraps conn.
func NewUIClient(conn *websocket.Conn) *UIClient {
	return &UIClient{conn: conn}
}

func (u *UIClient) write(b []byte) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.conn.WriteMessage(websocket.BinaryMessage, b)
}

// DataSource abstracts the thing a Wrap fans out from: either a locally
// owned PTY or a shellperclient.Client. Only the operations sessionwrap
// needs are exposed here, so it is not coupled to either concrete type.
type DataSource interface {
	SendInput(b []byte)
	SendResize(cols, rows int)
	Close() error
}

const (
	defaultLogQuota       = 10 * 1024 * 1024
	defaultDisconnectWait = 5 * time.Minute
	seqAdvertiseInterval  = 30 * time.Second
)

// Wrap is the session wrapper for one logical session.
type Wrap struct {
	sessionID string
	source    DataSource
	shellperBacked bool

	lines *linering.Ring

	logPath  string
	logQuota int64

	mu       sync.Mutex
	logFile  *os.File
	logSize  int64
	clients  map[*UIClient]bool
	partial  string // accumulates a not-yet-newline-terminated tail

	disconnectTimer *time.Timer
	disconnectWait  time.Duration

	closed bool
}

// Options configures a new Wrap.
type Options struct {
	LineCapacity    int
	LogPath         string
	LogQuotaBytes   int64
	DisconnectWait  time.Duration
	ShellperBacked  bool
}

// New creates a Wrap for sessionID, fed by source.
func New(sessionID string, source DataSource, opts Options) (*Wrap, error) {
	if opts.LineCapacity <= 0 {
		opts.LineCapacity = 10000
	}
	if opts.LogQuotaBytes <= 0 {
		opts.LogQuotaBytes = defaultLogQuota
	}
	if opts.DisconnectWait <= 0 {
		opts.DisconnectWait = defaultDisconnectWait
	}

	w := &Wrap{
		sessionID:      sessionID,
		source:         source,
		shellperBacked: opts.ShellperBacked,
		lines:          linering.New(opts.LineCapacity),
		logPath:        opts.LogPath,
		logQuota:       opts.LogQuotaBytes,
		clients:        make(map[*UIClient]bool),
		disconnectWait: opts.DisconnectWait,
	}

	if opts.LogPath != "" {
		if err := w.openLogLocked(); err != nil {
			return nil, err
		}
	}
	return w, nil
}

func (w *Wrap) openLogLocked() error {
	f, err := os.OpenFile(w.logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("sessionwrap: open log: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("sessionwrap: stat log: %w", err)
	}
	w.logFile = f
	w.logSize = info.Size()
	return nil
}

// OnData implements the data path (spec §4.6.1): append to the Line Ring
// split on '\n', append to the disk log (rotating over quota), broadcast to
// every UI client, dropping any client whose write fails.
func (w *Wrap) OnData(chunk []byte) {
	w.mu.Lock()
	w.appendLinesLocked(chunk)
	if w.logFile != nil {
		w.appendLogLocked(chunk)
	}
	clients := make([]*UIClient, 0, len(w.clients))
	for c := range w.clients {
		clients = append(clients, c)
	}
	w.mu.Unlock()

	msg := wsproto.EncodeData(chunk)
	for _, c := range clients {
		if err := c.write(msg); err != nil {
			w.dropClient(c)
		}
	}
}

func (w *Wrap) appendLinesLocked(chunk []byte) {
	text := w.partial + string(chunk)
	segments := strings.Split(text, "\n")
	// The last segment is a partial line (no trailing newline yet) unless
	// chunk happened to end exactly on a newline, in which case it is "".
	w.partial = segments[len(segments)-1]
	for _, line := range segments[:len(segments)-1] {
		w.lines.Push(line)
	}
}

func (w *Wrap) appendLogLocked(chunk []byte) {
	if w.logSize >= w.logQuota {
		w.rotateLocked()
	}
	n, err := w.logFile.Write(chunk)
	if err == nil {
		w.logSize += int64(n)
	}
}

// rotateLocked keeps exactly one prior file: logPath -> logPath+".1" (spec
// §6, §9 "Disk log rotation keeps one prior file").
func (w *Wrap) rotateLocked() {
	w.logFile.Close()
	os.Rename(w.logPath, w.logPath+".1")
	f, err := os.OpenFile(w.logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		w.logFile = nil
		return
	}
	w.logFile = f
	w.logSize = 0
}

// Attach registers a UI client and returns the full Line Ring replay (spec
// §4.6.2). It also cancels any pending disconnect timer.
func (w *Wrap) Attach(c *UIClient) []linering.Line {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cancelDisconnectTimerLocked()
	w.clients[c] = true
	return w.lines.All()
}

// AttachResume registers a UI client and returns every resident line with
// seq > sinceSeq, best-effort against gaps (spec §4.6.2).
func (w *Wrap) AttachResume(c *UIClient, sinceSeq uint64) []linering.Line {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cancelDisconnectTimerLocked()
	w.clients[c] = true
	return w.lines.GetSince(sinceSeq)
}

// Detach removes a UI client (spec §4.6.3). If the session is PTY-owned
// (not shellper-backed) and no clients remain, a disconnect timer is
// started; on expiry the PTY is killed. Shellper-backed sessions never
// start a timer, because the shellper keeps the PTY alive independently.
func (w *Wrap) Detach(c *UIClient, onTimeout func()) {
	w.mu.Lock()
	delete(w.clients, c)
	remaining := len(w.clients)
	backed := w.shellperBacked
	wait := w.disconnectWait
	w.mu.Unlock()

	if backed || remaining > 0 {
		return
	}

	w.mu.Lock()
	w.cancelDisconnectTimerLocked()
	w.disconnectTimer = time.AfterFunc(wait, func() {
		w.source.Close()
		if onTimeout != nil {
			onTimeout()
		}
	})
	w.mu.Unlock()
}

func (w *Wrap) cancelDisconnectTimerLocked() {
	if w.disconnectTimer != nil {
		w.disconnectTimer.Stop()
		w.disconnectTimer = nil
	}
}

func (w *Wrap) dropClient(c *UIClient) {
	w.mu.Lock()
	delete(w.clients, c)
	w.mu.Unlock()
}

// SendInput forwards user input from a UI client to the data source (PTY
// or shellper client), completing the UI-to-PTY half of the data path.
func (w *Wrap) SendInput(b []byte) {
	w.source.SendInput(b)
}

// HandleControl dispatches one parsed control message from a UI client
// (spec §4.6.4): resize forwards to the data source, ping replies pong.
func (w *Wrap) HandleControl(c *UIClient, ctl wsproto.Control) {
	switch ctl.Type {
	case wsproto.ControlResize:
		var rp wsproto.ResizePayload
		if json.Unmarshal(ctl.Payload, &rp) == nil {
			w.source.SendResize(rp.Cols, rp.Rows)
		}
	case wsproto.ControlPing:
		if msg, err := wsproto.EncodeControl(wsproto.ControlPong, nil); err == nil {
			c.write(msg)
		}
	}
}

// BroadcastSeq advertises the current highest seq to every client (spec
// §9 "push at least once after attach and periodically thereafter").
func (w *Wrap) BroadcastSeq() {
	w.mu.Lock()
	seq := w.lines.LastSeq()
	clients := make([]*UIClient, 0, len(w.clients))
	for c := range w.clients {
		clients = append(clients, c)
	}
	w.mu.Unlock()

	msg, err := wsproto.EncodeControl(wsproto.ControlSeq, wsproto.SeqPayload{Seq: seq})
	if err != nil {
		return
	}
	for _, c := range clients {
		if err := c.write(msg); err != nil {
			w.dropClient(c)
		}
	}
}

// RunSeqAdvertiser periodically calls BroadcastSeq until stop is closed.
func (w *Wrap) RunSeqAdvertiser(stop <-chan struct{}) {
	ticker := time.NewTicker(seqAdvertiseInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			w.BroadcastSeq()
		case <-stop:
			return
		}
	}
}

// Shutdown performs a Tower-restart-safe shutdown (spec §4.6.5): it does
// not close the data source if shellper-backed, so the shellper process
// survives independently of this Wrap.
func (w *Wrap) Shutdown() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	w.cancelDisconnectTimerLocked()
	backed := w.shellperBacked
	if w.logFile != nil {
		w.logFile.Close()
		w.logFile = nil
	}
	w.mu.Unlock()

	if !backed {
		w.source.Close()
	}
}
