// Command towerd is a minimal demonstration Tower: it wires the Session
// Manager, shellper client, and session wrapper together behind a thin
// JSON HTTP API and a UI WebSocket endpoint (spec.md §4.8.G). Real
// deployments replace this surface with their own orchestrator-side API.
package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/gorilla/websocket"
	"github.com/xhd2015/less-gen/flags"

	"github.com/xhd2015/shellper/config"
	"github.com/xhd2015/shellper/logx"
	"github.com/xhd2015/shellper/session"
	"github.com/xhd2015/shellper/sessionwrap"
	"github.com/xhd2015/shellper/wsproto"
)

var help = `Usage: towerd [options]

Runs a minimal demonstration Tower process: a Session Manager, reachable
over a thin JSON HTTP API, plus a UI WebSocket endpoint per session.

Options:
  --workspace <dir>   Workspace root (default: current directory)
  --addr <host:port>  HTTP listen address (default: 127.0.0.1:7890)
  --shellper <path>   Path to the shellper binary (default: "shellper", on PATH)
  -h, --help          Show this help message
`

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "towerd: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	workspace := "."
	addr := "127.0.0.1:7890"
	shellperBinary := "shellper"

	_, err := flags.
		String("--workspace", &workspace).
		String("--addr", &addr).
		String("--shellper", &shellperBinary).
		Help("-h,--help", help).
		Parse(args)
	if err != nil {
		return err
	}

	layout := config.NewLayout(workspace)
	if err := layout.EnsureSocketsDir(); err != nil {
		return err
	}
	if err := layout.EnsureLogsDir(); err != nil {
		return err
	}

	lg, err := logx.New("")
	if err != nil {
		return err
	}

	t := newTower(layout, shellperBinary, lg)
	t.reconnectPersisted()

	mux := http.NewServeMux()
	mux.HandleFunc("/sessions", t.handleSessions)
	mux.HandleFunc("/sessions/", t.handleSessionByID)
	mux.HandleFunc("/ws/", t.handleWS)

	srv := &http.Server{Addr: addr, Handler: mux}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		lg.Printf("shutting down (sessions survive)")
		t.manager.Shutdown()
		srv.Close()
	}()

	lg.Printf("towerd listening on %s (workspace=%s)", addr, workspace)
	err = srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// tower bundles everything one demonstration process needs: the Session
// Manager plus one sessionwrap.Wrap per session, keyed by session id.
type tower struct {
	layout   config.Layout
	manager  *session.Manager
	registry *registryFile
	logger   *logx.Logger

	mu    sync.Mutex
	wraps map[string]*sessionwrap.Wrap
}

func newTower(layout config.Layout, shellperBinary string, lg *logx.Logger) *tower {
	t := &tower{
		layout:   layout,
		registry: newRegistryFile(layout),
		logger:   lg,
		wraps:    make(map[string]*sessionwrap.Wrap),
	}
	t.manager = session.New(layout, shellperBinary, lg, session.EventHandlers{
		OnError: func(sessionID string, err error) {
			lg.Printf("session %s error: %v", sessionID, err)
			t.dropWrap(sessionID)
			t.registry.delete(sessionID)
		},
	})
	return t
}

// reconnectPersisted reattaches every persisted session on startup (spec
// §4.4.2, §8 invariant 7). Failures just mean the record is stale; the
// registry is pruned to match.
func (t *tower) reconnectPersisted() {
	records, err := t.registry.all()
	if err != nil {
		t.logger.Printf("reconnectPersisted: read registry: %v", err)
		return
	}
	for id, rec := range records {
		ms, err := t.manager.ReconnectSession(id, rec.SocketPath, rec.Pid, rec.StartTime, nil)
		if err != nil || ms == nil {
			t.logger.Printf("reconnectPersisted: session %s not recoverable: %v", id, err)
			t.registry.delete(id)
			continue
		}
		t.attachWrap(id, ms)
		t.logger.Printf("reconnected session %s (pid=%d)", id, ms.Pid)
	}
}

// clientAdapter satisfies sessionwrap.DataSource over a ManagedSession's
// shellper client.
type clientAdapter struct {
	ms *session.ManagedSession
}

func (a clientAdapter) SendInput(b []byte)        { a.ms.Client.SendData(b) }
func (a clientAdapter) SendResize(cols, rows int) { a.ms.Client.SendResize(cols, rows) }
func (a clientAdapter) Close() error              { return a.ms.Client.Close() }

func (t *tower) attachWrap(sessionID string, ms *session.ManagedSession) *sessionwrap.Wrap {
	w, err := sessionwrap.New(sessionID, clientAdapter{ms: ms}, sessionwrap.Options{
		LogPath:        t.layout.SessionLogPath(sessionID),
		ShellperBacked: true,
	})
	if err != nil {
		t.logger.Printf("attachWrap %s: %v", sessionID, err)
		return nil
	}
	ms.Client.SetDataHandler(w.OnData)

	t.mu.Lock()
	t.wraps[sessionID] = w
	t.mu.Unlock()
	return w
}

func (t *tower) dropWrap(sessionID string) {
	t.mu.Lock()
	w, ok := t.wraps[sessionID]
	delete(t.wraps, sessionID)
	t.mu.Unlock()
	if ok {
		w.Shutdown()
	}
}

type createSessionRequest struct {
	SessionID string            `json:"sessionId"`
	Command   string            `json:"command"`
	Args      []string          `json:"args"`
	Cwd       string            `json:"cwd"`
	Env       map[string]string `json:"env"`
	Cols      int               `json:"cols"`
	Rows      int               `json:"rows"`
}

func (t *tower) handleSessions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req createSessionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.Cols <= 0 {
			req.Cols = 80
		}
		if req.Rows <= 0 {
			req.Rows = 24
		}
		ms, err := t.manager.CreateSession(session.CreateOptions{
			SessionID:     req.SessionID,
			Command:       req.Command,
			Args:          req.Args,
			Cwd:           req.Cwd,
			Env:           req.Env,
			Cols:          req.Cols,
			Rows:          req.Rows,
			RestartOnExit: true,
			Restart:       config.DefaultRestartPolicy(),
		})
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		t.attachWrap(ms.SessionID, ms)
		t.registry.put(ms)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"sessionId": ms.SessionID,
			"pid":       ms.Pid,
			"startTime": ms.StartTime,
		})
	case http.MethodGet:
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(t.listSessionIDs())
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (t *tower) listSessionIDs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]string, 0, len(t.wraps))
	for id := range t.wraps {
		ids = append(ids, id)
	}
	return ids
}

func (t *tower) handleSessionByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/sessions/")
	if id == "" {
		http.Error(w, "missing session id", http.StatusBadRequest)
		return
	}
	switch r.Method {
	case http.MethodDelete:
		if err := t.manager.KillSession(id); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		t.dropWrap(id)
		t.registry.delete(id)
		w.WriteHeader(http.StatusOK)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (t *tower) handleWS(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/ws/")
	t.mu.Lock()
	wrap, ok := t.wraps[id]
	t.mu.Unlock()
	if !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	client := sessionwrap.NewUIClient(conn)

	var replay [][]byte
	if resume := r.URL.Query().Get("resume"); resume != "" {
		var since uint64
		fmt.Sscanf(resume, "%d", &since)
		for _, l := range wrap.AttachResume(client, since) {
			replay = append(replay, []byte(l.Text+"\n"))
		}
	} else {
		for _, l := range wrap.Attach(client) {
			replay = append(replay, []byte(l.Text+"\n"))
		}
	}
	for _, b := range replay {
		conn.WriteMessage(websocket.BinaryMessage, wsproto.EncodeData(b))
	}

	wrap.BroadcastSeq()
	stop := make(chan struct{})
	go wrap.RunSeqAdvertiser(stop)
	defer close(stop)

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			wrap.Detach(client, nil)
			conn.Close()
			return
		}
		d, err := wsproto.Decode(msg)
		if err != nil {
			continue
		}
		switch d.Tag {
		case wsproto.TagData:
			wrap.SendInput(d.Data)
		case wsproto.TagControl:
			wrap.HandleControl(client, d.Control)
		}
	}
}
