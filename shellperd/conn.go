package shellperd

import (
	"encoding/json"
	"fmt"
	"net"
	"sync"

	"github.com/xhd2015/shellper/protocol"
)

type connState int

const (
	statePendingHello connState = iota
	stateActive
	stateClosed
)

// outboundQueueSize bounds the per-connection outbound frame queue. A
// client that cannot keep up fills this queue and is evicted rather than
// blocking the sender (spec §4.3.3, §7 BackpressureDrop).
const outboundQueueSize = 256

// conn is one accepted connection, tracked through PendingHello -> Active ->
// Closed (spec §4.3.2). Every outbound frame is enqueued onto outbox and
// written by a dedicated writeLoop goroutine, so a stalled client's socket
// never blocks the caller — in particular never blocks the PTY readLoop
// that drives broadcast (spec §4.3.3: "attempt a non-blocking write").
type conn struct {
	id         uint64
	nc         net.Conn
	d          *Daemon
	clientType protocol.ClientType

	outbox chan []byte
	done   chan struct{}
	once   sync.Once

	mu    sync.Mutex
	state connState
}

func newConn(id uint64, nc net.Conn, d *Daemon) *conn {
	c := &conn{
		id:     id,
		nc:     nc,
		d:      d,
		state:  statePendingHello,
		outbox: make(chan []byte, outboundQueueSize),
		done:   make(chan struct{}),
	}
	go c.writeLoop()
	return c
}

// writeLoop drains outbox to the socket in enqueue order until the
// connection is evicted or the socket write fails.
func (c *conn) writeLoop() {
	for {
		select {
		case frame := <-c.outbox:
			if _, err := c.nc.Write(frame); err != nil {
				c.d.evictConn(c)
				return
			}
		case <-c.done:
			return
		}
	}
}

// enqueue puts frame on the connection's outbox without ever blocking the
// caller: a full queue means the client is too slow and is evicted instead
// (spec §4.3.3, invariant 5). Returns false if the connection was evicted.
func (c *conn) enqueue(frame []byte) bool {
	select {
	case c.outbox <- frame:
		return true
	case <-c.done:
		return false
	default:
		c.d.evictConn(c)
		return false
	}
}

// stopWriteLoop unblocks writeLoop. Safe to call more than once.
func (c *conn) stopWriteLoop() {
	c.once.Do(func() {
		close(c.done)
	})
}

func (d *Daemon) handleConn(nc net.Conn) {
	d.mu.Lock()
	d.nextConn++
	id := d.nextConn
	d.mu.Unlock()

	c := newConn(id, nc, d)

	dec := protocol.Decoder{}
	buf := make([]byte, 32*1024)
	for {
		n, err := nc.Read(buf)
		if n > 0 {
			frames, decErr := dec.Feed(buf[:n])
			if decErr != nil {
				d.protocolError(c, decErr)
				return
			}
			for _, f := range frames {
				if c.dispatch(f) == errDestroyConn {
					return
				}
			}
		}
		if err != nil {
			d.onConnClosed(c)
			return
		}
	}
}

var errDestroyConn = fmt.Errorf("shellperd: connection destroyed")

// evictConn is the single teardown path for a connection: stop its write
// loop, drop it from the broadcast set, and close its socket. Idempotent.
func (d *Daemon) evictConn(c *conn) {
	c.mu.Lock()
	c.state = stateClosed
	c.mu.Unlock()
	c.stopWriteLoop()
	d.removeConn(c.id)
	c.nc.Close()
}

func (d *Daemon) protocolError(c *conn, err error) {
	d.log("protocol error on conn %d: %v", c.id, err)
	d.evictConn(c)
}

func (d *Daemon) onConnClosed(c *conn) {
	d.evictConn(c)
}

// dispatch handles one fully-parsed frame per the per-state rules in spec
// §4.3.2. Returns errDestroyConn if the connection must be torn down.
func (c *conn) dispatch(f protocol.Frame) error {
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()

	if state == statePendingHello {
		if f.Type != protocol.TypeHello {
			return nil // discarded, not an error
		}
		return c.handleHello(f)
	}
	if state == stateClosed {
		return nil
	}

	switch f.Type {
	case protocol.TypeData:
		p := c.d.currentPTY()
		if p != nil {
			p.write(f.Payload)
		}
	case protocol.TypeResize:
		var rp protocol.ResizePayload
		if err := json.Unmarshal(f.Payload, &rp); err != nil {
			return c.destroy()
		}
		if p := c.d.currentPTY(); p != nil {
			p.resize(rp.Cols, rp.Rows)
		}
	case protocol.TypeSignal:
		if c.clientType != protocol.ClientTower {
			return nil // terminal-type SIGNAL silently ignored
		}
		var sp protocol.SignalPayload
		if err := json.Unmarshal(f.Payload, &sp); err != nil {
			return c.destroy()
		}
		if !protocol.AllowedSignals[sp.Signal] {
			c.d.log("protocol-error: disallowed signal %d from conn %d", sp.Signal, c.id)
			return nil
		}
		if p := c.d.currentPTY(); p != nil {
			p.signal(sp.Signal)
		}
	case protocol.TypeSpawn:
		if c.clientType != protocol.ClientTower {
			return nil // terminal-type SPAWN silently ignored
		}
		var sp protocol.SpawnPayload
		if err := json.Unmarshal(f.Payload, &sp); err != nil {
			return c.destroy()
		}
		if err := c.d.spawn(sp); err != nil {
			c.d.log("spawn failed on conn %d: %v", c.id, err)
		}
	case protocol.TypePing:
		frame, err := protocol.Encode(nil, protocol.TypePong, nil)
		if err == nil {
			c.enqueue(frame)
		}
	case protocol.TypePong:
		// no-op
	default:
		// unknown frame type: forward-compatible no-op
	}
	return nil
}

func (c *conn) destroy() error {
	c.d.evictConn(c)
	return errDestroyConn
}

// handleHello completes the handshake (spec §4.3.2): it enqueues WELCOME
// and, if the ring holds data, REPLAY, and only then registers the
// connection as a broadcast target. Registering after both frames are
// enqueued (rather than before) guarantees they are ahead of any DATA frame
// the PTY read loop might broadcast concurrently, preserving the §5
// ordering guarantee "WELCOME precedes any post-handshake frame" and
// "REPLAY... follows WELCOME before any DATA".
func (c *conn) handleHello(f protocol.Frame) error {
	var hp protocol.HelloPayload
	if err := json.Unmarshal(f.Payload, &hp); err != nil {
		return c.destroy()
	}

	if hp.ClientType == protocol.ClientTower {
		c.d.destroyExistingTowerConn()
	}

	c.clientType = hp.ClientType
	c.mu.Lock()
	c.state = stateActive
	c.mu.Unlock()

	c.d.mu.Lock()
	p := c.d.pty
	startTime := c.d.startTime
	replay := c.d.ring.GetReplayData()
	c.d.mu.Unlock()

	cols, rows := p.size()
	welcome := protocol.WelcomePayload{
		Version:   protocol.Version,
		Pid:       p.cmd.Process.Pid,
		Cols:      cols,
		Rows:      rows,
		StartTime: startTime,
	}
	frame, err := protocol.EncodeJSON(nil, protocol.TypeWelcome, welcome)
	if err != nil {
		return c.destroy()
	}
	if !c.enqueue(frame) {
		return errDestroyConn
	}

	if len(replay) > 0 {
		rframe, err := protocol.Encode(nil, protocol.TypeReplay, replay)
		if err == nil {
			if !c.enqueue(rframe) {
				return errDestroyConn
			}
		}
	}

	c.d.mu.Lock()
	c.d.conns[c.id] = c
	c.d.mu.Unlock()
	return nil
}

// destroyExistingTowerConn enforces invariant 1: at most one tower-class
// connection at a time (spec §4.3.2).
func (d *Daemon) destroyExistingTowerConn() {
	d.mu.Lock()
	var victim *conn
	for _, c := range d.conns {
		if c.clientType == protocol.ClientTower {
			victim = c
			break
		}
	}
	d.mu.Unlock()
	if victim != nil {
		d.evictConn(victim)
	}
}
