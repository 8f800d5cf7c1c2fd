// Package shellperclient implements the Tower-side client half of the
// shellper wire protocol: connect, HELLO/WELCOME handshake, and dispatch of
// post-handshake frames to the owning session wrapper (spec §4.5). It is
// modeled on the teacher's terminal.go WebSocket read-loop shape, adapted
// from a WebSocket connection to a raw Unix socket framed by package
// protocol.
package shellperclient

import (
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/xhd2015/shellper/protocol"
)

// Handlers are callbacks invoked from the client's read loop. Each is
// optional; a nil handler is simply not called. Handlers must not block.
type Handlers struct {
	OnData  func(payload []byte)
	OnExit  func(p protocol.ExitPayload)
	OnClose func(err error) // err is nil for a clean close after handshake
}

// Client is a connected Tower-side shellper client.
type Client struct {
	nc net.Conn

	mu         sync.Mutex
	welcome    *protocol.WelcomePayload
	handshook  bool
	closed     bool
	handlers   Handlers
	errHandler func(error)

	replayOnce sync.Once
	replayCh   chan []byte
}

// ErrHandshakeTimeout is returned by Connect when no WELCOME arrives in
// time (spec §4.5, §7 HandshakeError).
var ErrHandshakeTimeout = fmt.Errorf("shellperclient: handshake timeout")

// ErrVersionTooOld is returned when the shellper's protocol version is
// older than this client's (spec §4.5 version rule: stale shellper).
var ErrVersionTooOld = fmt.Errorf("shellperclient: shellper protocol version too old")

// Connect dials socketPath, sends HELLO{clientType=tower}, and waits up to
// handshakeTimeout for WELCOME. Frames that arrive before WELCOME are
// buffered and replayed into the dispatch path once the handshake
// completes (spec §4.5).
func Connect(socketPath string, handshakeTimeout time.Duration, h Handlers) (*Client, error) {
	nc, err := net.DialTimeout("unix", socketPath, handshakeTimeout)
	if err != nil {
		return nil, fmt.Errorf("shellperclient: dial: %w", err)
	}

	c := &Client{
		nc:       nc,
		handlers: h,
		replayCh: make(chan []byte, 1),
	}

	hello, err := protocol.EncodeJSON(nil, protocol.TypeHello, protocol.HelloPayload{
		Version:    protocol.Version,
		ClientType: protocol.ClientTower,
	})
	if err != nil {
		nc.Close()
		return nil, err
	}
	if _, err := nc.Write(hello); err != nil {
		nc.Close()
		return nil, fmt.Errorf("shellperclient: write hello: %w", err)
	}

	welcomeCh := make(chan *protocol.WelcomePayload, 1)
	errCh := make(chan error, 1)
	var buffered []protocol.Frame
	var bufMu sync.Mutex

	go c.readLoop(welcomeCh, errCh, &buffered, &bufMu)

	select {
	case w := <-welcomeCh:
		if w.Version < protocol.Version {
			nc.Close()
			return nil, ErrVersionTooOld
		}
		c.mu.Lock()
		c.welcome = w
		c.handshook = true
		c.mu.Unlock()

		bufMu.Lock()
		pending := buffered
		buffered = nil
		bufMu.Unlock()
		for _, f := range pending {
			c.dispatchPostHandshake(f)
		}
		return c, nil
	case err := <-errCh:
		nc.Close()
		return nil, err
	case <-time.After(handshakeTimeout):
		nc.Close()
		return nil, ErrHandshakeTimeout
	}
}

func (c *Client) readLoop(welcomeCh chan *protocol.WelcomePayload, errCh chan error, buffered *[]protocol.Frame, bufMu *sync.Mutex) {
	dec := protocol.Decoder{}
	buf := make([]byte, 32*1024)
	handshakeDone := false

	for {
		n, err := c.nc.Read(buf)
		if n > 0 {
			frames, decErr := dec.Feed(buf[:n])
			if decErr != nil {
				c.finish(decErr)
				return
			}
			for _, f := range frames {
				if !handshakeDone {
					if f.Type == protocol.TypeWelcome {
						var w protocol.WelcomePayload
						if jsonErr := json.Unmarshal(f.Payload, &w); jsonErr != nil {
							errCh <- fmt.Errorf("shellperclient: malformed welcome: %w", jsonErr)
							return
						}
						handshakeDone = true
						welcomeCh <- &w
						continue
					}
					bufMu.Lock()
					*buffered = append(*buffered, f)
					bufMu.Unlock()
					continue
				}
				c.dispatchPostHandshake(f)
			}
		}
		if err != nil {
			if !handshakeDone {
				errCh <- fmt.Errorf("shellperclient: closed during handshake: %w", err)
				return
			}
			c.finish(nil)
			return
		}
	}
}

// dispatchPostHandshake emits data/exit/replay/pong events. Duplicate
// WELCOME and any shellper-bound type (HELLO, RESIZE, SIGNAL, SPAWN) are
// ignored (spec §4.5).
func (c *Client) dispatchPostHandshake(f protocol.Frame) {
	switch f.Type {
	case protocol.TypeData:
		if c.handlers.OnData != nil {
			c.handlers.OnData(f.Payload)
		}
	case protocol.TypeReplay:
		c.replayOnce.Do(func() {
			c.replayCh <- append([]byte(nil), f.Payload...)
		})
	case protocol.TypeExit:
		var ep protocol.ExitPayload
		if err := json.Unmarshal(f.Payload, &ep); err == nil && c.handlers.OnExit != nil {
			c.handlers.OnExit(ep)
		}
	case protocol.TypePong:
		// no-op; terminal.go equivalent has no ping/pong concept, added per protocol spec
	case protocol.TypeWelcome:
		// duplicate WELCOME ignored
	default:
		// shellper-bound types or unknown types: ignored
	}
}

func (c *Client) finish(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	onClose := c.handlers.OnClose
	c.mu.Unlock()
	if onClose != nil {
		onClose(err)
	}
}

// WaitForReplay blocks for up to timeout for the first REPLAY frame,
// returning an empty slice if none arrives (shellper had nothing to
// replay), per spec §4.5.
func (c *Client) WaitForReplay(timeout time.Duration) []byte {
	select {
	case b := <-c.replayCh:
		return b
	case <-time.After(timeout):
		return nil
	}
}

// SetDataHandler replaces only the OnData callback, leaving OnExit/OnClose
// untouched — useful when a caller wires lifecycle handlers at connect
// time and a data sink (e.g. a session wrapper) separately afterward.
func (c *Client) SetDataHandler(fn func([]byte)) {
	c.mu.Lock()
	c.handlers.OnData = fn
	c.mu.Unlock()
}

// SetHandlers installs the handlers to use for subsequent events. Safe to
// call after Connect once the caller has a stable identity (e.g. a
// ManagedSession) to close over.
func (c *Client) SetHandlers(h Handlers) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = h
}

// Welcome returns the WELCOME payload received at handshake.
func (c *Client) Welcome() protocol.WelcomePayload {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.welcome == nil {
		return protocol.WelcomePayload{}
	}
	return *c.welcome
}

// writeFrame is a no-op when disconnected (spec §4.5 "All writes are
// no-ops when disconnected").
func (c *Client) writeFrame(frame []byte) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}
	c.nc.Write(frame)
}

// SendData writes a DATA frame (user input).
func (c *Client) SendData(b []byte) {
	frame, err := protocol.Encode(nil, protocol.TypeData, b)
	if err != nil {
		return
	}
	c.writeFrame(frame)
}

// SendResize writes a RESIZE frame.
func (c *Client) SendResize(cols, rows int) {
	frame, err := protocol.EncodeJSON(nil, protocol.TypeResize, protocol.ResizePayload{Cols: cols, Rows: rows})
	if err != nil {
		return
	}
	c.writeFrame(frame)
}

// SendSignal writes a SIGNAL frame.
func (c *Client) SendSignal(sig int) {
	frame, err := protocol.EncodeJSON(nil, protocol.TypeSignal, protocol.SignalPayload{Signal: sig})
	if err != nil {
		return
	}
	c.writeFrame(frame)
}

// SendSpawn writes a SPAWN frame.
func (c *Client) SendSpawn(p protocol.SpawnPayload) {
	frame, err := protocol.EncodeJSON(nil, protocol.TypeSpawn, p)
	if err != nil {
		return
	}
	c.writeFrame(frame)
}

// SendPing writes a PING frame.
func (c *Client) SendPing() {
	frame, err := protocol.Encode(nil, protocol.TypePing, nil)
	if err != nil {
		return
	}
	c.writeFrame(frame)
}

// Close disconnects the client. Subsequent writes are no-ops.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return c.nc.Close()
}

// Detach removes this client's event handlers without closing the
// underlying connection, so a subsequent close/exit does not cascade into
// the caller (spec §4.6.5 Tower-restart-safe shutdown).
func (c *Client) Detach() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = Handlers{}
}
