package main

import (
	"bufio"
	"crypto/tls"
	"fmt"
	"log"
	"net"
	"strings"
	"sync"
	"time"
)

// Control connection to the radio: a line-oriented ASCII session over TCP
// (LAN) or TLS (WAN). The radio volunteers its firmware version ("V") and a
// client handle ("H") immediately after accept; receipt of the handle
// completes the handshake. Commands are framed with a per-session sequence
// number and responses are demultiplexed back to registered completions.

const (
	controlPortLAN    = 4992
	controlPortWAN    = 4994
	connectTimeout    = 15 * time.Second
	keepaliveInterval = 25 * time.Second
	wanValidateDelay  = 200 * time.Millisecond
	sendQueueLen      = 64
)

// ConnState is the control session status.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// ConnKind distinguishes plain LAN sessions from TLS WAN sessions.
type ConnKind int

const (
	KindLAN ConnKind = iota
	KindWAN
)

// CommandCompletion receives a command's result code and message payload.
// Each registered completion is invoked at most once; completions pending at
// disconnect are dropped without invocation.
type CommandCompletion func(result, message string)

// ControlConn is the radio control session.
type ControlConn struct {
	mu      sync.Mutex
	state   ConnState
	kind    ConnKind
	epoch   uint64
	conn    net.Conn
	seq     uint32
	pending map[uint32]CommandCompletion
	handle  string
	version string
	sendCh  chan string
	stopCh  chan struct{}

	onStatus func(StatusMessage)
	onState  func(ConnState, error)

	metrics *Metrics
}

// NewControlConn creates an unconnected control session. Callbacks fire on
// the connection's worker goroutines; the state layer re-posts them.
func NewControlConn(metrics *Metrics, onStatus func(StatusMessage), onState func(ConnState, error)) *ControlConn {
	return &ControlConn{
		state:    StateDisconnected,
		pending:  make(map[uint32]CommandCompletion),
		onStatus: onStatus,
		onState:  onState,
		metrics:  metrics,
	}
}

// Connect starts a connection attempt toward addr ("host:port"). The call
// returns immediately; the outcome arrives through the state callback. WAN
// sessions use TLS and accept any server certificate, matching the vendor
// infrastructure which does not present hostname-verifiable certificates.
func (c *ControlConn) Connect(addr string, kind ConnKind) {
	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return
	}
	c.state = StateConnecting
	c.kind = kind
	c.epoch++
	epoch := c.epoch
	c.mu.Unlock()

	c.notifyState(StateConnecting, nil)
	go c.dialAndRun(addr, kind, epoch)
}

func (c *ControlConn) dialAndRun(addr string, kind ConnKind, epoch uint64) {
	var conn net.Conn
	var err error
	dialer := &net.Dialer{Timeout: connectTimeout}
	if kind == KindWAN {
		conn, err = tls.DialWithDialer(dialer, "tcp", addr, &tls.Config{InsecureSkipVerify: true})
	} else {
		conn, err = dialer.Dial("tcp", addr)
	}
	if err != nil {
		c.failConnect(epoch, fmt.Errorf("%w: dial %s: %v", ErrTransport, addr, err))
		return
	}

	c.mu.Lock()
	if c.epoch != epoch || c.state != StateConnecting {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	c.seq = 1
	c.sendCh = make(chan string, sendQueueLen)
	c.stopCh = make(chan struct{})
	sendCh, stopCh := c.sendCh, c.stopCh
	c.mu.Unlock()

	log.Printf("Control: connected to %s, waiting for handshake", addr)

	// Connect timeout runs from Connecting to the first H line.
	timer := time.AfterFunc(connectTimeout, func() {
		c.failConnect(epoch, fmt.Errorf("%w: no handle within %v", ErrTimeout, connectTimeout))
	})

	go c.sendLoop(conn, sendCh, stopCh)
	c.readLoop(conn, epoch, timer)
}

// failConnect tears down a connection attempt and reports the error, but
// only if the attempt is still current.
func (c *ControlConn) failConnect(epoch uint64, err error) {
	c.mu.Lock()
	if c.epoch != epoch || c.state == StateDisconnected {
		c.mu.Unlock()
		return
	}
	c.teardownLocked()
	c.mu.Unlock()
	c.notifyState(StateDisconnected, err)
}

func (c *ControlConn) readLoop(conn net.Conn, epoch uint64, connectTimer *time.Timer) {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 4096), 1<<20)
	for scanner.Scan() {
		c.mu.Lock()
		stale := c.epoch != epoch
		c.mu.Unlock()
		if stale {
			return
		}
		c.handleLine(scanner.Text(), epoch, connectTimer)
	}
	connectTimer.Stop()

	c.mu.Lock()
	if c.epoch != epoch || c.state == StateDisconnected {
		c.mu.Unlock()
		return
	}
	err := scanner.Err()
	c.teardownLocked()
	c.mu.Unlock()
	if err != nil {
		c.notifyState(StateDisconnected, fmt.Errorf("%w: read: %v", ErrTransport, err))
	} else {
		c.notifyState(StateDisconnected, fmt.Errorf("%w: connection closed by radio", ErrTransport))
	}
}

func (c *ControlConn) handleLine(line string, epoch uint64, connectTimer *time.Timer) {
	if c.metrics != nil {
		c.metrics.controlLinesRx.Inc()
	}
	pl := ParseLine(line)
	switch pl.Kind {
	case LineVersion:
		c.mu.Lock()
		c.version = pl.Version
		c.mu.Unlock()
		log.Printf("Control: radio firmware %s", pl.Version)

	case LineHandle:
		connectTimer.Stop()
		c.mu.Lock()
		if c.epoch != epoch || c.state != StateConnecting {
			c.mu.Unlock()
			return
		}
		c.handle = pl.Handle
		c.state = StateConnected
		stopCh := c.stopCh
		c.mu.Unlock()
		log.Printf("Control: handshake complete, handle %s", pl.Handle)
		go c.keepaliveLoop(stopCh)
		c.notifyState(StateConnected, nil)

	case LineResponse:
		c.mu.Lock()
		completion, ok := c.pending[pl.Seq]
		if ok {
			delete(c.pending, pl.Seq)
		}
		c.mu.Unlock()
		if !ok {
			if c.metrics != nil {
				c.metrics.responsesOrphaned.Inc()
			}
			if DebugMode {
				log.Printf("Control: response for seq %d with no completion: %s", pl.Seq, pl.Result)
			}
			return
		}
		if c.metrics != nil {
			c.metrics.responsesMatched.Inc()
		}
		completion(pl.Result, pl.Message)

	case LineStatus:
		if c.onStatus != nil {
			c.onStatus(*pl.Status)
		}

	case LineMeter, LineUnknown:
		// Meter frames are opaque to the engine; anything else is ignored.
	}
}

func (c *ControlConn) sendLoop(conn net.Conn, sendCh chan string, stopCh chan struct{}) {
	for {
		select {
		case frame := <-sendCh:
			if _, err := conn.Write([]byte(frame)); err != nil {
				c.mu.Lock()
				current := c.conn == conn && c.state != StateDisconnected
				if current {
					c.teardownLocked()
				}
				c.mu.Unlock()
				if current {
					c.notifyState(StateDisconnected, fmt.Errorf("%w: write: %v", ErrTransport, err))
				}
				return
			}
			if c.metrics != nil {
				c.metrics.controlLinesTx.Inc()
			}
		case <-stopCh:
			return
		}
	}
}

func (c *ControlConn) keepaliveLoop(stopCh chan struct{}) {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.Send(cmdPing, nil)
		case <-stopCh:
			return
		}
	}
}

// Send allocates the next sequence number, registers the completion before
// transmission, and enqueues the framed command. Commands carrying a WAN
// validation handle are redacted in logs.
func (c *ControlConn) Send(body string, completion CommandCompletion) error {
	c.mu.Lock()
	if c.conn == nil || c.state == StateDisconnected {
		c.mu.Unlock()
		return ErrNotConnected
	}
	seq := c.seq
	c.seq++
	if completion != nil {
		c.pending[seq] = completion
	}
	sendCh := c.sendCh
	c.mu.Unlock()

	if DebugMode {
		logged := body
		if strings.Contains(body, "wan validate") {
			logged = "wan validate handle=<redacted>"
		}
		log.Printf("Control: send C%d|%s", seq, logged)
	}

	select {
	case sendCh <- FrameCommand(seq, body):
		return nil
	default:
		c.mu.Lock()
		delete(c.pending, seq)
		c.mu.Unlock()
		return fmt.Errorf("%w: send queue full", ErrTransport)
	}
}

// Disconnect tears the session down and emits a Disconnected state change.
// Calling it on an already-disconnected session is a no-op.
func (c *ControlConn) Disconnect() {
	c.mu.Lock()
	if c.state == StateDisconnected {
		c.mu.Unlock()
		return
	}
	c.teardownLocked()
	c.mu.Unlock()
	c.notifyState(StateDisconnected, nil)
}

// Teardown closes the session without emitting a state change. Used by the
// reconnect path between attempts.
func (c *ControlConn) Teardown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateDisconnected {
		return
	}
	c.teardownLocked()
}

// teardownLocked closes the socket, bumps the connection epoch so stale
// worker callbacks are ignored, and drops all pending completions without
// invoking them. Callers hold c.mu.
func (c *ControlConn) teardownLocked() {
	c.epoch++
	c.state = StateDisconnected
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	if c.stopCh != nil {
		close(c.stopCh)
		c.stopCh = nil
	}
	c.sendCh = nil
	dropped := len(c.pending)
	c.pending = make(map[uint32]CommandCompletion)
	c.handle = ""
	if dropped > 0 && DebugMode {
		log.Printf("Control: dropped %d pending responses on teardown", dropped)
	}
}

func (c *ControlConn) notifyState(state ConnState, err error) {
	if c.onState != nil {
		c.onState(state, err)
	}
}

// State returns the current session status.
func (c *ControlConn) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Handle returns the client handle assigned by the radio.
func (c *ControlConn) Handle() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handle
}

// Version returns the firmware version reported in the V line.
func (c *ControlConn) Version() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.version
}

// Kind returns the connection kind (LAN or WAN).
func (c *ControlConn) Kind() ConnKind {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.kind
}
