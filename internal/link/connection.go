// Package link implements the Link Connection: the owner of a single
// TLS socket to one friend, running the framed codec and an SCFQ
// transmit queue over it (spec.md §4.3).
package link

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/jrydberg/friendly/internal/flog"
	"github.com/jrydberg/friendly/internal/ident"
	"github.com/jrydberg/friendly/internal/identity"
	"github.com/jrydberg/friendly/internal/scfq"
	"github.com/jrydberg/friendly/internal/verifier"
	"github.com/jrydberg/friendly/internal/wire"
)

// ErrHandshakeFailed wraps any TLS or peer-verification failure that
// closes a Connection before it reaches the "up" state.
var ErrHandshakeFailed = errors.New("link: handshake failed")

// ErrClosed is returned by Send* methods called after the link has
// gone down.
var ErrClosed = errors.New("link: connection closed")

type state int

const (
	handshaking state = iota
	up
	closed
)

// Controller is the overlay-facing callback surface a Connection
// drives. It is implemented by *overlay.Controller; defining it here
// (rather than importing overlay) keeps link controller-agnostic and
// avoids an import cycle, matching spec.md's "arena-like ownership"
// design note: the controller owns a table of links, and a link holds
// only a narrow callback interface back, not a concrete controller.
type Controller interface {
	ConnectionMade(c *Connection) error
	ConnectionLost(c *Connection)
	ReceivedPROBE(q, cid, sid ident.ID, ttl uint8, source *Connection)
	ReceivedESTABLISH(pid, cid, sid ident.ID, source *Connection)
	ReceivedRESET(pid, cid ident.ID, source *Connection)
	ReceivedAppMessage(pid, cid ident.ID, opcode wire.Opcode, body []byte, source *Connection)
}

// Connection owns one TLS socket to one friend.
type Connection struct {
	conn         net.Conn
	controller   Controller
	verifier     verifier.Verifier
	log          flog.Logger
	connectionID ident.ID

	mu     sync.Mutex
	st     state
	friend *identity.Friend
	paused bool

	queue   *scfq.Queue
	wake    chan struct{}
	closeCh chan struct{}
	closeOnce sync.Once
}

// New wraps conn (expected to be a *tls.Conn mid- or post-handshake)
// as a Connection. The caller must call Start to begin the handshake
// and pump loops.
func New(conn net.Conn, controller Controller, v verifier.Verifier, log flog.Logger) *Connection {
	return &Connection{
		conn:         conn,
		controller:   controller,
		verifier:     v,
		log:          log,
		connectionID: ident.Random(),
		queue:        scfq.New(nil),
		wake:         make(chan struct{}, 1),
		closeCh:      make(chan struct{}),
	}
}

// ConnectionID returns the 20 random bytes chosen for this link when
// it was constructed, used as a salt in path id derivation.
func (c *Connection) ConnectionID() ident.ID { return c.connectionID }

// Friend returns the authenticated peer, or nil before the handshake
// completes.
func (c *Connection) Friend() *identity.Friend {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.friend
}

func (c *Connection) String() string {
	if f := c.Friend(); f != nil {
		return fmt.Sprintf("<Connection to %s>", f)
	}
	return "<Connection to -unknown->"
}

// Start performs the TLS handshake, verifies the peer, registers with
// the controller, and (on success) starts the reader and writer
// pumps. It blocks until the link goes down.
func (c *Connection) Start() error {
	if tc, ok := c.conn.(*tls.Conn); ok {
		if err := tc.Handshake(); err != nil {
			c.conn.Close()
			return fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
		}
		state := tc.ConnectionState()
		if len(state.PeerCertificates) == 0 {
			c.conn.Close()
			return fmt.Errorf("%w: no peer certificate presented", ErrHandshakeFailed)
		}
		if err := c.handshakeDone(state.PeerCertificates[0]); err != nil {
			c.conn.Close()
			return err
		}
	}

	go c.produce()
	c.receive()
	return nil
}

// handshakeDone runs verification and registration (spec.md §4.3: "1.
// Read peer certificate... 2. verifier.verify_friend... 3. On
// success, controller.connection_made; on duplicate-friend, close. On
// failure, close.").
func (c *Connection) handshakeDone(cert *x509.Certificate) error {
	friend, err := c.verifier.VerifyFriend(cert)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}

	c.mu.Lock()
	c.friend = friend
	c.mu.Unlock()

	if err := c.controller.ConnectionMade(c); err != nil {
		c.mu.Lock()
		c.friend = nil
		c.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}

	c.mu.Lock()
	c.st = up
	c.mu.Unlock()
	return nil
}

// LoseConnection closes the underlying transport, which eventually
// causes the reader loop to observe EOF and notify the controller.
func (c *Connection) LoseConnection() {
	c.closeOnce.Do(func() { close(c.closeCh) })
	c.conn.Close()
}

func (c *Connection) finish() {
	c.mu.Lock()
	wasUp := c.st == up
	c.st = closed
	friend := c.friend
	c.mu.Unlock()

	if wasUp && friend != nil {
		c.controller.ConnectionLost(c)
	}
}

// receive reads frames off the wire and dispatches them synchronously
// to the controller, in strict wire order, for as long as the
// transport stays open (spec.md §5: "PROBE/ESTABLISH/RESET handling
// for a single link is strictly sequential in wire order").
func (c *Connection) receive() {
	defer c.finish()

	var parser wire.Parser
	buf := make([]byte, 64*1024)
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			parser.Feed(buf[:n])
			for {
				msg, ok, perr := parser.Next()
				if perr != nil {
					c.log.Errorf("link: framing error from %s: %v", c, perr)
					c.LoseConnection()
					return
				}
				if !ok {
					break
				}
				c.dispatch(msg)
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				c.log.Debugf("link: read error from %s: %v", c, err)
			}
			return
		}
	}
}

func (c *Connection) dispatch(msg wire.Message) {
	switch {
	case msg.Opcode == wire.PROBE:
		q, cid, sid, ttl, err := wire.DecodeProbe(msg.Payload)
		if err != nil {
			c.log.Errorf("link: malformed PROBE from %s: %v", c, err)
			c.LoseConnection()
			return
		}
		c.controller.ReceivedPROBE(q, cid, sid, ttl, c)
	case msg.Opcode == wire.ESTABLISH:
		pid, cid, sid, err := wire.DecodeEstablish(msg.Payload)
		if err != nil {
			c.log.Errorf("link: malformed ESTABLISH from %s: %v", c, err)
			c.LoseConnection()
			return
		}
		c.controller.ReceivedESTABLISH(pid, cid, sid, c)
	case msg.Opcode == wire.RESET:
		pid, cid, err := wire.DecodeReset(msg.Payload)
		if err != nil {
			c.log.Errorf("link: malformed RESET from %s: %v", c, err)
			c.LoseConnection()
			return
		}
		c.controller.ReceivedRESET(pid, cid, c)
	case msg.Opcode.IsApp():
		pid, cid, body, err := wire.DecodeApp(msg.Payload)
		if err != nil {
			c.log.Errorf("link: malformed app message from %s: %v", c, err)
			c.LoseConnection()
			return
		}
		c.controller.ReceivedAppMessage(pid, cid, msg.Opcode, body, c)
	default:
		c.log.Debugf("link: dropping unknown opcode %d from %s", msg.Opcode, c)
	}
}

// sendMessage frames (op, payload), enqueues it on the SCFQ queue
// under flow, and wakes the producer.
func (c *Connection) sendMessage(op wire.Opcode, payload []byte, flow any) error {
	c.mu.Lock()
	if c.st == closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.mu.Unlock()

	frame, err := wire.Encode(nil, op, payload)
	if err != nil {
		return err
	}
	c.queue.Enqueue(frame, flow)
	select {
	case c.wake <- struct{}{}:
	default:
	}
	return nil
}

// SendPROBE transmits a probe request.
func (c *Connection) SendPROBE(q, cid, sid ident.ID, ttl uint8, flow any) error {
	return c.sendMessage(wire.PROBE, wire.EncodeProbe(q, cid, sid, ttl), flow)
}

// SendESTABLISH transmits an establish message.
func (c *Connection) SendESTABLISH(pid, cid, sid ident.ID, flow any) error {
	return c.sendMessage(wire.ESTABLISH, wire.EncodeEstablish(pid, cid, sid), flow)
}

// SendRESET transmits a reset message.
func (c *Connection) SendRESET(pid, cid ident.ID, flow any) error {
	return c.sendMessage(wire.RESET, wire.EncodeReset(pid, cid), flow)
}

// SendAppMessage transmits an opaque application payload along a path.
func (c *Connection) SendAppMessage(pid, cid ident.ID, opcode wire.Opcode, body []byte, flow any) error {
	return c.sendMessage(opcode, wire.EncodeApp(pid, cid, body), flow)
}

// Pause stops the producer from draining the queue, used to apply
// explicit backpressure (spec.md §4.3).
func (c *Connection) Pause() {
	c.mu.Lock()
	c.paused = true
	c.mu.Unlock()
}

// Resume restarts draining of the queue.
func (c *Connection) Resume() {
	c.mu.Lock()
	c.paused = false
	c.mu.Unlock()
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// produce drains the SCFQ queue to the transport while not paused,
// waking whenever a new frame is enqueued or the link is resumed
// (spec.md §4.2: "The link pumps _produce: while not paused and queue
// non-empty, write one entry.").
func (c *Connection) produce() {
	for {
		select {
		case <-c.closeCh:
			return
		case <-c.wake:
		}

		for {
			c.mu.Lock()
			paused := c.paused
			c.mu.Unlock()
			if paused {
				break
			}
			data, ok := c.queue.Dequeue()
			if !ok {
				break
			}
			if _, err := c.conn.Write(data); err != nil {
				c.log.Debugf("link: write error to %s: %v", c, err)
				c.LoseConnection()
				return
			}
		}
	}
}
