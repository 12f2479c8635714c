package bt

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/jrydberg/friendly/internal/flog"
	"github.com/jrydberg/friendly/internal/ident"
	"github.com/jrydberg/friendly/internal/overlay"
	"github.com/jrydberg/friendly/internal/wire"
)

// request is an outstanding chunk request this connection has made of
// its peer.
type request struct {
	piece  int
	offset int
	length int
}

// Connection is the per-path BT protocol state machine (spec.md
// §4.8's connection state table).
type Connection struct {
	controller *Controller
	metainfo   *MetaInfo
	log        flog.Logger

	transport *overlay.Transport
	pieces    map[int]bool
	pending   []request

	connected bool
	choked    bool // remote choking us
	interested bool // remote interested in us
	choking   bool // we are choking remote
	interesting bool // we are interested in remote

	rate float64
}

// NewConnection creates an unbound BT connection; MakeConnection
// binds it to a transport once the overlay layer delivers one.
func NewConnection(controller *Controller, metainfo *MetaInfo, log flog.Logger) *Connection {
	return &Connection{
		controller: controller,
		metainfo:   metainfo,
		log:        log,
		pieces:     make(map[int]bool),
		choked:     true,
		choking:    true,
	}
}

// MakeConnection implements overlay.Protocol: the path is bound, so
// kick off the HELLO handshake.
func (c *Connection) MakeConnection(t *overlay.Transport) {
	c.transport = t
	c.log.Infof("bt: connection made")
	c.send(HELLO, nil)
}

// ConnectionLost implements overlay.Protocol.
func (c *Connection) ConnectionLost(err error) {
	c.log.Infof("bt: connection lost: %v", err)
	if c.connected {
		c.controller.connectionLost(c)
		c.controller.requestsRejected(c, c.pending)
	}
}

// Close tears down the path backing this connection, if one is bound
// yet. The controller calls this when something outside the wire
// protocol itself (e.g. a storage I/O failure) makes the connection
// unusable.
func (c *Connection) Close() {
	if c.transport != nil {
		c.transport.LoseConnection()
	}
}

func (c *Connection) send(opcode wire.Opcode, data []byte) {
	if c.transport == nil {
		return
	}
	if err := c.transport.SendMessage(opcode, data); err != nil {
		c.log.Debugf("bt: send %s failed: %v", opcodeNames[opcode], err)
	}
}

// Choker.Peer implementation:

func (c *Connection) Choking() bool    { return c.choking }
func (c *Connection) Interested() bool { return c.interested }
func (c *Connection) Rate() float64    { return c.rate }

func (c *Connection) SendChoke() {
	if !c.choking {
		c.choking = true
		c.send(CHOKE, nil)
	}
}

func (c *Connection) SendUnchoke() {
	if c.choking {
		c.choking = false
		c.send(UNCHOKE, nil)
	}
}

// Pieces, state accessors used by Controller:

func (c *Connection) Pieces() []int {
	out := make([]int, 0, len(c.pieces))
	for p := range c.pieces {
		out = append(out, p)
	}
	return out
}

func (c *Connection) Have(index int) bool { return c.pieces[index] }
func (c *Connection) Pending() []request  { return c.pending }
func (c *Connection) Choked() bool        { return c.choked }
func (c *Connection) Interesting() bool   { return c.interesting }

func (c *Connection) SendInteresting() {
	if !c.interesting {
		c.interesting = true
		c.send(INTERESTED, nil)
	}
}

func (c *Connection) SendNotInteresting() {
	if c.interesting {
		c.interesting = false
		c.send(NOT_INTERESTED, nil)
	}
}

// SendHave advertises that we now hold the given pieces.
func (c *Connection) SendHave(pieces ...int) {
	buf := make([]byte, 0, 20*len(pieces))
	for _, p := range pieces {
		h := c.metainfo.Hash(p)
		buf = append(buf, h.Bytes()...)
	}
	c.send(HAVE, buf)
}

// Request asks the peer for a chunk of piece.
func (c *Connection) Request(piece, offset, length int) {
	c.pending = append(c.pending, request{piece, offset, length})
	h := c.metainfo.Hash(piece)
	buf := make([]byte, 28)
	copy(buf[:20], h.Bytes())
	binary.BigEndian.PutUint32(buf[20:24], uint32(offset))
	binary.BigEndian.PutUint32(buf[24:28], uint32(length))
	c.send(REQUEST, buf)
}

func (c *Connection) sendChunk(hash ident.ID, offset int, data []byte) {
	buf := make([]byte, 24+len(data))
	copy(buf[:20], hash.Bytes())
	binary.BigEndian.PutUint32(buf[20:24], uint32(offset))
	copy(buf[24:], data)
	c.send(CHUNK, buf)
}

// MessageReceived implements overlay.Protocol.
func (c *Connection) MessageReceived(opcode wire.Opcode, data []byte) {
	c.log.Debugf("bt: message received: %s (%d bytes)", opcodeNames[opcode], len(data))

	if !c.connected {
		if opcode != HELLO {
			c.transport.LoseConnection()
			return
		}
		c.gotHELLO()
		return
	}

	switch opcode {
	case CHOKE:
		c.gotCHOKE()
	case UNCHOKE:
		c.gotUNCHOKE()
	case INTERESTED:
		c.gotINTERESTED()
	case NOT_INTERESTED:
		c.gotNOTINTERESTED()
	case HAVE:
		c.gotHAVE(data)
	case HAVE_ALL:
		all := make([]int, c.metainfo.NumPieces())
		for i := range all {
			all[i] = i
			c.pieces[i] = true
		}
		c.controller.gotHave(c, all)
	case HAVE_NONE:
		c.controller.gotHave(c, nil)
	case HAVE_SOME:
		c.log.Errorf("bt: HAVE_SOME is reserved and unsupported")
		c.transport.LoseConnection()
	case REQUEST:
		if err := c.gotREQUEST(data); err != nil {
			c.log.Errorf("bt: malformed REQUEST: %v", err)
			c.transport.LoseConnection()
		}
	case REJECT:
		c.gotREJECT(data)
	case CHUNK:
		if err := c.gotCHUNK(data); err != nil {
			c.log.Errorf("bt: malformed CHUNK: %v", err)
			c.transport.LoseConnection()
		}
	case CANCEL:
		// Dropping a pending outbound request the peer no longer
		// wants is a best-effort courtesy; our own Schedule still
		// tracks the request's lifetime independently.
	default:
		c.transport.LoseConnection()
	}
}

func (c *Connection) gotHELLO() {
	c.connected = true
	if err := c.controller.connectionMade(c); err != nil {
		c.transport.LoseConnection()
		return
	}
	c.negotiate()
}

func (c *Connection) negotiate() {
	n := c.controller.storage.NumCompleted()
	switch {
	case n == c.metainfo.NumPieces():
		c.send(HAVE_ALL, nil)
	case n == 0:
		c.send(HAVE_NONE, nil)
	default:
		c.SendHave(c.controller.storage.IterCompleted()...)
	}
}

func (c *Connection) gotHAVE(data []byte) {
	var pieces []int
	for len(data) >= 20 {
		var h ident.ID
		copy(h[:], data[:20])
		data = data[20:]
		idx, ok := c.metainfo.IndexOf(h)
		if !ok {
			c.transport.LoseConnection()
			return
		}
		pieces = append(pieces, idx)
	}
	for _, p := range pieces {
		c.pieces[p] = true
	}
	c.controller.gotHave(c, pieces)
}

func (c *Connection) gotINTERESTED() {
	if !c.interested {
		c.interested = true
		c.controller.choker.Interested(c)
	}
}

func (c *Connection) gotNOTINTERESTED() {
	if c.interested {
		c.interested = false
		c.controller.choker.NotInterested(c)
	}
}

func (c *Connection) gotUNCHOKE() {
	if c.choked {
		c.choked = false
		c.controller.requestMore(c, nil)
	}
}

func (c *Connection) gotCHOKE() {
	c.choked = true
}

func (c *Connection) gotREJECT(data []byte) {
	piece, offset, length, err := decodeChunkHeader(c.metainfo, data)
	if err != nil {
		return
	}
	if !c.dropPending(piece, offset, length) {
		return
	}
	c.controller.requestRejected(c, piece, offset, length)
}

func (c *Connection) gotREQUEST(data []byte) error {
	piece, offset, length, err := decodeChunkHeader(c.metainfo, data)
	if err != nil {
		return err
	}
	buf, err := c.controller.storage.Read(piece, offset, length)
	if err != nil {
		return err
	}
	c.sendChunk(c.metainfo.Hash(piece), offset, buf)
	return nil
}

func (c *Connection) gotCHUNK(data []byte) error {
	if len(data) < 24 {
		return errors.New("bt: CHUNK payload too short")
	}
	var h ident.ID
	copy(h[:], data[:20])
	offset := int(binary.BigEndian.Uint32(data[20:24]))
	body := data[24:]

	piece, ok := c.metainfo.IndexOf(h)
	if !ok {
		return fmt.Errorf("bt: CHUNK for unknown piece hash")
	}
	if !c.dropPending(piece, offset, len(body)) {
		return fmt.Errorf("bt: CHUNK for request we never made")
	}
	c.controller.requestHonored(c, piece, offset, body)
	return nil
}

func (c *Connection) dropPending(piece, offset, length int) bool {
	for i, r := range c.pending {
		if r.piece == piece && r.offset == offset && r.length == length {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			return true
		}
	}
	return false
}

func decodeChunkHeader(m *MetaInfo, data []byte) (piece, offset, length int, err error) {
	if len(data) != 28 {
		return 0, 0, 0, fmt.Errorf("bt: bad chunk header length %d", len(data))
	}
	var h ident.ID
	copy(h[:], data[:20])
	idx, ok := m.IndexOf(h)
	if !ok {
		return 0, 0, 0, fmt.Errorf("bt: unknown piece hash")
	}
	return idx, int(binary.BigEndian.Uint32(data[20:24])), int(binary.BigEndian.Uint32(data[24:28])), nil
}
