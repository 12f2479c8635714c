package overlay

import (
	"errors"

	"github.com/jrydberg/friendly/internal/ident"
	"github.com/jrydberg/friendly/internal/link"
	"github.com/jrydberg/friendly/internal/wire"
)

// Protocol is implemented by the application layer running over a
// virtual path (spec.md §4.8's bt package implements this).
type Protocol interface {
	MakeConnection(t *Transport)
	MessageReceived(opcode wire.Opcode, data []byte)
	ConnectionLost(err error)
}

// ProtocolFactory builds a Protocol for a newly accepted or
// terminated path, and decides whether this node is a valid probe
// termination for a given query.
type ProtocolFactory interface {
	BuildProtocol(addr Address) Protocol
	TerminatesProbe(q ident.ID) bool
}

// ErrConnectionLost is passed to Protocol.ConnectionLost when the
// underlying link, rather than the path itself, went away.
var ErrConnectionLost = errors.New("overlay: connection lost")

// Transport is one end of a virtual path: a (link, pid, cid) triple
// bound to a Protocol once the first application message arrives.
type Transport struct {
	connection *link.Connection
	q          ident.ID
	pid        ident.ID
	cid        ident.ID
	controller *Controller
	protocol   Protocol
}

func newTransport(conn *link.Connection, q, pid, cid ident.ID, controller *Controller) *Transport {
	return &Transport{connection: conn, q: q, pid: pid, cid: cid, controller: controller}
}

// SendMessage sends an application message along the path. opcode
// must be an application opcode (>= 128).
func (t *Transport) SendMessage(opcode wire.Opcode, data []byte) error {
	if !opcode.IsApp() {
		return errors.New("overlay: non-app opcode")
	}
	return t.controller.sendAppMessage(t.connection, t.pid, t.cid, opcode, data)
}

func (t *Transport) messageReceived(opcode wire.Opcode, data []byte) {
	if t.protocol != nil {
		t.protocol.MessageReceived(opcode, data)
	}
}

func (t *Transport) connectionLost(err error) {
	if t.protocol != nil {
		t.protocol.ConnectionLost(err)
	}
}

// LoseConnection tears down the path by sending a RESET to the peer
// and removing local routing/transport state for it.
func (t *Transport) LoseConnection() {
	t.controller.resetPath(t.connection, t.pid, t.cid)
}
