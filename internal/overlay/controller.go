package overlay

import (
	"sync"

	"github.com/jrydberg/friendly/internal/flog"
	"github.com/jrydberg/friendly/internal/ident"
	"github.com/jrydberg/friendly/internal/link"
	"github.com/jrydberg/friendly/internal/wire"
)

// buildPathID derives a deterministic path identifier from a 20-byte
// input (either the original query or a parent path id) salted by the
// link's own random connection id, so the same query produces a
// different pid on every hop (spec.md §4.6).
func buildPathID(in, connectionID ident.ID) ident.ID {
	return ident.H(in.Bytes(), connectionID.Bytes())
}

type pathKey struct {
	pid ident.ID
	cid ident.ID
}

// ConnectionSink is implemented by anything that wants to observe
// link lifecycle alongside the controller, e.g. the Connector.
type ConnectionSink interface {
	ConnectionMade(conn *link.Connection) error
	ConnectionLost(conn *link.Connection)
}

// Controller is the overlay's central router: it accepts probes,
// establishes and tears down virtual paths, and forwards application
// messages along them (spec.md §4.5-§4.7).
type Controller struct {
	factory ProtocolFactory
	sink    ConnectionSink
	log     flog.Logger
	policy  ProbePolicy
	ptable  *probeTable
	rtable  *routingTable

	mu          sync.Mutex
	connections map[ident.ID]*link.Connection
	managers    map[ident.ID]*ProbeManager
	transports  map[*link.Connection]map[pathKey]*Transport
	paths       int
}

// New creates a Controller. sink is notified of every link lifecycle
// transition in addition to the controller's own bookkeeping (the
// Connector, in the reference deployment).
func New(factory ProtocolFactory, sink ConnectionSink, log flog.Logger) *Controller {
	c := &Controller{
		factory:     factory,
		sink:        sink,
		log:         log,
		ptable:      newProbeTable(),
		rtable:      newRoutingTable(),
		connections: make(map[ident.ID]*link.Connection),
		managers:    make(map[ident.ID]*ProbeManager),
		transports:  make(map[*link.Connection]map[pathKey]*Transport),
	}
	c.policy = defaultPolicy{controller: c, log: log}
	return c
}

// Close stops the controller's background prune loops.
func (c *Controller) Close() {
	c.ptable.Close()
	c.rtable.Close()
}

// liveConnections returns a snapshot of every currently up link.
func (c *Controller) liveConnections() []*link.Connection {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*link.Connection, 0, len(c.connections))
	for _, conn := range c.connections {
		out = append(out, conn)
	}
	return out
}

// ConnectionMade implements link.Controller: a new friend link has
// completed its handshake.
func (c *Controller) ConnectionMade(conn *link.Connection) error {
	d := conn.Friend().Digest()

	c.mu.Lock()
	if _, dup := c.connections[d]; dup {
		c.mu.Unlock()
		return errDuplicateFriendLink
	}
	c.connections[d] = conn
	c.mu.Unlock()

	return c.sink.ConnectionMade(conn)
}

var errDuplicateFriendLink = dupLinkErr{}

type dupLinkErr struct{}

func (dupLinkErr) Error() string { return "overlay: duplicate connection for friend" }

// ConnectionLost implements link.Controller: a friend link went down.
func (c *Controller) ConnectionLost(conn *link.Connection) {
	d := conn.Friend().Digest()

	c.mu.Lock()
	delete(c.connections, d)
	transports := c.transports[conn]
	delete(c.transports, conn)
	c.mu.Unlock()

	c.sink.ConnectionLost(conn)
	c.ptable.ConnectionLost(conn)
	c.rtable.ConnectionLost(conn)

	for _, t := range transports {
		t.connectionLost(ErrConnectionLost)
	}
}

// addProbeManager registers a locally originated probe session so an
// ESTABLISH or returning PROBE can be recognized as our own.
func (c *Controller) addProbeManager(sid ident.ID, m *ProbeManager) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.managers[sid] = m
}

func (c *Controller) removeProbeManager(sid ident.ID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.managers, sid)
}

func (c *Controller) sendAppMessage(target *link.Connection, pid, cid ident.ID, opcode wire.Opcode, data []byte) error {
	return target.SendAppMessage(pid, cid, opcode, data, nil)
}

// resetPath tears down one local half of a path: it drops the
// transport entry and notifies the peer with a RESET.
func (c *Controller) resetPath(conn *link.Connection, pid, cid ident.ID) {
	c.mu.Lock()
	if m, ok := c.transports[conn]; ok {
		delete(m, pathKey{pid, cid})
	}
	c.mu.Unlock()
	conn.SendRESET(pid, cid, nil)
}

// ReceivedPROBE implements link.Controller (spec.md §4.5).
func (c *Controller) ReceivedPROBE(q, cid, sid ident.ID, ttl uint8, source *link.Connection) {
	c.log.Infof("received PROBE from %s with sid:%s cid:%s", source, sid, cid)

	c.mu.Lock()
	_, cycle := c.managers[sid]
	c.mu.Unlock()

	switch {
	case cycle:
		c.log.Debugf("probe killed because cycle in the network")

	case c.factory.TerminatesProbe(q):
		pid := buildPathID(q, source.ConnectionID())

		c.mu.Lock()
		if c.transports[source] == nil {
			c.transports[source] = make(map[pathKey]*Transport)
		}
		_, exists := c.transports[source][pathKey{pid, cid}]
		if !exists {
			c.transports[source][pathKey{pid, cid}] = newTransport(source, q, pid, cid, c)
		}
		c.mu.Unlock()

		if exists {
			c.log.Debugf("probe killed because path already exists")
		} else {
			c.log.Infof("establish new path pid:%s cid:%s via %s", pid, cid, source)
		}
		source.SendESTABLISH(pid, cid, sid, nil)

	case ttl < 2 || ttl > 15:
		c.log.Debugf("probe killed because of the ttl")

	default:
		if err := c.ptable.Add(sid, source); err != nil {
			c.log.Debugf("probe killed because it was a duplicate")
			return
		}
		c.policy.Probe(q, cid, sid, ttl, source)
	}
}

// ReceivedAppMessage implements link.Controller (spec.md §4.6).
func (c *Controller) ReceivedAppMessage(pid, cid ident.ID, opcode wire.Opcode, data []byte, source *link.Connection) {
	c.log.Infof("received app message (%#x l:%d) on pid:%s cid:%s from %s", opcode, len(data), pid, cid, source)

	c.mu.Lock()
	transport, ok := c.transports[source][pathKey{pid, cid}]
	c.mu.Unlock()

	if ok {
		if transport.protocol == nil {
			c.log.Debugf("building protocol for existing transport")
			addr := Address{Q: transport.q, PID: pid, CID: cid, Friend: source.Friend()}
			protocol := c.factory.BuildProtocol(addr)
			if protocol == nil {
				c.log.Debugf("factory refused to build a protocol, dropping message")
				return
			}
			transport.protocol = protocol
			protocol.MakeConnection(transport)
			c.mu.Lock()
			c.paths++
			c.mu.Unlock()
		}
		transport.messageReceived(opcode, data)
		return
	}

	target, targetPID, err := c.rtable.Get(source, pid)
	if err != nil {
		c.log.Infof("sending RESET pid:%s cid:%s", pid, cid)
		source.SendRESET(pid, cid, nil)
		return
	}
	c.log.Infof("forwarding app message pid:%s cid:%s", targetPID, cid)
	target.SendAppMessage(targetPID, cid, opcode, data, source)
}

// ReceivedESTABLISH implements link.Controller (spec.md §4.6).
func (c *Controller) ReceivedESTABLISH(pid, cid, sid ident.ID, source *link.Connection) {
	c.log.Infof("received ESTABLISH from %s with pid:%s cid:%s sid:%s", source, pid, cid, sid)

	c.mu.Lock()
	manager, originated := c.managers[sid]
	c.mu.Unlock()

	if originated {
		c.mu.Lock()
		_, exists := c.transports[source][pathKey{pid, cid}]
		c.mu.Unlock()
		if exists {
			c.log.Debugf("path was already established in this node")
			return
		}

		addr := Address{Q: manager.Q(), PID: pid, CID: cid, Friend: source.Friend()}
		protocol := manager.Accept(addr)
		if protocol == nil {
			c.log.Infof("sending RESET with pid:%s cid:%s", pid, cid)
			source.SendRESET(pid, cid, nil)
			return
		}

		c.mu.Lock()
		c.paths++
		if c.transports[source] == nil {
			c.transports[source] = make(map[pathKey]*Transport)
		}
		transport := newTransport(source, manager.Q(), pid, cid, c)
		transport.protocol = protocol
		c.transports[source][pathKey{pid, cid}] = transport
		c.mu.Unlock()

		protocol.MakeConnection(transport)
		return
	}

	target := c.ptable.Get(sid)
	if target == nil {
		c.log.Infof("session not in probe table")
		return
	}

	targetPID := buildPathID(pid, target.ConnectionID())
	if !c.policy.Establish(target, targetPID, cid, sid, source) {
		c.log.Infof("policy refused path pid:%s cid:%s, dropping ESTABLISH", pid, cid)
		return
	}

	c.rtable.Add(source, pid, target, targetPID)
	c.log.Infof("send ESTABLISH pid:%s cid:%s sid:%s to %s", targetPID, cid, sid, target)
	target.SendESTABLISH(targetPID, cid, sid, source)
}

// ReceivedRESET implements link.Controller (spec.md §4.6).
func (c *Controller) ReceivedRESET(pid, cid ident.ID, source *link.Connection) {
	c.log.Infof("received RESET from %s with pid:%s cid:%s", source, pid, cid)

	c.mu.Lock()
	transport, ok := c.transports[source][pathKey{pid, cid}]
	if ok {
		delete(c.transports[source], pathKey{pid, cid})
	}
	c.mu.Unlock()

	if ok {
		c.log.Infof("transport connection lost")
		transport.connectionLost(ErrConnectionLost)
		return
	}

	target, targetPID, err := c.rtable.Delete(source, pid)
	if err != nil {
		c.log.Debugf("no such route entry")
		return
	}
	c.log.Infof("sending RESET pid:%s cid:%s to %s", targetPID, cid, target)
	target.SendRESET(targetPID, cid, source)
}
