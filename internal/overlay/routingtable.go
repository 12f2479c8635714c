package overlay

import (
	"sync"
	"time"

	"github.com/jrydberg/friendly/internal/ident"
	"github.com/jrydberg/friendly/internal/link"
)

// routingTablePruneInterval is the idle-path lifetime: a path with no
// traffic for this long is forgotten (spec.md §4.6).
const routingTablePruneInterval = 30 * time.Second

// errNoRoute is returned by routingTable.Get/Delete when the
// requested (connection, pid) pair has no entry.
var errNoRoute = errNoRouteT{}

type errNoRouteT struct{}

func (errNoRouteT) Error() string { return "overlay: no route entry" }

type routeKey struct {
	conn *link.Connection
	pid  ident.ID
}

type routeValue struct {
	conn    *link.Connection
	pid     ident.ID
	touched time.Time
}

// routingTable holds symmetric routing pairs: a path is forwarded by
// looking up (source connection, source pid) to find (target
// connection, target pid), and the reverse entry always exists too.
type routingTable struct {
	mu      sync.Mutex
	entries map[routeKey]routeValue
	stop    chan struct{}
}

func newRoutingTable() *routingTable {
	t := &routingTable{
		entries: make(map[routeKey]routeValue),
		stop:    make(chan struct{}),
	}
	go t.loop()
	return t
}

func (t *routingTable) loop() {
	ticker := time.NewTicker(routingTablePruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			t.prune()
		}
	}
}

func (t *routingTable) Close() { close(t.stop) }

// Add creates a symmetric pair of routing entries between
// (source, spid) and (target, tpid).
func (t *routingTable) Add(source *link.Connection, spid ident.ID, target *link.Connection, tpid ident.ID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	t.entries[routeKey{source, spid}] = routeValue{target, tpid, now}
	t.entries[routeKey{target, tpid}] = routeValue{source, spid, now}
}

// Get looks up the forwarding target for (conn, pid), refreshing the
// idle timer on both halves of the pair on a hit.
func (t *routingTable) Get(conn *link.Connection, pid ident.ID) (*link.Connection, ident.ID, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := routeKey{conn, pid}
	v, ok := t.entries[key]
	if !ok {
		return nil, ident.ID{}, errNoRoute
	}
	now := time.Now()
	v.touched = now
	t.entries[key] = v

	otherKey := routeKey{v.conn, v.pid}
	if o, ok := t.entries[otherKey]; ok {
		o.touched = now
		t.entries[otherKey] = o
	}
	return v.conn, v.pid, nil
}

// Delete removes both halves of the routing pair rooted at (conn,
// pid) and returns the peer side that was deleted with it.
func (t *routingTable) Delete(conn *link.Connection, pid ident.ID) (*link.Connection, ident.ID, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := routeKey{conn, pid}
	v, ok := t.entries[key]
	if !ok {
		return nil, ident.ID{}, errNoRoute
	}
	delete(t.entries, key)
	delete(t.entries, routeKey{v.conn, v.pid})
	return v.conn, v.pid, nil
}

// ConnectionLost prunes every routing entry that runs along conn.
func (t *routingTable) ConnectionLost(conn *link.Connection) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for k, v := range t.entries {
		if k.conn == conn || v.conn == conn {
			delete(t.entries, k)
		}
	}
}

func (t *routingTable) prune() {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := time.Now().Add(-routingTablePruneInterval)
	for k, v := range t.entries {
		if v.touched.Before(cutoff) {
			delete(t.entries, k)
		}
	}
}
