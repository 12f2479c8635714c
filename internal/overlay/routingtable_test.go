package overlay

import (
	"testing"
	"time"

	"github.com/jrydberg/friendly/internal/ident"
)

func TestRoutingTableAddIsSymmetric(t *testing.T) {
	rt := newRoutingTable()
	defer rt.Close()

	a, b := newTestConn(), newTestConn()
	apid, bpid := ident.Random(), ident.Random()
	rt.Add(a, apid, b, bpid)

	gotConn, gotPID, err := rt.Get(a, apid)
	if err != nil || gotConn != b || gotPID != bpid {
		t.Fatalf("forward lookup: conn=%v pid=%v err=%v", gotConn, gotPID, err)
	}
	gotConn, gotPID, err = rt.Get(b, bpid)
	if err != nil || gotConn != a || gotPID != apid {
		t.Fatalf("reverse lookup: conn=%v pid=%v err=%v", gotConn, gotPID, err)
	}
}

func TestRoutingTableGetUnknownReturnsNoRoute(t *testing.T) {
	rt := newRoutingTable()
	defer rt.Close()

	if _, _, err := rt.Get(newTestConn(), ident.Random()); err != errNoRoute {
		t.Fatalf("expected errNoRoute, got %v", err)
	}
}

func TestRoutingTableDeleteRemovesBothHalves(t *testing.T) {
	rt := newRoutingTable()
	defer rt.Close()

	a, b := newTestConn(), newTestConn()
	apid, bpid := ident.Random(), ident.Random()
	rt.Add(a, apid, b, bpid)

	peerConn, peerPID, err := rt.Delete(a, apid)
	if err != nil || peerConn != b || peerPID != bpid {
		t.Fatalf("Delete: conn=%v pid=%v err=%v", peerConn, peerPID, err)
	}
	if _, _, err := rt.Get(a, apid); err != errNoRoute {
		t.Fatal("expected forward entry gone after Delete")
	}
	if _, _, err := rt.Get(b, bpid); err != errNoRoute {
		t.Fatal("expected reverse entry gone after Delete")
	}
}

func TestRoutingTableConnectionLostPrunesBothDirections(t *testing.T) {
	rt := newRoutingTable()
	defer rt.Close()

	a, b := newTestConn(), newTestConn()
	apid, bpid := ident.Random(), ident.Random()
	rt.Add(a, apid, b, bpid)

	rt.ConnectionLost(a)

	if _, _, err := rt.Get(a, apid); err != errNoRoute {
		t.Fatal("expected the entry keyed on the lost connection to be gone")
	}
	if _, _, err := rt.Get(b, bpid); err != errNoRoute {
		t.Fatal("expected the paired entry routing back to the lost connection to be gone too")
	}
}

func TestRoutingTableGetRefreshesBothHalvesTouched(t *testing.T) {
	rt := newRoutingTable()
	defer rt.Close()

	a, b := newTestConn(), newTestConn()
	apid, bpid := ident.Random(), ident.Random()
	rt.Add(a, apid, b, bpid)

	stale := time.Now().Add(-routingTablePruneInterval / 2)
	rt.mu.Lock()
	fwd := rt.entries[routeKey{a, apid}]
	fwd.touched = stale
	rt.entries[routeKey{a, apid}] = fwd
	rev := rt.entries[routeKey{b, bpid}]
	rev.touched = stale
	rt.entries[routeKey{b, bpid}] = rev
	rt.mu.Unlock()

	rt.Get(a, apid)

	rt.mu.Lock()
	fwdTouched := rt.entries[routeKey{a, apid}].touched
	revTouched := rt.entries[routeKey{b, bpid}].touched
	rt.mu.Unlock()

	if !fwdTouched.After(stale) || !revTouched.After(stale) {
		t.Fatal("expected Get to refresh touched on both halves of the pair")
	}
}

func TestRoutingTablePruneExpiresIdleEntries(t *testing.T) {
	rt := newRoutingTable()
	defer rt.Close()

	a, b := newTestConn(), newTestConn()
	apid, bpid := ident.Random(), ident.Random()
	rt.Add(a, apid, b, bpid)

	rt.mu.Lock()
	for k, v := range rt.entries {
		v.touched = time.Now().Add(-2 * routingTablePruneInterval)
		rt.entries[k] = v
	}
	rt.mu.Unlock()

	rt.prune()

	if _, _, err := rt.Get(a, apid); err != errNoRoute {
		t.Fatal("expected idle routing entries to be pruned")
	}
}
