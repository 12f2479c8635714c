package overlay

import (
	"sync"
	"time"

	"github.com/jrydberg/friendly/internal/ident"
	"github.com/jrydberg/friendly/internal/link"
)

// probeTablePruneInterval is both the lifetime of a probe session
// entry and the poll period for expiring them (spec.md §4.5).
const probeTablePruneInterval = 15 * time.Second

type probeEntry struct {
	sid ident.ID
	at  time.Time
}

// probeTable maps an in-flight probe's session id to the connection
// it arrived on, so a later response can be routed back, and expires
// entries older than probeTablePruneInterval.
type probeTable struct {
	mu      sync.Mutex
	bySID   map[ident.ID]*link.Connection
	byConn  map[*link.Connection][]ident.ID
	ordered []probeEntry

	stop chan struct{}
}

func newProbeTable() *probeTable {
	t := &probeTable{
		bySID:  make(map[ident.ID]*link.Connection),
		byConn: make(map[*link.Connection][]ident.ID),
		stop:   make(chan struct{}),
	}
	go t.loop()
	return t
}

func (t *probeTable) loop() {
	ticker := time.NewTicker(probeTablePruneInterval)
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

func (t *probeTable) Close() { close(t.stop) }

// errDuplicateProbe is returned by Add when sid is already tracked:
// the probe has already been seen, which terminates the flood here.
var errDuplicateProbe = errDup{}

type errDup struct{}

func (errDup) Error() string { return "overlay: duplicate probe" }

// Add records that a probe with session id sid arrived on conn. It
// returns errDuplicateProbe if sid is already tracked.
func (t *probeTable) Add(sid ident.ID, conn *link.Connection) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.bySID[sid]; ok {
		return errDuplicateProbe
	}
	t.bySID[sid] = conn
	t.byConn[conn] = append(t.byConn[conn], sid)
	t.ordered = append(t.ordered, probeEntry{sid: sid, at: time.Now()})
	return nil
}

// Get returns the connection a probe with session id sid was
// received on, or nil if unknown.
func (t *probeTable) Get(sid ident.ID) *link.Connection {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.bySID[sid]
}

// ConnectionLost forgets every probe session recorded against conn.
func (t *probeTable) ConnectionLost(conn *link.Connection) {
	t.mu.Lock()
	defer t.mu.Unlock()
	sids, ok := t.byConn[conn]
	if !ok {
		return
	}
	for _, sid := range sids {
		delete(t.bySID, sid)
	}
	delete(t.byConn, conn)
}

func (t *probeTable) prune() {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := time.Now().Add(-probeTablePruneInterval)
	i := 0
	for ; i < len(t.ordered); i++ {
		if t.ordered[i].at.After(cutoff) {
			break
		}
		sid := t.ordered[i].sid
		conn, ok := t.bySID[sid]
		if !ok {
			continue
		}
		delete(t.bySID, sid)
		sids := t.byConn[conn]
		for j, s := range sids {
			if s == sid {
				sids = append(sids[:j], sids[j+1:]...)
				break
			}
		}
		if len(sids) == 0 {
			delete(t.byConn, conn)
		} else {
			t.byConn[conn] = sids
		}
	}
	t.ordered = t.ordered[i:]
}
