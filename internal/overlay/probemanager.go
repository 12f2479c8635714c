package overlay

import (
	"sync"
	"time"

	"github.com/jrydberg/friendly/internal/ident"
)

// probeManagerInterval is how often a ProbeManager starts a fresh
// probe cycle for its query (spec.md §4.7).
const probeManagerInterval = 15 * time.Second

// ProbeManager periodically floods the network in search of a path
// terminating query Q, and accepts whatever path comes back.
type ProbeManager struct {
	controller *Controller
	q          ident.ID
	cid        ident.ID
	factory    ProtocolFactory

	mu   sync.Mutex
	sid  ident.ID
	live bool

	stop chan struct{}
	done chan struct{}
}

// NewProbeManager creates a manager that will search for q once
// started, building protocols for accepted paths via factory.
func NewProbeManager(controller *Controller, q ident.ID, factory ProtocolFactory) *ProbeManager {
	return &ProbeManager{
		controller: controller,
		q:          q,
		cid:        ident.Random(),
		factory:    factory,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start begins the periodic probe cycle, firing immediately and then
// every probeManagerInterval.
func (m *ProbeManager) Start() {
	m.mu.Lock()
	if m.live {
		m.mu.Unlock()
		return
	}
	m.live = true
	m.mu.Unlock()
	go m.loop()
}

func (m *ProbeManager) loop() {
	defer close(m.done)
	m.probe()
	ticker := time.NewTicker(probeManagerInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.probe()
		}
	}
}

// Stop ends the probe cycle and unregisters the manager's current
// session id with the controller.
func (m *ProbeManager) Stop() {
	m.mu.Lock()
	if !m.live {
		m.mu.Unlock()
		return
	}
	m.live = false
	sid := m.sid
	m.mu.Unlock()

	close(m.stop)
	<-m.done
	if !sid.IsZero() {
		m.controller.removeProbeManager(sid)
	}
}

func (m *ProbeManager) probe() {
	m.mu.Lock()
	if !m.sid.IsZero() {
		m.controller.removeProbeManager(m.sid)
	}
	sid := ident.Random()
	m.sid = sid
	cid := m.cid
	q := m.q
	m.mu.Unlock()

	m.controller.addProbeManager(sid, m)
	for _, conn := range m.controller.liveConnections() {
		conn.SendPROBE(q, cid, sid, probeInitialTTL, nil)
	}
}

// probeInitialTTL is the hop budget a freshly originated probe is
// given (spec.md §4.5 requires 2 <= ttl <= 15 to keep propagating).
const probeInitialTTL = 10

// Accept builds the application protocol for a path this manager's
// probe found.
func (m *ProbeManager) Accept(addr Address) Protocol {
	return m.factory.BuildProtocol(addr)
}

// Q reports the query this manager searches for.
func (m *ProbeManager) Q() ident.ID { return m.q }
