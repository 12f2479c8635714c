package bt

import (
	"math/rand"
	"sort"
	"sync"
	"time"
)

// Peer is the choker-facing view of a BT connection: enough to
// evaluate and drive choke state without the choker depending on the
// concrete Connection type.
type Peer interface {
	Choking() bool
	Interested() bool
	Rate() float64
	SendChoke()
	SendUnchoke()
}

// chokerTick is the base tick period; rechoke fires on every tick,
// optimistic unchoke every third (spec.md §4.8: "Every 10s tick:
// evaluate connections. Every 30s tick: rotate one choked-interested
// peer to the front").
const chokerTick = 10 * time.Second

// Choker decides, among connected peers, which are allowed to pull
// pieces from us.
type Choker struct {
	maxUploads int

	mu          sync.Mutex
	connections []Peer

	stop chan struct{}
	done chan struct{}
}

// NewChoker creates a Choker that keeps at most maxUploads interested
// peers unchoked; peers that are not interested are unchoked without
// counting against that budget. A non-positive maxUploads defaults to 4.
func NewChoker(maxUploads int) *Choker {
	if maxUploads <= 0 {
		maxUploads = 4
	}
	c := &Choker{maxUploads: maxUploads, stop: make(chan struct{}), done: make(chan struct{})}
	go c.loop()
	return c
}

func (c *Choker) loop() {
	defer close(c.done)
	ticker := time.NewTicker(chokerTick)
	defer ticker.Stop()
	beat := 0
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			beat++
			c.Rechoke()
			if beat%3 == 0 {
				c.OptimisticUnchoke()
			}
		}
	}
}

// Close stops the choker's periodic ticks.
func (c *Choker) Close() {
	close(c.stop)
	<-c.done
}

// ConnectionMade adds peer at a randomized position among the current
// connections and reevaluates choke state.
func (c *Choker) ConnectionMade(peer Peer) {
	c.mu.Lock()
	n := len(c.connections)
	p := rand.Intn(n+3) - 2 // randrange(-2, n+1)
	if p < 0 {
		p = 0
	}
	if p > n {
		p = n
	}
	c.connections = append(c.connections, nil)
	copy(c.connections[p+1:], c.connections[p:])
	c.connections[p] = peer
	c.mu.Unlock()

	c.Rechoke()
}

// ConnectionLost removes peer and, if it was unchoked and interested,
// reevaluates choke state for everyone else.
func (c *Choker) ConnectionLost(peer Peer) {
	c.mu.Lock()
	for i, p := range c.connections {
		if p == peer {
			c.connections = append(c.connections[:i], c.connections[i+1:]...)
			break
		}
	}
	c.mu.Unlock()

	if peer.Interested() && !peer.Choking() {
		c.Rechoke()
	}
}

// Interested notifies the choker that peer has become interested,
// triggering an immediate rechoke if peer is currently unchoked.
func (c *Choker) Interested(peer Peer) {
	if !peer.Choking() {
		c.Rechoke()
	}
}

// NotInterested notifies the choker that peer is no longer
// interested, triggering an immediate rechoke under the same
// condition as Interested.
func (c *Choker) NotInterested(peer Peer) {
	if !peer.Choking() {
		c.Rechoke()
	}
}

// OptimisticUnchoke rotates the first choked-and-interested peer to
// the front of the list so it gets first consideration next rechoke.
func (c *Choker) OptimisticUnchoke() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, p := range c.connections {
		if p.Choking() && p.Interested() {
			c.connections = append(append([]Peer{}, c.connections[i:]...), c.connections[:i]...)
			break
		}
	}
}

func (c *Choker) preferred() []Peer {
	type scored struct {
		rate float64
		peer Peer
	}
	var cand []scored
	for _, p := range c.connections {
		if p.Interested() {
			cand = append(cand, scored{rate: p.Rate(), peer: p})
		}
	}
	sort.Slice(cand, func(i, j int) bool { return cand[i].rate > cand[j].rate })
	if len(cand) > c.maxUploads-1 {
		cand = cand[:c.maxUploads-1]
	}
	out := make([]Peer, len(cand))
	for i, s := range cand {
		out[i] = s.peer
	}
	return out
}

// Rechoke reevaluates choke state for every connection.
func (c *Choker) Rechoke() {
	c.mu.Lock()
	defer c.mu.Unlock()

	preferred := c.preferred()
	isPreferred := make(map[Peer]bool, len(preferred))
	for _, p := range preferred {
		isPreferred[p] = true
	}

	count := len(preferred)
	for _, p := range c.connections {
		switch {
		case isPreferred[p]:
			p.SendUnchoke()
		case count < c.maxUploads:
			p.SendUnchoke()
			if p.Interested() {
				count++
			}
		default:
			p.SendChoke()
		}
	}
}

// SetMaxUploads changes the concurrent-upload budget and reevaluates
// choke state immediately.
func (c *Choker) SetMaxUploads(n int) {
	c.mu.Lock()
	c.maxUploads = n
	c.mu.Unlock()
	c.Rechoke()
}
