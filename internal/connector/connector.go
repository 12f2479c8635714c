// Package connector decides which friends we should be connected to
// and keeps retrying the ones we are not (spec.md §4.3's dialing
// counterpart to Link Connection; grounded on the original Connector).
package connector

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/jrydberg/friendly/internal/flog"
	"github.com/jrydberg/friendly/internal/ident"
	"github.com/jrydberg/friendly/internal/identity"
	"github.com/jrydberg/friendly/internal/link"
	"github.com/jrydberg/friendly/internal/xtimer"
)

// dialRate and dialBurst cap how many dial attempts a reconnect pass
// can fan out per second, independent of the per-friend jitter: a
// config with hundreds of offline friends must not open hundreds of
// sockets in the same instant.
const (
	dialRate  = 4
	dialBurst = 8
)

// scheduleJitter bounds the random delay before a reconnect pass, in
// seconds, matching the original's random.randint(0, 5).
const scheduleJitter = 6

// Dialer connects to friend and returns the resulting link, or an
// error if the dial or handshake failed. Connector calls it from its
// own goroutine per pending friend, so Dialer must be safe to call
// concurrently for distinct friends.
type Dialer func(friend *identity.Friend) (*link.Connection, error)

// Connector maintains, for every known friend, at most one live or
// in-flight connection, and periodically re-evaluates which friends
// still need dialing.
type Connector struct {
	dial Dialer
	log  flog.Logger

	mu          sync.Mutex
	friends     []*identity.Friend
	connections map[ident.ID]*link.Connection
	pending     map[ident.ID]bool
	timer       *xtimer.Timer
	dialLimiter *rate.Limiter
}

// New creates a Connector that dials through dial.
func New(dial Dialer, log flog.Logger) *Connector {
	return &Connector{
		dial:        dial,
		log:         log,
		connections: make(map[ident.ID]*link.Connection),
		pending:     make(map[ident.ID]bool),
		timer:       xtimer.New(),
		dialLimiter: rate.NewLimiter(dialRate, dialBurst),
	}
}

// AddFriend registers friend as a connection candidate, inserting it
// at a random position in the candidate list so that, across many
// peers, no single friend is consistently dialed first (mirrors the
// original's randrange insertion).
func (c *Connector) AddFriend(friend *identity.Friend) {
	c.mu.Lock()
	defer c.mu.Unlock()

	d := friend.Digest()
	for _, f := range c.friends {
		if f.Digest() == d {
			return
		}
	}
	if len(c.friends) == 0 {
		c.friends = append(c.friends, friend)
	} else {
		p := rand.Intn(len(c.friends) + 1)
		c.friends = append(c.friends, nil)
		copy(c.friends[p+1:], c.friends[p:])
		c.friends[p] = friend
	}
	if c.connections[d] == nil {
		c.scheduleLocked()
	}
}

// RemoveFriend drops friend from consideration and tears down any
// live connection to it.
func (c *Connector) RemoveFriend(friend *identity.Friend) {
	c.mu.Lock()
	d := friend.Digest()
	for i, f := range c.friends {
		if f.Digest() == d {
			c.friends = append(c.friends[:i], c.friends[i+1:]...)
			break
		}
	}
	conn, ok := c.connections[d]
	if ok {
		delete(c.connections, d)
	}
	c.scheduleLocked()
	c.mu.Unlock()

	if ok {
		conn.LoseConnection()
	}
}

// ConnectionMade registers a newly authenticated connection. A
// duplicate connection to an already-connected friend is dropped.
func (c *Connector) ConnectionMade(conn *link.Connection) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	d := conn.Friend().Digest()
	if _, dup := c.connections[d]; dup {
		return errDuplicateFriend
	}
	c.connections[d] = conn
	c.scheduleLocked()
	return nil
}

// ConnectionLost forgets a connection that went down, and reschedules
// a reconnect pass so we dial the friend again.
func (c *Connector) ConnectionLost(conn *link.Connection) {
	c.mu.Lock()
	defer c.mu.Unlock()

	f := conn.Friend()
	if f == nil {
		return
	}
	d := f.Digest()
	if c.connections[d] == conn {
		delete(c.connections, d)
		c.scheduleLocked()
	}
}

// scheduleLocked arms the reconnect timer if it is not already armed.
// c.mu must be held.
func (c *Connector) scheduleLocked() {
	if c.timer.Pending() {
		return
	}
	delay := time.Duration(rand.Intn(scheduleJitter)) * time.Second
	c.timer.Start(delay)
	go c.waitAndReconnect()
}

func (c *Connector) waitAndReconnect() {
	<-c.timer.Wait()
	c.timer.Fired()
	c.reconnect()
}

// reconnect re-evaluates connection state for every known friend and
// kicks off a dial for any that is neither connected nor already
// being dialed.
func (c *Connector) reconnect() {
	c.mu.Lock()
	candidates := make([]*identity.Friend, 0, len(c.friends))
	for _, f := range c.friends {
		d := f.Digest()
		if c.connections[d] == nil && !c.pending[d] {
			c.pending[d] = true
			candidates = append(candidates, f)
		}
	}
	c.mu.Unlock()

	for _, f := range candidates {
		go c.connect(f)
	}
}

func (c *Connector) connect(friend *identity.Friend) {
	if err := c.dialLimiter.Wait(context.Background()); err != nil {
		c.log.Debugf("connector: dial limiter: %v", err)
	}

	_, err := c.dial(friend)

	c.mu.Lock()
	delete(c.pending, friend.Digest())
	c.mu.Unlock()

	if err != nil {
		c.log.Infof("connector: failed to connect to %s: %v", friend, err)
	}
}

// Connected reports how many of the known friends currently have a
// live connection, for status reporting.
func (c *Connector) Connected() (up, total int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.connections), len(c.friends)
}

var errDuplicateFriend = dupErr{}

type dupErr struct{}

func (dupErr) Error() string { return "connector: friend already connected" }
