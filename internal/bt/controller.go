package bt

import (
	"sync"

	"github.com/jrydberg/friendly/internal/flog"
)

// Delegate is optionally notified of connection lifecycle events
// alongside the controller's own bookkeeping.
type Delegate interface {
	ConnectionMade(c *Connection)
	ConnectionLost(c *Connection)
}

// Controller orchestrates every BT Connection sharing one Schedule,
// PiecePicker, Choker, and Storage for a single item (spec.md §4.8).
type Controller struct {
	mu sync.Mutex

	choker      *Choker
	schedule    *Schedule
	storage     Storage
	picker      *PiecePicker
	metainfo    *MetaInfo
	log         flog.Logger
	backlog     int
	delegate    Delegate
	connections []*Connection
}

// NewController creates a Controller for metainfo, backed by storage,
// allowing up to backlog pending chunk requests per connection.
func NewController(metainfo *MetaInfo, storage Storage, chunksize, backlog int, log flog.Logger) *Controller {
	if backlog <= 0 {
		backlog = 5
	}
	return &Controller{
		choker:   NewChoker(4),
		schedule: NewSchedule(storage, metainfo, chunksize),
		storage:  storage,
		picker:   NewPiecePicker(metainfo.NumPieces()),
		metainfo: metainfo,
		log:      log,
		backlog:  backlog,
	}
}

// SetDelegate registers an observer of connection lifecycle events.
func (c *Controller) SetDelegate(d Delegate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.delegate = d
}

// SetBacklog changes the per-connection pending-request budget.
func (c *Controller) SetBacklog(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.backlog = n
}

// Backlog returns the per-connection pending-request budget.
func (c *Controller) Backlog() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.backlog
}

// Close stops the choker's background ticks.
func (c *Controller) Close() { c.choker.Close() }

// connectionLost, connectionMade, gotHave, requestRejected,
// requestsRejected, and requestHonored are each called directly from
// a Connection's own MessageReceived/ConnectionLost (one goroutine per
// path), while also calling into one another internally (e.g. gotHave
// calls requestMore). Each keeps a thin locking wrapper at the entry
// point and does its actual work in a Locked sibling that assumes the
// lock is already held, so the internal calls don't relock.

func (c *Controller) connectionLost(conn *Connection) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connectionLostLocked(conn)
}

func (c *Controller) connectionLostLocked(conn *Connection) {
	for i, x := range c.connections {
		if x == conn {
			c.connections = append(c.connections[:i], c.connections[i+1:]...)
			break
		}
	}
	for _, piece := range conn.Pieces() {
		c.picker.LostHave(piece)
	}
	c.choker.ConnectionLost(conn)
	if c.delegate != nil {
		c.delegate.ConnectionLost(conn)
	}
}

func (c *Controller) connectionMade(conn *Connection) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectionMadeLocked(conn)
}

func (c *Controller) connectionMadeLocked(conn *Connection) error {
	c.connections = append(c.connections, conn)
	c.choker.ConnectionMade(conn)
	if c.delegate != nil {
		c.delegate.ConnectionMade(conn)
	}
	return nil
}

func (c *Controller) gotHave(conn *Connection, pieces []int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gotHaveLocked(conn, pieces)
}

func (c *Controller) gotHaveLocked(conn *Connection, pieces []int) {
	for _, p := range pieces {
		c.picker.GotHave(p)
	}
	c.checkInterestLocked(conn, pieces)
	c.requestMoreLocked(conn, pieces)
}

// requestMore tries to fill conn's request backlog from pieces (or,
// if nil, the picker's own iteration order).
func (c *Controller) requestMore(conn *Connection, pieces []int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requestMoreLocked(conn, pieces)
}

func (c *Controller) requestMoreLocked(conn *Connection, pieces []int) {
	if conn.Choked() || len(conn.Pending()) >= c.backlog {
		return
	}
	if pieces == nil {
		pieces = c.picker.Iterate()
	}

	var completed []int
	for _, piece := range pieces {
		if !conn.Have(piece) {
			continue
		}
		for len(conn.Pending()) < c.backlog {
			offset, length, ok := c.schedule.GetRequest(piece)
			if !ok {
				break
			}
			conn.Request(piece, offset, length)
		}
		if len(conn.Pending()) >= c.backlog {
			return
		}
		completed = append(completed, piece)
	}
	if len(completed) > 0 {
		for _, other := range c.connections {
			c.checkLostInterestLocked(other, completed)
		}
	}
}

func (c *Controller) requestRejected(conn *Connection, piece, offset, length int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requestsRejectedLocked(conn, []request{{piece, offset, length}})
}

func (c *Controller) requestsRejected(conn *Connection, requests []request) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requestsRejectedLocked(conn, requests)
}

func (c *Controller) requestsRejectedLocked(conn *Connection, requests []request) {
	var pieces []int
	for _, r := range requests {
		if !c.schedule.PutRequest(r.piece, r.offset, r.length) {
			pieces = append(pieces, r.piece)
		}
	}
	if len(pieces) > 0 {
		for _, other := range c.connections {
			c.checkInterestLocked(other, pieces)
			c.requestMoreLocked(other, pieces)
		}
	}
}

func (c *Controller) requestHonored(conn *Connection, piece, offset int, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requestHonoredLocked(conn, piece, offset, data)
}

func (c *Controller) requestHonoredLocked(conn *Connection, piece, offset int, data []byte) {
	c.picker.ChunkReceived(piece)
	c.schedule.HonorRequest(piece, offset, len(data))
	completed, err := c.storage.Write(piece, offset, data)
	if err != nil {
		c.log.Errorf("bt: storage write failed for piece %d: %v", piece, err)
		conn.Close()
		return
	}
	if completed {
		c.picker.Complete(piece)
		for _, t := range c.connections {
			t.SendHave(piece)
		}
	}
	c.requestMoreLocked(conn, nil)
	if len(conn.Pending()) == 0 {
		conn.SendNotInteresting()
	}
}

func (c *Controller) checkInterestLocked(conn *Connection, pieces []int) {
	if conn.Interesting() {
		return
	}
	for _, p := range pieces {
		if conn.Have(p) && c.schedule.HaveRequests(p) {
			conn.SendInteresting()
			return
		}
	}
}

func (c *Controller) checkLostInterestLocked(conn *Connection, pieces []int) {
	if !conn.Interesting() || len(conn.Pending()) != 0 {
		return
	}
	for _, p := range conn.Pieces() {
		if c.schedule.HaveRequests(p) {
			return
		}
	}
	conn.SendNotInteresting()
}
