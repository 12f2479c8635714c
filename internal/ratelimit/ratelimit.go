// Package ratelimit throttles inbound TLS handshake attempts by
// source IP, adapted from wireguard-go's per-endpoint packet
// ratelimiter: same token-bucket-with-garbage-collection shape, keyed
// by remote IP instead of remote transport endpoint, and guarding
// handshake acceptance instead of packet decryption.
package ratelimit

import (
	"net"
	"sync"
	"time"
)

const (
	handshakesPerSecond = 5
	handshakesBurstable = 5
	garbageCollectTime  = time.Second * 10
	handshakeCost       = int64(time.Second) / handshakesPerSecond
	maxTokens           = handshakeCost * handshakesBurstable
)

type entry struct {
	mutex    sync.Mutex
	lastTime time.Time
	tokens   int64
}

// Limiter is a per-source-IP token bucket guarding how often a remote
// address may attempt a handshake.
type Limiter struct {
	mutex sync.RWMutex
	stop  chan struct{}
	table map[[16]byte]*entry
}

// New creates and starts a Limiter. Close must be called to stop its
// background garbage collection.
func New() *Limiter {
	l := &Limiter{
		stop:  make(chan struct{}),
		table: make(map[[16]byte]*entry),
	}
	go l.collectGarbage()
	return l
}

func (l *Limiter) collectGarbage() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			now := time.Now()
			l.mutex.Lock()
			for key, e := range l.table {
				e.mutex.Lock()
				stale := now.Sub(e.lastTime) > garbageCollectTime
				e.mutex.Unlock()
				if stale {
					delete(l.table, key)
				}
			}
			l.mutex.Unlock()
		}
	}
}

// Close stops the garbage collection goroutine.
func (l *Limiter) Close() {
	close(l.stop)
}

func key(ip net.IP) [16]byte {
	var k [16]byte
	copy(k[:], ip.To16())
	return k
}

// Allow reports whether a handshake attempt from ip should proceed.
func (l *Limiter) Allow(ip net.IP) bool {
	k := key(ip)

	l.mutex.RLock()
	e, ok := l.table[k]
	l.mutex.RUnlock()

	if !ok {
		e = &entry{tokens: maxTokens - handshakeCost, lastTime: time.Now()}
		l.mutex.Lock()
		l.table[k] = e
		l.mutex.Unlock()
		return true
	}

	e.mutex.Lock()
	defer e.mutex.Unlock()

	now := time.Now()
	e.tokens += now.Sub(e.lastTime).Nanoseconds()
	e.lastTime = now
	if e.tokens > maxTokens {
		e.tokens = maxTokens
	}
	if e.tokens > handshakeCost {
		e.tokens -= handshakeCost
		return true
	}
	return false
}
