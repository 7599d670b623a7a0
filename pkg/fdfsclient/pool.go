// Package fdfsclient is a connection-pooled client runtime for the
// storage-node wire protocol (pkg/fdfsproto): a framed TCP transport
// with explicit, rather than http.Transport-implicit, connection
// reuse. Each remote address gets its own pool, bounded by
// MaxConnections, with one mutex guarding both the idle queue and the
// vector of every connection the pool has open.
package fdfsclient

import (
	"net"
	"sync"
	"time"
)

// defaultDialTimeout bounds how long opening a new connection may
// take before the attempt counts as KindConnectTimeout.
const defaultDialTimeout = 5 * time.Second

// pool holds every connection open to one remote address: an idle
// stack ready for immediate reuse, plus a FIFO of all of them (idle or
// checked out) so the pool can stay within maxConns without ever
// blocking a caller.
type pool struct {
	addr        string
	dialTimeout time.Duration
	maxConns    int // 0 means unbounded
	idleTimeout time.Duration

	mu    sync.Mutex
	idle  []net.Conn
	all   []net.Conn // oldest first; every conn the pool has dialed and not yet closed
	rrPos int        // round-robin cursor used once maxConns is reached with no idle conn
	drain *time.Timer
}

func newPool(addr string, idleTimeout, dialTimeout time.Duration, maxConns int) *pool {
	if dialTimeout <= 0 {
		dialTimeout = defaultDialTimeout
	}
	p := &pool{addr: addr, dialTimeout: dialTimeout, maxConns: maxConns, idleTimeout: idleTimeout}
	if idleTimeout > 0 {
		p.drain = time.AfterFunc(idleTimeout, p.drainIdle)
	}
	return p
}

// get returns a pooled connection if one is idle. Otherwise, if the
// pool has not yet reached maxConns, it dials a new one and adds it to
// the tracked set. Once maxConns is reached and none are idle, it
// reuses the oldest tracked connection instead of opening another
// socket, round-robining through the full set on repeated exhaustion
// so calls don't all pile onto a single connection. The returned
// connection is not yet known to be live; callers discover a dead one
// the same way any write/read would.
func (p *pool) get() (net.Conn, error) {
	p.mu.Lock()
	if n := len(p.idle); n > 0 {
		c := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.mu.Unlock()
		return c, nil
	}
	if p.maxConns <= 0 || len(p.all) < p.maxConns {
		p.mu.Unlock()
		c, err := net.DialTimeout("tcp", p.addr, p.dialTimeout)
		if err != nil {
			return nil, err
		}
		p.mu.Lock()
		p.all = append(p.all, c)
		p.mu.Unlock()
		return c, nil
	}
	c := p.all[p.rrPos%len(p.all)]
	p.rrPos++
	p.mu.Unlock()
	return c, nil
}

// put returns a connection to the pool for reuse, unless healthy is
// false, in which case it is closed and dropped from the tracked set
// instead: a connection that just errored is assumed broken rather
// than risk handing a poisoned socket to the next caller, and a dead
// connection must not keep counting against maxConns.
func (p *pool) put(c net.Conn, healthy bool) {
	if c == nil {
		return
	}
	if !healthy {
		p.mu.Lock()
		p.removeLocked(c)
		p.mu.Unlock()
		c.Close()
		return
	}
	p.mu.Lock()
	p.idle = append(p.idle, c)
	if p.drain != nil {
		p.drain.Reset(p.idleTimeout)
	}
	p.mu.Unlock()
}

func (p *pool) removeLocked(c net.Conn) {
	for i, x := range p.all {
		if x == c {
			p.all = append(p.all[:i], p.all[i+1:]...)
			break
		}
	}
}

func (p *pool) drainIdle() {
	p.mu.Lock()
	idle := p.idle
	p.idle = nil
	for _, c := range idle {
		p.removeLocked(c)
	}
	p.mu.Unlock()
	for _, c := range idle {
		c.Close()
	}
}

func (p *pool) close() {
	if p.drain != nil {
		p.drain.Stop()
	}
	p.mu.Lock()
	all := p.all
	p.all = nil
	p.idle = nil
	p.mu.Unlock()
	for _, c := range all {
		c.Close()
	}
}

// pools keys independent connection pools by remote address, so one
// Client can talk to several storage nodes without their connections
// competing for the same cap.
type pools struct {
	idleTimeout time.Duration
	dialTimeout time.Duration
	maxConns    int

	mu sync.Mutex
	m  map[string]*pool
}

func newPools(idleTimeout, dialTimeout time.Duration, maxConns int) *pools {
	return &pools{idleTimeout: idleTimeout, dialTimeout: dialTimeout, maxConns: maxConns, m: make(map[string]*pool)}
}

func (ps *pools) forAddr(addr string) *pool {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	p, ok := ps.m[addr]
	if !ok {
		p = newPool(addr, ps.idleTimeout, ps.dialTimeout, ps.maxConns)
		ps.m[addr] = p
	}
	return p
}

func (ps *pools) closeAll() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	for addr, p := range ps.m {
		p.close()
		delete(ps.m, addr)
	}
}
