package transport

import (
	"fmt"
	"net"
	"sync"
	"time"
)

// Dialer opens plain TCP connections to mesh-adjacent radios/bridges that
// speak a raw byte-stream transport rather than the in-process memnet
// reference adapter.
type Dialer struct {
	Timeout time.Duration
}

// NewDialer creates a Dialer with the given connect timeout.
func NewDialer(timeout time.Duration) *Dialer {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dialer{Timeout: timeout}
}

// Dial opens a TCP connection to addr.
func (d *Dialer) Dial(addr string) (net.Conn, error) {
	conn, err := net.DialTimeout("tcp", addr, d.Timeout)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", addr, err)
	}
	return conn, nil
}

type pooledConn struct {
	conn     net.Conn
	lastUsed time.Time
}

// ConnPool keeps a small set of idle, reusable connections per address,
// reaping ones that have sat unused past idleTTL.
type ConnPool struct {
	mu      sync.Mutex
	dialer  *Dialer
	idleTTL time.Duration
	conns   map[string][]*pooledConn

	stopReaper chan struct{}
}

// NewConnPool creates a pool that reaps idle connections older than idleTTL,
// checking every reapInterval.
func NewConnPool(dialer *Dialer, idleTTL, reapInterval time.Duration) *ConnPool {
	p := &ConnPool{
		dialer:     dialer,
		idleTTL:    idleTTL,
		conns:      make(map[string][]*pooledConn),
		stopReaper: make(chan struct{}),
	}
	go p.reaper(reapInterval)
	return p
}

// Acquire returns an idle connection to addr if one is pooled, else dials a
// new one.
func (p *ConnPool) Acquire(addr string) (net.Conn, error) {
	p.mu.Lock()
	if conns := p.conns[addr]; len(conns) > 0 {
		pc := conns[len(conns)-1]
		p.conns[addr] = conns[:len(conns)-1]
		p.mu.Unlock()
		return pc.conn, nil
	}
	p.mu.Unlock()
	return p.dialer.Dial(addr)
}

// Release returns conn to the pool for addr, to be reused by a later Acquire
// or reaped after idleTTL.
func (p *ConnPool) Release(addr string, conn net.Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.conns[addr] = append(p.conns[addr], &pooledConn{conn: conn, lastUsed: time.Now()})
}

// Stats reports the number of idle pooled connections per address.
func (p *ConnPool) Stats() map[string]int {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]int, len(p.conns))
	for addr, conns := range p.conns {
		out[addr] = len(conns)
	}
	return out
}

// Close stops the reaper and closes every pooled connection.
func (p *ConnPool) Close() error {
	close(p.stopReaper)
	p.mu.Lock()
	defer p.mu.Unlock()
	var firstErr error
	for _, conns := range p.conns {
		for _, pc := range conns {
			if err := pc.conn.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	p.conns = make(map[string][]*pooledConn)
	return firstErr
}

func (p *ConnPool) reaper(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopReaper:
			return
		case <-ticker.C:
			p.reapOnce()
		}
	}
}

func (p *ConnPool) reapOnce() {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	for addr, conns := range p.conns {
		var keep []*pooledConn
		for _, pc := range conns {
			if now.Sub(pc.lastUsed) > p.idleTTL {
				pc.conn.Close()
				continue
			}
			keep = append(keep, pc)
		}
		if len(keep) == 0 {
			delete(p.conns, addr)
		} else {
			p.conns[addr] = keep
		}
	}
}
