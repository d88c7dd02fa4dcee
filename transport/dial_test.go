package transport

import (
	"net"
	"testing"
	"time"
)

func echoListener(t *testing.T) (addr string, stop func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()
	return ln.Addr().String(), func() { ln.Close() }
}

func TestConnPoolAcquireReuse(t *testing.T) {
	addr, stop := echoListener(t)
	defer stop()

	pool := NewConnPool(NewDialer(time.Second), time.Minute, time.Hour)
	defer pool.Close()

	conn, err := pool.Acquire(addr)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	pool.Release(addr, conn)

	if stats := pool.Stats(); stats[addr] != 1 {
		t.Fatalf("expected 1 idle connection after release, got %d", stats[addr])
	}

	reused, err := pool.Acquire(addr)
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if reused != conn {
		t.Fatalf("expected second acquire to reuse the released connection")
	}
	if stats := pool.Stats(); stats[addr] != 0 {
		t.Fatalf("expected pool drained after reuse, got %d", stats[addr])
	}
}

func TestConnPoolReaper(t *testing.T) {
	addr, stop := echoListener(t)
	defer stop()

	pool := NewConnPool(NewDialer(time.Second), 20*time.Millisecond, 10*time.Millisecond)
	defer pool.Close()

	conn, err := pool.Acquire(addr)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	pool.Release(addr, conn)

	time.Sleep(100 * time.Millisecond)

	if stats := pool.Stats(); stats[addr] != 0 {
		t.Fatalf("expected idle connection reaped, got %d", stats[addr])
	}
}
