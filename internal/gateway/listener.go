package gateway

import (
	"net"
	"sync"
)

// verifiedListener feeds already-handshaken connections to the HTTP layer.
type verifiedListener struct {
	addr      net.Addr
	conns     chan net.Conn
	done      chan struct{}
	closeOnce sync.Once
}

func newVerifiedListener(addr net.Addr) *verifiedListener {
	return &verifiedListener{
		addr:  addr,
		conns: make(chan net.Conn),
		done:  make(chan struct{}),
	}
}

func (l *verifiedListener) Accept() (net.Conn, error) {
	select {
	case conn := <-l.conns:
		return conn, nil
	case <-l.done:
		return nil, net.ErrClosed
	}
}

func (l *verifiedListener) Close() error {
	l.closeOnce.Do(func() { close(l.done) })
	return nil
}

func (l *verifiedListener) Addr() net.Addr {
	return l.addr
}

// push hands conn to Accept. It reports false once the listener is closed; the
// caller still owns conn in that case.
func (l *verifiedListener) push(conn net.Conn) bool {
	select {
	case l.conns <- conn:
		return true
	case <-l.done:
		return false
	}
}
