package upgrade

import (
	"bufio"
	"errors"
	"net"
	"net/http"
)

var (
	ErrDetached          = errors.New("upgrade: response stream already detached")
	ErrDetachUnsupported = errors.New("upgrade: response writer cannot detach its stream")
)

// Detachable is a response writer that can hand its raw stream to a new owner.
// After a successful Detach the HTTP layer must not touch the stream again.
type Detachable interface {
	http.ResponseWriter
	Detach() (net.Conn, *bufio.ReadWriter, error)
	Detached() bool
}

// DetachableWriter adapts any http.ResponseWriter to Detachable. It also exposes
// Hijack so the WebSocket upgrader takes the stream through Detach.
type DetachableWriter struct {
	w         http.ResponseWriter
	detached  bool
	detachErr error
}

func NewDetachable(w http.ResponseWriter) *DetachableWriter {
	return &DetachableWriter{w: w}
}

func (d *DetachableWriter) Header() http.Header {
	return d.w.Header()
}

func (d *DetachableWriter) Write(p []byte) (int, error) {
	if d.detached {
		return 0, ErrDetached
	}
	return d.w.Write(p)
}

func (d *DetachableWriter) WriteHeader(status int) {
	if d.detached {
		return
	}
	d.w.WriteHeader(status)
}

// Detach takes the underlying connection. It succeeds at most once.
func (d *DetachableWriter) Detach() (net.Conn, *bufio.ReadWriter, error) {
	if d.detached {
		return nil, nil, ErrDetached
	}
	conn, brw, err := http.NewResponseController(d.w).Hijack()
	if err != nil {
		if errors.Is(err, http.ErrNotSupported) {
			err = errors.Join(ErrDetachUnsupported, err)
		}
		d.detachErr = err
		return nil, nil, err
	}
	d.detached = true
	return conn, brw, nil
}

func (d *DetachableWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return d.Detach()
}

func (d *DetachableWriter) Detached() bool {
	return d.detached
}

// DetachErr is the error from the last failed Detach, if any.
func (d *DetachableWriter) DetachErr() error {
	return d.detachErr
}
