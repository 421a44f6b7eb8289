package session

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
)

var (
	ErrHandlerPanic = errors.New("session: handler panic")
	ErrClosed       = errors.New("session: closed")
)

// Cause classifies why a session loop ended.
type Cause uint8

const (
	CauseGracefulClose Cause = iota
	// CauseEndOfStream is the local side ending the stream: Close, CloseGracefully or
	// ctx cancellation. A peer that drops the TCP stream without a close frame
	// surfaces from gorilla as close 1006 and is CauseConnectionLost.
	CauseEndOfStream
	CauseTimeout
	CauseConnectionLost
	CausePeerErrorClose
	CauseUnexpected
)

func (c Cause) String() string {
	switch c {
	case CauseGracefulClose:
		return "graceful-close"
	case CauseEndOfStream:
		return "end-of-stream"
	case CauseTimeout:
		return "timeout"
	case CauseConnectionLost:
		return "connection-lost"
	case CausePeerErrorClose:
		return "peer-error-close"
	default:
		return "unexpected"
	}
}

// Abnormal reports whether the cause is an error rather than an orderly end.
// Timeouts only fire when a deadline was configured, so they are not errors.
func (c Cause) Abnormal() bool {
	switch c {
	case CauseConnectionLost, CausePeerErrorClose, CauseUnexpected:
		return true
	default:
		return false
	}
}

// Termination describes how one session ended.
type Termination struct {
	Cause     Cause
	CloseCode int
	Err       error
	FramesIn  uint64
	FramesOut uint64
	Duration  time.Duration
}

func (t Termination) String() string {
	if t.Err == nil {
		return t.Cause.String()
	}
	return fmt.Sprintf("%s: %v", t.Cause, t.Err)
}

// Classify maps a read, write or handler error onto a termination cause. The second
// result is the WebSocket close code when the error carries one. A bare io.EOF only
// reaches here from local reads after close; peer EOF arrives as close 1006.
func Classify(err error) (Cause, int) {
	if err == nil || errors.Is(err, io.EOF) {
		return CauseEndOfStream, 0
	}

	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		switch ce.Code {
		case websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived:
			return CauseGracefulClose, ce.Code
		case websocket.CloseAbnormalClosure:
			return CauseConnectionLost, ce.Code
		default:
			return CausePeerErrorClose, ce.Code
		}
	}

	if errors.Is(err, websocket.ErrCloseSent) || errors.Is(err, ErrClosed) {
		return CauseEndOfStream, 0
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return CauseTimeout, 0
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return CauseTimeout, 0
	}

	switch {
	case errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, syscall.ECONNABORTED),
		errors.Is(err, net.ErrClosed):
		return CauseConnectionLost, 0
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return CauseConnectionLost, 0
	}
	return CauseUnexpected, 0
}
