package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Role tells which side of the stream a session sits on.
type Role uint8

const (
	RoleServer Role = iota
	RoleClient
)

func (r Role) String() string {
	if r == RoleClient {
		return "client"
	}
	return "server"
}

const (
	DefaultCloseTimeout = 2 * time.Second
	lastFramePreview    = 256
)

// Options bound per-frame I/O. Zero durations disable the deadline.
type Options struct {
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MaxFrameSize int64
}

// Info identifies a session for logs, the registry and handlers.
type Info struct {
	ID           string
	Role         Role
	PeerIdentity string
	AgentID      string
	RemoteAddr   string
	Path         string
	StartedAt    time.Time
}

// Frame is one complete WebSocket data message.
type Frame struct {
	Type int
	Data []byte
}

func TextFrame(s string) Frame   { return Frame{Type: websocket.TextMessage, Data: []byte(s)} }
func BinaryFrame(b []byte) Frame { return Frame{Type: websocket.BinaryMessage, Data: b} }
func (f Frame) IsText() bool     { return f.Type == websocket.TextMessage }
func (f Frame) IsBinary() bool   { return f.Type == websocket.BinaryMessage }
func (f Frame) String() string   { return preview(f.Data) }

// Session is one upgraded stream plus its bookkeeping.
type Session struct {
	conn *websocket.Conn
	info Info
	opts Options

	closeOnce   sync.Once
	closeErr    error
	closed      atomic.Bool
	localClosed atomic.Bool

	framesIn  atomic.Uint64
	framesOut atomic.Uint64
}

// New wraps an upgraded connection. The caller hands over ownership of conn.
func New(conn *websocket.Conn, info Info, opts Options) *Session {
	if info.StartedAt.IsZero() {
		info.StartedAt = time.Now().UTC()
	}
	if info.RemoteAddr == "" && conn != nil && conn.RemoteAddr() != nil {
		info.RemoteAddr = conn.RemoteAddr().String()
	}
	if opts.MaxFrameSize > 0 {
		conn.SetReadLimit(opts.MaxFrameSize)
	}
	return &Session{conn: conn, info: info, opts: opts}
}

func (s *Session) Info() Info        { return s.info }
func (s *Session) ID() string        { return s.info.ID }
func (s *Session) Closed() bool      { return s.closed.Load() }
func (s *Session) FramesIn() uint64  { return s.framesIn.Load() }
func (s *Session) FramesOut() uint64 { return s.framesOut.Load() }

// Run reads frames in arrival order and hands each to h until the stream ends.
// The stream is closed exactly once before Run returns, whatever the exit path.
// Cancelling ctx sends a going-away close frame and ends the loop.
func (s *Session) Run(ctx context.Context, h Handler) (t Termination) {
	if h == nil {
		h = Echo
	}
	stop := context.AfterFunc(ctx, func() {
		s.localClosed.Store(true)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "context done"),
			time.Now().Add(DefaultCloseTimeout))
		_ = s.Close()
	})
	defer stop()

	var last Frame
	defer func() {
		if r := recover(); r != nil {
			t = s.terminate(fmt.Errorf("%w: %v", ErrHandlerPanic, r))
		}
		_ = s.Close()
		s.logTermination(t, last)
	}()

	log.Debug().
		Str("session_id", s.info.ID).
		Str("role", s.info.Role.String()).
		Str("peer", s.info.PeerIdentity).
		Str("remote", s.info.RemoteAddr).
		Msg("session.Run start")

	for {
		f, err := s.readFrame(s.opts.ReadTimeout)
		if err != nil {
			return s.terminate(err)
		}
		last = f
		if err := h.ServeFrame(ctx, s, f); err != nil {
			return s.terminate(err)
		}
	}
}

// ReadFrame reads the next data frame, bounded by ctx's deadline and the read timeout.
// Cancelling ctx interrupts a blocked read and the error then matches ctx.Err(). An
// interrupted read leaves the stream unusable, so the caller should close the session.
func (s *Session) ReadFrame(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	timeout := s.opts.ReadTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); timeout <= 0 || remaining < timeout {
			timeout = remaining
		}
	}
	stop := context.AfterFunc(ctx, func() {
		_ = s.conn.SetReadDeadline(time.Now())
	})
	f, err := s.readFrame(timeout)
	stop()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Frame{}, errors.Join(ctxErr, err)
		}
		return Frame{}, err
	}
	return f, nil
}

func (s *Session) readFrame(timeout time.Duration) (Frame, error) {
	if s.closed.Load() {
		return Frame{}, ErrClosed
	}
	if timeout > 0 {
		_ = s.conn.SetReadDeadline(time.Now().Add(timeout))
	} else {
		_ = s.conn.SetReadDeadline(time.Time{})
	}
	mt, data, err := s.conn.ReadMessage()
	if err != nil {
		return Frame{}, err
	}
	s.framesIn.Add(1)
	return Frame{Type: mt, Data: data}, nil
}

// WriteFrame writes f as one message and flushes it before returning.
func (s *Session) WriteFrame(f Frame) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if f.Type == 0 {
		f.Type = websocket.TextMessage
	}
	if s.opts.WriteTimeout > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
	} else {
		_ = s.conn.SetWriteDeadline(time.Time{})
	}
	w, err := s.conn.NextWriter(f.Type)
	if err != nil {
		return err
	}
	if _, err := w.Write(f.Data); err != nil {
		_ = w.Close()
		return err
	}
	// Close on the message writer pushes the final frame onto the wire.
	if err := w.Close(); err != nil {
		return err
	}
	s.framesOut.Add(1)
	return nil
}

// CloseGracefully sends a close frame with code, waits up to timeout for the peer's
// close reply and then closes the stream.
func (s *Session) CloseGracefully(code int, reason string, timeout time.Duration) error {
	if s.closed.Load() {
		return nil
	}
	if timeout <= 0 {
		timeout = DefaultCloseTimeout
	}
	s.localClosed.Store(true)
	deadline := time.Now().Add(timeout)
	err := s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		_ = s.Close()
		return err
	}
	_ = s.conn.SetReadDeadline(deadline)
	for {
		if _, _, err := s.conn.NextReader(); err != nil {
			break
		}
	}
	// The peer usually drops the transport right after its close reply.
	_ = s.Close()
	return nil
}

// Close releases the stream. Only the first call does any work.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}

func (s *Session) terminate(err error) Termination {
	cause, code := Classify(err)
	if s.localClosed.Load() && cause != CauseGracefulClose {
		cause = CauseEndOfStream
	}
	if errors.Is(err, ErrHandlerPanic) {
		cause = CauseUnexpected
	}
	return Termination{
		Cause:     cause,
		CloseCode: code,
		Err:       err,
		FramesIn:  s.framesIn.Load(),
		FramesOut: s.framesOut.Load(),
		Duration:  time.Since(s.info.StartedAt),
	}
}

func (s *Session) logTermination(t Termination, last Frame) {
	ev := log.Info()
	msg := "session.Run closed by peer"
	switch t.Cause {
	case CauseEndOfStream:
		ev = log.Debug()
		msg = "session.Run end of stream"
	case CauseTimeout:
		msg = "session.Run idle timeout"
	case CauseConnectionLost:
		ev = log.Warn()
		msg = "session.Run connection lost"
	case CausePeerErrorClose:
		ev = log.Warn()
		msg = "session.Run peer closed with error"
	case CauseUnexpected:
		ev = log.Error()
		msg = "session.Run unexpected failure"
	}
	ev = ev.
		Str("session_id", s.info.ID).
		Str("role", s.info.Role.String()).
		Str("peer", s.info.PeerIdentity).
		Str("remote", s.info.RemoteAddr).
		Str("cause", t.Cause.String()).
		Uint64("frames_in", t.FramesIn).
		Uint64("frames_out", t.FramesOut).
		Dur("duration", t.Duration)
	if t.CloseCode != 0 {
		ev = ev.Int("close_code", t.CloseCode)
	}
	if t.Cause.Abnormal() {
		ev = ev.Err(t.Err)
		if last.Data != nil {
			ev = ev.Str("last_frame", preview(last.Data))
		}
	}
	ev.Msg(msg)
}

func preview(b []byte) string {
	if len(b) > lastFramePreview {
		return string(b[:lastFramePreview]) + "..."
	}
	return string(b)
}
