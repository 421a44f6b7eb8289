package session

import (
	"context"
	"fmt"

	"github.com/danmuck/agentlink/internal/envelope"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Handler processes one inbound frame. Any reply must be written through s before
// returning so replies stay in arrival order. A non-nil error ends the session.
type Handler interface {
	ServeFrame(ctx context.Context, s *Session, f Frame) error
}

type HandlerFunc func(ctx context.Context, s *Session, f Frame) error

func (fn HandlerFunc) ServeFrame(ctx context.Context, s *Session, f Frame) error {
	return fn(ctx, s, f)
}

// Echo writes every frame back unchanged, same payload and same frame type.
var Echo Handler = HandlerFunc(func(_ context.Context, s *Session, f Frame) error {
	return s.WriteFrame(f)
})

// EnvelopeHandler processes one frame that decoded into an envelope.
type EnvelopeHandler interface {
	ServeEnvelope(ctx context.Context, s *Session, env envelope.Envelope) error
}

type EnvelopeHandlerFunc func(ctx context.Context, s *Session, env envelope.Envelope) error

func (fn EnvelopeHandlerFunc) ServeEnvelope(ctx context.Context, s *Session, env envelope.Envelope) error {
	return fn(ctx, s, env)
}

// Router dispatches envelope frames by tipo. Frames that do not decode, or whose
// tipo has no route, go to the fallback, which defaults to Echo.
// Routes must be registered before the router serves its first frame.
type Router struct {
	routes   map[string]EnvelopeHandler
	fallback Handler
}

func NewRouter() *Router {
	return &Router{routes: make(map[string]EnvelopeHandler), fallback: Echo}
}

func (r *Router) Handle(tipo string, h EnvelopeHandler) {
	r.routes[tipo] = h
}

func (r *Router) HandleFunc(tipo string, fn func(ctx context.Context, s *Session, env envelope.Envelope) error) {
	r.Handle(tipo, EnvelopeHandlerFunc(fn))
}

func (r *Router) Fallback(h Handler) {
	if h == nil {
		h = Echo
	}
	r.fallback = h
}

func (r *Router) Routes() []string {
	out := make([]string, 0, len(r.routes))
	for tipo := range r.routes {
		out = append(out, tipo)
	}
	return out
}

func (r *Router) ServeFrame(ctx context.Context, s *Session, f Frame) error {
	env, err := DecodeEnvelope(f)
	if err != nil {
		log.Debug().Str("session_id", s.ID()).Err(err).Msg("router: frame is not an envelope")
		return r.fallback.ServeFrame(ctx, s, f)
	}
	h, ok := r.routes[env.Tipo()]
	if !ok {
		return r.fallback.ServeFrame(ctx, s, f)
	}
	return h.ServeEnvelope(ctx, s, env)
}

// DecodeEnvelope parses a text frame as JSON and a binary frame as msgpack.
func DecodeEnvelope(f Frame) (envelope.Envelope, error) {
	switch f.Type {
	case websocket.TextMessage:
		return envelope.Parse(f.Data)
	case websocket.BinaryMessage:
		return envelope.ParseBinary(f.Data)
	default:
		return nil, fmt.Errorf("session: frame type %d carries no envelope", f.Type)
	}
}

// SendEnvelope encodes env as JSON text and writes it as one frame.
func (s *Session) SendEnvelope(env envelope.Envelope) error {
	data, err := envelope.Encode(env)
	if err != nil {
		return err
	}
	return s.WriteFrame(Frame{Type: websocket.TextMessage, Data: data})
}

// SendEnvelopeBinary encodes env as msgpack and writes it as one binary frame.
func (s *Session) SendEnvelopeBinary(env envelope.Envelope) error {
	data, err := envelope.EncodeBinary(env)
	if err != nil {
		return err
	}
	return s.WriteFrame(Frame{Type: websocket.BinaryMessage, Data: data})
}

// ReadEnvelope reads the next frame and decodes it by frame type.
func (s *Session) ReadEnvelope(ctx context.Context) (envelope.Envelope, error) {
	f, err := s.ReadFrame(ctx)
	if err != nil {
		return nil, err
	}
	return DecodeEnvelope(f)
}
