// Package upgrade promotes verified HTTP requests to WebSocket sessions.
package upgrade

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/danmuck/agentlink/internal/auth"
	"github.com/danmuck/agentlink/internal/security"
	"github.com/danmuck/agentlink/internal/session"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var ErrProtocolUpgrade = errors.New("upgrade: protocol upgrade failed")
var ErrNotUpgradeRequest = errors.New("upgrade: request does not ask for a websocket upgrade")

// ProtocolUpgradeError reports a request that did not qualify for promotion or failed
// during it. Status is the HTTP status returned to the peer.
type ProtocolUpgradeError struct {
	Status int
	Err    error
}

func (e *ProtocolUpgradeError) Error() string {
	return fmt.Sprintf("upgrade: status=%d: %v", e.Status, e.Err)
}

func (e *ProtocolUpgradeError) Unwrap() []error {
	return []error{ErrProtocolUpgrade, e.Err}
}

// Decision is the result of classifying an inbound request.
type Decision uint8

const (
	DecisionReject Decision = iota
	DecisionUpgrade
)

func (d Decision) String() string {
	if d == DecisionUpgrade {
		return "upgrade"
	}
	return "reject"
}

// Classify reports whether r asks for a WebSocket upgrade via the Connection and
// Upgrade header tokens.
func Classify(r *http.Request) Decision {
	if websocket.IsWebSocketUpgrade(r) {
		return DecisionUpgrade
	}
	return DecisionReject
}

type State string

const (
	StateRejected State = "rejected"
	StateFailed   State = "failed"
	StatePromoted State = "promoted"
)

// Outcome is reported once per request that reaches the handler.
type Outcome struct {
	State      State
	Status     int
	Peer       string
	RemoteAddr string
	Err        error
}

type Config struct {
	Session          session.Options
	HandshakeTimeout time.Duration
	ReadBufferSize   int
	WriteBufferSize  int
	// CheckOrigin defaults to accepting every origin; peers are already
	// authenticated by their client certificate.
	CheckOrigin func(*http.Request) bool
	// Authorizer, when set, is consulted with the certificate identity before
	// promotion. Peers without one, or refused by it, get 403. The path agent id
	// never counts as an identity here.
	Authorizer auth.Authorizer
}

// Handler is the http.Handler that sits behind the mTLS listener.
type Handler struct {
	cfg      Config
	upgrader websocket.Upgrader
	promote  func(context.Context, *session.Session)
	outcome  func(Outcome)
}

// NewHandler builds a handler. promote runs each new session and may block for its
// lifetime; it is always started on its own goroutine. A nil promote runs Echo.
func NewHandler(cfg Config, promote func(context.Context, *session.Session), outcome func(Outcome)) *Handler {
	checkOrigin := cfg.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	if promote == nil {
		promote = func(ctx context.Context, s *session.Session) { s.Run(ctx, session.Echo) }
	}
	if outcome == nil {
		outcome = func(Outcome) {}
	}
	return &Handler{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: cfg.HandshakeTimeout,
			ReadBufferSize:   cfg.ReadBufferSize,
			WriteBufferSize:  cfg.WriteBufferSize,
			CheckOrigin:      checkOrigin,
		},
		promote: promote,
		outcome: outcome,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if _, err := h.Serve(w, r); err != nil {
		log.Debug().Str("remote", r.RemoteAddr).Str("path", r.URL.Path).Err(err).Msg("upgrade.Handler.ServeHTTP not promoted")
	}
}

// Serve classifies r, detaches the stream and promotes it. On success the session has
// already been handed to promote.
func (h *Handler) Serve(w http.ResponseWriter, r *http.Request) (*session.Session, error) {
	peer, agentID := ResolvePeer(r)

	if Classify(r) != DecisionUpgrade {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		err := &ProtocolUpgradeError{Status: http.StatusNotFound, Err: ErrNotUpgradeRequest}
		h.outcome(Outcome{State: StateRejected, Status: http.StatusNotFound, Peer: peer, RemoteAddr: r.RemoteAddr, Err: err})
		return nil, err
	}

	if h.cfg.Authorizer != nil {
		if err := authorize(h.cfg.Authorizer, r); err != nil {
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
			perr := &ProtocolUpgradeError{Status: http.StatusForbidden, Err: err}
			log.Warn().Str("peer", peer).Str("remote", r.RemoteAddr).Err(err).Msg("upgrade.Handler.Serve peer not authorized")
			h.outcome(Outcome{State: StateRejected, Status: http.StatusForbidden, Peer: peer, RemoteAddr: r.RemoteAddr, Err: perr})
			return nil, perr
		}
	}

	dw := NewDetachable(w)
	status := 0
	up := h.upgrader
	up.Error = func(w http.ResponseWriter, _ *http.Request, code int, reason error) {
		status = code
		http.Error(w, http.StatusText(code), code)
	}
	conn, err := up.Upgrade(dw, r, nil)
	if err != nil {
		cause := err
		if detachErr := dw.DetachErr(); detachErr != nil {
			cause = detachErr
		}
		if status == 0 {
			status = http.StatusInternalServerError
		}
		perr := &ProtocolUpgradeError{Status: status, Err: cause}
		log.Warn().Str("peer", peer).Str("remote", r.RemoteAddr).Int("status", status).Err(cause).Msg("upgrade.Handler.Serve promotion failed")
		h.outcome(Outcome{State: StateFailed, Status: status, Peer: peer, RemoteAddr: r.RemoteAddr, Err: perr})
		return nil, perr
	}

	sess := session.New(conn, session.Info{
		ID:           uuid.NewString(),
		Role:         session.RoleServer,
		PeerIdentity: peer,
		AgentID:      agentID,
		RemoteAddr:   r.RemoteAddr,
		Path:         r.URL.Path,
	}, h.cfg.Session)
	log.Info().
		Str("session_id", sess.ID()).
		Str("peer", peer).
		Str("agent_id", agentID).
		Str("remote", r.RemoteAddr).
		Msg("upgrade.Handler.Serve promoted")
	h.outcome(Outcome{State: StatePromoted, Status: http.StatusSwitchingProtocols, Peer: peer, RemoteAddr: r.RemoteAddr})

	// The session outlives the request; only the request's values carry over.
	go h.promote(context.WithoutCancel(r.Context()), sess)
	return sess, nil
}

// authorize checks the verified certificate identity only.
func authorize(a auth.Authorizer, r *http.Request) error {
	id := security.PeerIdentityFromState(r.TLS)
	if id == "" {
		return fmt.Errorf("%w: no certificate identity", auth.ErrUnauthorized)
	}
	return a.Authorize(id)
}

// ResolvePeer picks the peer identity for r: the verified certificate identity, then
// the agent id from a /ws/{agent_id} path, then the remote address. The second result
// is the path agent id, empty when absent.
func ResolvePeer(r *http.Request) (string, string) {
	agentID := AgentIDFromPath(r.URL.Path)
	if id := security.PeerIdentityFromState(r.TLS); id != "" {
		if agentID != "" && agentID != id {
			log.Debug().Str("cert_identity", id).Str("agent_id", agentID).Msg("upgrade.ResolvePeer path agent differs from certificate")
		}
		return id, agentID
	}
	if agentID != "" {
		return agentID, agentID
	}
	return r.RemoteAddr, ""
}

func AgentIDFromPath(path string) string {
	rest, ok := strings.CutPrefix(path, "/ws/")
	if !ok {
		return ""
	}
	rest = strings.TrimSuffix(rest, "/")
	if rest == "" || strings.Contains(rest, "/") {
		return ""
	}
	return rest
}
