package gateway

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"

	"github.com/danmuck/agentlink/internal/auth"
	"github.com/danmuck/agentlink/internal/observability"
	"github.com/danmuck/agentlink/internal/security"
	"github.com/danmuck/agentlink/internal/session"
	"github.com/danmuck/agentlink/internal/upgrade"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/danmuck/agentlink/internal/gateway"

// Gateway counters since construction.
type Stats struct {
	Accepted          uint64 `json:"accepted"`
	HandshakeFailures uint64 `json:"handshake_failures"`
	Rejected          uint64 `json:"rejected"`
	UpgradeFailures   uint64 `json:"upgrade_failures"`
	Promoted          uint64 `json:"promoted"`
	Terminated        uint64 `json:"terminated"`
	Abnormal          uint64 `json:"abnormal"`
	Active            int64  `json:"active"`
}

type counters struct {
	accepted          atomic.Uint64
	handshakeFailures atomic.Uint64
	rejected          atomic.Uint64
	upgradeFailures   atomic.Uint64
	promoted          atomic.Uint64
	terminated        atomic.Uint64
	abnormal          atomic.Uint64
	active            atomic.Int64
}

// Gateway runtime: mTLS listener, upgrade handler and session supervision.
type Service struct {
	cfg      ServiceConfig
	handler  session.Handler
	registry *Registry
	tracer   trace.Tracer
	stats    counters

	onTerminate func(session.Info, session.Termination)
}

func NewService() *Service {
	return NewServiceWithConfig(DefaultServiceConfig())
}

func NewServiceWithConfig(cfg ServiceConfig) *Service {
	return &Service{
		cfg:      cfg.WithDefaults(),
		handler:  session.Echo,
		registry: NewRegistry(),
		tracer:   otel.Tracer(tracerName),
	}
}

// SetHandler replaces the per-frame handler. Call before Serve.
func (s *Service) SetHandler(h session.Handler) {
	if h == nil {
		h = session.Echo
	}
	s.handler = h
}

// OnTerminate registers a callback run after each session ends. Call before Serve.
func (s *Service) OnTerminate(fn func(session.Info, session.Termination)) {
	s.onTerminate = fn
}

func (s *Service) Config() ServiceConfig {
	return s.cfg
}

func (s *Service) Registry() *Registry {
	return s.registry
}

func (s *Service) Stats() Stats {
	return Stats{
		Accepted:          s.stats.accepted.Load(),
		HandshakeFailures: s.stats.handshakeFailures.Load(),
		Rejected:          s.stats.rejected.Load(),
		UpgradeFailures:   s.stats.upgradeFailures.Load(),
		Promoted:          s.stats.promoted.Load(),
		Terminated:        s.stats.terminated.Load(),
		Abnormal:          s.stats.abnormal.Load(),
		Active:            s.stats.active.Load(),
	}
}

// Run blocks until SIGINT or SIGTERM.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.RunContext(ctx)
}

func (s *Service) RunContext(ctx context.Context) error {
	if err := s.cfg.Validate(); err != nil {
		return err
	}
	if _, err := s.cfg.Security.ServerTLS(); err != nil {
		return err
	}

	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return err
	}
	log.Info().Str("node", s.cfg.NodeID).Str("addr", ln.Addr().String()).Str("path", s.cfg.Path).Msg("gateway.Service.Run listening")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	adminErr := make(chan error, 1)
	if addr := strings.TrimSpace(s.cfg.AdminListenAddr); addr != "" {
		go func() {
			adminErr <- observability.ServeAdmin(ctx, addr, s.AdminHandler())
		}()
	}
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.Serve(ctx, ln)
	}()
	select {
	case err := <-serveErr:
		return err
	case err := <-adminErr:
		if err == nil {
			return <-serveErr
		}
		// The gateway listener must not outlive a failed admin surface.
		cancel()
		<-serveErr
		return err
	}
}

// AdminHandler serves /healthz, /sessions and /metrics for this gateway.
func (s *Service) AdminHandler() http.Handler {
	return observability.NewAdminRouter(observability.AdminConfig{
		Node:        s.cfg.NodeID,
		CorsOrigins: s.cfg.CorsOrigins,
		Health:      func() any { return s.Stats() },
		Sessions:    func() any { return s.registry.Snapshot() },
	})
}

// Serve accepts raw connections on ln until ctx is done. Each connection completes
// the mTLS handshake on its own goroutine; only verified streams reach the upgrade
// handler. Promoted sessions are left running when Serve returns.
func (s *Service) Serve(ctx context.Context, ln net.Listener) error {
	if err := s.cfg.Validate(); err != nil {
		_ = ln.Close()
		return err
	}
	tlsCfg, err := s.cfg.Security.ServerTLS()
	if err != nil {
		_ = ln.Close()
		return err
	}

	verified := newVerifiedListener(ln.Addr())
	mux := http.NewServeMux()
	upCfg := upgrade.Config{
		Session:          s.cfg.Session,
		HandshakeTimeout: s.cfg.Security.HandshakeTimeout,
	}
	if allow := auth.NewAllowlist(s.cfg.AllowedPeers...); allow.Len() > 0 {
		upCfg.Authorizer = allow
	}
	mux.Handle(s.cfg.Path, upgrade.NewHandler(upCfg, s.runSession, s.recordOutcome))
	httpSrv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: s.cfg.Security.HandshakeTimeout,
	}
	httpDone := make(chan error, 1)
	go func() {
		httpDone <- httpSrv.Serve(verified)
	}()

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	var acceptErr error
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
				acceptErr = err
			}
			break
		}
		s.stats.accepted.Add(1)
		go s.secure(ctx, conn, tlsCfg, verified)
	}
	_ = ln.Close()

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("gateway.Service.Serve http shutdown")
	}
	_ = verified.Close()
	if err := <-httpDone; err != nil && !errors.Is(err, http.ErrServerClosed) && acceptErr == nil {
		acceptErr = err
	}
	log.Info().Str("node", s.cfg.NodeID).Int("live_sessions", s.registry.Len()).Msg("gateway.Service.Serve stopped")
	return acceptErr
}

// secure runs the server handshake for one accepted connection.
func (s *Service) secure(ctx context.Context, raw net.Conn, cfg *tls.Config, out *verifiedListener) {
	remote := raw.RemoteAddr().String()
	conn := tls.Server(raw, cfg)
	state, err := security.Handshake(ctx, conn, s.cfg.Security.HandshakeTimeout)
	if err != nil {
		s.stats.handshakeFailures.Add(1)
		observability.RecordHandshakeFailure(s.cfg.NodeID, "server")
		log.Warn().Str("remote", remote).Err(err).Msg("gateway.Service.secure handshake rejected")
		_ = raw.Close()
		return
	}
	log.Debug().
		Str("remote", remote).
		Str("peer", security.PeerIdentityFromState(&state)).
		Uint16("tls_version", state.Version).
		Msg("gateway.Service.secure verified")
	if !out.push(conn) {
		_ = conn.Close()
	}
}

func (s *Service) recordOutcome(out upgrade.Outcome) {
	switch out.State {
	case upgrade.StateRejected:
		s.stats.rejected.Add(1)
	case upgrade.StateFailed:
		s.stats.upgradeFailures.Add(1)
	case upgrade.StatePromoted:
		s.stats.promoted.Add(1)
	}
	observability.RecordUpgradeOutcome(s.cfg.NodeID, string(out.State), out.Status)
}

// runSession supervises one promoted session for its whole lifetime.
func (s *Service) runSession(ctx context.Context, sess *session.Session) {
	info := sess.Info()
	ctx, span := s.tracer.Start(ctx, "gateway.session",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("session.id", info.ID),
			attribute.String("peer.identity", info.PeerIdentity),
			attribute.String("agent.id", info.AgentID),
			attribute.String("net.peer.addr", info.RemoteAddr),
		),
	)
	defer span.End()

	s.registry.add(sess)
	s.stats.active.Add(1)
	observability.RecordSessionStart(s.cfg.NodeID)

	term := sess.Run(ctx, s.handler)

	s.registry.remove(info.ID)
	s.stats.active.Add(-1)
	s.stats.terminated.Add(1)
	if term.Cause.Abnormal() {
		s.stats.abnormal.Add(1)
		span.RecordError(term.Err)
		span.SetStatus(codes.Error, term.Cause.String())
	}
	span.SetAttributes(
		attribute.String("session.cause", term.Cause.String()),
		attribute.Int64("session.frames_in", int64(term.FramesIn)),
		attribute.Int64("session.frames_out", int64(term.FramesOut)),
	)
	observability.RecordSessionEnd(s.cfg.NodeID, term.Cause.String(), term.FramesIn, term.FramesOut, term.Duration)
	if s.onTerminate != nil {
		s.onTerminate(info, term)
	}
}
