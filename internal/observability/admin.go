package observability

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// AdminConfig wires the plain-HTTP admin surface. Health and Sessions produce the
// JSON bodies of /healthz and /sessions.
type AdminConfig struct {
	Node        string
	CorsOrigins []string
	Health      func() any
	Sessions    func() any
}

func NewAdminRouter(cfg AdminConfig) *gin.Engine {
	RegisterMetrics()
	startedAt := time.Now()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger(ComponentLogger(cfg.Node, "admin")))
	r.Use(RequestMetricsMiddleware(cfg.Node))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(cfg.CorsOrigins),
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	r.GET("/healthz", func(c *gin.Context) {
		body := gin.H{
			"status": "ok",
			"node":   cfg.Node,
			"uptime": time.Since(startedAt).String(),
		}
		if cfg.Health != nil {
			body["stats"] = cfg.Health()
		}
		c.JSON(http.StatusOK, body)
	})
	r.GET("/sessions", func(c *gin.Context) {
		var sessions any = []any{}
		if cfg.Sessions != nil {
			sessions = cfg.Sessions()
		}
		c.JSON(http.StatusOK, gin.H{"sessions": sessions})
	})
	r.GET("/metrics", gin.WrapH(MetricsHandler()))
	return r
}

// ServeAdmin serves handler on addr until ctx is done.
func ServeAdmin(ctx context.Context, addr string, handler http.Handler) error {
	ln, err := net.Listen("tcp", strings.TrimSpace(addr))
	if err != nil {
		return err
	}
	return ServeAdminListener(ctx, ln, handler)
}

func ServeAdminListener(ctx context.Context, ln net.Listener, handler http.Handler) error {
	srv := &http.Server{Handler: handler, ReadHeaderTimeout: 5 * time.Second}
	log.Info().Str("addr", ln.Addr().String()).Msg("observability.ServeAdmin listening")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func normalizeOrigins(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, origin := range origins {
		if origin = strings.TrimSpace(origin); origin != "" {
			out = append(out, origin)
		}
	}
	if len(out) == 0 {
		return []string{"http://localhost:3000"}
	}
	return out
}
