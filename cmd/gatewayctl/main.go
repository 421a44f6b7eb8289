package main

import (
	"context"
	"fmt"
	"os"
	"runtime"

	"github.com/danmuck/agentlink/internal/envelope"
	"github.com/danmuck/agentlink/internal/gateway"
	"github.com/danmuck/agentlink/internal/logging"
	"github.com/danmuck/agentlink/internal/session"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:           "gatewayctl",
		Short:         "Run the mTLS WebSocket gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(serveCmd(), versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "gatewayctl: %v\n", err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	var configPath string
	var listenAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Accept agent sessions until SIGINT or SIGTERM",
		RunE: func(cmd *cobra.Command, args []string) error {
			logging.ConfigureRuntime()
			rc, err := loadRuntimeConfig(configPath)
			if err != nil {
				return err
			}
			if listenAddr != "" {
				rc.Service.ListenAddr = listenAddr
			}
			svc := gateway.NewServiceWithConfig(rc.Service)
			svc.SetHandler(buildRouter(rc.Routes))
			log.Info().
				Str("node", rc.Service.NodeID).
				Str("config", configPath).
				Int("routes", len(rc.Routes)).
				Msg("gatewayctl serve starting")
			return svc.Run()
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "cmd/gatewayctl/config.toml", "gateway config path")
	cmd.Flags().StringVar(&listenAddr, "listen", "", "override listen_addr")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("gatewayctl %s (%s %s/%s)\n", version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
		},
	}
}

// buildRouter answers each configured tipo with a correlated reply and echoes
// everything else.
func buildRouter(routes map[string]string) *session.Router {
	router := session.NewRouter()
	for tipo, reply := range routes {
		router.HandleFunc(tipo, func(_ context.Context, s *session.Session, env envelope.Envelope) error {
			return s.SendEnvelope(envelope.Reply(env, reply))
		})
	}
	return router
}
