package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"time"

	"github.com/danmuck/agentlink/internal/connector"
	"github.com/danmuck/agentlink/internal/envelope"
	"github.com/danmuck/agentlink/internal/logging"
	"github.com/danmuck/agentlink/internal/session"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:           "agentctl",
		Short:         "Dial an agentlink gateway over mTLS",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(sendCmd(), versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "agentctl: %v\n", err)
		os.Exit(1)
	}
}

type sendOptions struct {
	configPath string
	address    string
	message    string
	tipo       string
	destino    string
	binary     bool
	timeout    time.Duration
}

func sendCmd() *cobra.Command {
	var opts sendOptions

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send one message and print the gateway's reply",
		RunE: func(cmd *cobra.Command, args []string) error {
			logging.ConfigureRuntime()
			cfg, err := loadConnectorConfig(opts.configPath)
			if err != nil {
				return err
			}
			if opts.address != "" {
				cfg.Address = opts.address
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()
			return send(ctx, cfg, opts, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "cmd/agentctl/config.toml", "agent config path")
	cmd.Flags().StringVar(&opts.address, "address", "", "override gateway address")
	cmd.Flags().StringVarP(&opts.message, "message", "m", "hello", "text to send")
	cmd.Flags().StringVar(&opts.tipo, "tipo", "", "wrap the message in an envelope of this tipo")
	cmd.Flags().StringVar(&opts.destino, "destino", "gateway", "envelope destino")
	cmd.Flags().BoolVar(&opts.binary, "binary", false, "send the envelope as msgpack")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 10*time.Second, "overall exchange timeout")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("agentctl %s (%s %s/%s)\n", version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
		},
	}
}

func send(ctx context.Context, cfg connector.Config, opts sendOptions, out io.Writer) error {
	conn, err := connector.New(cfg)
	if err != nil {
		return err
	}
	frame, err := outboundFrame(conn.Config().AgentID, opts)
	if err != nil {
		return err
	}

	return conn.Run(ctx, func(ctx context.Context, sess *session.Session) error {
		log.Debug().
			Str("session", sess.ID()).
			Str("peer", sess.Info().PeerIdentity).
			Msg("agentctl.send connected")
		reply, err := connector.RoundTrip(ctx, sess, frame)
		if err != nil {
			return fmt.Errorf("exchange: %w", err)
		}
		if err := printReply(out, opts.tipo != "", reply); err != nil {
			return err
		}
		return sess.CloseGracefully(websocket.CloseNormalClosure, "done", session.DefaultCloseTimeout)
	})
}

func outboundFrame(agentID string, opts sendOptions) (session.Frame, error) {
	if opts.tipo == "" {
		return session.TextFrame(opts.message), nil
	}
	origen := agentID
	if origen == "" {
		origen = "agentctl"
	}
	env := envelope.Build(opts.tipo, origen, opts.destino,
		envelope.WithDatos(map[string]any{"mensaje": opts.message}))
	if opts.binary {
		data, err := envelope.EncodeBinary(env)
		if err != nil {
			return session.Frame{}, err
		}
		return session.BinaryFrame(data), nil
	}
	data, err := envelope.Encode(env)
	if err != nil {
		return session.Frame{}, err
	}
	return session.TextFrame(string(data)), nil
}

func printReply(out io.Writer, asEnvelope bool, reply session.Frame) error {
	if !asEnvelope {
		_, err := fmt.Fprintln(out, string(reply.Data))
		return err
	}
	env, err := session.DecodeEnvelope(reply)
	if err != nil {
		return fmt.Errorf("decode reply: %w", err)
	}
	data, err := envelope.Encode(env)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, string(data))
	return err
}
