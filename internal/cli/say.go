package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/soyeahso/parley/internal/config"
	"github.com/soyeahso/parley/internal/gateway"
	"github.com/spf13/cobra"
)

func newSayCmd() *cobra.Command {
	var (
		host string
		port int
	)

	cmd := &cobra.Command{
		Use:   "say [message]",
		Short: "Post a user message to a running conversation",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")

			cfg, err := config.Load(paths.Config)
			if err != nil {
				cfg = config.Defaults()
			}
			if port != 0 {
				cfg.Gateway.Port = port
			}

			rc, err := dialGateway(cmd.Context(), host, cfg)
			if err != nil {
				return err
			}
			defer rc.Close()

			var result struct {
				Sequence int64 `json:"sequence"`
			}
			if err := rc.Call("conversation.send", map[string]any{"text": text}, &result); err != nil {
				return err
			}

			fmt.Printf("Posted as message %d\n", result.Sequence)
			return nil
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "gateway host")
	cmd.Flags().IntVar(&port, "port", 0, "gateway port (default from config)")

	return cmd
}

// dialGateway connects to the local daemon using the configured auth token.
func dialGateway(ctx context.Context, host string, cfg config.Config) (*gateway.RemoteClient, error) {
	auth := gateway.ResolveAuth(cfg.Gateway.Auth)
	addr := fmt.Sprintf("%s:%d", host, cfg.Gateway.Port)

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	rc, err := gateway.Dial(ctx, addr, auth.Token, "parley-cli")
	if err != nil {
		return nil, fmt.Errorf("is a parley daemon running with the gateway enabled? %w", err)
	}
	return rc, nil
}
