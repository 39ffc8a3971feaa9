package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/riverline/pusherkit/internal/observability"
	"github.com/riverline/pusherkit/pkg/pusher"
)

func newListenCmd(v *viper.Viper) *cobra.Command {
	var (
		channels  []string
		encrypted []string
		raw       bool
	)

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Connect, subscribe, and print received events",
		Long: `Connect to the websocket endpoint, subscribe to channels, and print
received events as JSON (one per line).

Events on encrypted channels are decrypted before printing.

Examples:
  pusherkit listen -c orders                       # one public channel
  pusherkit listen -c orders -c presence-lobby     # several channels
  pusherkit listen -e private-encrypted-orders     # encrypted channel
  pusherkit listen -c orders --raw                 # include protocol events`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(cmd, v)
			if err != nil {
				return err
			}
			if len(channels) == 0 && len(encrypted) == 0 {
				return errors.New("at least one --channel or --encrypted is required")
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-sigCh
				cancel()
			}()

			// Metrics and tracing are opt-in.
			var metrics *pusher.Metrics
			if cfg.Observability.MetricsAddr != "" || cfg.Observability.OTLPEndpoint != "" {
				obs, err := observability.New(ctx, observability.ObsConfig{
					LogLevel:       cfg.Observability.LogLevel,
					LogFormat:      cfg.Observability.LogFormat,
					OTLPEndpoint:   cfg.Observability.OTLPEndpoint,
					OTLPProtocol:   cfg.Observability.OTLPProtocol,
					ServiceName:    cfg.Observability.ServiceName,
					ServiceVersion: cfg.Observability.ServiceVersion,
				}, os.Stderr)
				if err != nil {
					return fmt.Errorf("init observability: %w", err)
				}
				defer func() {
					shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
					defer done()
					_ = obs.Close(shutdownCtx)
				}()

				metrics = pusher.NewMetrics(obs.Registry)
				if cfg.Observability.MetricsAddr != "" {
					obs.ServeMetrics(ctx, cfg.Observability.MetricsAddr)
				}
			}

			c, err := newClient(cfg, log, metrics)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			c.BindGlobal(func(ev pusher.Event) {
				if ev.IsSystem() && !raw {
					return
				}
				out := ev
				if pusher.ChannelTypeOf(ev.Channel) == pusher.ChannelPrivateEncrypted {
					plain, err := c.Decrypt(ev.Channel, ev.Data)
					if err != nil {
						log.WithChannel(ev.Channel).WithError(err).Warn("failed to decrypt event")
						return
					}
					out.Data = plain
				}
				_ = enc.Encode(out)
			})
			c.OnConnect(func() {
				log.Info("connected", "socket_id", c.SocketID())
			})
			c.OnDisconnect(func() {
				log.Warn("disconnected")
			})

			if err := c.Connect(ctx); err != nil {
				return fmt.Errorf("connect: %w", err)
			}

			for _, ch := range channels {
				if err := c.Subscribe(ch); err != nil {
					return fmt.Errorf("subscribe %s: %w", ch, err)
				}
			}
			for _, ch := range encrypted {
				if err := c.SubscribeEncrypted(ch); err != nil {
					return fmt.Errorf("subscribe %s: %w", ch, err)
				}
			}
			log.Info("listening", "channels", c.Channels())

			<-ctx.Done()
			return c.Close()
		},
	}

	cmd.Flags().StringSliceVarP(&channels, "channel", "c", nil, "channel to subscribe to (repeatable)")
	cmd.Flags().StringSliceVarP(&encrypted, "encrypted", "e", nil, "encrypted channel to subscribe to (repeatable)")
	cmd.Flags().BoolVar(&raw, "raw", false, "include protocol events in output")

	return cmd
}
