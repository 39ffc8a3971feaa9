// Command pusherkit is a CLI for the Channels client: subscribe to
// channels and print events, or publish events over the REST API.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/riverline/pusherkit/internal/config"
	"github.com/riverline/pusherkit/pkg/logging"
	"github.com/riverline/pusherkit/pkg/pusher"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// A .env file in the working directory is a convenient place for
	// PUSHER_APP_* credentials during development.
	_ = godotenv.Load()

	v := viper.New()

	rootCmd := &cobra.Command{
		Use:   "pusherkit",
		Short: "Channels client",
		Long: `pusherkit - a client for hosted pub/sub channels.

Receive commands:
  pusherkit listen          Connect, subscribe, and print events

Publish commands:
  pusherkit trigger         Publish a single event
  pusherkit trigger-batch   Publish a batch of events

Credentials come from flags, PUSHER_APP_* environment variables, or a
config file (pusherkit.yaml).`,
	}

	config.BindCommonFlags(rootCmd, v)

	rootCmd.AddCommand(newListenCmd(v))
	rootCmd.AddCommand(newTriggerCmd(v))
	rootCmd.AddCommand(newTriggerBatchCmd(v))
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd.ExecuteContext(context.Background())
}

// loadConfig merges flags, env, and file config, and sets up logging.
func loadConfig(cmd *cobra.Command, v *viper.Viper) (config.Config, *logging.Logger, error) {
	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(v, configFile)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}

	format := cfg.Observability.LogFormat
	if format == "auto" {
		if isatty.IsTerminal(os.Stderr.Fd()) {
			format = "text"
		} else {
			format = "json"
		}
	}
	log := logging.SetupWriter(cfg.Observability.LogLevel, format, os.Stderr)

	return cfg, log, nil
}

// newClient builds a pusher.Client from the merged config.
func newClient(cfg config.Config, log *logging.Logger, metrics *pusher.Metrics) (*pusher.Client, error) {
	opts := []pusher.Option{
		pusher.WithLogger(log),
		pusher.WithReconnectPolicy(cfg.ReconnectPolicy()),
	}
	if cfg.Client.ActivityTimeout > 0 {
		opts = append(opts, pusher.WithActivityTimeout(cfg.Client.ActivityTimeout))
	}
	if cfg.Client.PongTimeout > 0 {
		opts = append(opts, pusher.WithPongTimeout(cfg.Client.PongTimeout))
	}
	if metrics != nil {
		opts = append(opts, pusher.WithMetrics(metrics))
	}
	return pusher.New(cfg.PusherConfig(), opts...)
}
