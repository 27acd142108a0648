// Gray Logic Gateway - Matter commissioning gateway
//
// This is the main entry point for the gateway daemon and its maintenance
// commands. The gateway brings up the Thread, Zigbee and Matter subsystems,
// commissions and pairs Matter devices on request, and reports progress over
// REST, WebSocket and MQTT.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	_ "github.com/nerrad567/gray-logic-gateway/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// rootOptions holds flags shared by every command.
type rootOptions struct {
	ConfigPath string
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCommand builds the command tree. Running the binary without a
// subcommand starts the gateway.
func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "graylogic-gateway",
		Short:         "Gray Logic Matter commissioning gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts.configPath())
		},
	}
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "",
		"configuration file (default $GRAYLOGIC_CONFIG or "+defaultConfigPath+")")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newMigrateCommand(opts))
	cmd.AddCommand(newPayloadCommand())
	cmd.AddCommand(newTokenCommand(opts))
	cmd.AddCommand(newVersionCommand())
	return cmd
}

// configPath returns the --config flag, then GRAYLOGIC_CONFIG, then the
// default.
func (o *rootOptions) configPath() string {
	if o.ConfigPath != "" {
		return o.ConfigPath
	}
	if path := os.Getenv("GRAYLOGIC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
