package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"deskshare/internal/deskshare"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := serveCmd()
	rootCmd.AddCommand(
		probeCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "deskshare",
		Short: "Desktop sharing block-stream server",
		Long: `deskshare accepts screen capture streams from presenters over the
block-stream protocol, keeps the current screen of every room and relays
it to WebSocket viewers.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := deskshare.LoadConfig(configPath)
			if err != nil {
				return err
			}
			deskshare.InitLogger(config)

			server := deskshare.NewServer(config)
			if err := server.Start(); err != nil {
				slog.Error("Failed to start server", "err", err)
				return err
			}

			slog.Info("Deskshare server started", "presenterPort", config.BlockStream.Port, "httpPort", config.HTTP.Port)

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

			sig := <-sigChan
			slog.Info("Received signal, shutting down server", "signal", sig)

			server.Stop()
			slog.Info("Server shutdown complete")
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", deskshare.DefaultConfigPath, "Path to the YAML config file")

	return cmd
}
