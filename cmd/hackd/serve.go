package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hack-dance/hackd/internal/daemon"
	"github.com/hack-dance/hackd/pkg/log"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the hackd control-plane daemon in the foreground",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := log.WithComponent("daemon")

		d, err := daemon.Boot(logger, Version)
		if err != nil {
			return fmt.Errorf("boot daemon: %w", err)
		}
		if err := d.WritePidFile(); err != nil {
			logger.Warn().Err(err).Msg("failed to write pid file")
		}

		logger.Info().Str("socket", d.Paths().Socket).Msg("hackd listening")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh

		logger.Info().Msg("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return d.Shutdown(ctx)
	},
}
