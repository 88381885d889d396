// Command persistd serves tenant-scoped key/value and collection stores over
// HTTP with server-sent update events.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"simplepersist/internal/config"
)

var (
	version  = "dev"
	exitFunc = os.Exit
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		exitFunc(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "persistd",
		Short:        "persistd - self-hosted persistence with live updates",
		SilenceUsage: true,
	}
	cmd.AddCommand(newServeCommand(), newVersionCommand())
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the persistd version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), "persistd", version)
			return err
		},
	}
}

func newServeCommand() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the configured stores",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to the YAML config file")
	return cmd
}

const shutdownTimeout = 10 * time.Second

// serve runs the HTTP server until ctx is cancelled.
func serve(ctx context.Context, cfg config.Config) error {
	logger := cfg.Log.NewLogger(os.Stderr)
	app, err := build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	// cancelled before Shutdown so open event streams return
	streams, cancelStreams := context.WithCancel(context.Background())
	defer cancelStreams()
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           app.Handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return streams },
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Listen, "driver", cfg.Storage.Driver, "stores", len(cfg.Stores))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	cancelStreams()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
