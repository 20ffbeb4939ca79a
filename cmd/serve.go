package cmd

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/BioHazard786/meshcall/internal/config"
	"github.com/BioHazard786/meshcall/internal/logging"
	"github.com/BioHazard786/meshcall/internal/metrics"
	"github.com/BioHazard786/meshcall/internal/server"
	"github.com/BioHazard786/meshcall/internal/signaling"
	"github.com/BioHazard786/meshcall/internal/ui"
)

const shutdownTimeout = 5 * time.Second

var flagPort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the signaling server",
	Long: `Run the signaling server that tracks room membership and relays
session negotiation between participants.

Examples:
  meshcall serve
  meshcall serve --port 8080
  PORT=8080 LOG_LEVEL=info meshcall serve`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().IntVarP(&flagPort, "port", "p", 0, "port to listen on (default $PORT or 5000)")
	rootCmd.AddCommand(serveCmd)
}

func runServer(ctx context.Context) error {
	cfg, err := config.LoadServer(config.ServerOptions{Port: flagPort})
	if err != nil {
		return err
	}

	log := logging.Component("server")
	m := metrics.New()
	hub := signaling.NewHub(*cfg, logging.Component("signaling"), m)

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           server.NewMux(hub, m),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	ui.PrintSuccessf("Signaling server listening on %s", cfg.Addr())
	log.Info("Server started", "addr", cfg.Addr())

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	ui.PrintInfo("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("Graceful shutdown failed", "error", err)
		return srv.Close()
	}
	return nil
}
