package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/faceless-tools/faceless/internal/config"
	"github.com/faceless-tools/faceless/internal/logging"
	"github.com/faceless-tools/faceless/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web server",
	Long: `Start the Faceless web server.
The web server provides a browser-based interface for selecting files,
running anonymization, and downloading the results.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
}

// resolveServeHostPort resolves port and host from flags and environment variables.
func resolveServeHostPort(cmd *cobra.Command) (int, string) {
	port := mustGetInt(cmd, "port")
	host := mustGetString(cmd, "host")

	if envPort := os.Getenv("WEB_PORT"); envPort != "" {
		fmt.Sscanf(envPort, "%d", &port)
	}
	if envHost := os.Getenv("WEB_HOST"); envHost != "" {
		host = envHost
	}
	return port, host
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	cfg.Anonymizer.URL = serviceURL(cfg)
	cfg.Web.Port, cfg.Web.Host = resolveServeHostPort(cmd)

	logger, err := logging.New()
	if err != nil {
		return fmt.Errorf("could not create logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck // stderr sync failure is harmless on shutdown

	server, err := web.NewServer(cfg, logger)
	if err != nil {
		return fmt.Errorf("could not create server: %w", err)
	}

	// Prime the quota display; the service may still be starting up, so a
	// failure only logs a warning.
	startupCtx, startupCancel := context.WithTimeout(context.Background(), 10*time.Second)
	server.RefreshQuota(startupCtx)
	startupCancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			fmt.Printf("Error during shutdown: %v\n", err)
		}
	}()

	fmt.Printf("Starting Faceless Web UI on http://%s:%d\n", cfg.Web.Host, cfg.Web.Port)
	fmt.Println("Press Ctrl+C to stop")

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}
