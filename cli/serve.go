package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"microagent/core"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Start an HTTP server that runs objectives on request.

Each run has its own memory. Confirmations and ask_user questions are answered
through POST /runs/:id/input; progress is available at GET /runs/:id or as a
server-sent event stream from POST /runs/stream.`,
	Args: cobra.NoArgs,
	RunE: serve,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("port", "", "port to listen on (default PORT or 8080)")
}

func serve(cmd *cobra.Command, args []string) error {
	config, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if port, _ := cmd.Flags().GetString("port"); port != "" {
		config.Port = port
	}

	logger := core.InitializeLogger(config, os.Stdout)
	logger.Info("Starting MicroAgent server")

	metrics := core.NewMetrics()
	runtime, err := newRuntime(context.Background(), config, logger, metrics)
	if err != nil {
		logger.WithError(err).Error("Failed to create runtime")
		return err
	}
	defer runtime.Close()

	server := core.NewServer(runtime)
	defer server.Close()

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	server.RegisterRoutes(e)

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("port", config.Port).Info("Starting server")
		if err := e.Start(fmt.Sprintf(":%s", config.Port)); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		logger.WithError(err).Error("Failed to start server")
		return err
	}

	logger.Info("Shutting down server...")

	// Give in-flight requests 30 seconds to finish
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := e.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Failed to gracefully shutdown server")
		return err
	}
	logger.Info("Server shutdown complete")
	return nil
}
