package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jpequegn/iceberg-lakehouse/server"
	"github.com/jpequegn/iceberg-lakehouse/tracing"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the warehouse over HTTP",
	Long: `Starts an HTTP server exposing the warehouse: table management, SQL
queries, mutations, snapshots, and file conversion under /api/v1, plus
/healthz and Prometheus metrics at /metrics.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("listen", ":8080", "listen address")
	serveCmd.Flags().String("otel-exporter", "none", "trace exporter: none, stdout, otlp")
	serveCmd.Flags().String("otel-endpoint", "", "OTLP endpoint override")
	serveCmd.Flags().Float64("otel-sample-ratio", 1.0, "trace sample ratio (0.0-1.0)")

	mustBindPFlag("listen", serveCmd.Flags().Lookup("listen"))
	mustBindPFlag("otel_exporter", serveCmd.Flags().Lookup("otel-exporter"))
}

func runServe(cmd *cobra.Command, args []string) error {
	addr := viper.GetString("listen")
	exporter := viper.GetString("otel_exporter")
	endpoint, _ := cmd.Flags().GetString("otel-endpoint")
	sampleRatio, _ := cmd.Flags().GetFloat64("otel-sample-ratio")

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	_, shutdownTracing, err := tracing.Setup(ctx, tracing.Config{
		Exporter:       exporter,
		Endpoint:       endpoint,
		SampleRatio:    sampleRatio,
		ServiceVersion: Version,
	}, slog.Default())
	if err != nil {
		return err
	}
	defer shutdownTracing()

	lh, err := openLakehouse(ctx)
	if err != nil {
		return err
	}

	srv := server.New(lh, slog.Default()).HTTPServer(addr)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", addr, "warehouse", lh.Warehouse())
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
