package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ent0n29/cadence/internal/app"
	"github.com/ent0n29/cadence/internal/config"
	"github.com/ent0n29/cadence/internal/observability"
	"github.com/ent0n29/cadence/internal/pipeline"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:           "cadence",
		Short:         "Real-time conversational character server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(serveCmd(), graphCmd())

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and websocket server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}
}

func graphCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "graph [text|audio]",
		Short:     "Print a pipeline graph as Graphviz DOT",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{pipeline.TextGraph, pipeline.AudioGraph},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("config error: %w", err)
			}
			// Mock engines are enough to lay out the graph.
			cfg.LLMProvider = config.ProviderMock
			cfg.TTSProvider = config.ProviderMock
			cfg.STTProvider = config.ProviderMock
			cfg.DatabaseURL = ""
			cfg.GraphVisualization = false

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			res, err := app.Build(ctx, cfg)
			if err != nil {
				return err
			}
			defer res.Cleanup()
			for _, g := range res.Graphs {
				if g.Name() == args[0] {
					_, err := fmt.Fprint(cmd.OutOrStdout(), g.DOT())
					return err
				}
			}
			return fmt.Errorf("unknown graph %q (expected text|audio)", args[0])
		},
	}
}

func serve(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	observability.NewLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)

	shutdownTracing, err := observability.InitTracing("cadence", version, nil)
	if err != nil {
		return fmt.Errorf("tracing init failed: %w", err)
	}

	runCtx, runCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer runCancel()

	res, err := app.Build(runCtx, cfg)
	if err != nil {
		return err
	}
	slog.Info("providers selected",
		"llm", res.Providers.LLM,
		"tts", res.Providers.TTS,
		"stt", res.Providers.STT,
		"transcript", res.Providers.Transcript,
	)

	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: res.API.Router(),
		// Open websockets end with the signal.
		BaseContext: func(net.Listener) context.Context { return runCtx },
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-runCtx.Done():
		slog.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			_ = res.Cleanup()
			return fmt.Errorf("listen error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("graceful shutdown failed", "error", err)
		_ = httpServer.Close()
	}
	if err := res.Cleanup(); err != nil {
		slog.Warn("cleanup failed", "error", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		slog.Warn("tracing shutdown failed", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}
