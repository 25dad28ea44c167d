package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mikey/sortana/internal/adapters/httpapi"
	"github.com/mikey/sortana/internal/core"
	"github.com/mikey/sortana/internal/di"
	"github.com/mikey/sortana/internal/ports"
	"github.com/mikey/sortana/internal/sorter"
)

func main() {
	var configFile string

	root := &cobra.Command{
		Use:           "sortana",
		Short:         "Sort mail with rules evaluated by a language model",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Build the dependency injection container
			container, err := di.BuildContainer(configFile)
			if err != nil {
				return fmt.Errorf("failed to build dependency container: %w", err)
			}
			return container.Invoke(run)
		},
	}
	root.Flags().StringVarP(&configFile, "config", "c", "", "Path to config file")

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Application error: %v\n", err)
		os.Exit(1)
	}
}

// run is the main application function that gets all dependencies injected
func run(
	logger *zap.Logger,
	svc *sorter.Service,
	server *httpapi.Server,
	sources []ports.Ingestor,
	mail ports.MailBackend,
	store core.Store,
	completer core.Completer,
) error {
	defer logger.Sync()

	ctx := context.Background()
	if err := svc.Start(ctx); err != nil {
		return err
	}
	if err := server.Start(); err != nil {
		return fmt.Errorf("failed to start HTTP API: %w", err)
	}

	var started []ports.Ingestor
	for _, src := range sources {
		if err := src.Start(); err != nil {
			logger.Error("Failed to start ingest source", zap.String("source", src.Name()), zap.Error(err))
			continue
		}
		started = append(started, src)
	}

	logger.Info("sortana is running", zap.Int("sources", len(started)))

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("Shutting down...")

	for _, src := range started {
		if err := src.Stop(); err != nil {
			logger.Error("Failed to stop ingest source", zap.String("source", src.Name()), zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}
	if err := svc.Close(shutdownCtx); err != nil {
		logger.Error("Queue did not drain", zap.Error(err))
	}

	// Close any resources that need closing
	for name, res := range map[string]any{"mail store": mail, "store": store, "LLM client": completer} {
		if closer, ok := res.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				logger.Error("Failed to close "+name, zap.Error(err))
			}
		}
	}

	logger.Info("Shutdown complete")
	return nil
}
