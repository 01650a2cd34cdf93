package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"grimoire/internal/api"
	"grimoire/internal/chatstore"
	"grimoire/internal/config"
	"grimoire/internal/corpus"
	"grimoire/internal/embedding"
	"grimoire/internal/generation"
	"grimoire/internal/ollama"
	"grimoire/internal/pipeline"
	"grimoire/internal/retrieval"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the grimoire server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "grimoire version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Initialize structured logging.
	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Check embedding backend readiness.
	ollamaClient := ollama.New(cfg.Ollama.BaseURL)
	if err := ollama.EnsureReady(ctx, ollamaClient, cfg.Ollama.EmbedModel, os.Stderr); err != nil {
		return err
	}

	// Load the corpus. JSON first, then any supplemental PDFs.
	records, err := corpus.Load(cfg.Corpus.Path)
	if err != nil {
		return fmt.Errorf("loading corpus: %w", err)
	}
	if cfg.Corpus.PDFDir != "" {
		pdfRecords, err := corpus.LoadPDFDir(cfg.Corpus.PDFDir)
		if err != nil {
			return fmt.Errorf("loading PDF corpus: %w", err)
		}
		records = append(records, pdfRecords...)
	}
	slog.Info("corpus loaded", "records", len(records))

	// Open chat storage.
	store, err := chatstore.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening chat store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing chat store: %v\n", err)
		}
	}()

	// Build the answering pipeline.
	embedder := embedding.NewService(ollamaClient, cfg.Ollama.EmbedModel)
	cache := embedding.NewCache(embedder)
	retriever := retrieval.NewRetriever(embedder, cache, records, cfg.Retrieval.TopK)

	var genClient *generation.Client
	if cfg.Generation.BaseURL != "" {
		genClient = generation.NewClientWithBaseURL(cfg.Generation.APIKey, cfg.Generation.Model, cfg.Generation.BaseURL)
	} else {
		genClient = generation.NewClient(cfg.Generation.APIKey, cfg.Generation.Model)
	}

	coordinator := pipeline.New(retriever, genClient, store, cfg.Retrieval.MaxContextChars)

	// Warm the corpus vector cache in the background so the first request
	// doesn't pay the full embedding cost.
	go func() {
		started := time.Now()
		if err := retriever.Warm(ctx); err != nil {
			slog.Warn("warming corpus vectors", "error", err)
			return
		}
		slog.Info("corpus vectors ready", "records", retriever.Size(), "duration_ms", time.Since(started).Milliseconds())
	}()

	handler := api.NewHandler(coordinator, store)

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	// Build and start MCP server (stdio transport in a goroutine).
	mcpSrv := api.NewMCPServer(version, api.MCPDeps{
		Answerer:  coordinator,
		Retriever: retriever,
	})
	stdioSrv := server.NewStdioServer(mcpSrv)
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
	}()
	slog.Info("MCP server started (stdio transport)")

	// Start server in a goroutine.
	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "grimoire listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for signal or server error.
	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Graceful shutdown with timeout.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
