package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/xviolet/violetmem/internal/api"
	"github.com/xviolet/violetmem/internal/config"
	"github.com/xviolet/violetmem/internal/ingest"
	"github.com/xviolet/violetmem/internal/interactions"
	"github.com/xviolet/violetmem/internal/ollama"
	"github.com/xviolet/violetmem/internal/retrieval"
	"github.com/xviolet/violetmem/internal/storage"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the violetmem server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running violetmem server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show violetmem system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "violetmem.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "violetmem version %s\n", version)

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

	// Write PID file. Check if server is already running via health endpoint.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("violetmem is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("violetmem is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Check Ollama readiness and pull the embed model if missing.
	ollamaClient := ollama.New(cfg.Ollama.BaseURL)
	if err := ollama.EnsureReady(ctx, ollamaClient, cfg.Ollama.EmbedModel, os.Stderr); err != nil {
		return err
	}

	// Open storage.
	store, err := storage.Open(cfg.Storage.DataDir, cfg.Embedding.Dimension)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	// Build vector indexes in configured priority order. A backend that fails
	// to come up is skipped, not fatal; the sqlite index needs no setup and
	// serves as the final fallback.
	var indexes []retrieval.Index
	for _, name := range strings.Split(cfg.Vector.Backends, ",") {
		switch strings.TrimSpace(name) {
		case "qdrant":
			qdr, err := retrieval.NewQdrantIndex(ctx, cfg.Vector.QdrantAddr, cfg.Vector.QdrantCollection, cfg.Embedding.Dimension)
			if err != nil {
				slog.Warn("qdrant index unavailable, skipping", "addr", cfg.Vector.QdrantAddr, "error", err)
				continue
			}
			defer qdr.Close()
			indexes = append(indexes, qdr)
		case "chromem":
			chr, err := retrieval.NewChromemIndex(cfg.Vector.ChromemPath, "tweets")
			if err != nil {
				slog.Warn("chromem index unavailable, skipping", "path", cfg.Vector.ChromemPath, "error", err)
				continue
			}
			indexes = append(indexes, chr)
		case "sqlite":
			indexes = append(indexes, retrieval.NewSQLiteIndex(store))
		case "":
		default:
			slog.Warn("unknown vector backend, skipping", "backend", name)
		}
	}
	if len(indexes) == 0 {
		indexes = append(indexes, retrieval.NewSQLiteIndex(store))
	}
	index := retrieval.NewFallback(indexes...)
	slog.Info("vector index ready", "backend", index.Name())

	// Build the retrieval and ingest stack.
	embedder := retrieval.NewEmbedder(ollamaClient, cfg.Ollama.EmbedModel, cfg.Embedding.Dimension)
	retriever := retrieval.NewRetriever(embedder, index, store)
	pipe := ingest.NewPipeline(store, index)
	interMgr := interactions.NewManager(store)

	pollInterval, err := time.ParseDuration(cfg.Worker.PollInterval)
	if err != nil {
		slog.Warn("invalid poll interval, using default 5s", "value", cfg.Worker.PollInterval, "error", err)
		pollInterval = 5 * time.Second
	}
	worker := ingest.NewWorker(store, embedder, pipe, cfg.Worker.BatchSize, pollInterval)
	go worker.Run(ctx)

	// Build HTTP handler and server.
	appHandler := api.NewAppHandler(api.AppDeps{
		Store:        store,
		Embedder:     embedder,
		Retriever:    retriever,
		Pipeline:     pipe,
		Interactions: interMgr,
		Index:        index,
		Ollama:       ollamaClient,
		Notify:       worker.Notify,
		Token:        cfg.API.Token,
		Started:      time.Now(),
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: appHandler,
	}

	// Build the MCP server and serve it on stdio plus SSE.
	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Store:        store,
		Searcher:     retriever,
		Interactions: interMgr,
		Notify:       worker.Notify,
	})
	stdioSrv := server.NewStdioServer(mcpSrv)
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
	}()
	slog.Info("MCP server started (stdio transport)")

	sseSrv := server.NewSSEServer(mcpSrv)
	sseAddr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.MCPPort)
	go func() {
		if err := sseSrv.Start(sseAddr); err != nil && err != http.ErrServerClosed {
			slog.Error("MCP SSE server error", "error", err)
		}
	}()
	slog.Info("MCP server started (sse transport)", "addr", sseAddr)

	// Start server in a goroutine.
	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "violetmem listening on %s\n", addr)
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
	if err := sseSrv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("MCP SSE shutdown", "error", err)
	}
	return srv.Shutdown(shutdownCtx)
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("violetmem is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop violetmem (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to violetmem (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	// Check server health.
	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	// Check Ollama.
	ollamaResp, err := client.Get(cfg.Ollama.BaseURL + "/api/version")
	if err != nil {
		printStatus("Ollama", "not running")
	} else {
		ollamaResp.Body.Close()
		printStatus("Ollama", "running at %s", cfg.Ollama.BaseURL)
	}

	printStatus("Embed model", "%s", cfg.Ollama.EmbedModel)
	printStatus("Vector backends", "%s", cfg.Vector.Backends)

	// Show counts if server is running.
	if resp != nil && resp.StatusCode == 200 {
		statsResp, err := apiGet(client, serverURL+"/stats", cfg.API.Token)
		if err == nil {
			var st struct {
				Tweets       int `json:"tweets"`
				Embeddings   int `json:"embeddings"`
				Unprocessed  int `json:"unprocessed"`
				Interactions int `json:"interactions"`
			}
			if json.NewDecoder(statsResp.Body).Decode(&st) == nil {
				printStatus("Tweets", "%d", st.Tweets)
				printStatus("Embeddings", "%d", st.Embeddings)
				printStatus("Unprocessed", "%d", st.Unprocessed)
				printStatus("Interactions", "%d", st.Interactions)
			}
			statsResp.Body.Close()
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func apiGet(client *http.Client, url, token string) (*http.Response, error) {
	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return client.Do(req)
}
