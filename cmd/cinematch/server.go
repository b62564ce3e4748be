package main

import (
	"context"
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

	"github.com/goccy/go-json"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/cinematch/internal/account"
	"github.com/kalambet/cinematch/internal/api"
	"github.com/kalambet/cinematch/internal/catalog"
	"github.com/kalambet/cinematch/internal/config"
	"github.com/kalambet/cinematch/internal/engine"
	"github.com/kalambet/cinematch/internal/ingest"
	"github.com/kalambet/cinematch/internal/session"
	"github.com/kalambet/cinematch/internal/storage"
)

var startCmd = &cobra.Command{
	Use:     "start",
	Aliases: []string{"serve"},
	Short:   "Start the cinematch server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		withMCP, _ := cmd.Flags().GetBool("mcp")
		return runServer(withMCP)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running cinematch server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show cinematch system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func init() {
	startCmd.Flags().Bool("mcp", false, "also serve MCP tools over stdio")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "cinematch.pid")
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

func engineOptions(cfg config.Config) engine.Options {
	return engine.Options{
		Weights: &engine.SoupWeights{Genre: cfg.Engine.GenreBoost, Actors: cfg.Engine.ActorBoost},
		Filter:  catalog.Filter{MinRating: cfg.Engine.DefaultMinRating},
	}
}

func runServer(withMCP bool) error {
	fmt.Fprintln(os.Stderr, versionLine())

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log.Level)

	// Refuse to start twice.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("cinematch is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("cinematch is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Accounts. A missing file leaves the server up with logins disabled.
	var accounts api.Authenticator
	dir, err := account.Load(cfg.AccountsPath())
	switch {
	case err == nil:
		if len(dir.Rejected) > 0 {
			slog.Warn("account rows quarantined", "count", len(dir.Rejected), "first_line", dir.Rejected[0].Line, "reason", dir.Rejected[0].Reason)
		}
		slog.Info("accounts loaded", "path", cfg.AccountsPath(), "accounts", dir.Len())
		accounts = dir
	case errors.Is(err, account.ErrMissing):
		slog.Warn("accounts file not found; logins are disabled", "path", cfg.AccountsPath())
	default:
		return err
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	sessions := session.NewManager(session.Options{
		TTL:    config.Duration(cfg.Session.TTL, 30*time.Minute),
		Engine: engineOptions(cfg),
	})

	// The MCP client gets one long-lived engine of its own.
	mcpEngine := engine.New(engineOptions(cfg))
	reloaders := ingest.Fanout(sessions, ingest.ReloaderFunc(func(cat catalog.Catalog) int {
		mcpEngine.Load(cat)
		return 1
	}))

	worker := ingest.NewWorker(cfg.CatalogPath(), reloaders, config.Duration(cfg.Catalog.PollInterval, 5*time.Second))
	if _, err := worker.RunOnce(ctx); err != nil {
		if !errors.Is(err, catalog.ErrMissing) {
			return err
		}
		printWarning("catalog file is not available; run `cinematch harvest` first")
	}
	go worker.Run(ctx)

	go sweepSessions(ctx, sessions, time.Minute)

	if withMCP {
		mcpSrv := api.NewMCPServer(api.MCPDeps{Engine: mcpEngine, Runs: store, TopK: cfg.Engine.TopK})
		stdioSrv := server.NewStdioServer(mcpSrv)
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	handler := api.NewHandler(api.Deps{
		Accounts:  accounts,
		Sessions:  sessions,
		Runs:      store,
		TopK:      cfg.Engine.TopK,
		RateLimit: cfg.API.RateLimit,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "cinematch listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// sweepSessions drops idle sessions every interval until ctx is done.
func sweepSessions(ctx context.Context, m *session.Manager, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := m.Sweep(); n > 0 {
				slog.Info("expired sessions removed", "count", n)
			}
		}
	}
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
		printError("cinematch is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop cinematch (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to cinematch (PID %d)", pid)
	return nil
}

type healthResponse struct {
	Status   string `json:"status"`
	Catalog  bool   `json:"catalog"`
	Accounts bool   `json:"accounts"`
	Sessions int    `json:"sessions"`
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		var h healthResponse
		decodeErr := json.NewDecoder(resp.Body).Decode(&h)
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK && decodeErr == nil {
			printStatus("Server", "running on port %d", cfg.Server.Port)
			printStatus("Catalog loaded", "%t", h.Catalog)
			printStatus("Logins", "%s", enabledLabel(h.Accounts))
			printStatus("Sessions", "%d", h.Sessions)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	printStatus("Catalog file", "%s", fileLabel(cfg.CatalogPath()))
	printStatus("Accounts file", "%s", fileLabel(cfg.AccountsPath()))
	printStatus("Movie API token", "%s", enabledLabel(cfg.TMDB.Token != ""))

	if store, err := storage.Open(cfg.Storage.DataDir); err == nil {
		run, err := store.LastSuccessfulHarvest()
		switch {
		case err == nil:
			printStatus("Last harvest", "%s (%d films)", run.FinishedAt.Local().Format(time.DateTime), run.Items)
		case errors.Is(err, storage.ErrNotFound):
			printStatus("Last harvest", "never")
		}
		store.Close()
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func fileLabel(path string) string {
	info, err := os.Stat(path)
	if err != nil {
		return path + " (missing)"
	}
	return fmt.Sprintf("%s (%s, %d bytes)", path, info.ModTime().Local().Format(time.DateTime), info.Size())
}

func enabledLabel(ok bool) string {
	if ok {
		return "enabled"
	}
	return "disabled"
}
