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

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/vitalsignal/internal/api"
	"github.com/kalambet/vitalsignal/internal/config"
	"github.com/kalambet/vitalsignal/internal/dispatch"
	"github.com/kalambet/vitalsignal/internal/pipeline"
	"github.com/kalambet/vitalsignal/internal/profile"
	"github.com/kalambet/vitalsignal/internal/risk"
	"github.com/kalambet/vitalsignal/internal/scheduler"
	"github.com/kalambet/vitalsignal/internal/storage"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the vitalsignal server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running vitalsignal server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show vitalsignal system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "vitalsignal.pid")
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

func loadEngine(path string) (*risk.Engine, error) {
	var (
		kb     *risk.KnowledgeBase
		policy risk.Policy
		err    error
	)
	if path == "" {
		kb, policy, err = risk.DefaultKnowledge()
	} else {
		kb, policy, err = risk.LoadKnowledgeFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("loading knowledge base: %w", err)
	}
	return risk.NewEngine(kb, policy)
}

func newSender(cfg config.Config) dispatch.Sender {
	if cfg.Dispatch.WebhookURL == "" {
		return dispatch.LogSender{Logger: slog.Default().With("component", "dispatch")}
	}
	return dispatch.NewWebhookSender(cfg.Dispatch.WebhookURL, cfg.Dispatch.WebhookToken)
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "vitalsignal version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logLevel, _ := config.ParseLogLevel(cfg.Log.Level)
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	apiToken, err := config.GetAPIToken(config.NewKeychain())
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}
	slog.Info("API bearer token available")

	// Refuse to start twice on the same port.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("vitalsignal is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("vitalsignal is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	// Jobs left running by a crash would otherwise never be retried.
	if n, err := store.RequeueRunningJobs(); err != nil {
		return fmt.Errorf("requeueing jobs: %w", err)
	} else if n > 0 {
		slog.Info("requeued interrupted dispatch jobs", "count", n)
	}

	eng, err := loadEngine(cfg.Risk.KnowledgePath)
	if err != nil {
		return err
	}
	slog.Info("knowledge base loaded", "diseases", eng.Knowledge().Len(), "path", cfg.Risk.KnowledgePath)

	profileMgr := profile.NewManager(store)
	personalizer := pipeline.NewPersonalizer(eng, profileMgr, store, cfg.Pipeline.BatchConcurrency)

	worker := dispatch.NewWorker(store, newSender(cfg), cfg.PollIntervalDuration())
	go worker.Run(ctx)

	sched, err := scheduler.New(slog.Default())
	if err != nil {
		return err
	}
	if err := scheduler.ScheduleRetention(sched, store, cfg.Retention.Cron, cfg.Retention.Days); err != nil {
		return err
	}
	sched.Start()
	defer func() {
		if err := sched.Shutdown(); err != nil {
			slog.Warn("scheduler shutdown", "error", err)
		}
	}()

	handler := api.NewAppHandler(api.AppDeps{
		Store:         store,
		Profiles:      profileMgr,
		Pipeline:      personalizer,
		Token:         apiToken,
		AssessTimeout: cfg.AssessTimeoutDuration(),
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if cfg.Server.MCPEnabled {
		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Store:         store,
			Profiles:      profileMgr,
			Pipeline:      personalizer,
			AssessTimeout: cfg.AssessTimeoutDuration(),
		}, version)
		stdioSrv := server.NewStdioServer(mcpSrv)
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "vitalsignal listening on %s\n", addr)
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

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("vitalsignal is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop vitalsignal (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to vitalsignal (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}

	running := false
	if resp, err := healthClient.Get(serverURL + "/health"); err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			running = true
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	knowledge := cfg.Risk.KnowledgePath
	if knowledge == "" {
		knowledge = "built-in"
	}
	printStatus("Knowledge base", "%s", knowledge)
	webhook := cfg.Dispatch.WebhookURL
	if webhook == "" {
		webhook = "not configured (requests are logged)"
	}
	printStatus("Dispatch webhook", "%s", webhook)
	printStatus("Retention", "%d days (%s)", cfg.Retention.Days, cfg.Retention.Cron)
	printStatus("MCP", "%t", cfg.Server.MCPEnabled)

	if running {
		if client, err := newAPIClient(); err == nil {
			if resp, err := client.get(ctx, "/v1/metrics"); err == nil {
				var m storage.Metrics
				if decodeJSON(resp, &m) == nil {
					printStatus("Users", "%d", m.Users)
					printStatus("Alerts", "%d", m.Alerts)
					printStatus("Assessments", "%d", m.Assessments)
				}
			}
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
