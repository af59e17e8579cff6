package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hearthware/cookd/internal/adjust"
	"github.com/hearthware/cookd/internal/api"
	"github.com/hearthware/cookd/internal/daemon"
	"github.com/hearthware/cookd/internal/events"
	"github.com/hearthware/cookd/internal/llm"
	"github.com/hearthware/cookd/internal/session"
)

var serveDaemonize bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the cookd API server",
	Long: `Start the HTTP server that owns all cook session state.

Runs in the foreground by default. Use --daemon to detach, and
'cookd serve stop' / 'cookd serve status' to manage the detached
process.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if serveDaemonize {
			return serveStartRun()
		}
		return serveForeground()
	},
}

var serveStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the detached server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveStopRun()
	},
}

var serveStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the detached server is running",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveStatusRun()
	},
}

func init() {
	serveCmd.Flags().BoolVarP(&serveDaemonize, "daemon", "d", false, "Detach and run in the background")
	serveCmd.Flags().IntP("port", "p", 8475, "Port to listen on")
	_ = viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))

	serveCmd.AddCommand(serveStopCmd)
	serveCmd.AddCommand(serveStatusCmd)
	rootCmd.AddCommand(serveCmd)
}

func pidFile() *daemon.PIDFile {
	return daemon.New(filepath.Join(viper.GetString("state_dir"), "cookd-serve.pid"))
}

func serveLogPath() string {
	return filepath.Join(viper.GetString("state_dir"), "cookd-serve.log")
}

// serveForeground runs the server in this process until interrupted.
func serveForeground() error {
	s, err := getStore()
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	var rewriter adjust.Rewriter
	if key := viper.GetString("anthropic.api_key"); key != "" {
		rewriter = llm.NewClient(key, viper.GetString("anthropic.model"))
		logger.Info("LLM rewriter enabled", "model", viper.GetString("anthropic.model"))
	}

	broker := events.NewBroker()
	engine := session.NewEngine(s, broker, adjust.NewEngine(rewriter), logger)
	srv := api.NewServer(s, engine, broker)

	addr := fmt.Sprintf(":%d", viper.GetInt("server.port"))
	httpSrv := &http.Server{
		Addr:    addr,
		Handler: srv.Router(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), shutdownSignals()...)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("cookd listening", "addr", addr)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// serveStartRun re-executes this binary detached, pointing its output
// at the serve log, and records the child PID.
func serveStartRun() error {
	pf := pidFile()
	if pid, ok := pf.Running(); ok {
		return fmt.Errorf("server already running (pid %d)", pid)
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable: %w", err)
	}

	logFile, err := os.OpenFile(serveLogPath(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer logFile.Close()

	child := exec.Command(exe, "serve", "--port", fmt.Sprint(viper.GetInt("server.port")))
	child.Stdout = logFile
	child.Stderr = logFile
	setDaemonAttrs(child)

	if dryRun {
		ui.DryRunMsg("Would start detached server: %s serve", exe)
		return nil
	}
	if err := child.Start(); err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	if err := pf.WritePID(child.Process.Pid); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}

	ui.Success("Server started (pid %d), logging to %s", child.Process.Pid, serveLogPath())
	return nil
}

func serveStopRun() error {
	pf := pidFile()
	pid, err := pf.Read()
	if err != nil {
		return fmt.Errorf("server not running (no pid file)")
	}
	if !daemon.Alive(pid) {
		_ = pf.Remove()
		return fmt.Errorf("server not running (stale pid %d removed)", pid)
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	if err := proc.Signal(sigTERM()); err != nil {
		return fmt.Errorf("signal pid %d: %w", pid, err)
	}

	// Give it a moment before escalating.
	for i := 0; i < 20; i++ {
		if !daemon.Alive(pid) {
			_ = pf.Remove()
			ui.Success("Server stopped (pid %d)", pid)
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	_ = proc.Signal(sigKILL())
	_ = pf.Remove()
	ui.Warning("Server killed after timeout (pid %d)", pid)
	return nil
}

func serveStatusRun() error {
	pf := pidFile()
	pid, err := pf.Read()
	if err != nil {
		ui.Info("Server not running")
		return nil
	}
	if daemon.Alive(pid) {
		ui.Success("Server running (pid %d)", pid)
	} else {
		ui.Warning("Server not running (stale pid file for %d)", pid)
	}
	return nil
}
