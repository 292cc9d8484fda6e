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
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/tlog/internal/activity"
	"github.com/kalambet/tlog/internal/api"
	"github.com/kalambet/tlog/internal/config"
	"github.com/kalambet/tlog/internal/controller"
	"github.com/kalambet/tlog/internal/rules"
	"github.com/kalambet/tlog/internal/session"
	"github.com/kalambet/tlog/internal/storage"
	"github.com/kalambet/tlog/internal/tracker"
)

const shutdownTimeout = 5 * time.Second

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the tlog daemon (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running tlog daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon and tracking status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
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

func setupLogging(level string) {
	logLevel := slog.LevelInfo
	if strings.EqualFold(level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))
}

// loadRules makes sure the rule file exists and loads it. A broken file
// leaves the daemon running with an empty rule set.
func loadRules(path string) *rules.Holder {
	created, err := rules.EnsureFile(path)
	if err != nil {
		slog.Warn("could not write default rules", "path", path, "error", err)
	} else if created {
		slog.Info("wrote default rules", "path", path)
	}

	rs, err := rules.Load(path)
	if err != nil {
		slog.Warn("rules not loaded, nothing will be classified until they are fixed", "error", err)
	} else {
		slog.Info("rules loaded", "path", path, "rules", rs.Len())
	}
	return rules.NewHolder(path, rs)
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "tlog version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log.Level)

	// Check if server is already running via health endpoint.
	pidPath := cfg.PIDPath()
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("tlog is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("tlog is already running on port %d", cfg.Server.Port)
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
			slog.Warn("closing storage", "error", err)
		}
	}()

	holder := loadRules(cfg.Rules.Path)

	processes := activity.NewProcessSource(activity.NewSystemProber(), cfg.PollInterval())
	tabs := activity.NewBrowserTabSource()

	// New rules take effect on the next signal, so have the sources
	// report the current context again.
	watcher := rules.NewWatcher(holder, 0)
	watcher.OnReload = resetOnReload(processes, tabs)

	tr := tracker.New(tracker.Options{
		Rules:          holder.Get,
		Sink:           store,
		Tick:           cfg.TickInterval(),
		ManualCategory: cfg.Tracker.ManualCategory,
		OnStart: func() {
			processes.Reset()
			tabs.Reset()
		},
	})

	var setups []controller.Setup
	if cfg.Controller.Port != "" {
		setups = append(setups, controller.Setup{Port: cfg.Controller.Port, BaudRate: cfg.Controller.BaudRate})
	}
	controllers := controller.NewManager(controller.ManagerConfig{
		Controllers: setups,
		MinPlayers:  cfg.Controller.MinPlayers,
	})
	defer controllers.Close()

	startOpts := tracker.StartOptions{Manual: cfg.Tracker.ManualMode}
	var pollers []*controller.Poller
	for i := 0; i < controllers.Len(); i++ {
		c := controllers.Controller(i)
		if !c.HardwareConnected() {
			continue
		}
		p := controller.NewPoller(c, 0)
		p.OnPress = func() {
			snap, err := tr.Toggle(ctx, startOpts)
			if err != nil {
				slog.Warn("controller toggle failed", "player", c.Player(), "error", err)
				return
			}
			slog.Info("tracking toggled from controller", "player", c.Player(), "running", snap.Running)
		}
		pollers = append(pollers, p)
	}

	appHandler := api.NewAppHandler(api.AppDeps{
		Tracker:       tr,
		Store:         store,
		Tabs:          tabs,
		Rules:         holder,
		ManualDefault: cfg.Tracker.ManualMode,
	})
	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: appHandler,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}
	bridgeAddr := fmt.Sprintf("127.0.0.1:%d", cfg.Bridge.Port)
	bridge := &http.Server{
		Addr:    bridgeAddr,
		Handler: api.NewBridgeHandler(tabs),
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return tr.Run(gctx) })

	sources := []activity.Source{processes, tabs}
	for _, p := range pollers {
		sources = append(sources, p)
	}
	for _, s := range sources {
		if err := s.Start(gctx, tr.Submit); err != nil {
			return fmt.Errorf("starting signal source: %w", err)
		}
	}

	g.Go(func() error {
		if err := watcher.Run(gctx); err != nil {
			slog.Warn("rules hot reload disabled", "error", err)
		}
		return nil
	})

	g.Go(func() error {
		fmt.Fprintf(os.Stderr, "tlog listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		slog.Info("browser bridge listening", "addr", bridgeAddr)
		if err := bridge.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("bridge error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		fmt.Fprintln(os.Stderr, "shutting down...")

		for _, s := range sources {
			s.Stop()
		}

		// Graceful shutdown with timeout.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return errors.Join(srv.Shutdown(shutdownCtx), bridge.Shutdown(shutdownCtx))
	})

	return g.Wait()
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := cfg.PIDPath()
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("tlog is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop tlog (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to tlog (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	client := clientFor(cfg)
	client.httpClient.Timeout = 2 * time.Second

	snap, err := client.status(ctx)
	if err != nil {
		printStatus("Server", "stopped")
		printStatus("Data dir", "%s", cfg.Storage.DataDir)
		printStatus("Rules", "%s", cfg.Rules.Path)
		return nil
	}
	printStatus("Server", "running on port %d", cfg.Server.Port)
	printSnapshot(snap)
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	printStatus("Rules", "%s", cfg.Rules.Path)
	return nil
}

// printSnapshot prints the tracker state followed by time per category.
func printSnapshot(snap tracker.Snapshot) {
	state := snap.Phase.String()
	switch {
	case snap.Running && snap.Manual:
		state += " (manual)"
	case snap.Unsaved:
		state += " (stopped, unsaved)"
	}
	printStatus("Tracking", "%s", state)

	switch {
	case snap.Paused:
		printStatus("Category", "paused (%s)", snap.PauseReason)
	case snap.Category != "":
		printStatus("Category", "%s", snap.Category)
	}
	printStatus("Elapsed", "%s", session.FormatDuration(time.Duration(snap.Elapsed)*time.Second))

	for _, ct := range session.Sorted(session.Seconds(snap.Accumulated)) {
		printStatus("  "+ct.Category, "%s", session.FormatDuration(ct.Duration))
	}
}

type resetter interface{ Reset() }

// resetOnReload returns a Watcher hook that resets sources after every
// successful reload. The reload itself is logged by the holder.
func resetOnReload(sources ...resetter) func(*rules.RuleSet, error) {
	return func(_ *rules.RuleSet, err error) {
		if err != nil {
			return
		}
		for _, s := range sources {
			s.Reset()
		}
	}
}
