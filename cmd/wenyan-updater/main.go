package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Zhang142857/wenyanwengongju-sub001/internal/appfiles"
	"github.com/Zhang142857/wenyanwengongju-sub001/internal/bridge"
	"github.com/Zhang142857/wenyanwengongju-sub001/internal/config"
	"github.com/Zhang142857/wenyanwengongju-sub001/internal/diskspace"
	"github.com/Zhang142857/wenyanwengongju-sub001/internal/events"
	"github.com/Zhang142857/wenyanwengongju-sub001/internal/logging"
	"github.com/Zhang142857/wenyanwengongju-sub001/internal/recovery"
	"github.com/Zhang142857/wenyanwengongju-sub001/internal/state"
	"github.com/Zhang142857/wenyanwengongju-sub001/internal/update"
)

var (
	version = "0.1.0"
	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "wenyan-updater",
	Short: "Wenyan Toolkit update engine",
	Long:  `Update engine for the Wenyan Toolkit - checks, downloads, verifies, and installs application updates with automatic backup and crash recovery`,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the update engine",
	Run: func(cmd *cobra.Command, args []string) {
		runEngine()
	},
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check for an available update once and exit",
	Run: func(cmd *cobra.Command, args []string) {
		checkOnce()
	},
}

var updateCmd = &cobra.Command{
	Use:   "update [version]",
	Short: "Check for an update and install it immediately",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		target := ""
		if len(args) == 1 {
			target = args[0]
		}
		updateOnce(target)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the persisted update state",
	Run: func(cmd *cobra.Command, args []string) {
		showStatus()
	},
}

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Run crash recovery against the persisted state",
	Run: func(cmd *cobra.Command, args []string) {
		recoverOnce()
	},
}

var initConfigCmd = &cobra.Command{
	Use:   "init-config [path]",
	Short: "Write a default configuration file",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := config.WriteDefault(args[0]); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Wrote default configuration to %s\n", args[0])
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("wenyan-updater v%s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searches the platform config directory)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(recoverCmd)
	rootCmd.AddCommand(initConfigCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// wiring bundles everything a command needs after setup.
type wiring struct {
	cfg      *config.Config
	store    *state.Store
	files    *appfiles.Manager
	bus      *events.Bus
	engine   *update.Engine
	recovery *recovery.Manager
}

func setup() *wiring {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}

	logFile, err := logging.NewRotatingWriter(filepath.Join(cfg.DataDir, "logs", "updater.log"), 10, 3)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open log file: %v\n", err)
		os.Exit(1)
	}
	logging.Init(cfg.LogFormat, cfg.LogLevel, logging.TeeWriter(os.Stdout, logFile))

	store, err := state.NewStore(filepath.Join(cfg.DataDir, "engine"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open state store: %v\n", err)
		os.Exit(1)
	}

	// The config file names the version the product shipped with; once an
	// update has landed, the state file carries the installed version.
	if st, err := store.LoadState(); err == nil && st.CurrentVersion != "" {
		cfg.CurrentVersion = st.CurrentVersion
	}

	files := appfiles.NewManager(cfg.AppDir, cfg.DataDir, cfg.UserDataPaths, cfg.UserDataPaths, store)
	bus := events.NewBus()

	return &wiring{
		cfg:    cfg,
		store:  store,
		files:  files,
		bus:    bus,
		engine: update.NewEngine(cfg, files, store, bus),
		recovery: recovery.New(files, store, bus, cfg.CurrentVersion,
			cfg.BackupRetentionDays, cfg.ConfigBackupRetention),
	}
}

func runEngine() {
	w := setup()

	fmt.Printf("Starting Wenyan update engine v%s\n", version)
	fmt.Printf("Application: %s (v%s)\n", w.cfg.AppDir, w.cfg.CurrentVersion)

	restartNeeded, err := w.recovery.InitializeOnStartup()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Startup recovery failed: %v\n", err)
		os.Exit(1)
	}
	if restartNeeded {
		fmt.Println("A previous update was rolled back; restart the application before updating again.")
	}

	server := bridge.NewServer(w.cfg.BridgeListenAddr, w.engine, w.bus, w.cfg.CurrentVersion)
	if err := server.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start UI bridge: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("UI bridge: ws://%s/ws\n", server.Addr())

	scheduler := update.NewScheduler(w.engine)
	scheduler.Start()

	// Pause an in-flight download if the data volume runs low, resume
	// when space comes back.
	const lowSpaceThreshold = 200 * 1024 * 1024
	monitor := diskspace.NewMonitor(w.cfg.DataDir, lowSpaceThreshold, 5*time.Second,
		func(free uint64) { w.engine.PauseDownload() },
		func(free uint64) { w.engine.ResumeDownload() })
	monitor.Start()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	fmt.Println("\nShutting down update engine...")
	monitor.Stop()
	scheduler.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	server.Shutdown(ctx)
}

func checkOnce() {
	w := setup()

	info, err := w.engine.CheckForUpdates(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Check failed: %v\n", err)
		os.Exit(1)
	}
	if info == nil {
		fmt.Printf("No update available (current: v%s)\n", w.cfg.CurrentVersion)
		return
	}

	fmt.Printf("Update available: v%s (current: v%s)\n", info.Version, w.cfg.CurrentVersion)
	if info.ForceUpdate {
		fmt.Println("This is a mandatory update.")
	}
	if info.Changelog != "" {
		fmt.Printf("Changelog:\n%s\n", info.Changelog)
	}
}

func updateOnce(target string) {
	w := setup()

	restartNeeded, err := w.recovery.InitializeOnStartup()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Startup recovery failed: %v\n", err)
		os.Exit(1)
	}
	if restartNeeded {
		fmt.Println("A previous update was rolled back. Verify the application before updating again.")
		os.Exit(1)
	}

	info, err := w.engine.CheckForUpdates(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Check failed: %v\n", err)
		os.Exit(1)
	}
	if info == nil {
		fmt.Printf("Already up to date (v%s)\n", w.cfg.CurrentVersion)
		return
	}

	fmt.Printf("Updating v%s -> v%s\n", w.cfg.CurrentVersion, info.Version)
	if err := w.engine.StartUpdate(context.Background(), target); err != nil {
		fmt.Fprintf(os.Stderr, "Update failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Update installed.")
}

func showStatus() {
	w := setup()

	st, err := w.store.LoadState()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read state: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Current version: %s\n", w.cfg.CurrentVersion)
	if st.InProgress {
		fmt.Printf("Status: update to v%s interrupted, recovery pending\n", st.PendingVersion)
	} else if st.PendingVersion != "" {
		fmt.Printf("Status: update to v%s installed, awaiting restart\n", st.PendingVersion)
	} else {
		fmt.Println("Status: idle")
	}
	if !st.LastCheckAt.IsZero() {
		fmt.Printf("Last check: %s\n", st.LastCheckAt.Format(time.RFC3339))
	}
	if st.DismissedVersion != "" {
		fmt.Printf("Dismissed: v%s at %s\n", st.DismissedVersion, st.LastDismissedAt.Format(time.RFC3339))
	}
	if backup, found := w.files.FindLatestBackup(); found {
		fmt.Printf("Latest backup: %s\n", backup)
	}
}

func recoverOnce() {
	w := setup()

	needed, err := w.recovery.CheckRecoveryNeeded()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to inspect state: %v\n", err)
		os.Exit(1)
	}
	if !needed {
		fmt.Println("No recovery needed.")
		return
	}

	fmt.Println("Interrupted update detected, restoring from backup...")
	if err := w.recovery.PerformRecovery(); err != nil {
		fmt.Fprintf(os.Stderr, "Recovery failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Recovery complete. Restart the application.")
}
