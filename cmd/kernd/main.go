// Package main is the CLI entry point for kernd.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/kernwatch/kernd/internal/config"
	"github.com/kernwatch/kernd/internal/daemon"
	"github.com/kernwatch/kernd/internal/domain"
	"github.com/kernwatch/kernd/internal/killer"
	"github.com/kernwatch/kernd/internal/monitor"
	"github.com/kernwatch/kernd/internal/notify"
	"github.com/kernwatch/kernd/internal/profile"
	"github.com/kernwatch/kernd/internal/server"
	"github.com/kernwatch/kernd/internal/usecase"
)

var (
	// Version info (set via ldflags)
	Version   = "0.3.0"
	Commit    = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "kernd",
	Short: "Resource-governance watchdog",
	Long: `kernd samples system load (CPU, memory, temperature, per-process
usage) and enforces policy by terminating processes when the active
profile's limits are exceeded. Thermal runaway above the critical
threshold triggers an emergency mode that kills every eligible process
until the system cools down.`,
	Version: Version,
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Run the watchdog in the foreground",
	Long: `Loads the configuration and profiles, then runs the enforcement
loop and the control socket until interrupted. Intended to be run under
a process supervisor (systemd unit or similar).`,
	RunE: runStart,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current system status",
	RunE:  runStatus,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List top processes by memory",
	RunE:  runList,
}

var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "List available profiles",
	RunE:  runProfiles,
}

var modeCmd = &cobra.Command{
	Use:   "mode <profile>",
	Short: "Switch the active profile",
	Long: `Activates the named profile. Emergency mode is reset and every
process in the profile's kill_on_activate list is terminated (critical
system processes are always skipped).`,
	Args: cobra.ExactArgs(1),
	RunE: runMode,
}

var killCmd = &cobra.Command{
	Use:   "kill <name>",
	Short: "Terminate processes by exact name",
	Args:  cobra.ExactArgs(1),
	RunE:  runKill,
}

var killsCmd = &cobra.Command{
	Use:   "kills",
	Short: "Show recent kill-log entries",
	RunE:  runKills,
}

var thermalCmd = &cobra.Command{
	Use:   "thermal",
	Short: "Debug thermal zones (shows all available temperature sensors)",
	RunE:  runThermal,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run:   runVersion,
}

var (
	jsonOutput bool
	listCount  int
	killsLimit int
	socketPath string
	configFile string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", server.DefaultSocketPath, "Control socket path")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default: kern.yaml in the config dir)")

	statusCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	listCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	listCmd.Flags().IntVarP(&listCount, "count", "c", 20, "Number of processes to show")
	killsCmd.Flags().IntVarP(&killsLimit, "limit", "n", 20, "Number of entries to show")
	versionCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version info as JSON")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(profilesCmd)
	rootCmd.AddCommand(modeCmd)
	rootCmd.AddCommand(killCmd)
	rootCmd.AddCommand(killsCmd)
	rootCmd.AddCommand(thermalCmd)
	rootCmd.AddCommand(versionCmd)
}

func loadConfig() (*config.Config, error) {
	if configFile != "" {
		return config.LoadFile(configFile)
	}
	return config.Load()
}

func runStart(cmd *cobra.Command, args []string) error {
	logger := createLogger()
	defer func() { _ = logger.Sync() }()

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	configDir := config.ConfigDir()
	store, err := profile.NewStore(configDir, cfg.DefaultProfile, logger)
	if err != nil {
		return fmt.Errorf("load profiles: %w", err)
	}

	sampler := monitor.NewSampler()
	kl := killer.New(killer.NewProcessTable())
	killLog := killer.NewLog(killer.DefaultLogPath(configDir), logger)
	gate := notify.NewGate(cfg.Notifications, logger)

	engine := usecase.NewEngine(cfg, store, sampler, kl, killLog, gate, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("received shutdown signal")
		cancel()
	}()

	srv := server.New(socketPath, engine, store, sampler, killLog, logger)
	go func() {
		if err := srv.Run(ctx); err != nil {
			logger.Error("control server failed", zap.Error(err))
		}
	}()

	logger.Info("kernd starting",
		zap.String("profile", store.CurrentName()),
		zap.Int("interval_seconds", cfg.MonitorInterval),
		zap.Float64("temp_warning", cfg.Temperature.Warning),
		zap.Float64("temp_critical", cfg.Temperature.Critical))

	watcher := daemon.NewWatcher(engine, cfg.Interval(), logger)
	if err := watcher.Run(ctx); err != nil && err != context.Canceled {
		return err
	}
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	// Prefer the running daemon; fall back to a direct sample.
	client := server.NewClient(socketPath)
	st, err := client.Status()
	if err != nil {
		st, err = localStatus()
		if err != nil {
			return err
		}
	}

	if jsonOutput {
		return printJSON(st)
	}

	fmt.Println("=== System Status ===")
	fmt.Printf("CPU:         %.1f%%\n", st.CPUPercent)
	fmt.Printf("Memory:      %.1f%% (%.1f / %.1f GB)\n", st.MemoryPercent, st.MemoryUsedGB, st.MemoryTotalGB)
	fmt.Printf("Temperature: %.1f°C\n", st.Temperature)
	if st.Profile != "" {
		fmt.Printf("Profile:     %s\n", st.Profile)
	}
	if st.Emergency {
		fmt.Printf("Emergency:   ACTIVE (%.0fs)\n", st.EmergencySecs)
	}
	if len(st.TopProcesses) > 0 {
		fmt.Println("\nTop processes:")
		for _, p := range st.TopProcesses {
			fmt.Printf("  %-8d %-24s %8.1f MB %6.1f%%\n", p.PID, p.Name, p.MemoryMB, p.CPUPercent)
		}
	}
	return nil
}

// localStatus samples directly when no daemon is running.
func localStatus() (*server.Status, error) {
	sampler := monitor.NewSampler()
	snap, err := sampler.Snapshot(context.Background())
	if err != nil {
		return nil, err
	}

	st := &server.Status{
		CPUPercent:    snap.CPUPercent,
		MemoryPercent: snap.MemoryPercent,
		MemoryTotalGB: float64(snap.MemoryTotal) / (1 << 30),
		MemoryUsedGB:  float64(snap.MemoryUsed) / (1 << 30),
		Temperature:   snap.Temperature,
	}
	for i, p := range snap.Processes {
		if i == 10 {
			break
		}
		st.TopProcesses = append(st.TopProcesses, server.ProcessStatus{
			PID:        p.PID,
			Name:       p.Name,
			MemoryMB:   float64(p.MemoryBytes) / (1 << 20),
			CPUPercent: p.CPUPercent,
		})
	}
	return st, nil
}

func runList(cmd *cobra.Command, args []string) error {
	sampler := monitor.NewSampler()
	snap, err := sampler.Snapshot(context.Background())
	if err != nil {
		return err
	}

	procs := snap.Processes
	if listCount > 0 && len(procs) > listCount {
		procs = procs[:listCount]
	}

	if jsonOutput {
		type row struct {
			PID        int32   `json:"pid"`
			Name       string  `json:"name"`
			MemoryMB   float64 `json:"memory_mb"`
			CPUPercent float64 `json:"cpu_percent"`
		}
		rows := make([]row, len(procs))
		for i, p := range procs {
			rows[i] = row{p.PID, p.Name, float64(p.MemoryBytes) / (1 << 20), p.CPUPercent}
		}
		return printJSON(rows)
	}

	fmt.Printf("%-8s %-28s %12s %8s\n", "PID", "NAME", "MEMORY", "CPU")
	for _, p := range procs {
		fmt.Printf("%-8d %-28s %9.1f MB %7.1f%%\n",
			p.PID, p.Name, float64(p.MemoryBytes)/(1<<20), p.CPUPercent)
	}
	return nil
}

func runProfiles(cmd *cobra.Command, args []string) error {
	logger := zap.NewNop()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := profile.NewStore(config.ConfigDir(), cfg.DefaultProfile, logger)
	if err != nil {
		return err
	}

	current := store.CurrentName()
	// The daemon's view wins when it is running.
	if name, err := server.NewClient(socketPath).CurrentProfile(); err == nil {
		current = name
	}

	fmt.Println("=== Profiles ===")
	all := store.All()
	for _, name := range store.ListNames() {
		p := all[name]
		marker := ""
		if name == current {
			marker = " (current)"
		}
		fmt.Printf("%s%s\n", name, marker)
		if p.Description != "" {
			fmt.Printf("  %s\n", p.Description)
		}
		fmt.Printf("  CPU: %.0f%%, RAM: %.0f%%, Temp: %.0f°C\n",
			p.Limits.MaxCPUPercent, p.Limits.MaxRAMPercent, p.Limits.MaxTempC)
		fmt.Printf("  Protected: %d | Kill on activate: %d\n",
			len(p.Protected), len(p.KillOnActivate))
	}
	return nil
}

func runMode(cmd *cobra.Command, args []string) error {
	name := args[0]

	// A running daemon applies the activation side effects itself.
	client := server.NewClient(socketPath)
	if activated, err := client.SwitchProfile(name); err == nil {
		fmt.Printf("Switched to profile %q\n", activated)
		return nil
	} else if _, reachErr := client.CurrentProfile(); reachErr == nil {
		// Daemon is up but rejected the switch (e.g. unknown profile).
		return err
	}

	// No daemon: switch locally so the state file carries the selection.
	logger := createLogger()
	defer func() { _ = logger.Sync() }()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	configDir := config.ConfigDir()
	store, err := profile.NewStore(configDir, cfg.DefaultProfile, logger)
	if err != nil {
		return err
	}

	kl := killer.New(killer.NewProcessTable())
	killLog := killer.NewLog(killer.DefaultLogPath(configDir), logger)
	gate := notify.NewGate(cfg.Notifications, logger)
	engine := usecase.NewEngine(cfg, store, monitor.NewSampler(), kl, killLog, gate, logger)

	p, err := engine.SwitchProfile(name)
	if err != nil {
		return err
	}
	fmt.Printf("Switched to profile %q\n", p.Name)
	return nil
}

func runKill(cmd *cobra.Command, args []string) error {
	name := args[0]
	if killer.IsCritical(name) {
		return fmt.Errorf("refusing to kill critical process %q", name)
	}

	logger := createLogger()
	defer func() { _ = logger.Sync() }()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	kl := killer.New(killer.NewProcessTable())
	killLog := killer.NewLog(killer.DefaultLogPath(config.ConfigDir()), logger)

	pids, err := kl.FindByName(name)
	if err != nil {
		return fmt.Errorf("find %q: %w", name, err)
	}
	if len(pids) == 0 {
		fmt.Printf("No process named %q found\n", name)
		return nil
	}

	mode := domain.ModeForced
	if cfg.KillGraceful {
		mode = domain.ModeGraceful
	}
	for _, pid := range pids {
		err := kl.Terminate(pid, cfg.KillGraceful)
		killLog.Record(domain.TerminationOutcome{
			PID:     pid,
			Name:    name,
			Mode:    mode,
			Success: err == nil,
			Err:     err,
			At:      time.Now(),
		})
		if err != nil {
			fmt.Printf("Failed to kill %s (PID: %d): %v\n", name, pid, err)
		} else {
			fmt.Printf("Killed %s (PID: %d)\n", name, pid)
		}
	}
	return nil
}

func runKills(cmd *cobra.Command, args []string) error {
	// Prefer the daemon; read the log file directly otherwise.
	lines, err := server.NewClient(socketPath).RecentKills(killsLimit)
	if err != nil {
		logger := zap.NewNop()
		killLog := killer.NewLog(killer.DefaultLogPath(config.ConfigDir()), logger)
		lines, err = killLog.Tail(killsLimit)
		if err != nil {
			return err
		}
	}

	if len(lines) == 0 {
		fmt.Println("No kills recorded.")
		return nil
	}
	for _, line := range lines {
		fmt.Println(line)
	}
	return nil
}

func runThermal(cmd *cobra.Command, args []string) error {
	zones := monitor.ThermalZones()
	if len(zones) == 0 {
		fmt.Println("No readable thermal zones found.")
		return nil
	}
	fmt.Println("Available thermal zones:")
	for _, z := range zones {
		fmt.Printf("  thermal_zone%d: %s - %.2f°C\n", z.Index, z.Type, z.TempC)
	}
	return nil
}

func runVersion(cmd *cobra.Command, args []string) {
	if jsonOutput {
		fmt.Printf(`{"version":"%s","commit":"%s","build_time":"%s"}`+"\n",
			Version, Commit, BuildTime)
	} else {
		fmt.Printf("kernd %s (commit: %s, built: %s)\n", Version, Commit, BuildTime)
	}
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func createLogger() *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{"/var/tmp/kernd.log"}
	cfg.ErrorOutputPaths = []string{"/var/tmp/kernd.error.log"}
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		// Fallback to stderr if file logging fails
		logger, _ = zap.NewProduction()
	}
	return logger
}
