package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"go.aimuz.me/voxtype/config"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	cfgFile  string
	logLevel string
	cfg      *config.Config
)

var rootCmd = &cobra.Command{
	Use:           "voxtype",
	Short:         "Hands-free dictation into any application",
	Long:          "voxtype listens for a hotkey or wake word, streams speech to a transcription service, and types the result into the focused application.",
	Version:       fmt.Sprintf("%s (%s, %s)", version, commit, date),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if cfgFile != "" {
			cfg, err = config.LoadFile(cfgFile)
		} else {
			cfg, err = config.Load()
		}
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		setupLogging(cfg.LogLevel)
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the config file location and active settings",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Config file: %s\n", cfg.Path())
		fmt.Printf("  Hotkey: %s (%s)\n", cfg.Activation.Hotkey, cfg.Activation.HotkeySource)
		fmt.Printf("  Wake words: %d\n", len(cfg.Activation.WakeWords))
		fmt.Printf("  Transport: %s\n", cfg.Transcription.Transport)
		fmt.Printf("  Audio backend: %s\n", cfg.Audio.Backend)
		fmt.Printf("  Strategies: %v\n", cfg.Delivery.Strategies)
		fmt.Printf("  History: %v\n", cfg.History.Enabled)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is <user config dir>/voxtype/config.json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log level (debug, info, warn, error)")
}

// setupLogging installs the default text logger. The flag wins over config.
func setupLogging(level string) {
	if logLevel != "" {
		level = logLevel
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}

func main() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(transportsCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(configCmd)

	if err := rootCmd.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}
