// ABOUTME: Entry point for the resonate-av player
// ABOUTME: Defines the cobra root command, config loading and log setup
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Resonate-Protocol/resonate-av/internal/config"
	"github.com/Resonate-Protocol/resonate-av/internal/version"
)

var (
	// Global flags
	configPath string
	logFile    string
	logLevel   string

	// Loaded in PersistentPreRunE, flags applied.
	globalConfig config.Config
)

var rootCmd = &cobra.Command{
	Use:   "resonate-av",
	Short: "Audio decoding, filtering and A/V sync player",
	Long: `resonate-av decodes audio, runs it through a filter chain and keeps it
in sync with a master clock: a synthetic video frame clock, or the clock of a
stream server.

Sources:
  tone[:hz]            generated sine wave
  <file>               wav, mp3, flac, opus/ogg, or an http(s) URL
  ws://host:port/path  stream server
  rtp:<port>           Opus over RTP
  (none)               stream server found over mDNS`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("log-file") {
			cfg.Log.File = logFile
		}
		if cmd.Flags().Changed("log-level") {
			cfg.Log.Level = logLevel
		}
		globalConfig = cfg
		return config.Validate(cfg)
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", "", "YAML config file")
	pf.StringVar(&logFile, "log-file", "", "log file path (default resonate-av.log)")
	pf.StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")

	rootCmd.AddCommand(newPlayCmd(), newSimulateCmd(), newDiscoverCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// setupLogging opens the log file. With a TUI on screen logs go to the file
// only; otherwise to stdout and the file.
func setupLogging(cfg config.LogConfig, useTUI bool, stdout io.Writer) (*slog.Logger, func(), error) {
	level, err := config.ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}

	var w io.Writer = stdout
	closeFn := func() {}
	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o666)
		if err != nil {
			return nil, nil, fmt.Errorf("error opening log file: %w", err)
		}
		closeFn = func() { _ = f.Close() }
		if useTUI {
			w = f
		} else {
			w = io.MultiWriter(stdout, f)
		}
	} else if useTUI {
		w = io.Discard
	}

	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger, closeFn, nil
}
