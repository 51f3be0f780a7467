package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/wsession/wsession/config"
)

var (
	// Global flags
	cfgFile     string
	endpoint    string
	subprotocol string
	logLevel    string
)

var rootCmd = &cobra.Command{
	Use:   "wsclient",
	Short: "Resilient websocket client",
	Long: `wsclient keeps a websocket session to a single endpoint alive across
network failures, queueing outbound messages while disconnected and
reconnecting with exponential backoff.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is <user config dir>/wsclient/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&endpoint, "endpoint", "", "websocket endpoint, e.g. ws://localhost:8080")
	rootCmd.PersistentFlags().StringVar(&subprotocol, "subprotocol", "", "subprotocol offered during the handshake: json or text")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "trace, debug, info, warn, error or disabled")
}

func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}

	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "wsclient", "config.yaml")
}

// loadConfig reads the config file if there is one, falls back to defaults
// plus environment otherwise, and lets flags have the final word. The returned
// path is empty when no file was read.
func loadConfig(cmd *cobra.Command, allowMissing bool) (*config.Config, string, error) {
	path := configPath()

	var fileErr *config.FileError

	cfg, err := config.Load(path)
	if errors.As(err, &fileErr) && allowMissing {
		cfg = config.Default()
		if err := cfg.ApplyEnv(); err != nil {
			return nil, "", err
		}
		path = ""
	} else if err != nil {
		return nil, "", fmt.Errorf("failed to load config: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("endpoint") {
		cfg.Endpoint = endpoint
	}
	if flags.Changed("subprotocol") {
		cfg.Subprotocol = subprotocol
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = logLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}

	return cfg, path, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
