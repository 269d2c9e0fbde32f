package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/iksnae/yeschef-session/internal"
	"github.com/spf13/cobra"
)

var (
	verbose    bool
	configPath string
	storeKind  string
	storePath  string
	version    string = "dev"
	commit     string = "unknown"
	date       string = "unknown"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "yeschef",
	Short: "Cook along with a live voice assistant",
	Long: `A terminal cook screen for YesChef live sessions.

yeschef walks a recipe step by step while a voice assistant listens in over a
realtime room. Sessions can be paused and picked up again for four hours.

Features:
  • Start, pause and resume cook sessions
  • Token acquisition with automatic retry
  • Microphone and camera control, including flipping the camera
  • Export paused sessions (JSONL, Markdown, YAML, JSON)
  • A local gateway for recipes, tokens and the room relay

Quick Start:
  yeschef serve                          # Run the local gateway
  yeschef cook <recipe-id>               # Start cooking
  yeschef list                           # Show resumable sessions`,
	Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		internal.SetVerbose(verbose)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default ~/.yeschef/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&storeKind, "store", "", "Checkpoint backend (sqlite, file, memory)")
	rootCmd.PersistentFlags().StringVar(&storePath, "store-path", "", "Checkpoint database file or directory")

	// Set version template to ensure --version flag works
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
}

// loadConfig reads the config file, then applies persistent flag overrides.
func loadConfig() (internal.Config, error) {
	path := configPath
	if path == "" {
		dir, err := internal.DefaultDataDir()
		if err == nil {
			path = filepath.Join(dir, "config.yaml")
		}
	}

	cfg, err := internal.LoadConfig(path)
	if err != nil {
		return cfg, err
	}
	if storeKind != "" {
		cfg.Checkpoint.Backend = storeKind
	}
	if storePath != "" {
		cfg.Checkpoint.Path = storePath
	}
	return cfg, cfg.Validate()
}

// openCheckpoints opens the configured checkpoint store.
func openCheckpoints(cfg internal.Config) (*internal.Checkpoints, error) {
	kv, err := internal.OpenKVStore(cfg.Checkpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint store: %w", err)
	}
	return internal.NewCheckpoints(kv, cfg.Checkpoint.Prefix, cfg.Checkpoint.TTL), nil
}
