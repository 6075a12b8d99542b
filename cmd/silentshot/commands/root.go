package commands

import (
	"fmt"
	"os"

	"github.com/bryanchriswhite/SilentShot/internal/config"
	"github.com/bryanchriswhite/SilentShot/internal/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "silentshot",
		Short: "SilentShot - background hotkey screenshots",
		Long: `SilentShot runs in the background, watches a hotkey and writes a
screenshot of the whole screen (or of the focused window while the modifier
is held) to a folder, converting each capture to PNG off the capture path.

Features:
  • Poll-based hotkey detection via X11 or a global input hook
  • Full-screen or active-window crops
  • Collision-free, time-ordered file names
  • Background PNG conversion with crash-recovery sweep
  • Persistent configuration with live reload
  • Optional local status API`,
		SilenceUsage: true,
	}
)

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $XDG_CONFIG_HOME/silentshot/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("dest", "", "destination folder for this run (not persisted)")
	rootCmd.PersistentFlags().String("format", "", "output format for this run: raw, png or both (not persisted)")

	// Bind flags to viper
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("destination", rootCmd.PersistentFlags().Lookup("dest"))
	viper.BindPFlag("output_format", rootCmd.PersistentFlags().Lookup("format"))
}

// loadConfig opens the config file, applies the command-line overrides and
// initializes logging from the result.
func loadConfig() (*config.Manager, error) {
	mgr, err := config.NewManager(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := mgr.Override(config.Overrides{
		Destination: viper.GetString("destination"),
		Format:      viper.GetString("output_format"),
		LogLevel:    viper.GetString("log_level"),
	}); err != nil {
		return nil, err
	}

	logger.Init(mgr.Get().LogLevel, false)
	return mgr, nil
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
