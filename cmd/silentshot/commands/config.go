package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage SilentShot configuration",
	Long:  `View and manage SilentShot configuration settings.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  `Display the effective configuration, including command-line overrides.`,
	Example: `  # Show configuration as YAML (default)
  silentshot config show

  # Show configuration as JSON
  silentshot config show --output json`,
	RunE: runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set KEY VALUE",
	Short: "Set a configuration value",
	Long: `Set a configuration value and save it. Values are converted to the
key's type, so durations accept "250ms" and counts accept "4".`,
	Example: `  # Change the destination folder
  silentshot config set output.destination ~/Pictures/shots

  # Keep raw bitmaps next to the PNGs
  silentshot config set output.format both

  # Poll at 120 Hz
  silentshot config set capture.poll_interval 8ms`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configGetCmd = &cobra.Command{
	Use:   "get KEY",
	Short: "Get a configuration value",
	Long:  `Get a specific configuration value as stored in the config file.`,
	Example: `  silentshot config get output.destination
  silentshot config get capture.poll_interval`,
	Args: cobra.ExactArgs(1),
	RunE: runConfigGet,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show configuration file path",
	Long:  `Display the path to the configuration file.`,
	RunE:  runConfigPath,
}

var outputFlag string

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configPathCmd)

	configShowCmd.Flags().StringVarP(&outputFlag, "output", "o", "yaml", "output format (yaml or json)")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	mgr, err := loadConfig()
	if err != nil {
		return err
	}

	cfg := mgr.Get()

	switch outputFlag {
	case "json":
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(cfg)
	case "yaml":
		encoder := yaml.NewEncoder(os.Stdout)
		encoder.SetIndent(2)
		return encoder.Encode(cfg)
	default:
		return fmt.Errorf("unsupported output: %s (use 'yaml' or 'json')", outputFlag)
	}
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key, value := args[0], args[1]

	mgr, err := loadConfig()
	if err != nil {
		return err
	}

	if err := mgr.Set(key, value); err != nil {
		return err
	}

	stored, _ := mgr.Lookup(key)
	fmt.Printf("✅ Configuration updated: %s = %v\n", key, stored)
	return nil
}

func runConfigGet(cmd *cobra.Command, args []string) error {
	mgr, err := loadConfig()
	if err != nil {
		return err
	}

	val, ok := mgr.Lookup(args[0])
	if !ok {
		return fmt.Errorf("configuration key not found: %s", args[0])
	}

	fmt.Println(val)
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	mgr, err := loadConfig()
	if err != nil {
		return err
	}

	fmt.Println(mgr.GetConfigPath())
	return nil
}
