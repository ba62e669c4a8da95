package commands

import (
	"fmt"
	"path/filepath"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/teranos/missionctl/am"
	"github.com/teranos/missionctl/errors"
	"github.com/teranos/missionctl/sym"
)

// AmCmd represents the am (configuration) command
var AmCmd = &cobra.Command{
	Use:   "am",
	Short: sym.AM + " Manage mctl configuration",
	Long: sym.AM + ` am - Manage mctl configuration ("I am")

Configuration sources (in order of precedence):
1. Environment variables (MCTL_* prefix, e.g. MCTL_SERVER_PORT)
2. Project config (./am.toml, searched upwards)
3. User config (~/.mctl/am.toml)
4. System config (/etc/mctl/am.toml)
5. Default values

--config replaces the cascade with a single file.

Examples:
  mctl am show                    # Show current configuration
  mctl am show --format json      # Show configuration in JSON format
  mctl am get dispatch.max_retries
  mctl am init                    # Write ./am.toml with every default`,
}

var amShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  "Display the merged configuration from all sources. API keys and secrets are redacted.",
	RunE:  runAmShow,
}

var amGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a specific configuration value",
	Long:  "Get a specific configuration value using dot notation (e.g., database.path, pulse.workers)",
	Args:  cobra.ExactArgs(1),
	RunE:  runAmGet,
}

var amValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate current configuration",
	RunE:  runAmValidate,
}

var amWhereCmd = &cobra.Command{
	Use:   "where",
	Short: "Show which configuration files were loaded",
	RunE:  runAmWhere,
}

var amInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a configuration file with every default",
	RunE:  runAmInit,
}

var (
	configFormat string
	initPath     string
	initForce    bool
)

func init() {
	amShowCmd.Flags().StringVar(&configFormat, "format", "toml", "Output format: toml, json, yaml")
	amInitCmd.Flags().StringVar(&initPath, "path", "am.toml", "Where to write the file")
	amInitCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing file (the old one is kept as .back1)")

	AmCmd.AddCommand(amShowCmd)
	AmCmd.AddCommand(amGetCmd)
	AmCmd.AddCommand(amValidateCmd)
	AmCmd.AddCommand(amWhereCmd)
	AmCmd.AddCommand(amInitCmd)
}

// configViper returns the viper instance backing the active configuration
func configViper() (*viper.Viper, error) {
	if configFile == "" {
		return am.GetViper(), nil
	}
	v := viper.New()
	v.SetConfigFile(configFile)
	v.SetConfigType("toml")
	am.SetDefaults(v)
	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "failed to read config file %s", configFile)
	}
	return v, nil
}

func runAmShow(cmd *cobra.Command, args []string) error {
	v, err := configViper()
	if err != nil {
		return err
	}
	data, err := am.Marshal(v.AllSettings(), configFormat)
	if err != nil {
		return err
	}
	if configFormat != "json" {
		fmt.Fprintln(cmd.OutOrStdout(), "# mctl configuration")
	}
	fmt.Fprint(cmd.OutOrStdout(), string(data))
	if configFormat == "json" {
		fmt.Fprintln(cmd.OutOrStdout())
	}
	return nil
}

func runAmGet(cmd *cobra.Command, args []string) error {
	v, err := configViper()
	if err != nil {
		return err
	}
	key := args[0]
	if !v.IsSet(key) {
		return errors.Newf("configuration key %q not found", key)
	}
	fmt.Fprintln(cmd.OutOrStdout(), v.Get(key))
	return nil
}

func runAmValidate(cmd *cobra.Command, args []string) error {
	if _, err := loadConfig(); err != nil {
		return err
	}
	pterm.Success.Println("Configuration is valid")
	return nil
}

func runAmWhere(cmd *cobra.Command, args []string) error {
	if configFile != "" {
		abs, _ := filepath.Abs(configFile)
		pterm.Info.Printf("Using --config %s (cascade skipped)\n", abs)
		return nil
	}
	am.GetViper()
	files := am.LoadedFiles()
	if len(files) == 0 {
		pterm.Info.Println("No config files found, running on defaults and MCTL_* environment")
		return nil
	}
	pterm.Info.Println("Merged config files, lowest precedence first:")
	for _, f := range files {
		fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", f)
	}
	return nil
}

func runAmInit(cmd *cobra.Command, args []string) error {
	if err := am.WriteDefaultConfig(initPath, initForce); err != nil {
		return err
	}
	pterm.Success.Printf("Wrote %s\n", initPath)
	return nil
}
