package main

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
	"landscraper/pkg/config"
	"landscraper/pkg/ui"
)

const configHeader = `# landscraper configuration
#
# Every key can be overridden with an environment variable prefixed with
# LANDSCRAPER_, e.g. LANDSCRAPER_MAX_ID or LANDSCRAPER_OUTPUT_DIR, and most
# with a command line flag. Durations use Go syntax: 1.5s, 30m, 12h.

`

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration files",
	Long: `Manage landscraper configuration files.

Configuration can be loaded from:
  - Command line flags (highest priority)
  - Environment variables (LANDSCRAPER_*)
  - .env files
  - Configuration file
  - Default values (lowest priority)`,
}

// initCmd represents the config init command
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a configuration file with the default values",
	Long: `Create a configuration file holding every option with its default value.

The file is created as '.landscraper.yaml' in the current directory unless a
different path is given with --config.`,
	Run: runConfigInit,
}

// showCmd represents the config show command
var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Run:   runConfigShow,
}

// validateCmd represents the config validate command
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration",
	Long: `Load the configuration from all sources and check it.

Besides the value checks done on every start this verifies that the endpoint
templates are valid URLs and that the output and log directories can be
created.`,
	Run: runConfigValidate,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(initCmd)
	configCmd.AddCommand(showCmd)
	configCmd.AddCommand(validateCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) {
	configPath := configFile
	if configPath == "" {
		configPath = ".landscraper.yaml"
	}

	if _, err := os.Stat(configPath); err == nil {
		ui.PrintError("Configuration file already exists", configPath)
		fmt.Println("\nTo overwrite, first remove the existing file:")
		fmt.Printf("  rm %s\n", configPath)
		os.Exit(1)
	}

	data, err := yaml.Marshal(config.DefaultConfig())
	if err != nil {
		ui.PrintError("Failed to format configuration", err.Error())
		os.Exit(1)
	}

	if err := os.WriteFile(configPath, append([]byte(configHeader), data...), 0644); err != nil {
		ui.PrintError("Failed to create configuration file", err.Error())
		os.Exit(1)
	}

	ui.PrintSuccess("Configuration file created: " + configPath)
	fmt.Println("\nNext steps:")
	fmt.Println("1. Set scan.min_id and scan.max_id to the range you want to extract")
	fmt.Println("2. Run 'landscraper config validate' to check the configuration")
	fmt.Println("3. Start with 'landscraper run' or schedule 'landscraper watchdog'")
}

func runConfigShow(cmd *cobra.Command, args []string) {
	cfg, err := config.Load(configFile, globalFlags())
	if err != nil {
		ui.PrintError("Failed to load configuration", err.Error())
		os.Exit(1)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		ui.PrintError("Failed to format configuration", err.Error())
		os.Exit(1)
	}

	ui.PrintHighlight("Current Configuration")
	fmt.Println()
	fmt.Print(string(data))

	fmt.Println("\nConfiguration sources (in order of priority):")
	fmt.Println("1. Command line flags")
	fmt.Println("2. Environment variables (LANDSCRAPER_*)")
	if configFile != "" {
		fmt.Printf("3. Configuration file: %s\n", configFile)
	} else {
		fmt.Println("3. Configuration file: (searched in default locations)")
	}
	fmt.Println("4. Default values")
}

func runConfigValidate(cmd *cobra.Command, args []string) {
	cfg, err := config.Load(configFile, globalFlags())
	if err != nil {
		ui.PrintError("Configuration validation failed", err.Error())
		os.Exit(1)
	}

	problems := checkEnvironment(cfg)
	if len(problems) > 0 {
		ui.PrintError("Configuration has errors:")
		for _, p := range problems {
			fmt.Printf("  - %s\n", p)
		}
		os.Exit(1)
	}

	ui.PrintSuccess("Configuration is valid")

	fmt.Println("\nConfiguration summary:")
	fmt.Printf("  Region range: %d-%d\n", cfg.Scan.MinID, cfg.Scan.MaxID)
	fmt.Printf("  Output directory: %s\n", cfg.Download.OutputDir)
	fmt.Printf("  Concurrent downloads: %d\n", cfg.Download.ConcurrentDownloads)
	fmt.Printf("  Checkpoint: %s\n", cfg.State.CheckpointFile)
	fmt.Printf("  Run marker: %s\n", cfg.State.LockFile)
	fmt.Printf("  Max attempts: %d\n", cfg.Retry.MaxAttempts)
	fmt.Printf("  Log directory: %s (%s)\n", cfg.Logging.Dir, cfg.Logging.Level)
}

// checkEnvironment reports problems Validate cannot see from values alone
func checkEnvironment(cfg *config.Config) []string {
	var problems []string

	for name, tmpl := range map[string]string{
		"probe_url":    cfg.Remote.ProbeURL,
		"download_url": cfg.Remote.DownloadURL,
	} {
		u, err := url.Parse(strings.ReplaceAll(tmpl, "{id}", "1"))
		if err != nil || u.Scheme == "" || u.Host == "" {
			problems = append(problems, fmt.Sprintf("%s is not an absolute URL: %s", name, tmpl))
		}
	}

	if err := os.MkdirAll(cfg.Download.OutputDir, 0755); err != nil {
		problems = append(problems, fmt.Sprintf("Cannot create output directory: %v", err))
	}
	if err := os.MkdirAll(cfg.Logging.Dir, 0755); err != nil {
		problems = append(problems, fmt.Sprintf("Cannot create log directory: %v", err))
	}

	return problems
}
