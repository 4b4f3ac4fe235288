package cmd

import (
	"fmt"
	"strings"

	"print-marketplace/internal/config"
	"print-marketplace/internal/display"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newConfigCommand(opts *globalOptions) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Generate a sample configuration file",
		Long: `Print a configuration template holding every option and its default.

Examples:
  # Generate a config file
  print-marketplace config > .print-marketplace.yaml

  # Show the configuration after file, environment and flags are merged
  print-marketplace config show

  # Check directories, archive storage and the encryption key
  print-marketplace config check`,
		Args: cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprint(cmd.OutOrStdout(), config.GenerateConfigTemplate())
		},
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig(cmd)
			if err != nil {
				return err
			}
			masked := *cfg
			masked.Database.Password = mask(masked.Database.Password)
			masked.Backup.Storage.S3.SecretKey = mask(masked.Backup.Storage.S3.SecretKey)
			masked.Backup.Storage.Azure.AccountKey = mask(masked.Backup.Storage.Azure.AccountKey)
			masked.Backup.Encryption.Passphrase = mask(masked.Backup.Encryption.Passphrase)

			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if cfg.File != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "# loaded from %s\n", cfg.File)
			}
			if err := enc.Encode(masked); err != nil {
				return fmt.Errorf("failed to encode configuration: %w", err)
			}
			return enc.Close()
		},
	}

	envCmd := &cobra.Command{
		Use:   "env",
		Short: "List the environment variables that override configuration keys",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			for _, name := range config.EnvironmentVariables(config.NewViper("")) {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
		},
	}

	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Check directories, archive storage and the encryption key",
		Long: `Check that the upload and archive directories are writable, cloud storage
credentials are present and the archive encryption key can be loaded.
Missing local directories are created.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig(cmd)
			if err != nil {
				return err
			}
			displayCfg := cfg.Display
			displayCfg.Writer = cmd.OutOrStdout()
			ds := display.NewDisplayService(&displayCfg)

			result := cfg.Check()
			printCheckResult(ds, cfg, result)
			if !result.OK() {
				return fmt.Errorf("configuration check found %d errors", len(result.Errors))
			}
			return nil
		},
	}

	configCmd.AddCommand(showCmd, envCmd, checkCmd)
	return configCmd
}

func printCheckResult(ds display.DisplayService, cfg *config.Config, result *config.CheckResult) {
	file := cfg.File
	if file == "" {
		file = "(defaults and environment)"
	}
	status := "ok"
	if !result.OK() {
		status = "failed"
	}
	ds.PrintRecord("config_check", []display.Field{
		{Key: "config_file", Value: file},
		{Key: "database", Value: cfg.Database.Driver + " " + cfg.Database.Target()},
		{Key: "archive_storage", Value: strings.ToLower(string(cfg.Backup.Storage.Provider))},
		{Key: "status", Value: status},
	})

	for _, e := range result.Errors {
		ds.Error(e)
	}
	for _, w := range result.Warnings {
		ds.Warning(w)
	}
	for _, fix := range result.RecommendedFixes {
		ds.Info(fix)
	}
	if result.OK() {
		ds.Success("Configuration check passed")
	}
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return "********"
}
