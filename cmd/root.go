package cmd

import (
	"errors"
	"fmt"
	"os"

	"print-marketplace/internal/application"
	"print-marketplace/internal/config"
	"print-marketplace/internal/display"
	"print-marketplace/internal/logging"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Version information (set by main package)
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
	goVersion = "unknown"
)

// SetVersionInfo sets the version information from build flags
func SetVersionInfo(v, bt, gc, gv string) {
	version = v
	buildTime = bt
	gitCommit = gc
	goVersion = gv
}

// globalOptions are the persistent flags shared by every subcommand
type globalOptions struct {
	cfgFile string
	verbose bool
	quiet   bool
	noColor bool
	noIcons bool
}

// flagBindings maps persistent flags onto configuration keys. Only flags set
// on the command line override the file and the environment.
var flagBindings = map[string]string{
	"format":      "display.output_format",
	"theme":       "display.theme",
	"table-style": "display.table_style",
	"log-file":    "logging.file",
	"log-format":  "logging.format",
	"db-driver":   "database.driver",
	"db-host":     "database.host",
	"db-port":     "database.port",
	"db-user":     "database.username",
	"db-name":     "database.database",
	"db-path":     "database.path",
}

// NewRootCommand builds the command tree
func NewRootCommand() *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:   "print-marketplace",
		Short: "Backend for a 3D-print model marketplace",
		Long: `print-marketplace serves the marketplace HTTP API (users, products, orders
and settings) and manages full-database backups.

A backup is a single JSON document holding every user, product, order and
settings row. Restoring one replaces all marketplace data inside a single
transaction: either every collection is replaced or nothing changes.

Examples:
  # Start the HTTP server
  print-marketplace serve --listen :3000

  # Export all data to a file
  print-marketplace backup export --output marketplace-backup.json

  # Restore a backup after reviewing the summary
  print-marketplace backup restore marketplace-backup.json

  # Keep a server-side archive and list archives as JSON
  print-marketplace backup export --archive
  print-marketplace backup archives list --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.verbose && opts.quiet {
				return fmt.Errorf("--verbose and --quiet flags are mutually exclusive")
			}
			return nil
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.cfgFile, "config", "", "config file (default is ./.print-marketplace.yaml or $HOME/.print-marketplace.yaml)")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "enable verbose output")
	flags.BoolVarP(&opts.quiet, "quiet", "q", false, "suppress non-error output")
	flags.BoolVar(&opts.noColor, "no-color", false, "disable color output")
	flags.BoolVar(&opts.noIcons, "no-icons", false, "disable Unicode icons")
	flags.String("format", "", "output format (table, json, yaml, compact)")
	flags.String("theme", "", "color theme (dark, light, high-contrast, plain)")
	flags.String("table-style", "", "table style (default, rounded, minimal)")
	flags.String("log-file", "", "also write logs to this file")
	flags.String("log-format", "", "log format (text, json)")
	flags.String("db-driver", "", "database driver (pgx, mysql, sqlite3)")
	flags.String("db-host", "", "database host")
	flags.Int("db-port", 0, "database port")
	flags.String("db-user", "", "database username (set the password with MARKETPLACE_DATABASE_PASSWORD)")
	flags.String("db-name", "", "database name")
	flags.String("db-path", "", "sqlite3 database file")

	rootCmd.AddCommand(
		newServeCommand(opts),
		newBackupCommand(opts),
		newMigrateCommand(opts),
		newConfigCommand(opts),
		newVersionCommand(),
	)
	return rootCmd
}

// Execute runs the command tree and exits non-zero on failure.
// This is called by main.main().
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		if !errors.Is(err, errReported) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

// loadConfig merges defaults, the config file, MARKETPLACE_* variables and
// the flags set on cmd
func (opts *globalOptions) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	v := config.NewViper(opts.cfgFile)

	var bindErr error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		key, ok := flagBindings[f.Name]
		if !ok {
			values := f.Annotations[configKeyAnnotation]
			if len(values) == 0 {
				return
			}
			key = values[0]
		}
		if err := v.BindPFlag(key, f); err != nil && bindErr == nil {
			bindErr = err
		}
	})
	if bindErr != nil {
		return nil, fmt.Errorf("failed to bind flags: %w", bindErr)
	}

	if err := config.ReadFile(v, opts.cfgFile != ""); err != nil {
		return nil, err
	}
	if opts.verbose {
		v.Set("logging.level", string(logging.LogLevelVerbose))
		v.Set("display.verbose", true)
	}
	if opts.quiet {
		v.Set("logging.level", string(logging.LogLevelQuiet))
		v.Set("display.quiet", true)
	}
	if opts.noColor {
		v.Set("display.color_enabled", false)
	}
	if opts.noIcons {
		v.Set("display.use_icons", false)
	}

	cfg, err := config.Load(v)
	if err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	if cfg.File != "" && opts.verbose {
		fmt.Fprintln(os.Stderr, "Using config file:", cfg.File)
	}
	return cfg, nil
}

// configKeyAnnotation binds a subcommand flag to a configuration key
const configKeyAnnotation = "config_key"

// bindFlag marks a subcommand flag as an override for key
func bindFlag(cmd *cobra.Command, flag, key string) {
	cobra.CheckErr(cmd.Flags().SetAnnotation(flag, configKeyAnnotation, []string{key}))
}

// session is the configuration, application and display one command works with
type session struct {
	config  *config.Config
	app     *application.Application
	display display.DisplayService
}

func (opts *globalOptions) newSession(cmd *cobra.Command) (*session, error) {
	cfg, err := opts.loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	app, err := application.NewApplication(cfg, application.WithErrorOutput(cmd.ErrOrStderr()))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize application: %w", err)
	}

	displayCfg := cfg.Display
	displayCfg.Writer = cmd.OutOrStdout()
	return &session{
		config:  cfg,
		app:     app,
		display: display.NewDisplayService(&displayCfg),
	}, nil
}

// fail reports err through the application error handler once and hands a
// short error back to cobra
func (s *session) fail(err error) error {
	s.app.HandleError(err)
	return errReported
}

var errReported = errors.New("command failed")

func (s *session) close() {
	if err := s.app.Close(); err != nil {
		s.app.GetLogger().WithField("error", err.Error()).Warn("Failed to close resources")
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "print-marketplace version %s\n", version)
			fmt.Fprintf(out, "Built: %s\n", buildTime)
			fmt.Fprintf(out, "Commit: %s\n", gitCommit)
			fmt.Fprintf(out, "Go version: %s\n", goVersion)
		},
	}
}
