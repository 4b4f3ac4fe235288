package cmd

import (
	"github.com/spf13/cobra"
)

func newServeCommand(opts *globalOptions) *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the marketplace HTTP API",
		Long: `Run the marketplace HTTP API until interrupted.

The database schema is created on start, together with the default
administrator account and the settings row when they are missing.
SIGINT or SIGTERM stop the server after in-flight requests finish.

Examples:
  print-marketplace serve
  print-marketplace serve --listen 127.0.0.1:8080 --static-dir ./dist
  MARKETPLACE_DATABASE_DRIVER=sqlite3 print-marketplace serve`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.newSession(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			if err := s.app.Serve(cmd.Context(), version); err != nil {
				return s.fail(err)
			}
			return nil
		},
	}

	serveCmd.Flags().String("listen", "", "HTTP listen address (default :3000)")
	serveCmd.Flags().String("static-dir", "", "serve a built frontend from this directory")
	serveCmd.Flags().String("upload-dir", "", "temporary directory for restore uploads")
	bindFlag(serveCmd, "listen", "server.listen")
	bindFlag(serveCmd, "static-dir", "server.static_dir")
	bindFlag(serveCmd, "upload-dir", "server.upload_dir")
	return serveCmd
}

func newMigrateCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the marketplace tables and default rows",
		Long: `Create the users, products, orders and settings tables when missing, then
seed the default administrator and settings. Running it again changes nothing.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.newSession(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			if err := s.app.Migrate(cmd.Context()); err != nil {
				return s.fail(err)
			}
			s.display.Success("Database schema is up to date: " + s.app.Target())
			return nil
		},
	}
}
