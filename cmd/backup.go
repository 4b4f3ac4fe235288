package cmd

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"print-marketplace/internal/backup"
	"print-marketplace/internal/confirmation"
	"print-marketplace/internal/display"

	"github.com/spf13/cobra"
)

func newBackupCommand(opts *globalOptions) *cobra.Command {
	backupCmd := &cobra.Command{
		Use:   "backup",
		Short: "Export, restore and archive marketplace data",
		Long: `Export, restore and archive marketplace data.

A backup is one JSON document with the users, products, orders and settings
collections. Archives are server-side copies of exports kept in the configured
storage (local, s3, azure or gcs), compressed and optionally encrypted.

Examples:
  # Print a backup to stdout
  print-marketplace backup export > backup.json

  # Write a backup file and keep an archive copy
  print-marketplace backup export --output backup.json --archive

  # Restore without the confirmation prompt
  print-marketplace backup restore backup.json --yes

  # Restore an archive
  print-marketplace backup restore --archive 3f0c2f9e-...

  # Drop archives outside the retention policy
  print-marketplace backup archives prune --dry-run`,
	}

	backupCmd.AddCommand(
		newBackupExportCommand(opts),
		newBackupRestoreCommand(opts),
		newArchivesCommand(opts),
	)
	return backupCmd
}

func newBackupExportCommand(opts *globalOptions) *cobra.Command {
	var (
		output      string
		archive     bool
		description string
	)

	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Export every collection to a backup document",
		Long: `Export every collection to a backup document.

Without --output or --archive the document is written to stdout.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.newSession(cmd)
			if err != nil {
				return err
			}
			defer s.close()
			ctx := cmd.Context()

			doc, err := s.app.Export(ctx)
			if err != nil {
				return s.fail(err)
			}

			if output == "" && !archive {
				data, err := doc.Marshal()
				if err != nil {
					return s.fail(err)
				}
				_, err = cmd.OutOrStdout().Write(append(data, '\n'))
				return err
			}

			if output != "" {
				data, err := doc.Marshal()
				if err != nil {
					return s.fail(err)
				}
				if err := os.WriteFile(output, data, 0o600); err != nil {
					return s.fail(fmt.Errorf("failed to write %s: %w", output, err))
				}
				s.display.Success(fmt.Sprintf("Backup written to %s (%s)", output, formatBytes(int64(len(data)))))
			}

			if archive {
				archiver, err := s.app.Archiver(ctx)
				if err != nil {
					return s.fail(err)
				}
				meta, err := archiver.Save(ctx, doc, backup.SaveOptions{CreatedBy: "cli", Description: description})
				if err != nil {
					return s.fail(err)
				}
				s.display.Success("Archive saved: " + meta.ID)
				printArchive(s.display, meta)
				return nil
			}

			printSummary(s.display, doc.Summary())
			return nil
		},
	}

	exportCmd.Flags().StringVarP(&output, "output", "o", "", "write the backup to this file")
	exportCmd.Flags().BoolVar(&archive, "archive", false, "save the backup as a server-side archive")
	exportCmd.Flags().StringVar(&description, "description", "", "archive description")
	return exportCmd
}

func newBackupRestoreCommand(opts *globalOptions) *cobra.Command {
	var (
		archiveID   string
		autoApprove bool
	)

	restoreCmd := &cobra.Command{
		Use:   "restore [file]",
		Short: "Replace all marketplace data with a backup",
		Long: `Replace all marketplace data with a backup file or an archive.

The current and incoming row counts are shown before anything changes. The
restore runs in one transaction: on any failure the current data stays in
place. Answer 'd' at the prompt to see the steps of the restore.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if (len(args) == 1) == (archiveID != "") {
				return errors.New("specify either a backup file or --archive")
			}

			s, err := opts.newSession(cmd)
			if err != nil {
				return err
			}
			defer s.close()
			ctx := cmd.Context()

			var (
				doc    *backup.Document
				source string
			)
			if archiveID != "" {
				archiver, err := s.app.Archiver(ctx)
				if err != nil {
					return s.fail(err)
				}
				if doc, _, err = archiver.Load(ctx, archiveID); err != nil {
					return s.fail(err)
				}
				source = "archive " + archiveID
			} else {
				data, err := os.ReadFile(args[0])
				if err != nil {
					return s.fail(fmt.Errorf("failed to read %s: %w", args[0], err))
				}
				if doc, err = backup.ParseDocument(data); err != nil {
					return s.fail(err)
				}
				source = args[0]
			}

			current, err := s.app.CurrentSummary(ctx)
			if err != nil {
				return s.fail(err)
			}

			plan := confirmation.RestorePlan{
				Source:   source,
				Target:   s.app.Target(),
				Current:  current,
				Incoming: doc.Summary(),
			}
			confirmed, err := confirmation.NewConfirmationService(s.display, cmd.InOrStdin()).
				ConfirmRestore(ctx, plan, autoApprove)
			if err != nil {
				return err
			}
			if !confirmed {
				return nil
			}

			summary, err := s.app.Restore(ctx, doc)
			if err != nil {
				return s.fail(err)
			}
			s.display.Success(fmt.Sprintf("Restored %d records", summary.Total()))
			printSummary(s.display, summary)
			return nil
		},
	}

	restoreCmd.Flags().StringVar(&archiveID, "archive", "", "restore this archive instead of a file")
	restoreCmd.Flags().BoolVarP(&autoApprove, "yes", "y", false, "skip the confirmation prompt")
	return restoreCmd
}

func newArchivesCommand(opts *globalOptions) *cobra.Command {
	archivesCmd := &cobra.Command{
		Use:     "archives",
		Aliases: []string{"archive"},
		Short:   "List, delete and prune server-side archives",
	}

	var limit int
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List archives, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.newSession(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			archiver, err := s.app.Archiver(cmd.Context())
			if err != nil {
				return s.fail(err)
			}
			archives, err := archiver.List(cmd.Context(), backup.StorageFilter{MaxItems: limit})
			if err != nil {
				return s.fail(err)
			}
			printArchiveList(s.display, archives)
			return nil
		},
	}
	listCmd.Flags().IntVar(&limit, "limit", 50, "maximum number of archives to list (0 lists all)")

	deleteCmd := &cobra.Command{
		Use:   "delete <archive-id>...",
		Short: "Delete archives",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.newSession(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			archiver, err := s.app.Archiver(cmd.Context())
			if err != nil {
				return s.fail(err)
			}
			for _, id := range args {
				if err := archiver.Delete(cmd.Context(), id); err != nil {
					return s.fail(err)
				}
				s.display.Success("Archive deleted: " + id)
			}
			return nil
		},
	}

	var (
		dryRun      bool
		maxArchives int
		maxAge      time.Duration
	)
	pruneCmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete archives outside the retention policy",
		Long: `Delete archives outside the retention policy configured under
backup.retention. --max-archives and --max-age override it for one run.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.newSession(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			policy := s.config.Backup.Retention
			if cmd.Flags().Changed("max-archives") {
				policy.MaxArchives = maxArchives
			}
			if cmd.Flags().Changed("max-age") {
				policy.MaxAge = maxAge
			}
			if policy.MaxArchives <= 0 && policy.MaxAge <= 0 {
				s.display.Warning("No retention policy configured, nothing to prune")
				return nil
			}

			archiver, err := s.app.Archiver(cmd.Context())
			if err != nil {
				return s.fail(err)
			}
			result, err := archiver.Prune(cmd.Context(), policy, dryRun)
			if err != nil {
				return s.fail(err)
			}
			printPruneResult(s.display, result)
			if len(result.Errors) > 0 {
				return fmt.Errorf("%d archives could not be deleted", len(result.Errors))
			}
			return nil
		},
	}
	pruneCmd.Flags().BoolVar(&dryRun, "dry-run", false, "show what would be deleted")
	pruneCmd.Flags().IntVar(&maxArchives, "max-archives", 0, "keep at most this many archives")
	pruneCmd.Flags().DurationVar(&maxAge, "max-age", 0, "delete archives older than this, e.g. 720h")

	archivesCmd.AddCommand(listCmd, deleteCmd, pruneCmd)
	return archivesCmd
}

func printSummary(ds display.DisplayService, summary backup.Summary) {
	counts := summary.Map()
	rows := make([][]string, 0, len(backup.Collections)+1)
	for _, collection := range backup.Collections {
		rows = append(rows, []string{collection, strconv.Itoa(counts[collection])})
	}
	rows = append(rows, []string{"total", strconv.Itoa(summary.Total())})
	ds.PrintTable([]string{"collection", "records"}, rows)
}

func printArchive(ds display.DisplayService, meta *backup.ArchiveMetadata) {
	ds.PrintRecord("archive", []display.Field{
		{Key: "id", Value: meta.ID},
		{Key: "created_at", Value: meta.CreatedAt.Format(time.RFC3339)},
		{Key: "records", Value: meta.Counts.Total()},
		{Key: "size", Value: formatBytes(meta.Size)},
		{Key: "stored_size", Value: formatBytes(meta.StoredSize)},
		{Key: "compression", Value: string(meta.Compression)},
		{Key: "encrypted", Value: meta.Encrypted},
		{Key: "checksum", Value: meta.Checksum},
	})
}

func printArchiveList(ds display.DisplayService, archives []*backup.ArchiveMetadata) {
	if len(archives) == 0 && ds.GetConfig().Format() == display.FormatTable {
		ds.Info("No archives found")
		return
	}
	rows := make([][]string, 0, len(archives))
	for _, a := range archives {
		rows = append(rows, []string{
			a.ID,
			a.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			strconv.Itoa(a.Counts.Total()),
			formatBytes(a.StoredSize),
			string(a.Compression),
			strconv.FormatBool(a.Encrypted),
			a.Description,
		})
	}
	ds.PrintTable([]string{"id", "created", "records", "stored", "compression", "encrypted", "description"}, rows)
}

func printPruneResult(ds display.DisplayService, result *backup.PruneResult) {
	verb := "Deleted"
	if result.DryRun {
		verb = "Would delete"
	}
	for _, a := range result.Deleted {
		ds.Info(fmt.Sprintf("%s %s (%s)", verb, a.ID, a.CreatedAt.Format(time.RFC3339)))
	}
	for _, msg := range result.Errors {
		ds.Error(msg)
	}
	ds.Success(fmt.Sprintf("%s %d of %d archives, %s freed", verb, len(result.Deleted), result.Processed, formatBytes(result.FreedBytes)))
}

// formatBytes formats bytes into human readable format
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
