// Package backup exports and restores the whole marketplace database.
//
// An export reads the users, products, orders and settings tables into a
// Document, the JSON image served by the backup endpoint. A restore parses an
// uploaded document, validates its shape, and replaces all four tables inside
// one transaction: the tables are cleared, repopulated and committed, or the
// transaction is rolled back and nothing changes.
//
// Restore state machine:
//
//	received -> validated -> transaction_open -> tables_cleared
//	         -> tables_repopulated -> committed
//
// Any failure after the transaction opens ends in rolled_back, or in failed
// when the rollback itself fails. That last case is reported as a
// ROLLBACK_FAILURE with critical severity because the database state is then
// unknown.
//
// Archives are exported documents kept in a StorageProvider (local disk, S3,
// Azure Blob or GCS), compressed with gzip, lz4 or zstd and optionally sealed
// with AES-256-GCM.
//
// Example:
//
//	exporter := backup.NewExporter(st, logger, false)
//	doc, err := exporter.Export(ctx)
//	if err != nil {
//		return fmt.Errorf("export failed: %w", err)
//	}
//
//	restorer := backup.NewRestorer(st, logger, time.Minute)
//	summary, err := restorer.Restore(ctx, doc)
package backup
