package backup

import (
	"context"
	"time"

	"print-marketplace/internal/logging"
)

// ExportSource is what the exporter reads from: the pool for the default
// sequential export, and optionally a snapshot for a consistent one
type ExportSource interface {
	Source
	Snapshotter
}

// Exporter reads the four tables into a Document
type Exporter struct {
	source     ExportSource
	logger     *logging.Logger
	consistent bool
}

// NewExporter creates an exporter. With consistent set, every export reads
// inside one read-only serializable transaction.
func NewExporter(source ExportSource, logger *logging.Logger, consistent bool) *Exporter {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &Exporter{source: source, logger: logger, consistent: consistent}
}

// Export reads every row of every table. Reads run one after another without a
// transaction unless the exporter is consistent; concurrent writes are not
// blocked. Any failed read fails the whole export.
func (e *Exporter) Export(ctx context.Context) (*Document, error) {
	start := time.Now()

	var (
		doc *Document
		err error
	)
	if e.consistent {
		doc, err = e.exportSnapshot(ctx)
	} else {
		doc, err = readAll(ctx, e.source)
	}

	if err != nil {
		e.logger.LogExport(ctx, nil, time.Since(start), err)
		return nil, err
	}

	e.logger.LogExport(ctx, doc.Summary().Map(), time.Since(start), nil)
	return doc, nil
}

func (e *Exporter) exportSnapshot(ctx context.Context) (*Document, error) {
	snapshot, err := e.source.BeginSnapshot(ctx)
	if err != nil {
		return nil, NewPersistenceError("failed to open export snapshot", err)
	}
	defer func() {
		if cerr := snapshot.Close(); cerr != nil {
			e.logger.WithContext(ctx).WithError(cerr).Warn("Failed to close export snapshot")
		}
	}()
	return readAll(ctx, snapshot)
}

// readAll reads the tables in a fixed order and stops at the first failure
func readAll(ctx context.Context, source Source) (*Document, error) {
	users, err := source.ListUsers(ctx)
	if err != nil {
		return nil, NewPersistenceError("failed to export users", err).WithContext("table", FieldUsers)
	}
	products, err := source.ListProducts(ctx)
	if err != nil {
		return nil, NewPersistenceError("failed to export products", err).WithContext("table", FieldProducts)
	}
	orders, err := source.ListOrders(ctx)
	if err != nil {
		return nil, NewPersistenceError("failed to export orders", err).WithContext("table", FieldOrders)
	}
	settings, err := source.ListSettings(ctx)
	if err != nil {
		return nil, NewPersistenceError("failed to export settings", err).WithContext("table", FieldSettings)
	}

	return &Document{Users: users, Products: products, Orders: orders, Settings: settings}, nil
}
