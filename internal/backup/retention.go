package backup

import (
	"context"
	"fmt"
	"time"
)

// PruneResult reports what a retention pass kept and removed
type PruneResult struct {
	Processed  int                `json:"processed" yaml:"processed"`
	Kept       []*ArchiveMetadata `json:"kept" yaml:"kept"`
	Deleted    []*ArchiveMetadata `json:"deleted" yaml:"deleted"`
	Errors     []string           `json:"errors,omitempty" yaml:"errors,omitempty"`
	DryRun     bool               `json:"dry_run" yaml:"dry_run"`
	FreedBytes int64              `json:"freed_bytes" yaml:"freed_bytes"`
}

// Prune deletes archives outside policy. Archives are considered newest first:
// everything past MaxArchives, and everything older than MaxAge, goes. With
// dryRun set nothing is deleted. A failed delete is recorded and the pass
// continues.
func (a *Archiver) Prune(ctx context.Context, policy RetentionConfig, dryRun bool) (*PruneResult, error) {
	archives, err := a.storage.List(ctx, StorageFilter{})
	if err != nil {
		return nil, err
	}

	keep, drop := retentionCandidates(archives, policy, a.now())
	result := &PruneResult{
		Processed: len(archives),
		Kept:      keep,
		Deleted:   []*ArchiveMetadata{},
		DryRun:    dryRun,
	}

	for _, archive := range drop {
		if !dryRun {
			if err := a.storage.Delete(ctx, archive.ID); err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", archive.ID, err))
				result.Kept = append(result.Kept, archive)
				continue
			}
		}
		result.Deleted = append(result.Deleted, archive)
		result.FreedBytes += archive.StoredSize
	}

	a.logger.WithContext(ctx).WithFields(map[string]interface{}{
		"operation": "archive_prune",
		"processed": result.Processed,
		"deleted":   len(result.Deleted),
		"dry_run":   dryRun,
		"errors":    len(result.Errors),
	}).Info("Archive retention applied")
	return result, nil
}

// retentionCandidates splits a newest-first listing into archives to keep and
// archives to delete
func retentionCandidates(archives []*ArchiveMetadata, policy RetentionConfig, now time.Time) (keep, drop []*ArchiveMetadata) {
	keep = []*ArchiveMetadata{}
	for i, archive := range archives {
		tooMany := policy.MaxArchives > 0 && i >= policy.MaxArchives
		tooOld := policy.MaxAge > 0 && now.Sub(archive.CreatedAt) > policy.MaxAge
		if tooMany || tooOld {
			drop = append(drop, archive)
			continue
		}
		keep = append(keep, archive)
	}
	return keep, drop
}
