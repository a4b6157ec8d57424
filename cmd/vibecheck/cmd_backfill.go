package main

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/yourorg/vibecheck/internal/logging"
)

var backfillFlags struct {
	batchSize int
	maxJobs   int
}

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Archive reports for completed assessments that have none",
	RunE:  runBackfill,
}

func init() {
	backfillCmd.Flags().IntVar(&backfillFlags.batchSize, "batch-size", 25, "number of assessments to archive per batch")
	backfillCmd.Flags().IntVar(&backfillFlags.maxJobs, "max-jobs", 0, "maximum assessments to archive (0 = unlimited)")
}

func runBackfill(cmd *cobra.Command, _ []string) error {
	log := logging.New("backfill")
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !cfg.ArchiveEnabled() {
		return errors.New("backfill needs S3_ENDPOINT and REPORTS_BUCKET")
	}
	ctx := cmd.Context()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()
	if a.archiver == nil {
		return errors.New("reports bucket is unavailable")
	}

	batch := backfillFlags.batchSize
	if batch <= 0 {
		batch = 25
	}
	maxJobs := backfillFlags.maxJobs

	// Failed ids stay candidates, so each batch asks for enough extra rows
	// to get past them.
	failed := make(map[string]struct{})
	var total, okCount int
	for maxJobs <= 0 || total < maxJobs {
		limit := batch
		if maxJobs > 0 && total+limit > maxJobs {
			limit = maxJobs - total
		}

		listCtx, listCancel := context.WithTimeout(ctx, 20*time.Second)
		candidates, err := a.store.ListArchiveCandidates(listCtx, limit+len(failed))
		listCancel()
		if err != nil {
			return err
		}

		var fresh []string
		for _, id := range candidates {
			if _, seen := failed[id]; !seen && len(fresh) < limit {
				fresh = append(fresh, id)
			}
		}
		if len(fresh) == 0 {
			break
		}

		for _, id := range fresh {
			total++
			actx, acancel := context.WithTimeout(ctx, 2*time.Minute)
			key, err := a.archiver.Archive(actx, id)
			acancel()
			if err != nil {
				failed[id] = struct{}{}
				log.Warn("archive failed", "assessment_id", id, "err", err)
				continue
			}
			okCount++
			log.Info("archived", "assessment_id", id, "key", key)
		}
	}

	log.Info("backfill complete", "processed", total, "ok", okCount, "failed", len(failed))
	return nil
}
