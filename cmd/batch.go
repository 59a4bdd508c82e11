package main

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/compliacert/extract-cli/internal/audit"
	"github.com/compliacert/extract-cli/internal/model"
)

var (
	batchLimit       int
	batchConcurrency int
)

var batchCmd = &cobra.Command{
	Use:   "batch <dir|manifest.csv>",
	Short: "Extract a batch of documents from a directory or CSV manifest",
	Long:  "Processes every supported document under a directory, or the files listed in a CSV manifest (path[,declared_type] per row). Audit records for the whole batch are written in one bulk insert where the store supports it.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		// Buffer audit records so postgres gets one COPY per batch instead
		// of a write per tier attempt.
		buf := audit.NewBuffer()

		env, err := initExtraction(ctx, buf)
		if err != nil {
			return err
		}
		defer env.Close()

		docs, err := collectDocuments(args[0])
		if err != nil {
			return err
		}

		concurrency := batchConcurrency
		if concurrency <= 0 {
			concurrency = cfg.Batch.MaxConcurrentDocuments
		}

		if err := processBatch(ctx, docs, batchLimit, concurrency, func(ctx context.Context, doc model.Document) (*model.ExtractionResult, error) {
			return env.Orchestrator.Run(ctx, doc)
		}); err != nil {
			return err
		}

		return eris.Wrap(buf.Flush(context.WithoutCancel(ctx), env.Store), "flush audit records")
	},
}

func init() {
	batchCmd.Flags().IntVar(&batchLimit, "limit", 0, "max number of documents to process (0 = all)")
	batchCmd.Flags().IntVar(&batchConcurrency, "concurrency", 0, "concurrent documents (default from config)")
	rootCmd.AddCommand(batchCmd)
}

// batchEntry is one document reference from a directory walk or manifest.
type batchEntry struct {
	Path         string
	DeclaredType string
}

// extractFunc is the callback signature for running extraction on a document.
type extractFunc func(ctx context.Context, doc model.Document) (*model.ExtractionResult, error)

// processBatch applies limit, then processes entries concurrently. Individual
// failures are logged and counted, never abort the batch.
func processBatch(ctx context.Context, entries []batchEntry, limit, concurrency int, extract extractFunc) error {
	if len(entries) == 0 {
		zap.L().Info("no documents found")
		return nil
	}

	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}

	zap.L().Info("processing batch",
		zap.Int("documents", len(entries)),
		zap.Int("concurrency", concurrency),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	var accepted, review, failed atomic.Int64

	for _, entry := range entries {
		g.Go(func() error {
			log := zap.L().With(zap.String("document", entry.Path))

			doc, err := loadDocument(entry.Path, entry.DeclaredType)
			if err != nil {
				failed.Add(1)
				log.Error("load document failed", zap.Error(err))
				return nil
			}

			result, err := extract(gctx, doc)
			if err != nil {
				failed.Add(1)
				log.Error("extraction failed", zap.Error(err))
				return nil // don't abort batch on individual failure
			}

			if result.RequiresManualReview() {
				review.Add(1)
			} else {
				accepted.Add(1)
			}
			log.Info("extraction complete",
				zap.String("run_id", result.RunID),
				zap.String("status", string(result.Status)),
				zap.String("tier_reached", result.TierReached.String()),
				zap.Float64("confidence", result.Confidence),
				zap.Float64("total_cost_usd", result.TotalCost),
			)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return eris.Wrap(err, "batch processing")
	}

	zap.L().Info("batch complete",
		zap.Int64("accepted", accepted.Load()),
		zap.Int64("manual_review", review.Load()),
		zap.Int64("failed", failed.Load()),
	)
	return nil
}

// collectDocuments resolves the batch argument into document entries: a CSV
// manifest (path[,declared_type] per row) or a directory to walk.
func collectDocuments(arg string) ([]batchEntry, error) {
	if strings.EqualFold(filepath.Ext(arg), ".csv") {
		return readManifest(arg)
	}

	info, err := os.Stat(arg)
	if err != nil {
		return nil, eris.Wrapf(err, "stat %s", arg)
	}
	if !info.IsDir() {
		return []batchEntry{{Path: arg}}, nil
	}

	var entries []batchEntry
	err = filepath.WalkDir(arg, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !supportedDocument(path) {
			return nil
		}
		entries = append(entries, batchEntry{Path: path})
		return nil
	})
	if err != nil {
		return nil, eris.Wrapf(err, "walk %s", arg)
	}
	return entries, nil
}

func readManifest(path string) ([]batchEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "open manifest %s", path)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	var entries []batchEntry
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrapf(err, "read manifest %s", path)
		}
		if len(row) == 0 || strings.TrimSpace(row[0]) == "" {
			continue
		}
		entry := batchEntry{Path: strings.TrimSpace(row[0])}
		if len(row) > 1 {
			entry.DeclaredType = strings.TrimSpace(row[1])
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func supportedDocument(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf", ".png", ".jpg", ".jpeg", ".tif", ".tiff", ".webp", ".txt":
		return true
	default:
		return false
	}
}
