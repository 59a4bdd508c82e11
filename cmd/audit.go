package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/compliacert/extract-cli/internal/audit"
	"github.com/compliacert/extract-cli/internal/model"
	"github.com/compliacert/extract-cli/internal/store"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the extraction audit trail",
	Long:  "Commands for listing per-tier attempt records and summarizing tier performance.",
}

// -- audit list --

var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "List audit records",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		runID, _ := cmd.Flags().GetString("run")
		docID, _ := cmd.Flags().GetString("document")
		status, _ := cmd.Flags().GetString("status")
		tierLabel, _ := cmd.Flags().GetString("tier")
		limit, _ := cmd.Flags().GetInt("limit")

		filter := store.AuditFilter{
			RunID:      runID,
			DocumentID: docID,
			Status:     model.AttemptStatus(status),
			Limit:      limit,
		}
		if tierLabel != "" {
			tier, ok := model.ParseTier(tierLabel)
			if !ok {
				return eris.Errorf("unknown tier %q", tierLabel)
			}
			filter.Tier = &tier
		}

		recs, err := st.ListAuditRecords(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "audit list")
		}

		if len(recs) == 0 {
			fmt.Fprintln(os.Stderr, "No audit records found.")
			return nil
		}

		formatAuditList(os.Stdout, recs)
		return nil
	},
}

// -- audit stats --

var auditStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize tier performance over a lookback window",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		hours, _ := cmd.Flags().GetInt("hours")
		asJSON, _ := cmd.Flags().GetBool("json")

		snap, err := audit.NewCollector(st).Collect(ctx, hours)
		if err != nil {
			return eris.Wrap(err, "audit stats")
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(snap)
		}

		formatStats(os.Stdout, snap)
		return nil
	},
}

func init() {
	auditListCmd.Flags().String("run", "", "filter by run ID")
	auditListCmd.Flags().String("document", "", "filter by document ID")
	auditListCmd.Flags().String("status", "", "filter by status (SUCCESS, LOW_CONFIDENCE, FAILED, SKIPPED)")
	auditListCmd.Flags().String("tier", "", "filter by tier label (qr_metadata, template, ai_text, doc_intelligence, ai_vision)")
	auditListCmd.Flags().Int("limit", 50, "max records to return")

	auditStatsCmd.Flags().Int("hours", 24, "lookback window in hours")
	auditStatsCmd.Flags().Bool("json", false, "emit JSON instead of a table")

	auditCmd.AddCommand(auditListCmd)
	auditCmd.AddCommand(auditStatsCmd)
	rootCmd.AddCommand(auditCmd)
}

func formatAuditList(w io.Writer, recs []model.AuditRecord) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tDOCUMENT\tTIER\tSTATUS\tCONF\tFIELDS\tCOST\tREASON\tCREATED")
	for _, rec := range recs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%.2f\t%d\t$%.4f\t%s\t%s\n",
			shorten(rec.RunID, 8),
			shorten(rec.DocumentID, 8),
			rec.Tier,
			rec.Status,
			rec.Confidence,
			rec.FieldCount,
			rec.CostUSD,
			shorten(rec.EscalationReason, 40),
			rec.CreatedAt.Format("2006-01-02 15:04:05"),
		)
	}
	tw.Flush()
}

func formatStats(w io.Writer, snap *audit.StatsSnapshot) {
	fmt.Fprintf(w, "Runs: %d  accepted: %d  manual review: %d  accept rate: %.1f%%\n",
		snap.Runs, snap.Accepted, snap.ManualReview, snap.AcceptRate*100)
	fmt.Fprintf(w, "Total cost: $%.4f  avg per run: $%.4f  (last %dh)\n\n",
		snap.TotalCostUSD, snap.AvgCostPerRun, snap.LookbackHours)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIER\tATTEMPTS\tSUCCESS\tLOW_CONF\tFAILED\tSKIPPED\tAVG CONF\tAVG MS\tCOST")
	for _, ts := range snap.PerTier {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t%.2f\t%d\t$%.4f\n",
			ts.TierName, ts.Attempts, ts.Successes, ts.LowConfidence,
			ts.Failures, ts.Skipped, ts.AvgConfidence, ts.AvgDurationMs, ts.TotalCostUSD)
	}
	tw.Flush()
}

func shorten(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
