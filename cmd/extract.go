package main

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/compliacert/extract-cli/internal/model"
)

var extractDeclaredType string

var extractCmd = &cobra.Command{
	Use:   "extract <file>",
	Short: "Extract certificate data from a single document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initExtraction(ctx, nil)
		if err != nil {
			return err
		}
		defer env.Close()

		doc, err := loadDocument(args[0], extractDeclaredType)
		if err != nil {
			return err
		}

		result, err := env.Orchestrator.Run(ctx, doc)
		if err != nil {
			return eris.Wrap(err, "extraction run")
		}

		zap.L().Info("extraction complete",
			zap.String("document", doc.Filename),
			zap.String("run_id", result.RunID),
			zap.String("status", string(result.Status)),
			zap.String("tier_reached", result.TierReached.String()),
			zap.Float64("confidence", result.Confidence),
			zap.Float64("total_cost_usd", result.TotalCost),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

func init() {
	extractCmd.Flags().StringVar(&extractDeclaredType, "type", "", "declared certificate type (e.g. GAS_SAFETY, EICR)")
	rootCmd.AddCommand(extractCmd)
}

// loadDocument reads a file from disk into a Document ready for extraction.
func loadDocument(path, declaredType string) (model.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.Document{}, eris.Wrapf(err, "read document %s", path)
	}
	if len(data) == 0 {
		return model.Document{}, eris.Errorf("document %s is empty", path)
	}

	doc := model.Document{
		ID:       uuid.NewString(),
		Filename: filepath.Base(path),
		MimeType: mimeForFile(path),
		Data:     data,
	}
	if declaredType != "" {
		doc.DeclaredType = model.ParseCertificateType(declaredType)
	}
	return doc, nil
}
