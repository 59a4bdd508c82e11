// Package store provides persistence for audit records and admin settings,
// backed by SQLite for single-node use or Postgres for shared deployments.
package store

import (
	"context"
	"time"

	"github.com/compliacert/extract-cli/internal/model"
)

// AuditFilter specifies criteria for listing audit records.
type AuditFilter struct {
	RunID        string              `json:"run_id,omitempty"`
	DocumentID   string              `json:"document_id,omitempty"`
	Status       model.AttemptStatus `json:"status,omitempty"`
	Tier         *model.Tier         `json:"tier,omitempty"`
	CreatedAfter time.Time           `json:"created_after,omitempty"`
	Limit        int                 `json:"limit,omitempty"`
	Offset       int                 `json:"offset,omitempty"`
}

// Store defines the persistence interface for the extraction service.
type Store interface {
	// Audit trail. Records are write-once; there is no update or delete.
	// InsertAuditRecords is the batch path: one COPY on postgres, one
	// transaction on sqlite.
	InsertAuditRecord(ctx context.Context, rec model.AuditRecord) error
	InsertAuditRecords(ctx context.Context, recs []model.AuditRecord) error
	ListAuditRecords(ctx context.Context, filter AuditFilter) ([]model.AuditRecord, error)

	// Admin settings (key/value).
	GetSettings(ctx context.Context) (map[string]string, error)
	SetSetting(ctx context.Context, key, value string) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
