package audit

import (
	"context"
	"sync"

	"github.com/compliacert/extract-cli/internal/model"
)

// BulkInserter is implemented by stores that support batched audit writes.
type BulkInserter interface {
	InsertAuditRecords(ctx context.Context, recs []model.AuditRecord) error
}

// Buffer collects audit records in memory for a single batch job and writes
// them in one bulk insert at the end. Unlike Recorder it never drops records;
// the caller owns durability by calling Flush.
type Buffer struct {
	mu   sync.Mutex
	recs []model.AuditRecord
}

// NewBuffer creates an empty audit buffer.
func NewBuffer() *Buffer {
	return &Buffer{}
}

// Submit appends a record to the buffer.
func (b *Buffer) Submit(rec model.AuditRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.recs = append(b.recs, rec)
}

// Len returns the number of buffered records.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.recs)
}

// Flush writes all buffered records through the bulk inserter and clears the
// buffer on success.
func (b *Buffer) Flush(ctx context.Context, st BulkInserter) error {
	b.mu.Lock()
	recs := b.recs
	b.mu.Unlock()

	if len(recs) == 0 {
		return nil
	}
	if err := st.InsertAuditRecords(ctx, recs); err != nil {
		return err
	}

	b.mu.Lock()
	b.recs = nil
	b.mu.Unlock()
	return nil
}
