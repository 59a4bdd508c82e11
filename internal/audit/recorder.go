// Package audit persists per-tier attempt records and aggregates them
// into operational statistics.
package audit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/compliacert/extract-cli/internal/model"
	"github.com/compliacert/extract-cli/internal/store"
)

// DefaultQueueSize bounds the in-flight record queue. Submissions beyond
// it are dropped rather than blocking an extraction run.
const DefaultQueueSize = 1024

// writeTimeout caps each store write so a stuck database cannot wedge
// the worker.
const writeTimeout = 10 * time.Second

// Recorder writes audit records to the store from a background worker.
// Submission is fire-and-forget: persistence failures are logged, never
// surfaced to the extraction path.
type Recorder struct {
	st    store.Store
	queue chan model.AuditRecord

	// mu orders Submit against Close: a send never races the channel close.
	mu     sync.RWMutex
	closed bool

	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewRecorder starts a recorder draining into st.
func NewRecorder(st store.Store, queueSize int) *Recorder {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	r := &Recorder{
		st:    st,
		queue: make(chan model.AuditRecord, queueSize),
	}
	r.wg.Add(1)
	go r.worker()
	return r
}

// Submit enqueues a record. Drops and logs when the queue is full or the
// recorder has already been closed.
func (r *Recorder) Submit(rec model.AuditRecord) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		zap.L().Warn("audit recorder closed, dropping record",
			zap.String("run_id", rec.RunID),
			zap.Stringer("tier", rec.Tier))
		return
	}
	select {
	case r.queue <- rec:
	default:
		zap.L().Warn("audit queue full, dropping record",
			zap.String("run_id", rec.RunID),
			zap.Stringer("tier", rec.Tier))
	}
}

// Close stops accepting records and drains the queue.
func (r *Recorder) Close() {
	r.stopOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		r.mu.Unlock()
		close(r.queue)
	})
	r.wg.Wait()
}

func (r *Recorder) worker() {
	defer r.wg.Done()
	for rec := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := r.st.InsertAuditRecord(ctx, rec)
		cancel()
		if err != nil {
			zap.L().Error("audit record write failed",
				zap.String("run_id", rec.RunID),
				zap.Stringer("tier", rec.Tier),
				zap.Error(err))
		}
	}
}
