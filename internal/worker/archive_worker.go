// Package worker runs background jobs alongside the API server.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/modelforge/internal/logging"
	"github.com/modelforge/internal/metrics"
	"github.com/modelforge/internal/models"
)

// ArchiveWriter persists a batch of activities
type ArchiveWriter interface {
	InsertActivities(ctx context.Context, activities []*models.Activity) error
}

// ArchiveWorkerConfig holds configuration for the archive worker
type ArchiveWorkerConfig struct {
	Writer        ArchiveWriter
	BatchSize     int
	FlushInterval time.Duration
	// QueueSize bounds the activities waiting for a flush; overflow is dropped
	QueueSize int
	Logger    *logging.Logger
}

// ArchiveWorker copies activities into the analytics archive in batches.
// The archive is best effort: it never blocks the caller and a failed batch
// is logged and discarded.
type ArchiveWorker struct {
	writer        ArchiveWriter
	batchSize     int
	flushInterval time.Duration
	queue         chan *models.Activity
	logger        *logging.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewArchiveWorker creates an archive worker
func NewArchiveWorker(cfg *ArchiveWorkerConfig) (*ArchiveWorker, error) {
	if cfg.Writer == nil {
		return nil, fmt.Errorf("archive writer cannot be nil")
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	flushInterval := cfg.FlushInterval
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = batchSize * 10
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	return &ArchiveWorker{
		writer:        cfg.Writer,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		queue:         make(chan *models.Activity, queueSize),
		logger:        logger.WithComponent("archive-worker"),
	}, nil
}

// Enqueue hands an activity to the worker without blocking
func (w *ArchiveWorker) Enqueue(a *models.Activity) {
	select {
	case w.queue <- a:
	default:
		metrics.ArchiveFlushes.WithLabelValues("dropped").Inc()
		w.logger.WithField("activity_id", a.ID).Warn("archive queue full; dropping activity")
	}
}

// Start begins the flush loop
func (w *ArchiveWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return fmt.Errorf("archive worker is already running")
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})

	w.logger.WithFields(logging.Fields{
		"batch_size":     w.batchSize,
		"flush_interval": w.flushInterval.String(),
	}).Info("starting archive worker")

	go w.loop(ctx)
	return nil
}

// Stop flushes what is queued and waits for the loop to exit
func (w *ArchiveWorker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return fmt.Errorf("archive worker is not running")
	}
	w.running = false
	stopCh, doneCh := w.stopCh, w.doneCh
	w.mu.Unlock()

	close(stopCh)
	select {
	case <-doneCh:
		w.logger.Info("archive worker stopped")
		return nil
	case <-ctx.Done():
		w.logger.Warn("archive worker stop timed out")
		return ctx.Err()
	}
}

func (w *ArchiveWorker) loop(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.flushInterval)
	defer ticker.Stop()

	batch := make([]*models.Activity, 0, w.batchSize)
	flush := func(ctx context.Context) {
		if len(batch) == 0 {
			return
		}
		w.flush(ctx, batch)
		batch = batch[:0]
	}

	for {
		select {
		case a := <-w.queue:
			batch = append(batch, a)
			if len(batch) >= w.batchSize {
				flush(ctx)
			}
		case <-ticker.C:
			flush(ctx)
		case <-w.stopCh:
			w.drain(&batch)
			flush(context.WithoutCancel(ctx))
			return
		case <-ctx.Done():
			w.drain(&batch)
			flush(context.WithoutCancel(ctx))
			return
		}
	}
}

// drain moves everything still queued into batch
func (w *ArchiveWorker) drain(batch *[]*models.Activity) {
	for {
		select {
		case a := <-w.queue:
			*batch = append(*batch, a)
		default:
			return
		}
	}
}

func (w *ArchiveWorker) flush(ctx context.Context, batch []*models.Activity) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := w.writer.InsertActivities(ctx, batch); err != nil {
		metrics.ArchiveFlushes.WithLabelValues("error").Inc()
		w.logger.WithError(err).WithField("count", len(batch)).Error("failed to archive activities")
		return
	}
	metrics.ArchiveFlushes.WithLabelValues("success").Inc()
	w.logger.WithField("count", len(batch)).Debug("archived activities")
}
