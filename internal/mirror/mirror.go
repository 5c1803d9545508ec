package mirror

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/sfdcai/media-pipeline/internal/media"
)

// syncStore is the subset of *store.Store Mirror needs. Kept narrow so
// this package never imports internal/store directly, matching spec §9's
// "one-way dependency: mirror depends on store's change feed; store knows
// nothing of mirror."
type syncStore interface {
	UnsyncedFiles(ctx context.Context) ([]*media.File, error)
	UnsyncedBatches(ctx context.Context) ([]*media.Batch, error)
	MarkFileMirrored(ctx context.Context, id uuid.UUID) error
	MarkBatchMirrored(ctx context.Context, id uuid.UUID) error
}

// pusher is the subset of *Client Mirror needs, narrowed for testability.
type pusher interface {
	PushFile(ctx context.Context, f *media.File) error
	PushBatch(ctx context.Context, b *media.Batch) error
	PushLog(ctx context.Context, l *media.LogEntry) error
	Counts(ctx context.Context) (files, batches int, err error)
}

// Mirror queues changes observed on the local MetaStore and best-effort
// replicates them to the remote service. File and batch changes are kept
// without loss; only the log queue is bounded, and overflow drops the
// oldest entry first (spec §4.3: "overflow drops oldest log entries first,
// never file/batch rows").
type Mirror struct {
	client pusher
	store  syncStore
	logger *slog.Logger

	mu        sync.Mutex
	fileQueue []*media.File
	batchQueue []*media.Batch
	logQueue  []*media.LogEntry
	logCap    int
}

// New builds a Mirror. logCap bounds only the log-entry queue.
func New(client *Client, store syncStore, logCap int, logger *slog.Logger) *Mirror {
	if logger == nil {
		logger = slog.Default()
	}

	if logCap <= 0 {
		logCap = 1000
	}

	return &Mirror{
		client: client,
		store:  store,
		logger: logger,
		logCap: logCap,
	}
}

// EnqueueFile queues a file row for replication.
func (m *Mirror) EnqueueFile(f *media.File) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.fileQueue = append(m.fileQueue, f)
}

// EnqueueBatch queues a batch row for replication.
func (m *Mirror) EnqueueBatch(b *media.Batch) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.batchQueue = append(m.batchQueue, b)
}

// EnqueueLog queues a log entry for replication, dropping the oldest queued
// log entry first if the queue is already at capacity.
func (m *Mirror) EnqueueLog(l *media.LogEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.logQueue) >= m.logCap {
		dropped := m.logQueue[0]
		m.logQueue = m.logQueue[1:]
		m.logger.Warn("mirror log queue full, dropping oldest entry",
			slog.Int64("dropped_log_id", dropped.ID))
	}

	m.logQueue = append(m.logQueue, l)
}

// QueueDepth reports the number of pending items of each kind, mainly for
// status reporting.
func (m *Mirror) QueueDepth() (files, batches, logs int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.fileQueue), len(m.batchQueue), len(m.logQueue)
}

// Flush attempts to push every queued change to the remote. A push failure
// (remote unreachable) stops the pass over that queue and leaves its
// remaining items queued for the next attempt; the file, batch and log
// queues are each still attempted — spec §4.3: "remote outages never block C2;
// all pipeline decisions use C2 only," so Flush's caller must never treat
// its error as fatal to the pipeline.
func (m *Mirror) Flush(ctx context.Context) error {
	m.mu.Lock()
	files := m.fileQueue
	batches := m.batchQueue
	logs := m.logQueue
	m.mu.Unlock()

	var errs []error

	remainingFiles := files
	for i, f := range files {
		if err := m.client.PushFile(ctx, f); err != nil {
			errs = append(errs, err)
			remainingFiles = files[i:]

			break
		}

		if err := m.store.MarkFileMirrored(ctx, f.ID); err != nil {
			errs = append(errs, err)
		}

		remainingFiles = files[i+1:]
	}

	remainingBatches := batches
	for i, b := range batches {
		if err := m.client.PushBatch(ctx, b); err != nil {
			errs = append(errs, err)
			remainingBatches = batches[i:]

			break
		}

		if err := m.store.MarkBatchMirrored(ctx, b.ID); err != nil {
			errs = append(errs, err)
		}

		remainingBatches = batches[i+1:]
	}

	remainingLogs := logs
	for i, l := range logs {
		if err := m.client.PushLog(ctx, l); err != nil {
			errs = append(errs, err)
			remainingLogs = logs[i:]

			break
		}

		remainingLogs = logs[i+1:]
	}

	m.mu.Lock()
	m.fileQueue = append([]*media.File(nil), remainingFiles...)
	m.batchQueue = append([]*media.Batch(nil), remainingBatches...)
	m.logQueue = append([]*media.LogEntry(nil), remainingLogs...)
	m.mu.Unlock()

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// Reconcile enqueues every unsynced file and batch row and flushes them.
// The remote Counts call serves only as a reachability probe: if it fails,
// the rows stay queued and Reconcile returns nil. The counts it returns are
// not compared with the local ones.
func (m *Mirror) Reconcile(ctx context.Context) error {
	unsyncedFiles, err := m.store.UnsyncedFiles(ctx)
	if err != nil {
		return err
	}

	unsyncedBatches, err := m.store.UnsyncedBatches(ctx)
	if err != nil {
		return err
	}

	for _, f := range unsyncedFiles {
		m.EnqueueFile(f)
	}

	for _, b := range unsyncedBatches {
		m.EnqueueBatch(b)
	}

	if _, _, err := m.client.Counts(ctx); err != nil {
		// Remote is unreachable; unsynced rows stay queued for the next
		// reconcile. Non-fatal per spec §4.3's failure mode.
		m.logger.Warn("mirror reconcile: remote unreachable", slog.String("error", err.Error()))

		return nil
	}

	return m.Flush(ctx)
}
