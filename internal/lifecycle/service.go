package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/abduss/reelrelay/internal/logger"
	"github.com/abduss/reelrelay/internal/metrics"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultBatchSize = 500

type store interface {
	Create(ctx context.Context, rec Record) (Record, error)
	GetByFilename(ctx context.Context, filename string) (Record, error)
	MarkDeleted(ctx context.Context, filename string, at time.Time) (bool, error)
	ListExpired(ctx context.Context, now time.Time, after Cursor, limit int) ([]Record, error)
	ListActive(ctx context.Context, userID uuid.UUID) ([]Record, error)
}

type objectDeleter interface {
	Delete(ctx context.Context, key string) error
}

// Manager owns upload lifecycle records and the deletion of their objects.
type Manager struct {
	store     store
	objects   objectDeleter
	retention time.Duration
	batchSize int
	nowFunc   func() time.Time
	log       *zap.Logger
}

// NewManager constructs a Manager. Records expire retention after they are created.
func NewManager(store store, objects objectDeleter, retention time.Duration, batchSize int, log *zap.Logger) *Manager {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &Manager{
		store:     store,
		objects:   objects,
		retention: retention,
		batchSize: batchSize,
		nowFunc:   time.Now,
		log:       logger.OrNop(log).Named("lifecycle"),
	}
}

// RecordUpload persists the record for an object that has already been written.
func (m *Manager) RecordUpload(ctx context.Context, in NewUpload) (Record, error) {
	if in.Filename == "" {
		return Record{}, fmt.Errorf("record upload: filename is required")
	}
	now := m.nowFunc().UTC()
	return m.store.Create(ctx, Record{
		ID:                  uuid.New(),
		UserID:              in.UserID,
		Filename:            in.Filename,
		FileSizeBytes:       in.FileSizeBytes,
		MimeType:            in.MimeType,
		Title:               in.Title,
		Description:         in.Description,
		UploadedAt:          now,
		ScheduledDeletionAt: now.Add(m.retention),
	})
}

// Lookup returns the record for filename.
func (m *Manager) Lookup(ctx context.Context, filename string) (Record, error) {
	return m.store.GetByFilename(ctx, filename)
}

// Pending lists the user's uploads that have not been deleted yet.
func (m *Manager) Pending(ctx context.Context, userID uuid.UUID) ([]Record, error) {
	return m.store.ListActive(ctx, userID)
}

// DeleteUpload removes the object for filename and marks its record deleted.
// The object delete runs even when no record exists. Repeating the call is a no-op.
// Object store failures are returned and leave the record untouched.
func (m *Manager) DeleteUpload(ctx context.Context, filename string) error {
	_, err := m.deleteUpload(ctx, filename)
	return err
}

func (m *Manager) deleteUpload(ctx context.Context, filename string) (bool, error) {
	if err := m.objects.Delete(ctx, filename); err != nil {
		return false, fmt.Errorf("delete object: %w", err)
	}
	marked, err := m.store.MarkDeleted(ctx, filename, m.nowFunc().UTC())
	if err != nil {
		return false, err
	}
	if !marked {
		m.log.Debug("upload already deleted or unrecorded", zap.String("filename", filename))
	}
	return marked, nil
}

// Sweep reaps every live record past its deletion deadline. A failure on one
// record is collected and the sweep moves on. The returned error is non-nil only
// when the candidate query fails or ctx is cancelled; the partial result is still
// returned in that case.
func (m *Manager) Sweep(ctx context.Context) (SweepResult, error) {
	now := m.nowFunc().UTC()
	result := SweepResult{Errors: []RecordError{}}
	defer func() {
		metrics.ObserveSweep(result.Deleted, result.Failed)
	}()

	var cursor Cursor
	for {
		batch, err := m.store.ListExpired(ctx, now, cursor, m.batchSize)
		if err != nil {
			return result, fmt.Errorf("select expired uploads: %w", err)
		}

		for _, rec := range batch {
			if err := ctx.Err(); err != nil {
				return result, err
			}
			marked, err := m.reapOne(ctx, rec)
			switch {
			case err != nil:
				result.Failed++
				result.Errors = append(result.Errors, RecordError{Filename: rec.Filename, Error: err.Error()})
				m.log.Warn("reap upload failed", zap.String("filename", rec.Filename), zap.Error(err))
			case marked:
				result.Deleted++
			}
		}

		if len(batch) < m.batchSize {
			break
		}
		last := batch[len(batch)-1]
		cursor = Cursor{ScheduledDeletionAt: last.ScheduledDeletionAt, ID: last.ID}
	}

	m.log.Info("sweep finished",
		zap.Int("deleted", result.Deleted),
		zap.Int("failed", result.Failed),
	)
	return result, nil
}

func (m *Manager) reapOne(ctx context.Context, rec Record) (marked bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			marked, err = false, fmt.Errorf("panic while reaping: %v", r)
		}
	}()
	return m.deleteUpload(ctx, rec.Filename)
}

// Reaper runs Sweep on a fixed interval.
type Reaper struct {
	sweeper  interface{ Sweep(context.Context) (SweepResult, error) }
	interval time.Duration
	log      *zap.Logger
}

// NewReaper builds a Reaper around sweeper.
func NewReaper(sweeper interface{ Sweep(context.Context) (SweepResult, error) }, interval time.Duration, log *zap.Logger) *Reaper {
	return &Reaper{sweeper: sweeper, interval: interval, log: logger.OrNop(log).Named("reaper")}
}

// Run sweeps once immediately and then every interval until ctx is done.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.log.Info("reaper started", zap.Duration("interval", r.interval))
	for {
		r.tick(ctx)
		select {
		case <-ctx.Done():
			r.log.Info("reaper stopped")
			return
		case <-ticker.C:
		}
	}
}

func (r *Reaper) tick(ctx context.Context) {
	res, err := r.sweeper.Sweep(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		r.log.Error("sweep aborted", zap.Error(err), zap.Int("deleted", res.Deleted), zap.Int("failed", res.Failed))
	}
}
