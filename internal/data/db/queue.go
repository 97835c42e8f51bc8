package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/snapscope/snapscope/internal/data/model"
	"github.com/snapscope/snapscope/internal/log"
)

// QueueManager defines the interface for the scan queue.
type QueueManager interface {
	// Enqueue adds a pending job for the package unless a non-terminal job
	// already exists for it. It reports whether a new job was created.
	Enqueue(ctx context.Context, snapName string, priority int) (bool, error)
	// ClaimNext atomically claims the highest-priority pending job and
	// transitions it to processing. It returns nil when the queue is empty.
	ClaimNext(ctx context.Context) (*model.QueueJob, error)
	// Complete transitions a processing job to completed or failed with a
	// completion timestamp. Failed jobs record the error message.
	Complete(ctx context.Context, jobID uint, success bool, errorMessage string) error
	// ListActive returns the non-terminal jobs ordered by priority desc,
	// creation asc.
	ListActive(ctx context.Context) ([]model.QueueJob, error)
	// CountPending returns the number of pending jobs.
	CountPending(ctx context.Context) (int64, error)
	// RequeueStuck resets processing jobs started before the cutoff back to
	// pending and returns how many were reset.
	RequeueStuck(ctx context.Context, olderThan time.Duration) (int64, error)
	// Seed enqueues the given packages when the package table is empty.
	Seed(ctx context.Context, snapNames []string, priority int) error
}

// GormQueueManager implements the QueueManager interface using a GORM DB connection.
type GormQueueManager struct {
	db *gorm.DB
}

// NewGormQueueManager creates a new GormQueueManager.
func NewGormQueueManager(db *gorm.DB) (*GormQueueManager, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	return &GormQueueManager{db: db}, nil
}

// Enqueue adds a pending job for the package. The existence check and insert
// run in one transaction so two callers cannot both schedule the same package.
func (m *GormQueueManager) Enqueue(ctx context.Context, snapName string, priority int) (bool, error) {
	if snapName == "" {
		return false, fmt.Errorf("snapName cannot be empty")
	}
	queued := false
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&model.QueueJob{}).
			Where("snap_name = ? AND status IN ?", snapName,
				[]model.JobStatus{model.JobStatusPending, model.JobStatusProcessing}).
			Count(&count).Error; err != nil {
			return fmt.Errorf("error checking for active job: %w", err)
		}
		if count > 0 {
			return nil
		}
		job := model.QueueJob{
			SnapName: snapName,
			Priority: priority,
			Status:   model.JobStatusPending,
		}
		if err := tx.Create(&job).Error; err != nil {
			// A concurrent enqueue won the race on the active-job index.
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return nil
			}
			return fmt.Errorf("error creating queue job: %w", err)
		}
		queued = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("enqueue failed: %w", err)
	}
	return queued, nil
}

// ClaimNext selects the pending job with the highest priority, ties broken by
// earliest creation, and marks it processing in the same transaction. The
// update is guarded on the pending status so a concurrent claimer loses the
// race cleanly instead of double-claiming.
func (m *GormQueueManager) ClaimNext(ctx context.Context) (*model.QueueJob, error) {
	var claimed *model.QueueJob
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var job model.QueueJob
		err := tx.Where("status = ?", model.JobStatusPending).
			Order("priority DESC, created_at ASC").
			First(&job).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("error selecting pending job: %w", err)
		}

		now := time.Now().UTC()
		res := tx.Model(&model.QueueJob{}).
			Where("id = ? AND status = ?", job.ID, model.JobStatusPending).
			Updates(map[string]interface{}{
				"status":     model.JobStatusProcessing,
				"started_at": now,
			})
		if res.Error != nil {
			return fmt.Errorf("error claiming job: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			// Another claimer won; report an empty queue for this attempt.
			return nil
		}
		job.Status = model.JobStatusProcessing
		job.StartedAt = &now
		claimed = &job
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("claim failed: %w", err)
	}
	return claimed, nil
}

// Complete transitions a processing job to its terminal state.
func (m *GormQueueManager) Complete(ctx context.Context, jobID uint, success bool, errorMessage string) error {
	status := model.JobStatusCompleted
	if !success {
		status = model.JobStatusFailed
	}
	now := time.Now().UTC()
	res := m.db.WithContext(ctx).Model(&model.QueueJob{}).
		Where("id = ? AND status = ?", jobID, model.JobStatusProcessing).
		Updates(map[string]interface{}{
			"status":        status,
			"completed_at":  now,
			"error_message": errorMessage,
		})
	if res.Error != nil {
		return fmt.Errorf("error completing job %d: %w", jobID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("job %d is not processing", jobID)
	}
	return nil
}

// ListActive returns non-terminal jobs in claim order.
func (m *GormQueueManager) ListActive(ctx context.Context) ([]model.QueueJob, error) {
	var jobs []model.QueueJob
	err := m.db.WithContext(ctx).
		Where("status IN ?", []model.JobStatus{model.JobStatusPending, model.JobStatusProcessing}).
		Order("priority DESC, created_at ASC").
		Find(&jobs).Error
	if err != nil {
		return nil, fmt.Errorf("error listing active jobs: %w", err)
	}
	return jobs, nil
}

// CountPending returns the number of pending jobs.
func (m *GormQueueManager) CountPending(ctx context.Context) (int64, error) {
	var count int64
	err := m.db.WithContext(ctx).Model(&model.QueueJob{}).
		Where("status = ?", model.JobStatusPending).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("error counting pending jobs: %w", err)
	}
	return count, nil
}

// RequeueStuck resets processing jobs started before the cutoff back to
// pending. Run once at startup: with a single sequential worker, any
// processing row that old belongs to a crashed run.
func (m *GormQueueManager) RequeueStuck(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	res := m.db.WithContext(ctx).Model(&model.QueueJob{}).
		Where("status = ? AND started_at < ?", model.JobStatusProcessing, cutoff).
		Updates(map[string]interface{}{
			"status":     model.JobStatusPending,
			"started_at": nil,
		})
	if res.Error != nil {
		return 0, fmt.Errorf("error requeueing stuck jobs: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		log.NewLogger(ctx).Warn("requeued stuck processing jobs", zap.Int64("count", res.RowsAffected))
	}
	return res.RowsAffected, nil
}

// Seed enqueues the given packages at the given priority when the package
// table is empty. It is a no-op on a populated database.
func (m *GormQueueManager) Seed(ctx context.Context, snapNames []string, priority int) error {
	var count int64
	if err := m.db.WithContext(ctx).Model(&model.Package{}).Count(&count).Error; err != nil {
		return fmt.Errorf("error counting packages: %w", err)
	}
	if count > 0 {
		return nil
	}
	logger := log.NewLogger(ctx)
	logger.Info("database empty, seeding queue with popular packages", zap.Int("count", len(snapNames)))
	for _, name := range snapNames {
		if _, err := m.Enqueue(ctx, name, priority); err != nil {
			return fmt.Errorf("error seeding %s: %w", name, err)
		}
	}
	return nil
}
