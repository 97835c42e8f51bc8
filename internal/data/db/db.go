package db

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/snapscope/snapscope/internal/data/model"
)

// AutoMigrate creates or updates the schema for every persisted entity.
func AutoMigrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&model.Package{},
		&model.Revision{},
		&model.SBOM{},
		&model.Scan{},
		&model.Vulnerability{},
		&model.QueueJob{},
	)
	if err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}

	// One active job per package. Enqueue checks inside a transaction, but
	// under read committed two concurrent enqueues can both see zero rows;
	// the partial index makes the loser's insert fail instead.
	err = db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_queue_jobs_one_active
		ON queue_jobs (snap_name) WHERE status IN ('pending', 'processing')`).Error
	if err != nil {
		return fmt.Errorf("failed to create active-job index: %w", err)
	}
	return nil
}
