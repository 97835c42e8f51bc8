package db

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/snapscope/snapscope/internal/data/model"
	"github.com/snapscope/snapscope/internal/log"
)

// ScanResultSet is everything one successful pipeline run persists: the
// package and revision to upsert plus the new SBOM, scan, and vulnerability
// rows. All of it is written in a single transaction.
type ScanResultSet struct {
	Package         model.Package
	Revision        model.Revision
	SBOM            model.SBOM
	Scan            model.Scan
	Vulnerabilities []model.Vulnerability
}

// TrackedPackage pairs a package name with the highest revision recorded for
// it, for new-revision discovery.
type TrackedPackage struct {
	Name           string
	LatestRevision int
}

// ScanManager defines the persistence interface the scan pipeline and the
// freshness monitor need.
type ScanManager interface {
	// InsertScanResults writes a complete result set atomically: upsert
	// package, upsert revision, insert SBOM, insert scan, bulk-insert
	// vulnerabilities. Nothing is visible unless all five succeed.
	InsertScanResults(ctx context.Context, results *ScanResultSet) error
	// StalePackages returns up to limit package names whose most recent scan
	// is older than the cutoff and that have no active queue job.
	StalePackages(ctx context.Context, cutoff time.Time, limit int) ([]string, error)
	// TrackedPackages returns up to limit packages with no active queue job,
	// each with its highest recorded revision.
	TrackedPackages(ctx context.Context, limit int) ([]TrackedPackage, error)
}

// GormScanManager implements the ScanManager interface using a GORM DB connection.
type GormScanManager struct {
	db *gorm.DB
}

// NewGormScanManager creates a new GormScanManager.
func NewGormScanManager(db *gorm.DB) (*GormScanManager, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	return &GormScanManager{db: db}, nil
}

// InsertScanResults writes the result set in one transaction.
func (m *GormScanManager) InsertScanResults(ctx context.Context, results *ScanResultSet) error {
	if results == nil {
		return fmt.Errorf("results cannot be nil")
	}
	logger := log.NewLogger(ctx)
	logger.Debug("InsertScanResults", zap.String("package", results.Package.Name))

	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		pkg := results.Package
		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"title", "summary", "description", "icon_url", "publisher",
				"publisher_id", "verified", "star_developer", "store_url", "updated_at",
			}),
		}).Create(&pkg).Error; err != nil {
			return fmt.Errorf("error upserting package: %w", err)
		}
		// The upsert path does not reliably populate the ID on conflict.
		if err := tx.Where("name = ?", pkg.Name).First(&pkg).Error; err != nil {
			return fmt.Errorf("error reading package id: %w", err)
		}

		rev := results.Revision
		rev.PackageID = pkg.ID
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "package_id"}, {Name: "revision"}, {Name: "architecture"}},
			DoUpdates: clause.AssignmentColumns([]string{"version", "base"}),
		}).Create(&rev).Error; err != nil {
			return fmt.Errorf("error upserting revision: %w", err)
		}
		if err := tx.Where("package_id = ? AND revision = ? AND architecture = ?",
			pkg.ID, rev.Revision, rev.Architecture).First(&rev).Error; err != nil {
			return fmt.Errorf("error reading revision id: %w", err)
		}

		sbom := results.SBOM
		sbom.RevisionID = rev.ID
		if err := tx.Create(&sbom).Error; err != nil {
			return fmt.Errorf("error inserting sbom: %w", err)
		}

		scan := results.Scan
		scan.SBOMID = sbom.ID
		if err := tx.Create(&scan).Error; err != nil {
			return fmt.Errorf("error inserting scan: %w", err)
		}

		if len(results.Vulnerabilities) > 0 {
			vulns := make([]model.Vulnerability, len(results.Vulnerabilities))
			copy(vulns, results.Vulnerabilities)
			for i := range vulns {
				vulns[i].ScanID = scan.ID
			}
			if err := tx.Create(&vulns).Error; err != nil {
				return fmt.Errorf("error inserting vulnerabilities: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("transaction failed: %w", err)
	}
	return nil
}

// StalePackages finds packages whose newest scan predates the cutoff and that
// are not already queued. Scan rows are append-only, so staleness is a
// property of the most recent scan per package, not of any scan.
func (m *GormScanManager) StalePackages(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	var names []string
	err := m.db.WithContext(ctx).Model(&model.Package{}).
		Joins("JOIN revisions ON revisions.package_id = packages.id").
		Joins("JOIN sboms ON sboms.revision_id = revisions.id").
		Joins("JOIN scans ON scans.sbom_id = sboms.id").
		Where("NOT EXISTS (SELECT 1 FROM queue_jobs WHERE queue_jobs.snap_name = packages.name AND queue_jobs.status IN ?)",
			[]model.JobStatus{model.JobStatusPending, model.JobStatusProcessing}).
		Group("packages.name").
		Having("MAX(scans.scanned_at) < ?", cutoff).
		Limit(limit).
		Pluck("packages.name", &names).Error
	if err != nil {
		return nil, fmt.Errorf("error finding stale packages: %w", err)
	}
	return names, nil
}

// TrackedPackages lists packages eligible for new-revision checks.
func (m *GormScanManager) TrackedPackages(ctx context.Context, limit int) ([]TrackedPackage, error) {
	var tracked []TrackedPackage
	err := m.db.WithContext(ctx).Model(&model.Package{}).
		Select("packages.name AS name, MAX(revisions.revision) AS latest_revision").
		Joins("JOIN revisions ON revisions.package_id = packages.id").
		Where("NOT EXISTS (SELECT 1 FROM queue_jobs WHERE queue_jobs.snap_name = packages.name AND queue_jobs.status IN ?)",
			[]model.JobStatus{model.JobStatusPending, model.JobStatusProcessing}).
		Group("packages.name").
		Limit(limit).
		Scan(&tracked).Error
	if err != nil {
		return nil, fmt.Errorf("error listing tracked packages: %w", err)
	}
	return tracked, nil
}
