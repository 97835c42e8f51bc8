package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/snapscope/snapscope/internal/data/db"
	"github.com/snapscope/snapscope/internal/log"
	"github.com/snapscope/snapscope/internal/metrics"
	"github.com/snapscope/snapscope/internal/snapstore"
	"github.com/snapscope/snapscope/pkg/scan"
)

const (
	staleBatchSize = 5
	stalePriority  = 3

	discoveryBatchSize = 10
	discoveryPriority  = 8
)

// Catalog resolves the latest published revision for a snap.
type Catalog interface {
	LatestRevision(ctx context.Context, snapName, architecture string) (*snapstore.RevisionInfo, error)
}

// FreshnessMonitor keeps scan results current: it requeues packages whose
// last scan is older than the rescan interval and enqueues packages the
// store has published a newer revision for.
type FreshnessMonitor struct {
	queue          db.QueueManager
	scans          db.ScanManager
	catalog        Catalog
	collector      *metrics.Collector
	rescanInterval time.Duration
}

// NewFreshnessMonitor wires a FreshnessMonitor.
func NewFreshnessMonitor(queue db.QueueManager, scans db.ScanManager, catalog Catalog,
	collector *metrics.Collector, rescanInterval time.Duration) *FreshnessMonitor {
	return &FreshnessMonitor{
		queue:          queue,
		scans:          scans,
		catalog:        catalog,
		collector:      collector,
		rescanInterval: rescanInterval,
	}
}

// Run performs one freshness pass. Errors are logged, not returned; a failed
// pass costs nothing but a delay until the next one.
func (f *FreshnessMonitor) Run(ctx context.Context) {
	f.checkStale(ctx)
	f.discoverRevisions(ctx)
}

// checkStale enqueues a bounded batch of packages whose newest scan predates
// the rescan interval.
func (f *FreshnessMonitor) checkStale(ctx context.Context) {
	logger := log.NewLogger(ctx)
	cutoff := time.Now().UTC().Add(-f.rescanInterval)
	names, err := f.scans.StalePackages(ctx, cutoff, staleBatchSize)
	if err != nil {
		logger.Error("stale package query failed", zap.Error(err))
		return
	}
	for _, name := range names {
		queued, err := f.queue.Enqueue(ctx, name, stalePriority)
		if err != nil {
			logger.Error("enqueueing stale package failed", zap.String("snap", name), zap.Error(err))
			continue
		}
		if queued {
			f.collector.JobsEnqueued.WithLabelValues("stale").Inc()
			logger.Info("queued stale package for rescan", zap.String("snap", name))
		}
	}
}

// discoverRevisions compares tracked packages against the store and enqueues
// those with a newer published revision. Store lookups are best-effort per
// package.
func (f *FreshnessMonitor) discoverRevisions(ctx context.Context) {
	logger := log.NewLogger(ctx)
	tracked, err := f.scans.TrackedPackages(ctx, discoveryBatchSize)
	if err != nil {
		logger.Error("tracked package query failed", zap.Error(err))
		return
	}
	for _, pkg := range tracked {
		rev, err := f.catalog.LatestRevision(ctx, pkg.Name, scan.DefaultArchitecture)
		if err != nil {
			logger.Warn("revision lookup failed", zap.String("snap", pkg.Name), zap.Error(err))
			continue
		}
		if rev.Revision <= pkg.LatestRevision {
			continue
		}
		queued, err := f.queue.Enqueue(ctx, pkg.Name, discoveryPriority)
		if err != nil {
			logger.Error("enqueueing new revision failed", zap.String("snap", pkg.Name), zap.Error(err))
			continue
		}
		if queued {
			f.collector.JobsEnqueued.WithLabelValues("new-revision").Inc()
			logger.Info("queued new revision",
				zap.String("snap", pkg.Name),
				zap.Int("known", pkg.LatestRevision),
				zap.Int("published", rev.Revision))
		}
	}
}
