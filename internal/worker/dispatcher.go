package worker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/snapscope/snapscope/internal/data/db"
	"github.com/snapscope/snapscope/internal/data/model"
	"github.com/snapscope/snapscope/internal/log"
	"github.com/snapscope/snapscope/internal/metrics"
)

const (
	seedPriority = 10

	// Processing jobs older than this at startup belong to a crashed run.
	stuckAfter = time.Hour
)

// seedPackages primes an empty database with widely installed snaps.
var seedPackages = []string{
	"firefox", "spotify", "nextcloud", "vlc",
	"discord", "code", "slack", "chromium",
}

// Pipeline runs one full scan for a snap.
type Pipeline interface {
	Run(ctx context.Context, snapName string) error
}

// Dispatcher is the single sequential worker loop: it claims one job at a
// time, runs the pipeline for it, and records the outcome. When the queue is
// idle it runs the freshness monitor, at most once per background interval.
type Dispatcher struct {
	queue              db.QueueManager
	pipeline           Pipeline
	freshness          *FreshnessMonitor
	collector          *metrics.Collector
	pollInterval       time.Duration
	backgroundInterval time.Duration
	seedQueue          bool
}

// NewDispatcher wires a Dispatcher.
func NewDispatcher(queue db.QueueManager, pipeline Pipeline, freshness *FreshnessMonitor,
	collector *metrics.Collector, pollInterval, backgroundInterval time.Duration, seedQueue bool) *Dispatcher {
	return &Dispatcher{
		queue:              queue,
		pipeline:           pipeline,
		freshness:          freshness,
		collector:          collector,
		pollInterval:       pollInterval,
		backgroundInterval: backgroundInterval,
		seedQueue:          seedQueue,
	}
}

// Run executes the dispatcher loop until the context is cancelled. At
// startup it resets jobs stranded in processing by a crashed run and, on an
// empty database, seeds the queue.
func (d *Dispatcher) Run(ctx context.Context) error {
	logger := log.NewLogger(ctx)

	if _, err := d.queue.RequeueStuck(ctx, stuckAfter); err != nil {
		logger.Error("startup requeue sweep failed", zap.Error(err))
	}
	if d.seedQueue {
		if err := d.queue.Seed(ctx, seedPackages, seedPriority); err != nil {
			logger.Error("queue seeding failed", zap.Error(err))
		}
	}

	var lastFreshness time.Time
	for {
		if err := ctx.Err(); err != nil {
			logger.Info("dispatcher stopping")
			return err
		}

		job, err := d.queue.ClaimNext(ctx)
		if err != nil {
			logger.Error("claiming next job failed", zap.Error(err))
			if err := d.wait(ctx); err != nil {
				return err
			}
			continue
		}

		if job == nil {
			if time.Since(lastFreshness) >= d.backgroundInterval {
				d.freshness.Run(ctx)
				lastFreshness = time.Now()
			}
			d.updateQueueGauge(ctx)
			if err := d.wait(ctx); err != nil {
				return err
			}
			continue
		}

		d.process(ctx, job)
		d.updateQueueGauge(ctx)
	}
}

// process runs the pipeline for one claimed job and records the outcome. A
// panic inside the pipeline fails the job instead of killing the loop.
func (d *Dispatcher) process(ctx context.Context, job *model.QueueJob) {
	logger := log.NewLogger(ctx)
	logger.Info("processing job",
		zap.Uint("job", job.ID),
		zap.String("snap", job.SnapName),
		zap.Int("priority", job.Priority))

	runErr := d.runPipeline(ctx, job.SnapName)
	if runErr != nil {
		d.collector.ScansFailed.Inc()
		logger.Error("scan failed", zap.String("snap", job.SnapName), zap.Error(runErr))
		if err := d.queue.Complete(ctx, job.ID, false, runErr.Error()); err != nil {
			logger.Error("recording job failure failed", zap.Uint("job", job.ID), zap.Error(err))
		}
		return
	}

	d.collector.ScansCompleted.Inc()
	if err := d.queue.Complete(ctx, job.ID, true, ""); err != nil {
		logger.Error("recording job completion failed", zap.Uint("job", job.ID), zap.Error(err))
	}
}

func (d *Dispatcher) runPipeline(ctx context.Context, snapName string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scan panicked: %v", r)
		}
	}()
	return d.pipeline.Run(ctx, snapName)
}

func (d *Dispatcher) updateQueueGauge(ctx context.Context) {
	count, err := d.queue.CountPending(ctx)
	if err != nil {
		log.NewLogger(ctx).Warn("counting pending jobs failed", zap.Error(err))
		return
	}
	d.collector.QueuePending.Set(float64(count))
}

// wait sleeps one poll interval, returning early when the context ends.
func (d *Dispatcher) wait(ctx context.Context) error {
	timer := time.NewTimer(d.pollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
