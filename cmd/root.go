package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/snapscope/snapscope/internal/api"
	"github.com/snapscope/snapscope/internal/config"
	"github.com/snapscope/snapscope/internal/data/db"
	"github.com/snapscope/snapscope/internal/executor"
	"github.com/snapscope/snapscope/internal/log"
	"github.com/snapscope/snapscope/internal/metrics"
	"github.com/snapscope/snapscope/internal/snapstore"
	"github.com/snapscope/snapscope/internal/sql"
	"github.com/snapscope/snapscope/internal/storage"
	"github.com/snapscope/snapscope/internal/worker"
	"github.com/snapscope/snapscope/pkg/scan"
)

// Execute is the main entry point for the worker.
func Execute(args []string) {
	rootCmd := newRootCmd()
	rootCmd.Version = fmt.Sprintf(`{"version": "%s"}`, Version)
	rootCmd.SetVersionTemplate("{{.Version}}\n")
	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newRootCmd creates the root command for the worker.
func newRootCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "snapscope",
		Short: "SnapScope scans snap store packages for vulnerabilities.",
		Long: "SnapScope is a worker that generates SBOMs for snap store packages with syft, " +
			"matches them against the vulnerability database with grype, and serves the scan queue over HTTP.",
		RunE: runWorker,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			for _, tool := range []string{"syft", "grype"} {
				if _, err := exec.LookPath(tool); err != nil {
					return fmt.Errorf("%s is not installed: %w", tool, err)
				}
			}
			return nil
		},
	}
}

// runWorker wires the dispatcher and the HTTP server and runs both until a
// shutdown signal arrives.
func runWorker(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := log.NewLogger(ctx)
	ctx = log.WithLogger(ctx, logger)

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	gormDB, err := sql.CreateDBConnector(cfg).Connect(ctx)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}

	queue, err := db.NewGormQueueManager(gormDB)
	if err != nil {
		return fmt.Errorf("creating queue manager: %w", err)
	}
	scans, err := db.NewGormScanManager(gormDB)
	if err != nil {
		return fmt.Errorf("creating scan manager: %w", err)
	}

	objects, err := storage.NewMinioStore(cfg)
	if err != nil {
		return fmt.Errorf("creating object store: %w", err)
	}
	if err := objects.EnsureBuckets(ctx, cfg.S3SBOMBucket, cfg.S3VulnBucket); err != nil {
		return fmt.Errorf("preparing buckets: %w", err)
	}

	catalog := snapstore.NewClient(cfg.SnapStoreAPI, nil)
	commandExecutor := executor.NewCommandExecutor()
	generator := scan.NewGenerator(commandExecutor, cfg.SyftTimeout)
	matcher := scan.NewMatcher(commandExecutor, cfg.GrypeTimeout)
	pipeline := scan.NewPipeline(catalog, generator, matcher, objects, scans,
		cfg.S3SBOMBucket, cfg.S3VulnBucket)

	collector := metrics.NewCollector()
	freshness := worker.NewFreshnessMonitor(queue, scans, catalog, collector, cfg.RescanInterval)
	dispatcher := worker.NewDispatcher(queue, pipeline, freshness, collector,
		cfg.PollInterval, cfg.BackgroundInterval, cfg.SeedQueue)

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.NewServer(queue, collector, logger).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("dispatcher starting", zap.String("db", cfg.DBType))
		return dispatcher.Run(groupCtx)
	})
	group.Go(func() error {
		logger.Info("http server starting", zap.String("addr", cfg.ListenAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}
