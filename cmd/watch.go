package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/jsbox/internal/collector"
	"github.com/xkilldash9x/jsbox/internal/config"
	"github.com/xkilldash9x/jsbox/internal/engine"
	"github.com/xkilldash9x/jsbox/internal/observability"
	"github.com/xkilldash9x/jsbox/internal/worker"
)

func newWatchCmd(provider storeProvider) *cobra.Command {
	var debounce time.Duration

	watchCmd := &cobra.Command{
		Use:   "watch <directory>",
		Short: "Analyze samples as they land in a directory",
		Long: `Watches a directory tree and analyses every eligible file that is created or
modified. Each report is written next to its sample as <file>.report.json and,
when a database is configured, persisted. Runs until interrupted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			return runWatch(ctx, cfg, observability.GetLogger(), args[0], debounce, provider)
		},
	}

	watchCmd.Flags().DurationVar(&debounce, "debounce", engine.DefaultDebounce, "Quiet period before a changed file is analysed.")
	watchCmd.Flags().IntP("concurrency", "j", 0, "Number of concurrent tasks. (Overrides config/env)")
	watchCmd.Flags().Duration("timeout", 0, "Per-block execution timeout. (Overrides config/env)")
	watchCmd.Flags().Bool("cache", false, "Enable the verdict cache. (Overrides config/env)")
	watchCmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address.")
	return watchCmd
}

// runWatch blocks until ctx is cancelled or the watcher fails.
func runWatch(ctx context.Context, cfg config.Interface, logger *zap.Logger, root string, debounce time.Duration, provider storeProvider) error {
	comps, err := setupComponents(ctx, cfg, logger, provider)
	if err != nil {
		return err
	}
	defer comps.Shutdown(logger)

	w, err := worker.New(cfg, logger, comps.workerOptions()...)
	if err != nil {
		return fmt.Errorf("failed to create worker: %w", err)
	}
	eng, err := engine.New(cfg, logger, w, comps.engineOptions(engine.WithReportHandler(engine.ReportFileWriter(logger)))...)
	if err != nil {
		return fmt.Errorf("failed to initialize task engine: %w", err)
	}
	watcher := engine.NewWatcher(eng, collector.New(cfg.Collector(), logger), logger, debounce)

	g, gctx := errgroup.WithContext(ctx)
	if comps.Metrics != nil {
		g.Go(func() error { return comps.Metrics.Serve(gctx, cfg.Metrics().Address, logger) })
	}
	g.Go(func() error {
		if err := watcher.Watch(gctx, root); err != nil {
			return err
		}
		// Stop the metrics server once the watcher is done.
		return context.Canceled
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		logger.Info("Watch stopped.")
		return nil
	}
	return err
}
