package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/jsbox/api/schemas"
	"github.com/xkilldash9x/jsbox/internal/config"
	"github.com/xkilldash9x/jsbox/internal/engine"
	"github.com/xkilldash9x/jsbox/internal/observability"
	"github.com/xkilldash9x/jsbox/internal/reporting"
	"github.com/xkilldash9x/jsbox/internal/results"
	"github.com/xkilldash9x/jsbox/internal/worker"
)

// ErrVerdictThreshold is returned when a report reaches the --fail-on verdict.
var ErrVerdictThreshold = errors.New("verdict threshold reached")

var verdictRank = map[schemas.Verdict]int{
	schemas.VerdictClean:      0,
	schemas.VerdictLow:        1,
	schemas.VerdictSuspicious: 2,
	schemas.VerdictMalicious:  3,
}

type scanOptions struct {
	Targets []string
	Code    string
	Output  string
	Format  string
	FailOn  string
}

func newScanCmd(provider storeProvider) *cobra.Command {
	var opts scanOptions

	scanCmd := &cobra.Command{
		Use:   "scan [targets...]",
		Short: "Analyze JavaScript/HTML files or directories",
		Long: `Each target becomes one analysis task: a file is analysed on its own and a
directory is walked and analysed as one unit. Use --code or "-" to analyse an
inline script read from the flag or stdin.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}

			opts.Targets = nil
			for _, arg := range args {
				if arg == "-" {
					data, err := io.ReadAll(cmd.InOrStdin())
					if err != nil {
						return fmt.Errorf("failed to read stdin: %w", err)
					}
					opts.Code = string(data)
					continue
				}
				opts.Targets = append(opts.Targets, arg)
			}
			if len(opts.Targets) == 0 && opts.Code == "" {
				return errors.New("at least one target or --code is required")
			}

			cfg.SetScanConfig(config.ScanConfig{
				Targets:     opts.Targets,
				Output:      opts.Output,
				Format:      opts.Format,
				Concurrency: cfg.Engine().WorkerConcurrency,
			})
			return runScan(ctx, cfg, observability.GetLogger(), opts, provider)
		},
	}

	scanCmd.Flags().StringVarP(&opts.Output, "output", "o", "", "Output file path for the report. Defaults to stdout.")
	scanCmd.Flags().StringVarP(&opts.Format, "format", "f", "json", "Report format ('json' or 'sarif').")
	scanCmd.Flags().StringVarP(&opts.Code, "code", "e", "", "Analyze this inline script.")
	scanCmd.Flags().StringVar(&opts.FailOn, "fail-on", "", "Exit non-zero when any verdict reaches this level (low, suspicious, malicious).")
	scanCmd.Flags().IntP("concurrency", "j", 0, "Number of concurrent tasks. (Overrides config/env)")
	scanCmd.Flags().Duration("timeout", 0, "Per-block execution timeout. (Overrides config/env)")
	scanCmd.Flags().Bool("cache", false, "Enable the verdict cache. (Overrides config/env)")
	scanCmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address while scanning.")
	return scanCmd
}

// runScan analyses every target and writes one report per task.
func runScan(ctx context.Context, cfg config.Interface, logger *zap.Logger, opts scanOptions, provider storeProvider) error {
	threshold, err := parseFailOn(opts.FailOn)
	if err != nil {
		return err
	}

	// Open the reporter first so a bad --format or --output fails fast.
	reporter, err := reporting.New(opts.Format, opts.Output, logger, Version)
	if err != nil {
		return fmt.Errorf("failed to initialize reporter: %w", err)
	}
	reporterClosed := false
	defer func() {
		if !reporterClosed {
			_ = reporter.Close()
		}
	}()

	scanID := uuid.NewString()
	tasks, err := buildTasks(scanID, opts.Targets, opts.Code)
	if err != nil {
		return err
	}

	comps, err := setupComponents(ctx, cfg, logger, provider)
	if err != nil {
		return err
	}
	defer comps.Shutdown(logger)

	metricsCtx, stopMetrics := context.WithCancel(ctx)
	defer stopMetrics()
	metricsDone := make(chan error, 1)
	if comps.Metrics != nil {
		go func() { metricsDone <- comps.Metrics.Serve(metricsCtx, cfg.Metrics().Address, logger) }()
	} else {
		metricsDone <- nil
	}

	w, err := worker.New(cfg, logger, comps.workerOptions()...)
	if err != nil {
		return fmt.Errorf("failed to create worker: %w", err)
	}
	eng, err := engine.New(cfg, logger, w, comps.engineOptions()...)
	if err != nil {
		return fmt.Errorf("failed to initialize task engine: %w", err)
	}

	logger.Info("Starting scan",
		zap.String("scan_id", scanID),
		zap.Int("tasks", len(tasks)),
		zap.Int("concurrency", cfg.Engine().WorkerConcurrency),
	)
	started := time.Now()
	reports, runErr := eng.Run(ctx, tasks)

	stopMetrics()
	if err := <-metricsDone; err != nil {
		logger.Warn("Metrics server failed", zap.Error(err))
	}

	hit := false
	for _, report := range reports {
		if report == nil {
			continue
		}
		if err := reporter.Write(report); err != nil {
			return fmt.Errorf("failed to write report: %w", err)
		}
		if threshold >= 0 && verdictRank[report.Verdict] >= threshold {
			hit = true
		}
	}
	reporterClosed = true
	if err := reporter.Close(); err != nil {
		return fmt.Errorf("failed to finalize report: %w", err)
	}

	if runErr != nil {
		if errors.Is(runErr, context.Canceled) {
			logger.Warn("Scan aborted", zap.String("scan_id", scanID))
		}
		return runErr
	}
	logger.Info("Scan complete",
		zap.String("scan_id", scanID),
		zap.Duration("duration", time.Since(started)),
		zap.String("verdict", string(worstVerdict(reports))),
	)
	if hit {
		return fmt.Errorf("%w: %s", ErrVerdictThreshold, opts.FailOn)
	}
	return nil
}

// buildTasks turns each target into one task: directories are analysed as a
// unit, anything else as a single file.
func buildTasks(scanID string, targets []string, code string) ([]schemas.Task, error) {
	tasks := make([]schemas.Task, 0, len(targets)+1)
	for _, target := range targets {
		info, err := os.Stat(target)
		if err != nil {
			return nil, fmt.Errorf("invalid target %s: %w", target, err)
		}
		taskType := schemas.TaskAnalyzeFile
		if info.IsDir() {
			taskType = schemas.TaskAnalyzeDirectory
		}
		tasks = append(tasks, schemas.Task{
			TaskID: uuid.NewString(),
			ScanID: scanID,
			Type:   taskType,
			Target: target,
			Paths:  []string{target},
		})
	}
	if code != "" {
		tasks = append(tasks, schemas.Task{
			TaskID:  uuid.NewString(),
			ScanID:  scanID,
			Type:    schemas.TaskAnalyzeScript,
			Target:  "inline",
			Content: code,
		})
	}
	return tasks, nil
}

// parseFailOn returns the verdict rank to fail on, or -1 when unset.
func parseFailOn(level string) (int, error) {
	if level == "" {
		return -1, nil
	}
	for verdict, rank := range verdictRank {
		if strings.EqualFold(string(verdict), level) {
			return rank, nil
		}
	}
	return 0, fmt.Errorf("invalid --fail-on value %q", level)
}

func worstVerdict(reports []*results.Report) schemas.Verdict {
	worst := schemas.VerdictClean
	for _, r := range reports {
		if r != nil && verdictRank[r.Verdict] > verdictRank[worst] {
			worst = r.Verdict
		}
	}
	return worst
}
