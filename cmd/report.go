// File: cmd/report.go
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/jsbox/api/schemas"
	"github.com/xkilldash9x/jsbox/internal/config"
	"github.com/xkilldash9x/jsbox/internal/observability"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// newReportCmd creates and configures the `report` command.
func newReportCmd(provider storeProvider) *cobra.Command {
	var scanID string
	var outputPath string

	reportCmd := &cobra.Command{
		Use:   "report",
		Short: "Print the stored detections of a past scan",
		Long: `Loads every detection persisted for a scan ID from the database and prints
them as a result envelope, most severe first.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			return runReport(ctx, observability.GetLogger(), cfg, scanID, outputPath, provider, cmd.OutOrStdout())
		},
	}

	reportCmd.Flags().StringVar(&scanID, "scan-id", "", "The ID of the scan to report on (required)")
	_ = reportCmd.MarkFlagRequired("scan-id")
	reportCmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output file path. If unset, the report is printed to stdout.")
	return reportCmd
}

// runReport contains the testable core of the report command.
func runReport(
	ctx context.Context,
	logger *zap.Logger,
	cfg config.Interface,
	scanID, outputPath string,
	provider storeProvider,
	stdout io.Writer,
) error {
	logger.Info("Starting report generation", zap.String("scan_id", scanID))

	s, cleanup, err := provider.Create(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	if cleanup != nil {
		defer cleanup()
	}

	detections, err := s.GetDetectionsByScanID(ctx, scanID)
	if err != nil {
		logger.Error("Failed to load detections", zap.Error(err), zap.String("scan_id", scanID))
		return fmt.Errorf("failed to load scan results: %w", err)
	}

	maxSeverity := 0
	for _, d := range detections {
		if d.Severity > maxSeverity {
			maxSeverity = d.Severity
		}
	}
	if detections == nil {
		detections = []schemas.Detection{}
	}
	envelope := &schemas.ResultEnvelope{
		ScanID:     scanID,
		Timestamp:  time.Now().UTC(),
		Verdict:    schemas.VerdictFor(maxSeverity),
		Detections: detections,
	}

	data, err := json.MarshalIndent(envelope, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize report to JSON: %w", err)
	}
	data = append(data, '\n')

	if outputPath == "" {
		_, err = stdout.Write(data)
		return err
	}
	if err := os.WriteFile(outputPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write report file: %w", err)
	}
	logger.Info("Report successfully written to file", zap.String("path", outputPath))
	return nil
}
