package reporting

import (
	"fmt"
	"io"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/jsbox/internal/results"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// JSONReporter buffers reports and writes them as one indented JSON array.
type JSONReporter struct {
	writer  io.WriteCloser
	logger  *zap.Logger
	mu      sync.Mutex
	reports []*results.Report
}

func NewJSONReporter(writer io.WriteCloser, logger *zap.Logger) *JSONReporter {
	return &JSONReporter{
		writer:  writer,
		logger:  logger.Named("json_reporter"),
		reports: []*results.Report{},
	}
}

func (r *JSONReporter) Write(report *results.Report) error {
	if report == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, report)
	return nil
}

func (r *JSONReporter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := json.MarshalIndent(r.reports, "", "  ")
	if err == nil {
		data = append(data, '\n')
		_, err = r.writer.Write(data)
	}
	closeErr := r.writer.Close()
	if err != nil {
		return fmt.Errorf("failed to write JSON report: %w", err)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close output writer: %w", closeErr)
	}
	r.logger.Debug("Wrote JSON report.", zap.Int("reports", len(r.reports)))
	return nil
}
