// internal/reporting/reporter.go
package reporting

import (
	"errors"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/xkilldash9x/jsbox/internal/results"
)

// Reporter writes task reports to an output.
type Reporter interface {
	// Write adds a single report.
	Write(report *results.Report) error
	// Close finalizes the output and releases the underlying writer.
	Close() error
}

// nopWriteCloser wraps an io.Writer and provides a no-op Close method.
type nopWriteCloser struct {
	io.Writer
}

func (nwc *nopWriteCloser) Close() error {
	return nil
}

// New creates a reporter for format ("json" or "sarif") writing to
// outputPath. An empty path or "stdout" writes to standard output.
func New(format, outputPath string, logger *zap.Logger, toolVersion string) (Reporter, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	switch format {
	case "json", "sarif":
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}

	var writer io.WriteCloser
	if outputPath == "" || outputPath == "stdout" {
		writer = &nopWriteCloser{os.Stdout}
	} else {
		f, err := os.Create(outputPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create output file %s: %w", outputPath, err)
		}
		writer = f
	}
	return NewWithWriter(format, writer, logger, toolVersion)
}

// NewWithWriter is New for an already opened writer. The reporter takes
// ownership of writer.
func NewWithWriter(format string, writer io.WriteCloser, logger *zap.Logger, toolVersion string) (Reporter, error) {
	switch format {
	case "json":
		return NewJSONReporter(writer, logger), nil
	case "sarif":
		return NewSARIFReporter(writer, logger, toolVersion), nil
	default:
		writer.Close()
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
}
