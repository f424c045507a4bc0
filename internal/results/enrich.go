// internal/results/enrich.go
package results

import (
	"go.uber.org/zap"

	"github.com/xkilldash9x/jsbox/api/schemas"
	"github.com/xkilldash9x/jsbox/internal/results/providers"
)

// Enricher is responsible for enhancing detections with additional context.
type Enricher struct {
	cweProvider providers.CWEProvider
	logger      *zap.Logger
}

// NewEnricher creates a new Enricher instance.
func NewEnricher(cweProvider providers.CWEProvider, logger *zap.Logger) *Enricher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Enricher{
		cweProvider: cweProvider,
		logger:      logger.Named("enricher"),
	}
}

// EnrichDetection enhances a single detection.
func (e *Enricher) EnrichDetection(d *schemas.Detection) {
	e.enrichCWE(d)
}

func (e *Enricher) enrichCWE(d *schemas.Detection) {
	if e.cweProvider == nil {
		return
	}
	if _, set := d.Features["cwe"]; set {
		return
	}
	cweID, ok := e.cweProvider.ForCode(d.Code)
	if !ok {
		return
	}
	entry, err := e.cweProvider.GetCWE(cweID)
	if err != nil {
		e.logger.Debug("Could not retrieve CWE details", zap.String("cwe_id", cweID), zap.Error(err))
		return
	}
	*d = d.WithFeature("cwe", entry.ID).WithFeature("cwe_name", entry.Name)
}
