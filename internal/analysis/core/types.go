package core

import (
	"context"

	"github.com/xkilldash9x/jsbox/api/schemas"
)

// TagExtractor pulls script bodies and attribute URLs out of HTML. The
// parser package provides the implementation.
type TagExtractor interface {
	Extract(html string) (Extraction, error)
}

// Extraction is what a TagExtractor yields for one document.
type Extraction struct {
	InlineScripts   []string
	ExternalScripts []string
	URLs            []string
}

// Reporter defines a standard, thread-safe interface for components that can
// publish the results of an analysis, such as writing them to a database or a file.
type Reporter interface {
	// Write takes a `ResultEnvelope` and persists it.
	Write(ctx context.Context, envelope *schemas.ResultEnvelope) error
}
