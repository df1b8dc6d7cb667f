package extract

import (
	"context"
	"fmt"
)

// Extractor pulls plain text out of a specific document format.
type Extractor interface {
	Extract(ctx context.Context, path string) (string, error)
	SupportedFormats() []string
}

// Registry maps file formats to extractors.
type Registry struct {
	extractors map[string]Extractor
}

func NewRegistry() *Registry {
	r := &Registry{extractors: make(map[string]Extractor)}
	// Register built-in extractors
	pdf := &PDFExtractor{}
	xlsx := &XLSXExtractor{}
	text := &TextExtractor{}

	for _, e := range []Extractor{pdf, xlsx, text} {
		for _, f := range e.SupportedFormats() {
			r.extractors[f] = e
		}
	}
	return r
}

func (r *Registry) Get(format string) (Extractor, error) {
	e, ok := r.extractors[format]
	if !ok {
		return nil, fmt.Errorf("no extractor for format: %s", format)
	}
	return e, nil
}

func (r *Registry) Register(format string, e Extractor) {
	r.extractors[format] = e
}

// Formats returns the registered format names.
func (r *Registry) Formats() []string {
	formats := make([]string, 0, len(r.extractors))
	for f := range r.extractors {
		formats = append(formats, f)
	}
	return formats
}
