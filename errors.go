package lexatlas

import "errors"

var (
	// ErrContractNotFound is returned when a contract id does not exist in the graph.
	ErrContractNotFound = errors.New("lexatlas: contract not found")

	// ErrUnsupportedFormat is returned for document formats with no extractor.
	ErrUnsupportedFormat = errors.New("lexatlas: unsupported document format")

	// ErrExtractionFailed is returned when text extraction fails.
	ErrExtractionFailed = errors.New("lexatlas: text extraction failed")

	// ErrAnalysisFailed is returned when no usable structure can be obtained from
	// the language model at all. Partial or malformed output is recovered by
	// field-level defaulting and does not produce this error.
	ErrAnalysisFailed = errors.New("lexatlas: contract analysis failed")

	// ErrStorageFailed is returned when the graph upsert transaction fails.
	ErrStorageFailed = errors.New("lexatlas: graph storage failed")

	// ErrDimensionMismatch is returned when an embedding does not match the
	// configured dimension. This indicates a contract violation upstream of the
	// store, not a service failure.
	ErrDimensionMismatch = errors.New("lexatlas: embedding dimension mismatch")

	// ErrEmptyInput is returned when a caller passes empty text where non-empty
	// text is mandated.
	ErrEmptyInput = errors.New("lexatlas: empty input")

	// ErrInvalidConfig is returned for invalid configuration values.
	ErrInvalidConfig = errors.New("lexatlas: invalid configuration")

	// ErrRunNotFound is returned when a journal run id does not exist.
	ErrRunNotFound = errors.New("lexatlas: run not found")
)
