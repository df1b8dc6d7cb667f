package extract

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// TextExtractor handles plain text (.txt) contracts.
type TextExtractor struct{}

func (e *TextExtractor) SupportedFormats() []string { return []string{"txt"} }

func (e *TextExtractor) Extract(ctx context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading text file: %w", err)
	}

	return strings.TrimSpace(string(data)), nil
}
