package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// XLSXExtractor renders spreadsheet contracts (rate cards, SLA tables,
// schedules attached as workbooks) as pipe-delimited text, one block per
// sheet, so the analyzer sees tabular terms in readable form.
type XLSXExtractor struct{}

func (e *XLSXExtractor) SupportedFormats() []string { return []string{"xlsx", "xls"} }

func (e *XLSXExtractor) Extract(ctx context.Context, path string) (string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return "", fmt.Errorf("opening XLSX: %w", err)
	}
	defer f.Close()

	var blocks []string

	for _, sheet := range f.GetSheetList() {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		rows, err := f.GetRows(sheet)
		if err != nil || len(rows) == 0 {
			continue
		}

		var content strings.Builder
		content.WriteString(sheet + "\n")
		for _, row := range rows {
			content.WriteString("| " + strings.Join(row, " | ") + " |\n")
		}
		blocks = append(blocks, content.String())
	}

	return strings.Join(blocks, "\n"), nil
}
