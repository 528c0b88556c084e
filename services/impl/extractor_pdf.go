package impl

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/tas-context-tailor/models"
	"github.com/tas-context-tailor/services"
)

// extractPDF pulls plain text from a PDF, page by page. A page that
// fails to decode is skipped rather than failing the whole document.
func extractPDF(data []byte) (*services.ExtractResult, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open pdf: %w", err)
	}

	numPages := reader.NumPage()
	var sb strings.Builder
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		sb.WriteString(text)
		sb.WriteString("\n")
	}

	return &services.ExtractResult{
		Text:  sb.String(),
		Hints: models.StructuralHints{PageCount: numPages},
	}, nil
}
