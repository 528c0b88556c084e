package impl

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/tas-context-tailor/models"
	"github.com/tas-context-tailor/services"
)

// codeExtensions maps source-file extensions to a language tag reported
// in structural hints.
var codeExtensions = map[string]string{
	".go":   "go",
	".py":   "python",
	".js":   "javascript",
	".jsx":  "javascript",
	".ts":   "typescript",
	".tsx":  "typescript",
	".java": "java",
	".rb":   "ruby",
	".rs":   "rust",
	".c":    "c",
	".h":    "c",
	".cpp":  "cpp",
	".cs":   "csharp",
	".php":  "php",
	".sh":   "shell",
	".sql":  "sql",
	".yaml": "yaml",
	".yml":  "yaml",
	".json": "json",
	".toml": "toml",
}

// textExtractorImpl implements TextExtractor for markdown, plain text,
// source code, DOCX and PDF uploads.
type textExtractorImpl struct {
	markdown goldmark.Markdown
}

// NewTextExtractor creates the default TextExtractor.
func NewTextExtractor() services.TextExtractor {
	return &textExtractorImpl{
		markdown: goldmark.New(),
	}
}

// Supports reports whether Extract can handle the given file.
func (e *textExtractorImpl) Supports(filename, mimeType string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".md", ".markdown", ".txt", ".text", ".pdf", ".docx":
		return true
	}
	if _, ok := codeExtensions[strings.ToLower(filepath.Ext(filename))]; ok {
		return true
	}
	switch mimeType {
	case "text/plain", "text/markdown", "application/pdf",
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document":
		return true
	}
	return strings.HasPrefix(mimeType, "text/")
}

// Extract pulls plain text and structural hints out of an upload.
func (e *textExtractorImpl) Extract(filename, mimeType string, data []byte) (*services.ExtractResult, error) {
	ext := strings.ToLower(filepath.Ext(filename))

	var result *services.ExtractResult
	var err error
	switch {
	case ext == ".md" || ext == ".markdown" || mimeType == "text/markdown":
		result, err = e.extractMarkdown(data)
	case ext == ".pdf" || mimeType == "application/pdf":
		result, err = extractPDF(data)
	case ext == ".docx" || mimeType == "application/vnd.openxmlformats-officedocument.wordprocessingml.document":
		result, err = extractDOCX(data)
	default:
		if lang, ok := codeExtensions[ext]; ok {
			result, err = e.extractPlain(data)
			if result != nil {
				result.Hints.CodeLanguage = lang
			}
		} else if ext == ".txt" || ext == ".text" || strings.HasPrefix(mimeType, "text/") || mimeType == "" {
			result, err = e.extractPlain(data)
		} else {
			return nil, fmt.Errorf("unsupported file type: %s (%s)", filename, mimeType)
		}
	}
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(result.Text) == "" {
		return nil, services.ErrEmptyExtract
	}
	return result, nil
}

func (e *textExtractorImpl) extractPlain(data []byte) (*services.ExtractResult, error) {
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("file is not valid UTF-8 text")
	}
	return &services.ExtractResult{Text: string(data)}, nil
}

// extractMarkdown keeps the raw markdown as the extracted text and walks
// the parsed AST to report whether the document carries headings. The
// chunker splits on headings when they exist.
func (e *textExtractorImpl) extractMarkdown(data []byte) (*services.ExtractResult, error) {
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("file is not valid UTF-8 text")
	}

	doc := e.markdown.Parser().Parse(text.NewReader(data))
	hasHeadings := false
	ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if _, ok := n.(*ast.Heading); ok {
			hasHeadings = true
			return ast.WalkStop, nil
		}
		return ast.WalkContinue, nil
	})

	return &services.ExtractResult{
		Text:  string(data),
		Hints: models.StructuralHints{HasHeadings: hasHeadings},
	}, nil
}

// docx XML elements we care about inside word/document.xml.
type docxParagraph struct {
	Runs []docxRun `xml:"r"`
}

type docxRun struct {
	Text []string `xml:"t"`
}

// extractDOCX reads paragraphs out of the OOXML main document part.
func extractDOCX(data []byte) (*services.ExtractResult, error) {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open docx archive: %w", err)
	}

	var docFile *zip.File
	for _, f := range reader.File {
		if f.Name == "word/document.xml" {
			docFile = f
			break
		}
	}
	if docFile == nil {
		return nil, fmt.Errorf("docx archive has no document part")
	}

	rc, err := docFile.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to read docx document part: %w", err)
	}
	defer rc.Close()

	var sb strings.Builder
	decoder := xml.NewDecoder(rc)
	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse docx document part: %w", err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "p" {
			continue
		}
		var para docxParagraph
		if err := decoder.DecodeElement(&para, &start); err != nil {
			return nil, fmt.Errorf("failed to decode docx paragraph: %w", err)
		}
		for _, run := range para.Runs {
			for _, t := range run.Text {
				sb.WriteString(t)
			}
		}
		sb.WriteString("\n")
	}

	return &services.ExtractResult{Text: sb.String()}, nil
}
